package export

import (
	"encoding/csv"
	"fmt"
	"io"
)

// WriteCSV writes the rows as comma separated values with a header line.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(r.Strings()); err != nil {
			return fmt.Errorf("failed to write csv row %d: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
