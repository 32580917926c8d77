package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

// ExcelOptions configures the workbook layout.
type ExcelOptions struct {
	SheetName    string
	FreezeHeader bool
	AutoFilter   bool
	DateFormat   string
	MoneyFormat  string
	ColumnWidth  float64
}

func DefaultExcelOptions() ExcelOptions {
	return ExcelOptions{
		SheetName:    "Transfers",
		FreezeHeader: true,
		AutoFilter:   true,
		DateFormat:   "yyyy-mm-dd",
		MoneyFormat:  "#,##0.00",
		ColumnWidth:  18,
	}
}

// WriteXLSX renders the rows into a single-sheet workbook.
func WriteXLSX(w io.Writer, rows []Row, opts ExcelOptions) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := opts.SheetName
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	dateStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &opts.DateFormat})
	if err != nil {
		return fmt.Errorf("failed to create date style: %w", err)
	}
	moneyStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &opts.MoneyFormat})
	if err != nil {
		return fmt.Errorf("failed to create money style: %w", err)
	}

	for i, col := range Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, col); err != nil {
			return err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(Columns), 1)
	if err := f.SetCellStyle(sheet, "A1", last, header); err != nil {
		return err
	}

	for i, r := range rows {
		row := i + 2
		values := []interface{}{
			r.ID,
			r.AssetRef,
			r.AssetName,
			r.AssetValue.InexactFloat64(),
			r.FromProject,
			r.ToProject,
			string(r.Type),
			string(r.Status),
			string(r.ReturnStatus),
			r.RequestedBy,
			r.TransferDate,
			dateOrBlank(r.ExpectedReturn),
			dateOrBlank(r.CompletionDate),
			r.DaysOverdue,
		}
		start, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheet, start, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", r.ID, err)
		}
		money, _ := excelize.CoordinatesToCellName(4, row)
		if err := f.SetCellStyle(sheet, money, money, moneyStyle); err != nil {
			return fmt.Errorf("failed to style value column: %w", err)
		}
		from, _ := excelize.CoordinatesToCellName(11, row)
		to, _ := excelize.CoordinatesToCellName(13, row)
		if err := f.SetCellStyle(sheet, from, to, dateStyle); err != nil {
			return fmt.Errorf("failed to style date columns: %w", err)
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(len(Columns))
	if opts.ColumnWidth > 0 {
		if err := f.SetColWidth(sheet, "A", lastCol, opts.ColumnWidth); err != nil {
			return fmt.Errorf("failed to size columns: %w", err)
		}
	}
	if opts.FreezeHeader {
		if err := f.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return fmt.Errorf("failed to freeze header: %w", err)
		}
	}
	if opts.AutoFilter && len(rows) > 0 {
		ref := fmt.Sprintf("A1:%s%d", lastCol, len(rows)+1)
		if err := f.AutoFilter(sheet, ref, nil); err != nil {
			return fmt.Errorf("failed to set auto filter: %w", err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func dateOrBlank(t *time.Time) interface{} {
	if t == nil {
		return ""
	}
	return *t
}
