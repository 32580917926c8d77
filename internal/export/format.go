package export

import (
	"strconv"
	"time"
)

const dateLayout = "2006-01-02"

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
