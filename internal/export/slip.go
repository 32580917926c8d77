package export

import (
	"fmt"
	"io"
	"time"

	"constructlink/internal/model"
	"constructlink/internal/workflow"

	"github.com/jung-kurt/gofpdf"
)

// SlipOptions configures the printed transfer slip.
type SlipOptions struct {
	Title      string
	FontFamily string
	FontSize   float64
	Margin     float64
}

func DefaultSlipOptions() SlipOptions {
	return SlipOptions{
		Title:      "Asset Transfer Slip",
		FontFamily: "Arial",
		FontSize:   10,
		Margin:     15,
	}
}

// WriteSlip renders a one-page PDF summarising the transfer and its history.
func WriteSlip(w io.Writer, t *model.Transfer, tl workflow.Timeline, printedAt time.Time, opts SlipOptions) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(opts.Margin, opts.Margin+5, opts.Margin)
	pdf.SetAutoPageBreak(true, opts.Margin)
	pdf.SetTitle(fmt.Sprintf("%s #%d", opts.Title, t.ID), true)
	pdf.AddPage()

	pdf.SetFont(opts.FontFamily, "B", opts.FontSize+6)
	pdf.CellFormat(0, 10, fmt.Sprintf("%s #%d", opts.Title, t.ID), "", 1, "C", false, 0, "")
	pdf.SetFont(opts.FontFamily, "", opts.FontSize-1)
	pdf.SetTextColor(128, 128, 128)
	pdf.CellFormat(0, 6, "Printed "+printedAt.UTC().Format("2006-01-02 15:04 MST"), "", 1, "R", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(4)

	row := Rows([]model.Transfer{*t}, printedAt)[0]
	fields := [][2]string{
		{"Asset", fmt.Sprintf("%s %s", row.AssetRef, row.AssetName)},
		{"From", row.FromProject},
		{"To", row.ToProject},
		{"Type", string(t.TransferType)},
		{"Status", string(t.Status)},
		{"Transfer date", formatDate(&t.TransferDate)},
	}
	if t.Temporary() {
		fields = append(fields,
			[2]string{"Expected return", formatDate(t.ExpectedReturn)},
			[2]string{"Return status", string(t.ReturnStatus)},
		)
		if tl.Overdue {
			fields = append(fields, [2]string{"Overdue", fmt.Sprintf("%d day(s)", tl.DaysOverdue)})
		}
	}
	if t.Reason != "" {
		fields = append(fields, [2]string{"Reason", t.Reason})
	}

	for _, f := range fields {
		pdf.SetFont(opts.FontFamily, "B", opts.FontSize)
		pdf.CellFormat(40, 7, f[0], "", 0, "L", false, 0, "")
		pdf.SetFont(opts.FontFamily, "", opts.FontSize)
		pdf.MultiCell(0, 7, f[1], "", "L", false)
	}

	pdf.Ln(6)
	pdf.SetFont(opts.FontFamily, "B", opts.FontSize+1)
	pdf.SetFillColor(68, 114, 196)
	pdf.SetTextColor(255, 255, 255)
	widths := []float64{40, 55, 40, 45}
	for i, h := range []string{"Step", "By", "When", "Notes"} {
		pdf.CellFormat(widths[i], 8, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont(opts.FontFamily, "", opts.FontSize)
	pdf.SetTextColor(0, 0, 0)
	for i, s := range tl.Steps {
		fill := i%2 == 1
		if fill {
			pdf.SetFillColor(242, 242, 242)
		}
		pdf.CellFormat(widths[0], 7, s.Label, "1", 0, "L", fill, 0, "")
		pdf.CellFormat(widths[1], 7, s.ActorName, "1", 0, "L", fill, 0, "")
		pdf.CellFormat(widths[2], 7, s.At.UTC().Format("2006-01-02 15:04"), "1", 0, "L", fill, 0, "")
		pdf.CellFormat(widths[3], 7, truncate(s.Notes, 28), "1", 1, "L", fill, 0, "")
	}

	pdf.Ln(14)
	pdf.CellFormat(85, 7, "Released by: ____________________", "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 7, "Received by: ____________________", "", 1, "L", false, 0, "")

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render transfer slip: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
