// Package export renders period reports for download.
package export

import (
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"
	"github.com/warp/leave-ledger/timeoff"
)

// Column widths in mm for an A4 landscape page, in timeoff.ReportColumns order.
var columnWidths = []float64{22, 45, 26, 26, 26, 26, 26, 26, 26, 26}

// PDF writes the report as a single table. Rows whose employee had no
// opening snapshot are marked with an asterisk.
func PDF(w io.Writer, rep timeoff.Report) error {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetTitle("Leaves Report "+rep.Label, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "Leaves Report "+rep.Label)
	pdf.Ln(10)
	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s to %s", rep.Start, rep.End))
	pdf.Ln(6)
	if !rep.HasOpening {
		pdf.Cell(0, 6, "No opening balance snapshot was captured for this period; opening balances are shown as 0.")
		pdf.Ln(6)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 6.5)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range timeoff.ReportColumns {
		pdf.CellFormat(columnWidths[i], 8, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 8)
	missing := false
	for _, row := range rep.Rows {
		cells := row.Cells()
		if row.MissingOpening {
			cells[1] += " *"
			missing = true
		}
		for i, c := range cells {
			align := "R"
			if i < 2 {
				align = "L"
			}
			pdf.CellFormat(columnWidths[i], 7, c, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	if missing {
		pdf.Ln(3)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.Cell(0, 5, "* not in the opening balance snapshot")
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}

// Filename is the download name for a report.
func Filename(rep timeoff.Report) string {
	return fmt.Sprintf("leaves-report-%s.pdf", rep.Label)
}
