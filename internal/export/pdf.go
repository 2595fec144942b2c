package export

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"testline/internal/domain"
	"testline/internal/metrics"
)

const (
	ReportTitle     = "Test Execution Report"
	SummaryTitle    = "Execution Summary"
	DetailsTitle    = "Detailed Execution Results"
	NoExecutionsMsg = "No test executions found for the selected filters."

	lineHeight = 6.0
)

// ExecutionsPDF renders the execution report: a summary block built from the
// snapshot followed by one section per record. The footer numbers pages as
// "Page X/Y".
func (x Exporter) ExecutionsPDF(records []domain.ExecutionRecord, summary metrics.Snapshot, dateRange string) ([]byte, error) {
	return x.guard("executions.pdf", len(records), func() ([]byte, error) {
		pdf := fpdf.New("P", "mm", "A4", "")
		tr := pdf.UnicodeTranslatorFromDescriptor("")
		pdf.SetTitle(ReportTitle, true)
		pdf.AliasNbPages("")
		pdf.SetFooterFunc(func() {
			pdf.SetY(-15)
			pdf.SetFont("Helvetica", "I", 8)
			pdf.CellFormat(0, 10, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
		})
		pdf.AddPage()

		pdf.SetFont("Helvetica", "B", 18)
		pdf.CellFormat(0, 12, ReportTitle, "", 1, "C", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		if dateRange != "" {
			pdf.CellFormat(0, lineHeight, tr("Date Range: "+dateRange), "", 1, "C", false, 0, "")
		}
		pdf.CellFormat(0, lineHeight, "Generated: "+x.now().UTC().Format(displayTime), "", 1, "C", false, 0, "")
		pdf.Ln(4)

		heading(pdf, SummaryTitle)
		pdf.SetFont("Helvetica", "", 11)
		for _, line := range summaryLines(summary) {
			pdf.CellFormat(0, lineHeight, tr(line), "", 1, "L", false, 0, "")
		}
		pdf.Ln(4)

		heading(pdf, DetailsTitle)
		if len(records) == 0 {
			pdf.SetFont("Helvetica", "I", 11)
			pdf.MultiCell(0, lineHeight, NoExecutionsMsg, "", "L", false)
		}
		for i, r := range records {
			pdf.SetFont("Helvetica", "B", 12)
			pdf.MultiCell(0, 7, tr(fmt.Sprintf("%d. %s", i+1, r.TestCaseName)), "", "L", false)
			pdf.SetFont("Helvetica", "", 10)
			for _, line := range detailLines(r) {
				pdf.MultiCell(0, 5, tr(line), "", "L", false)
			}
			pdf.Ln(3)
		}

		if err := pdf.Error(); err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := pdf.Output(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
}

func heading(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 9, title, "B", 1, "L", false, 0, "")
	pdf.Ln(2)
}

func summaryLines(s metrics.Snapshot) []string {
	lines := []string{fmt.Sprintf("Total Executions: %d", s.Total)}
	for _, status := range domain.ExecutionStatuses() {
		lines = append(lines, fmt.Sprintf("%s: %d", domain.ExecutionStatusLabel(status), s.StatusCounts[status]))
	}
	return append(lines,
		fmt.Sprintf("Pass Rate: %.2f%%", s.PassRate),
		fmt.Sprintf("Average Duration: %.2f minutes", s.AvgExecutionTime),
		fmt.Sprintf("Total Duration: %.2f minutes", s.TotalExecutionTime),
		fmt.Sprintf("Unique Executors: %d", s.UniqueExecutors),
	)
}

func detailLines(r domain.ExecutionRecord) []string {
	executor := r.ExecutorName()
	if executor == "" {
		executor = notAvailable
	}
	duration := notAvailable
	if r.ExecutionTimeMinutes != nil {
		duration = fmt.Sprintf("%d minutes", *r.ExecutionTimeMinutes)
	}
	lines := []string{
		"Test Run: " + r.TestRunName,
		"Project: " + r.ProjectName,
		"Epic: " + r.EpicName,
		"User Story: " + r.StoryName,
		"Status: " + domain.ExecutionStatusLabel(r.Status),
		"Executor: " + executor,
		"Execution Date: " + formatOptionalTimestamp(r.ExecutionDate),
		"Duration: " + duration,
	}
	if r.Comments != "" {
		lines = append(lines, "Comments: "+r.Comments)
	}
	if r.Notes != "" {
		lines = append(lines, "Notes: "+r.Notes)
	}
	return lines
}
