package export

import (
	"strconv"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"testline/internal/domain"
)

var TestCaseHeaders = []string{
	"Test Case Name", "Description", "Test Steps", "Expected Results",
	"Priority", "Status", "Execution Status", "Is Automated",
	"User Story", "Epic", "Project", "Created Date", "Updated Date",
}

var ExecutionHeaders = []string{
	"Test Run", "Test Case", "Project", "Epic", "User Story", "Status",
	"Executor", "Execution Date", "Duration (minutes)", "Comments", "Notes",
}

const (
	testCaseSheet  = "Test Cases"
	executionSheet = "Test Executions"
)

// TestCasesExcel writes one row per test case in the given order.
func (x Exporter) TestCasesExcel(cases []domain.TestCaseRow) ([]byte, error) {
	return x.guard("testcases.xlsx", len(cases), func() ([]byte, error) {
		rows := make([][]string, 0, len(cases))
		for _, tc := range cases {
			rows = append(rows, []string{
				tc.Name,
				tc.Description,
				tc.TestSteps,
				tc.ExpectedResults,
				domain.PriorityLabel(tc.Priority),
				domain.TestCaseStatusLabel(tc.Status),
				domain.CaseExecutionStatusLabel(tc.ExecutionStatus),
				yesNo(tc.IsAutomated),
				tc.StoryName,
				tc.EpicName,
				tc.ProjectName,
				formatTimestamp(tc.CreatedAt),
				formatTimestamp(tc.UpdatedAt),
			})
		}
		return writeSheet(testCaseSheet, TestCaseHeaders, rows, x.testCaseWidth())
	})
}

// ExecutionsExcel writes one row per execution in the given order.
func (x Exporter) ExecutionsExcel(records []domain.ExecutionRecord) ([]byte, error) {
	return x.guard("executions.xlsx", len(records), func() ([]byte, error) {
		rows := make([][]string, 0, len(records))
		for _, r := range records {
			executor := r.ExecutorName()
			if executor == "" {
				executor = notAvailable
			}
			duration := notAvailable
			if r.ExecutionTimeMinutes != nil {
				duration = strconv.Itoa(*r.ExecutionTimeMinutes)
			}
			rows = append(rows, []string{
				r.TestRunName,
				r.TestCaseName,
				r.ProjectName,
				r.EpicName,
				r.StoryName,
				domain.ExecutionStatusLabel(r.Status),
				executor,
				formatOptionalTimestamp(r.ExecutionDate),
				duration,
				r.Comments,
				r.Notes,
			})
		}
		return writeSheet(executionSheet, ExecutionHeaders, rows, x.executionWidth())
	})
}

func writeSheet(sheet string, headers []string, rows [][]string, maxWidth int) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	widths := make([]int, len(headers))
	put := func(rowNum int, values []string) error {
		vals := make([]interface{}, len(values))
		for i, v := range values {
			vals[i] = v
			if n := utf8.RuneCountInString(v); n > widths[i] {
				widths[i] = n
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return err
		}
		return f.SetSheetRow(sheet, cell, &vals)
	}
	if err := put(1, headers); err != nil {
		return nil, err
	}
	for i, r := range rows {
		if err := put(i+2, r); err != nil {
			return nil, err
		}
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	last, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(sheet, "A1", last+"1", bold); err != nil {
		return nil, err
	}
	for i, w := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(sheet, col, col, float64(min(w+2, maxWidth))); err != nil {
			return nil, err
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
