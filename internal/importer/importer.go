// Package importer turns an Excel workbook into test case records.
//
// Rows pass two validation stages with different failure granularity.
// Parse applies the sheet-level rules: a missing header or any invalid row
// rejects the whole file and nothing is created. Build then normalises each
// accepted row and checks it against the stored-model constraints; a row that
// fails there is reported on its own and its siblings are still created.
package importer

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"testline/internal/domain"
)

const (
	ColName            = "Test Case Name"
	ColDescription     = "Description"
	ColSteps           = "Test Steps"
	ColExpectedResults = "Expected Results"
	ColPriority        = "Priority"
	ColIsAutomated     = "Is Automated"
)

// RequiredHeaders lists the header cells every import sheet must contain.
var RequiredHeaders = []string{ColName, ColDescription, ColSteps, ColExpectedResults, ColPriority, ColIsAutomated}

var (
	ErrMissingHeaders = errors.New("missing headers")
	ErrInvalidRows    = errors.New("invalid rows")
	ErrNoData         = errors.New("no data")
	ErrUnreadable     = errors.New("unreadable workbook")
)

// Error carries the message shown to the user; Kind classifies it.
type Error struct {
	Kind    error
	Message string
	// Missing lists absent headers for ErrMissingHeaders.
	Missing []string
	// Rows lists one line per failure for ErrInvalidRows.
	Rows []string
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Kind }

// Row is one non-empty sheet row keyed by header. Number is the 1-based row
// number in the sheet.
type Row struct {
	Number int
	Fields map[string]string
}

var priorityTokens = map[string]string{
	"low":      domain.PriorityLow,
	"l":        domain.PriorityLow,
	"medium":   domain.PriorityMedium,
	"med":      domain.PriorityMedium,
	"m":        domain.PriorityMedium,
	"high":     domain.PriorityHigh,
	"h":        domain.PriorityHigh,
	"critical": domain.PriorityCritical,
	"crit":     domain.PriorityCritical,
	"c":        domain.PriorityCritical,
}

// NormalizePriority maps shorthand tokens to a priority; anything else is medium.
func NormalizePriority(v string) string {
	if p, ok := priorityTokens[strings.ToLower(strings.TrimSpace(v))]; ok {
		return p
	}
	return domain.PriorityMedium
}

// ParseBool accepts true, 1, yes and y in any case; everything else is false.
func ParseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y":
		return true
	}
	return false
}

var automatedTokens = map[string]bool{"true": true, "false": true, "1": true, "0": true, "yes": true, "no": true}

// ValidateRow applies the sheet-level rules to one row and returns a message
// per failure.
func ValidateRow(fields map[string]string, rowNumber int) []string {
	var errs []string
	required := func(col, label, verb string, min int) {
		v := strings.TrimSpace(fields[col])
		switch {
		case v == "":
			errs = append(errs, fmt.Sprintf("Row %d: %s %s required", rowNumber, label, verb))
		case utf8.RuneCountInString(v) < min:
			errs = append(errs, fmt.Sprintf("Row %d: %s must be at least %d characters long", rowNumber, label, min))
		}
	}
	required(ColName, "Test Case Name", "is", 5)
	required(ColSteps, "Test Steps", "are", 10)
	required(ColExpectedResults, "Expected Results", "are", 10)

	if p := strings.ToLower(strings.TrimSpace(fields[ColPriority])); p != "" && !domain.ValidPriority(p) {
		errs = append(errs, fmt.Sprintf("Row %d: Priority must be one of: %s", rowNumber, strings.Join(domain.Priorities(), ", ")))
	}
	if !automatedTokens[strings.ToLower(strings.TrimSpace(fields[ColIsAutomated]))] {
		errs = append(errs, fmt.Sprintf("Row %d: Is Automated must be True/False, Yes/No, or 1/0", rowNumber))
	}
	return errs
}

// Parse reads the active worksheet, checks headers and validates every row.
// It succeeds only when all non-empty rows are valid.
func Parse(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &Error{Kind: ErrUnreadable, Message: fmt.Sprintf("Error reading Excel file: %v", err)}
	}
	defer f.Close()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if sheet == "" {
		if sheets := f.GetSheetList(); len(sheets) > 0 {
			sheet = sheets[0]
		}
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, &Error{Kind: ErrUnreadable, Message: fmt.Sprintf("Error reading Excel file: %v", err)}
	}
	return parseRows(rows)
}

func parseRows(rows [][]string) ([]Row, error) {
	var header []string
	if len(rows) > 0 {
		header = rows[0]
	}
	columns := map[string]int{}
	for i, cell := range header {
		name := strings.TrimSpace(cell)
		if name == "" {
			continue
		}
		if _, dup := columns[name]; !dup {
			columns[name] = i
		}
	}
	var missing []string
	for _, h := range RequiredHeaders {
		if _, ok := columns[h]; !ok {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		return nil, &Error{
			Kind:    ErrMissingHeaders,
			Message: "Missing required headers: " + strings.Join(missing, ", "),
			Missing: missing,
		}
	}

	var (
		parsed []Row
		errs   []string
	)
	for i := 1; i < len(rows); i++ {
		cells := rows[i]
		if blank(cells) {
			continue
		}
		number := i + 1
		fields := make(map[string]string, len(columns))
		for name, col := range columns {
			if col < len(cells) {
				fields[name] = cells[col]
			} else {
				fields[name] = ""
			}
		}
		if rowErrs := ValidateRow(fields, number); len(rowErrs) > 0 {
			errs = append(errs, rowErrs...)
			continue
		}
		parsed = append(parsed, Row{Number: number, Fields: fields})
	}
	if len(errs) > 0 {
		return nil, &Error{
			Kind:    ErrInvalidRows,
			Message: "Validation errors found:\n" + strings.Join(errs, "\n"),
			Rows:    errs,
		}
	}
	if len(parsed) == 0 {
		return nil, &Error{Kind: ErrNoData, Message: "No valid test case data found in Excel file"}
	}
	return parsed, nil
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Target is where built cases are attached.
type Target struct {
	StoryID string
	OwnerID string
	Now     string
	NewID   func() string
}

// Build normalises parsed rows into draft test cases and runs the stored-model
// checks on each. Failing rows are reported as "Row N: Validation error: ..."
// and skipped; the others are returned for insertion.
func Build(rows []Row, t Target) ([]domain.TestCase, []string) {
	var (
		cases   []domain.TestCase
		rowErrs []string
	)
	for _, row := range rows {
		tc := domain.TestCase{
			UserStoryID:     t.StoryID,
			Name:            strings.TrimSpace(row.Fields[ColName]),
			Description:     strings.TrimSpace(row.Fields[ColDescription]),
			TestSteps:       strings.TrimSpace(row.Fields[ColSteps]),
			ExpectedResults: strings.TrimSpace(row.Fields[ColExpectedResults]),
			Priority:        NormalizePriority(row.Fields[ColPriority]),
			IsAutomated:     ParseBool(row.Fields[ColIsAutomated]),
			Status:          domain.CaseDraft,
			ExecutionStatus: domain.ExecNotExecuted,
			OwnerID:         t.OwnerID,
			CreatedAt:       t.Now,
			UpdatedAt:       t.Now,
		}
		if err := tc.CheckModel(); err != nil {
			rowErrs = append(rowErrs, fmt.Sprintf("Row %d: Validation error: %s", row.Number, err.Error()))
			continue
		}
		if t.NewID != nil {
			tc.ID = t.NewID()
		}
		cases = append(cases, tc)
	}
	return cases, rowErrs
}

// Result is the outcome of one import call.
type Result struct {
	Success      bool     `json:"success"`
	CreatedCount int      `json:"created_count"`
	RowErrors    []string `json:"row_errors"`
	Error        string   `json:"error,omitempty"`
	CreatedIDs   []string `json:"created_ids,omitempty"`
}

// Failed builds an unsuccessful result with no rows created.
func Failed(msg string) Result {
	return Result{Error: msg, RowErrors: []string{}}
}
