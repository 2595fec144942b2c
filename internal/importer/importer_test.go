package importer

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"testline/internal/domain"
)

func workbook(t *testing.T, rows ...[]string) *bytes.Reader {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, r := range rows {
		vals := make([]interface{}, len(r))
		for j, v := range r {
			vals[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &vals))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return bytes.NewReader(buf.Bytes())
}

func header() []string {
	return append([]string(nil), RequiredHeaders...)
}

func TestParseValidScenarioRow(t *testing.T) {
	rows, err := Parse(workbook(t, header(),
		[]string{"Valid Test Name", "desc", "Step one two three four", "Expected results here", "High", "True"}))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Number)

	cases, rowErrs := Build(rows, Target{StoryID: "s1", OwnerID: "u1", Now: "2024-01-01T00:00:00Z", NewID: func() string { return "id-1" }})
	assert.Empty(t, rowErrs)
	require.Len(t, cases, 1)
	tc := cases[0]
	assert.Equal(t, domain.PriorityHigh, tc.Priority)
	assert.True(t, tc.IsAutomated)
	assert.Equal(t, domain.CaseDraft, tc.Status)
	assert.Equal(t, domain.ExecNotExecuted, tc.ExecutionStatus)
	assert.Equal(t, "id-1", tc.ID)
	assert.Equal(t, "s1", tc.UserStoryID)
}

func TestParseMissingHeaders(t *testing.T) {
	_, err := Parse(workbook(t,
		[]string{"Test Case Name", "Test Steps", "Priority", "Extra"},
		[]string{"Valid Test Name", "Step one two three four", "high", "x"}))
	require.Error(t, err)
	var ie *Error
	require.True(t, errors.As(err, &ie))
	assert.ErrorIs(t, err, ErrMissingHeaders)
	assert.Equal(t, []string{"Description", "Expected Results", "Is Automated"}, ie.Missing)
	assert.Equal(t, "Missing required headers: Description, Expected Results, Is Automated", err.Error())
}

func TestParseHeaderOrderIrrelevant(t *testing.T) {
	h := []string{"Is Automated", "Priority", "Expected Results", "Test Steps", "Description", "Test Case Name"}
	rows, err := Parse(workbook(t, h, []string{"no", "", "Expected results here", "Step one two three four", "", "Short name ok"}))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Short name ok", rows[0].Fields[ColName])
}

func TestParseRowsAllOrNothing(t *testing.T) {
	_, err := Parse(workbook(t, header(),
		[]string{"Good name", "", "Step one two three four", "Expected results here", "low", "yes"},
		[]string{"Bad", "", "short", "Expected results here", "urgent", "maybe"},
		[]string{},
		[]string{"Another good", "", "Step one two three four", "", "", "0"}))
	require.Error(t, err)
	var ie *Error
	require.True(t, errors.As(err, &ie))
	assert.ErrorIs(t, err, ErrInvalidRows)
	assert.Equal(t, []string{
		"Row 3: Test Case Name must be at least 5 characters long",
		"Row 3: Test Steps must be at least 10 characters long",
		"Row 3: Priority must be one of: low, medium, high, critical",
		"Row 3: Is Automated must be True/False, Yes/No, or 1/0",
		"Row 5: Expected Results are required",
	}, ie.Rows)
	assert.True(t, strings.HasPrefix(err.Error(), "Validation errors found:\nRow 3:"))
}

func TestNameLengthBoundary(t *testing.T) {
	fields := map[string]string{
		ColName:            "abcd",
		ColSteps:           "Step one two three",
		ColExpectedResults: "Expected results",
		ColPriority:        "medium",
		ColIsAutomated:     "False",
	}
	assert.Len(t, ValidateRow(fields, 2), 1)
	fields[ColName] = "abcde"
	assert.Empty(t, ValidateRow(fields, 2))
	fields[ColIsAutomated] = ""
	assert.Len(t, ValidateRow(fields, 2), 1)
}

func TestParseHeadersOnly(t *testing.T) {
	_, err := Parse(workbook(t, header(), []string{"", "  "}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, "No valid test case data found in Excel file", err.Error())
}

func TestParseUnreadable(t *testing.T) {
	_, err := Parse(bytes.NewReader([]byte("this is not a workbook")))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreadable)
	assert.True(t, strings.HasPrefix(err.Error(), "Error reading Excel file: "))
}

func TestNormalisation(t *testing.T) {
	assert.Equal(t, domain.PriorityHigh, NormalizePriority("H"))
	assert.Equal(t, domain.PriorityCritical, NormalizePriority(" crit "))
	assert.Equal(t, domain.PriorityMedium, NormalizePriority("med"))
	assert.Equal(t, domain.PriorityLow, NormalizePriority("l"))
	assert.Equal(t, domain.PriorityMedium, NormalizePriority("xyz"))
	assert.Equal(t, domain.PriorityMedium, NormalizePriority(""))
	assert.True(t, ParseBool("Yes"))
	assert.True(t, ParseBool("y"))
	assert.False(t, ParseBool("0"))
	assert.False(t, ParseBool("nope"))
}

func TestBuildIsolatesModelFailures(t *testing.T) {
	rows := []Row{
		{Number: 2, Fields: map[string]string{ColName: strings.Repeat("n", 201), ColSteps: "Step one two three", ColExpectedResults: "Expected results", ColPriority: "", ColIsAutomated: "0"}},
		{Number: 4, Fields: map[string]string{ColName: "  Trimmed name  ", ColSteps: "Step one two three", ColExpectedResults: "Expected results", ColPriority: "c", ColIsAutomated: "1"}},
	}
	cases, rowErrs := Build(rows, Target{StoryID: "s1", OwnerID: "u1"})
	require.Len(t, cases, 1)
	assert.Equal(t, "Trimmed name", cases[0].Name)
	assert.Equal(t, domain.PriorityCritical, cases[0].Priority)
	require.Len(t, rowErrs, 1)
	assert.Equal(t, "Row 2: Validation error: name: ensure this value has at most 200 characters (it has 201)", rowErrs[0])
}

func TestTemplateRoundTrip(t *testing.T) {
	data, err := Template()
	require.NoError(t, err)
	rows, err := Parse(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rows, len(SampleRows))
	cases, rowErrs := Build(rows, Target{StoryID: "s1", OwnerID: "u1"})
	assert.Empty(t, rowErrs)
	assert.Equal(t, domain.PriorityHigh, cases[0].Priority)
	assert.True(t, cases[1].IsAutomated)
	assert.False(t, cases[2].IsAutomated)
}

func TestCheckUpload(t *testing.T) {
	assert.NoError(t, CheckUpload("cases.XLSX", 1024, Limits{}))
	assert.NoError(t, CheckUpload("legacy.xls", 1024, Limits{}))

	err := CheckUpload("cases.csv", 10, Limits{})
	assert.ErrorIs(t, err, ErrExtension)
	assert.Equal(t, "Only Excel files (.xlsx, .xls) are allowed.", err.Error())

	err = CheckUpload("big.xlsx", DefaultMaxUploadBytes+1, Limits{})
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Equal(t, "File size cannot exceed 10MB.", err.Error())

	assert.ErrorIs(t, CheckUpload("small.xlsx", 2048, Limits{MaxBytes: 1024}), ErrTooLarge)
}
