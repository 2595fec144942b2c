package importer

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const templateSheet = "Test Cases"

// SampleRows are the example cases shipped in the import template.
var SampleRows = [][]string{
	{
		"Login with valid credentials",
		"Test successful login with valid username and password",
		"1. Navigate to login page\n2. Enter valid username\n3. Enter valid password\n4. Click login button",
		"User should be successfully logged in and redirected to dashboard",
		"high",
		"False",
	},
	{
		"Login with invalid credentials",
		"Test login failure with invalid credentials",
		"1. Navigate to login page\n2. Enter invalid username\n3. Enter invalid password\n4. Click login button",
		"Error message should be displayed and user should remain on login page",
		"medium",
		"True",
	},
	{
		"Password reset functionality",
		"Test password reset feature",
		"1. Click forgot password link\n2. Enter email address\n3. Click submit\n4. Check email for reset link",
		"Password reset email should be sent with valid reset link",
		"low",
		"False",
	},
}

// Template returns an .xlsx workbook with the required headers and the
// sample rows, ready to be filled in and imported.
func Template() ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", templateSheet); err != nil {
		return nil, err
	}
	header := make([]interface{}, len(RequiredHeaders))
	for i, h := range RequiredHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(templateSheet, "A1", &header); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	last, err := excelize.ColumnNumberToName(len(RequiredHeaders))
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(templateSheet, "A1", last+"1", bold); err != nil {
		return nil, err
	}
	for i, sample := range SampleRows {
		row := make([]interface{}, len(sample))
		for j, v := range sample {
			row[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(templateSheet, cell, &row); err != nil {
			return nil, err
		}
	}
	widths := []float64{32, 50, 50, 50, 12, 14}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(templateSheet, col, col, w); err != nil {
			return nil, err
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write template: %w", err)
	}
	return buf.Bytes(), nil
}
