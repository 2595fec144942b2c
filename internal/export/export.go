// Package export renders test cases and executions as xlsx and PDF documents.
package export

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultTestCaseMaxWidth  = 50
	DefaultExecutionMaxWidth = 70

	displayTime  = "2006-01-02 15:04:05"
	notAvailable = "N/A"
)

// Exporter builds documents in memory. Every method returns either the full
// document or an error; construction failures, including panics inside the
// document libraries, are logged and never escape as panics.
type Exporter struct {
	Log               *zap.Logger
	TestCaseMaxWidth  int
	ExecutionMaxWidth int
	Now               func() time.Time
}

func (x Exporter) log() *zap.Logger {
	if x.Log != nil {
		return x.Log
	}
	return zap.NewNop()
}

func (x Exporter) now() time.Time {
	if x.Now != nil {
		return x.Now()
	}
	return time.Now()
}

func (x Exporter) testCaseWidth() int {
	if x.TestCaseMaxWidth > 0 {
		return x.TestCaseMaxWidth
	}
	return DefaultTestCaseMaxWidth
}

func (x Exporter) executionWidth() int {
	if x.ExecutionMaxWidth > 0 {
		return x.ExecutionMaxWidth
	}
	return DefaultExecutionMaxWidth
}

// guard runs build and converts a panic into an error, logging any failure
// under the document kind.
func (x Exporter) guard(kind string, count int, build func() ([]byte, error)) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("%s export: %v", kind, r)
		}
		if err != nil {
			x.log().Error("export failed", zap.String("document", kind), zap.Int("records", count), zap.Error(err))
		}
	}()
	data, err = build()
	if err != nil {
		err = fmt.Errorf("%s export: %w", kind, err)
	}
	return data, err
}

// formatTimestamp renders an RFC3339 value as "YYYY-MM-DD HH:MM:SS"; values
// that do not parse are returned unchanged.
func formatTimestamp(v string) string {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return v
	}
	return t.UTC().Format(displayTime)
}

func formatOptionalTimestamp(v *string) string {
	if v == nil || *v == "" {
		return notAvailable
	}
	return formatTimestamp(*v)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
