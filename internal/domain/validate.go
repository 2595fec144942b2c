package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const MaxNameLength = 200

// ValidationError describes one field constraint failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every failure found on one record.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// Err returns nil when no failures were collected.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

func (v *ValidationErrors) add(field, format string, args ...any) {
	*v = append(*v, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func trimmedLen(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}

func minLength(errs *ValidationErrors, field, label, value string, n int) {
	if trimmedLen(value) < n {
		errs.add(field, "%s must be at least %d characters long", label, n)
	}
}

func maxName(errs *ValidationErrors, value string) {
	if l := utf8.RuneCountInString(value); l > MaxNameLength {
		errs.add("name", "ensure this value has at most %d characters (it has %d)", MaxNameLength, l)
	}
}

func (p Project) Validate() error {
	var errs ValidationErrors
	minLength(&errs, "name", "Project name", p.Name, 3)
	maxName(&errs, p.Name)
	if !ValidProjectStatus(p.Status) {
		errs.add("status", "invalid project status %q", p.Status)
	}
	return errs.Err()
}

func (e Epic) Validate() error {
	var errs ValidationErrors
	minLength(&errs, "name", "Epic name", e.Name, 3)
	maxName(&errs, e.Name)
	if e.ProjectID == "" {
		errs.add("project_id", "project is required")
	}
	if !ValidEpicStatus(e.Status) {
		errs.add("status", "invalid epic status %q", e.Status)
	}
	return errs.Err()
}

func (s UserStory) Validate() error {
	var errs ValidationErrors
	minLength(&errs, "name", "User story name", s.Name, 5)
	maxName(&errs, s.Name)
	if s.EpicID == "" {
		errs.add("epic_id", "epic is required")
	}
	if !ValidStoryStatus(s.Status) {
		errs.add("status", "invalid story status %q", s.Status)
	}
	if !ValidPriority(s.Priority) {
		errs.add("priority", "invalid priority %q", s.Priority)
	}
	if s.StoryPoints != nil && (*s.StoryPoints < 1 || *s.StoryPoints > 100) {
		errs.add("story_points", "Story points must be between 1 and 100")
	}
	return errs.Err()
}

// Validate applies the entry-form rules for a test case on top of CheckModel.
func (t TestCase) Validate() error {
	var errs ValidationErrors
	minLength(&errs, "name", "Test case name", t.Name, 5)
	minLength(&errs, "test_steps", "Test steps", t.TestSteps, 10)
	minLength(&errs, "expected_results", "Expected results", t.ExpectedResults, 10)
	if err := t.CheckModel(); err != nil {
		if ve, ok := err.(ValidationErrors); ok {
			for _, e := range ve {
				if !errs.has(e.Field) {
					errs = append(errs, e)
				}
			}
		}
	}
	return errs.Err()
}

func (v ValidationErrors) has(field string) bool {
	for _, e := range v {
		if e.Field == field {
			return true
		}
	}
	return false
}

// CheckModel enforces storage-level constraints only: required fields,
// name length and enum membership.
func (t TestCase) CheckModel() error {
	var errs ValidationErrors
	if strings.TrimSpace(t.Name) == "" {
		errs.add("name", "this field cannot be blank")
	}
	maxName(&errs, t.Name)
	if strings.TrimSpace(t.TestSteps) == "" {
		errs.add("test_steps", "this field cannot be blank")
	}
	if strings.TrimSpace(t.ExpectedResults) == "" {
		errs.add("expected_results", "this field cannot be blank")
	}
	if t.UserStoryID == "" {
		errs.add("user_story", "this field cannot be null")
	}
	if !ValidTestCaseStatus(t.Status) {
		errs.add("status", "value %q is not a valid choice", t.Status)
	}
	if !ValidCaseExecutionStatus(t.ExecutionStatus) {
		errs.add("execution_status", "value %q is not a valid choice", t.ExecutionStatus)
	}
	if !ValidPriority(t.Priority) {
		errs.add("priority", "value %q is not a valid choice", t.Priority)
	}
	return errs.Err()
}

func (s TestSuite) Validate() error {
	var errs ValidationErrors
	if strings.TrimSpace(s.Name) == "" {
		errs.add("name", "name is required")
	}
	maxName(&errs, s.Name)
	return errs.Err()
}

func (r TestRun) Validate() error {
	var errs ValidationErrors
	if strings.TrimSpace(r.Name) == "" {
		errs.add("name", "name is required")
	}
	maxName(&errs, r.Name)
	if !ValidRunStatus(r.Status) {
		errs.add("status", "invalid run status %q", r.Status)
	}
	return errs.Err()
}

func (e TestExecution) Validate() error {
	var errs ValidationErrors
	if !ValidExecutionStatus(e.Status) {
		errs.add("status", "invalid execution status %q", e.Status)
	}
	if e.ExecutionTimeMinutes != nil && *e.ExecutionTimeMinutes < 0 {
		errs.add("execution_time_minutes", "must be zero or greater")
	}
	return errs.Err()
}

func (s TestExecutionStep) Validate() error {
	var errs ValidationErrors
	if s.StepNumber < 1 {
		errs.add("step_number", "must be a positive integer")
	}
	if strings.TrimSpace(s.StepDescription) == "" {
		errs.add("step_description", "step description is required")
	}
	if !ValidStepStatus(s.Status) {
		errs.add("status", "invalid step status %q", s.Status)
	}
	return errs.Err()
}
