package domain

import "time"

// ExecutionRecord is a test execution joined with its test case, run,
// hierarchy names and executor. It is the input of reporting and exports.
type ExecutionRecord struct {
	ID                   string  `db:"id" json:"id"`
	TestCaseID           string  `db:"test_case_id" json:"test_case_id"`
	TestCaseName         string  `db:"test_case_name" json:"test_case_name"`
	TestCasePriority     string  `db:"test_case_priority" json:"test_case_priority"`
	TestRunID            string  `db:"test_run_id" json:"test_run_id"`
	TestRunName          string  `db:"test_run_name" json:"test_run_name"`
	StoryID              string  `db:"story_id" json:"story_id"`
	StoryName            string  `db:"story_name" json:"story_name"`
	EpicID               string  `db:"epic_id" json:"epic_id"`
	EpicName             string  `db:"epic_name" json:"epic_name"`
	ProjectID            string  `db:"project_id" json:"project_id"`
	ProjectName          string  `db:"project_name" json:"project_name"`
	ExecutorID           *string `db:"executor_id" json:"executor_id,omitempty"`
	ExecutorUsername     *string `db:"executor_username" json:"executor_username,omitempty"`
	ExecutorFullName     *string `db:"executor_full_name" json:"executor_full_name,omitempty"`
	Status               string  `db:"status" json:"status"`
	ExecutionDate        *string `db:"execution_date" json:"execution_date,omitempty" format:"date-time"`
	Comments             string  `db:"comments" json:"comments,omitempty"`
	ExecutionTimeMinutes *int    `db:"execution_time_minutes" json:"execution_time_minutes,omitempty"`
	Notes                string  `db:"notes" json:"notes,omitempty"`
	CreatedAt            string  `db:"created_at" json:"created_at" format:"date-time"`
	UpdatedAt            string  `db:"updated_at" json:"updated_at" format:"date-time"`
}

// ExecutedAt parses ExecutionDate; ok is false when it is unset or malformed.
func (r ExecutionRecord) ExecutedAt() (time.Time, bool) {
	if r.ExecutionDate == nil || *r.ExecutionDate == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, *r.ExecutionDate)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ExecutorName is the executor's full name, else the username. It is empty
// when nobody executed the test.
func (r ExecutionRecord) ExecutorName() string {
	if r.ExecutorFullName != nil && *r.ExecutorFullName != "" {
		return *r.ExecutorFullName
	}
	if r.ExecutorUsername != nil && *r.ExecutorUsername != "" {
		return *r.ExecutorUsername
	}
	if r.ExecutorID != nil {
		return *r.ExecutorID
	}
	return ""
}
