package domain

type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"full_name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// DisplayName prefers the full name and falls back to the username.
func (u User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status" enum:"active,inactive,completed"`
	OwnerID     string `json:"owner_id"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type Epic struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status" enum:"open,in_progress,closed"`
	OwnerID     string `json:"owner_id"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type UserStory struct {
	ID                 string  `json:"id"`
	EpicID             string  `json:"epic_id"`
	Name               string  `json:"name"`
	Description        string  `json:"description,omitempty"`
	AcceptanceCriteria string  `json:"acceptance_criteria,omitempty"`
	Status             string  `json:"status" enum:"todo,in_progress,testing,done"`
	Priority           string  `json:"priority" enum:"low,medium,high,critical"`
	StoryPoints        *int    `json:"story_points,omitempty"`
	OwnerID            string  `json:"owner_id"`
	AssigneeID         *string `json:"assignee_id,omitempty"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
}

type TestCase struct {
	ID              string  `json:"id"`
	UserStoryID     string  `json:"user_story_id"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	TestSteps       string  `json:"test_steps"`
	ExpectedResults string  `json:"expected_results"`
	Status          string  `json:"status" enum:"draft,ready,blocked"`
	ExecutionStatus string  `json:"execution_status" enum:"not_executed,passed,failed,skipped"`
	Priority        string  `json:"priority" enum:"low,medium,high,critical"`
	IsAutomated     bool    `json:"is_automated"`
	OwnerID         string  `json:"owner_id"`
	AssigneeID      *string `json:"assignee_id,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
	LastExecuted    *string `json:"last_executed,omitempty" format:"date-time"`
}

// TestCaseRow is a test case joined with the names of its ancestors.
type TestCaseRow struct {
	TestCase
	StoryName   string `json:"story_name"`
	EpicID      string `json:"epic_id"`
	EpicName    string `json:"epic_name"`
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
}

type TestSuite struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	OwnerID     string   `json:"owner_id"`
	TestCaseIDs []string `json:"test_case_ids"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

type TestRun struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	Status        string  `json:"status" enum:"not_started,in_progress,completed,cancelled"`
	OwnerID       string  `json:"owner_id"`
	ScheduledDate *string `json:"scheduled_date,omitempty" format:"date-time"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

type TestExecution struct {
	ID                   string  `json:"id"`
	TestCaseID           string  `json:"test_case_id"`
	TestRunID            string  `json:"test_run_id"`
	ExecutorID           *string `json:"executor_id,omitempty"`
	Status               string  `json:"status" enum:"not_executed,in_progress,passed,failed,skipped,blocked"`
	ExecutionDate        *string `json:"execution_date,omitempty" format:"date-time"`
	Comments             string  `json:"comments,omitempty"`
	ExecutionTimeMinutes *int    `json:"execution_time_minutes,omitempty"`
	Notes                string  `json:"notes,omitempty"`
	CreatedAt            string  `json:"created_at" format:"date-time"`
	UpdatedAt            string  `json:"updated_at" format:"date-time"`
}

type TestExecutionStep struct {
	ID              string  `json:"id"`
	ExecutionID     string  `json:"execution_id"`
	StepNumber      int     `json:"step_number"`
	StepDescription string  `json:"step_description"`
	ExpectedResult  string  `json:"expected_result,omitempty"`
	ActualResult    string  `json:"actual_result,omitempty"`
	Status          string  `json:"status" enum:"not_executed,passed,failed,skipped"`
	ExecutionDate   *string `json:"execution_date,omitempty" format:"date-time"`
	Comments        string  `json:"comments,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Child is the minimal shape returned by hierarchy lookups.
type Child struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
