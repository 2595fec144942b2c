package server

import (
	"encoding/json"

	"testline/internal/domain"
	"testline/internal/engine"
	"testline/internal/metrics"
)

// Request payloads

type CreateProjectRequest struct {
	Name        string `json:"name" minLength:"1"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty" enum:"active,inactive,completed"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"active,inactive,completed"`
}

type CreateEpicRequest struct {
	ProjectID   string `json:"project_id" minLength:"1"`
	Name        string `json:"name" minLength:"1"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty" enum:"open,in_progress,closed"`
}

type UpdateEpicRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"open,in_progress,closed"`
}

type CreateStoryRequest struct {
	EpicID             string  `json:"epic_id" minLength:"1"`
	Name               string  `json:"name" minLength:"1"`
	Description        string  `json:"description,omitempty"`
	AcceptanceCriteria string  `json:"acceptance_criteria,omitempty"`
	Status             string  `json:"status,omitempty" enum:"todo,in_progress,testing,done"`
	Priority           string  `json:"priority,omitempty" enum:"low,medium,high,critical"`
	StoryPoints        *int    `json:"story_points,omitempty"`
	AssigneeID         *string `json:"assignee_id,omitempty"`
}

type UpdateStoryRequest struct {
	Name               *string `json:"name,omitempty"`
	Description        *string `json:"description,omitempty"`
	AcceptanceCriteria *string `json:"acceptance_criteria,omitempty"`
	Status             *string `json:"status,omitempty" enum:"todo,in_progress,testing,done"`
	Priority           *string `json:"priority,omitempty" enum:"low,medium,high,critical"`
	StoryPoints        *int    `json:"story_points,omitempty"`
	ClearStoryPoints   bool    `json:"clear_story_points,omitempty"`
	AssigneeID         *string `json:"assignee_id,omitempty"`
}

type CreateTestCaseRequest struct {
	UserStoryID     string  `json:"user_story_id" minLength:"1"`
	Name            string  `json:"name" minLength:"1"`
	Description     string  `json:"description,omitempty"`
	TestSteps       string  `json:"test_steps"`
	ExpectedResults string  `json:"expected_results"`
	Status          string  `json:"status,omitempty" enum:"draft,ready,blocked"`
	Priority        string  `json:"priority,omitempty" enum:"low,medium,high,critical"`
	IsAutomated     bool    `json:"is_automated,omitempty"`
	AssigneeID      *string `json:"assignee_id,omitempty"`
}

type UpdateTestCaseRequest struct {
	Name            *string `json:"name,omitempty"`
	Description     *string `json:"description,omitempty"`
	TestSteps       *string `json:"test_steps,omitempty"`
	ExpectedResults *string `json:"expected_results,omitempty"`
	Status          *string `json:"status,omitempty" enum:"draft,ready,blocked"`
	ExecutionStatus *string `json:"execution_status,omitempty" enum:"not_executed,passed,failed,skipped"`
	Priority        *string `json:"priority,omitempty" enum:"low,medium,high,critical"`
	IsAutomated     *bool   `json:"is_automated,omitempty"`
	UserStoryID     *string `json:"user_story_id,omitempty"`
	AssigneeID      *string `json:"assignee_id,omitempty"`
}

type MarkTestCaseRequest struct {
	Status string `json:"status"`
}

type SuiteRequest struct {
	Name        string   `json:"name" minLength:"1"`
	Description string   `json:"description,omitempty"`
	TestCaseIDs []string `json:"test_case_ids,omitempty"`
}

type UpdateSuiteRequest struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	TestCaseIDs *[]string `json:"test_case_ids,omitempty"`
}

type CreateRunRequest struct {
	Name          string  `json:"name" minLength:"1"`
	Description   string  `json:"description,omitempty"`
	Status        string  `json:"status,omitempty" enum:"not_started,in_progress,completed,cancelled"`
	ScheduledDate *string `json:"scheduled_date,omitempty" format:"date-time"`
}

type UpdateRunRequest struct {
	Name          *string `json:"name,omitempty"`
	Description   *string `json:"description,omitempty"`
	Status        *string `json:"status,omitempty" enum:"not_started,in_progress,completed,cancelled"`
	ScheduledDate *string `json:"scheduled_date,omitempty"`
}

type RunFromSuiteRequest struct {
	SuiteID     string `json:"suite_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type StepRequest struct {
	StepNumber      int    `json:"step_number"`
	StepDescription string `json:"step_description"`
	ExpectedResult  string `json:"expected_result,omitempty"`
	ActualResult    string `json:"actual_result,omitempty"`
	Status          string `json:"status,omitempty" enum:"not_executed,passed,failed,skipped"`
	Comments        string `json:"comments,omitempty"`
}

type RecordExecutionRequest struct {
	Status               string        `json:"status" enum:"not_executed,in_progress,passed,failed,skipped,blocked"`
	Comments             string        `json:"comments,omitempty"`
	ExecutionTimeMinutes *int          `json:"execution_time_minutes,omitempty" minimum:"0"`
	Notes                string        `json:"notes,omitempty"`
	Steps                []StepRequest `json:"steps,omitempty"`
}

type BulkExecutionRequest struct {
	TestCaseIDs []string `json:"test_case_ids"`
	Status      string   `json:"status"`
	Comments    string   `json:"comments,omitempty"`
	TestRunID   string   `json:"test_run_id,omitempty"`
}

type CreateUserRequest struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username" minLength:"1"`
	FullName string `json:"full_name,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

// Responses

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	FullName string `json:"full_name,omitempty"`
	Source   string `json:"source"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	// Key is only returned when the key is created.
	Key string `json:"key,omitempty"`
}

type RunFromSuiteResponse struct {
	Success    bool           `json:"success"`
	TestRunID  string         `json:"test_run_id"`
	Executions int            `json:"executions"`
	Run        domain.TestRun `json:"run"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// MetricsResponse flattens a metrics result and flags partial data.
type MetricsResponse struct {
	metrics.Snapshot
	Complete     bool     `json:"complete"`
	Stages       []string `json:"stages"`
	PartialCause string   `json:"partial_cause,omitempty"`
}

type paginated[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Conversion helpers

func eventResponse(evt domain.Event) EventResponse {
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    decodeJSONMap(evt.Payload),
	}
}

func metricsResponse(res metrics.Result) MetricsResponse {
	out := MetricsResponse{
		Snapshot: res.Snapshot,
		Complete: res.Complete(),
		Stages:   nonNilSlice(res.Stages),
	}
	if res.Cause != nil {
		out.PartialCause = res.Cause.Error()
	}
	return out
}

func apiKeyResponse(k domain.APIKey, plain string) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, Name: k.Name, CreatedAt: k.CreatedAt, Key: plain}
}

func recordInput(req RecordExecutionRequest) engine.RecordInput {
	in := engine.RecordInput{
		Status:   req.Status,
		Comments: req.Comments,
		Duration: req.ExecutionTimeMinutes,
		Notes:    req.Notes,
	}
	for _, s := range req.Steps {
		in.Steps = append(in.Steps, engine.StepInput(s))
	}
	return in
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
