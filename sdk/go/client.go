package testlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Testline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client for baseURL, which includes the API base path
// (for example http://127.0.0.1:8080/v1).
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	OwnerID     string `json:"owner_id"`
}

type Epic struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
}

type Story struct {
	ID       string `json:"id"`
	EpicID   string `json:"epic_id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

// TestCase represents the API test case model (partial).
type TestCase struct {
	ID              string `json:"id"`
	UserStoryID     string `json:"user_story_id"`
	Name            string `json:"name"`
	TestSteps       string `json:"test_steps"`
	ExpectedResults string `json:"expected_results"`
	Status          string `json:"status"`
	ExecutionStatus string `json:"execution_status"`
	Priority        string `json:"priority"`
	IsAutomated     bool   `json:"is_automated"`
	ProjectID       string `json:"project_id"`
}

type Execution struct {
	ID            string  `json:"id"`
	TestCaseID    string  `json:"test_case_id"`
	TestRunID     string  `json:"test_run_id"`
	ExecutorID    *string `json:"executor_id,omitempty"`
	Status        string  `json:"status"`
	ExecutionDate *string `json:"execution_date,omitempty"`
	Comments      string  `json:"comments,omitempty"`
}

type Step struct {
	StepNumber      int    `json:"step_number"`
	StepDescription string `json:"step_description"`
	ExpectedResult  string `json:"expected_result,omitempty"`
	ActualResult    string `json:"actual_result,omitempty"`
	Status          string `json:"status,omitempty"`
	Comments        string `json:"comments,omitempty"`
}

// Outcome is the body of a record call.
type Outcome struct {
	Status               string `json:"status"`
	Comments             string `json:"comments,omitempty"`
	ExecutionTimeMinutes *int   `json:"execution_time_minutes,omitempty"`
	Notes                string `json:"notes,omitempty"`
	Steps                []Step `json:"steps,omitempty"`
}

type BulkResult struct {
	Success    bool     `json:"success"`
	Message    string   `json:"message"`
	Created    int      `json:"created_count"`
	Updated    int      `json:"updated_count"`
	TestRunID  string   `json:"test_run_id"`
	Unresolved []string `json:"unresolved,omitempty"`
}

type ImportResult struct {
	Success      bool     `json:"success"`
	CreatedCount int      `json:"created_count"`
	RowErrors    []string `json:"row_errors"`
	Error        string   `json:"error,omitempty"`
}

// Metrics is the execution metrics snapshot (partial).
type Metrics struct {
	Total            int            `json:"total"`
	StatusCounts     map[string]int `json:"status_counts"`
	ExecutedCount    int            `json:"executed_count"`
	PassRate         float64        `json:"pass_rate"`
	AvgExecutionTime float64        `json:"avg_execution_time"`
	UniqueExecutors  int            `json:"unique_executors"`
	Complete         bool           `json:"complete"`
	Stages           []string       `json:"stages"`
	PartialCause     string         `json:"partial_cause,omitempty"`
}

// ReportFilter narrows metrics and exports. Dates are YYYY-MM-DD.
type ReportFilter struct {
	DateFrom   string
	DateTo     string
	ProjectID  string
	EpicID     string
	StoryID    string
	Status     string
	ExecutorID string
	RunID      string
}

func (f ReportFilter) query() url.Values {
	q := url.Values{}
	for key, v := range map[string]string{
		"date_from":   f.DateFrom,
		"date_to":     f.DateTo,
		"project_id":  f.ProjectID,
		"epic_id":     f.EpicID,
		"story_id":    f.StoryID,
		"status":      f.Status,
		"executor_id": f.ExecutorID,
		"run_id":      f.RunID,
	} {
		if v != "" {
			q.Set(key, v)
		}
	}
	return q
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

func (c *Client) CreateProject(ctx context.Context, name, description string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", map[string]any{"name": name, "description": description}, &resp)
	return resp, err
}

func (c *Client) CreateEpic(ctx context.Context, projectID, name string) (Epic, error) {
	var resp Epic
	err := c.do(ctx, http.MethodPost, "epics", map[string]any{"project_id": projectID, "name": name}, &resp)
	return resp, err
}

func (c *Client) CreateStory(ctx context.Context, epicID, name string) (Story, error) {
	var resp Story
	err := c.do(ctx, http.MethodPost, "stories", map[string]any{"epic_id": epicID, "name": name}, &resp)
	return resp, err
}

// CreateTestCase creates a test case; only the story, name, steps and
// expected results are required.
func (c *Client) CreateTestCase(ctx context.Context, tc TestCase) (TestCase, error) {
	body := map[string]any{
		"user_story_id":    tc.UserStoryID,
		"name":             tc.Name,
		"test_steps":       tc.TestSteps,
		"expected_results": tc.ExpectedResults,
		"is_automated":     tc.IsAutomated,
	}
	if tc.Priority != "" {
		body["priority"] = tc.Priority
	}
	if tc.Status != "" {
		body["status"] = tc.Status
	}
	var resp TestCase
	err := c.do(ctx, http.MethodPost, "test-cases", body, &resp)
	return resp, err
}

// BulkExecute applies status to every test case. An empty runID lets the
// server pick the caller's bulk run for the current minute.
func (c *Client) BulkExecute(ctx context.Context, status, comments, runID string, testCaseIDs ...string) (BulkResult, error) {
	body := map[string]any{
		"test_case_ids": testCaseIDs,
		"status":        status,
	}
	if comments != "" {
		body["comments"] = comments
	}
	if runID != "" {
		body["test_run_id"] = runID
	}
	var resp BulkResult
	err := c.do(ctx, http.MethodPost, "executions/bulk", body, &resp)
	return resp, err
}

// RecordExecution stores an outcome on an execution.
func (c *Client) RecordExecution(ctx context.Context, executionID string, out Outcome) (Execution, error) {
	var resp Execution
	endpoint := fmt.Sprintf("executions/%s/record", url.PathEscape(executionID))
	err := c.do(ctx, http.MethodPost, endpoint, out, &resp)
	return resp, err
}

func (c *Client) Metrics(ctx context.Context, f ReportFilter) (Metrics, error) {
	var resp Metrics
	err := c.do(ctx, http.MethodGet, withQuery("reports/metrics", f.query()), nil, &resp)
	return resp, err
}

// ExportPDF downloads the execution report.
func (c *Client) ExportPDF(ctx context.Context, f ReportFilter) ([]byte, error) {
	return c.download(ctx, withQuery("exports/executions.pdf", f.query()))
}

// ImportTestCases uploads an Excel workbook into a user story.
func (c *Client) ImportTestCases(ctx context.Context, storyID, filename string, r io.Reader) (ImportResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return ImportResult{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return ImportResult{}, err
	}
	if err := mw.Close(); err != nil {
		return ImportResult{}, err
	}
	endpoint := fmt.Sprintf("stories/%s/import", url.PathEscape(storyID))
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return ImportResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var resp ImportResult
	err = c.send(req, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := c.newRequest(ctx, method, endpoint, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, out)
}

func (c *Client) download(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return b, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c.HTTPClient
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
