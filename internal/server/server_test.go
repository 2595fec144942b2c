package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"testline/internal/config"
	"testline/internal/db"
	"testline/internal/domain"
	"testline/internal/engine"
	"testline/internal/importer"
	"testline/internal/migrate"
)

var fixedNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default(), nil)
	e.Now = func() time.Time { return fixedNow }
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: "test-secret", AllowLegacyUserHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String() + "/v1",
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func as(user string) map[string]string {
	return map[string]string{LegacyUserHeader: user}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return do(t, client, req)
}

func do(t *testing.T, client *http.Client, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

// mustCreate posts body and decodes the 201 response into out.
func mustCreate(t *testing.T, srv *testServer, path string, body any, user string, out any) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+path, body, as(user))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("POST %s status %d: %s", path, res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
}

type seeded struct {
	Project domain.Project
	Epic    domain.Epic
	Story   domain.UserStory
	Cases   []domain.TestCaseRow
}

func seed(t *testing.T, srv *testServer, user string, cases int) seeded {
	t.Helper()
	var s seeded
	mustCreate(t, srv, "/projects", map[string]any{"name": "Checkout"}, user, &s.Project)
	mustCreate(t, srv, "/epics", map[string]any{"project_id": s.Project.ID, "name": "Payments"}, user, &s.Epic)
	mustCreate(t, srv, "/stories", map[string]any{"epic_id": s.Epic.ID, "name": "Pay by card"}, user, &s.Story)
	for i := 0; i < cases; i++ {
		var tc domain.TestCaseRow
		mustCreate(t, srv, "/test-cases", map[string]any{
			"user_story_id":    s.Story.ID,
			"name":             "Card payment " + string(rune('A'+i)),
			"test_steps":       "Open checkout and pay",
			"expected_results": "Payment is accepted",
			"priority":         domain.Priorities()[i%4],
		}, user, &tc)
		s.Cases = append(s.Cases, tc)
	}
	return s
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestHierarchyOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	s := seed(t, srv, "alice", 2)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/projects/"+s.Project.ID+"/epics", nil, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("children status %d: %s", res.StatusCode, string(data))
	}
	var epics []domain.Child
	if err := json.Unmarshal(data, &epics); err != nil {
		t.Fatalf("decode children: %v", err)
	}
	if len(epics) != 1 || epics[0].ID != s.Epic.ID || epics[0].Name != "Payments" {
		t.Fatalf("unexpected children %+v", epics)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/test-cases?q=payments", nil, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list cases status %d: %s", res.StatusCode, string(data))
	}
	var list paginated[domain.TestCaseRow]
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("decode cases: %v", err)
	}
	if len(list.Items) != 2 {
		t.Fatalf("expected epic-name search to match 2 cases, got %d", len(list.Items))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/test-cases?limit=1", nil, as("alice"))
	if err := json.Unmarshal(data, &list); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("page 1 status %d: %s", res.StatusCode, string(data))
	}
	if len(list.Items) != 1 || list.NextCursor == "" {
		t.Fatalf("expected one item and a cursor, got %+v", list)
	}
	first, next := list.Items[0].ID, list.NextCursor
	list = paginated[domain.TestCaseRow]{}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/test-cases?limit=1&cursor="+url.QueryEscape(next), nil, as("alice"))
	if err := json.Unmarshal(data, &list); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("page 2 status %d: %s", res.StatusCode, string(data))
	}
	if len(list.Items) != 1 || list.Items[0].ID == first || list.NextCursor != "" {
		t.Fatalf("unexpected second page %+v", list)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/projects/"+s.Project.ID, map[string]any{"status": "completed"}, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/projects", map[string]any{"name": "  ab "}, as("alice"))
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "validation_failed" {
		t.Fatalf("expected 422 for short name, got %d: %s", res.StatusCode, string(data))
	}
}

func TestOwnershipOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	s := seed(t, srv, "alice", 1)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/projects/"+s.Project.ID, nil, as("bob"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign project, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/projects/"+s.Project.ID, map[string]any{"name": "Taken"}, as("bob"))
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
		t.Fatalf("expected 403 for foreign update, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/epics", map[string]any{"project_id": s.Project.ID, "name": "Sneaky"}, as("bob"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for child under foreign project, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/projects", nil, as("bob"))
	var list paginated[domain.Project]
	if err := json.Unmarshal(data, &list); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	if len(list.Items) != 0 {
		t.Fatalf("bob should see no projects, got %+v", list.Items)
	}
}

func TestAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("expected 401 without credentials, got %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/projects", nil, map[string]string{"Authorization": "Bearer nonsense"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/auth/dev/login", map[string]any{"user_id": "carol"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("decode token: %v (%s)", err, string(data))
	}
	bearer := map[string]string{"Authorization": "Bearer " + login.Token}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/me", nil, bearer)
	var me WhoAmIResponse
	if err := json.Unmarshal(data, &me); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	if me.UserID != "carol" || me.Source != "jwt" {
		t.Fatalf("unexpected principal %+v", me)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/projects", nil, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev token should authenticate while the engine clock is pinned to %s, got %d: %s", fixedNow, res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/me/api-keys", map[string]any{"name": "ci"}, bearer)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil || key.Key == "" {
		t.Fatalf("decode key: %v (%s)", err, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/me", nil, map[string]string{"X-Api-Key": key.Key})
	if err := json.Unmarshal(data, &me); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("me via key status %d: %s", res.StatusCode, string(data))
	}
	if me.UserID != "carol" || me.Source != "api_key" {
		t.Fatalf("unexpected key principal %+v", me)
	}
}

func TestBulkExecutionOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	s := seed(t, srv, "alice", 3)
	client := srv.Client()
	ids := []string{s.Cases[0].ID, s.Cases[1].ID, "missing"}

	var first, second engine.BulkResult
	for i, out := range []*engine.BulkResult{&first, &second} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/executions/bulk", map[string]any{
			"test_case_ids": ids,
			"status":        "passed",
		}, as("alice"))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("bulk %d status %d: %s", i, res.StatusCode, string(data))
		}
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode bulk: %v", err)
		}
	}
	if first.Created != 2 || first.Updated != 0 || second.Created != 0 || second.Updated != 2 {
		t.Fatalf("expected upsert by (case, run), got %+v then %+v", first, second)
	}
	if first.TestRunID != second.TestRunID || len(first.Unresolved) != 1 {
		t.Fatalf("unexpected bulk results %+v %+v", first, second)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/executions/bulk", map[string]any{
		"test_case_ids": ids,
		"status":        "exploded",
	}, as("alice"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad status, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/reports/metrics", nil, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d: %s", res.StatusCode, string(data))
	}
	var m MetricsResponse
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if !m.Complete || m.Total != 2 || m.StatusCounts[domain.ExecPassed] != 2 || m.PassRate != 100 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestRunFromSuiteAndRecordOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	s := seed(t, srv, "alice", 2)
	client := srv.Client()

	var suite domain.TestSuite
	mustCreate(t, srv, "/suites", map[string]any{
		"name":          "Smoke",
		"test_case_ids": []string{s.Cases[0].ID, s.Cases[1].ID},
	}, "alice", &suite)

	var created RunFromSuiteResponse
	mustCreate(t, srv, "/runs/from-suite", map[string]any{"suite_id": suite.ID, "name": "Nightly"}, "alice", &created)
	if created.Executions != 2 || created.Run.Status != domain.RunNotStarted {
		t.Fatalf("unexpected run from suite %+v", created)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/runs/"+created.TestRunID+"/executions", nil, as("alice"))
	var records []domain.ExecutionRecord
	if err := json.Unmarshal(data, &records); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("run executions status %d: %s", res.StatusCode, string(data))
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(records))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/executions/"+records[0].ID+"/record", map[string]any{
		"status":                 "failed",
		"execution_time_minutes": 4,
		"steps": []map[string]any{
			{"step_number": 1, "step_description": "Open checkout", "status": "passed"},
			{"step_number": 2, "step_description": "Pay", "status": "failed"},
		},
	}, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("record status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/executions/"+records[0].ID, nil, as("alice"))
	var detail engine.ExecutionDetail
	if err := json.Unmarshal(data, &detail); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("detail status %d: %s", res.StatusCode, string(data))
	}
	if detail.StatusLabel != "Failed" || detail.Duration != "4 min" || len(detail.Steps) != 2 {
		t.Fatalf("unexpected detail %+v", detail)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/executions/"+records[0].ID, nil, as("bob"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign execution, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/runs/from-suite", map[string]any{"suite_id": suite.ID}, as("alice"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without a name, got %d: %s", res.StatusCode, string(data))
	}
}

func uploadRequest(t *testing.T, url, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func importWorkbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func TestImportUpload(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	s := seed(t, srv, "alice", 0)
	header := make([]any, 0, len(importer.RequiredHeaders))
	for _, h := range importer.RequiredHeaders {
		header = append(header, h)
	}
	content := importWorkbook(t, [][]any{
		header,
		{"Login works fine", "", "Enter the credentials", "User lands on home", "High", "yes"},
		{"Logout works fine", "", "Click the logout link", "User sees login page", "Low", "no"},
	})

	req := uploadRequest(t, srv.URL+"/stories/"+s.Story.ID+"/import", "cases.xlsx", content)
	req.Header.Set(LegacyUserHeader, "alice")
	res, data := do(t, srv.Client(), req)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("import status %d: %s", res.StatusCode, string(data))
	}
	var result importer.Result
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.Success || result.CreatedCount != 2 {
		t.Fatalf("unexpected import result %+v", result)
	}

	req = uploadRequest(t, srv.URL+"/stories/"+s.Story.ID+"/import", "cases.csv", []byte("a,b"))
	req.Header.Set(LegacyUserHeader, "alice")
	res, data = do(t, srv.Client(), req)
	if err := json.Unmarshal(data, &result); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("csv import status %d: %s", res.StatusCode, string(data))
	}
	if result.Success || result.Error == "" {
		t.Fatalf("expected csv to be rejected, got %+v", result)
	}

	req = uploadRequest(t, srv.URL+"/stories/"+s.Story.ID+"/import", "cases.xlsx", content)
	req.Header.Set(LegacyUserHeader, "bob")
	res, data = do(t, srv.Client(), req)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 importing into a foreign story, got %d: %s", res.StatusCode, string(data))
	}
}

func TestExportDownloads(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	s := seed(t, srv, "alice", 2)
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/executions/bulk", map[string]any{
		"test_case_ids": []string{s.Cases[0].ID, s.Cases[1].ID},
		"status":        "failed",
	}, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bulk status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/exports/executions.pdf?date_from=2024-03-01", nil, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pdf status %d: %s", res.StatusCode, string(data))
	}
	if res.Header.Get("Content-Type") != pdfContentType || !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("unexpected pdf response %q (%d bytes)", res.Header.Get("Content-Type"), len(data))
	}
	if !strings.Contains(res.Header.Get("Content-Disposition"), "test_execution_report.pdf") {
		t.Fatalf("unexpected disposition %q", res.Header.Get("Content-Disposition"))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/exports/test-cases.xlsx?project_id="+s.Project.ID, nil, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("xlsx status %d: %s", res.StatusCode, string(data))
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open exported workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/exports/executions.xlsx?date_from=yesterday", nil, as("alice"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad date, got %d: %s", res.StatusCode, string(data))
	}
}

func TestEventsListed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seed(t, srv, "alice", 1)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/events?limit=2", nil, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var list paginated[EventResponse]
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(list.Items) != 2 || list.NextCursor == "" {
		t.Fatalf("expected a full first page, got %+v", list)
	}
	if list.Items[0].ID <= list.Items[1].ID {
		t.Fatalf("events should be newest first: %+v", list.Items)
	}
	cursor := list.NextCursor
	list = paginated[EventResponse]{}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/events?limit=2&cursor="+cursor, nil, as("alice"))
	if err := json.Unmarshal(data, &list); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2 status %d: %s", res.StatusCode, string(data))
	}
	if len(list.Items) != 2 || list.NextCursor != "" {
		t.Fatalf("expected the remaining 2 events, got %+v", list)
	}
}
