package engine_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"testline/internal/config"
	"testline/internal/db"
	"testline/internal/domain"
	"testline/internal/engine"
	"testline/internal/engine/auth"
	"testline/internal/importer"
	"testline/internal/migrate"
	"testline/internal/repo"
)

var fixedNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Alice  domain.Scope
	Bob    domain.Scope
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default(), nil)
	eng.Now = func() time.Time { return fixedNow }
	return testEnv{Engine: eng, Ctx: context.Background(), Alice: domain.ScopeFor("alice"), Bob: domain.ScopeFor("bob")}
}

type tree struct {
	Project domain.Project
	Epic    domain.Epic
	Story   domain.UserStory
}

func (env testEnv) seedTree(t *testing.T, scope domain.Scope, name string) tree {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, scope, domain.Project{Name: name})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	ep, err := env.Engine.CreateEpic(env.Ctx, scope, domain.Epic{ProjectID: p.ID, Name: name + " epic"})
	if err != nil {
		t.Fatalf("create epic: %v", err)
	}
	st, err := env.Engine.CreateStory(env.Ctx, scope, domain.UserStory{EpicID: ep.ID, Name: name + " story"})
	if err != nil {
		t.Fatalf("create story: %v", err)
	}
	return tree{Project: p, Epic: ep, Story: st}
}

func (env testEnv) seedCases(t *testing.T, scope domain.Scope, storyID string, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		tc, err := env.Engine.CreateTestCase(env.Ctx, scope, domain.TestCase{
			UserStoryID:     storyID,
			Name:            fmt.Sprintf("Login case %d", i+1),
			TestSteps:       "Open the page and submit",
			ExpectedResults: "The dashboard is shown",
			Priority:        domain.Priorities()[i%4],
		})
		if err != nil {
			t.Fatalf("create test case %d: %v", i, err)
		}
		ids = append(ids, tc.ID)
	}
	return ids
}

func TestHierarchyChildrenAndOwnership(t *testing.T) {
	env := newTestEnv(t)
	tr := env.seedTree(t, env.Alice, "Checkout")

	epics, err := env.Engine.ChildrenOf(env.Ctx, env.Alice, repo.KindProject, tr.Project.ID)
	if err != nil {
		t.Fatalf("children of project: %v", err)
	}
	if len(epics) != 1 || epics[0].ID != tr.Epic.ID {
		t.Fatalf("unexpected epics: %+v", epics)
	}
	stories, err := env.Engine.ChildrenOf(env.Ctx, env.Alice, repo.KindEpic, tr.Epic.ID)
	if err != nil || len(stories) != 1 || stories[0].ID != tr.Story.ID {
		t.Fatalf("unexpected stories: %+v %v", stories, err)
	}
	if _, err := env.Engine.ChildrenOf(env.Ctx, env.Alice, repo.KindStory, tr.Story.ID); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected invalid input for story children, got %v", err)
	}

	_, err = env.Engine.CreateEpic(env.Ctx, env.Bob, domain.Epic{ProjectID: tr.Project.ID, Name: "Intruder"})
	if !auth.IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := env.Engine.GetProject(env.Ctx, env.Bob, tr.Project.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for foreign project, got %v", err)
	}
	projects, err := env.Engine.ListProjects(env.Ctx, env.Bob, repo.ProjectFilter{})
	if err != nil || len(projects) != 0 {
		t.Fatalf("bob should see no projects: %+v %v", projects, err)
	}
	if _, err := env.Engine.ListProjects(env.Ctx, domain.Scope{}, repo.ProjectFilter{}); !errors.Is(err, domain.ErrNoScope) {
		t.Fatalf("expected ErrNoScope, got %v", err)
	}
}

func TestValidationRules(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateProject(env.Ctx, env.Alice, domain.Project{Name: " ab "}); err == nil {
		t.Fatalf("expected short project name to fail")
	}
	tr := env.seedTree(t, env.Alice, "Payments")
	points := 101
	_, err := env.Engine.CreateStory(env.Ctx, env.Alice, domain.UserStory{EpicID: tr.Epic.ID, Name: "Refund flow", StoryPoints: &points})
	var verrs domain.ValidationErrors
	if !errors.As(err, &verrs) || verrs[0].Field != "story_points" {
		t.Fatalf("expected story points error, got %v", err)
	}
	_, err = env.Engine.CreateTestCase(env.Ctx, env.Alice, domain.TestCase{
		UserStoryID: tr.Story.ID, Name: "Tiny", TestSteps: "short", ExpectedResults: "short",
	})
	if !errors.As(err, &verrs) || len(verrs) != 3 {
		t.Fatalf("expected three field errors, got %v", err)
	}
}

func TestMarkTestCase(t *testing.T) {
	env := newTestEnv(t)
	tr := env.seedTree(t, env.Alice, "Search")
	id := env.seedCases(t, env.Alice, tr.Story.ID, 1)[0]

	row, err := env.Engine.MarkTestCase(env.Ctx, env.Alice, id, domain.ExecFailed)
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if row.ExecutionStatus != domain.ExecFailed || row.LastExecuted == nil {
		t.Fatalf("unexpected row after mark: %+v", row.TestCase)
	}
	if _, err := env.Engine.MarkTestCase(env.Ctx, env.Alice, id, domain.ExecBlocked); err == nil {
		t.Fatalf("blocked is not a quick mark status")
	}
	if _, err := env.Engine.MarkTestCase(env.Ctx, env.Bob, id, domain.ExecPassed); !auth.IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestBulkExecuteUpsertsByCaseAndRun(t *testing.T) {
	env := newTestEnv(t)
	tr := env.seedTree(t, env.Alice, "Orders")
	ids := env.seedCases(t, env.Alice, tr.Story.ID, 2)

	req := engine.BulkRequest{TestCaseIDs: ids, Status: domain.ExecFailed, Comments: "flaky backend"}
	first, err := env.Engine.BulkExecute(env.Ctx, env.Alice, req)
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if !first.Success || first.Created != 2 || first.Updated != 0 {
		t.Fatalf("unexpected first result: %+v", first)
	}
	run, err := env.Engine.GetRun(env.Ctx, env.Alice, first.TestRunID)
	if err != nil {
		t.Fatalf("get bulk run: %v", err)
	}
	if run.Name != "Bulk Execution - 2024-03-15 10:30" || run.Status != domain.RunInProgress {
		t.Fatalf("unexpected bulk run: %+v", run)
	}

	second, err := env.Engine.BulkExecute(env.Ctx, env.Alice, req)
	if err != nil {
		t.Fatalf("bulk again: %v", err)
	}
	if second.Created != 0 || second.Updated != 2 || second.TestRunID != first.TestRunID {
		t.Fatalf("unexpected second result: %+v", second)
	}
	records, err := env.Engine.RunExecutions(env.Ctx, env.Alice, first.TestRunID)
	if err != nil {
		t.Fatalf("run executions: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(records))
	}
	for _, r := range records {
		if r.Status != domain.ExecFailed || r.Comments != "flaky backend" || r.ExecutionDate == nil {
			t.Fatalf("unexpected record: %+v", r)
		}
	}
}

func TestBulkExecuteRejectsAndSkips(t *testing.T) {
	env := newTestEnv(t)
	tr := env.seedTree(t, env.Alice, "Profile")
	ids := env.seedCases(t, env.Alice, tr.Story.ID, 1)

	if _, err := env.Engine.BulkExecute(env.Ctx, env.Alice, engine.BulkRequest{TestCaseIDs: ids, Status: "done"}); err == nil {
		t.Fatalf("expected invalid status error")
	}
	res, err := env.Engine.BulkExecute(env.Ctx, env.Alice, engine.BulkRequest{TestCaseIDs: append(ids, "missing"), Status: domain.ExecPassed})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if res.Created != 1 || len(res.Unresolved) != 1 || res.Unresolved[0] != "missing" {
		t.Fatalf("unexpected result: %+v", res)
	}
	other, err := env.Engine.BulkExecute(env.Ctx, env.Bob, engine.BulkRequest{TestCaseIDs: ids, Status: domain.ExecPassed})
	if err != nil {
		t.Fatalf("bulk as bob: %v", err)
	}
	if other.Created != 0 || len(other.Unresolved) != 1 {
		t.Fatalf("bob must not touch alice's cases: %+v", other)
	}
}

func (env testEnv) exec(t *testing.T, stmt string) {
	t.Helper()
	if _, err := env.Engine.DB.ExecContext(env.Ctx, stmt); err != nil {
		t.Fatalf("exec %q: %v", stmt, err)
	}
}

func (env testEnv) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	if err := env.Engine.DB.QueryRowContext(env.Ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestBulkExecuteRollsBackOnFailure(t *testing.T) {
	env := newTestEnv(t)
	tr := env.seedTree(t, env.Alice, "Billing")
	ids := env.seedCases(t, env.Alice, tr.Story.ID, 3)
	baseline := env.count(t, "events")
	env.exec(t, `CREATE TRIGGER fail_third_execution BEFORE INSERT ON test_executions
		WHEN (SELECT COUNT(*) FROM test_executions) >= 2
		BEGIN SELECT RAISE(ABORT, 'disk full'); END`)

	res, err := env.Engine.BulkExecute(env.Ctx, env.Alice, engine.BulkRequest{TestCaseIDs: ids, Status: domain.ExecPassed})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected insert failure, got %v", err)
	}
	if res.Success || res.Created != 0 || res.Updated != 0 || res.TestRunID != "" {
		t.Fatalf("failed bulk must not report progress: %+v", res)
	}
	if n := env.count(t, "test_executions"); n != 0 {
		t.Fatalf("expected no executions after rollback, got %d", n)
	}
	if n := env.count(t, "test_runs"); n != 0 {
		t.Fatalf("expected the bulk run to be rolled back, got %d runs", n)
	}
	if n := env.count(t, "events"); n != baseline {
		t.Fatalf("expected no new events after rollback, got %d want %d", n, baseline)
	}

	env.exec(t, `DROP TRIGGER fail_third_execution`)
	res, err = env.Engine.BulkExecute(env.Ctx, env.Alice, engine.BulkRequest{TestCaseIDs: ids, Status: domain.ExecPassed})
	if err != nil || res.Created != 3 {
		t.Fatalf("expected a clean retry to create 3 executions: %+v %v", res, err)
	}
}

func TestRunFromSuiteAndRecording(t *testing.T) {
	env := newTestEnv(t)
	tr := env.seedTree(t, env.Alice, "Billing")
	ids := env.seedCases(t, env.Alice, tr.Story.ID, 3)

	if _, _, err := env.Engine.CreateRunFromSuite(env.Ctx, env.Alice, "", "Sprint 1", ""); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected missing fields error, got %v", err)
	}
	suite, err := env.Engine.CreateSuite(env.Ctx, env.Alice, domain.TestSuite{Name: "Smoke", TestCaseIDs: ids})
	if err != nil {
		t.Fatalf("create suite: %v", err)
	}
	if _, _, err := env.Engine.CreateRunFromSuite(env.Ctx, env.Bob, suite.ID, "Stolen", ""); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected suite not found for bob, got %v", err)
	}
	run, n, err := env.Engine.CreateRunFromSuite(env.Ctx, env.Alice, suite.ID, "Sprint 1", "smoke pass")
	if err != nil {
		t.Fatalf("run from suite: %v", err)
	}
	if n != 3 || run.Status != domain.RunNotStarted {
		t.Fatalf("unexpected run: %+v (%d)", run, n)
	}
	records, err := env.Engine.RunExecutions(env.Ctx, env.Alice, run.ID)
	if err != nil || len(records) != 3 {
		t.Fatalf("run executions: %d %v", len(records), err)
	}
	for _, r := range records {
		if r.Status != domain.ExecNotExecuted || r.ExecutorID == nil || *r.ExecutorID != "alice" {
			t.Fatalf("unexpected seeded execution: %+v", r)
		}
	}

	minutes := 12
	x, err := env.Engine.RecordExecution(env.Ctx, env.Alice, records[0].ID, engine.RecordInput{
		Status:   domain.ExecPassed,
		Comments: "ok",
		Duration: &minutes,
		Steps: []engine.StepInput{
			{StepNumber: 1, StepDescription: "Open page", Status: domain.ExecPassed},
			{StepNumber: 2, StepDescription: "Submit form", Status: domain.ExecPassed, ActualResult: "done"},
		},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if x.ExecutionDate == nil || *x.ExecutionDate != fixedNow.Format(time.RFC3339) {
		t.Fatalf("execution date not stamped: %+v", x)
	}
	detail, err := env.Engine.ExecutionDetail(env.Ctx, env.Alice, x.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.StatusLabel != "Passed" || detail.Duration != "12 min" || len(detail.Steps) != 2 {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	if detail.ExecutedOn != "2024-03-15 10:30" {
		t.Fatalf("unexpected executed on %q", detail.ExecutedOn)
	}
	if _, err := env.Engine.ExecutionDetail(env.Ctx, env.Bob, x.ID); !auth.IsForbidden(err) {
		t.Fatalf("expected forbidden detail for bob, got %v", err)
	}

	summary, err := env.Engine.RunSummary(env.Ctx, env.Alice, run.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !summary.Complete() || summary.Total != 3 || summary.PassRate != 100 {
		t.Fatalf("unexpected summary: %+v", summary.Snapshot)
	}
}

func TestExecutionMetricsScenario(t *testing.T) {
	env := newTestEnv(t)
	tr := env.seedTree(t, env.Alice, "Metrics")
	ids := env.seedCases(t, env.Alice, tr.Story.ID, 10)
	groups := []struct {
		status string
		ids    []string
	}{
		{domain.ExecPassed, ids[0:6]},
		{domain.ExecFailed, ids[6:8]},
		{domain.ExecSkipped, ids[8:9]},
		{domain.ExecNotExecuted, ids[9:10]},
	}
	for _, g := range groups {
		if _, err := env.Engine.BulkExecute(env.Ctx, env.Alice, engine.BulkRequest{TestCaseIDs: g.ids, Status: g.status}); err != nil {
			t.Fatalf("bulk %s: %v", g.status, err)
		}
	}
	res, err := env.Engine.ExecutionMetrics(env.Ctx, env.Alice, repo.ExecutionFilter{})
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if !res.Complete() {
		t.Fatalf("expected complete metrics: %v", res.Cause)
	}
	if res.Total != 10 || res.ExecutedCount != 9 {
		t.Fatalf("unexpected totals: %+v", res.Snapshot)
	}
	if res.PassRate < 66.6 || res.PassRate > 66.7 {
		t.Fatalf("unexpected pass rate %v", res.PassRate)
	}
	if len(res.Trends) != 30 {
		t.Fatalf("expected 30 trend points, got %d", len(res.Trends))
	}

	dash, err := env.Engine.Dashboard(env.Ctx, env.Alice)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if dash.Projects != 1 || dash.TestCases != 10 || dash.TotalExecutions != 10 || dash.PassedExecutions != 6 {
		t.Fatalf("unexpected dashboard: %+v", dash)
	}
	if len(dash.Recent) != 5 || dash.RecentCount != 10 {
		t.Fatalf("unexpected recent executions: %d/%d", len(dash.Recent), dash.RecentCount)
	}

	page, err := env.Engine.ExecutionReport(env.Ctx, env.Alice, repo.ExecutionFilter{Status: domain.ExecPassed}, 1)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if page.Total != 6 || page.Pages != 1 || page.DateRange != "All Time" {
		t.Fatalf("unexpected report page: %+v", page)
	}
}

func TestReportRejectsEpicOutsideProject(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedTree(t, env.Alice, "First")
	b := env.seedTree(t, env.Alice, "Second")
	_, err := env.Engine.ExecutionReport(env.Ctx, env.Alice, repo.ExecutionFilter{ProjectID: a.Project.ID, EpicID: b.Epic.ID}, 1)
	var verrs domain.ValidationErrors
	if !errors.As(err, &verrs) || verrs[0].Field != "epic" {
		t.Fatalf("expected epic validation error, got %v", err)
	}
}

func workbook(t *testing.T, rows [][]any) []byte {
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

func headerRow() []any {
	row := make([]any, 0, len(importer.RequiredHeaders))
	for _, h := range importer.RequiredHeaders {
		row = append(row, h)
	}
	return row
}

func TestImportTestCases(t *testing.T) {
	env := newTestEnv(t)
	tr := env.seedTree(t, env.Alice, "Import")
	data := workbook(t, [][]any{
		headerRow(),
		{"Valid Test Name", "desc", "Step one two three four", "Expected results here", "High", "True"},
	})

	res, err := env.Engine.ImportTestCases(env.Ctx, env.Alice, tr.Story.ID, "cases.xlsx", int64(len(data)), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !res.Success || res.CreatedCount != 1 {
		t.Fatalf("unexpected import result: %+v", res)
	}
	row, err := env.Engine.GetTestCase(env.Ctx, env.Alice, res.CreatedIDs[0])
	if err != nil {
		t.Fatalf("get imported case: %v", err)
	}
	if row.Priority != domain.PriorityHigh || !row.IsAutomated || row.Status != domain.CaseDraft {
		t.Fatalf("unexpected imported case: %+v", row.TestCase)
	}

	bad := workbook(t, [][]any{{"Test Case Name", "Description"}, {"Valid Test Name", "desc"}})
	res, err = env.Engine.ImportTestCases(env.Ctx, env.Alice, tr.Story.ID, "bad.xlsx", int64(len(bad)), bytes.NewReader(bad))
	if err != nil {
		t.Fatalf("import bad: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "Missing required headers") {
		t.Fatalf("expected header failure, got %+v", res)
	}
	cases, err := env.Engine.ListTestCases(env.Ctx, env.Alice, repo.TestCaseFilter{StoryID: tr.Story.ID})
	if err != nil || len(cases) != 1 {
		t.Fatalf("expected only the first import to create rows: %d %v", len(cases), err)
	}

	res, _ = env.Engine.ImportTestCases(env.Ctx, env.Alice, tr.Story.ID, "cases.csv", 10, bytes.NewReader(nil))
	if res.Success || !strings.Contains(res.Error, "Only Excel files") {
		t.Fatalf("expected extension failure, got %+v", res)
	}
	if _, err := env.Engine.ImportTestCases(env.Ctx, env.Bob, tr.Story.ID, "cases.xlsx", int64(len(data)), bytes.NewReader(data)); !auth.IsForbidden(err) {
		t.Fatalf("expected forbidden import, got %v", err)
	}
}

func TestImportRollsBackOnInsertFailure(t *testing.T) {
	env := newTestEnv(t)
	tr := env.seedTree(t, env.Alice, "Rollback")
	env.seedCases(t, env.Alice, tr.Story.ID, 1)
	before := env.count(t, "test_cases")
	env.exec(t, fmt.Sprintf(`CREATE TRIGGER fail_second_case BEFORE INSERT ON test_cases
		WHEN (SELECT COUNT(*) FROM test_cases) >= %d
		BEGIN SELECT RAISE(ABORT, 'constraint hit'); END`, before+1))

	data := workbook(t, [][]any{
		headerRow(),
		{"First imported case", "", "Step one two three four", "Expected results here", "Low", "no"},
		{"Second imported case", "", "Step one two three four", "Expected results here", "Medium", "no"},
	})
	res, err := env.Engine.ImportTestCases(env.Ctx, env.Alice, tr.Story.ID, "cases.xlsx", int64(len(data)), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Success || res.CreatedCount != 0 || !strings.Contains(res.Error, "Error saving test cases to database") {
		t.Fatalf("expected a save failure, got %+v", res)
	}
	if n := env.count(t, "test_cases"); n != before {
		t.Fatalf("expected %d test cases after rollback, got %d", before, n)
	}
}

func TestExports(t *testing.T) {
	env := newTestEnv(t)
	tr := env.seedTree(t, env.Alice, "Exports")
	ids := env.seedCases(t, env.Alice, tr.Story.ID, 2)
	if _, err := env.Engine.BulkExecute(env.Ctx, env.Alice, engine.BulkRequest{TestCaseIDs: ids, Status: domain.ExecPassed}); err != nil {
		t.Fatalf("bulk: %v", err)
	}

	pdf, err := env.Engine.ExportExecutionsPDF(env.Ctx, env.Alice, repo.ExecutionFilter{})
	if err != nil {
		t.Fatalf("pdf: %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Fatalf("pdf export missing header")
	}
	xlsx, err := env.Engine.ExportExecutionsExcel(env.Ctx, env.Alice, repo.ExecutionFilter{})
	if err != nil {
		t.Fatalf("executions xlsx: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(xlsx))
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Test Executions")
	if err != nil || len(rows) != 3 {
		t.Fatalf("expected header plus two rows: %d %v", len(rows), err)
	}
	if _, err := env.Engine.ExportTestCasesExcel(env.Ctx, env.Alice, repo.TestCaseFilter{ProjectID: tr.Project.ID}); err != nil {
		t.Fatalf("test cases xlsx: %v", err)
	}
}

func TestEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	tr := env.seedTree(t, env.Alice, "Audit")
	if err := env.Engine.DeleteStory(env.Ctx, env.Alice, tr.Story.ID); err != nil {
		t.Fatalf("delete story: %v", err)
	}
	evts, err := env.Engine.ListEvents(env.Ctx, env.Alice, repo.EventFilter{})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 4 {
		t.Fatalf("expected 4 events, got %d", len(evts))
	}
	others, err := env.Engine.ListEvents(env.Ctx, env.Bob, repo.EventFilter{})
	if err != nil || len(others) != 0 {
		t.Fatalf("bob should see no events: %d %v", len(others), err)
	}
}

func TestAPIKeys(t *testing.T) {
	env := newTestEnv(t)
	key, plain, err := env.Engine.CreateAPIKey(env.Ctx, env.Alice, "ci")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if !strings.HasPrefix(plain, "tl_") || key.KeyHash == plain {
		t.Fatalf("unexpected key material")
	}
	got, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plain))
	if err != nil || got.UserID != "alice" {
		t.Fatalf("lookup by hash: %+v %v", got, err)
	}
	if err := env.Engine.DeleteAPIKey(env.Ctx, env.Bob, key.ID); err == nil {
		t.Fatalf("bob must not delete alice's key")
	}
	if err := env.Engine.DeleteAPIKey(env.Ctx, env.Alice, key.ID); err != nil {
		t.Fatalf("delete key: %v", err)
	}
}
