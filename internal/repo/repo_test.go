package repo

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"testline/internal/db"
	"testline/internal/domain"
	"testline/internal/migrate"
)

const ts = "2024-05-01T10:00:00Z"

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Repo{DB: conn}
}

type tree struct {
	project domain.Project
	epic    domain.Epic
	story   domain.UserStory
	cases   []domain.TestCase
}

func seedTree(t *testing.T, r Repo, owner, prefix string, nCases int) tree {
	t.Helper()
	ctx := context.Background()
	if err := r.EnsureUser(ctx, nil, owner, ts); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	tr := tree{
		project: domain.Project{ID: prefix + "-p", Name: prefix + " project", Status: domain.ProjectActive, OwnerID: owner, CreatedAt: ts, UpdatedAt: ts},
		epic:    domain.Epic{ID: prefix + "-e", ProjectID: prefix + "-p", Name: prefix + " epic", Status: domain.EpicOpen, OwnerID: owner, CreatedAt: ts, UpdatedAt: ts},
		story:   domain.UserStory{ID: prefix + "-s", EpicID: prefix + "-e", Name: prefix + " story", Status: domain.StoryTodo, Priority: domain.PriorityMedium, OwnerID: owner, CreatedAt: ts, UpdatedAt: ts},
	}
	if err := r.InsertProject(ctx, nil, tr.project); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	if err := r.InsertEpic(ctx, nil, tr.epic); err != nil {
		t.Fatalf("insert epic: %v", err)
	}
	if err := r.InsertStory(ctx, nil, tr.story); err != nil {
		t.Fatalf("insert story: %v", err)
	}
	priorities := []string{domain.PriorityLow, domain.PriorityCritical, domain.PriorityHigh}
	for i := 0; i < nCases; i++ {
		tc := domain.TestCase{
			ID:              prefix + "-tc" + string(rune('a'+i)),
			UserStoryID:     tr.story.ID,
			Name:            prefix + " case " + string(rune('a'+i)),
			TestSteps:       "Open the page and submit",
			ExpectedResults: "The form is accepted",
			Status:          domain.CaseDraft,
			ExecutionStatus: domain.ExecNotExecuted,
			Priority:        priorities[i%len(priorities)],
			OwnerID:         owner,
			CreatedAt:       ts,
			UpdatedAt:       ts,
		}
		if err := r.InsertTestCase(ctx, nil, tc); err != nil {
			t.Fatalf("insert case: %v", err)
		}
		tr.cases = append(tr.cases, tc)
	}
	return tr
}

func TestQueriesRequireScope(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if _, err := r.ListProjects(ctx, domain.Scope{}, ProjectFilter{}); !errors.Is(err, domain.ErrNoScope) {
		t.Fatalf("expected ErrNoScope, got %v", err)
	}
	if _, err := r.ListExecutionRecords(ctx, domain.Scope{}, ExecutionFilter{}); !errors.Is(err, domain.ErrNoScope) {
		t.Fatalf("expected ErrNoScope, got %v", err)
	}
}

func TestScopeHidesOtherUsersRecords(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	mine := seedTree(t, r, "alice", "a", 2)
	seedTree(t, r, "bob", "b", 3)

	cases, err := r.ListTestCases(ctx, domain.ScopeFor("alice"), TestCaseFilter{})
	if err != nil {
		t.Fatalf("list cases: %v", err)
	}
	if len(cases) != 2 {
		t.Fatalf("expected 2 cases for alice, got %d", len(cases))
	}
	if _, err := r.GetProject(ctx, domain.ScopeFor("bob"), mine.project.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found across users, got %v", err)
	}
	resolved, err := r.ResolveTestCasesTx(ctx, nil, domain.ScopeFor("alice"), []string{"b-tca", mine.cases[1].ID, "missing", mine.cases[1].ID})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(resolved) != 1 || resolved[0].ID != mine.cases[1].ID {
		t.Fatalf("unexpected resolution: %+v", resolved)
	}
}

func TestChildrenOf(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	tr := seedTree(t, r, "alice", "a", 0)

	epics, err := r.ChildrenOf(ctx, domain.ScopeFor("alice"), KindProject, tr.project.ID)
	if err != nil {
		t.Fatalf("children of project: %v", err)
	}
	if len(epics) != 1 || epics[0].ID != tr.epic.ID {
		t.Fatalf("unexpected epics: %+v", epics)
	}
	stories, err := r.ChildrenOf(ctx, domain.ScopeFor("alice"), KindEpic, tr.epic.ID)
	if err != nil {
		t.Fatalf("children of epic: %v", err)
	}
	if len(stories) != 1 || stories[0].Name != tr.story.Name {
		t.Fatalf("unexpected stories: %+v", stories)
	}
	none, err := r.ChildrenOf(ctx, domain.ScopeFor("bob"), KindProject, tr.project.ID)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no children for another user, got %v %v", none, err)
	}
	if _, err := r.ChildrenOf(ctx, domain.ScopeFor("alice"), KindTestCase, "x"); err == nil {
		t.Fatalf("expected error for leaf kind")
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	tr := seedTree(t, r, "alice", "a", 2)
	run := domain.TestRun{ID: "run1", Name: "Nightly", Status: domain.RunInProgress, OwnerID: "alice", CreatedAt: ts, UpdatedAt: ts}
	if err := r.InsertRun(ctx, nil, run); err != nil {
		t.Fatalf("insert run: %v", err)
	}
	x := domain.TestExecution{ID: "x1", TestCaseID: tr.cases[0].ID, TestRunID: run.ID, Status: domain.ExecPassed, CreatedAt: ts, UpdatedAt: ts}
	if err := r.InsertExecution(ctx, nil, x); err != nil {
		t.Fatalf("insert execution: %v", err)
	}
	if err := r.DeleteProject(ctx, nil, tr.project.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, table := range []string{"epics", "user_stories", "test_cases", "test_executions"} {
		var n int
		if err := r.DB.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 0 {
			t.Fatalf("expected %s to be emptied by cascade, found %d", table, n)
		}
	}
	if _, err := r.GetRun(ctx, domain.ScopeFor("alice"), run.ID); err != nil {
		t.Fatalf("run should survive project deletion: %v", err)
	}
}

func TestExecutorRemovalNullsExecutions(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	tr := seedTree(t, r, "alice", "a", 1)
	if err := r.EnsureUser(ctx, nil, "carol", ts); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	run := domain.TestRun{ID: "run1", Name: "Nightly", Status: domain.RunInProgress, OwnerID: "alice", CreatedAt: ts, UpdatedAt: ts}
	if err := r.InsertRun(ctx, nil, run); err != nil {
		t.Fatalf("insert run: %v", err)
	}
	carol := "carol"
	if err := r.InsertExecution(ctx, nil, domain.TestExecution{ID: "x1", TestCaseID: tr.cases[0].ID, TestRunID: run.ID, ExecutorID: &carol, Status: domain.ExecFailed, CreatedAt: ts, UpdatedAt: ts}); err != nil {
		t.Fatalf("insert execution: %v", err)
	}
	if _, err := r.DB.Exec(`DELETE FROM users WHERE id='carol'`); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	x, err := r.FindExecutionTx(ctx, nil, tr.cases[0].ID, run.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if x.ExecutorID != nil {
		t.Fatalf("expected executor to be cleared, got %v", *x.ExecutorID)
	}
}

func TestExecutionRecordsFilterAndOrder(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	tr := seedTree(t, r, "alice", "a", 3)
	run := domain.TestRun{ID: "run1", Name: "Regression", Status: domain.RunInProgress, OwnerID: "alice", CreatedAt: ts, UpdatedAt: ts}
	if err := r.InsertRun(ctx, nil, run); err != nil {
		t.Fatalf("insert run: %v", err)
	}
	dates := []string{"2024-05-01T08:00:00Z", "2024-05-02T23:30:00Z", "2024-05-04T09:00:00Z"}
	for i, tc := range tr.cases {
		d := dates[i]
		x := domain.TestExecution{ID: "x" + string(rune('0'+i)), TestCaseID: tc.ID, TestRunID: run.ID, Status: domain.ExecPassed, ExecutionDate: &d, CreatedAt: ts, UpdatedAt: ts}
		if err := r.InsertExecution(ctx, nil, x); err != nil {
			t.Fatalf("insert execution: %v", err)
		}
	}
	scope := domain.ScopeFor("alice")

	all, err := r.ListExecutionRecords(ctx, scope, ExecutionFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if all[0].TestCasePriority != domain.PriorityCritical || all[2].TestCasePriority != domain.PriorityLow {
		t.Fatalf("expected priority ordering, got %s..%s", all[0].TestCasePriority, all[2].TestCasePriority)
	}
	if all[0].ProjectName != tr.project.Name || all[0].TestRunName != "Regression" {
		t.Fatalf("joined names missing: %+v", all[0])
	}

	from, _ := ParseDate("2024-05-02")
	to, _ := ParseDate("2024-05-02")
	f := ExecutionFilter{DateFrom: from, DateTo: to}
	day, err := r.ListExecutionRecords(ctx, scope, f)
	if err != nil {
		t.Fatalf("list day: %v", err)
	}
	if len(day) != 1 || *day[0].ExecutionDate != dates[1] {
		t.Fatalf("date_to must include the whole day, got %+v", day)
	}
	if got := f.DateRange(); got != "2024-05-02 to 2024-05-02" {
		t.Fatalf("date range label: %q", got)
	}
	if got := (ExecutionFilter{DateTo: to}).DateRange(); got != "Start to 2024-05-02" {
		t.Fatalf("open range label: %q", got)
	}

	recent, err := r.ListExecutionRecords(ctx, scope, ExecutionFilter{Order: OrderRecent, Limit: 2})
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 || *recent[0].ExecutionDate != dates[2] {
		t.Fatalf("expected newest first, got %+v", recent)
	}
	n, err := r.CountExecutionRecords(ctx, scope, ExecutionFilter{Order: OrderRecent, Limit: 2})
	if err != nil || n != 3 {
		t.Fatalf("count: %d %v", n, err)
	}
	if _, err := ParseDate("05/02/2024"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestStepsUpsertByNumber(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	tr := seedTree(t, r, "alice", "a", 1)
	run := domain.TestRun{ID: "run1", Name: "R", Status: domain.RunInProgress, OwnerID: "alice", CreatedAt: ts, UpdatedAt: ts}
	if err := r.InsertRun(ctx, nil, run); err != nil {
		t.Fatalf("insert run: %v", err)
	}
	if err := r.InsertExecution(ctx, nil, domain.TestExecution{ID: "x1", TestCaseID: tr.cases[0].ID, TestRunID: run.ID, Status: domain.ExecInProgress, CreatedAt: ts, UpdatedAt: ts}); err != nil {
		t.Fatalf("insert execution: %v", err)
	}
	for _, st := range []domain.TestExecutionStep{
		{ID: "st2", ExecutionID: "x1", StepNumber: 2, StepDescription: "Submit", Status: domain.ExecNotExecuted},
		{ID: "st1", ExecutionID: "x1", StepNumber: 1, StepDescription: "Open", Status: domain.ExecPassed},
		{ID: "st1b", ExecutionID: "x1", StepNumber: 1, StepDescription: "Open login", Status: domain.ExecFailed, ActualResult: "500"},
	} {
		if err := r.UpsertStep(ctx, nil, st); err != nil {
			t.Fatalf("upsert step: %v", err)
		}
	}
	steps, err := r.ListSteps(ctx, nil, "x1")
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != 2 || steps[0].StepNumber != 1 || steps[0].Status != domain.ExecFailed || steps[0].ActualResult != "500" {
		t.Fatalf("unexpected steps: %+v", steps)
	}
}

func TestSuiteStatisticsAndProjectFilter(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	a := seedTree(t, r, "alice", "a", 3)
	suite := domain.TestSuite{ID: "s1", Name: "Smoke", OwnerID: "alice", CreatedAt: ts, UpdatedAt: ts,
		TestCaseIDs: []string{a.cases[0].ID, a.cases[1].ID}}
	empty := domain.TestSuite{ID: "s2", Name: "Empty", OwnerID: "alice", CreatedAt: ts, UpdatedAt: ts}
	for _, s := range []domain.TestSuite{suite, empty} {
		if err := r.InsertSuite(ctx, nil, s); err != nil {
			t.Fatalf("insert suite: %v", err)
		}
	}
	scope := domain.ScopeFor("alice")
	filtered, err := r.ListSuites(ctx, scope, SuiteFilter{ProjectID: a.project.ID})
	if err != nil {
		t.Fatalf("list suites: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "s1" || len(filtered[0].TestCaseIDs) != 2 {
		t.Fatalf("unexpected suites: %+v", filtered)
	}
	stats, err := r.SuiteStatistics(ctx, scope, "s1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats[0].Total != 2 || stats[0].Manual != 2 || stats[0].ByPriority[domain.PriorityCritical] != 1 {
		t.Fatalf("unexpected stats: %+v", stats[0])
	}
	emptyStats, err := r.SuiteStatistics(ctx, scope, "s2")
	if err != nil || emptyStats[0].Total != 0 {
		t.Fatalf("empty suite stats: %+v %v", emptyStats, err)
	}
	if _, err := r.SuiteStatistics(ctx, domain.ScopeFor("bob"), "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOwnership(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	tr := seedTree(t, r, "alice", "a", 1)
	o, err := r.Ownership(ctx, nil, KindTestCase, tr.cases[0].ID)
	if err != nil {
		t.Fatalf("ownership: %v", err)
	}
	if o.OwnerID != "alice" || o.ProjectID != tr.project.ID {
		t.Fatalf("unexpected owner: %+v", o)
	}
	if _, err := r.Ownership(ctx, nil, KindStory, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	var tx *sql.Tx
	if _, err := r.Ownership(ctx, tx, "widget", "x"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}
