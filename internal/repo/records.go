package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"testline/internal/db"
	"testline/internal/domain"
)

const (
	// OrderPriority sorts by the test case priority, most urgent first, then execution date.
	OrderPriority = "priority"
	// OrderRecent sorts newest execution first; never-executed rows go last.
	OrderRecent = "recent"
)

const dateLayout = "2006-01-02"

// ExecutionFilter narrows the execution read model. Dates are calendar days
// in UTC; DateTo includes the whole day.
type ExecutionFilter struct {
	DateFrom   *time.Time
	DateTo     *time.Time
	ProjectID  string
	EpicID     string
	StoryID    string
	Status     string
	ExecutorID string
	RunID      string
	Order      string
	Limit      int
	Offset     int
}

// DateRange renders the date window for report headers.
func (f ExecutionFilter) DateRange() string {
	if f.DateFrom == nil && f.DateTo == nil {
		return "All Time"
	}
	from, to := "Start", "End"
	if f.DateFrom != nil {
		from = f.DateFrom.Format(dateLayout)
	}
	if f.DateTo != nil {
		to = f.DateTo.Format(dateLayout)
	}
	return from + " to " + to
}

// ParseDate reads a YYYY-MM-DD value; empty input yields nil.
func ParseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, v, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", v)
	}
	return &t, nil
}

func startOfDay(t time.Time) string {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
}

func endOfDay(t time.Time) string {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC).Format(time.RFC3339)
}

const recordSelect = `SELECT x.id AS id, x.test_case_id AS test_case_id, tc.name AS test_case_name, tc.priority AS test_case_priority,
r.id AS test_run_id, r.name AS test_run_name, s.id AS story_id, s.name AS story_name, e.id AS epic_id, e.name AS epic_name,
p.id AS project_id, p.name AS project_name, x.executor_id AS executor_id, u.username AS executor_username, u.full_name AS executor_full_name,
x.status AS status, x.execution_date AS execution_date, COALESCE(x.comments,'') AS comments,
x.execution_time_minutes AS execution_time_minutes, COALESCE(x.notes,'') AS notes, x.created_at AS created_at, x.updated_at AS updated_at`

const recordFrom = ` FROM test_executions x
JOIN test_runs r ON r.id=x.test_run_id
JOIN test_cases tc ON tc.id=x.test_case_id` + testCaseJoins + `
LEFT JOIN users u ON u.id=x.executor_id`

const priorityRankSQL = `CASE tc.priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4 END`

func executionClauses(scope domain.Scope, f ExecutionFilter) ([]string, []any, error) {
	clauses, args, err := scoped(scope)
	if err != nil {
		return nil, nil, err
	}
	if f.DateFrom != nil {
		clauses = append(clauses, "x.execution_date>=?")
		args = append(args, startOfDay(*f.DateFrom))
	}
	if f.DateTo != nil {
		clauses = append(clauses, "x.execution_date<=?")
		args = append(args, endOfDay(*f.DateTo))
	}
	for _, c := range []struct {
		col, val string
	}{
		{"p.id", f.ProjectID},
		{"e.id", f.EpicID},
		{"s.id", f.StoryID},
		{"x.status", f.Status},
		{"x.executor_id", f.ExecutorID},
		{"x.test_run_id", f.RunID},
	} {
		if c.val != "" {
			clauses = append(clauses, c.col+"=?")
			args = append(args, c.val)
		}
	}
	return clauses, args, nil
}

func orderBy(order string) string {
	if order == OrderRecent {
		return ` ORDER BY x.execution_date IS NULL, x.execution_date DESC, x.id DESC`
	}
	return ` ORDER BY ` + priorityRankSQL + `, x.execution_date IS NULL, x.execution_date, x.id`
}

// ListExecutionRecords returns the joined execution rows visible to scope.
func (r Repo) ListExecutionRecords(ctx context.Context, scope domain.Scope, f ExecutionFilter) ([]domain.ExecutionRecord, error) {
	clauses, args, err := executionClauses(scope, f)
	if err != nil {
		return nil, err
	}
	query := recordSelect + recordFrom + where(clauses) + orderBy(f.Order)
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}
	res := []domain.ExecutionRecord{}
	if err := sqlx.SelectContext(ctx, db.Wrap(r.DB), &res, query, args...); err != nil {
		return nil, err
	}
	return res, nil
}

// CountExecutionRecords counts rows matching f, ignoring Limit and Offset.
func (r Repo) CountExecutionRecords(ctx context.Context, scope domain.Scope, f ExecutionFilter) (int, error) {
	clauses, args, err := executionClauses(scope, f)
	if err != nil {
		return 0, err
	}
	var n int
	err = sqlx.GetContext(ctx, db.Wrap(r.DB), &n, `SELECT COUNT(*)`+recordFrom+where(clauses), args...)
	return n, err
}

// GetExecutionRecord returns one joined execution row.
func (r Repo) GetExecutionRecord(ctx context.Context, scope domain.Scope, id string) (domain.ExecutionRecord, error) {
	clauses, args, err := scoped(scope)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}
	clauses = append(clauses, "x.id=?")
	args = append(args, id)
	var rec domain.ExecutionRecord
	rows, err := db.Wrap(r.DB).QueryxContext(ctx, recordSelect+recordFrom+where(clauses), args...)
	if err != nil {
		return rec, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return rec, err
		}
		return rec, ErrNotFound
	}
	return rec, rows.StructScan(&rec)
}

// Counts holds the number of entities the acting user can see.
type Counts struct {
	Projects  int `db:"projects" json:"projects"`
	Epics     int `db:"epics" json:"epics"`
	Stories   int `db:"stories" json:"stories"`
	TestCases int `db:"test_cases" json:"test_cases"`
	Suites    int `db:"suites" json:"suites"`
	Runs      int `db:"runs" json:"runs"`
}

func (r Repo) CountOwned(ctx context.Context, scope domain.Scope) (Counts, error) {
	var c Counts
	if err := scope.Validate(); err != nil {
		return c, err
	}
	query := `SELECT
(SELECT COUNT(*) FROM projects p WHERE ` + ownedProjects + `) AS projects,
(SELECT COUNT(*) FROM epics e JOIN projects p ON p.id=e.project_id WHERE ` + ownedProjects + `) AS epics,
(SELECT COUNT(*) FROM user_stories s JOIN epics e ON e.id=s.epic_id JOIN projects p ON p.id=e.project_id WHERE ` + ownedProjects + `) AS stories,
(SELECT COUNT(*)` + testCaseFrom + ` WHERE ` + ownedProjects + `) AS test_cases,
(SELECT COUNT(*) FROM test_suites WHERE owner_id=?) AS suites,
(SELECT COUNT(*) FROM test_runs WHERE owner_id=?) AS runs`
	uid := scope.UserID
	err := sqlx.GetContext(ctx, db.Wrap(r.DB), &c, query, uid, uid, uid, uid, uid, uid)
	return c, err
}
