package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"testline/internal/domain"
)

type TestCaseFilter struct {
	ProjectID       string
	EpicID          string
	StoryID         string
	Status          string
	Priority        string
	ExecutionStatus string
	Search          string
	IDs             []string
	Limit           int
	Cursor          Cursor
}

const testCaseFrom = ` FROM test_cases tc` + testCaseJoins

const testCaseColumns = `tc.id,tc.user_story_id,tc.name,COALESCE(tc.description,''),tc.test_steps,tc.expected_results,
tc.status,tc.execution_status,tc.priority,tc.is_automated,tc.owner_id,tc.assignee_id,tc.created_at,tc.updated_at,tc.last_executed,
s.name,e.id,e.name,p.id,p.name`

func scanTestCaseRow(row interface{ Scan(...any) error }) (domain.TestCaseRow, error) {
	var tc domain.TestCaseRow
	var automated int
	var assignee, lastExecuted sql.NullString
	err := row.Scan(&tc.ID, &tc.UserStoryID, &tc.Name, &tc.Description, &tc.TestSteps, &tc.ExpectedResults,
		&tc.Status, &tc.ExecutionStatus, &tc.Priority, &automated, &tc.OwnerID, &assignee, &tc.CreatedAt, &tc.UpdatedAt, &lastExecuted,
		&tc.StoryName, &tc.EpicID, &tc.EpicName, &tc.ProjectID, &tc.ProjectName)
	if err == sql.ErrNoRows {
		return tc, ErrNotFound
	}
	tc.IsAutomated = automated != 0
	tc.AssigneeID = stringPtr(assignee)
	tc.LastExecuted = stringPtr(lastExecuted)
	return tc, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const insertTestCaseSQL = `INSERT INTO test_cases(id,user_story_id,name,description,test_steps,expected_results,status,execution_status,priority,is_automated,owner_id,assignee_id,created_at,updated_at,last_executed)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`

func testCaseArgs(tc domain.TestCase) []any {
	return []any{tc.ID, tc.UserStoryID, tc.Name, nullable(tc.Description), tc.TestSteps, tc.ExpectedResults,
		tc.Status, tc.ExecutionStatus, tc.Priority, boolInt(tc.IsAutomated), tc.OwnerID, nullableStringPtr(tc.AssigneeID),
		tc.CreatedAt, tc.UpdatedAt, nullableStringPtr(tc.LastExecuted)}
}

func (r Repo) InsertTestCase(ctx context.Context, tx *sql.Tx, tc domain.TestCase) error {
	_, err := r.q(tx).ExecContext(ctx, insertTestCaseSQL, testCaseArgs(tc)...)
	return err
}

// InsertTestCases writes every case through one prepared statement inside tx.
// The caller owns the transaction, so a failure on any row leaves nothing behind
// once it rolls back.
func (r Repo) InsertTestCases(ctx context.Context, tx *sql.Tx, cases []domain.TestCase) error {
	if tx == nil {
		return fmt.Errorf("bulk insert requires a transaction")
	}
	stmt, err := tx.PrepareContext(ctx, insertTestCaseSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, tc := range cases {
		if _, err := stmt.ExecContext(ctx, testCaseArgs(tc)...); err != nil {
			return fmt.Errorf("insert %q: %w", tc.Name, err)
		}
	}
	return nil
}

func (r Repo) UpdateTestCase(ctx context.Context, tx *sql.Tx, tc domain.TestCase) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE test_cases SET user_story_id=?,name=?,description=?,test_steps=?,expected_results=?,status=?,execution_status=?,priority=?,is_automated=?,assignee_id=?,updated_at=? WHERE id=?`,
		tc.UserStoryID, tc.Name, nullable(tc.Description), tc.TestSteps, tc.ExpectedResults, tc.Status, tc.ExecutionStatus,
		tc.Priority, boolInt(tc.IsAutomated), nullableStringPtr(tc.AssigneeID), tc.UpdatedAt, tc.ID)
	return affectedOrNotFound(res, err)
}

// MarkTestCase records a quick result on the case itself without touching
// execution history.
func (r Repo) MarkTestCase(ctx context.Context, tx *sql.Tx, id, status, at string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE test_cases SET execution_status=?,last_executed=?,updated_at=? WHERE id=?`, status, at, at, id)
	return affectedOrNotFound(res, err)
}

func (r Repo) DeleteTestCase(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM test_cases WHERE id=?`, id)
	return affectedOrNotFound(res, err)
}

func (r Repo) GetTestCase(ctx context.Context, scope domain.Scope, id string) (domain.TestCaseRow, error) {
	clauses, args, err := scoped(scope)
	if err != nil {
		return domain.TestCaseRow{}, err
	}
	clauses = append(clauses, "tc.id=?")
	args = append(args, id)
	return scanTestCaseRow(r.DB.QueryRowContext(ctx, `SELECT `+testCaseColumns+testCaseFrom+where(clauses), args...))
}

func testCaseClauses(scope domain.Scope, f TestCaseFilter) ([]string, []any, error) {
	clauses, args, err := scoped(scope)
	if err != nil {
		return nil, nil, err
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "p.id=?")
		args = append(args, f.ProjectID)
	}
	if f.EpicID != "" {
		clauses = append(clauses, "e.id=?")
		args = append(args, f.EpicID)
	}
	if f.StoryID != "" {
		clauses = append(clauses, "s.id=?")
		args = append(args, f.StoryID)
	}
	if f.Status != "" {
		clauses = append(clauses, "tc.status=?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "tc.priority=?")
		args = append(args, f.Priority)
	}
	if f.ExecutionStatus != "" {
		clauses = append(clauses, "tc.execution_status=?")
		args = append(args, f.ExecutionStatus)
	}
	if f.Search != "" {
		like := likeArg(f.Search)
		clauses = append(clauses, `(LOWER(tc.name) LIKE ? OR LOWER(COALESCE(tc.description,'')) LIKE ?
OR LOWER(s.name) LIKE ? OR LOWER(e.name) LIKE ? OR LOWER(p.name) LIKE ?)`)
		args = append(args, like, like, like, like, like)
	}
	if len(f.IDs) > 0 {
		clauses = append(clauses, "tc.id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	clauses, args = cursorClause("tc", f.Cursor, clauses, args)
	return clauses, args, nil
}

func (r Repo) ListTestCases(ctx context.Context, scope domain.Scope, f TestCaseFilter) ([]domain.TestCaseRow, error) {
	return r.listTestCases(ctx, nil, scope, f)
}

// ResolveTestCasesTx returns the owned cases among ids, in the order given.
// Unknown or foreign ids are dropped.
func (r Repo) ResolveTestCasesTx(ctx context.Context, tx *sql.Tx, scope domain.Scope, ids []string) ([]domain.TestCaseRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := r.listTestCases(ctx, tx, scope, TestCaseFilter{IDs: ids})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.TestCaseRow, len(found))
	for _, tc := range found {
		byID[tc.ID] = tc
	}
	res := make([]domain.TestCaseRow, 0, len(found))
	seen := map[string]bool{}
	for _, id := range ids {
		if tc, ok := byID[id]; ok && !seen[id] {
			res = append(res, tc)
			seen[id] = true
		}
	}
	return res, nil
}

func (r Repo) listTestCases(ctx context.Context, tx *sql.Tx, scope domain.Scope, f TestCaseFilter) ([]domain.TestCaseRow, error) {
	clauses, args, err := testCaseClauses(scope, f)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + testCaseColumns + testCaseFrom + where(clauses) + ` ORDER BY tc.created_at DESC, tc.id DESC` + limitClause(f.Limit)
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TestCaseRow
	for rows.Next() {
		tc, err := scanTestCaseRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, tc)
	}
	return res, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
