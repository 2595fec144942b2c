package repo

import (
	"context"
	"database/sql"

	"testline/internal/domain"
)

const executionColumns = `x.id,x.test_case_id,x.test_run_id,x.executor_id,x.status,x.execution_date,COALESCE(x.comments,''),
x.execution_time_minutes,COALESCE(x.notes,''),x.created_at,x.updated_at`

func scanExecution(row interface{ Scan(...any) error }) (domain.TestExecution, error) {
	var x domain.TestExecution
	var executor, date sql.NullString
	var minutes sql.NullInt64
	err := row.Scan(&x.ID, &x.TestCaseID, &x.TestRunID, &executor, &x.Status, &date, &x.Comments, &minutes, &x.Notes, &x.CreatedAt, &x.UpdatedAt)
	if err == sql.ErrNoRows {
		return x, ErrNotFound
	}
	x.ExecutorID = stringPtr(executor)
	x.ExecutionDate = stringPtr(date)
	x.ExecutionTimeMinutes = intPtr(minutes)
	return x, err
}

func (r Repo) InsertExecution(ctx context.Context, tx *sql.Tx, x domain.TestExecution) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO test_executions(id,test_case_id,test_run_id,executor_id,status,execution_date,comments,execution_time_minutes,notes,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		x.ID, x.TestCaseID, x.TestRunID, nullableStringPtr(x.ExecutorID), x.Status, nullableStringPtr(x.ExecutionDate),
		nullable(x.Comments), nullableIntPtr(x.ExecutionTimeMinutes), nullable(x.Notes), x.CreatedAt, x.UpdatedAt)
	return err
}

// FindExecutionTx looks up the execution for a (test case, run) pair. When
// several rows exist for the pair the most recently updated one is returned.
func (r Repo) FindExecutionTx(ctx context.Context, tx *sql.Tx, testCaseID, runID string) (domain.TestExecution, error) {
	return scanExecution(r.q(tx).QueryRowContext(ctx, `SELECT `+executionColumns+` FROM test_executions x
WHERE x.test_case_id=? AND x.test_run_id=? ORDER BY x.updated_at DESC, x.id DESC LIMIT 1`, testCaseID, runID))
}

// UpdateExecutionOutcome overwrites status, executor, date and comments.
// Duration and notes are left as they are.
func (r Repo) UpdateExecutionOutcome(ctx context.Context, tx *sql.Tx, x domain.TestExecution) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE test_executions SET status=?,executor_id=?,execution_date=?,comments=?,updated_at=? WHERE id=?`,
		x.Status, nullableStringPtr(x.ExecutorID), nullableStringPtr(x.ExecutionDate), nullable(x.Comments), x.UpdatedAt, x.ID)
	return affectedOrNotFound(res, err)
}

// UpdateExecution writes every mutable field of a recorded execution.
func (r Repo) UpdateExecution(ctx context.Context, tx *sql.Tx, x domain.TestExecution) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE test_executions SET status=?,executor_id=?,execution_date=?,comments=?,execution_time_minutes=?,notes=?,updated_at=? WHERE id=?`,
		x.Status, nullableStringPtr(x.ExecutorID), nullableStringPtr(x.ExecutionDate), nullable(x.Comments),
		nullableIntPtr(x.ExecutionTimeMinutes), nullable(x.Notes), x.UpdatedAt, x.ID)
	return affectedOrNotFound(res, err)
}

func (r Repo) GetExecutionTx(ctx context.Context, tx *sql.Tx, scope domain.Scope, id string) (domain.TestExecution, error) {
	clauses, args, err := scoped(scope)
	if err != nil {
		return domain.TestExecution{}, err
	}
	clauses = append(clauses, "x.id=?")
	args = append(args, id)
	return scanExecution(r.q(tx).QueryRowContext(ctx, `SELECT `+executionColumns+` FROM test_executions x
JOIN test_cases tc ON tc.id=x.test_case_id`+testCaseJoins+where(clauses), args...))
}

const testCaseJoins = `
JOIN user_stories s ON s.id=tc.user_story_id
JOIN epics e ON e.id=s.epic_id
JOIN projects p ON p.id=e.project_id`

const stepColumns = `id,execution_id,step_number,step_description,COALESCE(expected_result,''),COALESCE(actual_result,''),status,execution_date,COALESCE(comments,'')`

// UpsertStep inserts a step or replaces the one with the same step number.
func (r Repo) UpsertStep(ctx context.Context, tx *sql.Tx, st domain.TestExecutionStep) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO test_execution_steps(id,execution_id,step_number,step_description,expected_result,actual_result,status,execution_date,comments)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(execution_id, step_number) DO UPDATE SET
step_description=excluded.step_description, expected_result=excluded.expected_result, actual_result=excluded.actual_result,
status=excluded.status, execution_date=excluded.execution_date, comments=excluded.comments`,
		st.ID, st.ExecutionID, st.StepNumber, st.StepDescription, nullable(st.ExpectedResult), nullable(st.ActualResult),
		st.Status, nullableStringPtr(st.ExecutionDate), nullable(st.Comments))
	return err
}

// ListSteps returns the steps of one execution ordered by step number.
func (r Repo) ListSteps(ctx context.Context, tx *sql.Tx, executionID string) ([]domain.TestExecutionStep, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+stepColumns+` FROM test_execution_steps WHERE execution_id=? ORDER BY step_number`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.TestExecutionStep{}
	for rows.Next() {
		var st domain.TestExecutionStep
		var date sql.NullString
		if err := rows.Scan(&st.ID, &st.ExecutionID, &st.StepNumber, &st.StepDescription, &st.ExpectedResult, &st.ActualResult,
			&st.Status, &date, &st.Comments); err != nil {
			return nil, err
		}
		st.ExecutionDate = stringPtr(date)
		res = append(res, st)
	}
	return res, rows.Err()
}
