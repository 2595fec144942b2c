package repo

import (
	"context"
	"database/sql"

	"testline/internal/domain"
)

type RunFilter struct {
	Status string
	// CreatedFrom and CreatedTo bound created_at, both inclusive, as RFC3339.
	CreatedFrom string
	CreatedTo   string
	Search      string
	Limit       int
	Cursor      Cursor
}

const runColumns = `r.id,r.name,COALESCE(r.description,''),r.status,r.owner_id,r.scheduled_date,r.created_at,r.updated_at`

func scanRun(row interface{ Scan(...any) error }) (domain.TestRun, error) {
	var run domain.TestRun
	var scheduled sql.NullString
	err := row.Scan(&run.ID, &run.Name, &run.Description, &run.Status, &run.OwnerID, &scheduled, &run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	run.ScheduledDate = stringPtr(scheduled)
	return run, err
}

func (r Repo) InsertRun(ctx context.Context, tx *sql.Tx, run domain.TestRun) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO test_runs(id,name,description,status,owner_id,scheduled_date,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		run.ID, run.Name, nullable(run.Description), run.Status, run.OwnerID, nullableStringPtr(run.ScheduledDate), run.CreatedAt, run.UpdatedAt)
	return err
}

func (r Repo) UpdateRun(ctx context.Context, tx *sql.Tx, run domain.TestRun) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE test_runs SET name=?,description=?,status=?,scheduled_date=?,updated_at=? WHERE id=?`,
		run.Name, nullable(run.Description), run.Status, nullableStringPtr(run.ScheduledDate), run.UpdatedAt, run.ID)
	return affectedOrNotFound(res, err)
}

func (r Repo) DeleteRun(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM test_runs WHERE id=?`, id)
	return affectedOrNotFound(res, err)
}

func (r Repo) GetRun(ctx context.Context, scope domain.Scope, id string) (domain.TestRun, error) {
	return r.GetRunTx(ctx, nil, scope, id)
}

func (r Repo) GetRunTx(ctx context.Context, tx *sql.Tx, scope domain.Scope, id string) (domain.TestRun, error) {
	if err := scope.Validate(); err != nil {
		return domain.TestRun{}, err
	}
	return scanRun(r.q(tx).QueryRowContext(ctx, `SELECT `+runColumns+` FROM test_runs r WHERE r.owner_id=? AND r.id=?`, scope.UserID, id))
}

// FindRunByNameTx returns the oldest run with exactly this name owned by the
// acting user.
func (r Repo) FindRunByNameTx(ctx context.Context, tx *sql.Tx, scope domain.Scope, name string) (domain.TestRun, error) {
	if err := scope.Validate(); err != nil {
		return domain.TestRun{}, err
	}
	return scanRun(r.q(tx).QueryRowContext(ctx, `SELECT `+runColumns+` FROM test_runs r WHERE r.owner_id=? AND r.name=? ORDER BY r.created_at, r.id LIMIT 1`, scope.UserID, name))
}

func (r Repo) ListRuns(ctx context.Context, scope domain.Scope, f RunFilter) ([]domain.TestRun, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	clauses := []string{"r.owner_id=?"}
	args := []any{scope.UserID}
	if f.Status != "" {
		clauses = append(clauses, "r.status=?")
		args = append(args, f.Status)
	}
	if f.CreatedFrom != "" {
		clauses = append(clauses, "r.created_at>=?")
		args = append(args, f.CreatedFrom)
	}
	if f.CreatedTo != "" {
		clauses = append(clauses, "r.created_at<=?")
		args = append(args, f.CreatedTo)
	}
	if f.Search != "" {
		clauses = append(clauses, "(LOWER(r.name) LIKE ? OR LOWER(COALESCE(r.description,'')) LIKE ?)")
		args = append(args, likeArg(f.Search), likeArg(f.Search))
	}
	clauses, args = cursorClause("r", f.Cursor, clauses, args)
	query := `SELECT ` + runColumns + ` FROM test_runs r` + where(clauses) + ` ORDER BY r.created_at DESC, r.id DESC` + limitClause(f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}
