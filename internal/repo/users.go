package repo

import (
	"context"
	"database/sql"
	"strings"

	"testline/internal/domain"
)

const userColumns = `id,username,COALESCE(full_name,''),created_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO users(id,username,full_name,created_at) VALUES (?,?,?,?)`,
		u.ID, u.Username, nullable(u.FullName), u.CreatedAt)
	return err
}

// EnsureUser creates the user row if the id is unknown; the username
// defaults to the id.
func (r Repo) EnsureUser(ctx context.Context, tx *sql.Tx, id, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO users(id,username,created_at) VALUES (?,?,?)`, id, id, now)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username=?`, strings.TrimSpace(username)))
}

func (r Repo) UpdateUserFullName(ctx context.Context, id, fullName string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET full_name=? WHERE id=?`, nullable(fullName), id)
	return affectedOrNotFound(res, err)
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
