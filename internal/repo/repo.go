package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"testline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

// Cursor is a keyset position over (created_at, id) in descending order.
type Cursor struct {
	CreatedAt string
	ID        string
}

func (c Cursor) set() bool {
	return c.CreatedAt != "" && c.ID != ""
}

func cursorClause(alias string, c Cursor, clauses []string, args []any) ([]string, []any) {
	if !c.set() {
		return clauses, args
	}
	col := func(name string) string {
		if alias == "" {
			return name
		}
		return alias + "." + name
	}
	clauses = append(clauses, fmt.Sprintf("(%s < ? OR (%s = ? AND %s < ?))", col("created_at"), col("created_at"), col("id")))
	return clauses, append(args, c.CreatedAt, c.CreatedAt, c.ID)
}

func limitClause(limit int) string {
	if limit > 0 {
		return fmt.Sprintf(" LIMIT %d", limit)
	}
	return ""
}

func likeArg(search string) string {
	return "%" + strings.ToLower(strings.TrimSpace(search)) + "%"
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func affectedOrNotFound(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Entity kinds understood by Ownership.
const (
	KindProject   = "project"
	KindEpic      = "epic"
	KindStory     = "story"
	KindTestCase  = "testcase"
	KindExecution = "execution"
	KindSuite     = "suite"
	KindRun       = "run"
)

// Owner describes who owns an entity and, for hierarchy entities, the
// project it transitively belongs to.
type Owner struct {
	OwnerID   string
	ProjectID string
}

var ownershipQueries = map[string]string{
	KindProject: `SELECT p.owner_id, p.id FROM projects p WHERE p.id=?`,
	KindEpic:    `SELECT p.owner_id, p.id FROM epics e JOIN projects p ON p.id=e.project_id WHERE e.id=?`,
	KindStory: `SELECT p.owner_id, p.id FROM user_stories s
JOIN epics e ON e.id=s.epic_id JOIN projects p ON p.id=e.project_id WHERE s.id=?`,
	KindTestCase: `SELECT p.owner_id, p.id FROM test_cases tc
JOIN user_stories s ON s.id=tc.user_story_id JOIN epics e ON e.id=s.epic_id
JOIN projects p ON p.id=e.project_id WHERE tc.id=?`,
	KindExecution: `SELECT p.owner_id, p.id FROM test_executions x
JOIN test_cases tc ON tc.id=x.test_case_id JOIN user_stories s ON s.id=tc.user_story_id
JOIN epics e ON e.id=s.epic_id JOIN projects p ON p.id=e.project_id WHERE x.id=?`,
	KindSuite: `SELECT owner_id, '' FROM test_suites WHERE id=?`,
	KindRun:   `SELECT owner_id, '' FROM test_runs WHERE id=?`,
}

// Ownership resolves the owner of an entity. Hierarchy entities are owned by
// the owner of their top-level project; suites and runs by their creator.
func (r Repo) Ownership(ctx context.Context, tx *sql.Tx, kind, id string) (Owner, error) {
	query, ok := ownershipQueries[kind]
	if !ok {
		return Owner{}, fmt.Errorf("unknown entity kind %q", kind)
	}
	var o Owner
	err := r.q(tx).QueryRowContext(ctx, query, id).Scan(&o.OwnerID, &o.ProjectID)
	if err == sql.ErrNoRows {
		return Owner{}, ErrNotFound
	}
	return o, err
}

// ownedProjects is the scope predicate shared by every hierarchy query.
const ownedProjects = "p.owner_id=?"

func scoped(scope domain.Scope) ([]string, []any, error) {
	if err := scope.Validate(); err != nil {
		return nil, nil, err
	}
	return []string{ownedProjects}, []any{scope.UserID}, nil
}

func where(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}
