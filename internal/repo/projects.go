package repo

import (
	"context"
	"database/sql"
	"fmt"

	"testline/internal/domain"
)

type ProjectFilter struct {
	Status string
	Search string
	Limit  int
	Cursor Cursor
}

type EpicFilter struct {
	ProjectID string
	Status    string
	Search    string
	Limit     int
	Cursor    Cursor
}

type StoryFilter struct {
	ProjectID string
	EpicID    string
	Status    string
	Priority  string
	Search    string
	Limit     int
	Cursor    Cursor
}

const projectColumns = `p.id,p.name,COALESCE(p.description,''),p.status,p.owner_id,p.created_at,p.updated_at`

func scanProject(row interface{ Scan(...any) error }) (domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO projects(id,name,description,status,owner_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), p.Status, p.OwnerID, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE projects SET name=?,description=?,status=?,updated_at=? WHERE id=?`,
		p.Name, nullable(p.Description), p.Status, p.UpdatedAt, p.ID)
	return affectedOrNotFound(res, err)
}

// DeleteProject removes the project; epics, stories, test cases and their
// executions go with it through ON DELETE CASCADE.
func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	return affectedOrNotFound(res, err)
}

func (r Repo) GetProject(ctx context.Context, scope domain.Scope, id string) (domain.Project, error) {
	clauses, args, err := scoped(scope)
	if err != nil {
		return domain.Project{}, err
	}
	clauses = append(clauses, "p.id=?")
	args = append(args, id)
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects p`+where(clauses), args...))
}

func (r Repo) ListProjects(ctx context.Context, scope domain.Scope, f ProjectFilter) ([]domain.Project, error) {
	clauses, args, err := scoped(scope)
	if err != nil {
		return nil, err
	}
	if f.Status != "" {
		clauses = append(clauses, "p.status=?")
		args = append(args, f.Status)
	}
	if f.Search != "" {
		clauses = append(clauses, "(LOWER(p.name) LIKE ? OR LOWER(COALESCE(p.description,'')) LIKE ?)")
		args = append(args, likeArg(f.Search), likeArg(f.Search))
	}
	clauses, args = cursorClause("p", f.Cursor, clauses, args)
	query := `SELECT ` + projectColumns + ` FROM projects p` + where(clauses) + ` ORDER BY p.created_at DESC, p.id DESC` + limitClause(f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

const epicColumns = `e.id,e.project_id,e.name,COALESCE(e.description,''),e.status,e.owner_id,e.created_at,e.updated_at`

func scanEpic(row interface{ Scan(...any) error }) (domain.Epic, error) {
	var e domain.Epic
	err := row.Scan(&e.ID, &e.ProjectID, &e.Name, &e.Description, &e.Status, &e.OwnerID, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

func (r Repo) InsertEpic(ctx context.Context, tx *sql.Tx, e domain.Epic) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO epics(id,project_id,name,description,status,owner_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.ProjectID, e.Name, nullable(e.Description), e.Status, e.OwnerID, e.CreatedAt, e.UpdatedAt)
	return err
}

func (r Repo) UpdateEpic(ctx context.Context, tx *sql.Tx, e domain.Epic) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE epics SET project_id=?,name=?,description=?,status=?,updated_at=? WHERE id=?`,
		e.ProjectID, e.Name, nullable(e.Description), e.Status, e.UpdatedAt, e.ID)
	return affectedOrNotFound(res, err)
}

func (r Repo) DeleteEpic(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM epics WHERE id=?`, id)
	return affectedOrNotFound(res, err)
}

func (r Repo) GetEpic(ctx context.Context, scope domain.Scope, id string) (domain.Epic, error) {
	clauses, args, err := scoped(scope)
	if err != nil {
		return domain.Epic{}, err
	}
	clauses = append(clauses, "e.id=?")
	args = append(args, id)
	return scanEpic(r.DB.QueryRowContext(ctx, `SELECT `+epicColumns+` FROM epics e JOIN projects p ON p.id=e.project_id`+where(clauses), args...))
}

func (r Repo) ListEpics(ctx context.Context, scope domain.Scope, f EpicFilter) ([]domain.Epic, error) {
	clauses, args, err := scoped(scope)
	if err != nil {
		return nil, err
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "e.project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "e.status=?")
		args = append(args, f.Status)
	}
	if f.Search != "" {
		clauses = append(clauses, "(LOWER(e.name) LIKE ? OR LOWER(COALESCE(e.description,'')) LIKE ?)")
		args = append(args, likeArg(f.Search), likeArg(f.Search))
	}
	clauses, args = cursorClause("e", f.Cursor, clauses, args)
	query := `SELECT ` + epicColumns + ` FROM epics e JOIN projects p ON p.id=e.project_id` + where(clauses) +
		` ORDER BY e.created_at DESC, e.id DESC` + limitClause(f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Epic
	for rows.Next() {
		e, err := scanEpic(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

const storyColumns = `s.id,s.epic_id,s.name,COALESCE(s.description,''),COALESCE(s.acceptance_criteria,''),s.status,s.priority,s.story_points,s.owner_id,s.assignee_id,s.created_at,s.updated_at`

func scanStory(row interface{ Scan(...any) error }) (domain.UserStory, error) {
	var s domain.UserStory
	var points sql.NullInt64
	var assignee sql.NullString
	err := row.Scan(&s.ID, &s.EpicID, &s.Name, &s.Description, &s.AcceptanceCriteria, &s.Status, &s.Priority,
		&points, &s.OwnerID, &assignee, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	s.StoryPoints = intPtr(points)
	s.AssigneeID = stringPtr(assignee)
	return s, err
}

func (r Repo) InsertStory(ctx context.Context, tx *sql.Tx, s domain.UserStory) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO user_stories(id,epic_id,name,description,acceptance_criteria,status,priority,story_points,owner_id,assignee_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.EpicID, s.Name, nullable(s.Description), nullable(s.AcceptanceCriteria), s.Status, s.Priority,
		nullableIntPtr(s.StoryPoints), s.OwnerID, nullableStringPtr(s.AssigneeID), s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) UpdateStory(ctx context.Context, tx *sql.Tx, s domain.UserStory) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE user_stories SET epic_id=?,name=?,description=?,acceptance_criteria=?,status=?,priority=?,story_points=?,assignee_id=?,updated_at=? WHERE id=?`,
		s.EpicID, s.Name, nullable(s.Description), nullable(s.AcceptanceCriteria), s.Status, s.Priority,
		nullableIntPtr(s.StoryPoints), nullableStringPtr(s.AssigneeID), s.UpdatedAt, s.ID)
	return affectedOrNotFound(res, err)
}

func (r Repo) DeleteStory(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM user_stories WHERE id=?`, id)
	return affectedOrNotFound(res, err)
}

func (r Repo) GetStory(ctx context.Context, scope domain.Scope, id string) (domain.UserStory, error) {
	clauses, args, err := scoped(scope)
	if err != nil {
		return domain.UserStory{}, err
	}
	clauses = append(clauses, "s.id=?")
	args = append(args, id)
	return scanStory(r.DB.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM user_stories s
JOIN epics e ON e.id=s.epic_id JOIN projects p ON p.id=e.project_id`+where(clauses), args...))
}

func (r Repo) ListStories(ctx context.Context, scope domain.Scope, f StoryFilter) ([]domain.UserStory, error) {
	clauses, args, err := scoped(scope)
	if err != nil {
		return nil, err
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "e.project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.EpicID != "" {
		clauses = append(clauses, "s.epic_id=?")
		args = append(args, f.EpicID)
	}
	if f.Status != "" {
		clauses = append(clauses, "s.status=?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "s.priority=?")
		args = append(args, f.Priority)
	}
	if f.Search != "" {
		clauses = append(clauses, "(LOWER(s.name) LIKE ? OR LOWER(COALESCE(s.description,'')) LIKE ?)")
		args = append(args, likeArg(f.Search), likeArg(f.Search))
	}
	clauses, args = cursorClause("s", f.Cursor, clauses, args)
	query := `SELECT ` + storyColumns + ` FROM user_stories s
JOIN epics e ON e.id=s.epic_id JOIN projects p ON p.id=e.project_id` + where(clauses) +
		` ORDER BY s.created_at DESC, s.id DESC` + limitClause(f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.UserStory
	for rows.Next() {
		s, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

var childQueries = map[string]string{
	KindProject: `SELECT e.id, e.name FROM epics e JOIN projects p ON p.id=e.project_id WHERE ` + ownedProjects + ` AND e.project_id=? ORDER BY e.name, e.id`,
	KindEpic: `SELECT s.id, s.name FROM user_stories s JOIN epics e ON e.id=s.epic_id
JOIN projects p ON p.id=e.project_id WHERE ` + ownedProjects + ` AND s.epic_id=? ORDER BY s.name, s.id`,
}

// ChildrenOf returns the direct children of a hierarchy node: epics of a
// project or stories of an epic. The root level is ListProjects.
func (r Repo) ChildrenOf(ctx context.Context, scope domain.Scope, parentKind, parentID string) ([]domain.Child, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	query, ok := childQueries[parentKind]
	if !ok {
		return nil, fmt.Errorf("%q has no child level", parentKind)
	}
	rows, err := r.DB.QueryContext(ctx, query, scope.UserID, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Child{}
	for rows.Next() {
		var c domain.Child
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
