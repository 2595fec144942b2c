package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"testline/internal/domain"
	"testline/internal/events"
	"testline/internal/repo"
)

// ProjectUpdate holds optional project changes; nil fields stay unchanged.
type ProjectUpdate struct {
	Name        *string
	Description *string
	Status      *string
}

func (e Engine) CreateProject(ctx context.Context, scope domain.Scope, p domain.Project) (domain.Project, error) {
	tx, err := e.begin(ctx, scope)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p.Name = strings.TrimSpace(p.Name)
	p.Description = strings.TrimSpace(p.Description)
	if p.Status == "" {
		p.Status = domain.ProjectActive
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	now := e.stamp()
	p.ID = e.newID()
	p.OwnerID = scope.UserID
	p.CreatedAt, p.UpdatedAt = now, now
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return p, fmt.Errorf("insert project: %w", err)
	}
	if err := e.emit(ctx, tx, events.ProjectCreated, p.ID, repo.KindProject, p.ID, scope, events.EventPayload{"name": p.Name, "status": p.Status}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

func (e Engine) UpdateProject(ctx context.Context, scope domain.Scope, id string, upd ProjectUpdate) (domain.Project, error) {
	if _, err := e.Auth.RequireOwner(ctx, nil, scope, repo.KindProject, id); err != nil {
		return domain.Project{}, err
	}
	p, err := e.Repo.GetProject(ctx, scope, id)
	if err != nil {
		return p, err
	}
	if upd.Name != nil {
		p.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Description != nil {
		p.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.Status != nil {
		p.Status = *upd.Status
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	p.UpdatedAt = e.stamp()

	tx, err := e.begin(ctx, scope)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.emit(ctx, tx, events.ProjectUpdated, p.ID, repo.KindProject, p.ID, scope, events.EventPayload{"name": p.Name, "status": p.Status}); err != nil {
		return p, err
	}
	return p, tx.Commit()
}

// DeleteProject removes the project and everything beneath it.
func (e Engine) DeleteProject(ctx context.Context, scope domain.Scope, id string) error {
	return e.deleteNode(ctx, scope, repo.KindProject, id, events.ProjectDeleted, e.Repo.DeleteProject)
}

func (e Engine) GetProject(ctx context.Context, scope domain.Scope, id string) (domain.Project, error) {
	return e.Repo.GetProject(ctx, scope, id)
}

func (e Engine) ListProjects(ctx context.Context, scope domain.Scope, f repo.ProjectFilter) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx, scope, f)
}

type EpicUpdate struct {
	Name        *string
	Description *string
	Status      *string
}

func (e Engine) CreateEpic(ctx context.Context, scope domain.Scope, ep domain.Epic) (domain.Epic, error) {
	tx, err := e.begin(ctx, scope)
	if err != nil {
		return domain.Epic{}, err
	}
	defer tx.Rollback()

	ep.Name = strings.TrimSpace(ep.Name)
	ep.Description = strings.TrimSpace(ep.Description)
	if ep.Status == "" {
		ep.Status = domain.EpicOpen
	}
	if err := ep.Validate(); err != nil {
		return ep, err
	}
	if _, err := e.Auth.RequireOwner(ctx, tx, scope, repo.KindProject, ep.ProjectID); err != nil {
		return ep, err
	}
	now := e.stamp()
	ep.ID = e.newID()
	ep.OwnerID = scope.UserID
	ep.CreatedAt, ep.UpdatedAt = now, now
	if err := e.Repo.InsertEpic(ctx, tx, ep); err != nil {
		return ep, fmt.Errorf("insert epic: %w", err)
	}
	if err := e.emit(ctx, tx, events.EpicCreated, ep.ProjectID, repo.KindEpic, ep.ID, scope, events.EventPayload{"name": ep.Name}); err != nil {
		return ep, err
	}
	return ep, tx.Commit()
}

func (e Engine) UpdateEpic(ctx context.Context, scope domain.Scope, id string, upd EpicUpdate) (domain.Epic, error) {
	if _, err := e.Auth.RequireOwner(ctx, nil, scope, repo.KindEpic, id); err != nil {
		return domain.Epic{}, err
	}
	ep, err := e.Repo.GetEpic(ctx, scope, id)
	if err != nil {
		return ep, err
	}
	if upd.Name != nil {
		ep.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Description != nil {
		ep.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.Status != nil {
		ep.Status = *upd.Status
	}
	if err := ep.Validate(); err != nil {
		return ep, err
	}
	ep.UpdatedAt = e.stamp()

	tx, err := e.begin(ctx, scope)
	if err != nil {
		return ep, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateEpic(ctx, tx, ep); err != nil {
		return ep, err
	}
	if err := e.emit(ctx, tx, events.EpicUpdated, ep.ProjectID, repo.KindEpic, ep.ID, scope, events.EventPayload{"name": ep.Name, "status": ep.Status}); err != nil {
		return ep, err
	}
	return ep, tx.Commit()
}

func (e Engine) DeleteEpic(ctx context.Context, scope domain.Scope, id string) error {
	return e.deleteNode(ctx, scope, repo.KindEpic, id, events.EpicDeleted, e.Repo.DeleteEpic)
}

func (e Engine) GetEpic(ctx context.Context, scope domain.Scope, id string) (domain.Epic, error) {
	return e.Repo.GetEpic(ctx, scope, id)
}

func (e Engine) ListEpics(ctx context.Context, scope domain.Scope, f repo.EpicFilter) ([]domain.Epic, error) {
	return e.Repo.ListEpics(ctx, scope, f)
}

// StoryUpdate holds optional story changes. An empty AssigneeID clears the
// assignee; ClearStoryPoints drops the estimate.
type StoryUpdate struct {
	Name               *string
	Description        *string
	AcceptanceCriteria *string
	Status             *string
	Priority           *string
	StoryPoints        *int
	ClearStoryPoints   bool
	AssigneeID         *string
}

func (e Engine) CreateStory(ctx context.Context, scope domain.Scope, s domain.UserStory) (domain.UserStory, error) {
	tx, err := e.begin(ctx, scope)
	if err != nil {
		return domain.UserStory{}, err
	}
	defer tx.Rollback()

	s.Name = strings.TrimSpace(s.Name)
	s.Description = strings.TrimSpace(s.Description)
	s.AcceptanceCriteria = strings.TrimSpace(s.AcceptanceCriteria)
	if s.Status == "" {
		s.Status = domain.StoryTodo
	}
	if s.Priority == "" {
		s.Priority = domain.PriorityMedium
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	owner, err := e.Auth.RequireOwner(ctx, tx, scope, repo.KindEpic, s.EpicID)
	if err != nil {
		return s, err
	}
	if err := e.checkAssignee(ctx, s.AssigneeID); err != nil {
		return s, err
	}
	now := e.stamp()
	s.ID = e.newID()
	s.OwnerID = scope.UserID
	s.CreatedAt, s.UpdatedAt = now, now
	if err := e.Repo.InsertStory(ctx, tx, s); err != nil {
		return s, fmt.Errorf("insert story: %w", err)
	}
	if err := e.emit(ctx, tx, events.StoryCreated, owner.ProjectID, repo.KindStory, s.ID, scope, events.EventPayload{"name": s.Name, "epic_id": s.EpicID}); err != nil {
		return s, err
	}
	return s, tx.Commit()
}

func (e Engine) UpdateStory(ctx context.Context, scope domain.Scope, id string, upd StoryUpdate) (domain.UserStory, error) {
	owner, err := e.Auth.RequireOwner(ctx, nil, scope, repo.KindStory, id)
	if err != nil {
		return domain.UserStory{}, err
	}
	s, err := e.Repo.GetStory(ctx, scope, id)
	if err != nil {
		return s, err
	}
	if upd.Name != nil {
		s.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Description != nil {
		s.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.AcceptanceCriteria != nil {
		s.AcceptanceCriteria = strings.TrimSpace(*upd.AcceptanceCriteria)
	}
	if upd.Status != nil {
		s.Status = *upd.Status
	}
	if upd.Priority != nil {
		s.Priority = *upd.Priority
	}
	if upd.ClearStoryPoints {
		s.StoryPoints = nil
	} else if upd.StoryPoints != nil {
		s.StoryPoints = upd.StoryPoints
	}
	if upd.AssigneeID != nil {
		s.AssigneeID = optionalString(strings.TrimSpace(*upd.AssigneeID))
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	if err := e.checkAssignee(ctx, s.AssigneeID); err != nil {
		return s, err
	}
	s.UpdatedAt = e.stamp()

	tx, err := e.begin(ctx, scope)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateStory(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.emit(ctx, tx, events.StoryUpdated, owner.ProjectID, repo.KindStory, s.ID, scope, events.EventPayload{"name": s.Name, "status": s.Status}); err != nil {
		return s, err
	}
	return s, tx.Commit()
}

func (e Engine) DeleteStory(ctx context.Context, scope domain.Scope, id string) error {
	return e.deleteNode(ctx, scope, repo.KindStory, id, events.StoryDeleted, e.Repo.DeleteStory)
}

func (e Engine) GetStory(ctx context.Context, scope domain.Scope, id string) (domain.UserStory, error) {
	return e.Repo.GetStory(ctx, scope, id)
}

func (e Engine) ListStories(ctx context.Context, scope domain.Scope, f repo.StoryFilter) ([]domain.UserStory, error) {
	return e.Repo.ListStories(ctx, scope, f)
}

// ChildrenOf lists the direct children of a project (its epics) or of an epic
// (its stories). The parent must be owned by the acting user.
func (e Engine) ChildrenOf(ctx context.Context, scope domain.Scope, parentKind, parentID string) ([]domain.Child, error) {
	if parentKind != repo.KindProject && parentKind != repo.KindEpic {
		return nil, invalid("%q has no child level", parentKind)
	}
	if _, err := e.Auth.RequireOwner(ctx, nil, scope, parentKind, parentID); err != nil {
		return nil, err
	}
	return e.Repo.ChildrenOf(ctx, scope, parentKind, parentID)
}

func (e Engine) checkAssignee(ctx context.Context, id *string) error {
	if id == nil {
		return nil
	}
	if _, err := e.Repo.GetUser(ctx, *id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.ValidationErrors{{Field: "assignee_id", Message: fmt.Sprintf("unknown user %q", *id)}}
		}
		return err
	}
	return nil
}

type deleteFunc func(ctx context.Context, tx *sql.Tx, id string) error

// deleteNode checks ownership, deletes and records the event in one
// transaction.
func (e Engine) deleteNode(ctx context.Context, scope domain.Scope, kind, id, evtType string, del deleteFunc) error {
	tx, err := e.begin(ctx, scope)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	owner, err := e.Auth.RequireOwner(ctx, tx, scope, kind, id)
	if err != nil {
		return err
	}
	if err := del(ctx, tx, id); err != nil {
		return err
	}
	projectID := owner.ProjectID
	if kind == repo.KindProject {
		projectID = id
	}
	if err := e.emit(ctx, tx, evtType, projectID, kind, id, scope, nil); err != nil {
		return err
	}
	return tx.Commit()
}
