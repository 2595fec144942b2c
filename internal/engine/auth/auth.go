package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"testline/internal/domain"
	"testline/internal/repo"
)

// ForbiddenError indicates the acting user does not own the resource.
type ForbiddenError struct {
	Resource string
	ID       string
}

func (e ForbiddenError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("permission denied on %s", e.Resource)
	}
	return fmt.Sprintf("permission denied on %s %s", e.Resource, e.ID)
}

// IsForbidden reports whether err is or wraps a ForbiddenError.
func IsForbidden(err error) bool {
	var fe ForbiddenError
	return errors.As(err, &fe)
}

// Service checks ownership through the repository.
type Service struct {
	Repo repo.Repo
}

// EnsureUser creates the acting user's row on first use.
func (s Service) EnsureUser(ctx context.Context, tx *sql.Tx, scope domain.Scope, now string) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	return s.Repo.EnsureUser(ctx, tx, scope.UserID, now)
}

// RequireOwner resolves the entity and fails with ForbiddenError unless the
// acting user owns it, directly or through its project. The returned owner
// carries the transitive project id for hierarchy entities.
func (s Service) RequireOwner(ctx context.Context, tx *sql.Tx, scope domain.Scope, kind, id string) (repo.Owner, error) {
	if err := scope.Validate(); err != nil {
		return repo.Owner{}, err
	}
	owner, err := s.Repo.Ownership(ctx, tx, kind, id)
	if err != nil {
		return repo.Owner{}, err
	}
	if owner.OwnerID != scope.UserID {
		return repo.Owner{}, ForbiddenError{Resource: kind, ID: id}
	}
	return owner, nil
}

// CanModify is RequireOwner without the error detail.
func (s Service) CanModify(ctx context.Context, scope domain.Scope, kind, id string) (bool, error) {
	_, err := s.RequireOwner(ctx, nil, scope, kind, id)
	switch {
	case err == nil:
		return true, nil
	case IsForbidden(err):
		return false, nil
	default:
		return false, err
	}
}
