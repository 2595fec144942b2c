package domain

import "errors"

// ErrNoScope is returned when a query is attempted without an acting user.
var ErrNoScope = errors.New("acting user scope required")

// Scope identifies the acting user. Every list and aggregate query is
// restricted to projects owned by Scope.UserID and everything beneath them.
type Scope struct {
	UserID string
}

func ScopeFor(userID string) Scope {
	return Scope{UserID: userID}
}

func (s Scope) Validate() error {
	if s.UserID == "" {
		return ErrNoScope
	}
	return nil
}
