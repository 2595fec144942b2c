package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"testline/internal/domain"
	"testline/internal/events"
	"testline/internal/repo"
)

type SuiteUpdate struct {
	Name        *string
	Description *string
	// TestCaseIDs replaces the membership set when non-nil.
	TestCaseIDs *[]string
}

// memberIDs checks that every id names an owned test case and returns the ids
// de-duplicated in input order.
func (e Engine) memberIDs(ctx context.Context, tx *sql.Tx, scope domain.Scope, ids []string) ([]string, error) {
	cases, err := e.Repo.ResolveTestCasesTx(ctx, tx, scope, ids)
	if err != nil {
		return nil, err
	}
	found := make(map[string]bool, len(cases))
	out := make([]string, 0, len(cases))
	for _, tc := range cases {
		found[tc.ID] = true
		out = append(out, tc.ID)
	}
	var unknown []string
	for _, id := range ids {
		if !found[id] {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return nil, domain.ValidationErrors{{Field: "test_case_ids", Message: "unknown test cases: " + strings.Join(unknown, ", ")}}
	}
	return out, nil
}

func (e Engine) CreateSuite(ctx context.Context, scope domain.Scope, s domain.TestSuite) (domain.TestSuite, error) {
	s.Name = strings.TrimSpace(s.Name)
	s.Description = strings.TrimSpace(s.Description)
	if err := s.Validate(); err != nil {
		return s, err
	}
	tx, err := e.begin(ctx, scope)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if s.TestCaseIDs, err = e.memberIDs(ctx, tx, scope, s.TestCaseIDs); err != nil {
		return s, err
	}
	now := e.stamp()
	s.ID = e.newID()
	s.OwnerID = scope.UserID
	s.CreatedAt, s.UpdatedAt = now, now
	if err := e.Repo.InsertSuite(ctx, tx, s); err != nil {
		return s, fmt.Errorf("insert suite: %w", err)
	}
	if err := e.emit(ctx, tx, events.SuiteCreated, "", repo.KindSuite, s.ID, scope, events.EventPayload{"name": s.Name, "test_cases": len(s.TestCaseIDs)}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return e.Repo.GetSuite(ctx, scope, s.ID)
}

func (e Engine) UpdateSuite(ctx context.Context, scope domain.Scope, id string, upd SuiteUpdate) (domain.TestSuite, error) {
	tx, err := e.begin(ctx, scope)
	if err != nil {
		return domain.TestSuite{}, err
	}
	defer tx.Rollback()
	if _, err := e.Auth.RequireOwner(ctx, tx, scope, repo.KindSuite, id); err != nil {
		return domain.TestSuite{}, err
	}
	s, err := e.Repo.GetSuiteTx(ctx, tx, scope, id)
	if err != nil {
		return s, err
	}
	if upd.Name != nil {
		s.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Description != nil {
		s.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.TestCaseIDs != nil {
		if s.TestCaseIDs, err = e.memberIDs(ctx, tx, scope, *upd.TestCaseIDs); err != nil {
			return s, err
		}
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	s.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateSuite(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.emit(ctx, tx, events.SuiteUpdated, "", repo.KindSuite, s.ID, scope, events.EventPayload{"name": s.Name, "test_cases": len(s.TestCaseIDs)}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return e.Repo.GetSuite(ctx, scope, id)
}

func (e Engine) DeleteSuite(ctx context.Context, scope domain.Scope, id string) error {
	return e.deleteNode(ctx, scope, repo.KindSuite, id, events.SuiteDeleted, e.Repo.DeleteSuite)
}

func (e Engine) GetSuite(ctx context.Context, scope domain.Scope, id string) (domain.TestSuite, error) {
	return e.Repo.GetSuite(ctx, scope, id)
}

func (e Engine) ListSuites(ctx context.Context, scope domain.Scope, f repo.SuiteFilter) ([]domain.TestSuite, error) {
	return e.Repo.ListSuites(ctx, scope, f)
}

// SuiteStatistics summarises one suite, or every owned suite when suiteID is
// empty.
func (e Engine) SuiteStatistics(ctx context.Context, scope domain.Scope, suiteID string) ([]repo.SuiteStats, error) {
	return e.Repo.SuiteStatistics(ctx, scope, suiteID)
}
