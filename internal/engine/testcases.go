package engine

import (
	"context"
	"fmt"
	"strings"

	"testline/internal/domain"
	"testline/internal/events"
	"testline/internal/repo"
)

// TestCaseUpdate holds optional test case changes.
type TestCaseUpdate struct {
	Name            *string
	Description     *string
	TestSteps       *string
	ExpectedResults *string
	Status          *string
	ExecutionStatus *string
	Priority        *string
	IsAutomated     *bool
	UserStoryID     *string
	AssigneeID      *string
}

func normalizeTestCase(tc *domain.TestCase) {
	tc.Name = strings.TrimSpace(tc.Name)
	tc.Description = strings.TrimSpace(tc.Description)
	tc.TestSteps = strings.TrimSpace(tc.TestSteps)
	tc.ExpectedResults = strings.TrimSpace(tc.ExpectedResults)
	if tc.Status == "" {
		tc.Status = domain.CaseDraft
	}
	if tc.ExecutionStatus == "" {
		tc.ExecutionStatus = domain.ExecNotExecuted
	}
	if tc.Priority == "" {
		tc.Priority = domain.PriorityMedium
	}
}

func (e Engine) CreateTestCase(ctx context.Context, scope domain.Scope, tc domain.TestCase) (domain.TestCaseRow, error) {
	normalizeTestCase(&tc)
	if err := tc.Validate(); err != nil {
		return domain.TestCaseRow{TestCase: tc}, err
	}
	if err := e.checkAssignee(ctx, tc.AssigneeID); err != nil {
		return domain.TestCaseRow{TestCase: tc}, err
	}
	tx, err := e.begin(ctx, scope)
	if err != nil {
		return domain.TestCaseRow{}, err
	}
	defer tx.Rollback()
	owner, err := e.Auth.RequireOwner(ctx, tx, scope, repo.KindStory, tc.UserStoryID)
	if err != nil {
		return domain.TestCaseRow{TestCase: tc}, err
	}
	now := e.stamp()
	tc.ID = e.newID()
	tc.OwnerID = scope.UserID
	tc.CreatedAt, tc.UpdatedAt = now, now
	if err := e.Repo.InsertTestCase(ctx, tx, tc); err != nil {
		return domain.TestCaseRow{TestCase: tc}, fmt.Errorf("insert test case: %w", err)
	}
	if err := e.emit(ctx, tx, events.TestCaseCreated, owner.ProjectID, repo.KindTestCase, tc.ID, scope, events.EventPayload{"name": tc.Name, "priority": tc.Priority}); err != nil {
		return domain.TestCaseRow{TestCase: tc}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TestCaseRow{TestCase: tc}, err
	}
	return e.Repo.GetTestCase(ctx, scope, tc.ID)
}

func (e Engine) UpdateTestCase(ctx context.Context, scope domain.Scope, id string, upd TestCaseUpdate) (domain.TestCaseRow, error) {
	owner, err := e.Auth.RequireOwner(ctx, nil, scope, repo.KindTestCase, id)
	if err != nil {
		return domain.TestCaseRow{}, err
	}
	row, err := e.Repo.GetTestCase(ctx, scope, id)
	if err != nil {
		return row, err
	}
	tc := row.TestCase
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&tc.Name, upd.Name)
	set(&tc.Description, upd.Description)
	set(&tc.TestSteps, upd.TestSteps)
	set(&tc.ExpectedResults, upd.ExpectedResults)
	set(&tc.Status, upd.Status)
	set(&tc.ExecutionStatus, upd.ExecutionStatus)
	set(&tc.Priority, upd.Priority)
	if upd.IsAutomated != nil {
		tc.IsAutomated = *upd.IsAutomated
	}
	if upd.AssigneeID != nil {
		tc.AssigneeID = optionalString(strings.TrimSpace(*upd.AssigneeID))
	}
	moved := upd.UserStoryID != nil && *upd.UserStoryID != tc.UserStoryID
	if moved {
		tc.UserStoryID = *upd.UserStoryID
		// Moving a case requires owning the destination story as well.
		if _, err := e.Auth.RequireOwner(ctx, nil, scope, repo.KindStory, tc.UserStoryID); err != nil {
			return row, err
		}
	}
	normalizeTestCase(&tc)
	if err := tc.Validate(); err != nil {
		return domain.TestCaseRow{TestCase: tc}, err
	}
	if err := e.checkAssignee(ctx, tc.AssigneeID); err != nil {
		return domain.TestCaseRow{TestCase: tc}, err
	}
	tc.UpdatedAt = e.stamp()

	tx, err := e.begin(ctx, scope)
	if err != nil {
		return row, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTestCase(ctx, tx, tc); err != nil {
		return row, err
	}
	if err := e.emit(ctx, tx, events.TestCaseUpdated, owner.ProjectID, repo.KindTestCase, tc.ID, scope, events.EventPayload{"name": tc.Name, "status": tc.Status, "moved": moved}); err != nil {
		return row, err
	}
	if err := tx.Commit(); err != nil {
		return row, err
	}
	return e.Repo.GetTestCase(ctx, scope, id)
}

func (e Engine) DeleteTestCase(ctx context.Context, scope domain.Scope, id string) error {
	return e.deleteNode(ctx, scope, repo.KindTestCase, id, events.TestCaseDeleted, e.Repo.DeleteTestCase)
}

func (e Engine) GetTestCase(ctx context.Context, scope domain.Scope, id string) (domain.TestCaseRow, error) {
	return e.Repo.GetTestCase(ctx, scope, id)
}

func (e Engine) ListTestCases(ctx context.Context, scope domain.Scope, f repo.TestCaseFilter) ([]domain.TestCaseRow, error) {
	return e.Repo.ListTestCases(ctx, scope, f)
}

var markable = map[string]bool{domain.ExecPassed: true, domain.ExecFailed: true, domain.ExecSkipped: true}

// MarkTestCase records a quick pass/fail/skip on the case itself and stamps
// last_executed. It does not create an execution.
func (e Engine) MarkTestCase(ctx context.Context, scope domain.Scope, id, status string) (domain.TestCaseRow, error) {
	if !markable[status] {
		return domain.TestCaseRow{}, domain.ValidationErrors{{Field: "status", Message: "Invalid status"}}
	}
	tx, err := e.begin(ctx, scope)
	if err != nil {
		return domain.TestCaseRow{}, err
	}
	defer tx.Rollback()
	owner, err := e.Auth.RequireOwner(ctx, tx, scope, repo.KindTestCase, id)
	if err != nil {
		return domain.TestCaseRow{}, err
	}
	if err := e.Repo.MarkTestCase(ctx, tx, id, status, e.stamp()); err != nil {
		return domain.TestCaseRow{}, err
	}
	if err := e.emit(ctx, tx, events.TestCaseMarked, owner.ProjectID, repo.KindTestCase, id, scope, events.EventPayload{"execution_status": status}); err != nil {
		return domain.TestCaseRow{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TestCaseRow{}, err
	}
	return e.Repo.GetTestCase(ctx, scope, id)
}
