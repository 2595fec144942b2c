package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"testline/internal/domain"
	"testline/internal/events"
	"testline/internal/metrics"
	"testline/internal/repo"
)

type RunUpdate struct {
	Name          *string
	Description   *string
	Status        *string
	ScheduledDate *string
}

func (e Engine) CreateRun(ctx context.Context, scope domain.Scope, run domain.TestRun) (domain.TestRun, error) {
	run.Name = strings.TrimSpace(run.Name)
	run.Description = strings.TrimSpace(run.Description)
	if run.Status == "" {
		run.Status = domain.RunNotStarted
	}
	if err := run.Validate(); err != nil {
		return run, err
	}
	tx, err := e.begin(ctx, scope)
	if err != nil {
		return run, err
	}
	defer tx.Rollback()
	now := e.stamp()
	run.ID = e.newID()
	run.OwnerID = scope.UserID
	run.CreatedAt, run.UpdatedAt = now, now
	if err := e.Repo.InsertRun(ctx, tx, run); err != nil {
		return run, fmt.Errorf("insert run: %w", err)
	}
	if err := e.emit(ctx, tx, events.RunCreated, "", repo.KindRun, run.ID, scope, events.EventPayload{"name": run.Name, "status": run.Status}); err != nil {
		return run, err
	}
	return run, tx.Commit()
}

func (e Engine) UpdateRun(ctx context.Context, scope domain.Scope, id string, upd RunUpdate) (domain.TestRun, error) {
	tx, err := e.begin(ctx, scope)
	if err != nil {
		return domain.TestRun{}, err
	}
	defer tx.Rollback()
	if _, err := e.Auth.RequireOwner(ctx, tx, scope, repo.KindRun, id); err != nil {
		return domain.TestRun{}, err
	}
	run, err := e.Repo.GetRunTx(ctx, tx, scope, id)
	if err != nil {
		return run, err
	}
	if upd.Name != nil {
		run.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Description != nil {
		run.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.Status != nil {
		run.Status = *upd.Status
	}
	if upd.ScheduledDate != nil {
		run.ScheduledDate = optionalString(strings.TrimSpace(*upd.ScheduledDate))
	}
	if err := run.Validate(); err != nil {
		return run, err
	}
	run.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateRun(ctx, tx, run); err != nil {
		return run, err
	}
	if err := e.emit(ctx, tx, events.RunUpdated, "", repo.KindRun, run.ID, scope, events.EventPayload{"name": run.Name, "status": run.Status}); err != nil {
		return run, err
	}
	return run, tx.Commit()
}

// DeleteRun removes the run and, through the foreign key cascade, its
// executions and their steps.
func (e Engine) DeleteRun(ctx context.Context, scope domain.Scope, id string) error {
	return e.deleteNode(ctx, scope, repo.KindRun, id, events.RunDeleted, e.Repo.DeleteRun)
}

func (e Engine) GetRun(ctx context.Context, scope domain.Scope, id string) (domain.TestRun, error) {
	return e.Repo.GetRun(ctx, scope, id)
}

func (e Engine) ListRuns(ctx context.Context, scope domain.Scope, f repo.RunFilter) ([]domain.TestRun, error) {
	if f.Status != "" && !domain.ValidRunStatus(f.Status) {
		return nil, invalid("unknown run status %q", f.Status)
	}
	return e.Repo.ListRuns(ctx, scope, f)
}

// CreateRunFromSuite starts a run holding one not_executed execution per
// suite member, assigned to the acting user. It returns the run and the
// number of executions created.
func (e Engine) CreateRunFromSuite(ctx context.Context, scope domain.Scope, suiteID, name, description string) (domain.TestRun, int, error) {
	name = strings.TrimSpace(name)
	if strings.TrimSpace(suiteID) == "" || name == "" {
		return domain.TestRun{}, 0, invalid("Missing required fields")
	}
	run := domain.TestRun{
		Name:        name,
		Description: strings.TrimSpace(description),
		Status:      domain.RunNotStarted,
	}
	if err := run.Validate(); err != nil {
		return run, 0, err
	}
	tx, err := e.begin(ctx, scope)
	if err != nil {
		return run, 0, err
	}
	defer tx.Rollback()
	suite, err := e.Repo.GetSuiteTx(ctx, tx, scope, suiteID)
	if errors.Is(err, repo.ErrNotFound) {
		return run, 0, fmt.Errorf("test suite not found: %w", err)
	}
	if err != nil {
		return run, 0, err
	}
	now := e.stamp()
	run.ID = e.newID()
	run.OwnerID = scope.UserID
	run.CreatedAt, run.UpdatedAt = now, now
	if err := e.Repo.InsertRun(ctx, tx, run); err != nil {
		return run, 0, fmt.Errorf("insert run: %w", err)
	}
	executor := scope.UserID
	for _, caseID := range suite.TestCaseIDs {
		x := domain.TestExecution{
			ID:         e.newID(),
			TestCaseID: caseID,
			TestRunID:  run.ID,
			ExecutorID: &executor,
			Status:     domain.ExecNotExecuted,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := e.Repo.InsertExecution(ctx, tx, x); err != nil {
			return run, 0, fmt.Errorf("insert execution for test case %s: %w", caseID, err)
		}
	}
	payload := events.EventPayload{"name": run.Name, "suite_id": suite.ID, "executions": len(suite.TestCaseIDs)}
	if err := e.emit(ctx, tx, events.RunCreated, "", repo.KindRun, run.ID, scope, payload); err != nil {
		return run, 0, err
	}
	if err := tx.Commit(); err != nil {
		return run, 0, err
	}
	e.log().Info("run created from suite",
		zap.String("user_id", scope.UserID), zap.String("suite_id", suite.ID), zap.String("run_id", run.ID), zap.Int("count", len(suite.TestCaseIDs)))
	return run, len(suite.TestCaseIDs), nil
}

// RunExecutions lists the executions of one run, most urgent test case first.
func (e Engine) RunExecutions(ctx context.Context, scope domain.Scope, runID string) ([]domain.ExecutionRecord, error) {
	if _, err := e.Repo.GetRun(ctx, scope, runID); err != nil {
		return nil, err
	}
	return e.Repo.ListExecutionRecords(ctx, scope, repo.ExecutionFilter{RunID: runID, Order: repo.OrderPriority})
}

// RunSummary computes the metrics snapshot over one run's executions.
func (e Engine) RunSummary(ctx context.Context, scope domain.Scope, runID string) (metrics.Result, error) {
	records, err := e.RunExecutions(ctx, scope, runID)
	if err != nil {
		return metrics.Result{}, err
	}
	return e.calculator().Compute(ctx, records), nil
}
