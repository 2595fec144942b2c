package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"testline/internal/domain"
	"testline/internal/events"
	"testline/internal/repo"
)

// BulkRunNameLayout formats the name of the run created for a bulk execution.
const BulkRunNameLayout = "Bulk Execution - 2006-01-02 15:04"

type StepInput struct {
	StepNumber      int
	StepDescription string
	ExpectedResult  string
	ActualResult    string
	Status          string
	Comments        string
}

// RecordInput is the outcome of running one execution.
type RecordInput struct {
	Status   string
	Comments string
	Duration *int
	Notes    string
	Steps    []StepInput
}

// RecordExecution stores an outcome on an existing execution. The acting user
// becomes the executor and the execution date is set to now unless the status
// is not_executed, in which case the previous date is kept.
func (e Engine) RecordExecution(ctx context.Context, scope domain.Scope, executionID string, in RecordInput) (domain.TestExecution, error) {
	tx, err := e.begin(ctx, scope)
	if err != nil {
		return domain.TestExecution{}, err
	}
	defer tx.Rollback()
	owner, err := e.Auth.RequireOwner(ctx, tx, scope, repo.KindExecution, executionID)
	if err != nil {
		return domain.TestExecution{}, err
	}
	x, err := e.Repo.GetExecutionTx(ctx, tx, scope, executionID)
	if err != nil {
		return x, err
	}
	now := e.stamp()
	executor := scope.UserID
	x.Status = in.Status
	x.Comments = strings.TrimSpace(in.Comments)
	x.Notes = strings.TrimSpace(in.Notes)
	x.ExecutionTimeMinutes = in.Duration
	x.ExecutorID = &executor
	if in.Status != domain.ExecNotExecuted {
		x.ExecutionDate = &now
	}
	if err := x.Validate(); err != nil {
		return x, err
	}
	steps := make([]domain.TestExecutionStep, 0, len(in.Steps))
	var errs domain.ValidationErrors
	for _, s := range in.Steps {
		st := domain.TestExecutionStep{
			ID:              e.newID(),
			ExecutionID:     x.ID,
			StepNumber:      s.StepNumber,
			StepDescription: strings.TrimSpace(s.StepDescription),
			ExpectedResult:  strings.TrimSpace(s.ExpectedResult),
			ActualResult:    strings.TrimSpace(s.ActualResult),
			Status:          s.Status,
			Comments:        strings.TrimSpace(s.Comments),
		}
		if st.Status == "" {
			st.Status = domain.ExecNotExecuted
		}
		if st.Status != domain.ExecNotExecuted {
			st.ExecutionDate = &now
		}
		var verrs domain.ValidationErrors
		if errors.As(st.Validate(), &verrs) {
			for _, v := range verrs {
				errs = append(errs, domain.ValidationError{Field: fmt.Sprintf("steps[%d].%s", s.StepNumber, v.Field), Message: v.Message})
			}
			continue
		}
		steps = append(steps, st)
	}
	if len(errs) > 0 {
		return x, errs
	}
	x.UpdatedAt = now
	if err := e.Repo.UpdateExecution(ctx, tx, x); err != nil {
		return x, err
	}
	for _, st := range steps {
		if err := e.Repo.UpsertStep(ctx, tx, st); err != nil {
			return x, fmt.Errorf("save step %d: %w", st.StepNumber, err)
		}
	}
	payload := events.EventPayload{"status": x.Status, "test_case_id": x.TestCaseID, "test_run_id": x.TestRunID, "steps": len(steps)}
	if err := e.emit(ctx, tx, events.ExecutionRecorded, owner.ProjectID, repo.KindExecution, x.ID, scope, payload); err != nil {
		return x, err
	}
	return x, tx.Commit()
}

type StepDetail struct {
	domain.TestExecutionStep
	StatusLabel string `json:"status_label"`
}

// ExecutionDetail is one execution prepared for display.
type ExecutionDetail struct {
	domain.ExecutionRecord
	StatusLabel   string       `json:"status_label"`
	PriorityLabel string       `json:"priority_label"`
	Executor      string       `json:"executor"`
	ExecutedOn    string       `json:"executed_on"`
	Duration      string       `json:"duration"`
	Steps         []StepDetail `json:"steps"`
}

func (e Engine) ExecutionDetail(ctx context.Context, scope domain.Scope, id string) (ExecutionDetail, error) {
	if _, err := e.Auth.RequireOwner(ctx, nil, scope, repo.KindExecution, id); err != nil {
		return ExecutionDetail{}, err
	}
	rec, err := e.Repo.GetExecutionRecord(ctx, scope, id)
	if err != nil {
		return ExecutionDetail{}, err
	}
	steps, err := e.Repo.ListSteps(ctx, nil, id)
	if err != nil {
		return ExecutionDetail{}, err
	}
	d := ExecutionDetail{
		ExecutionRecord: rec,
		StatusLabel:     domain.ExecutionStatusLabel(rec.Status),
		PriorityLabel:   domain.PriorityLabel(rec.TestCasePriority),
		Executor:        rec.ExecutorName(),
		ExecutedOn:      "Not executed",
		Duration:        "N/A",
		Steps:           make([]StepDetail, 0, len(steps)),
	}
	if d.Executor == "" {
		d.Executor = "Unassigned"
	}
	if at, ok := rec.ExecutedAt(); ok {
		d.ExecutedOn = at.UTC().Format("2006-01-02 15:04")
	}
	if rec.ExecutionTimeMinutes != nil && *rec.ExecutionTimeMinutes > 0 {
		d.Duration = fmt.Sprintf("%d min", *rec.ExecutionTimeMinutes)
	}
	for _, st := range steps {
		d.Steps = append(d.Steps, StepDetail{TestExecutionStep: st, StatusLabel: domain.StepStatusLabel(st.Status)})
	}
	return d, nil
}

type BulkRequest struct {
	TestCaseIDs []string
	Status      string
	Comments    string
	// RunID targets an existing run. When empty the executions go to the
	// acting user's "Bulk Execution - <minute>" run, created on first use.
	RunID string
}

type BulkResult struct {
	Success    bool     `json:"success"`
	Message    string   `json:"message"`
	Created    int      `json:"created_count"`
	Updated    int      `json:"updated_count"`
	TestRunID  string   `json:"test_run_id"`
	Unresolved []string `json:"unresolved,omitempty"`
}

// BulkExecute applies one status to many test cases. Each (test case, run)
// pair is updated when an execution exists and inserted otherwise. Everything
// happens in one transaction. Ids that do not resolve to owned test cases are
// skipped with a warning.
func (e Engine) BulkExecute(ctx context.Context, scope domain.Scope, req BulkRequest) (BulkResult, error) {
	var errs domain.ValidationErrors
	if !domain.ValidExecutionStatus(req.Status) {
		errs = append(errs, domain.ValidationError{Field: "status", Message: fmt.Sprintf("invalid execution status %q", req.Status)})
	}
	if len(req.TestCaseIDs) == 0 {
		errs = append(errs, domain.ValidationError{Field: "test_cases", Message: "select at least one test case"})
	}
	if len(errs) > 0 {
		return BulkResult{Message: errs.Error()}, errs
	}
	log := e.log().With(zap.String("user_id", scope.UserID), zap.Int("count", len(req.TestCaseIDs)))

	tx, err := e.begin(ctx, scope)
	if err != nil {
		return BulkResult{}, err
	}
	defer tx.Rollback()

	cases, err := e.Repo.ResolveTestCasesTx(ctx, tx, scope, req.TestCaseIDs)
	if err != nil {
		return BulkResult{}, err
	}
	res := BulkResult{Unresolved: unresolved(req.TestCaseIDs, cases)}
	if len(res.Unresolved) > 0 {
		log.Warn("bulk execution skipped unresolved test cases", zap.Strings("test_case_ids", res.Unresolved))
	}
	// A failed transaction wrote nothing, so no counts or run id survive it.
	fail := func(err error) (BulkResult, error) {
		return BulkResult{Message: err.Error(), Unresolved: res.Unresolved}, err
	}

	now := e.now().UTC()
	run, err := e.bulkRun(ctx, tx, scope, req.RunID, now)
	if err != nil {
		return fail(err)
	}
	res.TestRunID = run.ID

	stamp := now.Format(time.RFC3339)
	executor := scope.UserID
	comments := strings.TrimSpace(req.Comments)
	for _, tc := range cases {
		x, err := e.Repo.FindExecutionTx(ctx, tx, tc.ID, run.ID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			x = domain.TestExecution{
				ID:            e.newID(),
				TestCaseID:    tc.ID,
				TestRunID:     run.ID,
				ExecutorID:    &executor,
				Status:        req.Status,
				ExecutionDate: &stamp,
				Comments:      comments,
				CreatedAt:     stamp,
				UpdatedAt:     stamp,
			}
			if err := e.Repo.InsertExecution(ctx, tx, x); err != nil {
				log.Error("bulk execution insert failed", zap.String("test_case_id", tc.ID), zap.Error(err))
				return fail(fmt.Errorf("insert execution for test case %s: %w", tc.ID, err))
			}
			res.Created++
		case err != nil:
			return fail(err)
		default:
			x.Status = req.Status
			x.ExecutorID = &executor
			x.ExecutionDate = &stamp
			x.Comments = comments
			x.UpdatedAt = stamp
			if err := e.Repo.UpdateExecutionOutcome(ctx, tx, x); err != nil {
				log.Error("bulk execution update failed", zap.String("execution_id", x.ID), zap.Error(err))
				return fail(fmt.Errorf("update execution %s: %w", x.ID, err))
			}
			res.Updated++
		}
	}
	payload := events.EventPayload{
		"status":     req.Status,
		"created":    res.Created,
		"updated":    res.Updated,
		"unresolved": len(res.Unresolved),
	}
	if err := e.emit(ctx, tx, events.BulkExecutionDone, "", repo.KindRun, run.ID, scope, payload); err != nil {
		return fail(err)
	}
	if err := tx.Commit(); err != nil {
		return fail(err)
	}
	res.Success = true
	res.Message = fmt.Sprintf("Updated %d executions", res.Created+res.Updated)
	return res, nil
}

func (e Engine) bulkRun(ctx context.Context, tx *sql.Tx, scope domain.Scope, runID string, now time.Time) (domain.TestRun, error) {
	if runID != "" {
		return e.Repo.GetRunTx(ctx, tx, scope, runID)
	}
	name := now.Format(BulkRunNameLayout)
	run, err := e.Repo.FindRunByNameTx(ctx, tx, scope, name)
	if err == nil || !errors.Is(err, repo.ErrNotFound) {
		return run, err
	}
	stamp := now.Format(time.RFC3339)
	run = domain.TestRun{
		ID:        e.newID(),
		Name:      name,
		Status:    domain.RunInProgress,
		OwnerID:   scope.UserID,
		CreatedAt: stamp,
		UpdatedAt: stamp,
	}
	if err := e.Repo.InsertRun(ctx, tx, run); err != nil {
		return run, fmt.Errorf("insert bulk run: %w", err)
	}
	if err := e.emit(ctx, tx, events.RunCreated, "", repo.KindRun, run.ID, scope, events.EventPayload{"name": run.Name, "status": run.Status}); err != nil {
		return run, err
	}
	return run, nil
}

func unresolved(ids []string, cases []domain.TestCaseRow) []string {
	found := make(map[string]bool, len(cases))
	for _, tc := range cases {
		found[tc.ID] = true
	}
	var out []string
	for _, id := range ids {
		if !found[id] {
			out = append(out, id)
		}
	}
	return out
}
