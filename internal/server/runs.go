package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"testline/internal/domain"
	"testline/internal/engine"
	"testline/internal/repo"
)

func registerRuns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-run",
		Method:        http.MethodPost,
		Path:          "/runs",
		Summary:       "Create test run",
		DefaultStatus: http.StatusCreated,
		Errors:        crudErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateRunRequest `json:"body"`
	}) (*struct {
		Body domain.TestRun `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		run, err := e.CreateRun(ctx, scope, domain.TestRun{
			Name:          input.Body.Name,
			Description:   input.Body.Description,
			Status:        input.Body.Status,
			ScheduledDate: input.Body.ScheduledDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TestRun `json:"body"`
		}{Body: run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List test runs",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		listQuery
		CreatedFrom string `query:"created_from" doc:"RFC3339 lower bound on created_at"`
		CreatedTo   string `query:"created_to" doc:"RFC3339 upper bound on created_at"`
	}) (*struct {
		Body paginated[domain.TestRun] `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		cursor, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, err
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.ListRuns(ctx, scope, repo.RunFilter{
			Status:      input.Status,
			CreatedFrom: input.CreatedFrom,
			CreatedTo:   input.CreatedTo,
			Search:      input.Search,
			Limit:       limit + 1,
			Cursor:      cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginated[domain.TestRun] `json:"body"`
		}{Body: page(items, limit, func(r domain.TestRun) (string, string) { return r.CreatedAt, r.ID })}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{id}",
		Summary:     "Get test run",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.TestRun `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		run, err := e.GetRun(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TestRun `json:"body"`
		}{Body: run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-run",
		Method:      http.MethodPatch,
		Path:        "/runs/{id}",
		Summary:     "Update test run",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body UpdateRunRequest `json:"body"`
	}) (*struct {
		Body domain.TestRun `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		run, err := e.UpdateRun(ctx, scope, input.ID, engine.RunUpdate(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TestRun `json:"body"`
		}{Body: run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-run",
		Method:        http.MethodDelete,
		Path:          "/runs/{id}",
		Summary:       "Delete test run and its executions",
		DefaultStatus: http.StatusNoContent,
		Errors:        crudErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		if err := e.DeleteRun(ctx, scope, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-run-from-suite",
		Method:        http.MethodPost,
		Path:          "/runs/from-suite",
		Summary:       "Create a run with one pending execution per suite member",
		DefaultStatus: http.StatusCreated,
		Errors:        crudErrors,
	}, func(ctx context.Context, input *struct {
		Body RunFromSuiteRequest `json:"body"`
	}) (*struct {
		Body RunFromSuiteResponse `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		run, n, err := e.CreateRunFromSuite(ctx, scope, input.Body.SuiteID, input.Body.Name, input.Body.Description)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunFromSuiteResponse `json:"body"`
		}{Body: RunFromSuiteResponse{Success: true, TestRunID: run.ID, Executions: n, Run: run}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-executions",
		Method:      http.MethodGet,
		Path:        "/runs/{id}/executions",
		Summary:     "Executions of a run, highest priority first",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.ExecutionRecord `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		records, err := e.RunExecutions(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ExecutionRecord `json:"body"`
		}{Body: nonNilSlice(records)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-summary",
		Method:      http.MethodGet,
		Path:        "/runs/{id}/summary",
		Summary:     "Metrics restricted to one run",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body MetricsResponse `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		res, err := e.RunSummary(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MetricsResponse `json:"body"`
		}{Body: metricsResponse(res)}, nil
	})
}

func registerExecutions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-execution",
		Method:      http.MethodGet,
		Path:        "/executions/{id}",
		Summary:     "Execution detail with steps and display labels",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body engine.ExecutionDetail `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		d, err := e.ExecutionDetail(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ExecutionDetail `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-execution",
		Method:      http.MethodPost,
		Path:        "/executions/{id}/record",
		Summary:     "Record the outcome of an execution",
		Description: "The current user becomes the executor. Steps are upserted by step_number.",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body RecordExecutionRequest `json:"body"`
	}) (*struct {
		Body domain.TestExecution `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		x, err := e.RecordExecution(ctx, scope, input.ID, recordInput(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TestExecution `json:"body"`
		}{Body: x}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bulk-execute",
		Method:      http.MethodPost,
		Path:        "/executions/bulk",
		Summary:     "Apply one status to many test cases",
		Description: "Creates or updates one execution per (test case, run). Without test_run_id the " +
			"executions go to the current user's \"Bulk Execution - <minute>\" run.",
		Errors: crudErrors,
	}, func(ctx context.Context, input *struct {
		Body BulkExecutionRequest `json:"body"`
	}) (*struct {
		Body engine.BulkResult `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		res, err := e.BulkExecute(ctx, scope, engine.BulkRequest{
			TestCaseIDs: input.Body.TestCaseIDs,
			Status:      input.Body.Status,
			Comments:    input.Body.Comments,
			RunID:       input.Body.TestRunID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.BulkResult `json:"body"`
		}{Body: res}, nil
	})
}
