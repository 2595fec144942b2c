package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"testline/internal/domain"
	"testline/internal/engine"
	"testline/internal/repo"
)

type testCaseQuery struct {
	ProjectID       string `query:"project_id"`
	EpicID          string `query:"epic_id"`
	StoryID         string `query:"story_id"`
	Status          string `query:"status"`
	Priority        string `query:"priority"`
	ExecutionStatus string `query:"execution_status"`
	Search          string `query:"q"`
}

func (q testCaseQuery) filter() repo.TestCaseFilter {
	return repo.TestCaseFilter{
		ProjectID:       q.ProjectID,
		EpicID:          q.EpicID,
		StoryID:         q.StoryID,
		Status:          q.Status,
		Priority:        q.Priority,
		ExecutionStatus: q.ExecutionStatus,
		Search:          q.Search,
	}
}

func registerTestCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-test-case",
		Method:        http.MethodPost,
		Path:          "/test-cases",
		Summary:       "Create test case",
		DefaultStatus: http.StatusCreated,
		Errors:        crudErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTestCaseRequest `json:"body"`
	}) (*struct {
		Body domain.TestCaseRow `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		b := input.Body
		tc, err := e.CreateTestCase(ctx, scope, domain.TestCase{
			UserStoryID:     b.UserStoryID,
			Name:            b.Name,
			Description:     b.Description,
			TestSteps:       b.TestSteps,
			ExpectedResults: b.ExpectedResults,
			Status:          b.Status,
			Priority:        b.Priority,
			IsAutomated:     b.IsAutomated,
			AssigneeID:      b.AssigneeID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TestCaseRow `json:"body"`
		}{Body: tc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-test-cases",
		Method:      http.MethodGet,
		Path:        "/test-cases",
		Summary:     "List test cases",
		Description: "Search matches the test case name and description and the names of its story, epic and project.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		testCaseQuery
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginated[domain.TestCaseRow] `json:"body"`
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
		f := input.filter()
		f.Limit = limit + 1
		f.Cursor = cursor
		items, err := e.ListTestCases(ctx, scope, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginated[domain.TestCaseRow] `json:"body"`
		}{Body: page(items, limit, func(tc domain.TestCaseRow) (string, string) { return tc.CreatedAt, tc.ID })}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-test-case",
		Method:      http.MethodGet,
		Path:        "/test-cases/{id}",
		Summary:     "Get test case",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.TestCaseRow `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		tc, err := e.GetTestCase(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TestCaseRow `json:"body"`
		}{Body: tc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-test-case",
		Method:      http.MethodPatch,
		Path:        "/test-cases/{id}",
		Summary:     "Update test case",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body UpdateTestCaseRequest `json:"body"`
	}) (*struct {
		Body domain.TestCaseRow `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		tc, err := e.UpdateTestCase(ctx, scope, input.ID, engine.TestCaseUpdate(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TestCaseRow `json:"body"`
		}{Body: tc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-test-case",
		Method:        http.MethodDelete,
		Path:          "/test-cases/{id}",
		Summary:       "Delete test case",
		DefaultStatus: http.StatusNoContent,
		Errors:        crudErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		if err := e.DeleteTestCase(ctx, scope, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-test-case",
		Method:      http.MethodPost,
		Path:        "/test-cases/{id}/mark",
		Summary:     "Quick-mark the execution status of a test case",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body MarkTestCaseRequest `json:"body"`
	}) (*struct {
		Body domain.TestCaseRow `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		tc, err := e.MarkTestCase(ctx, scope, input.ID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TestCaseRow `json:"body"`
		}{Body: tc}, nil
	})
}

func registerSuites(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-suite",
		Method:        http.MethodPost,
		Path:          "/suites",
		Summary:       "Create test suite",
		DefaultStatus: http.StatusCreated,
		Errors:        crudErrors,
	}, func(ctx context.Context, input *struct {
		Body SuiteRequest `json:"body"`
	}) (*struct {
		Body domain.TestSuite `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		s, err := e.CreateSuite(ctx, scope, domain.TestSuite{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			TestCaseIDs: input.Body.TestCaseIDs,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TestSuite `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-suites",
		Method:      http.MethodGet,
		Path:        "/suites",
		Summary:     "List test suites",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		Search    string `query:"q"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginated[domain.TestSuite] `json:"body"`
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
		items, err := e.ListSuites(ctx, scope, repo.SuiteFilter{
			ProjectID: input.ProjectID,
			Search:    input.Search,
			Limit:     limit + 1,
			Cursor:    cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginated[domain.TestSuite] `json:"body"`
		}{Body: page(items, limit, func(s domain.TestSuite) (string, string) { return s.CreatedAt, s.ID })}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-suite",
		Method:      http.MethodGet,
		Path:        "/suites/{id}",
		Summary:     "Get test suite",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.TestSuite `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		s, err := e.GetSuite(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TestSuite `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-suite",
		Method:      http.MethodPatch,
		Path:        "/suites/{id}",
		Summary:     "Update test suite",
		Description: "test_case_ids, when present, replaces the membership set.",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body UpdateSuiteRequest `json:"body"`
	}) (*struct {
		Body domain.TestSuite `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		s, err := e.UpdateSuite(ctx, scope, input.ID, engine.SuiteUpdate(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TestSuite `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-suite",
		Method:        http.MethodDelete,
		Path:          "/suites/{id}",
		Summary:       "Delete test suite",
		DefaultStatus: http.StatusNoContent,
		Errors:        crudErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		if err := e.DeleteSuite(ctx, scope, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "suite-statistics",
		Method:      http.MethodGet,
		Path:        "/suite-statistics",
		Summary:     "Member statistics per suite",
		Description: "Restricted to one suite when suite_id is given.",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *struct {
		SuiteID string `query:"suite_id"`
	}) (*struct {
		Body []repo.SuiteStats `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		stats, err := e.SuiteStatistics(ctx, scope, input.SuiteID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []repo.SuiteStats `json:"body"`
		}{Body: nonNilSlice(stats)}, nil
	})
}
