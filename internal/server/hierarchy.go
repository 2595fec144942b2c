package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"testline/internal/domain"
	"testline/internal/engine"
	"testline/internal/repo"
)

var crudErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

type listQuery struct {
	Status string `query:"status"`
	Search string `query:"q"`
	Limit  int    `query:"limit" default:"50"`
	Cursor string `query:"cursor"`
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        crudErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		p, err := e.CreateProject(ctx, scope, domain.Project{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Status:      input.Body.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects owned by the current user",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *listQuery) (*struct {
		Body paginated[domain.Project] `json:"body"`
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
		items, err := e.ListProjects(ctx, scope, repo.ProjectFilter{
			Status: input.Status,
			Search: input.Search,
			Limit:  limit + 1,
			Cursor: cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginated[domain.Project] `json:"body"`
		}{Body: page(items, limit, func(p domain.Project) (string, string) { return p.CreatedAt, p.ID })}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get project",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		p, err := e.GetProject(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{id}",
		Summary:     "Update project",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		p, err := e.UpdateProject(ctx, scope, input.ID, engine.ProjectUpdate(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{id}",
		Summary:       "Delete project and everything beneath it",
		DefaultStatus: http.StatusNoContent,
		Errors:        crudErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		if err := e.DeleteProject(ctx, scope, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-epics",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/epics",
		Summary:     "Epics of a project, by name",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.Child `json:"body"`
	}, error) {
		return children(ctx, e, repo.KindProject, input.ID)
	})
}

func registerEpics(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-epic",
		Method:        http.MethodPost,
		Path:          "/epics",
		Summary:       "Create epic",
		DefaultStatus: http.StatusCreated,
		Errors:        crudErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateEpicRequest `json:"body"`
	}) (*struct {
		Body domain.Epic `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		ep, err := e.CreateEpic(ctx, scope, domain.Epic{
			ProjectID:   input.Body.ProjectID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Status:      input.Body.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Epic `json:"body"`
		}{Body: ep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-epics",
		Method:      http.MethodGet,
		Path:        "/epics",
		Summary:     "List epics",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		listQuery
		ProjectID string `query:"project_id"`
	}) (*struct {
		Body paginated[domain.Epic] `json:"body"`
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
		items, err := e.ListEpics(ctx, scope, repo.EpicFilter{
			ProjectID: input.ProjectID,
			Status:    input.Status,
			Search:    input.Search,
			Limit:     limit + 1,
			Cursor:    cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginated[domain.Epic] `json:"body"`
		}{Body: page(items, limit, func(ep domain.Epic) (string, string) { return ep.CreatedAt, ep.ID })}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-epic",
		Method:      http.MethodGet,
		Path:        "/epics/{id}",
		Summary:     "Get epic",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Epic `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		ep, err := e.GetEpic(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Epic `json:"body"`
		}{Body: ep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-epic",
		Method:      http.MethodPatch,
		Path:        "/epics/{id}",
		Summary:     "Update epic",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateEpicRequest `json:"body"`
	}) (*struct {
		Body domain.Epic `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		ep, err := e.UpdateEpic(ctx, scope, input.ID, engine.EpicUpdate(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Epic `json:"body"`
		}{Body: ep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-epic",
		Method:        http.MethodDelete,
		Path:          "/epics/{id}",
		Summary:       "Delete epic",
		DefaultStatus: http.StatusNoContent,
		Errors:        crudErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		if err := e.DeleteEpic(ctx, scope, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "epic-stories",
		Method:      http.MethodGet,
		Path:        "/epics/{id}/stories",
		Summary:     "User stories of an epic, by name",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.Child `json:"body"`
	}, error) {
		return children(ctx, e, repo.KindEpic, input.ID)
	})
}

func registerStories(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-story",
		Method:        http.MethodPost,
		Path:          "/stories",
		Summary:       "Create user story",
		DefaultStatus: http.StatusCreated,
		Errors:        crudErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateStoryRequest `json:"body"`
	}) (*struct {
		Body domain.UserStory `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		b := input.Body
		s, err := e.CreateStory(ctx, scope, domain.UserStory{
			EpicID:             b.EpicID,
			Name:               b.Name,
			Description:        b.Description,
			AcceptanceCriteria: b.AcceptanceCriteria,
			Status:             b.Status,
			Priority:           b.Priority,
			StoryPoints:        b.StoryPoints,
			AssigneeID:         b.AssigneeID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.UserStory `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-stories",
		Method:      http.MethodGet,
		Path:        "/stories",
		Summary:     "List user stories",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		listQuery
		ProjectID string `query:"project_id"`
		EpicID    string `query:"epic_id"`
		Priority  string `query:"priority"`
	}) (*struct {
		Body paginated[domain.UserStory] `json:"body"`
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
		items, err := e.ListStories(ctx, scope, repo.StoryFilter{
			ProjectID: input.ProjectID,
			EpicID:    input.EpicID,
			Status:    input.Status,
			Priority:  input.Priority,
			Search:    input.Search,
			Limit:     limit + 1,
			Cursor:    cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginated[domain.UserStory] `json:"body"`
		}{Body: page(items, limit, func(s domain.UserStory) (string, string) { return s.CreatedAt, s.ID })}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-story",
		Method:      http.MethodGet,
		Path:        "/stories/{id}",
		Summary:     "Get user story",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.UserStory `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		s, err := e.GetStory(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.UserStory `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-story",
		Method:      http.MethodPatch,
		Path:        "/stories/{id}",
		Summary:     "Update user story",
		Errors:      crudErrors,
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body UpdateStoryRequest `json:"body"`
	}) (*struct {
		Body domain.UserStory `json:"body"`
	}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		s, err := e.UpdateStory(ctx, scope, input.ID, engine.StoryUpdate(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.UserStory `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-story",
		Method:        http.MethodDelete,
		Path:          "/stories/{id}",
		Summary:       "Delete user story",
		DefaultStatus: http.StatusNoContent,
		Errors:        crudErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		scope, err := requireScope(ctx)
		if err != nil {
			return nil, err
		}
		if err := e.DeleteStory(ctx, scope, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func children(ctx context.Context, e engine.Engine, kind, id string) (*struct {
	Body []domain.Child `json:"body"`
}, error) {
	scope, err := requireScope(ctx)
	if err != nil {
		return nil, err
	}
	items, err := e.ChildrenOf(ctx, scope, kind, id)
	if err != nil {
		return nil, handleError(err)
	}
	return &struct {
		Body []domain.Child `json:"body"`
	}{Body: nonNilSlice(items)}, nil
}
