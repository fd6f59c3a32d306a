package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"loanops/internal/domain"
	"loanops/internal/engine"
	"loanops/internal/engine/auth"
	"loanops/internal/repo"
)

func (r CreateTaskRequest) options(actorID string) engine.TaskCreateOptions {
	opts := engine.TaskCreateOptions{
		Title:      r.Title,
		AssignedTo: r.AssignedTo,
		Type:       domain.TaskType(r.TaskType),
		ActorID:    actorID,
	}
	if r.ID != nil {
		opts.ID = *r.ID
	}
	if r.Description != nil {
		opts.Description = *r.Description
	}
	if r.Direction != nil {
		opts.Direction = domain.Direction(*r.Direction)
	}
	if r.LinkedCaseID != nil {
		opts.LinkedCaseID = *r.LinkedCaseID
	}
	if r.Priority != nil {
		opts.Priority = domain.Priority(*r.Priority)
	}
	if r.DueDate != nil {
		opts.DueDate = *r.DueDate
	}
	return opts
}

var taskErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		Description:   "The caller becomes the assigner. HIERARCHICAL tasks must follow a direct reporting line in the given direction.",
		Tags:          []string{"tasks"},
		DefaultStatus: http.StatusCreated,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, auth.PermTaskCreate); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, input.Body.options(actorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-task",
		Method:      http.MethodPost,
		Path:        "/tasks/validate",
		Summary:     "Dry-run task routing",
		Description: "Runs every create-time check without storing anything.",
		Tags:        []string{"tasks"},
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body ValidateTaskResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, auth.PermTaskCreate); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.ValidateTask(ctx, input.Body.options(actorID)); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ValidateTaskResponse `json:"body"`
		}{Body: ValidateTaskResponse{Valid: true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Tags:        []string{"tasks"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AssignedTo string `query:"assigned_to"`
		AssignedBy string `query:"assigned_by"`
		Mine       bool   `query:"mine" doc:"Only tasks where the caller is assignee or assigner"`
		Status     string `query:"status"`
		TaskType   string `query:"task_type"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, auth.PermTaskRead); err != nil {
			return nil, handleError(err)
		}
		f := repo.TaskFilters{
			AssignedTo: input.AssignedTo,
			AssignedBy: input.AssignedBy,
			Status:     input.Status,
			Type:       input.TaskType,
			Limit:      normalizeLimit(input.Limit),
		}
		if input.Mine {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			f.Participant = actorID
		}
		tasks, err := e.ListTasks(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: nonNilSlice(tasks)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Tags:        []string{"tasks"},
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, auth.PermTaskRead); err != nil {
			return nil, handleError(err)
		}
		t, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update task",
		Description: "Only the assigner or a task manager may edit. The routing rule is re-checked against the current hierarchy.",
		Tags:        []string{"tasks"},
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, auth.PermTaskCreate); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		opts := engine.TaskUpdateOptions{
			ID:           input.ID,
			ActorID:      actorID,
			Title:        b.Title,
			Description:  b.Description,
			AssignedTo:   b.AssignedTo,
			LinkedCaseID: b.LinkedCaseID,
			DueDate:      b.DueDate,
		}
		if b.TaskType != nil {
			tt := domain.TaskType(*b.TaskType)
			opts.Type = &tt
		}
		if b.Priority != nil {
			p := domain.Priority(*b.Priority)
			opts.Priority = &p
		}
		if b.Direction != nil {
			d := domain.Direction(*b.Direction)
			opts.Direction = &d
		} else if raw, ok := rawBodyMap(ctx)["direction"]; ok && isNullRaw(raw) {
			none := domain.DirectionNone
			opts.Direction = &none
		}
		t, err := e.UpdateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}/status",
		Summary:     "Set task status",
		Tags:        []string{"tasks"},
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body SetStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.SetTaskStatus(ctx, actorID, input.ID, domain.Status(input.Body.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}",
		Summary:       "Delete task",
		Description:   "Comments are removed with the task.",
		Tags:          []string{"tasks"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, e, auth.PermTaskManage); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, actorID, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/comments",
		Summary:       "Comment on a task",
		Tags:          []string{"tasks"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body CreateCommentRequest `json:"body"`
	}) (*struct {
		Body domain.TaskComment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, actorID, input.ID, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TaskComment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/comments",
		Summary:     "List task comments",
		Tags:        []string{"tasks"},
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.TaskComment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		comments, err := e.ListComments(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TaskComment `json:"body"`
		}{Body: nonNilSlice(comments)}, nil
	})
}
