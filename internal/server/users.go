package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"loanops/internal/engine"
	"loanops/internal/engine/auth"
)

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/admin/users",
		Summary:     "List directory users",
		Tags:        []string{"users"},
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		IncludeInactive bool `query:"include_inactive"`
	}) (*struct {
		Body []UserResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, auth.PermUserManage); err != nil {
			return nil, handleError(err)
		}
		users, err := e.ListUsers(ctx, input.IncludeInactive)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []UserResponse `json:"body"`
		}{Body: mapUsers(users)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "upsert-user",
		Method:        http.MethodPost,
		Path:          "/admin/users",
		Summary:       "Create or replace a directory user",
		Tags:          []string{"users"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, auth.PermUserManage); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.UpsertUser(ctx, actorID, engine.UserInput{
			ID:       input.Body.ID,
			Name:     input.Body.Name,
			Email:    input.Body.Email,
			IsActive: input.Body.IsActive,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-user",
		Method:      http.MethodPatch,
		Path:        "/admin/users/{id}",
		Summary:     "Update a directory user",
		Description: "Changing only is_active records an activation event; other fields go through the upsert path.",
		Tags:        []string{"users"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateUserRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requirePermission(ctx, e, auth.PermUserManage); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Name == nil && input.Body.Email == nil {
			if input.Body.IsActive == nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "nothing to update", nil)
			}
			u, err := e.SetUserActive(ctx, actorID, input.ID, *input.Body.IsActive)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body UserResponse `json:"body"`
			}{Body: userResponse(u)}, nil
		}
		current, err := e.GetUser(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		in := engine.UserInput{ID: current.ID, Name: current.Name, Email: current.Email, IsActive: &current.IsActive}
		if input.Body.Name != nil {
			in.Name = *input.Body.Name
		}
		if input.Body.Email != nil {
			in.Email = *input.Body.Email
		}
		if input.Body.IsActive != nil {
			in.IsActive = input.Body.IsActive
		}
		u, err := e.UpsertUser(ctx, actorID, in)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})
}
