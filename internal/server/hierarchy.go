package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"loanops/internal/engine"
	"loanops/internal/engine/auth"
)

func registerHierarchy(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "assign-manager",
		Method:      http.MethodPost,
		Path:        "/admin/hierarchy/assign",
		Summary:     "Assign a manager",
		Description: "Makes managerId the single manager of subordinateId, replacing any previous edge. Rejected with 409 when the edge would create a reporting cycle.",
		Tags:        []string{"hierarchy"},
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body HierarchyAssignRequest `json:"body"`
	}) (*struct {
		Body HierarchyEdgeResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, auth.PermHierarchyManage); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		edge, err := e.AssignManager(ctx, actorID, input.Body.SubordinateID, input.Body.ManagerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HierarchyEdgeResponse `json:"body"`
		}{Body: edgeResponse(edge)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-manager",
		Method:      http.MethodDelete,
		Path:        "/admin/hierarchy/remove",
		Summary:     "Remove a manager",
		Description: "Deletes the manager edge of subordinateId. Removing a missing edge succeeds with removed=false.",
		Tags:        []string{"hierarchy"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body HierarchyRemoveRequest `json:"body"`
	}) (*struct {
		Body HierarchyRemoveResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, auth.PermHierarchyManage); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		removed, err := e.RemoveManager(ctx, actorID, input.Body.SubordinateID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HierarchyRemoveResponse `json:"body"`
		}{Body: HierarchyRemoveResponse{SubordinateID: input.Body.SubordinateID, Removed: removed}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "hierarchy-tree",
		Method:      http.MethodGet,
		Path:        "/admin/hierarchy/tree",
		Summary:     "Reporting forest",
		Tags:        []string{"hierarchy"},
		Errors:      []int{http.StatusForbidden, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TreeResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, auth.PermHierarchyRead); err != nil {
			return nil, handleError(err)
		}
		forest, err := e.GetTree(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TreeResponse `json:"body"`
		}{Body: TreeResponse{Roots: treeResponse(forest)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-manager",
		Method:      http.MethodGet,
		Path:        "/users/me/manager",
		Summary:     "Direct manager of the caller",
		Tags:        []string{"hierarchy"},
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ManagerResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return managerOf(ctx, e, actorID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-subordinates",
		Method:      http.MethodGet,
		Path:        "/users/me/subordinates",
		Summary:     "Direct reports of the caller",
		Tags:        []string{"hierarchy"},
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SubordinatesResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return subordinatesOf(ctx, e, actorID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "user-manager",
		Method:      http.MethodGet,
		Path:        "/users/{id}/manager",
		Summary:     "Direct manager of a user",
		Tags:        []string{"hierarchy"},
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ManagerResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, auth.PermHierarchyRead); err != nil {
			return nil, handleError(err)
		}
		return managerOf(ctx, e, input.ID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "user-subordinates",
		Method:      http.MethodGet,
		Path:        "/users/{id}/subordinates",
		Summary:     "Direct reports of a user",
		Tags:        []string{"hierarchy"},
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body SubordinatesResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, auth.PermHierarchyRead); err != nil {
			return nil, handleError(err)
		}
		return subordinatesOf(ctx, e, input.ID)
	})
}

func managerOf(ctx context.Context, e engine.Engine, userID string) (*struct {
	Body ManagerResponse `json:"body"`
}, error) {
	mgr, err := e.ManagerOf(ctx, userID)
	if err != nil {
		return nil, handleError(err)
	}
	resp := ManagerResponse{UserID: userID}
	if mgr != nil {
		u := userResponse(*mgr)
		resp.Manager = &u
	}
	return &struct {
		Body ManagerResponse `json:"body"`
	}{Body: resp}, nil
}

func subordinatesOf(ctx context.Context, e engine.Engine, userID string) (*struct {
	Body SubordinatesResponse `json:"body"`
}, error) {
	subs, err := e.SubordinatesOf(ctx, userID)
	if err != nil {
		return nil, handleError(err)
	}
	return &struct {
		Body SubordinatesResponse `json:"body"`
	}{Body: SubordinatesResponse{UserID: userID, Subordinates: mapUsers(subs)}}, nil
}
