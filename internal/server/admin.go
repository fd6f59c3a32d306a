package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"loanops/internal/domain"
	"loanops/internal/engine"
	"loanops/internal/engine/auth"
	"loanops/internal/repo"
)

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit events, newest first",
		Tags:        []string{"events"},
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Cursor     int64  `query:"cursor" doc:"Return events with id <= cursor"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, auth.PermEventsRead); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     input.Cursor,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			resp.NextCursor = items[limit].ID
			items = items[:limit]
		}
		resp.Items = nonNilSlice(items)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerRBAC(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-roles",
		Method:      http.MethodGet,
		Path:        "/rbac/roles",
		Summary:     "Configured roles",
		Tags:        []string{"rbac"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []RoleResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		var roles []RoleResponse
		if e.Config != nil {
			for _, id := range e.Config.RoleIDs() {
				r := e.Config.RBAC.Roles[id]
				roles = append(roles, RoleResponse{
					ID:          id,
					Description: r.Description,
					Permissions: nonNilSlice(r.Permissions),
					Inherits:    r.Inherits,
				})
			}
		}
		return &struct {
			Body []RoleResponse `json:"body"`
		}{Body: nonNilSlice(roles)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "user-roles",
		Method:      http.MethodGet,
		Path:        "/rbac/users/{id}/roles",
		Summary:     "Effective roles of a user",
		Tags:        []string{"rbac"},
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body UserRolesResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, auth.PermRBACManage); err != nil {
			return nil, handleError(err)
		}
		// A fresh context keeps the caller's token roles out of the lookup.
		who, err := e.WhoAmI(context.Background(), input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserRolesResponse `json:"body"`
		}{Body: UserRolesResponse{UserID: input.ID, Roles: nonNilSlice(who.Roles)}}, nil
	})

	type roleChangeOutput struct {
		Body UserRolesResponse `json:"body"`
	}
	roleChange := func(grant bool) func(context.Context, *struct {
		Body RoleChangeRequest `json:"body"`
	}) (*roleChangeOutput, error) {
		return func(ctx context.Context, input *struct {
			Body RoleChangeRequest `json:"body"`
		}) (*roleChangeOutput, error) {
			if err := requirePermission(ctx, e, auth.PermRBACManage); err != nil {
				return nil, handleError(err)
			}
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			var err error
			if grant {
				err = e.GrantRole(ctx, actorID, input.Body.UserID, input.Body.Role)
			} else {
				_, err = e.RevokeRole(ctx, actorID, input.Body.UserID, input.Body.Role)
			}
			if err != nil {
				return nil, handleError(err)
			}
			roles, err := e.Repo.UserRoles(ctx, input.Body.UserID)
			if err != nil {
				return nil, handleError(err)
			}
			return &roleChangeOutput{Body: UserRolesResponse{UserID: input.Body.UserID, Roles: nonNilSlice(roles)}}, nil
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "grant-role",
		Method:      http.MethodPost,
		Path:        "/rbac/roles/grant",
		Summary:     "Grant a role",
		Tags:        []string{"rbac"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, roleChange(true))
	huma.Register(api, huma.Operation{
		OperationID: "revoke-role",
		Method:      http.MethodPost,
		Path:        "/rbac/roles/revoke",
		Summary:     "Revoke a role",
		Tags:        []string{"rbac"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, roleChange(false))
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		roles := principal.Roles
		perms := principal.Permissions
		if e.Auth != nil {
			who, err := e.WhoAmI(ctx, principal.ActorID)
			if err != nil {
				return nil, handleError(err)
			}
			roles = who.Roles
			perms = mergeStrings(perms, who.Permissions)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     principal.ActorID,
			Source:      principal.Source,
			Roles:       nonNilSlice(roles),
			Permissions: nonNilSlice(perms),
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, input.Body.Roles, input.Body.Permissions, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func mergeStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
