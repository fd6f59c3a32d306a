package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/sirupsen/logrus"

	"loanops/internal/config"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Permission ids checked by the engine.
const (
	PermHierarchyManage = "hierarchy.manage"
	PermHierarchyRead   = "hierarchy.read"
	PermUserManage      = "user.manage"
	PermTaskCreate      = "task.create"
	PermTaskRead        = "task.read"
	PermTaskManage      = "task.manage"
	PermEventsRead      = "events.read"
	PermRBACManage      = "rbac.manage"
)

const rbacModel = `
[request_definition]
r = sub, act

[policy_definition]
p = sub, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.act, p.act)
`

const rolePrefix = "role:"

// RoleSource returns the roles persisted for a user.
type RoleSource interface {
	UserRoles(ctx context.Context, userID string) ([]string, error)
}

// Service evaluates permissions with a casbin enforcer loaded from the rbac
// section of the config. Role membership comes from the RoleSource, the
// default role, and any roles carried on the request context.
type Service struct {
	enforcer    *casbin.Enforcer
	roles       RoleSource
	defaultRole string
	known       map[string]struct{}
	logger      *logrus.Entry
	mu          sync.RWMutex
}

func NewService(cfg *config.Config, roles RoleSource, logger logrus.FieldLogger) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("auth: config required")
	}
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("auth: load model: %w", err)
	}
	enf, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to initialize enforcer: %w", err)
	}
	known := make(map[string]struct{}, len(cfg.RBAC.Roles))
	for _, id := range cfg.RoleIDs() {
		role := cfg.RBAC.Roles[id]
		known[id] = struct{}{}
		for _, perm := range role.Permissions {
			if _, err := enf.AddPolicy(rolePrefix+id, perm); err != nil {
				return nil, fmt.Errorf("auth: policy %s %s: %w", id, perm, err)
			}
		}
		for _, parent := range role.Inherits {
			if _, err := enf.AddGroupingPolicy(rolePrefix+id, rolePrefix+parent); err != nil {
				return nil, fmt.Errorf("auth: inherit %s from %s: %w", id, parent, err)
			}
		}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		enforcer:    enf,
		roles:       roles,
		defaultRole: cfg.RBAC.DefaultRole,
		known:       known,
		logger:      logger.WithField("component", "auth"),
	}, nil
}

// KnownRole reports whether role is defined in the config.
func (s *Service) KnownRole(role string) bool {
	_, ok := s.known[role]
	return ok
}

// RolesFor returns the effective, de-duplicated roles for actorID.
func (s *Service) RolesFor(ctx context.Context, actorID string) ([]string, error) {
	set := map[string]struct{}{}
	if s.defaultRole != "" {
		set[s.defaultRole] = struct{}{}
	}
	for _, r := range RolesFromContext(ctx) {
		set[r] = struct{}{}
	}
	if s.roles != nil && actorID != "" {
		stored, err := s.roles.UserRoles(ctx, actorID)
		if err != nil {
			return nil, fmt.Errorf("load roles for %s: %w", actorID, err)
		}
		for _, r := range stored {
			set[r] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for r := range set {
		if s.KnownRole(r) {
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Check evaluates perm for the given roles without logging.
func (s *Service) Check(roles []string, perm string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, role := range roles {
		ok, err := s.enforcer.Enforce(rolePrefix+role, perm)
		if err != nil {
			return false, fmt.Errorf("auth: enforce failed: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Authorize returns ForbiddenError when actorID lacks perm.
func (s *Service) Authorize(ctx context.Context, actorID, perm string) error {
	roles, err := s.RolesFor(ctx, actorID)
	if err != nil {
		return err
	}
	ok, err := s.Check(roles, perm)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.WithContext(ctx).WithFields(logrus.Fields{
			"actor_id":   actorID,
			"permission": perm,
			"roles":      strings.Join(roles, ","),
		}).Warn("auth denied request")
		return ForbiddenError{Permission: perm}
	}
	return nil
}

// Can is Authorize without the error for a denial.
func (s *Service) Can(ctx context.Context, actorID, perm string) (bool, error) {
	roles, err := s.RolesFor(ctx, actorID)
	if err != nil {
		return false, err
	}
	return s.Check(roles, perm)
}

// Permissions lists the permission patterns granted to roles, including inherited ones.
func (s *Service) Permissions(roles []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := map[string]struct{}{}
	for _, role := range roles {
		rules, err := s.enforcer.GetImplicitPermissionsForUser(rolePrefix + role)
		if err != nil {
			return nil, fmt.Errorf("auth: permissions for %s: %w", role, err)
		}
		for _, rule := range rules {
			if len(rule) > 1 {
				set[rule[1]] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

type ctxKey struct{}

// WithRoles attaches roles asserted by a verified credential (e.g. JWT claims).
func WithRoles(ctx context.Context, roles []string) context.Context {
	if len(roles) == 0 {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, append([]string(nil), roles...))
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(ctxKey{}).([]string)
	return roles
}
