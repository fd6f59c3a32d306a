package engine

import (
	"context"
	"fmt"
	"strings"

	"loanops/internal/events"
)

func (e Engine) checkRoleChange(userID, role string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(role) == "" {
		return inputErrorf("user_id and role are required")
	}
	if e.Auth == nil || !e.Auth.KnownRole(role) {
		return inputErrorf("unknown role %s", role)
	}
	return nil
}

// GrantRole persists role for userID. Granting a held role is a no-op.
func (e Engine) GrantRole(ctx context.Context, actorID, userID, role string) error {
	if err := e.checkRoleChange(userID, role); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetUserTx(ctx, tx, userID); err != nil {
		return fmt.Errorf("user %s: %w", userID, err)
	}
	if err := e.Repo.AssignRole(ctx, tx, userID, role, e.nowString()); err != nil {
		return fmt.Errorf("grant role: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.RoleGranted, "user", userID, actorID, events.EventPayload{"role": role}); err != nil {
		return err
	}
	return tx.Commit()
}

// RevokeRole removes role from userID and reports whether it was held.
func (e Engine) RevokeRole(ctx context.Context, actorID, userID, role string) (bool, error) {
	if err := e.checkRoleChange(userID, role); err != nil {
		return false, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	removed, err := e.Repo.RevokeRole(ctx, tx, userID, role)
	if err != nil {
		return false, fmt.Errorf("revoke role: %w", err)
	}
	if !removed {
		return false, nil
	}
	if err := e.appendEvent(ctx, tx, events.RoleRevoked, "user", userID, actorID, events.EventPayload{"role": role}); err != nil {
		return false, err
	}
	return true, tx.Commit()
}
