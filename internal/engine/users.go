package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"loanops/internal/domain"
	"loanops/internal/events"
	"loanops/internal/repo"
)

// UserInput feeds the directory mirror from the identity provider.
type UserInput struct {
	ID       string `json:"id" validate:"required,max=64"`
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"omitempty,email"`
	IsActive *bool  `json:"is_active"`
}

func (e Engine) UpsertUser(ctx context.Context, actorID string, in UserInput) (domain.User, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if err := checkInput(in); err != nil {
		return domain.User{}, err
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertUser(ctx, tx, domain.User{
		ID:        in.ID,
		Name:      in.Name,
		Email:     in.Email,
		IsActive:  active,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return domain.User{}, fmt.Errorf("upsert user %s: %w", in.ID, err)
	}
	u, err := e.Repo.GetUserTx(ctx, tx, in.ID)
	if err != nil {
		return domain.User{}, err
	}
	if err := e.appendEvent(ctx, tx, events.UserUpserted, "user", u.ID, actorID, events.EventPayload{
		"name":      u.Name,
		"is_active": u.IsActive,
	}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	e.invalidateTree(ctx)
	return u, nil
}

// SetUserActive flips the active flag. Existing edges stay in place; an
// inactive user simply cannot be named in new assignments or tasks.
func (e Engine) SetUserActive(ctx context.Context, actorID, userID string, active bool) (domain.User, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetUserActive(ctx, tx, userID, active, e.nowString()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, fmt.Errorf("user %s: %w", userID, repo.ErrNotFound)
		}
		return domain.User{}, err
	}
	evt := events.UserDeactivated
	if active {
		evt = events.UserActivated
	}
	if err := e.appendEvent(ctx, tx, evt, "user", userID, actorID, nil); err != nil {
		return domain.User{}, err
	}
	u, err := e.Repo.GetUserTx(ctx, tx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	e.invalidateTree(ctx)
	return u, nil
}

func (e Engine) GetUser(ctx context.Context, userID string) (domain.User, error) {
	u, err := e.directory().GetUser(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return u, fmt.Errorf("user %s: %w", userID, repo.ErrNotFound)
	}
	return u, err
}

func (e Engine) ListUsers(ctx context.Context, includeInactive bool) ([]domain.User, error) {
	if includeInactive {
		return e.Repo.ListUsers(ctx, repo.UserFilters{})
	}
	return e.directory().ListActiveUsers(ctx)
}
