package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"loanops/internal/domain"
	"loanops/internal/events"
	"loanops/internal/repo"
)

const apiKeyPrefix = "lo_"

func newAPIKeySecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}

// CreateAPIKey issues a key for ownerID. The plaintext is returned once and
// only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, ownerID, name string) (domain.APIKey, string, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return domain.APIKey{}, "", inputErrorf("actor_id is required")
	}
	secret, err := newAPIKeySecret()
	if err != nil {
		return domain.APIKey{}, "", err
	}
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   ownerID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if _, err := e.requireActiveUser(ctx, tx, ownerID); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("insert api key: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.APIKeyCreated, "api_key", key.ID, actorID, events.EventPayload{
		"owner_id": ownerID,
		"name":     key.Name,
	}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, ownerID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, ownerID)
}

func (e Engine) DeleteAPIKey(ctx context.Context, actorID, id string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAPIKey(ctx, tx, id); err != nil {
		return fmt.Errorf("api key %s: %w", id, err)
	}
	if err := e.appendEvent(ctx, tx, events.APIKeyDeleted, "api_key", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}
