package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"loanops/internal/domain"
	"loanops/internal/events"
	"loanops/internal/hierarchy"
	"loanops/internal/repo"
)

func (e Engine) directory() Directory {
	if e.Directory != nil {
		return e.Directory
	}
	return e.Repo
}

func (e Engine) lockHierarchy() func() {
	if e.hierMu == nil {
		return func() {}
	}
	e.hierMu.Lock()
	return e.hierMu.Unlock
}

// AssignManager makes managerID the single manager of subordinateID,
// replacing any previous edge. Nothing is written when the new edge would
// close a cycle.
func (e Engine) AssignManager(ctx context.Context, actorID, subordinateID, managerID string) (edge domain.HierarchyEdge, err error) {
	defer func() { observeHierarchy("assign", err) }()
	subordinateID = strings.TrimSpace(subordinateID)
	managerID = strings.TrimSpace(managerID)
	if subordinateID == "" || managerID == "" {
		return edge, inputErrorf("subordinateId and managerId are required")
	}
	if subordinateID == managerID {
		return edge, &hierarchy.SelfReferenceError{UserID: subordinateID}
	}
	log := e.logger().WithFields(logrus.Fields{
		"actor_id":       actorID,
		"subordinate_id": subordinateID,
		"manager_id":     managerID,
	})

	unlock := e.lockHierarchy()
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return edge, fmt.Errorf("begin assign: %w", err)
	}
	defer tx.Rollback()

	for _, id := range []string{subordinateID, managerID} {
		if _, err := e.requireActiveUser(ctx, tx, id); err != nil {
			return edge, err
		}
	}
	if err := hierarchy.CheckAssign(ctx, e.Repo.Graph(tx), subordinateID, managerID); err != nil {
		var cycle *hierarchy.CycleDetectedError
		if errors.As(err, &cycle) {
			log.WithField("path", strings.Join(cycle.Path, ">")).Warn("hierarchy assign rejected: cycle")
		}
		return edge, err
	}
	previous := ""
	if prev, err := e.Repo.GetEdge(ctx, tx, subordinateID); err == nil {
		previous = prev.ManagerID
	} else if !errors.Is(err, repo.ErrNotFound) {
		return edge, fmt.Errorf("load current manager: %w", err)
	}
	edge = domain.HierarchyEdge{
		ManagerID:     managerID,
		SubordinateID: subordinateID,
		CreatedAt:     e.nowString(),
		CreatedBy:     actorID,
	}
	if err := e.Repo.ReplaceEdge(ctx, tx, edge); err != nil {
		return domain.HierarchyEdge{}, err
	}
	payload := events.EventPayload{"manager_id": managerID}
	if previous != "" {
		payload["previous_manager_id"] = previous
	}
	if err := e.appendEvent(ctx, tx, events.HierarchyAssigned, "user", subordinateID, actorID, payload); err != nil {
		return domain.HierarchyEdge{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.HierarchyEdge{}, fmt.Errorf("commit assign: %w", err)
	}
	e.invalidateTree(ctx)
	log.Info("manager assigned")
	return edge, nil
}

// RemoveManager deletes the edge for subordinateID. It reports whether an
// edge existed; removing a missing edge is not an error.
func (e Engine) RemoveManager(ctx context.Context, actorID, subordinateID string) (removed bool, err error) {
	defer func() { observeHierarchy("remove", err) }()
	subordinateID = strings.TrimSpace(subordinateID)
	if subordinateID == "" {
		return false, inputErrorf("subordinateId is required")
	}
	unlock := e.lockHierarchy()
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin remove: %w", err)
	}
	defer tx.Rollback()

	prev, err := e.Repo.GetEdge(ctx, tx, subordinateID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load current manager: %w", err)
	}
	if _, err := e.Repo.DeleteEdge(ctx, tx, subordinateID); err != nil {
		return false, err
	}
	if err := e.appendEvent(ctx, tx, events.HierarchyRemoved, "user", subordinateID, actorID, events.EventPayload{
		"previous_manager_id": prev.ManagerID,
	}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit remove: %w", err)
	}
	e.invalidateTree(ctx)
	e.logger().WithFields(logrus.Fields{
		"actor_id":       actorID,
		"subordinate_id": subordinateID,
		"manager_id":     prev.ManagerID,
	}).Info("manager removed")
	return true, nil
}

// GetTree returns the reporting forest over all active users plus any user
// still referenced by an edge.
func (e Engine) GetTree(ctx context.Context) ([]domain.HierarchyNode, error) {
	if e.Cache != nil {
		forest, ok, err := e.Cache.GetTree(ctx)
		switch {
		case err != nil:
			treeCacheLookups.WithLabelValues("error").Inc()
			e.logger().WithError(err).Warn("tree cache read failed")
		case ok:
			treeCacheLookups.WithLabelValues("hit").Inc()
			return forest, nil
		default:
			treeCacheLookups.WithLabelValues("miss").Inc()
		}
	}
	// The generation is read before any data so a write that lands during
	// the build makes the fill below a no-op.
	var gen int64
	cacheable := e.Cache != nil
	if cacheable {
		var err error
		if gen, err = e.Cache.TreeGeneration(ctx); err != nil {
			e.logger().WithError(err).Warn("tree cache generation read failed")
			cacheable = false
		}
	}
	start := time.Now()
	dir := e.directory()
	users, err := dir.ListActiveUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	edges, err := e.Repo.ListEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	known := make(map[string]struct{}, len(users))
	for _, u := range users {
		known[u.ID] = struct{}{}
	}
	for _, edge := range edges {
		for _, id := range []string{edge.SubordinateID, edge.ManagerID} {
			if _, ok := known[id]; ok {
				continue
			}
			known[id] = struct{}{}
			u, err := dir.GetUser(ctx, id)
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("load user %s: %w", id, err)
			}
			users = append(users, u)
		}
	}
	forest, err := hierarchy.BuildForest(users, edges)
	observeTreeBuild(start)
	if err != nil {
		e.logger().WithError(err).Error("hierarchy data is corrupt")
		return nil, err
	}
	if cacheable {
		stored, err := e.Cache.SetTree(ctx, gen, forest)
		switch {
		case err != nil:
			e.logger().WithError(err).Warn("tree cache write failed")
		case !stored:
			e.logger().WithField("generation", gen).Debug("hierarchy changed during tree build, cache fill skipped")
		}
	}
	return forest, nil
}

func (e Engine) invalidateTree(ctx context.Context) {
	if e.Cache == nil {
		return
	}
	if err := e.Cache.InvalidateTree(ctx); err != nil {
		e.logger().WithError(err).Warn("tree cache invalidation failed")
	}
}

func (e Engine) requireKnownUser(ctx context.Context, userID string) error {
	if _, err := e.directory().GetUser(ctx, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("user %s: %w", userID, repo.ErrNotFound)
		}
		return err
	}
	return nil
}

// ManagerOf returns the direct manager of userID, or nil for a root.
func (e Engine) ManagerOf(ctx context.Context, userID string) (*domain.User, error) {
	if err := e.requireKnownUser(ctx, userID); err != nil {
		return nil, err
	}
	managerID, ok, err := e.Repo.ManagerOf(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("manager of %s: %w", userID, err)
	}
	if !ok {
		return nil, nil
	}
	mgr, err := e.directory().GetUser(ctx, managerID)
	if errors.Is(err, repo.ErrNotFound) {
		return &domain.User{ID: managerID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &mgr, nil
}

// SubordinatesOf returns the direct reports of userID only.
func (e Engine) SubordinatesOf(ctx context.Context, userID string) ([]domain.User, error) {
	if err := e.requireKnownUser(ctx, userID); err != nil {
		return nil, err
	}
	subs, err := e.Repo.ListSubordinates(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("subordinates of %s: %w", userID, err)
	}
	return subs, nil
}
