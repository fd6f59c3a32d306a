// Package hierarchy holds the reporting-line rules: one manager per user,
// no self-reporting, no cycles. It works against a read-only Graph so the
// same checks run inside a storage transaction or over an in-memory map.
package hierarchy

import (
	"context"
	"fmt"
	"strings"
)

// Graph is a read-only view of manager edges.
type Graph interface {
	// ManagerOf returns the direct manager of userID, or ok=false for a root.
	ManagerOf(ctx context.Context, userID string) (managerID string, ok bool, err error)
}

// CycleDetectedError reports that assigning ManagerID to SubordinateID would close a reporting loop.
type CycleDetectedError struct {
	SubordinateID string
	ManagerID     string
	// Path is the walked chain, starting at the subordinate and ending at the repeated id.
	Path []string
}

func (e *CycleDetectedError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("hierarchy cycle detected: %s cannot report to %s", e.SubordinateID, e.ManagerID)
	}
	return fmt.Sprintf("hierarchy cycle detected: %s cannot report to %s (%s)",
		e.SubordinateID, e.ManagerID, strings.Join(e.Path, " -> "))
}

// SelfReferenceError rejects an edge that makes a user their own manager.
type SelfReferenceError struct {
	UserID string
}

func (e *SelfReferenceError) Error() string {
	return fmt.Sprintf("user %s cannot report to themself", e.UserID)
}

// CheckAssign verifies that subordinateID may report to managerID given the
// current edges. It walks up from managerID; reaching subordinateID, or any
// id seen earlier in the walk, means the new edge would create a cycle.
func CheckAssign(ctx context.Context, g Graph, subordinateID, managerID string) error {
	if subordinateID == managerID {
		return &SelfReferenceError{UserID: subordinateID}
	}
	visited := map[string]struct{}{subordinateID: {}}
	path := []string{subordinateID}
	cur := managerID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		path = append(path, cur)
		if _, seen := visited[cur]; seen {
			return &CycleDetectedError{SubordinateID: subordinateID, ManagerID: managerID, Path: path}
		}
		visited[cur] = struct{}{}
		next, ok, err := g.ManagerOf(ctx, cur)
		if err != nil {
			return fmt.Errorf("walk manager chain at %s: %w", cur, err)
		}
		if !ok {
			return nil
		}
		cur = next
	}
}

// MapGraph is an in-memory Graph keyed by subordinate id.
type MapGraph map[string]string

// ManagerOf looks userID up in the map; a missing key is a root.
func (m MapGraph) ManagerOf(_ context.Context, userID string) (string, bool, error) {
	mgr, ok := m[userID]
	return mgr, ok, nil
}
