// Package routing decides who may hand a task to whom.
package routing

import (
	"context"
	"errors"
	"fmt"

	"loanops/internal/domain"
	"loanops/internal/hierarchy"
)

// Kind classifies a rejected assignment.
type Kind string

const (
	WrongDirection Kind = "WRONG_DIRECTION"
	NotSubordinate Kind = "NOT_SUBORDINATE"
	NotManager     Kind = "NOT_MANAGER"
	NotSelf        Kind = "NOT_SELF"
)

var ErrUnknownTaskType = errors.New("unknown task type")

// InvalidAssignmentError describes why a task may not be routed as requested.
type InvalidAssignmentError struct {
	Kind       Kind
	AssignedTo string
	AssignedBy string
	Reason     string
}

func (e *InvalidAssignmentError) Error() string {
	return fmt.Sprintf("invalid assignment (%s): %s", e.Kind, e.Reason)
}

// Assignment is the part of a task that routing rules look at.
type Assignment struct {
	AssignedTo string
	AssignedBy string
	Type       domain.TaskType
	Direction  domain.Direction
}

// FromTask extracts the routing fields of t.
func FromTask(t domain.Task) Assignment {
	return Assignment{AssignedTo: t.AssignedTo, AssignedBy: t.AssignedBy, Type: t.Type, Direction: t.Direction}
}

// ValidateAssignment checks a against the live reporting lines in g. It has
// no side effects; callers run it inside the transaction that writes the task.
func ValidateAssignment(ctx context.Context, a Assignment, g hierarchy.Graph) error {
	fail := func(kind Kind, format string, args ...any) error {
		return &InvalidAssignmentError{Kind: kind, AssignedTo: a.AssignedTo, AssignedBy: a.AssignedBy, Reason: fmt.Sprintf(format, args...)}
	}
	switch a.Type {
	case domain.TaskTypePersonal:
		if a.AssignedTo != a.AssignedBy {
			return fail(NotSelf, "personal tasks must be assigned to oneself")
		}
		if a.Direction != domain.DirectionNone {
			return fail(WrongDirection, "personal tasks carry no direction")
		}
		return nil
	case domain.TaskTypeCommon:
		if a.Direction != domain.DirectionNone {
			return fail(WrongDirection, "common tasks carry no direction")
		}
		return nil
	case domain.TaskTypeHierarchical:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTaskType, a.Type)
	}

	switch a.Direction {
	case domain.DirectionDownward:
		ok, err := reportsTo(ctx, g, a.AssignedTo, a.AssignedBy)
		if err != nil {
			return err
		}
		if !ok {
			return fail(NotSubordinate, "%s is not a direct subordinate of %s", a.AssignedTo, a.AssignedBy)
		}
	case domain.DirectionUpward:
		ok, err := reportsTo(ctx, g, a.AssignedBy, a.AssignedTo)
		if err != nil {
			return err
		}
		if !ok {
			return fail(NotManager, "%s is not the direct manager of %s", a.AssignedTo, a.AssignedBy)
		}
	default:
		return fail(WrongDirection, "hierarchical tasks need direction DOWNWARD or UPWARD, got %q", a.Direction)
	}
	return nil
}

func reportsTo(ctx context.Context, g hierarchy.Graph, subordinateID, managerID string) (bool, error) {
	mgr, ok, err := g.ManagerOf(ctx, subordinateID)
	if err != nil {
		return false, fmt.Errorf("lookup manager of %s: %w", subordinateID, err)
	}
	return ok && mgr == managerID, nil
}
