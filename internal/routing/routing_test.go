package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loanops/internal/domain"
	"loanops/internal/hierarchy"
)

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	var invalid *InvalidAssignmentError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, kind, invalid.Kind)
}

// A manages B. C is unrelated.
var graph = hierarchy.MapGraph{"B": "A"}

func TestValidateAssignment(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		in   Assignment
		kind Kind
	}{
		{"downward to subordinate", Assignment{AssignedBy: "A", AssignedTo: "B", Type: domain.TaskTypeHierarchical, Direction: domain.DirectionDownward}, ""},
		{"downward to manager", Assignment{AssignedBy: "B", AssignedTo: "A", Type: domain.TaskTypeHierarchical, Direction: domain.DirectionDownward}, NotSubordinate},
		{"downward to stranger", Assignment{AssignedBy: "A", AssignedTo: "C", Type: domain.TaskTypeHierarchical, Direction: domain.DirectionDownward}, NotSubordinate},
		{"upward to manager", Assignment{AssignedBy: "B", AssignedTo: "A", Type: domain.TaskTypeHierarchical, Direction: domain.DirectionUpward}, ""},
		{"upward to non-manager", Assignment{AssignedBy: "A", AssignedTo: "C", Type: domain.TaskTypeHierarchical, Direction: domain.DirectionUpward}, NotManager},
		{"upward to subordinate", Assignment{AssignedBy: "A", AssignedTo: "B", Type: domain.TaskTypeHierarchical, Direction: domain.DirectionUpward}, NotManager},
		{"hierarchical without direction", Assignment{AssignedBy: "A", AssignedTo: "B", Type: domain.TaskTypeHierarchical}, WrongDirection},
		{"hierarchical bogus direction", Assignment{AssignedBy: "A", AssignedTo: "B", Type: domain.TaskTypeHierarchical, Direction: "SIDEWAYS"}, WrongDirection},
		{"personal self", Assignment{AssignedBy: "C", AssignedTo: "C", Type: domain.TaskTypePersonal}, ""},
		{"personal other even if subordinate", Assignment{AssignedBy: "A", AssignedTo: "B", Type: domain.TaskTypePersonal}, NotSelf},
		{"personal with direction", Assignment{AssignedBy: "C", AssignedTo: "C", Type: domain.TaskTypePersonal, Direction: domain.DirectionDownward}, WrongDirection},
		{"common to anyone", Assignment{AssignedBy: "C", AssignedTo: "A", Type: domain.TaskTypeCommon}, ""},
		{"common with direction", Assignment{AssignedBy: "A", AssignedTo: "B", Type: domain.TaskTypeCommon, Direction: domain.DirectionUpward}, WrongDirection},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateAssignment(ctx, tc.in, graph)
			if tc.kind == "" {
				require.NoError(t, err)
				return
			}
			requireKind(t, err, tc.kind)
		})
	}
}

func TestValidateAssignmentPersonalIgnoresHierarchy(t *testing.T) {
	ctx := context.Background()
	for _, g := range []hierarchy.MapGraph{{}, {"B": "A"}, {"A": "B"}} {
		err := ValidateAssignment(ctx, Assignment{AssignedBy: "A", AssignedTo: "B", Type: domain.TaskTypePersonal}, g)
		requireKind(t, err, NotSelf)
	}
}

func TestValidateAssignmentUsesLiveGraph(t *testing.T) {
	ctx := context.Background()
	g := hierarchy.MapGraph{"B": "A"}
	a := Assignment{AssignedBy: "A", AssignedTo: "B", Type: domain.TaskTypeHierarchical, Direction: domain.DirectionDownward}
	require.NoError(t, ValidateAssignment(ctx, a, g))
	delete(g, "B")
	requireKind(t, ValidateAssignment(ctx, a, g), NotSubordinate)
}

type brokenGraph struct{}

func (brokenGraph) ManagerOf(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk I/O error")
}

func TestValidateAssignmentStorageError(t *testing.T) {
	err := ValidateAssignment(context.Background(), Assignment{AssignedBy: "A", AssignedTo: "B", Type: domain.TaskTypeHierarchical, Direction: domain.DirectionDownward}, brokenGraph{})
	require.Error(t, err)
	var invalid *InvalidAssignmentError
	assert.False(t, errors.As(err, &invalid))
}

func TestValidateAssignmentUnknownType(t *testing.T) {
	err := ValidateAssignment(context.Background(), Assignment{AssignedBy: "A", AssignedTo: "A", Type: "ADHOC"}, graph)
	require.ErrorIs(t, err, ErrUnknownTaskType)
}
