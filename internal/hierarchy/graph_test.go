package hierarchy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingGraph struct{ err error }

func (g failingGraph) ManagerOf(context.Context, string) (string, bool, error) {
	return "", false, g.err
}

func TestCheckAssignRejectsSelfReference(t *testing.T) {
	err := CheckAssign(context.Background(), MapGraph{}, "x", "x")
	var selfErr *SelfReferenceError
	require.ErrorAs(t, err, &selfErr)
	assert.Equal(t, "x", selfErr.UserID)
}

func TestCheckAssignRejectsIndirectCycle(t *testing.T) {
	// A reports to B, B reports to C. Making C report to A closes the loop.
	g := MapGraph{"A": "B", "B": "C"}
	err := CheckAssign(context.Background(), g, "C", "A")
	var cycle *CycleDetectedError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, "C", cycle.SubordinateID)
	assert.Equal(t, "A", cycle.ManagerID)
	assert.Equal(t, []string{"C", "A", "B", "C"}, cycle.Path)
}

func TestCheckAssignRejectsDirectSwap(t *testing.T) {
	g := MapGraph{"B": "A"}
	err := CheckAssign(context.Background(), g, "A", "B")
	var cycle *CycleDetectedError
	require.ErrorAs(t, err, &cycle)
}

func TestCheckAssignAllowsReassignmentWithinChain(t *testing.T) {
	// D -> B -> A. Moving D directly under A keeps the graph acyclic.
	g := MapGraph{"D": "B", "B": "A"}
	require.NoError(t, CheckAssign(context.Background(), g, "D", "A"))
	// Moving B under its own subordinate D does not.
	err := CheckAssign(context.Background(), g, "B", "D")
	var cycle *CycleDetectedError
	require.ErrorAs(t, err, &cycle)
}

func TestCheckAssignTerminatesOnCorruptChain(t *testing.T) {
	// X and Y already form a loop that does not include the subordinate.
	g := MapGraph{"X": "Y", "Y": "X"}
	err := CheckAssign(context.Background(), g, "S", "X")
	var cycle *CycleDetectedError
	require.ErrorAs(t, err, &cycle)
}

func TestCheckAssignPropagatesStorageErrors(t *testing.T) {
	boom := errors.New("database is locked")
	err := CheckAssign(context.Background(), failingGraph{err: boom}, "A", "B")
	require.ErrorIs(t, err, boom)
}

func TestCheckAssignHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := CheckAssign(ctx, MapGraph{"B": "C"}, "A", "B")
	require.ErrorIs(t, err, context.Canceled)
}

func TestRandomAssignmentsStayAcyclic(t *testing.T) {
	users := []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7"}
	g := MapGraph{}
	ctx := context.Background()
	// Deterministic sweep over every ordered pair, applied twice.
	for round := 0; round < 2; round++ {
		for _, sub := range users {
			for _, mgr := range users {
				if err := CheckAssign(ctx, g, sub, mgr); err == nil {
					g[sub] = mgr
				}
			}
		}
	}
	for _, u := range users {
		steps := 0
		cur := u
		for {
			next, ok := g[cur]
			if !ok {
				break
			}
			cur = next
			steps++
			require.LessOrEqual(t, steps, len(users), "chain from %s does not reach a root", u)
		}
	}
}
