package engine

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"loanops/internal/engine/auth"
	"loanops/internal/hierarchy"
	"loanops/internal/repo"
	"loanops/internal/routing"
)

var (
	hierarchyMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loanops",
		Subsystem: "hierarchy",
		Name:      "mutations_total",
		Help:      "Hierarchy assign/remove calls broken down by operation and result.",
	}, []string{"op", "result"})

	treeBuildLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "loanops",
		Subsystem: "hierarchy",
		Name:      "tree_build_seconds",
		Help:      "Time spent building the hierarchy forest from storage.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
	})

	treeCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loanops",
		Subsystem: "hierarchy",
		Name:      "tree_cache_lookups_total",
		Help:      "Tree cache lookups by result (hit, miss, error).",
	}, []string{"result"})

	taskOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loanops",
		Subsystem: "tasks",
		Name:      "operations_total",
		Help:      "Task writes broken down by operation and result.",
	}, []string{"op", "result"})
)

// resultLabel maps an operation outcome onto a small fixed label set.
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var (
		cycle     *hierarchy.CycleDetectedError
		self      *hierarchy.SelfReferenceError
		unknown   *UnknownUserError
		invalid   *routing.InvalidAssignmentError
		forbidden auth.ForbiddenError
		input     InputError
		trans     *InvalidTransitionError
	)
	switch {
	case errors.As(err, &cycle):
		return "cycle_detected"
	case errors.As(err, &self):
		return "self_reference"
	case errors.As(err, &unknown):
		return "unknown_user"
	case errors.As(err, &invalid):
		return "invalid_assignment"
	case errors.As(err, &forbidden):
		return "forbidden"
	case errors.As(err, &input):
		return "bad_request"
	case errors.As(err, &trans):
		return "invalid_transition"
	case errors.Is(err, repo.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func observeHierarchy(op string, err error) {
	hierarchyMutations.WithLabelValues(op, resultLabel(err)).Inc()
}

func observeTask(op string, err error) {
	taskOperations.WithLabelValues(op, resultLabel(err)).Inc()
}

func observeTreeBuild(start time.Time) {
	treeBuildLatency.Observe(time.Since(start).Seconds())
}
