// Package router implements the delegation router: it turns a task
// description into the best-matching eligible worker by combining
// capability registry scoring with circuit breaker state. Routing is
// deterministic: a fixed registry and identical inputs always produce
// the identical ordered candidate list.
package router

import (
	"errors"
	"fmt"

	"hivecore/internal/logging"
	"hivecore/internal/registry"
	"hivecore/internal/types"
)

// ErrNoEligibleWorker is returned when scoring plus health filtering
// leaves no candidate in the tier.
var ErrNoEligibleWorker = errors.New("no eligible worker for task")

// HealthChecker gates candidates on circuit breaker state. Implemented
// by the coordination protocol.
type HealthChecker interface {
	Available(workerID string) bool
}

// Router selects workers for work items.
type Router struct {
	registry *registry.Registry
	health   HealthChecker
}

// New creates a router. health may be nil, which disables circuit
// filtering (every registered worker is considered available).
func New(reg *registry.Registry, health HealthChecker) *Router {
	return &Router{registry: reg, health: health}
}

// Candidates returns the health-filtered, score-ordered candidate list
// for a task. The registry's ordering is preserved; unhealthy workers
// are removed, never re-ranked.
func (r *Router) Candidates(taskType, description string, tier types.Tier) []registry.Candidate {
	scored := r.registry.FindCandidates(taskType, description, tier)
	if r.health == nil {
		return scored
	}
	eligible := scored[:0:0]
	for _, c := range scored {
		if r.health.Available(c.Descriptor.ID) {
			eligible = append(eligible, c)
		} else {
			logging.RoutingDebug("Excluding worker %s (circuit open)", c.Descriptor.ID)
		}
	}
	return eligible
}

// Route picks the single best worker for a work item.
func (r *Router) Route(item types.WorkItem, tier types.Tier) (types.WorkerDescriptor, error) {
	cands := r.Candidates(item.TaskType, item.Description, tier)
	if len(cands) == 0 {
		return types.WorkerDescriptor{}, fmt.Errorf("%w: task_type=%q tier=%s",
			ErrNoEligibleWorker, item.TaskType, tier)
	}
	best := cands[0]
	logging.Routing("Routed item %s to worker %s (score=%d, fallback=%v)",
		item.ID, best.Descriptor.ID, best.Score, best.Fallback)
	return best.Descriptor, nil
}

// FanOut returns up to limit workers for multi-worker delegation,
// best-first. limit <= 0 means all eligible candidates.
func (r *Router) FanOut(item types.WorkItem, tier types.Tier, limit int) []types.WorkerDescriptor {
	cands := r.Candidates(item.TaskType, item.Description, tier)
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	out := make([]types.WorkerDescriptor, len(cands))
	for i, c := range cands {
		out[i] = c.Descriptor
	}
	return out
}
