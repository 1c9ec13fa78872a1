// Package registry implements the capability registry: a read-mostly
// catalog of worker descriptors queried by the delegation router. The
// scoring function is deterministic so two identical queries always
// return the identical ordered candidate list.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"hivecore/internal/logging"
	"hivecore/internal/types"
)

// Candidate is one scored registry hit.
type Candidate struct {
	Descriptor types.WorkerDescriptor
	Score      int
	// Fallback marks the tier default worker returned when nothing in
	// the tier scored.
	Fallback bool
}

// Registry holds worker descriptors in registration order. It is safe
// for unlimited concurrent reads; registration happens at boot.
type Registry struct {
	mu          sync.RWMutex
	descriptors []types.WorkerDescriptor
	byID        map[string]int            // id -> registration index
	defaults    map[types.Tier]string     // tier -> default worker id
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{byID: make(map[string]int), defaults: make(map[types.Tier]string)}
}

// Register appends a descriptor. Registration order is the stable
// tie-break for scoring, so order matters and duplicates are rejected.
func (r *Registry) Register(desc types.WorkerDescriptor) error {
	if desc.ID == "" {
		return fmt.Errorf("worker descriptor requires an id")
	}
	if desc.Category == "" {
		desc.Category = types.TierWorker
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[desc.ID]; exists {
		return fmt.Errorf("worker %s already registered", desc.ID)
	}
	r.byID[desc.ID] = len(r.descriptors)
	r.descriptors = append(r.descriptors, desc)
	logging.RegistryDebug("Registered worker %s (tier=%s, keywords=%d, task_types=%d)",
		desc.ID, desc.Category, len(desc.Keywords), len(desc.TaskTypes))
	return nil
}

// SetDefaultWorker configures the tier fallback returned when no
// descriptor in the tier scores above zero.
func (r *Registry) SetDefaultWorker(tier types.Tier, workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[workerID]; !ok {
		return fmt.Errorf("default worker %s not registered", workerID)
	}
	r.defaults[tier] = workerID
	return nil
}

// Get returns a descriptor by id.
func (r *Registry) Get(workerID string) (types.WorkerDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byID[workerID]
	if !ok {
		return types.WorkerDescriptor{}, false
	}
	return r.descriptors[idx], true
}

// Snapshot returns a copy of all descriptors in registration order.
func (r *Registry) Snapshot() []types.WorkerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.WorkerDescriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// FindCandidates scores every descriptor in the eligible tier against
// (taskType, description) and returns the hits ordered best-first.
//
// Scoring:
//  1. Exact taskType match: score = 100 + 10 x keyword hits in the
//     description.
//  2. Otherwise: score = number of keywords occurring as
//     case-insensitive substrings of the description.
//  3. Zero scorers are excluded; if the whole tier scores zero the
//     configured tier default worker is returned with score 0.
//  4. Ties break by registration order (stable sort).
func (r *Registry) FindCandidates(taskType, description string, tier types.Tier) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lowerDesc := strings.ToLower(description)

	type scored struct {
		cand  Candidate
		order int
	}
	var hits []scored

	for idx, desc := range r.descriptors {
		if desc.Category != tier {
			continue
		}
		score := scoreDescriptor(desc, taskType, lowerDesc)
		if score <= 0 {
			continue
		}
		hits = append(hits, scored{cand: Candidate{Descriptor: desc, Score: score}, order: idx})
	}

	if len(hits) == 0 {
		if defID, ok := r.defaults[tier]; ok {
			if idx, ok := r.byID[defID]; ok {
				logging.RoutingDebug("No scorer in tier %s for task_type=%q, falling back to default worker %s",
					tier, taskType, defID)
				return []Candidate{{Descriptor: r.descriptors[idx], Fallback: true}}
			}
		}
		return nil
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].cand.Score != hits[j].cand.Score {
			return hits[i].cand.Score > hits[j].cand.Score
		}
		return hits[i].order < hits[j].order
	})

	out := make([]Candidate, len(hits))
	for i, h := range hits {
		out[i] = h.cand
	}
	logging.RoutingDebug("FindCandidates(task_type=%q, tier=%s): %d candidates, best=%s score=%d",
		taskType, tier, len(out), out[0].Descriptor.ID, out[0].Score)
	return out
}

// scoreDescriptor implements the deterministic scoring rules.
func scoreDescriptor(desc types.WorkerDescriptor, taskType, lowerDesc string) int {
	hits := keywordHits(desc.Keywords, lowerDesc)

	if taskType != "" {
		for _, t := range desc.TaskTypes {
			if t == taskType {
				return 100 + 10*hits
			}
		}
	}
	return hits
}

// keywordHits counts keywords occurring as case-insensitive substrings
// of the description.
func keywordHits(keywords []string, desc string) int {
	lowerDesc := strings.ToLower(desc)
	hits := 0
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lowerDesc, strings.ToLower(kw)) {
			hits++
		}
	}
	return hits
}
