package protocol

import (
	"sync"
	"time"

	"hivecore/internal/logging"
	"hivecore/internal/types"
)

// workerHealth is the per-worker health record plus circuit breaker
// state. Each worker has its own mutex so updates are serialized per
// worker without a global lock across concurrent dispatches.
type workerHealth struct {
	mu     sync.Mutex
	status types.HealthStatus

	circuitOpenedAt time.Time
	// probeConsumed marks that the single half-open probe for the
	// current open period has been handed out.
	probeConsumed bool
	// probing marks a half-open probe dispatch currently in flight or
	// just finished; its outcome decides close vs re-open.
	probing bool
}

// healthBoard owns all workerHealth records.
type healthBoard struct {
	mu        sync.Mutex
	workers   map[string]*workerHealth
	threshold int
	cooldown  time.Duration
}

func newHealthBoard(threshold int, cooldown time.Duration) *healthBoard {
	if threshold < 1 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &healthBoard{
		workers:   make(map[string]*workerHealth),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

func (b *healthBoard) get(workerID string) *workerHealth {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.workers[workerID]
	if !ok {
		h = &workerHealth{status: types.HealthStatus{
			WorkerID: workerID,
			State:    types.HealthUnknown,
		}}
		b.workers[workerID] = h
	}
	return h
}

// available reports whether routing may offer this worker, without
// consuming the half-open probe.
func (b *healthBoard) available(workerID string) bool {
	h := b.get(workerID)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.availableLocked(b.cooldown)
}

func (h *workerHealth) availableLocked(cooldown time.Duration) bool {
	if h.circuitOpenedAt.IsZero() {
		return true
	}
	if time.Since(h.circuitOpenedAt) < cooldown {
		return false
	}
	// Cooldown elapsed: half-open, one probe only.
	return !h.probeConsumed
}

// allowDispatch is the dispatch-time gate. In half-open state it
// consumes the single probe; probe reports that this dispatch is it.
func (b *healthBoard) allowDispatch(workerID string) (allowed, probe bool) {
	h := b.get(workerID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.circuitOpenedAt.IsZero() {
		return true, false
	}
	if !h.availableLocked(b.cooldown) {
		return false, false
	}
	h.probeConsumed = true
	h.probing = true
	logging.ProtocolDebug("Half-open probe granted for worker %s", workerID)
	return true, true
}

// releaseProbe hands back a consumed half-open probe whose dispatch
// never started, so the worker stays eligible for the next probe
// instead of being excluded until success.
func (b *healthBoard) releaseProbe(workerID string) {
	h := b.get(workerID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.probing {
		h.probeConsumed = false
		h.probing = false
	}
}

// recordSuccess resets the failure counter and closes the circuit.
// Returns the new snapshot and whether an open circuit closed.
func (b *healthBoard) recordSuccess(workerID string) (types.HealthStatus, bool) {
	h := b.get(workerID)
	h.mu.Lock()
	defer h.mu.Unlock()

	wasOpen := !h.circuitOpenedAt.IsZero()
	h.circuitOpenedAt = time.Time{}
	h.probeConsumed = false
	h.probing = false
	h.status.State = types.HealthHealthy
	h.status.ConsecutiveFailures = 0
	h.status.LastCheckedAt = time.Now()
	return h.status, wasOpen
}

// recordFailure increments the failure counter, opening (or
// re-opening after a failed half-open probe) the circuit at the
// threshold. Returns the new snapshot and whether the circuit
// (re)opened on this update.
func (b *healthBoard) recordFailure(workerID string) (types.HealthStatus, bool) {
	h := b.get(workerID)
	h.mu.Lock()
	defer h.mu.Unlock()

	h.status.ConsecutiveFailures++
	h.status.LastCheckedAt = time.Now()

	opened := false
	switch {
	case h.probing:
		// Failed half-open probe: one more failure re-opens exclusion.
		h.circuitOpenedAt = time.Now()
		h.probeConsumed = false
		h.probing = false
		h.status.State = types.HealthUnhealthy
		opened = true
	case h.status.ConsecutiveFailures >= b.threshold:
		if h.circuitOpenedAt.IsZero() {
			h.circuitOpenedAt = time.Now()
			opened = true
		}
		h.status.State = types.HealthUnhealthy
	default:
		h.status.State = types.HealthDegraded
	}
	return h.status, opened
}

// snapshot returns a copy of the worker's health record.
func (b *healthBoard) snapshot(workerID string) types.HealthStatus {
	h := b.get(workerID)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}
