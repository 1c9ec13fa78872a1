// Package protocol implements the coordination protocol: dispatch
// exactly one work item to exactly one worker and supervise it to
// completion or timeout. Dispatch failures never surface as errors to
// the caller; they come back as failed TaskResults. The protocol is
// the sole writer of worker health and drives the per-worker circuit
// breaker.
package protocol

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"hivecore/internal/config"
	"hivecore/internal/events"
	"hivecore/internal/logging"
	"hivecore/internal/registry"
	"hivecore/internal/types"
)

// HealthSink receives health snapshots after every update, e.g. the
// durable store. Optional.
type HealthSink interface {
	UpsertHealth(h types.HealthStatus) error
}

// Protocol supervises dispatches and owns worker health.
type Protocol struct {
	registry *registry.Registry
	bus      *events.Bus

	providers *providerSet
	health    *healthBoard

	defaultTimeout time.Duration
	// Global in-flight dispatch bound shared by every coordinator.
	sem *semaphore.Weighted

	// Optional tracking mode; nil keeps the hot path allocation-free.
	tracker *Tracker

	healthSink HealthSink
}

// New creates a protocol bound to a registry and event bus.
func New(reg *registry.Registry, bus *events.Bus, cfg *config.Config) *Protocol {
	return &Protocol{
		registry:       reg,
		bus:            bus,
		providers:      newProviderSet(),
		health:         newHealthBoard(cfg.CircuitBreakerThreshold, cfg.CircuitCooldown()),
		defaultTimeout: cfg.DefaultTimeout(),
		sem:            semaphore.NewWeighted(int64(cfg.MaxConcurrentDispatches)),
	}
}

// BindProvider attaches the capability provider that performs a
// worker's dispatches.
func (p *Protocol) BindProvider(workerID string, provider types.CapabilityProvider) {
	p.providers.bind(workerID, provider)
}

// SetHealthSink attaches a durable sink for health snapshots.
func (p *Protocol) SetHealthSink(sink HealthSink) { p.healthSink = sink }

// EnableTracking switches on dispatch state bookkeeping.
func (p *Protocol) EnableTracking() {
	if p.tracker == nil {
		p.tracker = NewTracker()
	}
}

// Tracker returns the dispatch tracker, or nil when tracking is off.
func (p *Protocol) Tracker() *Tracker { return p.tracker }

// Available reports whether a worker may receive dispatches right now.
// Open circuits exclude the worker; after the cooldown one half-open
// probe is allowed through.
func (p *Protocol) Available(workerID string) bool {
	return p.health.available(workerID)
}

// Health returns the current health snapshot for a worker.
func (p *Protocol) Health(workerID string) types.HealthStatus {
	return p.health.snapshot(workerID)
}

// Assign dispatches one work item to one worker and supervises it.
// The returned error is non-nil only for pre-dispatch validation
// (ErrUnknownWorker, ErrCircuitOpen); once a dispatch starts, every
// outcome - completion, provider error, panic, timeout - is a
// TaskResult.
func (p *Protocol) Assign(ctx context.Context, workerID string, item types.WorkItem, snapshot []types.ContextEntry) (types.TaskResult, error) {
	if _, ok := p.registry.Get(workerID); !ok {
		return types.TaskResult{}, fmt.Errorf("%w: %s", types.ErrUnknownWorker, workerID)
	}
	provider, ok := p.providers.get(workerID)
	if !ok {
		return types.TaskResult{}, fmt.Errorf("%w: %s has no bound provider", types.ErrUnknownWorker, workerID)
	}
	allowed, probe := p.health.allowDispatch(workerID)
	if !allowed {
		return types.TaskResult{}, fmt.Errorf("%w: %s", types.ErrCircuitOpen, workerID)
	}
	if probe {
		logging.Protocol("Circuit half-open for worker %s, probing with item %s", workerID, item.ID)
		p.bus.Publish(events.EventCircuitHalfOpen, map[string]any{
			"work_item_id": item.ID, "worker_id": workerID,
		})
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		// The dispatch never started, so a consumed half-open probe goes
		// back rather than leaving the worker excluded forever.
		if probe {
			p.health.releaseProbe(workerID)
		}
		return p.failed(workerID, item, fmt.Sprintf("dispatch aborted before start: %v", err)), nil
	}
	defer p.sem.Release(1)

	timeout := item.Timeout(p.defaultTimeout)
	logging.Protocol("Dispatching item %s to worker %s (timeout=%s)", item.ID, workerID, timeout)
	p.bus.Publish(events.EventDispatchStart, map[string]any{
		"work_item_id": item.ID, "worker_id": workerID,
	})
	p.publishAgentStatus(workerID, "dispatching", item.ID)
	if p.tracker != nil {
		p.tracker.Start(item.ID, workerID)
	}

	result := p.invoke(ctx, provider, workerID, item, snapshot, timeout)

	if result.Failed() {
		p.recordFailure(workerID, item, result.ErrorMessage)
		if p.tracker != nil {
			p.tracker.Finish(item.ID, types.DispatchFailed)
		}
	} else {
		p.recordSuccess(workerID, item)
		if p.tracker != nil {
			p.tracker.Finish(item.ID, types.DispatchCompleted)
		}
	}
	return result, nil
}

// invoke races the provider against the timeout and converts every
// abnormal outcome into a failed TaskResult.
func (p *Protocol) invoke(ctx context.Context, provider types.CapabilityProvider, workerID string, item types.WorkItem, snapshot []types.ContextEntry, timeout time.Duration) types.TaskResult {
	dispatchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result types.TaskResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		res, err := provider.Invoke(dispatchCtx, item, snapshot)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return p.failed(workerID, item, out.err.Error())
		}
		res := out.result
		res.WorkItemID = item.ID
		res.WorkerID = workerID
		if res.CompletedAt.IsZero() {
			res.CompletedAt = time.Now()
		}
		if res.Status == "" {
			res.Status = types.ResultCompleted
		}
		return res
	case <-dispatchCtx.Done():
		// A provider that ignores cancellation simply times out here;
		// its goroutine drains into the buffered channel.
		msg := fmt.Sprintf("%v after %s", types.ErrDispatchTimeout, timeout)
		if ctx.Err() != nil {
			msg = fmt.Sprintf("dispatch cancelled: %v", ctx.Err())
		}
		return p.failed(workerID, item, msg)
	}
}

// failed builds the uniform failed TaskResult shape.
func (p *Protocol) failed(workerID string, item types.WorkItem, msg string) types.TaskResult {
	return types.TaskResult{
		WorkItemID:   item.ID,
		WorkerID:     workerID,
		Status:       types.ResultFailed,
		ErrorMessage: msg,
		CompletedAt:  time.Now(),
	}
}

func (p *Protocol) recordSuccess(workerID string, item types.WorkItem) {
	h, circuitClosed := p.health.recordSuccess(workerID)
	logging.ProtocolDebug("Worker %s healthy after item %s (failures reset)", workerID, item.ID)
	p.bus.Publish(events.EventDispatchSuccess, map[string]any{
		"work_item_id": item.ID, "worker_id": workerID,
	})
	if circuitClosed {
		logging.Protocol("Circuit closed for worker %s", workerID)
		p.bus.Publish(events.EventCircuitClose, map[string]any{"worker_id": workerID})
	}
	p.publishAgentStatus(workerID, "healthy", item.ID)
	p.persistHealth(h)
}

func (p *Protocol) recordFailure(workerID string, item types.WorkItem, msg string) {
	h, circuitOpened := p.health.recordFailure(workerID)
	logging.ProtocolWarn("Worker %s failed item %s (consecutive=%d): %s",
		workerID, item.ID, h.ConsecutiveFailures, msg)
	p.bus.Publish(events.EventDispatchFailure, map[string]any{
		"work_item_id": item.ID, "worker_id": workerID, "error": msg,
	})
	if circuitOpened {
		logging.ProtocolWarn("Circuit opened for worker %s after %d consecutive failures",
			workerID, h.ConsecutiveFailures)
		p.bus.Publish(events.EventCircuitOpen, map[string]any{
			"worker_id": workerID, "consecutive_failures": h.ConsecutiveFailures,
		})
	}
	p.publishAgentStatus(workerID, string(h.State), item.ID)
	p.persistHealth(h)
}

func (p *Protocol) publishAgentStatus(workerID, status, itemID string) {
	p.bus.Publish(events.EventAgentStatus, map[string]any{
		"worker_id": workerID, "status": status, "work_item_id": itemID,
	})
}

func (p *Protocol) persistHealth(h types.HealthStatus) {
	if p.healthSink == nil {
		return
	}
	if err := p.healthSink.UpsertHealth(h); err != nil {
		logging.ProtocolWarn("Failed to persist health for %s: %v", h.WorkerID, err)
	}
}
