package protocol

import (
	"sync"
	"time"

	"hivecore/internal/types"
)

// Tracker is the optional dispatch bookkeeping: one DispatchRecord per
// work item, retrievable by id. The default (tracking disabled) keeps
// the dispatch hot path allocation-free.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]types.DispatchRecord
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{records: make(map[string]types.DispatchRecord)}
}

// Start records a dispatch beginning.
func (t *Tracker) Start(workItemID, workerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[workItemID] = types.DispatchRecord{
		WorkItemID: workItemID,
		WorkerID:   workerID,
		State:      types.DispatchInProgress,
		StartedAt:  time.Now(),
	}
}

// Finish records a dispatch outcome.
func (t *Tracker) Finish(workItemID string, state types.DispatchState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[workItemID]
	if !ok {
		return
	}
	rec.State = state
	rec.EndedAt = time.Now()
	t.records[workItemID] = rec
}

// Get returns the record for a work item.
func (t *Tracker) Get(workItemID string) (types.DispatchRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[workItemID]
	return rec, ok
}
