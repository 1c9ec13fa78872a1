package orchestrator

import (
	"sync"
	"time"

	"hivecore/internal/logging"
	"hivecore/internal/types"
)

// ContextWindow is the bounded, FIFO-pruned context owned by exactly
// one coordinator. When inserting an entry would exceed capacity, the
// oldest 25% of entries are evicted first, giving O(1) amortized
// insertion and bounded memory regardless of run length.
//
// Windows are never shared across owners; other coordinators only ever
// receive snapshot copies.
type ContextWindow struct {
	mu            sync.Mutex
	ownerID       string
	capacityBytes int
	entries       []types.ContextEntry
	usedBytes     int
}

// NewContextWindow creates a window for one coordinator.
func NewContextWindow(ownerID string, capacityBytes int) *ContextWindow {
	if capacityBytes < 1 {
		capacityBytes = 1
	}
	return &ContextWindow{ownerID: ownerID, capacityBytes: capacityBytes}
}

// OwnerID returns the owning coordinator's id.
func (w *ContextWindow) OwnerID() string { return w.ownerID }

// Capacity returns the window's byte capacity.
func (w *ContextWindow) Capacity() int { return w.capacityBytes }

// Add inserts an entry, pruning the oldest quarter of entries first if
// the insert would exceed capacity. An entry larger than the whole
// window is truncated to fit rather than rejected.
func (w *ContextWindow) Add(key, data string) {
	entry := types.ContextEntry{Key: key, Data: data, AddedAt: time.Now()}
	if entry.Size() > w.capacityBytes {
		keep := w.capacityBytes - len(key)
		if keep < 0 {
			keep = 0
		}
		entry.Data = data[:keep]
		logging.OrchestratorDebug("Context entry %q truncated to %d bytes for window %s",
			key, keep, w.ownerID)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for w.usedBytes+entry.Size() > w.capacityBytes && len(w.entries) > 0 {
		w.pruneOldestQuarterLocked()
	}
	w.entries = append(w.entries, entry)
	w.usedBytes += entry.Size()
}

// pruneOldestQuarterLocked evicts the oldest 25% of entries (at least
// one) in insertion order.
func (w *ContextWindow) pruneOldestQuarterLocked() {
	n := len(w.entries) / 4
	if n < 1 {
		n = 1
	}
	freed := 0
	for _, e := range w.entries[:n] {
		freed += e.Size()
	}
	w.entries = append(w.entries[:0], w.entries[n:]...)
	w.usedBytes -= freed
	logging.OrchestratorDebug("Window %s pruned %d entries (%d bytes freed, %d/%d used)",
		w.ownerID, n, freed, w.usedBytes, w.capacityBytes)
}

// UsedBytes returns the accounted size of all entries.
func (w *ContextWindow) UsedBytes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.usedBytes
}

// Len returns the entry count.
func (w *ContextWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Snapshot returns a reference copy of the entries for passing to a
// dispatch. The receiver never gains write access to the window.
func (w *ContextWindow) Snapshot() []types.ContextEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]types.ContextEntry, len(w.entries))
	copy(out, w.entries)
	return out
}
