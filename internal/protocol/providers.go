package protocol

import (
	"sync"

	"hivecore/internal/types"
)

// providerSet maps worker ids to their capability providers. Bound at
// boot, read on every dispatch.
type providerSet struct {
	mu       sync.RWMutex
	byWorker map[string]types.CapabilityProvider
}

func newProviderSet() *providerSet {
	return &providerSet{byWorker: make(map[string]types.CapabilityProvider)}
}

func (s *providerSet) bind(workerID string, provider types.CapabilityProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byWorker[workerID] = provider
}

func (s *providerSet) get(workerID string) (types.CapabilityProvider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byWorker[workerID]
	return p, ok
}
