package monitor

import (
	"sync"

	"github.com/meridianhq/ai-gateway/relay/balancer"
	"github.com/meridianhq/ai-gateway/relay/endpoint"
	"github.com/meridianhq/ai-gateway/relay/provider"
)

// CoolingSet tracks the keys currently on rate-limit cooldown. The
// rate-limit monitor owns the writes; the health monitor consults it so a
// cooling provider is never re-inserted by a health tick.
type CoolingSet struct {
	mu   sync.Mutex
	keys map[balancer.Key]bool
}

func NewCoolingSet() *CoolingSet {
	return &CoolingSet{keys: make(map[balancer.Key]bool)}
}

// Add marks key as cooling; reports false when it already was.
func (s *CoolingSet) Add(key balancer.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[key] {
		return false
	}
	s.keys[key] = true
	return true
}

func (s *CoolingSet) Remove(key balancer.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
}

func (s *CoolingSet) Contains(key balancer.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key]
}

// ContainsProvider reports whether any key for (p, et) is cooling.
func (s *CoolingSet) ContainsProvider(p provider.InferenceProvider, et endpoint.EndpointType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.keys {
		if key.Provider == p && key.Endpoint == et {
			return true
		}
	}
	return false
}
