// Package keystore holds the upstream provider credentials. The map is
// read on every dispatch and written only at init and on control-plane
// updates, so a plain RW lock is enough.
package keystore

import (
	"sync"

	"github.com/meridianhq/ai-gateway/common/config"
	"github.com/meridianhq/ai-gateway/relay/provider"
)

type Store struct {
	mu   sync.RWMutex
	keys map[provider.InferenceProvider]string
}

func New() *Store {
	return &Store{keys: make(map[provider.InferenceProvider]string)}
}

// FromConfig seeds the store with the api-key fields of the providers
// section.
func FromConfig(providers map[string]config.ProviderConfig) *Store {
	s := New()
	for name, pc := range providers {
		if pc.APIKey == "" {
			continue
		}
		if p, err := provider.FromWireName(name); err == nil {
			s.Set(p, pc.APIKey)
		}
	}
	return s
}

func (s *Store) Get(p provider.InferenceProvider) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys[p]
}

func (s *Store) Set(p provider.InferenceProvider, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[p] = key
}

// Snapshot copies the table for attachment to a RequestContext.
func (s *Store) Snapshot() map[provider.InferenceProvider]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[provider.InferenceProvider]string, len(s.keys))
	for p, k := range s.keys {
		out[p] = k
	}
	return out
}
