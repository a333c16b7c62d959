package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore keeps per-key TATs in process memory. State updates are a
// compare-and-swap loop over a single int64 per key, so admission never
// takes a lock after the key exists.
type MemoryStore struct {
	tats sync.Map // key -> *atomic.Int64 (unix nanos)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Admit(_ context.Context, key string, capacity int64, refill time.Duration) (Decision, error) {
	v, _ := s.tats.LoadOrStore(key, new(atomic.Int64))
	tat := v.(*atomic.Int64)

	for {
		now := time.Now().UnixNano()
		stored := tat.Load()
		newTAT, decision := gcra(stored, now, capacity, refill)
		if !decision.Allowed {
			return decision, nil
		}
		if tat.CompareAndSwap(stored, newTAT) {
			return decision, nil
		}
		// Lost the race with a concurrent admit for the same key; re-read.
	}
}
