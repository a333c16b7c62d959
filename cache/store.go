package cache

import (
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/meridianhq/ai-gateway/relay/metrics"
)

// Entry is one cached response. Entries are owned by the store; Get hands
// out the stored value which callers must treat as read-only.
type Entry struct {
	Body    []byte
	Headers map[string]string
	Status  int
	Policy  Policy
	Proto   string
}

func (e *Entry) size() int64 {
	n := int64(len(e.Body))
	for k, v := range e.Headers {
		n += int64(len(k) + len(v))
	}
	return n
}

// Store is the backing map for cache entries, keyed by the 64-bit request
// fingerprint.
type Store interface {
	Get(key uint64) (*Entry, bool)
	Put(key uint64, entry *Entry)
	Delete(key uint64)
}

// MemoryStore wraps go-cache with per-entry TTLs and an approximate
// byte-size cap. Evictions, whether from TTL expiry or the cap sweep, feed
// the eviction metric.
type MemoryStore struct {
	inner    *gocache.Cache
	maxBytes int64
	bytes    atomic.Int64
}

func NewMemoryStore(maxBytes int64) *MemoryStore {
	s := &MemoryStore{
		inner:    gocache.New(gocache.NoExpiration, time.Minute),
		maxBytes: maxBytes,
	}
	s.inner.OnEvicted(func(_ string, v interface{}) {
		if e, ok := v.(*Entry); ok {
			s.bytes.Add(-e.size())
		}
		metrics.CacheEvictionsTotal.Inc()
	})
	return s
}

func formatKey(key uint64) string {
	return strconv.FormatUint(key, 16)
}

func (s *MemoryStore) Get(key uint64) (*Entry, bool) {
	v, ok := s.inner.Get(formatKey(key))
	if !ok {
		return nil, false
	}
	return v.(*Entry), true
}

func (s *MemoryStore) Put(key uint64, entry *Entry) {
	ttl := entry.Policy.MaxAge
	if ttl <= 0 {
		return
	}
	// Keep stale entries around for one extra window so they can serve
	// conditional revalidation.
	if entry.Policy.Revalidatable() {
		ttl *= 2
	}
	s.inner.Set(formatKey(key), entry, ttl)
	if total := s.bytes.Add(entry.size()); s.maxBytes > 0 && total > s.maxBytes {
		s.sweep()
	}
}

func (s *MemoryStore) Delete(key uint64) {
	s.inner.Delete(formatKey(key))
}

// sweep drops the oldest entries until the store fits the byte cap again.
func (s *MemoryStore) sweep() {
	type aged struct {
		key      string
		storedAt time.Time
	}
	items := s.inner.Items()
	entries := make([]aged, 0, len(items))
	for k, item := range items {
		if e, ok := item.Object.(*Entry); ok {
			entries = append(entries, aged{key: k, storedAt: e.Policy.StoredAt})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].storedAt.Before(entries[j].storedAt)
	})
	for _, candidate := range entries {
		if s.bytes.Load() <= s.maxBytes {
			return
		}
		s.inner.Delete(candidate.key)
	}
}
