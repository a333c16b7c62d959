// Package cache implements the bucketed, HTTP-semantics-aware response
// cache. A logical key is spread over N buckets so concurrent read-through
// traffic does not converge on a single entry; there is deliberately no
// single-flight, bucketing is the stampede mitigation.
package cache

import (
	"sync/atomic"
	"time"
)

const MaxBuckets = 32

// Buckets is the bucketed view over a Store shared by every cache layer.
type Buckets struct {
	store Store
	rr    atomic.Uint32
}

func NewBuckets(store Store) *Buckets {
	return &Buckets{store: store}
}

// clampBuckets normalizes a configured or header-supplied bucket count.
func clampBuckets(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxBuckets {
		return MaxBuckets
	}
	return n
}

// Lookup probes every bucket of the logical key; the first fresh entry
// wins. When no bucket is fresh it reports the first stale entry that still
// carries validators, for conditional revalidation.
func (b *Buckets) Lookup(seed, pathAndQuery string, body []byte, buckets int, now time.Time) (entry *Entry, bucket int, fresh bool, stale *Entry, staleBucket int) {
	buckets = clampBuckets(buckets)
	staleBucket = -1
	for i := 0; i < buckets; i++ {
		e, ok := b.store.Get(Key(seed, pathAndQuery, body, i))
		if !ok {
			continue
		}
		if e.Policy.FreshAt(now) {
			return e, i, true, nil, -1
		}
		if stale == nil && e.Policy.Revalidatable() {
			stale, staleBucket = e, i
		}
	}
	return nil, -1, false, stale, staleBucket
}

// ChooseBucket picks the slot a miss will be stored into: the first empty
// bucket, or round-robin when all are occupied.
func (b *Buckets) ChooseBucket(seed, pathAndQuery string, body []byte, buckets int) int {
	buckets = clampBuckets(buckets)
	for i := 0; i < buckets; i++ {
		if _, ok := b.store.Get(Key(seed, pathAndQuery, body, i)); !ok {
			return i
		}
	}
	return int(b.rr.Add(1)) % buckets
}

// Put stores the entry into the given bucket.
func (b *Buckets) Put(seed, pathAndQuery string, body []byte, bucket int, entry *Entry) {
	b.store.Put(Key(seed, pathAndQuery, body, bucket), entry)
}
