package cache

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyDeterministic(t *testing.T) {
	k1 := Key("seed", "/v1/chat/completions", []byte(`{"x":1}`), 0)
	k2 := Key("seed", "/v1/chat/completions", []byte(`{"x":1}`), 0)
	require.Equal(t, k1, k2)

	// every component participates in the fingerprint
	require.NotEqual(t, k1, Key("", "/v1/chat/completions", []byte(`{"x":1}`), 0))
	require.NotEqual(t, k1, Key("seed", "/v1/embeddings", []byte(`{"x":1}`), 0))
	require.NotEqual(t, k1, Key("seed", "/v1/chat/completions", []byte(`{"x":2}`), 0))
	require.NotEqual(t, k1, Key("seed", "/v1/chat/completions", []byte(`{"x":1}`), 1))
}

func TestPolicyFromRequest(t *testing.T) {
	h := http.Header{}
	h.Set("Cache-Control", "max-age=3600")
	p := PolicyFromRequest(h, 0)
	require.Equal(t, time.Hour, p.MaxAge)
	require.True(t, p.Storable(http.StatusOK))
	require.False(t, p.Storable(http.StatusBadGateway))

	h.Set("Cache-Control", "no-store, max-age=60")
	p = PolicyFromRequest(h, 0)
	require.False(t, p.Storable(http.StatusOK))

	// without any directive the configured default applies
	p = PolicyFromRequest(http.Header{}, 30*time.Second)
	require.Equal(t, 30*time.Second, p.MaxAge)
}

func TestPolicyFreshness(t *testing.T) {
	now := time.Now()
	p := Policy{MaxAge: time.Minute, StoredAt: now}
	require.True(t, p.FreshAt(now.Add(30*time.Second)))
	require.False(t, p.FreshAt(now.Add(2*time.Minute)))

	p.NoCache = true
	require.False(t, p.FreshAt(now))
}

func TestPolicyConditionalHeaders(t *testing.T) {
	resp := http.Header{}
	resp.Set("ETag", `"abc"`)
	resp.Set("Last-Modified", "Wed, 21 Oct 2015 07:28:00 GMT")
	p := Policy{MaxAge: time.Minute}.Refine(resp, time.Now())

	require.True(t, p.Revalidatable())
	cond := p.ConditionalHeaders()
	require.Equal(t, `"abc"`, cond["If-None-Match"])
	require.Equal(t, "Wed, 21 Oct 2015 07:28:00 GMT", cond["If-Modified-Since"])
}

func TestBucketsLookupAndChoose(t *testing.T) {
	store := NewMemoryStore(0)
	b := NewBuckets(store)
	now := time.Now()

	body := []byte(`{"q":"hi"}`)
	_, _, fresh, stale, _ := b.Lookup("", "/p", body, 4, now)
	require.False(t, fresh)
	require.Nil(t, stale)

	// first empty bucket is chosen
	require.Equal(t, 0, b.ChooseBucket("", "/p", body, 4))

	entry := &Entry{
		Body:   []byte("resp"),
		Status: 200,
		Policy: Policy{MaxAge: time.Minute, StoredAt: now},
	}
	b.Put("", "/p", body, 0, entry)

	got, bucket, fresh, _, _ := b.Lookup("", "/p", body, 4, now)
	require.True(t, fresh)
	require.Equal(t, 0, bucket)
	require.Equal(t, []byte("resp"), got.Body)

	// bucket 0 occupied, next empty slot wins
	require.Equal(t, 1, b.ChooseBucket("", "/p", body, 4))

	// a different seed addresses different slots
	_, _, fresh, _, _ = b.Lookup("other", "/p", body, 4, now)
	require.False(t, fresh)
}

func TestBucketsStaleRevalidation(t *testing.T) {
	store := NewMemoryStore(0)
	b := NewBuckets(store)
	now := time.Now()

	entry := &Entry{
		Body:   []byte("old"),
		Status: 200,
		Policy: Policy{
			MaxAge:   time.Minute,
			StoredAt: now.Add(-2 * time.Minute), // stale
			ETag:     `"v1"`,
		},
	}
	b.Put("", "/p", nil, 0, entry)

	_, _, fresh, stale, staleBucket := b.Lookup("", "/p", nil, 1, now)
	require.False(t, fresh)
	require.NotNil(t, stale)
	require.Equal(t, 0, staleBucket)
	require.Equal(t, []byte("old"), stale.Body)
}

func TestMemoryStoreSizeCap(t *testing.T) {
	store := NewMemoryStore(100)

	oldEntry := &Entry{
		Body:   make([]byte, 80),
		Policy: Policy{MaxAge: time.Minute, StoredAt: time.Now().Add(-time.Second)},
	}
	store.Put(1, oldEntry)

	newEntry := &Entry{
		Body:   make([]byte, 80),
		Policy: Policy{MaxAge: time.Minute, StoredAt: time.Now()},
	}
	store.Put(2, newEntry)

	// the older entry was swept to honour the cap
	_, ok := store.Get(1)
	require.False(t, ok)
	_, ok = store.Get(2)
	require.True(t, ok)
}
