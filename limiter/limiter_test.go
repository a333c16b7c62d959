package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreBurstThenReject(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	// capacity 3, one cell per second: three immediate admits, then reject.
	for i := 0; i < 3; i++ {
		d, err := store.Admit(ctx, "k", 3, time.Second)
		require.NoError(t, err)
		require.True(t, d.Allowed, "admit %d", i)
	}

	d, err := store.Admit(ctx, "k", 3, time.Second)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Greater(t, d.RetryAfter, time.Duration(0))
	require.LessOrEqual(t, d.RetryAfter, time.Second)
}

func TestMemoryStoreRefill(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	d, err := store.Admit(ctx, "k", 1, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = store.Admit(ctx, "k", 1, 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	time.Sleep(60 * time.Millisecond)

	d, err = store.Admit(ctx, "k", 1, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestMemoryStoreKeysIndependent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	d, _ := store.Admit(ctx, "a", 1, time.Minute)
	require.True(t, d.Allowed)
	d, _ = store.Admit(ctx, "a", 1, time.Minute)
	require.False(t, d.Allowed)

	// A different key has its own TAT.
	d, _ = store.Admit(ctx, "b", 1, time.Minute)
	require.True(t, d.Allowed)
}

func TestMemoryStoreConcurrentAdmits(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	const workers = 32
	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := store.Admit(ctx, "shared", 10, time.Minute)
			require.NoError(t, err)
			if d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	// Exactly the burst capacity gets through under contention.
	require.EqualValues(t, 10, admitted.Load())
}

func TestRetryAfterSeconds(t *testing.T) {
	require.Equal(t, 1, RetryAfterSeconds(10*time.Millisecond))
	require.Equal(t, 1, RetryAfterSeconds(time.Second))
	require.Equal(t, 2, RetryAfterSeconds(time.Second+time.Millisecond))
}

func TestDisabledStore(t *testing.T) {
	d, err := Disabled{}.Admit(context.Background(), "any", 0, 0)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}
