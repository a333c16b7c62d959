package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridianhq/ai-gateway/relay/endpoint"
	"github.com/meridianhq/ai-gateway/relay/provider"
)

func TestRollingCounter(t *testing.T) {
	c := NewRollingCounter(2 * time.Second)
	require.EqualValues(t, 0, c.Sum())

	c.Incr(3)
	c.Incr(2)
	require.EqualValues(t, 5, c.Sum())
}

func TestRollingCounterExpires(t *testing.T) {
	c := NewRollingCounter(time.Second)
	c.Incr(10)
	require.EqualValues(t, 10, c.Sum())

	time.Sleep(1100 * time.Millisecond)
	require.EqualValues(t, 0, c.Sum())
}

func TestRollingCounterConcurrent(t *testing.T) {
	c := NewRollingCounter(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Incr(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1600, c.Sum())
}

func TestPeakEWMA(t *testing.T) {
	e := NewPeakEWMA()
	require.Zero(t, e.Load())

	// A slow observation latches immediately.
	e.Observe(time.Second)
	require.InDelta(t, float64(time.Second), e.Load(), float64(50*time.Millisecond))

	// Faster observations decay in rather than replacing the peak.
	e.Observe(10 * time.Millisecond)
	load := e.Load()
	require.Less(t, load, float64(time.Second))
	require.Greater(t, load, float64(10*time.Millisecond))
}

func TestPeakEWMAPendingScalesLoad(t *testing.T) {
	e := NewPeakEWMA()
	e.Observe(100 * time.Millisecond)
	base := e.Load()

	e.Start()
	require.Greater(t, e.Load(), base)
	e.Done(100 * time.Millisecond)
}

func TestEndpointMetricsErrorRatio(t *testing.T) {
	reg := NewRegistry(time.Minute)
	em := reg.Endpoint(endpoint.ApiEndpoint{Provider: provider.OpenAI, Type: endpoint.Chat})

	require.Zero(t, em.ErrorRatio())

	for i := 0; i < 20; i++ {
		em.RecordRequest()
	}
	for i := 0; i < 5; i++ {
		em.RecordRemoteError()
	}
	require.EqualValues(t, 20, em.RequestCount())
	require.EqualValues(t, 5, em.RemoteErrorCount())
	require.InDelta(t, 0.25, em.ErrorRatio(), 1e-9)

	// Same endpoint resolves to the same metrics instance.
	require.Same(t, em, reg.Endpoint(endpoint.ApiEndpoint{Provider: provider.OpenAI, Type: endpoint.Chat}))
}
