package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridianhq/ai-gateway/common/config"
	"github.com/meridianhq/ai-gateway/relay/balancer"
	"github.com/meridianhq/ai-gateway/relay/endpoint"
	"github.com/meridianhq/ai-gateway/relay/metrics"
	relaymodel "github.com/meridianhq/ai-gateway/relay/model"
	"github.com/meridianhq/ai-gateway/relay/provider"

	"github.com/gin-gonic/gin"
)

type stubService struct{ p provider.InferenceProvider }

func (s *stubService) Do(*gin.Context) *relaymodel.GatewayError { return nil }
func (s *stubService) Ready() bool                              { return true }
func (s *stubService) Provider() provider.InferenceProvider     { return s.p }

func stubFactory(p provider.InferenceProvider) (balancer.Service, error) {
	return &stubService{p: p}, nil
}

func testBalance() map[endpoint.EndpointType]config.BalanceConfig {
	return map[endpoint.EndpointType]config.BalanceConfig{
		endpoint.Chat: {
			Strategy: "weighted",
			Targets: []config.WeightedTargetConfig{
				{Provider: "openai", Weight: 0.5},
				{Provider: "anthropic", Weight: 0.5},
			},
		},
	}
}

func seedBalancer(t *testing.T, reg *metrics.Registry) map[endpoint.EndpointType]*balancer.Balancer {
	t.Helper()
	b := balancer.New("default", endpoint.Chat, balancer.StrategyWeighted, reg)
	for _, target := range balancer.TargetsFor(testBalance()[endpoint.Chat]) {
		svc, err := stubFactory(target.Provider)
		require.NoError(t, err)
		b.Changes() <- balancer.Change{
			Insert:  true,
			Key:     balancer.Key{Provider: target.Provider, Endpoint: endpoint.Chat, Weight: target.Weight},
			Service: svc,
		}
	}
	require.True(t, b.PollReady())
	return map[endpoint.EndpointType]*balancer.Balancer{endpoint.Chat: b}
}

func monitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		HealthInterval: 10 * time.Millisecond,
		MinRequests:    20,
		ErrorThreshold: 0.15,
		CooldownBuffer: 20 * time.Millisecond,
		RollingWindow:  time.Minute,
	}
}

func TestHealthMonitorRemovesAndRecovers(t *testing.T) {
	reg := metrics.NewRegistry(time.Minute)
	balancers := seedBalancer(t, reg)
	hm := NewHealthMonitor("default", monitorConfig(), testBalance(), balancers, reg, stubFactory, NewCoolingSet())

	em := reg.Endpoint(endpoint.ApiEndpoint{Provider: provider.OpenAI, Type: endpoint.Chat})

	// Under the grace period nothing happens.
	for i := 0; i < 10; i++ {
		em.RecordRequest()
	}
	hm.tick(context.Background())
	require.Len(t, balancers[endpoint.Chat].Providers(), 2)

	// 25 requests, 5 errors: ratio 0.2 > 0.15 -> removed within one tick.
	for i := 0; i < 15; i++ {
		em.RecordRequest()
	}
	for i := 0; i < 5; i++ {
		em.RecordRemoteError()
	}
	hm.tick(context.Background())
	require.Equal(t, []provider.InferenceProvider{provider.Anthropic}, balancers[endpoint.Chat].Providers())

	// More successful traffic dilutes the ratio under the threshold; the
	// next tick rebuilds a dispatcher and re-inserts.
	for i := 0; i < 25; i++ {
		em.RecordRequest()
	}
	hm.tick(context.Background())
	require.Len(t, balancers[endpoint.Chat].Providers(), 2)
}

func TestHealthMonitorSkipsCoolingProvider(t *testing.T) {
	reg := metrics.NewRegistry(time.Minute)
	balancers := seedBalancer(t, reg)
	cooling := NewCoolingSet()
	hm := NewHealthMonitor("default", monitorConfig(), testBalance(), balancers, reg, stubFactory, cooling)

	em := reg.Endpoint(endpoint.ApiEndpoint{Provider: provider.OpenAI, Type: endpoint.Chat})
	for i := 0; i < 20; i++ {
		em.RecordRequest()
	}
	for i := 0; i < 5; i++ {
		em.RecordRemoteError()
	}
	hm.tick(context.Background())
	require.Len(t, balancers[endpoint.Chat].Providers(), 1)

	// Provider goes on rate-limit cooldown; health recovery must not race
	// it back in.
	key := balancer.Key{Provider: provider.OpenAI, Endpoint: endpoint.Chat, Weight: 0.5}
	cooling.Add(key)
	for i := 0; i < 80; i++ {
		em.RecordRequest()
	}
	hm.tick(context.Background())
	require.Len(t, balancers[endpoint.Chat].Providers(), 1)

	cooling.Remove(key)
	hm.tick(context.Background())
	require.Len(t, balancers[endpoint.Chat].Providers(), 2)
}

func TestRateLimitMonitorCooldownCycle(t *testing.T) {
	reg := metrics.NewRegistry(time.Minute)
	balancers := seedBalancer(t, reg)
	cooling := NewCoolingSet()
	rm := NewRateLimitMonitor("default", monitorConfig(), testBalance(), balancers, stubFactory, cooling)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rm.Run(ctx)

	rm.Events <- relaymodel.RateLimitEvent{
		Endpoint: endpoint.ApiEndpoint{Provider: provider.OpenAI, Type: endpoint.Chat},
	}

	// Removed promptly, and marked cooling.
	require.Eventually(t, func() bool {
		return len(balancers[endpoint.Chat].Providers()) == 1
	}, time.Second, 5*time.Millisecond)
	key := balancer.Key{Provider: provider.OpenAI, Endpoint: endpoint.Chat, Weight: 0.5}
	require.True(t, cooling.Contains(key))

	// A duplicate event while cooling is ignored (no second removal of the
	// surviving provider).
	rm.Events <- relaymodel.RateLimitEvent{
		Endpoint: endpoint.ApiEndpoint{Provider: provider.OpenAI, Type: endpoint.Chat},
	}

	// After retry-after(0) + buffer the provider is rebuilt and re-inserted.
	require.Eventually(t, func() bool {
		return len(balancers[endpoint.Chat].Providers()) == 2
	}, time.Second, 5*time.Millisecond)
	require.False(t, cooling.Contains(key))
}
