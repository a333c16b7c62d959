package monitor

import (
	"context"
	"time"

	"github.com/Laisky/zap"

	"github.com/meridianhq/ai-gateway/common/config"
	"github.com/meridianhq/ai-gateway/common/logger"
	"github.com/meridianhq/ai-gateway/relay/balancer"
	"github.com/meridianhq/ai-gateway/relay/endpoint"
	relaymodel "github.com/meridianhq/ai-gateway/relay/model"
)

// RateLimitMonitor reacts to upstream 429s for one router: the endpoint is
// removed from its balancer and re-inserted after the provider's
// retry-after window plus a buffer. One goroutine consumes both dispatcher
// events and timer expiries, so all discovery writes stay serialized.
type RateLimitMonitor struct {
	routerId  string
	cfg       config.MonitorConfig
	balance   map[endpoint.EndpointType]config.BalanceConfig
	balancers map[endpoint.EndpointType]*balancer.Balancer
	factory   DispatcherFactory

	// Events is the channel dispatchers publish 429s on.
	Events chan relaymodel.RateLimitEvent

	expiries chan balancer.Key
	cooling  *CoolingSet
}

func NewRateLimitMonitor(
	routerId string,
	cfg config.MonitorConfig,
	balance map[endpoint.EndpointType]config.BalanceConfig,
	balancers map[endpoint.EndpointType]*balancer.Balancer,
	factory DispatcherFactory,
	cooling *CoolingSet,
) *RateLimitMonitor {
	return &RateLimitMonitor{
		routerId:  routerId,
		cfg:       cfg,
		balance:   balance,
		balancers: balancers,
		factory:   factory,
		Events:    make(chan relaymodel.RateLimitEvent, balancer.ChannelCapacity),
		expiries:  make(chan balancer.Key, balancer.ChannelCapacity),
		cooling:   cooling,
	}
}

// Run consumes events until ctx is cancelled.
func (m *RateLimitMonitor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-m.Events:
			m.handleEvent(ctx, event)
		case key := <-m.expiries:
			m.handleExpiry(ctx, key)
		}
	}
}

func (m *RateLimitMonitor) handleEvent(ctx context.Context, event relaymodel.RateLimitEvent) {
	key, b, ok := m.keyFor(event.Endpoint)
	if !ok {
		return
	}
	if !m.cooling.Add(key) {
		// Already cooling down; the removal is in flight or done.
		return
	}

	logger.Logger.Warn("provider rate limited, removing from rotation",
		zap.String("router", m.routerId),
		zap.String("provider", key.Provider.String()),
		zap.String("endpoint", key.Endpoint.String()),
		zap.Int("retry_after_seconds", event.RetryAfterSeconds))

	m.send(ctx, b, balancer.Change{Key: key})

	wait := time.Duration(event.RetryAfterSeconds)*time.Second + m.cfg.CooldownBuffer
	time.AfterFunc(wait, func() {
		select {
		case m.expiries <- key:
		case <-ctx.Done():
		}
	})
}

func (m *RateLimitMonitor) handleExpiry(ctx context.Context, key balancer.Key) {
	if !m.cooling.Contains(key) {
		return
	}
	b := m.balancers[key.Endpoint]
	if b == nil {
		return
	}

	svc, err := m.factory(key.Provider)
	if err != nil {
		// The provider stays removed until a later event retriggers the
		// cycle; a persistent failure here is the supervisor's problem.
		logger.Logger.Error("rebuild dispatcher after cooldown",
			zap.String("router", m.routerId),
			zap.String("provider", key.Provider.String()),
			zap.Error(err))
		m.cooling.Remove(key)
		return
	}

	m.cooling.Remove(key)
	logger.Logger.Info("cooldown expired, re-inserting provider",
		zap.String("router", m.routerId),
		zap.String("provider", key.Provider.String()),
		zap.String("endpoint", key.Endpoint.String()))
	m.send(ctx, b, balancer.Change{Insert: true, Key: key, Service: svc})
}

// keyFor rebuilds the discovery key for the endpoint, recovering the
// configured weight so re-insertion matches the original identity.
func (m *RateLimitMonitor) keyFor(e endpoint.ApiEndpoint) (balancer.Key, *balancer.Balancer, bool) {
	bc, ok := m.balance[e.Type]
	if !ok {
		return balancer.Key{}, nil, false
	}
	b := m.balancers[e.Type]
	if b == nil {
		return balancer.Key{}, nil, false
	}
	for _, target := range balancer.TargetsFor(bc) {
		if target.Provider == e.Provider {
			return balancer.Key{Provider: e.Provider, Endpoint: e.Type, Weight: target.Weight}, b, true
		}
	}
	return balancer.Key{}, nil, false
}

func (m *RateLimitMonitor) send(ctx context.Context, b *balancer.Balancer, change balancer.Change) {
	select {
	case b.Changes() <- change:
	case <-ctx.Done():
	}
}
