// Package monitor hosts the per-router background tasks that drive
// endpoint discovery: the health monitor reclassifies endpoints from
// rolling error ratios, and the rate-limit monitor handles upstream 429
// cooldowns. Both write to the balancers only through discovery channels.
package monitor

import (
	"context"
	"time"

	"github.com/Laisky/zap"

	"github.com/meridianhq/ai-gateway/common/config"
	"github.com/meridianhq/ai-gateway/common/logger"
	"github.com/meridianhq/ai-gateway/relay/balancer"
	"github.com/meridianhq/ai-gateway/relay/endpoint"
	"github.com/meridianhq/ai-gateway/relay/metrics"
	"github.com/meridianhq/ai-gateway/relay/provider"
)

// DispatcherFactory rebuilds a dispatcher service for re-insertion.
type DispatcherFactory func(p provider.InferenceProvider) (balancer.Service, error)

// HealthMonitor reclassifies a router's endpoints each tick. All discovery
// writes happen on the monitor goroutine, so per-router emission is
// serialized, and targets are walked in endpoint-enumeration then config
// order so a tick's output is deterministic.
type HealthMonitor struct {
	routerId  string
	cfg       config.MonitorConfig
	balance   map[endpoint.EndpointType]config.BalanceConfig
	balancers map[endpoint.EndpointType]*balancer.Balancer
	registry  *metrics.Registry
	factory   DispatcherFactory

	unhealthy map[balancer.Key]bool
	cooling   *CoolingSet
}

func NewHealthMonitor(
	routerId string,
	cfg config.MonitorConfig,
	balance map[endpoint.EndpointType]config.BalanceConfig,
	balancers map[endpoint.EndpointType]*balancer.Balancer,
	registry *metrics.Registry,
	factory DispatcherFactory,
	cooling *CoolingSet,
) *HealthMonitor {
	return &HealthMonitor{
		routerId:  routerId,
		cfg:       cfg,
		balance:   balance,
		balancers: balancers,
		registry:  registry,
		factory:   factory,
		unhealthy: make(map[balancer.Key]bool),
		cooling:   cooling,
	}
}

// Run ticks until ctx is cancelled.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *HealthMonitor) tick(ctx context.Context) {
	for _, et := range endpoint.AllTypes {
		bc, ok := m.balance[et]
		if !ok {
			continue
		}
		b := m.balancers[et]
		if b == nil {
			continue
		}
		for _, target := range balancer.TargetsFor(bc) {
			m.check(ctx, b, et, bc, target)
		}
	}
}

func (m *HealthMonitor) check(ctx context.Context, b *balancer.Balancer, et endpoint.EndpointType, bc config.BalanceConfig, target balancer.Target) {
	key := balancer.Key{Provider: target.Provider, Endpoint: et, Weight: target.Weight}
	em := m.registry.Endpoint(endpoint.ApiEndpoint{Provider: target.Provider, Type: et})

	requests := em.RequestCount()
	if requests < m.cfg.MinRequests {
		// Grace period: not enough signal to judge.
		return
	}
	ratio := em.ErrorRatio()

	switch {
	case ratio > m.cfg.ErrorThreshold && !m.unhealthy[key]:
		m.unhealthy[key] = true
		logger.Logger.Warn("endpoint unhealthy, removing from rotation",
			zap.String("router", m.routerId),
			zap.String("provider", target.Provider.String()),
			zap.String("endpoint", et.String()),
			zap.Float64("error_ratio", ratio))
		m.send(ctx, b, balancer.Change{Key: key})

	case ratio <= m.cfg.ErrorThreshold && m.unhealthy[key]:
		if m.cooling.Contains(key) {
			// Still on rate-limit cooldown; its monitor owns re-insertion.
			return
		}
		svc, err := m.factory(target.Provider)
		if err != nil {
			logger.Logger.Error("rebuild dispatcher for recovered endpoint",
				zap.String("provider", target.Provider.String()), zap.Error(err))
			return
		}
		delete(m.unhealthy, key)
		logger.Logger.Info("endpoint recovered, re-inserting",
			zap.String("router", m.routerId),
			zap.String("provider", target.Provider.String()),
			zap.String("endpoint", et.String()),
			zap.Float64("error_ratio", ratio))
		m.send(ctx, b, balancer.Change{Insert: true, Key: key, Service: svc})
	}
}

// send blocks until the balancer accepts the event; channel backpressure
// means the balancer is stalled and the monitor must wait, not drop.
func (m *HealthMonitor) send(ctx context.Context, b *balancer.Balancer, change balancer.Change) {
	select {
	case b.Changes() <- change:
	case <-ctx.Done():
	}
}
