// Package balancer maintains the per-(router, endpoint-type) ready set of
// dispatcher services and picks one per request.
//
// Monitors never touch the balancer directly: they own only the sender half
// of the discovery channel, the balancer owns the receiver and the ready
// set. Events on one channel are applied in FIFO order, so the final state
// after concurrent insert/remove on the same key is whatever arrived last.
package balancer

import (
	"context"
	"math/rand"
	"sync"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/meridianhq/ai-gateway/common/logger"
	"github.com/meridianhq/ai-gateway/relay/endpoint"
	"github.com/meridianhq/ai-gateway/relay/metrics"
	relaymodel "github.com/meridianhq/ai-gateway/relay/model"
	"github.com/meridianhq/ai-gateway/relay/provider"
)

// ChannelCapacity bounds each discovery channel. Backpressure here means
// the balancer is stalled and the writing monitor must wait, not drop.
const ChannelCapacity = 16

// Key identifies one balanced service. Weight participates in identity for
// the weighted strategy, so a weight change arrives as remove-then-insert.
type Key struct {
	Provider provider.InferenceProvider
	Endpoint endpoint.EndpointType
	Weight   float64
}

// Service is what the balancer hands requests to; dispatchers implement it.
type Service interface {
	Do(c *gin.Context) *relaymodel.GatewayError
	Ready() bool
	Provider() provider.InferenceProvider
}

// Change is one discovery event.
type Change struct {
	// Insert adds (or replaces) Key with Service; otherwise Key is removed.
	Insert  bool
	Key     Key
	Service Service
}

// Strategy selects the picking algorithm.
type Strategy int

const (
	// StrategyP2C samples two candidates and takes the one with the lower
	// peak-EWMA load (scaled by weight when configured).
	StrategyP2C Strategy = iota
	// StrategyWeighted samples one candidate with probability proportional
	// to its weight.
	StrategyWeighted
)

type entry struct {
	key Key
	svc Service
}

// Balancer owns one ready set. All mutation happens on the calling
// goroutine under mu; external actors mutate via the discovery channel.
type Balancer struct {
	routerId     string
	endpointType endpoint.EndpointType
	strategy     Strategy
	registry     *metrics.Registry

	changes chan Change

	mu      sync.Mutex
	ready   []entry
	pending []entry
}

func New(routerId string, et endpoint.EndpointType, strategy Strategy, registry *metrics.Registry) *Balancer {
	return &Balancer{
		routerId:     routerId,
		endpointType: et,
		strategy:     strategy,
		registry:     registry,
		changes:      make(chan Change, ChannelCapacity),
	}
}

// Changes returns the sender half for monitors.
func (b *Balancer) Changes() chan<- Change { return b.changes }

// drainLocked applies queued discovery events and promotes pending
// services whose Ready call now succeeds. Callers hold mu.
func (b *Balancer) drainLocked() {
	for {
		select {
		case change := <-b.changes:
			b.applyLocked(change)
		default:
			b.promoteLocked()
			return
		}
	}
}

func (b *Balancer) applyLocked(change Change) {
	b.removeKeyLocked(change.Key)
	if !change.Insert {
		return
	}
	e := entry{key: change.Key, svc: change.Service}
	if change.Service.Ready() {
		b.ready = append(b.ready, e)
	} else {
		b.pending = append(b.pending, e)
	}
	b.updateGauge()
}

func (b *Balancer) removeKeyLocked(key Key) {
	filter := func(entries []entry) []entry {
		out := entries[:0]
		for _, e := range entries {
			// A provider appears at most once per ready set, so removal
			// matches on provider identity regardless of weight.
			if e.key.Provider != key.Provider {
				out = append(out, e)
			}
		}
		return out
	}
	b.ready = filter(b.ready)
	b.pending = filter(b.pending)
	b.updateGauge()
}

func (b *Balancer) promoteLocked() {
	if len(b.pending) == 0 {
		return
	}
	still := b.pending[:0]
	for _, e := range b.pending {
		if e.svc.Ready() {
			b.ready = append(b.ready, e)
		} else {
			still = append(still, e)
		}
	}
	b.pending = still
	b.updateGauge()
}

func (b *Balancer) updateGauge() {
	metrics.BalancerReadySize.WithLabelValues(b.routerId, b.endpointType.String()).Set(float64(len(b.ready)))
}

// PollReady drains the channel and reports whether any service is ready.
func (b *Balancer) PollReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drainLocked()
	return len(b.ready) > 0
}

// Pick chooses a ready service. When the ready set is empty it waits for
// discovery events until ctx is done.
func (b *Balancer) Pick(ctx context.Context) (Service, *relaymodel.GatewayError) {
	for {
		b.mu.Lock()
		b.drainLocked()
		if len(b.ready) > 0 {
			svc := b.pickLocked()
			b.mu.Unlock()
			if svc != nil {
				return svc, nil
			}
			// Every sampled candidate lost readiness; loop to drain again.
			continue
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, &relaymodel.GatewayError{
				Kind:    relaymodel.KindUpstreamError,
				Status:  503,
				Message: "no healthy provider available",
			}
		case change := <-b.changes:
			b.mu.Lock()
			b.applyLocked(change)
			b.mu.Unlock()
		}
	}
}

// pickLocked runs the configured strategy over the ready set. Returns nil
// when no sampled candidate was ready (callers retry after a drain).
func (b *Balancer) pickLocked() Service {
	switch len(b.ready) {
	case 0:
		return nil
	case 1:
		if b.ready[0].svc.Ready() {
			return b.ready[0].svc
		}
		b.evictLocked(0)
		return nil
	}

	if b.strategy == StrategyWeighted {
		return b.pickWeightedLocked()
	}
	return b.pickP2CLocked()
}

func (b *Balancer) pickWeightedLocked() Service {
	var total float64
	for _, e := range b.ready {
		total += e.key.Weight
	}
	if total <= 0 {
		return b.ready[rand.Intn(len(b.ready))].svc
	}
	x := rand.Float64() * total
	for i, e := range b.ready {
		x -= e.key.Weight
		if x <= 0 {
			if e.svc.Ready() {
				return e.svc
			}
			b.evictLocked(i)
			return nil
		}
	}
	return b.ready[len(b.ready)-1].svc
}

// pickP2CLocked samples two distinct indices and takes the lower weighted
// load, tie-breaking on the lower index. If the winner lost readiness it
// resamples, up to len-1 attempts.
func (b *Balancer) pickP2CLocked() Service {
	attempts := len(b.ready) - 1
	for attempt := 0; attempt <= attempts; attempt++ {
		i := rand.Intn(len(b.ready))
		j := rand.Intn(len(b.ready) - 1)
		if j >= i {
			j++
		}
		if i > j {
			i, j = j, i
		}

		winner := i
		if b.loadLocked(j) < b.loadLocked(i) {
			winner = j
		}
		if b.ready[winner].svc.Ready() {
			return b.ready[winner].svc
		}
		logger.Logger.Warn("balancer evicting unready service",
			zap.String("router", b.routerId),
			zap.String("provider", b.ready[winner].key.Provider.String()))
		b.evictLocked(winner)
		if len(b.ready) == 0 {
			return nil
		}
		if len(b.ready) == 1 {
			if b.ready[0].svc.Ready() {
				return b.ready[0].svc
			}
			b.evictLocked(0)
			return nil
		}
	}
	return nil
}

// loadLocked is peak-EWMA load divided by weight for the weighted-P2C
// variant; unweighted entries divide by one.
func (b *Balancer) loadLocked(idx int) float64 {
	e := b.ready[idx]
	load := b.registry.Endpoint(endpoint.ApiEndpoint{
		Provider: e.key.Provider,
		Type:     e.key.Endpoint,
	}).EWMA().Load()
	if e.key.Weight > 0 {
		return load / e.key.Weight
	}
	return load
}

func (b *Balancer) evictLocked(idx int) {
	b.ready = append(b.ready[:idx], b.ready[idx+1:]...)
	b.updateGauge()
}

// Providers snapshots the providers currently in the ready set; the health
// monitor uses it to decide removals.
func (b *Balancer) Providers() []provider.InferenceProvider {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drainLocked()
	out := make([]provider.InferenceProvider, 0, len(b.ready))
	for _, e := range b.ready {
		out = append(out, e.key.Provider)
	}
	return out
}
