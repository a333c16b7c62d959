// Package metrics holds the process-wide per-endpoint counters consumed by
// the health monitor and the P2C balancer, plus the Prometheus collectors.
package metrics

import (
	"sync"
	"time"

	"github.com/meridianhq/ai-gateway/relay/endpoint"
)

// EndpointMetrics aggregates the signals for one ApiEndpoint. All fields
// are safe for concurrent use; nothing here coordinates across the cluster.
type EndpointMetrics struct {
	endpoint endpoint.ApiEndpoint

	requests     *RollingCounter
	remoteErrors *RollingCounter
	ewma         *PeakEWMA
}

// RecordRequest counts one dispatched request.
func (m *EndpointMetrics) RecordRequest() {
	m.requests.Incr(1)
	RequestsTotal.WithLabelValues(m.endpoint.Provider.String(), m.endpoint.Type.String()).Inc()
}

// RecordRemoteError counts one transport error, upstream 5xx or broken
// stream against the endpoint.
func (m *EndpointMetrics) RecordRemoteError() {
	m.remoteErrors.Incr(1)
	RemoteErrorsTotal.WithLabelValues(m.endpoint.Provider.String(), m.endpoint.Type.String()).Inc()
}

// ObserveTFFT records time-to-first-token for the endpoint. The EWMA load
// signal is fed separately via EWMA().Done so the sample is not counted
// twice.
func (m *EndpointMetrics) ObserveTFFT(d time.Duration) {
	TFFTSeconds.WithLabelValues(m.endpoint.Provider.String(), m.endpoint.Type.String()).Observe(d.Seconds())
}

// RequestCount is the rolling-window request total.
func (m *EndpointMetrics) RequestCount() int64 { return m.requests.Sum() }

// RemoteErrorCount is the rolling-window error total.
func (m *EndpointMetrics) RemoteErrorCount() int64 { return m.remoteErrors.Sum() }

// ErrorRatio is errors over requests in the window; zero when idle.
func (m *EndpointMetrics) ErrorRatio() float64 {
	requests := m.RequestCount()
	if requests == 0 {
		return 0
	}
	return float64(m.RemoteErrorCount()) / float64(requests)
}

// EWMA exposes the load signal used by P2C.
func (m *EndpointMetrics) EWMA() *PeakEWMA { return m.ewma }

// Registry hands out one EndpointMetrics per ApiEndpoint, process-wide.
type Registry struct {
	mu        sync.RWMutex
	window    time.Duration
	endpoints map[endpoint.ApiEndpoint]*EndpointMetrics
}

func NewRegistry(window time.Duration) *Registry {
	if window <= 0 {
		window = time.Minute
	}
	return &Registry{
		window:    window,
		endpoints: make(map[endpoint.ApiEndpoint]*EndpointMetrics),
	}
}

// Endpoint returns the metrics for e, creating them on first use.
func (r *Registry) Endpoint(e endpoint.ApiEndpoint) *EndpointMetrics {
	r.mu.RLock()
	m, ok := r.endpoints[e]
	r.mu.RUnlock()
	if ok {
		return m
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok = r.endpoints[e]; ok {
		return m
	}
	m = &EndpointMetrics{
		endpoint:     e,
		requests:     NewRollingCounter(r.window),
		remoteErrors: NewRollingCounter(r.window),
		ewma:         NewPeakEWMA(),
	}
	r.endpoints[e] = m
	return m
}
