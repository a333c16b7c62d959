package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// defaultTau is the decay constant for the latency average. Ten seconds
// keeps the signal responsive without thrashing on single slow calls.
const defaultTau = 10 * time.Second

// PeakEWMA tracks a peak-sensitive exponentially weighted moving average of
// observed latency. Worse-than-average observations take effect immediately;
// better ones decay in over tau. The load signal multiplies the decayed
// cost by outstanding requests, which is what P2C compares.
type PeakEWMA struct {
	mu      sync.Mutex
	cost    float64
	stamp   time.Time
	pending atomic.Int64
	tau     time.Duration
}

func NewPeakEWMA() *PeakEWMA {
	return &PeakEWMA{tau: defaultTau, stamp: time.Now()}
}

// Start marks one request in flight. Callers pair it with Done.
func (p *PeakEWMA) Start() {
	p.pending.Add(1)
}

// Done records the observed round-trip and releases the in-flight slot.
func (p *PeakEWMA) Done(rtt time.Duration) {
	p.pending.Add(-1)
	p.Observe(rtt)
}

// Observe folds one latency sample into the average.
func (p *PeakEWMA) Observe(rtt time.Duration) {
	observed := float64(rtt)
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(p.stamp)
	p.stamp = now

	if observed > p.cost {
		// Peak: latch the worse value instantly.
		p.cost = observed
		return
	}
	w := math.Exp(-float64(elapsed) / float64(p.tau))
	p.cost = p.cost*w + observed*(1-w)
}

// Load is the P2C comparison key: decayed cost scaled by concurrency. A
// never-observed endpoint reports zero and is preferred until it has data.
func (p *PeakEWMA) Load() float64 {
	p.mu.Lock()
	cost := p.cost
	elapsed := time.Since(p.stamp)
	p.mu.Unlock()

	if elapsed > p.tau {
		cost *= math.Exp(-float64(elapsed) / float64(p.tau))
	}
	return cost * float64(p.pending.Load()+1)
}
