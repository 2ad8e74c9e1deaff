package consolidation

import (
	"sync"
	"time"
)

// StrategyPerformance is the adaptive track record of one strategy. Its
// effectiveness doubles as the strategy weight applied to cluster
// coherence, so strategies that historically produce coherent clusters
// gain influence over time.
type StrategyPerformance struct {
	Effectiveness float64   `json:"effectiveness"`
	UsageCount    int       `json:"usage_count"`
	LastUsed      time.Time `json:"last_used,omitempty"`
}

// PerformanceTracker owns the per-strategy performance table. It is the
// engine's only adaptive mechanism: a moving average over observed
// cluster coherence, not a trained model.
type PerformanceTracker struct {
	initial float64
	perf    map[StrategyName]*StrategyPerformance
	now     func() time.Time
	mu      sync.RWMutex
}

// NewPerformanceTracker creates a tracker with the given initial
// effectiveness for every strategy.
func NewPerformanceTracker(initial float64, now func() time.Time) *PerformanceTracker {
	if initial <= 0 || initial > 1 {
		initial = 0.8
	}
	if now == nil {
		now = time.Now
	}
	return &PerformanceTracker{
		initial: initial,
		perf:    make(map[StrategyName]*StrategyPerformance),
		now:     now,
	}
}

// Weight returns the current weight (effectiveness) of a strategy.
func (t *PerformanceTracker) Weight(name StrategyName) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.perf[name]; ok {
		return p.Effectiveness
	}
	return t.initial
}

// Record folds an observed mean cluster coherence into the strategy's
// effectiveness and bumps its usage counter.
func (t *PerformanceTracker) Record(name StrategyName, observedCoherence float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.perf[name]
	if !ok {
		p = &StrategyPerformance{Effectiveness: t.initial}
		t.perf[name] = p
	}
	p.Effectiveness = (p.Effectiveness + observedCoherence) / 2
	p.UsageCount++
	p.LastUsed = t.now()
}

// Snapshot returns a copy of the performance table.
func (t *PerformanceTracker) Snapshot() map[StrategyName]StrategyPerformance {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[StrategyName]StrategyPerformance, len(t.perf))
	for name, p := range t.perf {
		out[name] = *p
	}
	return out
}
