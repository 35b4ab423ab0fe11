// Package perf keeps windowed per-operation performance samples and derives
// tuning hints from them.
package perf

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// ringCapacity bounds retained samples per operation key.
	ringCapacity = 1000
	// minSamples is the floor below which a key yields no stats.
	minSamples = 10
	// DefaultTick is how often stats and adaptive config are recomputed.
	DefaultTick = 30 * time.Second
)

// Sample is one observed operation.
type Sample struct {
	Key      string
	Duration time.Duration
	Size     int64
	Success  bool
	CacheHit bool
	At       time.Time
}

// Stats summarizes one operation key's recent window.
type Stats struct {
	Key             string
	Count           int
	P50             time.Duration
	P95             time.Duration
	P99             time.Duration
	SuccessRate     float64
	AvgSize         float64
	CacheHitRate    float64
	BottleneckScore float64
}

// ring is a fixed-capacity sample buffer; new samples overwrite the oldest.
type ring struct {
	samples []Sample
	next    int
	full    bool
}

func (r *ring) add(s Sample) {
	if len(r.samples) < ringCapacity {
		r.samples = append(r.samples, s)
		return
	}
	r.samples[r.next] = s
	r.next = (r.next + 1) % ringCapacity
	r.full = true
}

func (r *ring) snapshot() []Sample {
	out := make([]Sample, len(r.samples))
	copy(out, r.samples)
	return out
}

// Monitor records samples per operation key and periodically recomputes
// stats. Observe is safe for concurrent use.
type Monitor struct {
	mu    sync.Mutex
	rings map[string]*ring
	stats map[string]Stats

	tick time.Duration
}

// NewMonitor creates a Monitor. Call Run to start the recompute tick, or
// call Recompute directly for on-demand stats.
func NewMonitor() *Monitor {
	return &Monitor{
		rings: make(map[string]*ring),
		stats: make(map[string]Stats),
		tick:  DefaultTick,
	}
}

// Observe records one sample.
func (m *Monitor) Observe(s Sample) {
	if s.At.IsZero() {
		s.At = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rings[s.Key]
	if !ok {
		r = &ring{}
		m.rings[s.Key] = r
	}
	r.add(s)
}

// Stats returns the last computed stats for a key. ok is false when the key
// has not reached the sample floor at the last recompute.
func (m *Monitor) Stats(key string) (Stats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[key]
	return st, ok
}

// Run recomputes stats on the tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Recompute()
		}
	}
}

// Recompute rebuilds stats for every key holding at least the sample floor.
func (m *Monitor) Recompute() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, r := range m.rings {
		samples := r.snapshot()
		if len(samples) < minSamples {
			delete(m.stats, key)
			continue
		}
		m.stats[key] = compute(key, samples)
	}
}

func compute(key string, samples []Sample) Stats {
	durations := make([]time.Duration, len(samples))
	var (
		successes int
		cacheHits int
		sizeSum   float64
		durSum    time.Duration
	)
	for i, s := range samples {
		durations[i] = s.Duration
		durSum += s.Duration
		sizeSum += float64(s.Size)
		if s.Success {
			successes++
		}
		if s.CacheHit {
			cacheHits++
		}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	n := len(samples)
	st := Stats{
		Key:          key,
		Count:        n,
		P50:          percentile(durations, 50),
		P95:          percentile(durations, 95),
		P99:          percentile(durations, 99),
		SuccessRate:  float64(successes) / float64(n),
		AvgSize:      sizeSum / float64(n),
		CacheHitRate: float64(cacheHits) / float64(n),
	}

	avgLatency := durSum / time.Duration(n)
	st.BottleneckScore = bottleneckScore(avgLatency, st.P95, 1-st.SuccessRate)
	return st
}

// percentile is nearest-rank over an already sorted slice.
func percentile(sorted []time.Duration, pct int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (pct*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// bottleneckScore weights average latency 40%, failure rate 35% and p95
// latency 25%, each normalized to [0,1], capped at 100.
func bottleneckScore(avg, p95 time.Duration, failureRate float64) float64 {
	score := 40*latencyBucket(avg) + 35*failureRate + 25*latencyBucket(p95)
	if score > 100 {
		return 100
	}
	return score
}

// latencyBucket maps a latency onto [0,1]: instant is 0, ten seconds or
// worse is 1.
func latencyBucket(d time.Duration) float64 {
	const worst = 10 * time.Second
	if d <= 0 {
		return 0
	}
	if d >= worst {
		return 1
	}
	return float64(d) / float64(worst)
}

// AdaptiveConfig is the tuning snapshot per operation class. Replaced
// wholesale on every adjustment, never mutated in place.
type AdaptiveConfig struct {
	ChunkSize int64
	BatchSize int
	Timeout   time.Duration
}

// AdaptiveConfig bounds.
const (
	MinBatchSize = 1
	MaxBatchSize = 50
	MinTimeout   = 5 * time.Second
	MaxTimeout   = 60 * time.Second
)

// Tuner publishes an AdaptiveConfig per operation class, nudged from the
// monitor's stats on the same tick.
type Tuner struct {
	monitor *Monitor
	configs sync.Map // class → *atomic.Pointer[AdaptiveConfig]
}

// NewTuner creates a Tuner over a monitor.
func NewTuner(m *Monitor) *Tuner {
	return &Tuner{monitor: m}
}

// Config returns the current config for an operation class, seeding a
// default on first use.
func (t *Tuner) Config(class string) AdaptiveConfig {
	return *t.pointer(class).Load()
}

func (t *Tuner) pointer(class string) *atomic.Pointer[AdaptiveConfig] {
	if p, ok := t.configs.Load(class); ok {
		return p.(*atomic.Pointer[AdaptiveConfig])
	}
	p := &atomic.Pointer[AdaptiveConfig]{}
	p.Store(&AdaptiveConfig{
		BatchSize: 10,
		Timeout:   30 * time.Second,
	})
	actual, _ := t.configs.LoadOrStore(class, p)
	return actual.(*atomic.Pointer[AdaptiveConfig])
}

// Run adjusts configs on the monitor's tick until ctx is done.
func (t *Tuner) Run(ctx context.Context) {
	ticker := time.NewTicker(t.monitor.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.monitor.Recompute()
			t.Adjust()
		}
	}
}

// Adjust nudges every known class's config from its latest stats: batch up
// and timeout down when the class is fast and reliable, the reverse when it
// is struggling.
func (t *Tuner) Adjust() {
	t.configs.Range(func(key, value any) bool {
		class := key.(string)
		ptr := value.(*atomic.Pointer[AdaptiveConfig])

		st, ok := t.monitor.Stats(class)
		if !ok {
			return true
		}

		cfg := *ptr.Load()
		healthy := st.SuccessRate >= 0.95 && st.P95 < 2*time.Second
		if healthy {
			cfg.BatchSize = clampInt(cfg.BatchSize+5, MinBatchSize, MaxBatchSize)
			cfg.Timeout = clampDuration(cfg.Timeout-5*time.Second, MinTimeout, MaxTimeout)
		} else {
			cfg.BatchSize = clampInt(cfg.BatchSize/2, MinBatchSize, MaxBatchSize)
			cfg.Timeout = clampDuration(cfg.Timeout+10*time.Second, MinTimeout, MaxTimeout)
		}
		ptr.Store(&cfg)

		slog.Debug("Adjusted adaptive config",
			"class", class,
			"batchSize", cfg.BatchSize,
			"timeout", cfg.Timeout,
			"successRate", st.SuccessRate,
			"p95", st.P95,
		)
		return true
	})
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
