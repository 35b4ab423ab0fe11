package transfer

import (
	"sync"
	"time"
)

// Throughput thresholds for the adaptive feedback loop.
const (
	fastThroughputBps = 10 * 1024 * 1024 // >10 MB/s is fast
	slowThroughputBps = 1 * 1024 * 1024  // <1 MB/s is slow
	fastDuration      = time.Second
	slowDuration      = 5 * time.Second

	growFactor   = 1.2
	shrinkFactor = 0.8
)

// AdaptiveSizer adjusts the working chunk size from per-chunk throughput
// measurements. Each completed chunk nudges the size up or down
// multiplicatively; the result is always clamped to
// [MinChunkSize, MaxChunkSize]. In-flight chunks keep the size they were
// planned with; only chunks planned after an adjustment see the new value.
type AdaptiveSizer struct {
	mu      sync.Mutex
	current int64
}

// NewAdaptiveSizer creates a sizer seeded with the given chunk size. The
// seed usually comes from the performance monitor's longer-horizon
// recommendation; the feedback loop adjusts from there but is never
// overridden by it mid-session.
func NewAdaptiveSizer(seed int64) *AdaptiveSizer {
	if seed <= 0 {
		seed = DefaultChunkSize
	}
	return &AdaptiveSizer{current: ClampChunkSize(seed)}
}

// Current returns the chunk size the next planned chunk should use.
func (a *AdaptiveSizer) Current() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Observe feeds one completed chunk into the loop. A zero duration counts as
// fast; the clamp keeps the extremes bounded either way.
func (a *AdaptiveSizer) Observe(size int64, duration time.Duration) {
	throughput := float64(size) // bytes per second
	if duration > 0 {
		throughput = float64(size) / duration.Seconds()
	} else {
		throughput = float64(fastThroughputBps + 1)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case throughput > fastThroughputBps && duration < fastDuration:
		a.current = ClampChunkSize(int64(float64(a.current) * growFactor))
	case throughput < slowThroughputBps || duration > slowDuration:
		a.current = ClampChunkSize(int64(float64(a.current) * shrinkFactor))
	}
}
