package transfer

import (
	"sync"
	"time"
)

// ProgressFunc receives aggregate progress updates. percent is 0-100.
type ProgressFunc func(loaded, total int64, percent float64)

// ProgressSnapshot is a point-in-time view of session progress.
type ProgressSnapshot struct {
	Loaded  int64
	Total   int64
	Percent float64
	Speed   float64 // bytes per second since the session started
	ETA     time.Duration
}

// ProgressAggregator merges per-chunk completion events into overall
// percentage, speed and ETA, and fans updates out to registered subscribers.
// Subscription lifetime is explicit: Register returns an id that must be
// passed to Unregister when the subscriber goes away.
type ProgressAggregator struct {
	mu     sync.Mutex
	total  int64
	loaded int64
	start  time.Time
	subs   map[int]ProgressFunc
	nextID int
}

// NewProgressAggregator creates an aggregator for a payload of total bytes.
func NewProgressAggregator(total int64) *ProgressAggregator {
	return &ProgressAggregator{
		total: total,
		start: time.Now(),
		subs:  make(map[int]ProgressFunc),
	}
}

// Register adds a subscriber and returns its id.
func (p *ProgressAggregator) Register(fn ProgressFunc) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	return id
}

// Unregister removes a subscriber. Unknown ids are ignored.
func (p *ProgressAggregator) Unregister(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subs, id)
}

// Add records n completed bytes and notifies subscribers. Callbacks run on
// the caller's goroutine; subscribers must not block.
func (p *ProgressAggregator) Add(n int64) {
	p.mu.Lock()
	p.loaded += n
	loaded, total := p.loaded, p.total
	fns := make([]ProgressFunc, 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	percent := float64(0)
	if total > 0 {
		percent = float64(loaded) / float64(total) * 100
	}
	for _, fn := range fns {
		fn(loaded, total, percent)
	}
}

// Snapshot returns the current progress including speed and ETA.
func (p *ProgressAggregator) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	loaded, total, start := p.loaded, p.total, p.start
	p.mu.Unlock()

	snap := ProgressSnapshot{Loaded: loaded, Total: total}
	if total > 0 {
		snap.Percent = float64(loaded) / float64(total) * 100
	}
	elapsed := time.Since(start).Seconds()
	if elapsed > 0 && loaded > 0 {
		snap.Speed = float64(loaded) / elapsed
		remaining := float64(total-loaded) / snap.Speed
		snap.ETA = time.Duration(remaining * float64(time.Second))
	}
	return snap
}
