// Package healthmon watches an in-progress transfer and scores how healthy
// it looks, independent of the transfer loop itself.
package healthmon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shuttlefile/shuttle/internal/metrics"
)

const (
	// DefaultTick is how often the score is recomputed.
	DefaultTick = 5 * time.Second
	// DefaultMinScore is the threshold below which the transfer counts as
	// degraded.
	DefaultMinScore = 50

	stallThreshold   = 30 * time.Second
	retryGracePeriod = 30 * time.Second
	maxProjected     = 5 * time.Minute

	penaltyStall       = 30
	penaltyFailureRate = 20
	penaltyRetryRate   = 15
	penaltyProjected   = 10
	penaltyPauses      = 10
)

// Snapshot is the monitor's view of the transfer at one instant, supplied
// by the owning engine.
type Snapshot struct {
	TransferredBytes int64
	TotalBytes       int64
	ChunksCompleted  int
	ChunksFailed     int
	ChunksTotal      int
	RetryCount       int
	PauseCount       int
}

// Event is a health state transition.
type Event struct {
	Score    int
	Degraded bool
	At       time.Time
}

// EventFunc receives health transition events.
type EventFunc func(Event)

// Monitor recomputes a 0-100 health score on a fixed tick and notifies
// subscribers when the score crosses the degraded threshold in either
// direction.
type Monitor struct {
	source   func() Snapshot
	tick     time.Duration
	minScore int
	now      func() time.Time

	mu          sync.Mutex
	subscribers map[int]EventFunc
	nextSubID   int
	score       int
	degraded    bool
	startedAt   time.Time
	lastBytes   int64
	lastMovedAt time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithTick overrides the recompute interval.
func WithTick(d time.Duration) Option {
	return func(m *Monitor) { m.tick = d }
}

// WithMinScore overrides the degraded threshold.
func WithMinScore(s int) Option {
	return func(m *Monitor) { m.minScore = s }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a Monitor reading transfer state through source.
func New(source func() Snapshot, opts ...Option) *Monitor {
	m := &Monitor{
		source:      source,
		tick:        DefaultTick,
		minScore:    DefaultMinScore,
		now:         time.Now,
		subscribers: make(map[int]EventFunc),
		score:       100,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers fn for transition events, returning an id for
// Unsubscribe. Subscription lifetime is explicit; dropping the id leaks the
// subscription for the monitor's lifetime, nothing worse.
func (m *Monitor) Subscribe(fn EventFunc) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	return id
}

// Unsubscribe removes a subscription.
func (m *Monitor) Unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribers, id)
}

// Score returns the latest computed score.
func (m *Monitor) Score() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.score
}

// Degraded reports whether the last computed score is below the threshold.
func (m *Monitor) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

// SuggestedPause maps the current score to a throttle hint for callers that
// prefer slowing down over aborting.
func (m *Monitor) SuggestedPause() time.Duration {
	score := m.Score()
	switch {
	case score < 25:
		return 2000 * time.Millisecond
	case score < 50:
		return 1000 * time.Millisecond
	case score < 75:
		return 500 * time.Millisecond
	default:
		return 0
	}
}

// Run recomputes the score on the tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.mu.Lock()
	m.startedAt = m.now()
	m.lastMovedAt = m.startedAt
	m.mu.Unlock()

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evaluate()
		}
	}
}

// Evaluate recomputes the score once and fires transition events. Exposed
// for deterministic tests; Run calls it on the tick.
func (m *Monitor) Evaluate() {
	snap := m.source()
	now := m.now()

	m.mu.Lock()
	if m.startedAt.IsZero() {
		m.startedAt = now
		m.lastMovedAt = now
	}
	if snap.TransferredBytes > m.lastBytes {
		m.lastBytes = snap.TransferredBytes
		m.lastMovedAt = now
	}

	score := m.computeLocked(snap, now)
	wasDegraded := m.degraded
	m.score = score
	m.degraded = score < m.minScore

	transitioned := m.degraded != wasDegraded
	var fire []EventFunc
	if transitioned {
		for _, fn := range m.subscribers {
			fire = append(fire, fn)
		}
	}
	degraded := m.degraded
	m.mu.Unlock()

	metrics.HealthScore.Set(float64(score))

	if transitioned {
		if degraded {
			slog.Warn("Transfer health degraded", "score", score)
		} else {
			slog.Info("Transfer health recovered", "score", score)
		}
		ev := Event{Score: score, Degraded: degraded, At: now}
		for _, fn := range fire {
			fn(ev)
		}
	}
}

func (m *Monitor) computeLocked(snap Snapshot, now time.Time) int {
	score := 100
	elapsed := now.Sub(m.startedAt)

	if now.Sub(m.lastMovedAt) > stallThreshold {
		score -= penaltyStall
	}

	attempted := snap.ChunksCompleted + snap.ChunksFailed
	if attempted > 0 && float64(snap.ChunksFailed)/float64(attempted) > 0.10 {
		score -= penaltyFailureRate
	}

	if elapsed > retryGracePeriod && elapsed > 0 {
		if float64(snap.RetryCount)/elapsed.Seconds() > 0.5 {
			score -= penaltyRetryRate
		}
	}

	if snap.TransferredBytes > 0 && snap.TotalBytes > snap.TransferredBytes && elapsed > 0 {
		speed := float64(snap.TransferredBytes) / elapsed.Seconds()
		remaining := float64(snap.TotalBytes - snap.TransferredBytes)
		// Compare in float seconds: a crawling transfer can project further
		// than a time.Duration holds.
		if remaining/speed > maxProjected.Seconds() {
			score -= penaltyProjected
		}
	}

	if snap.PauseCount > 5 {
		score -= penaltyPauses
	}

	if score < 0 {
		score = 0
	}
	return score
}
