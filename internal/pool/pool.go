// Package pool keeps one reusable transport handle per endpoint, shared by
// every concurrent session against that endpoint.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shuttlefile/shuttle/internal/metrics"
	"github.com/shuttlefile/shuttle/internal/transport"
)

const (
	// DefaultIdleTTL is how long a zero-reference entry stays warm before
	// the sweep may evict it.
	DefaultIdleTTL = 5 * time.Minute
	// DefaultSocketCap bounds sockets per entry, mirroring the engine's
	// chunk-concurrency default doubled for headroom.
	DefaultSocketCap = 8
	// sweepInterval is how often the sweep goroutine scans for expired
	// entries while the pool is non-empty.
	sweepInterval = 30 * time.Second
)

// Entry is one pooled transport handle with its bookkeeping.
type Entry struct {
	EndpointKey string
	Transport   transport.Transport

	lastUsedAt time.Time
	refCount   int
	created    uint64
	reused     uint64
}

// Stats reports an entry's usage counters.
type Stats struct {
	RefCount   int
	Created    uint64
	Reused     uint64
	LastUsedAt time.Time
}

// Pool is a reference-counted transport pool keyed by normalized endpoint.
// Construct one per process (or per test) and pass it in; there is no
// package-level instance.
type Pool struct {
	dial      transport.Dialer
	idleTTL   time.Duration
	socketCap int
	now       func() time.Time

	mu       sync.Mutex
	entries  map[string]*Entry
	sweeping bool
	closed   bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithIdleTTL overrides the idle eviction TTL.
func WithIdleTTL(ttl time.Duration) Option {
	return func(p *Pool) { p.idleTTL = ttl }
}

// WithSocketCap overrides the per-entry socket cap passed to dialed
// transports.
func WithSocketCap(n int) Option {
	return func(p *Pool) { p.socketCap = n }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New creates a pool that dials new transports with dial.
func New(dial transport.Dialer, opts ...Option) *Pool {
	p := &Pool{
		dial:      dial,
		idleTTL:   DefaultIdleTTL,
		socketCap: DefaultSocketCap,
		now:       time.Now,
		entries:   make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SocketCap reports the per-entry socket cap.
func (p *Pool) SocketCap() int { return p.socketCap }

// Acquire returns the pooled transport for the endpoint, creating it on
// first use. Concurrent acquires for the same endpoint share one entry.
// Every Acquire must be paired with a Release.
func (p *Pool) Acquire(ctx context.Context, endpoint string) (*Entry, error) {
	key, err := transport.EndpointKey(endpoint)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool is closed")
	}
	if entry, ok := p.entries[key]; ok {
		entry.refCount++
		entry.reused++
		entry.lastUsedAt = p.now()
		p.mu.Unlock()
		metrics.PoolConnectionsReusedTotal.Inc()
		return entry, nil
	}
	p.mu.Unlock()

	// Dial outside the lock; a racing acquire for the same endpoint may
	// beat us, in which case the loser's transport is closed.
	tr, err := p.dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", key, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = tr.Close()
		return nil, fmt.Errorf("pool is closed")
	}
	if entry, ok := p.entries[key]; ok {
		entry.refCount++
		entry.reused++
		entry.lastUsedAt = p.now()
		p.mu.Unlock()
		_ = tr.Close()
		metrics.PoolConnectionsReusedTotal.Inc()
		return entry, nil
	}

	entry := &Entry{
		EndpointKey: key,
		Transport:   tr,
		lastUsedAt:  p.now(),
		refCount:    1,
		created:     1,
	}
	p.entries[key] = entry
	p.startSweepLocked()
	p.mu.Unlock()

	metrics.PoolConnectionsCreatedTotal.Inc()
	slog.Debug("Pooled new transport", "endpoint", key, "kind", tr.Kind())
	return entry, nil
}

// Release returns a reference taken by Acquire. At zero references the
// entry stays warm for reuse until the idle sweep evicts it.
func (p *Pool) Release(endpoint string) {
	key, err := transport.EndpointKey(endpoint)
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[key]
	if !ok {
		return
	}
	if entry.refCount == 0 {
		panic("pool: release without matching acquire for " + key)
	}
	entry.refCount--
	entry.lastUsedAt = p.now()
}

// Stats reports usage counters for an endpoint's entry, if pooled.
func (p *Pool) Stats(endpoint string) (Stats, bool) {
	key, err := transport.EndpointKey(endpoint)
	if err != nil {
		return Stats{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[key]
	if !ok {
		return Stats{}, false
	}
	return Stats{
		RefCount:   entry.refCount,
		Created:    entry.created,
		Reused:     entry.reused,
		LastUsedAt: entry.lastUsedAt,
	}, true
}

// Len reports the number of pooled entries.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close evicts every entry regardless of references and rejects further
// acquires.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	var firstErr error
	for key, entry := range p.entries {
		if err := entry.Transport.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.entries, key)
	}
	return firstErr
}

// startSweepLocked launches the idle sweep if it is not already running.
// Caller holds p.mu.
func (p *Pool) startSweepLocked() {
	if p.sweeping || p.closed {
		return
	}
	p.sweeping = true
	go p.sweepLoop()
}

// sweepLoop evicts idle-expired zero-reference entries and stops itself
// once the pool is empty, so an idle process keeps no timer running.
func (p *Pool) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for range ticker.C {
		if p.sweepOnce() {
			return
		}
	}
}

// sweepOnce evicts expired entries; reports true when the loop should stop.
func (p *Pool) sweepOnce() bool {
	p.mu.Lock()

	var evicted []*Entry
	cutoff := p.now().Add(-p.idleTTL)
	for key, entry := range p.entries {
		if entry.refCount == 0 && entry.lastUsedAt.Before(cutoff) {
			delete(p.entries, key)
			evicted = append(evicted, entry)
		}
	}

	stop := len(p.entries) == 0 || p.closed
	if stop {
		p.sweeping = false
	}
	p.mu.Unlock()

	for _, entry := range evicted {
		if err := entry.Transport.Close(); err != nil {
			slog.Debug("Failed to close evicted transport", "endpoint", entry.EndpointKey, "error", err)
		}
		slog.Debug("Evicted idle transport", "endpoint", entry.EndpointKey)
	}
	return stop
}
