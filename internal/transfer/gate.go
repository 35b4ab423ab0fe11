package transfer

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency is the default number of chunks in flight.
const DefaultConcurrency = 4

// Gate is a counting admission primitive bounding in-flight chunk
// operations. Waiters are resumed in FIFO order, so no chunk starves under
// bounded load. There is no acquire timeout; callers bound the wait through
// the context.
type Gate struct {
	sem   *semaphore.Weighted
	limit int
}

// NewGate creates a gate admitting up to limit concurrent holders.
func NewGate(limit int) *Gate {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	return &Gate{
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: limit,
	}
}

// Acquire blocks until a permit is available or the context is cancelled.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// TryAcquire grabs a permit without blocking.
func (g *Gate) TryAcquire() bool {
	return g.sem.TryAcquire(1)
}

// Release returns a permit. It must be paired 1:1 with a successful Acquire;
// releasing more permits than were acquired panics.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// Limit returns the permit count the gate was created with.
func (g *Gate) Limit() int {
	return g.limit
}
