// Package transfer implements the adaptive concurrent chunked transfer engine.
// A transfer session splits a known-size payload into byte-range chunks,
// moves them in parallel under a bounded concurrency budget, tunes the chunk
// size from live throughput measurements, and reassembles or confirms the
// result.
package transfer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ChunkStatus is the lifecycle state of a single chunk.
type ChunkStatus int

const (
	ChunkPending ChunkStatus = iota
	ChunkInFlight
	ChunkCompleted
	ChunkFailed
)

// String returns the wire/display name of the status.
func (s ChunkStatus) String() string {
	switch s {
	case ChunkPending:
		return "pending"
	case ChunkInFlight:
		return "in-flight"
	case ChunkCompleted:
		return "completed"
	case ChunkFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ChunkDescriptor describes one contiguous byte range of the payload.
// It is owned by the session that created it and mutated only by the worker
// assigned to it. Status and RetryCount are read concurrently by Counts, so
// workers mutate them through Session.MarkChunk and Session.AddRetry; once
// the status is terminal the descriptor is not touched again.
type ChunkDescriptor struct {
	Index int   // 0-based position in the payload
	Start int64 // inclusive byte offset
	End   int64 // exclusive byte offset
	Size  int64

	// PlanEstimate is the chunk count projected when this chunk was
	// planned. The adaptive size makes it an estimate for early chunks and
	// exact for the final one.
	PlanEstimate int

	Status     ChunkStatus
	RetryCount int
	Duration   time.Duration // measured duration of the successful attempt
	Throughput float64       // bytes per second of the successful attempt
	Checksum   string        // expected hex digest, empty when checksums are disabled
	Err        error         // last error, set when Status == ChunkFailed
}

// Terminal reports whether the chunk reached a final state.
func (c *ChunkDescriptor) Terminal() bool {
	return c.Status == ChunkCompleted || c.Status == ChunkFailed
}

// Session is the bookkeeping object for one upload or download. It lives
// from planning until assembly returns.
type Session struct {
	ID               string
	TotalBytes       int64
	ConcurrencyLimit int
	StartTime        time.Time

	mu     sync.Mutex
	chunks []*ChunkDescriptor

	transferred atomic.Int64
}

// NewSession creates a session for a payload of totalBytes.
func NewSession(totalBytes int64, concurrencyLimit int) *Session {
	return &Session{
		ID:               uuid.NewString(),
		TotalBytes:       totalBytes,
		ConcurrencyLimit: concurrencyLimit,
		StartTime:        time.Now(),
	}
}

// AddChunk appends a planned chunk to the session. Chunks are index-stable:
// they are appended in plan order and never reordered.
func (s *Session) AddChunk(c *ChunkDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, c)
}

// Chunks returns the session's chunk slice. The slice itself is append-only;
// callers must not mutate descriptors they do not own.
func (s *Session) Chunks() []*ChunkDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ChunkDescriptor, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// MarkChunk transitions a chunk's status under the session lock. Workers
// mutate through here so concurrent Counts readers never see a torn update.
func (s *Session) MarkChunk(c *ChunkDescriptor, status ChunkStatus) {
	s.mu.Lock()
	c.Status = status
	s.mu.Unlock()
}

// AddRetry records one retried attempt for a chunk under the session lock.
func (s *Session) AddRetry(c *ChunkDescriptor) {
	s.mu.Lock()
	c.RetryCount++
	s.mu.Unlock()
}

// ChunkRetries returns a chunk's retry count under the session lock.
func (s *Session) ChunkRetries(c *ChunkDescriptor) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.RetryCount
}

// AddTransferred records completed bytes. TransferredBytes only grows.
func (s *Session) AddTransferred(n int64) {
	s.transferred.Add(n)
}

// TransferredBytes returns the bytes moved by completed chunks so far.
func (s *Session) TransferredBytes() int64 {
	return s.transferred.Load()
}

// Counts returns the number of completed and failed chunks plus the total
// retries accumulated across all chunks.
func (s *Session) Counts() (completed, failed, retries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chunks {
		switch c.Status {
		case ChunkCompleted:
			completed++
		case ChunkFailed:
			failed++
		}
		retries += c.RetryCount
	}
	return completed, failed, retries
}

// Result is the outcome of one session, reported to the caller once every
// chunk reached a terminal state (or the session was cancelled).
type Result struct {
	Success          bool
	Cancelled        bool
	BytesTransferred int64
	ChunksCompleted  int
	ChunksFailed     int
	RetryCount       int
	Err              error
}

// AggregateError is returned for a partially failed session. Any permanently
// failed chunk fails the whole session; sibling successes are not reported as
// partial success.
type AggregateError struct {
	FailedChunks int
	TotalRetries int
}

func (e *AggregateError) Error() string {
	return fmt.Sprintf("transfer failed: %d chunks failed permanently after %d total retries", e.FailedChunks, e.TotalRetries)
}
