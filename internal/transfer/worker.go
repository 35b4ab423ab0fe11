package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/shuttlefile/shuttle/internal/metrics"
)

// Retry policy defaults for a single chunk.
const (
	DefaultMaxRetries     = 3
	DefaultBaseDelay      = time.Second
	DefaultMaxDelay       = 10 * time.Second
	DefaultAttemptTimeout = 30 * time.Second
)

// ErrIntegrity marks a size or checksum mismatch. Integrity failures are
// retryable chunk failures, not fatal errors.
var ErrIntegrity = errors.New("integrity check failed")

// ChunkFunc performs one transfer attempt for a chunk. It returns the number
// of payload bytes moved and the hex digest of the moved bytes (empty when
// checksums are disabled).
type ChunkFunc func(ctx context.Context, chunk *ChunkDescriptor) (written int64, checksum string, err error)

// ChunkObserver receives chunk lifecycle events. All methods are called from
// worker goroutines and must be safe for concurrent use.
type ChunkObserver interface {
	ChunkCompleted(chunk *ChunkDescriptor)
	ChunkRetried(chunk *ChunkDescriptor, err error)
	ChunkFailed(chunk *ChunkDescriptor)
}

// WorkerConfig tunes the per-chunk retry policy.
type WorkerConfig struct {
	MaxRetries     int           // retries after the first attempt
	BaseDelay      time.Duration // first backoff delay, doubled per attempt
	MaxDelay       time.Duration // backoff cap
	AttemptTimeout time.Duration // deadline for a single attempt
	Direction      string        // "upload" or "download", for metrics
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	return c
}

// Worker executes single chunks with bounded retry and exponential backoff.
// A worker that exhausts its retries marks its chunk failed and returns; it
// never aborts sibling workers, so the session accumulates whichever chunks
// succeed.
type Worker struct {
	cfg      WorkerConfig
	session  *Session
	sizer    *AdaptiveSizer
	progress *ProgressAggregator
	observer ChunkObserver // optional
}

// NewWorker creates a chunk worker bound to one session.
func NewWorker(cfg WorkerConfig, session *Session, sizer *AdaptiveSizer, progress *ProgressAggregator, observer ChunkObserver) *Worker {
	return &Worker{
		cfg:      cfg.withDefaults(),
		session:  session,
		sizer:    sizer,
		progress: progress,
		observer: observer,
	}
}

// Run transfers one chunk through fn, retrying transient failures with
// exponential backoff (base doubled per attempt, capped). The chunk is left
// in a terminal state when Run returns.
func (w *Worker) Run(ctx context.Context, chunk *ChunkDescriptor, fn ChunkFunc) {
	// A cancelled session fails its pending chunks without attempting them.
	if err := ctx.Err(); err != nil {
		w.fail(chunk, err)
		return
	}

	w.session.MarkChunk(chunk, ChunkInFlight)
	metrics.ChunksInFlight.Inc()
	defer metrics.ChunksInFlight.Dec()

	var attemptDuration time.Duration
	err := retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return retry.Unrecoverable(err)
			}

			attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.AttemptTimeout)
			defer cancel()

			start := time.Now()
			written, checksum, err := fn(attemptCtx, chunk)
			attemptDuration = time.Since(start)
			if err != nil {
				// A per-attempt timeout is a transport error for retry
				// purposes, unless the session itself is gone.
				if ctx.Err() != nil {
					return retry.Unrecoverable(ctx.Err())
				}
				return err
			}

			if written != chunk.Size {
				return fmt.Errorf("%w: chunk %d size %d, expected %d", ErrIntegrity, chunk.Index, written, chunk.Size)
			}
			if chunk.Checksum != "" && checksum != "" && checksum != chunk.Checksum {
				return fmt.Errorf("%w: chunk %d checksum %s, expected %s", ErrIntegrity, chunk.Index, checksum, chunk.Checksum)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(w.cfg.MaxRetries)+1),
		retry.Delay(w.cfg.BaseDelay),
		retry.MaxDelay(w.cfg.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			// OnRetry also fires after the final attempt, when no retry
			// follows; that failure is counted by fail, not here.
			if n >= uint(w.cfg.MaxRetries) {
				return
			}
			w.session.AddRetry(chunk)
			metrics.ChunkRetriesTotal.Inc()
			if w.observer != nil {
				w.observer.ChunkRetried(chunk, err)
			}
			slog.Debug("Retrying chunk",
				"chunk", chunk.Index,
				"attempt", n+1,
				"error", err,
			)
		}),
	)
	if err != nil {
		w.fail(chunk, err)
		return
	}

	chunk.Duration = attemptDuration
	if attemptDuration > 0 {
		chunk.Throughput = float64(chunk.Size) / attemptDuration.Seconds()
	}
	w.session.MarkChunk(chunk, ChunkCompleted)

	w.session.AddTransferred(chunk.Size)
	w.sizer.Observe(chunk.Size, attemptDuration)
	w.progress.Add(chunk.Size)

	metrics.ChunksCompletedTotal.Inc()
	metrics.ChunkDurationSeconds.WithLabelValues(w.cfg.Direction).Observe(attemptDuration.Seconds())
	metrics.AdaptiveChunkSizeBytes.Set(float64(w.sizer.Current()))

	if w.observer != nil {
		w.observer.ChunkCompleted(chunk)
	}
}

func (w *Worker) fail(chunk *ChunkDescriptor, err error) {
	chunk.Err = err
	w.session.MarkChunk(chunk, ChunkFailed)
	metrics.ChunksFailedTotal.Inc()
	if w.observer != nil {
		w.observer.ChunkFailed(chunk)
	}
	slog.Warn("Chunk failed permanently",
		"chunk", chunk.Index,
		"retries", w.session.ChunkRetries(chunk),
		"error", err,
	)
}
