package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shuttlefile/shuttle/internal/capability"
	"github.com/shuttlefile/shuttle/internal/codec"
	"github.com/shuttlefile/shuttle/internal/files"
	"github.com/shuttlefile/shuttle/internal/healthmon"
	"github.com/shuttlefile/shuttle/internal/metrics"
	"github.com/shuttlefile/shuttle/internal/perf"
	"github.com/shuttlefile/shuttle/internal/pool"
	"github.com/shuttlefile/shuttle/internal/retrier"
	"github.com/shuttlefile/shuttle/internal/transport"
)

// formatSetter is implemented by transports whose wire format can be
// switched after capability negotiation.
type formatSetter interface {
	SetFormat(codec.Format)
}

// Options tunes one transfer. The zero value uses engine defaults.
type Options struct {
	ChunkSize      int64          // requested chunk size; 0 uses the adaptive default
	Concurrency    int            // chunks in flight; 0 uses DefaultConcurrency
	Quality        NetworkQuality // link quality hint
	MaxRetries     int            // per-chunk retries; 0 uses DefaultMaxRetries, negative disables
	AttemptTimeout time.Duration  // per-attempt deadline; 0 uses DefaultAttemptTimeout
	Progress       ProgressFunc   // optional progress subscriber
	DisableHealth  bool           // skip the health watchdog (tests)
}

// Engine drives chunked transfers: it plans, admits chunk workers through
// the gate, adapts the chunk size from feedback, and reports one Result per
// transfer. Construct one per process and share it; per-transfer state lives
// in sessions.
type Engine struct {
	pool       *pool.Pool
	negotiator *capability.Negotiator
	perf       *perf.AdvancedMonitor
	tuner      *perf.Tuner
	retrier    *retrier.Manager
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRetrier overrides the whole-operation retry manager.
func WithRetrier(m *retrier.Manager) EngineOption {
	return func(e *Engine) { e.retrier = m }
}

// WithPerfMonitor overrides the performance monitor.
func WithPerfMonitor(m *perf.AdvancedMonitor) EngineOption {
	return func(e *Engine) { e.perf = m }
}

// WithNegotiatorOptions passes options through to the capability negotiator.
func WithNegotiatorOptions(opts ...capability.Option) EngineOption {
	return func(e *Engine) {
		e.negotiator = capability.NewNegotiator(e.capabilityProbe(), opts...)
	}
}

// NewEngine creates an engine over a connection pool.
func NewEngine(p *pool.Pool, opts ...EngineOption) *Engine {
	e := &Engine{
		pool:    p,
		perf:    perf.NewAdvancedMonitor(),
		retrier: retrier.New(),
	}
	e.negotiator = capability.NewNegotiator(e.capabilityProbe())
	for _, opt := range opts {
		opt(e)
	}
	e.tuner = perf.NewTuner(e.perf.Monitor)
	return e
}

// Negotiator exposes the engine's capability negotiator for callers that
// probe endpoints directly (the probe command).
func (e *Engine) Negotiator() *capability.Negotiator {
	return e.negotiator
}

// PerfMonitor exposes the engine's performance monitor.
func (e *Engine) PerfMonitor() *perf.AdvancedMonitor {
	return e.perf
}

// Tuner exposes the adaptive config derived from observed performance.
func (e *Engine) Tuner() *perf.Tuner {
	return e.tuner
}

// capabilityProbe adapts the pooled transport's capability call to the
// negotiator's probe contract.
func (e *Engine) capabilityProbe() capability.ProbeFunc {
	return func(ctx context.Context, endpointKey string, client capability.Wire) (capability.Wire, error) {
		entry, err := e.pool.Acquire(ctx, endpointKey)
		if err != nil {
			return capability.Wire{}, err
		}
		defer e.pool.Release(endpointKey)
		return entry.Transport.Capabilities(ctx, client)
	}
}

// Download moves a remote resource to destPath. The endpoint is probed for
// range support first; a non-rangeable endpoint gets a single whole-resource
// read instead of a chunked plan. Chunk payloads are written at their byte
// offsets, so completion order does not matter.
func (e *Engine) Download(ctx context.Context, endpoint, resource, destPath string, opts Options) Result {
	entry, err := e.pool.Acquire(ctx, endpoint)
	if err != nil {
		return e.report("download", Result{Err: err})
	}
	defer e.pool.Release(endpoint)
	tr := entry.Transport

	var info transport.ProbeInfo
	err = e.retrier.Do(ctx, "probe", retrier.VerbRead, func(ctx context.Context) error {
		var perr error
		info, perr = tr.Probe(ctx, resource)
		return perr
	})
	if err != nil {
		return e.report("download", Result{Err: fmt.Errorf("failed to probe %s: %w", resource, err)})
	}

	if !info.Rangeable || info.Size <= 0 {
		slog.Debug("Endpoint does not serve ranges, downloading whole resource",
			"resource", resource,
			"size", info.Size,
		)
		return e.report("download", e.downloadWhole(ctx, tr, resource, destPath, opts))
	}

	out, err := os.Create(destPath) //nolint:gosec // Destination is provided by the caller
	if err != nil {
		return e.report("download", Result{Err: fmt.Errorf("failed to create %s: %w", destPath, err)})
	}
	if err := out.Truncate(info.Size); err != nil {
		_ = out.Close()
		return e.report("download", Result{Err: fmt.Errorf("failed to size %s: %w", destPath, err)})
	}

	res := e.run(ctx, "download", info.Size, opts,
		func(ctx context.Context, chunk *ChunkDescriptor) (int64, string, error) {
			rc, err := tr.ReadRange(ctx, resource, chunk.Start, chunk.End)
			if err != nil {
				return 0, "", err
			}
			defer rc.Close() //nolint:errcheck // Deferred close, error not actionable

			h := files.NewHasher()
			w := io.NewOffsetWriter(out, chunk.Start)
			n, err := io.Copy(io.MultiWriter(w, h), rc)
			if err != nil {
				return n, "", err
			}
			return n, files.SumHex(h), nil
		})

	if err := out.Close(); err != nil && res.Err == nil {
		res.Success = false
		res.Err = fmt.Errorf("failed to close %s: %w", destPath, err)
	}

	if res.Success && info.Checksum != "" {
		if err := files.VerifyFileHash(destPath, info.Checksum); err != nil {
			res.Success = false
			res.Err = fmt.Errorf("downloaded file failed verification: %w", err)
		}
	}
	return e.report("download", res)
}

// downloadWhole is the non-chunked fallback: one streaming read, reported as
// a single completed chunk.
func (e *Engine) downloadWhole(ctx context.Context, tr transport.Transport, resource, destPath string, opts Options) Result {
	out, err := os.Create(destPath) //nolint:gosec // Destination is provided by the caller
	if err != nil {
		return Result{Err: fmt.Errorf("failed to create %s: %w", destPath, err)}
	}
	defer out.Close() //nolint:errcheck // Close error handled via Sync below

	var written int64
	err = e.retrier.Do(ctx, "read", retrier.VerbRead, func(ctx context.Context) error {
		if _, err := out.Seek(0, io.SeekStart); err != nil {
			return err
		}
		if err := out.Truncate(0); err != nil {
			return err
		}

		rc, err := tr.ReadWhole(ctx, resource)
		if err != nil {
			return err
		}
		defer rc.Close() //nolint:errcheck // Deferred close, error not actionable

		written, err = io.Copy(out, rc)
		return err
	})
	if err != nil {
		return Result{Err: fmt.Errorf("failed to download %s: %w", resource, err)}
	}
	if err := out.Sync(); err != nil {
		return Result{Err: fmt.Errorf("failed to flush %s: %w", destPath, err)}
	}

	if opts.Progress != nil {
		opts.Progress(written, written, 100)
	}
	return Result{
		Success:          true,
		BytesTransferred: written,
		ChunksCompleted:  1,
	}
}

// Upload moves a local file to a remote resource: each chunk is sent as a
// distinct request, then a finalize call hands the server the authoritative
// manifest. The manifest is only sent when every chunk completed.
func (e *Engine) Upload(ctx context.Context, endpoint, localPath, resource string, opts Options) Result {
	fi, err := os.Stat(localPath)
	if err != nil {
		return e.report("upload", Result{Err: fmt.Errorf("failed to stat %s: %w", localPath, err)})
	}
	if fi.IsDir() {
		return e.report("upload", Result{Err: fmt.Errorf("%s is a directory", localPath)})
	}
	if fi.Size() <= 0 {
		return e.report("upload", Result{Err: fmt.Errorf("%w: %s is empty", ErrInvalidPayloadSize, localPath)})
	}

	entry, err := e.pool.Acquire(ctx, endpoint)
	if err != nil {
		return e.report("upload", Result{Err: err})
	}
	defer e.pool.Release(endpoint)
	tr := entry.Transport

	key, err := transport.EndpointKey(endpoint)
	if err != nil {
		return e.report("upload", Result{Err: err})
	}
	profile := e.negotiator.Negotiate(ctx, key)
	if fs, ok := tr.(formatSetter); ok {
		fs.SetFormat(profile.Recommended)
	}
	slog.Debug("Negotiated wire format",
		"endpoint", key,
		"format", profile.Recommended,
		"features", profile.FeatureNames(),
	)

	var fileSum string
	if profile.HasFeature(capability.FeatureChecksum) {
		fileSum, err = files.HashFile(localPath)
		if err != nil {
			return e.report("upload", Result{Err: fmt.Errorf("failed to hash %s: %w", localPath, err)})
		}
	}

	in, err := os.Open(localPath) //nolint:gosec // Source is provided by the caller
	if err != nil {
		return e.report("upload", Result{Err: fmt.Errorf("failed to open %s: %w", localPath, err)})
	}
	defer in.Close() //nolint:errcheck // Read-only file, close error not actionable

	res := e.run(ctx, "upload", fi.Size(), opts,
		func(ctx context.Context, chunk *ChunkDescriptor) (int64, string, error) {
			buf := make([]byte, chunk.Size)
			if _, err := in.ReadAt(buf, chunk.Start); err != nil {
				return 0, "", fmt.Errorf("failed to read chunk %d: %w", chunk.Index, err)
			}

			sum := files.HashBytes(buf)
			meta := transport.ChunkMeta{
				Index:       chunk.Index,
				Start:       codec.SafeInt64(chunk.Start),
				Size:        codec.SafeInt64(chunk.Size),
				TotalChunks: chunk.PlanEstimate,
				Hash:        sum,
			}
			if err := tr.PutChunk(ctx, resource, meta, bytes.NewReader(buf)); err != nil {
				return 0, "", err
			}
			return chunk.Size, sum, nil
		})

	if res.Success {
		manifest := transport.Manifest{
			Resource:   resource,
			TotalBytes: codec.SafeInt64(fi.Size()),
			ChunkCount: res.ChunksCompleted,
			Checksum:   fileSum,
			UploadedAt: codec.SafeInt64(time.Now().UnixMilli()),
		}
		err := e.retrier.Do(ctx, "finalize", retrier.VerbReplace, func(ctx context.Context) error {
			return tr.Finalize(ctx, resource, manifest)
		})
		if err != nil {
			res.Success = false
			res.Err = fmt.Errorf("failed to finalize %s: %w", resource, err)
		}
	}
	return e.report("upload", res)
}

// run is the shared per-transfer loop: plan incrementally at the adaptive
// size, admit each chunk through the gate, and wait for every worker.
// Cancellation fails the remaining pending chunks without attempting them
// while in-flight chunks abort through their own context.
func (e *Engine) run(ctx context.Context, direction string, totalBytes int64, opts Options, fn ChunkFunc) Result {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	session := NewSession(totalBytes, concurrency)
	seed := InitialChunkSize(opts.ChunkSize, opts.Quality, e.perf.RecommendedChunkSize(totalBytes))
	sizer := NewAdaptiveSizer(seed)
	gate := NewGate(concurrency)

	progress := NewProgressAggregator(totalBytes)
	if opts.Progress != nil {
		progress.Register(opts.Progress)
	}

	var pauses atomic.Int64
	health := healthmon.New(func() healthmon.Snapshot {
		completed, failed, retries := session.Counts()
		return healthmon.Snapshot{
			TransferredBytes: session.TransferredBytes(),
			TotalBytes:       totalBytes,
			ChunksCompleted:  completed,
			ChunksFailed:     failed,
			ChunksTotal:      len(session.Chunks()),
			RetryCount:       retries,
			PauseCount:       int(pauses.Load()),
		}
	})
	healthSub := health.Subscribe(func(ev healthmon.Event) {
		state := "recovered"
		if ev.Degraded {
			state = "degraded"
		}
		metrics.HealthTransitionsTotal.WithLabelValues(state).Inc()
	})
	defer health.Unsubscribe(healthSub)
	if !opts.DisableHealth {
		healthCtx, stopHealth := context.WithCancel(context.Background())
		defer stopHealth()
		go health.Run(healthCtx)
	}

	// Long transfers get tuned mid-flight; everything else is folded in
	// after the last worker finishes.
	tunerCtx, stopTuner := context.WithCancel(context.Background())
	defer stopTuner()
	go e.perf.Monitor.Run(tunerCtx)
	go e.tuner.Run(tunerCtx)

	// An explicit attempt timeout wins; otherwise the tuner's per-class
	// timeout, nudged from earlier transfers, applies.
	attemptTimeout := opts.AttemptTimeout
	if attemptTimeout == 0 {
		attemptTimeout = e.tuner.Config("chunk").Timeout
	}

	observer := &perfObserver{perf: e.perf, totalBytes: totalBytes}
	worker := NewWorker(WorkerConfig{
		MaxRetries:     opts.MaxRetries,
		AttemptTimeout: attemptTimeout,
		Direction:      direction,
	}, session, sizer, progress, observer)

	planner, err := NewPlanner(totalBytes)
	if err != nil {
		return Result{Err: err}
	}

	slog.Info("Starting transfer",
		"session", session.ID,
		"direction", direction,
		"totalBytes", totalBytes,
		"chunkSize", seed,
		"concurrency", concurrency,
	)

	var group errgroup.Group
	for {
		// Throttle admission rather than abort when health degrades.
		if pause := health.SuggestedPause(); pause > 0 && ctx.Err() == nil {
			pauses.Add(1)
			select {
			case <-ctx.Done():
			case <-time.After(pause):
			}
		}

		chunk := planner.Next(sizer.Current())
		if chunk == nil {
			break
		}
		session.AddChunk(chunk)

		if err := gate.Acquire(ctx); err != nil {
			// Session cancelled: the worker marks the chunk failed
			// without attempting it.
			worker.Run(ctx, chunk, fn)
			continue
		}
		group.Go(func() error {
			defer gate.Release()
			worker.Run(ctx, chunk, fn)
			return nil
		})
	}
	_ = group.Wait()

	e.perf.Recompute()
	e.tuner.Adjust()

	res := Finalize(session, ctx.Err() != nil)
	slog.Info("Transfer finished",
		"session", session.ID,
		"direction", direction,
		"success", res.Success,
		"bytes", res.BytesTransferred,
		"completed", res.ChunksCompleted,
		"failed", res.ChunksFailed,
		"retries", res.RetryCount,
	)
	return res
}

// report records transfer-level metrics and returns the result unchanged.
func (e *Engine) report(direction string, res Result) Result {
	outcome := "failure"
	switch {
	case res.Cancelled:
		outcome = "cancelled"
	case res.Success:
		outcome = "success"
	}
	metrics.TransfersTotal.WithLabelValues(direction, outcome).Inc()
	if res.BytesTransferred > 0 {
		metrics.BytesTransferredTotal.WithLabelValues(direction).Add(float64(res.BytesTransferred))
	}
	return res
}

// perfObserver feeds chunk outcomes into the performance monitor.
type perfObserver struct {
	perf       *perf.AdvancedMonitor
	totalBytes int64
}

func (o *perfObserver) ChunkCompleted(chunk *ChunkDescriptor) {
	o.perf.ObserveChunk(o.totalBytes, chunk.Size, chunk.Duration, true)
}

func (o *perfObserver) ChunkRetried(chunk *ChunkDescriptor, err error) {}

func (o *perfObserver) ChunkFailed(chunk *ChunkDescriptor) {
	o.perf.ObserveChunk(o.totalBytes, chunk.Size, chunk.Duration, false)
}
