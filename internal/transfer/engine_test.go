package transfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuttlefile/shuttle/internal/capability"
	"github.com/shuttlefile/shuttle/internal/files"
	"github.com/shuttlefile/shuttle/internal/perf"
	"github.com/shuttlefile/shuttle/internal/pool"
	"github.com/shuttlefile/shuttle/internal/transport"
)

const testEndpoint = "http://transfer.test"

// fakeTransport is an in-memory Transport with failure injection.
type fakeTransport struct {
	mu sync.Mutex

	content   []byte
	rangeable bool
	checksum  string
	caps      capability.Wire
	capsErr   error

	// failRange fails ReadRange calls covering the given offset.
	failRangeAt int64
	failRange   bool

	// failPutAt fails PutChunk calls starting at the given offset.
	failPutAt int64
	failPut   bool

	putChunks map[int][]byte
	putMeta   map[int]transport.ChunkMeta
	manifest  *transport.Manifest
}

func newFakeTransport(content []byte) *fakeTransport {
	return &fakeTransport{
		content:   content,
		rangeable: true,
		caps: capability.Wire{
			Formats:           []string{"binary", "compressed-text", "text"},
			Features:          []string{capability.FeatureRange, capability.FeatureChecksum},
			RecommendedFormat: "binary",
		},
		putChunks: make(map[int][]byte),
		putMeta:   make(map[int]transport.ChunkMeta),
	}
}

func (f *fakeTransport) Probe(ctx context.Context, resource string) (transport.ProbeInfo, error) {
	return transport.ProbeInfo{
		Size:      int64(len(f.content)),
		Rangeable: f.rangeable,
		Checksum:  f.checksum,
	}, nil
}

func (f *fakeTransport) ReadRange(ctx context.Context, resource string, start, end int64) (io.ReadCloser, error) {
	if f.failRange && start <= f.failRangeAt && f.failRangeAt < end {
		return nil, fmt.Errorf("injected range failure at %d", f.failRangeAt)
	}
	if start < 0 || end > int64(len(f.content)) || start >= end {
		return nil, fmt.Errorf("range %d-%d out of bounds", start, end)
	}
	return io.NopCloser(bytes.NewReader(f.content[start:end])), nil
}

func (f *fakeTransport) ReadWhole(ctx context.Context, resource string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.content)), nil
}

func (f *fakeTransport) PutChunk(ctx context.Context, resource string, meta transport.ChunkMeta, body io.Reader) error {
	if f.failPut && meta.Start.Int64() == f.failPutAt {
		return fmt.Errorf("injected put failure at %d", f.failPutAt)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putChunks[meta.Index] = data
	f.putMeta[meta.Index] = meta
	return nil
}

func (f *fakeTransport) Finalize(ctx context.Context, resource string, manifest transport.Manifest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manifest = &manifest
	return nil
}

func (f *fakeTransport) Capabilities(ctx context.Context, client capability.Wire) (capability.Wire, error) {
	if f.capsErr != nil {
		return capability.Wire{}, f.capsErr
	}
	return f.caps, nil
}

func (f *fakeTransport) Kind() string { return "fake" }
func (f *fakeTransport) Close() error { return nil }

// uploaded reassembles the chunks the fake received, in index order.
func (f *fakeTransport) uploaded(t *testing.T) []byte {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []byte
	for i := 0; i < len(f.putChunks); i++ {
		data, ok := f.putChunks[i]
		require.True(t, ok, "chunk %d missing", i)
		out = append(out, data...)
	}
	return out
}

func newTestEngine(t *testing.T, fake *fakeTransport) *Engine {
	t.Helper()
	p := pool.New(func(ctx context.Context, endpoint string) (transport.Transport, error) {
		return fake, nil
	})
	t.Cleanup(func() { _ = p.Close() })

	return NewEngine(p, WithNegotiatorOptions(
		capability.WithSleep(func(context.Context, time.Duration) {}),
	))
}

func randomPayload(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

func fastOptions() Options {
	return Options{
		ChunkSize:     MinChunkSize,
		Concurrency:   4,
		MaxRetries:    -1,
		DisableHealth: true,
	}
}

func TestEngineDownload(t *testing.T) {
	t.Run("chunked download reassembles the payload", func(t *testing.T) {
		content := randomPayload(t, MinChunkSize*10+123)
		fake := newFakeTransport(content)
		fake.checksum = files.HashBytes(content)
		e := newTestEngine(t, fake)

		dest := filepath.Join(t.TempDir(), "out.bin")
		res := e.Download(context.Background(), testEndpoint, "payload.bin", dest, fastOptions())

		require.NoError(t, res.Err)
		assert.True(t, res.Success)
		assert.Equal(t, int64(len(content)), res.BytesTransferred)
		assert.Greater(t, res.ChunksCompleted, 1, "payload should be split into multiple chunks")
		assert.Equal(t, 0, res.ChunksFailed)

		got, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(content, got), "downloaded bytes should match the source")
	})

	t.Run("a permanently failing chunk fails the download", func(t *testing.T) {
		content := randomPayload(t, MinChunkSize*6)
		fake := newFakeTransport(content)
		fake.failRange = true
		fake.failRangeAt = MinChunkSize * 3
		e := newTestEngine(t, fake)

		dest := filepath.Join(t.TempDir(), "out.bin")
		res := e.Download(context.Background(), testEndpoint, "payload.bin", dest, fastOptions())

		assert.False(t, res.Success)
		assert.GreaterOrEqual(t, res.ChunksFailed, 1)

		var agg *AggregateError
		require.ErrorAs(t, res.Err, &agg)
		assert.Equal(t, res.ChunksFailed, agg.FailedChunks)
	})

	t.Run("non-rangeable endpoint falls back to a whole read", func(t *testing.T) {
		content := randomPayload(t, MinChunkSize*3)
		fake := newFakeTransport(content)
		fake.rangeable = false
		e := newTestEngine(t, fake)

		var lastPercent float64
		opts := fastOptions()
		opts.Progress = func(loaded, total int64, percent float64) { lastPercent = percent }

		dest := filepath.Join(t.TempDir(), "out.bin")
		res := e.Download(context.Background(), testEndpoint, "payload.bin", dest, opts)

		require.NoError(t, res.Err)
		assert.True(t, res.Success)
		assert.Equal(t, 1, res.ChunksCompleted, "fallback is a single stream")
		assert.InDelta(t, 100.0, lastPercent, 0.001)

		got, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(content, got))
	})

	t.Run("checksum mismatch fails verification", func(t *testing.T) {
		content := randomPayload(t, MinChunkSize*2)
		fake := newFakeTransport(content)
		fake.checksum = "not-the-right-digest"
		e := newTestEngine(t, fake)

		dest := filepath.Join(t.TempDir(), "out.bin")
		res := e.Download(context.Background(), testEndpoint, "payload.bin", dest, fastOptions())

		assert.False(t, res.Success)
		assert.ErrorContains(t, res.Err, "verification")
	})

	t.Run("cancelled context reports cancellation", func(t *testing.T) {
		content := randomPayload(t, MinChunkSize*4)
		fake := newFakeTransport(content)
		e := newTestEngine(t, fake)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		dest := filepath.Join(t.TempDir(), "out.bin")
		res := e.Download(ctx, testEndpoint, "payload.bin", dest, fastOptions())

		assert.False(t, res.Success)
	})
}

func TestEngineUpload(t *testing.T) {
	writeTempFile := func(t *testing.T, data []byte) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "payload.bin")
		require.NoError(t, os.WriteFile(path, data, 0o600))
		return path
	}

	t.Run("chunked upload finalizes with the manifest", func(t *testing.T) {
		content := randomPayload(t, MinChunkSize*5+77)
		fake := newFakeTransport(nil)
		e := newTestEngine(t, fake)

		res := e.Upload(context.Background(), testEndpoint, writeTempFile(t, content), "payload.bin", fastOptions())

		require.NoError(t, res.Err)
		assert.True(t, res.Success)
		assert.Equal(t, int64(len(content)), res.BytesTransferred)

		assert.True(t, bytes.Equal(content, fake.uploaded(t)), "server should hold the full payload")

		require.NotNil(t, fake.manifest, "finalize should deliver a manifest")
		assert.Equal(t, "payload.bin", fake.manifest.Resource)
		assert.Equal(t, int64(len(content)), fake.manifest.TotalBytes.Int64())
		assert.Equal(t, res.ChunksCompleted, fake.manifest.ChunkCount)
		assert.Equal(t, files.HashBytes(content), fake.manifest.Checksum, "checksum feature is negotiated")

		// Every chunk carried its own hash and a usable count projection.
		for i, meta := range fake.putMeta {
			assert.Equal(t, files.HashBytes(fake.putChunks[i]), meta.Hash)
			assert.GreaterOrEqual(t, meta.TotalChunks, meta.Index+1)
		}
		last := fake.putMeta[len(fake.putChunks)-1]
		assert.Equal(t, len(fake.putChunks), last.TotalChunks, "final chunk carries the exact count")
	})

	t.Run("failed chunk suppresses finalize", func(t *testing.T) {
		content := randomPayload(t, MinChunkSize*4)
		fake := newFakeTransport(nil)
		fake.failPut = true
		fake.failPutAt = 0
		e := newTestEngine(t, fake)

		res := e.Upload(context.Background(), testEndpoint, writeTempFile(t, content), "payload.bin", fastOptions())

		assert.False(t, res.Success)
		assert.GreaterOrEqual(t, res.ChunksFailed, 1)
		assert.Nil(t, fake.manifest, "a partial upload must not be finalized")
	})

	t.Run("rejects empty files", func(t *testing.T) {
		fake := newFakeTransport(nil)
		e := newTestEngine(t, fake)

		res := e.Upload(context.Background(), testEndpoint, writeTempFile(t, nil), "payload.bin", fastOptions())
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, ErrInvalidPayloadSize)
	})

	t.Run("rejects directories", func(t *testing.T) {
		fake := newFakeTransport(nil)
		e := newTestEngine(t, fake)

		res := e.Upload(context.Background(), testEndpoint, t.TempDir(), "payload.bin", fastOptions())
		assert.False(t, res.Success)
		assert.ErrorContains(t, res.Err, "directory")
	})

	t.Run("attempt timeout adapts from observed chunk performance", func(t *testing.T) {
		content := randomPayload(t, MinChunkSize*2)
		fake := newFakeTransport(nil)
		e := newTestEngine(t, fake)

		before := e.Tuner().Config("chunk")

		// A window of slow failures marks the chunk class as struggling.
		for i := 0; i < 12; i++ {
			e.PerfMonitor().Observe(perf.Sample{Key: "chunk", Duration: 5 * time.Second, Success: false})
		}

		path := filepath.Join(t.TempDir(), "payload.bin")
		require.NoError(t, os.WriteFile(path, content, 0o600))
		res := e.Upload(context.Background(), testEndpoint, path, "payload.bin", fastOptions())
		require.True(t, res.Success)

		after := e.Tuner().Config("chunk")
		assert.Greater(t, after.Timeout, before.Timeout, "a struggling class gets more time per attempt")
		assert.Less(t, after.BatchSize, before.BatchSize, "and a smaller batch")
	})

	t.Run("missing file is an error", func(t *testing.T) {
		fake := newFakeTransport(nil)
		e := newTestEngine(t, fake)

		res := e.Upload(context.Background(), testEndpoint, filepath.Join(t.TempDir(), "absent"), "payload.bin", fastOptions())
		assert.False(t, res.Success)
		assert.Error(t, res.Err)
	})
}
