package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuttlefile/shuttle/internal/auth"
	"github.com/shuttlefile/shuttle/internal/capability"
	"github.com/shuttlefile/shuttle/internal/codec"
)

func TestNewHTTP(t *testing.T) {
	t.Run("accepts http and https endpoints", func(t *testing.T) {
		for _, endpoint := range []string{"http://files.example.com", "https://files.example.com:8443"} {
			tr, err := NewHTTP(endpoint)
			require.NoError(t, err)
			assert.Equal(t, "http", tr.Kind())
		}
	})

	t.Run("rejects non-http schemes", func(t *testing.T) {
		_, err := NewHTTP("ws://files.example.com")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "http(s) URL")
	})
}

func TestHTTPProbe(t *testing.T) {
	t.Run("reads size, range support, and checksum from a HEAD response", func(t *testing.T) {
		var gotMethod, gotPath string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotPath = r.URL.Path
			w.Header().Set("Accept-Ranges", "bytes")
			w.Header().Set("Content-Length", "4096")
			w.Header().Set("X-Shuttle-Checksum", "sha256:abc")
		}))
		defer srv.Close()

		tr, err := NewHTTP(srv.URL)
		require.NoError(t, err)

		info, err := tr.Probe(context.Background(), "data/model.bin")
		require.NoError(t, err)
		assert.Equal(t, http.MethodHead, gotMethod)
		assert.Equal(t, "/v1/files/data/model.bin", gotPath)
		assert.Equal(t, int64(4096), info.Size)
		assert.True(t, info.Rangeable)
		assert.Equal(t, "sha256:abc", info.Checksum)
	})

	t.Run("absent range header means not rangeable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Length", "10")
		}))
		defer srv.Close()

		tr, err := NewHTTP(srv.URL)
		require.NoError(t, err)

		info, err := tr.Probe(context.Background(), "plain.txt")
		require.NoError(t, err)
		assert.False(t, info.Rangeable)
	})

	t.Run("non-2xx status is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		tr, err := NewHTTP(srv.URL)
		require.NoError(t, err)

		_, err = tr.Probe(context.Background(), "missing.txt")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 404")
	})
}

func TestHTTPReadRange(t *testing.T) {
	content := []byte("0123456789abcdef")

	t.Run("sends an inclusive Range header and streams the slice", func(t *testing.T) {
		var gotRange string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotRange = r.Header.Get("Range")
			w.WriteHeader(http.StatusPartialContent)
			w.Write(content[4:8]) //nolint:errcheck // Test server write
		}))
		defer srv.Close()

		tr, err := NewHTTP(srv.URL)
		require.NoError(t, err)

		rc, err := tr.ReadRange(context.Background(), "data.bin", 4, 8)
		require.NoError(t, err)
		defer rc.Close() //nolint:errcheck // Test cleanup

		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "bytes=4-7", gotRange)
		assert.Equal(t, content[4:8], got)
	})

	t.Run("a 200 instead of 206 is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(content) //nolint:errcheck // Test server write
		}))
		defer srv.Close()

		tr, err := NewHTTP(srv.URL)
		require.NoError(t, err)

		_, err = tr.ReadRange(context.Background(), "data.bin", 0, 4)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 200")
	})
}

func TestHTTPReadWhole(t *testing.T) {
	content := []byte("whole resource body")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/files/data.bin" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(content) //nolint:errcheck // Test server write
	}))
	defer srv.Close()

	tr, err := NewHTTP(srv.URL)
	require.NoError(t, err)

	rc, err := tr.ReadWhole(context.Background(), "data.bin")
	require.NoError(t, err)
	defer rc.Close() //nolint:errcheck // Test cleanup

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = tr.ReadWhole(context.Background(), "missing.bin")
	require.Error(t, err)
}

func TestHTTPPutChunk(t *testing.T) {
	t.Run("posts the chunk with its descriptor headers", func(t *testing.T) {
		payload := []byte("chunk payload bytes")

		var (
			gotPath    string
			gotHeaders http.Header
			gotBody    []byte
			gotLength  int64
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotHeaders = r.Header.Clone()
			gotLength = r.ContentLength
			gotBody, _ = io.ReadAll(r.Body)
		}))
		defer srv.Close()

		tr, err := NewHTTP(srv.URL)
		require.NoError(t, err)

		meta := ChunkMeta{
			Index:       3,
			TotalChunks: 8,
			Start:       codec.SafeInt64(1536),
			Size:        codec.SafeInt64(len(payload)),
			Hash:        "sha256:deadbeef",
		}
		err = tr.PutChunk(context.Background(), "up.bin", meta, bytes.NewReader(payload))
		require.NoError(t, err)

		assert.Equal(t, "/v1/files/up.bin/chunks", gotPath)
		assert.Equal(t, "application/octet-stream", gotHeaders.Get("Content-Type"))
		assert.Equal(t, "3", gotHeaders.Get("X-Chunk-Index"))
		assert.Equal(t, "8", gotHeaders.Get("X-Chunk-Count"))
		assert.Equal(t, "1536", gotHeaders.Get("X-Chunk-Start"))
		assert.Equal(t, "sha256:deadbeef", gotHeaders.Get("X-Chunk-Hash"))
		assert.Equal(t, int64(len(payload)), gotLength)
		assert.Equal(t, payload, gotBody)
	})

	t.Run("omits count and hash headers when unset", func(t *testing.T) {
		var gotHeaders http.Header
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotHeaders = r.Header.Clone()
		}))
		defer srv.Close()

		tr, err := NewHTTP(srv.URL)
		require.NoError(t, err)

		meta := ChunkMeta{Index: 0, Start: 0, Size: 4}
		err = tr.PutChunk(context.Background(), "up.bin", meta, bytes.NewReader([]byte("abcd")))
		require.NoError(t, err)

		_, hasCount := gotHeaders["X-Chunk-Count"]
		_, hasHash := gotHeaders["X-Chunk-Hash"]
		assert.False(t, hasCount)
		assert.False(t, hasHash)
	})

	t.Run("surfaces the server's error body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInsufficientStorage)
			io.WriteString(w, "disk full") //nolint:errcheck // Test server write
		}))
		defer srv.Close()

		tr, err := NewHTTP(srv.URL)
		require.NoError(t, err)

		err = tr.PutChunk(context.Background(), "up.bin", ChunkMeta{Size: 1}, bytes.NewReader([]byte("x")))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 507")
		assert.Contains(t, err.Error(), "disk full")
	})
}

func TestHTTPFinalize(t *testing.T) {
	manifest := Manifest{
		Resource:   "up.bin",
		TotalBytes: codec.SafeInt64(1 << 20),
		ChunkCount: 2,
		Checksum:   "sha256:cafe",
		UploadedAt: codec.SafeInt64(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).UnixMilli()),
	}

	for _, format := range codec.Priority {
		t.Run(string(format), func(t *testing.T) {
			var (
				gotPath        string
				gotContentType string
				gotBody        []byte
			)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotContentType = r.Header.Get("Content-Type")
				gotBody, _ = io.ReadAll(r.Body)
			}))
			defer srv.Close()

			tr, err := NewHTTP(srv.URL, WithFormat(format))
			require.NoError(t, err)

			require.NoError(t, tr.Finalize(context.Background(), "up.bin", manifest))
			assert.Equal(t, "/v1/files/up.bin/complete", gotPath)
			assert.Equal(t, format.ContentType(), gotContentType)

			var decoded Manifest
			require.NoError(t, codec.Decode(gotBody, format, &decoded))
			assert.Equal(t, manifest, decoded)
		})
	}

	t.Run("server rejection is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			io.WriteString(w, "chunk 1 missing") //nolint:errcheck // Test server write
		}))
		defer srv.Close()

		tr, err := NewHTTP(srv.URL)
		require.NoError(t, err)

		err = tr.Finalize(context.Background(), "up.bin", manifest)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "chunk 1 missing")
	})
}

func TestHTTPCapabilities(t *testing.T) {
	client := capability.ClientWire()

	t.Run("reads header-only capability signals", func(t *testing.T) {
		var gotPath, gotAdvert string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotAdvert = r.Header.Get("X-Shuttle-Capabilities")
			w.Header().Set("X-Shuttle-Formats", "binary, text")
			w.Header().Set("X-Shuttle-Features", "range,checksum")
			w.Header().Set("X-Shuttle-Recommended-Format", "binary")
			w.Header().Set("X-Shuttle-Min-Client-Version", "1.2.0")
		}))
		defer srv.Close()

		tr, err := NewHTTP(srv.URL)
		require.NoError(t, err)

		wire, err := tr.Capabilities(context.Background(), client)
		require.NoError(t, err)
		assert.Equal(t, "/.well-known/shuttle-capabilities", gotPath)
		assert.Contains(t, gotAdvert, "formats=")
		assert.Contains(t, gotAdvert, "features=range,checksum")
		assert.Equal(t, []string{"binary", "text"}, wire.Formats)
		assert.Equal(t, []string{"range", "checksum"}, wire.Features)
		assert.Equal(t, "binary", wire.RecommendedFormat)
		assert.Equal(t, "1.2.0", wire.MinClientVersion)
	})

	t.Run("merges a JSON body into the header signal", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Shuttle-Formats", "text")
			io.WriteString(w, `{"formats":["binary","text"],"features":["range"],"recommendedFormat":"binary"}`) //nolint:errcheck // Test server write
		}))
		defer srv.Close()

		tr, err := NewHTTP(srv.URL)
		require.NoError(t, err)

		wire, err := tr.Capabilities(context.Background(), client)
		require.NoError(t, err)
		assert.Equal(t, []string{"text", "binary"}, wire.Formats)
		assert.Equal(t, []string{"range"}, wire.Features)
		assert.Equal(t, "binary", wire.RecommendedFormat)
	})

	t.Run("body alone is a valid signal", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"formats":["text"]}`) //nolint:errcheck // Test server write
		}))
		defer srv.Close()

		tr, err := NewHTTP(srv.URL)
		require.NoError(t, err)

		wire, err := tr.Capabilities(context.Background(), client)
		require.NoError(t, err)
		assert.Equal(t, []string{"text"}, wire.Formats)
	})

	t.Run("no signal at all is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer srv.Close()

		tr, err := NewHTTP(srv.URL)
		require.NoError(t, err)

		_, err = tr.Capabilities(context.Background(), client)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no capability signal")
	})
}

func TestHTTPAuthHeaders(t *testing.T) {
	t.Run("bearer token and client source travel on every request", func(t *testing.T) {
		var gotAuth, gotSource string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotSource = r.Header.Get("X-Source")
			w.Header().Set("Content-Length", "0")
		}))
		defer srv.Close()

		tr, err := NewHTTP(srv.URL, WithTokenSource(auth.StaticToken("secret-token")))
		require.NoError(t, err)

		_, err = tr.Probe(context.Background(), "data.bin")
		require.NoError(t, err)
		assert.Equal(t, "Bearer secret-token", gotAuth)
		assert.Equal(t, "cli", gotSource)
	})

	t.Run("anonymous requests carry no Authorization header", func(t *testing.T) {
		var gotAuth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
		}))
		defer srv.Close()

		tr, err := NewHTTP(srv.URL)
		require.NoError(t, err)

		_, err = tr.Probe(context.Background(), "data.bin")
		require.NoError(t, err)
		assert.Empty(t, gotAuth)
	})
}

func TestEndpointKey(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"http://Files.Example.COM/v1/files", "http://files.example.com"},
		{"https://files.example.com:8443", "https://files.example.com:8443"},
		{"WS://host/path?x=1", "ws://host"},
	}
	for _, tt := range tests {
		got, err := EndpointKey(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got)
	}

	_, err := EndpointKey("not a url at all")
	require.Error(t, err)

	_, err = EndpointKey("/relative/only")
	require.Error(t, err)
}
