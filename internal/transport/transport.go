// Package transport provides the network primitives the transfer engine
// rides on: a request/response HTTP transport and a persistent-socket
// websocket transport, interchangeable behind one interface.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/shuttlefile/shuttle/internal/capability"
	"github.com/shuttlefile/shuttle/internal/codec"
)

// ProbeInfo describes what an endpoint advertises for one resource.
type ProbeInfo struct {
	Size      int64  // total resource size; 0 when the endpoint does not declare one
	Rangeable bool   // whether byte-range requests are supported
	Checksum  string // whole-resource digest when the endpoint declares one
}

// ChunkMeta accompanies each uploaded chunk.
type ChunkMeta struct {
	Index       int             `json:"index" msgpack:"index"`
	TotalChunks int             `json:"totalChunks" msgpack:"totalChunks"` // 0 while the plan is still growing
	Start       codec.SafeInt64 `json:"start" msgpack:"start"`
	Size        codec.SafeInt64 `json:"size" msgpack:"size"`
	Hash        string          `json:"hash,omitempty" msgpack:"hash,omitempty"`
}

// Manifest finalizes an upload: the authoritative chunk count and digest the
// server should assemble and verify against.
type Manifest struct {
	Resource   string          `json:"resource" msgpack:"resource"`
	TotalBytes codec.SafeInt64 `json:"totalBytes" msgpack:"totalBytes"`
	ChunkCount int             `json:"chunkCount" msgpack:"chunkCount"`
	Checksum   string          `json:"checksum,omitempty" msgpack:"checksum,omitempty"`
	UploadedAt codec.SafeInt64 `json:"uploadedAt" msgpack:"uploadedAt"` // unix milliseconds
}

// Transport moves bytes to and from one endpoint. Implementations are safe
// for concurrent use by multiple chunk workers. Transports do not retry;
// retry policy lives with the chunk workers and the retry manager.
type Transport interface {
	// Probe asks the endpoint about a resource: its size and whether it
	// serves byte ranges.
	Probe(ctx context.Context, resource string) (ProbeInfo, error)

	// ReadRange streams the byte range [start, end) of a resource.
	ReadRange(ctx context.Context, resource string, start, end int64) (io.ReadCloser, error)

	// ReadWhole streams an entire resource. Used as the fallback when the
	// endpoint does not support ranges.
	ReadWhole(ctx context.Context, resource string) (io.ReadCloser, error)

	// PutChunk uploads one chunk with its descriptor metadata.
	PutChunk(ctx context.Context, resource string, meta ChunkMeta, body io.Reader) error

	// Finalize completes a chunked upload.
	Finalize(ctx context.Context, resource string, manifest Manifest) error

	// Capabilities probes the endpoint's capability document, advertising
	// the client's own capabilities.
	Capabilities(ctx context.Context, client capability.Wire) (capability.Wire, error)

	// Kind names the transport for logs and metrics ("http", "socket").
	Kind() string

	// Close releases the transport's underlying connections.
	Close() error
}

// Dialer creates a transport for an endpoint URL. The connection pool uses
// this to create pooled handles on first use of an endpoint.
type Dialer func(ctx context.Context, endpoint string) (Transport, error)

// EndpointKey normalizes an endpoint URL to its scheme+host identity, the
// key connection pool entries and capability profiles are shared under.
func EndpointKey(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint %q must include scheme and host", raw)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}
