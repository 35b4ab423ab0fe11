package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shuttlefile/shuttle/internal/auth"
	"github.com/shuttlefile/shuttle/internal/capability"
	"github.com/shuttlefile/shuttle/internal/codec"
)

// Well-known paths and headers of the shuttle HTTP protocol.
const (
	filesPathPrefix  = "/v1/files/"
	capabilitiesPath = "/.well-known/shuttle-capabilities"

	headerClientCapabilities = "X-Shuttle-Capabilities"
	headerFormats            = "X-Shuttle-Formats"
	headerFeatures           = "X-Shuttle-Features"
	headerRecommended        = "X-Shuttle-Recommended-Format"
	headerMinClientVersion   = "X-Shuttle-Min-Client-Version"
	headerResourceChecksum   = "X-Shuttle-Checksum"
	headerChunkIndex         = "X-Chunk-Index"
	headerChunkCount         = "X-Chunk-Count"
	headerChunkStart         = "X-Chunk-Start"
	headerChunkHash          = "X-Chunk-Hash"
)

// HTTPTransport is the request/response transport. One instance serves every
// session against its endpoint; the underlying http.Client pools sockets per
// the configured per-endpoint cap.
type HTTPTransport struct {
	base   *url.URL
	client *http.Client
	tokens auth.TokenSource
	format codec.Format
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithTokenSource sets the bearer-token source for authenticated endpoints.
func WithTokenSource(ts auth.TokenSource) HTTPOption {
	return func(t *HTTPTransport) { t.tokens = ts }
}

// WithFormat sets the wire format used for structured payloads (finalize
// manifests). Defaults to text until negotiation selects a better one.
func WithFormat(f codec.Format) HTTPOption {
	return func(t *HTTPTransport) { t.format = f }
}

// WithMaxConns caps the sockets kept per endpoint.
func WithMaxConns(n int) HTTPOption {
	return func(t *HTTPTransport) {
		if tr, ok := t.client.Transport.(*http.Transport); ok && n > 0 {
			tr.MaxConnsPerHost = n
			tr.MaxIdleConnsPerHost = n
		}
	}
}

// NewHTTP creates an HTTP transport for the endpoint base URL.
func NewHTTP(endpoint string, opts ...HTTPOption) (*HTTPTransport, error) {
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("endpoint %q: http transport requires an http(s) URL", endpoint)
	}

	inner := http.DefaultTransport.(*http.Transport).Clone()
	inner.MaxConnsPerHost = 8
	inner.MaxIdleConnsPerHost = 8

	t := &HTTPTransport{
		base: base,
		// No client-level timeout: range reads stream large bodies and are
		// bounded by the per-attempt context instead.
		client: &http.Client{Transport: inner},
		tokens: auth.Anonymous,
		format: codec.FormatText,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// SetFormat switches the wire format after negotiation.
func (t *HTTPTransport) SetFormat(f codec.Format) {
	t.format = f
}

// Kind implements Transport.
func (t *HTTPTransport) Kind() string { return "http" }

// Close implements Transport.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func (t *HTTPTransport) resourceURL(resource string) string {
	return t.base.JoinPath(filesPathPrefix, resource).String()
}

func (t *HTTPTransport) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Source", "cli")

	token, err := t.tokens.Token()
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// Probe implements Transport using a HEAD request: Content-Length supplies
// the size and Accept-Ranges advertises range support.
func (t *HTTPTransport) Probe(ctx context.Context, resource string) (ProbeInfo, error) {
	req, err := t.newRequest(ctx, http.MethodHead, t.resourceURL(resource), nil)
	if err != nil {
		return ProbeInfo{}, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return ProbeInfo{}, fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Deferred close, error not actionable

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ProbeInfo{}, fmt.Errorf("probe failed with status %d", resp.StatusCode)
	}

	info := ProbeInfo{
		Rangeable: strings.Contains(strings.ToLower(resp.Header.Get("Accept-Ranges")), "bytes"),
		Checksum:  resp.Header.Get(headerResourceChecksum),
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		size, err := strconv.ParseInt(cl, 10, 64)
		if err != nil {
			return ProbeInfo{}, fmt.Errorf("invalid Content-Length %q: %w", cl, err)
		}
		info.Size = size
	}

	slog.Debug("Probed resource",
		"resource", resource,
		"size", info.Size,
		"rangeable", info.Rangeable,
	)
	return info, nil
}

// ReadRange implements Transport. The Range header is inclusive on the wire,
// so [start, end) becomes "bytes=start-(end-1)".
func (t *HTTPTransport) ReadRange(ctx context.Context, resource string, start, end int64) (io.ReadCloser, error) {
	req, err := t.newRequest(ctx, http.MethodGet, t.resourceURL(resource), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("range read failed: %w", err)
	}
	if resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close() //nolint:errcheck // Error response body, close error not actionable
		return nil, fmt.Errorf("range read failed with status %d (range %d-%d)", resp.StatusCode, start, end-1)
	}
	return resp.Body, nil
}

// ReadWhole implements Transport.
func (t *HTTPTransport) ReadWhole(ctx context.Context, resource string) (io.ReadCloser, error) {
	req, err := t.newRequest(ctx, http.MethodGet, t.resourceURL(resource), nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close() //nolint:errcheck // Error response body, close error not actionable
		return nil, fmt.Errorf("read failed with status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// PutChunk implements Transport. Each chunk is a distinct POST carrying its
// descriptor in headers.
func (t *HTTPTransport) PutChunk(ctx context.Context, resource string, meta ChunkMeta, body io.Reader) error {
	chunkURL := t.base.JoinPath(filesPathPrefix, resource, "chunks").String()
	req, err := t.newRequest(ctx, http.MethodPost, chunkURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(headerChunkIndex, strconv.Itoa(meta.Index))
	req.Header.Set(headerChunkStart, strconv.FormatInt(meta.Start.Int64(), 10))
	if meta.TotalChunks > 0 {
		req.Header.Set(headerChunkCount, strconv.Itoa(meta.TotalChunks))
	}
	if meta.Hash != "" {
		req.Header.Set(headerChunkHash, meta.Hash)
	}
	req.ContentLength = meta.Size.Int64()

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("chunk upload failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Deferred close, error not actionable

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chunk upload failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	slog.Debug("Chunk uploaded",
		"resource", resource,
		"chunk", meta.Index,
		"size", meta.Size.Int64(),
		"duration", time.Since(start),
	)
	return nil
}

// Finalize implements Transport. The manifest travels in the negotiated wire
// format.
func (t *HTTPTransport) Finalize(ctx context.Context, resource string, manifest Manifest) error {
	payload, err := codec.Encode(manifest, t.format)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	completeURL := t.base.JoinPath(filesPathPrefix, resource, "complete").String()
	req, err := t.newRequest(ctx, http.MethodPost, completeURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", t.format.ContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("finalize failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Deferred close, error not actionable

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("finalize failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Capabilities implements Transport. The response is read from headers
// first, then merged with an optional JSON body; either signal alone is
// enough.
func (t *HTTPTransport) Capabilities(ctx context.Context, client capability.Wire) (capability.Wire, error) {
	req, err := t.newRequest(ctx, http.MethodGet, t.base.JoinPath(capabilitiesPath).String(), nil)
	if err != nil {
		return capability.Wire{}, err
	}
	req.Header.Set(headerClientCapabilities, encodeCapabilityHeader(client))

	resp, err := t.client.Do(req)
	if err != nil {
		return capability.Wire{}, fmt.Errorf("capability probe failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Deferred close, error not actionable

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return capability.Wire{}, fmt.Errorf("capability probe failed with status %d", resp.StatusCode)
	}

	wire := capability.Wire{
		Formats:           splitHeaderList(resp.Header.Get(headerFormats)),
		Features:          splitHeaderList(resp.Header.Get(headerFeatures)),
		RecommendedFormat: resp.Header.Get(headerRecommended),
		MinClientVersion:  resp.Header.Get(headerMinClientVersion),
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err == nil && len(body) > 0 {
		var fromBody capability.Wire
		if err := json.Unmarshal(body, &fromBody); err == nil {
			wire = mergeWire(wire, fromBody)
		}
	}

	if len(wire.Formats) == 0 && len(wire.Features) == 0 {
		return capability.Wire{}, fmt.Errorf("capability probe returned no capability signal")
	}
	return wire, nil
}

// encodeCapabilityHeader renders the client capability advertisement, e.g.
// "formats=binary,compressed-text,text; features=range,checksum".
func encodeCapabilityHeader(w capability.Wire) string {
	return "formats=" + strings.Join(w.Formats, ",") + "; features=" + strings.Join(w.Features, ",")
}

func splitHeaderList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func mergeWire(a, b capability.Wire) capability.Wire {
	merged := capability.Wire{
		Formats:           appendUnique(a.Formats, b.Formats),
		Features:          appendUnique(a.Features, b.Features),
		RecommendedFormat: a.RecommendedFormat,
		MinClientVersion:  a.MinClientVersion,
	}
	if merged.RecommendedFormat == "" {
		merged.RecommendedFormat = b.RecommendedFormat
	}
	if merged.MinClientVersion == "" {
		merged.MinClientVersion = b.MinClientVersion
	}
	return merged
}

func appendUnique(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	out := make([]string, 0, len(base)+len(extra))
	for _, v := range base {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range extra {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
