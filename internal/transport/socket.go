package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shuttlefile/shuttle/internal/auth"
	"github.com/shuttlefile/shuttle/internal/capability"
	"github.com/shuttlefile/shuttle/internal/codec"
)

const (
	// reconnectDelay is the delay between reconnection attempts
	reconnectDelay = 2 * time.Second
	// maxReconnectAttempts is the maximum number of consecutive reconnection attempts
	maxReconnectAttempts = 5
	// pingInterval is how often we send ping frames to keep the connection alive
	pingInterval = 10 * time.Second
	// pongTimeout is how long we wait for a pong response before considering the connection dead
	pongTimeout = 5 * time.Second
	// handshakeTimeout is how long we wait for the websocket handshake
	handshakeTimeout = 5 * time.Second
)

// Frame operations understood by both ends of the socket protocol.
const (
	opProbe        = "probe"
	opReadRange    = "read_range"
	opReadWhole    = "read"
	opPutChunk     = "put_chunk"
	opFinalize     = "finalize"
	opCapabilities = "capabilities"
)

// frame is the request/response envelope on the persistent socket. Every
// request carries a fresh ID; the matching response echoes it back, so
// multiple in-flight chunks can share one connection.
type frame struct {
	ID       uint64            `json:"id" msgpack:"id"`
	Op       string            `json:"op" msgpack:"op"`
	Resource string            `json:"resource,omitempty" msgpack:"resource,omitempty"`
	Start    codec.SafeInt64   `json:"start,omitempty" msgpack:"start,omitempty"`
	End      codec.SafeInt64   `json:"end,omitempty" msgpack:"end,omitempty"`
	Chunk    *ChunkMeta        `json:"chunk,omitempty" msgpack:"chunk,omitempty"`
	Manifest *Manifest         `json:"manifest,omitempty" msgpack:"manifest,omitempty"`
	Probe    *ProbeInfo        `json:"probe,omitempty" msgpack:"probe,omitempty"`
	Caps     *capability.Wire  `json:"capabilities,omitempty" msgpack:"capabilities,omitempty"`
	Error    string            `json:"error,omitempty" msgpack:"error,omitempty"`
	Payload  []byte            `json:"payload,omitempty" msgpack:"payload,omitempty"`
}

// SocketTransport holds one persistent websocket to the endpoint and
// multiplexes chunk traffic over it. Connection loss triggers a bounded
// reconnect; in-flight requests at the time of the loss fail and are left
// to the chunk retry loop.
type SocketTransport struct {
	endpoint *url.URL
	tokens   auth.TokenSource
	format   codec.Format

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  uint64
	pending map[uint64]chan frame
	closed  bool

	pingDone chan struct{}
}

// SocketOption configures a SocketTransport.
type SocketOption func(*SocketTransport)

// WithSocketTokenSource sets the bearer-token source used at dial time.
func WithSocketTokenSource(ts auth.TokenSource) SocketOption {
	return func(t *SocketTransport) { t.tokens = ts }
}

// WithSocketFormat sets the frame wire format.
func WithSocketFormat(f codec.Format) SocketOption {
	return func(t *SocketTransport) { t.format = f }
}

// NewSocket creates a persistent socket transport for the endpoint. The
// connection is dialed lazily on first use.
func NewSocket(endpoint string, opts ...SocketOption) (*SocketTransport, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("endpoint %q: socket transport requires a ws(s) URL", endpoint)
	}

	t := &SocketTransport{
		endpoint: u,
		tokens:   auth.Anonymous,
		format:   codec.FormatText,
		pending:  make(map[uint64]chan frame),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// SetFormat switches the frame wire format after negotiation. Takes effect
// for frames written after the call.
func (t *SocketTransport) SetFormat(f codec.Format) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.format = f
}

// Kind implements Transport.
func (t *SocketTransport) Kind() string { return "socket" }

// Close implements Transport. Pending requests fail with a closed error.
func (t *SocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	t.failPendingLocked(fmt.Errorf("transport closed"))
	if t.conn == nil {
		return nil
	}
	_ = t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := t.conn.Close()
	t.conn = nil
	if t.pingDone != nil {
		close(t.pingDone)
		t.pingDone = nil
	}
	return err
}

// ensureConn dials the endpoint if no live connection exists, retrying with
// a fixed delay up to the reconnect cap.
func (t *SocketTransport) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, fmt.Errorf("transport closed")
	}
	if t.conn != nil {
		return t.conn, nil
	}

	var lastErr error
	for attempt := 0; attempt <= maxReconnectAttempts; attempt++ {
		if attempt > 0 {
			slog.Warn("WebSocket connection lost, reconnecting",
				"attempt", attempt,
				"maxAttempts", maxReconnectAttempts,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(reconnectDelay):
			}
		}

		conn, err := t.dial(ctx)
		if err != nil {
			lastErr = err
			continue
		}

		t.conn = conn
		t.pingDone = make(chan struct{})
		go t.readLoop(conn)
		go t.pingLoop(conn, t.pingDone)
		return conn, nil
	}
	return nil, fmt.Errorf("max reconnection attempts (%d) exceeded: %w", maxReconnectAttempts, lastErr)
}

func (t *SocketTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := t.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to get auth token: %w", err)
	}

	wsURL := *t.endpoint
	if wsURL.Path == "" || wsURL.Path == "/" {
		wsURL.Path = "/v1/socket"
	}
	if token != "" {
		query := wsURL.Query()
		query.Set("token", token)
		wsURL.RawQuery = query.Encode()
	}

	slog.Debug("Connecting to transfer socket", "url", wsURL.Host+wsURL.Path)

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pingInterval + pongTimeout))
	})

	slog.Info("Connected to transfer socket", "endpoint", wsURL.Host)
	return conn, nil
}

// readLoop drains the connection, routing responses to their waiters. Exits
// on any read error after failing all pending requests.
func (t *SocketTransport) readLoop(conn *websocket.Conn) {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(pingInterval + pongTimeout)); err != nil {
			t.dropConn(conn, fmt.Errorf("failed to set read deadline: %w", err))
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("WebSocket closed normally")
				t.dropConn(conn, fmt.Errorf("connection closed"))
				return
			}
			t.dropConn(conn, fmt.Errorf("read error: %w", err))
			return
		}

		var resp frame
		if err := t.decodeFrame(message, &resp); err != nil {
			slog.Warn("Failed to parse socket frame", "error", err)
			continue
		}

		t.mu.Lock()
		ch, ok := t.pending[resp.ID]
		if ok {
			delete(t.pending, resp.ID)
		}
		t.mu.Unlock()

		if !ok {
			slog.Debug("Dropping uncorrelated socket frame", "id", resp.ID, "op", resp.Op)
			continue
		}
		ch <- resp
	}
}

// dropConn tears the connection down and fails its pending requests so the
// next call redials.
func (t *SocketTransport) dropConn(conn *websocket.Conn, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != conn {
		// A newer connection already replaced this one.
		return
	}
	t.conn = nil
	if t.pingDone != nil {
		close(t.pingDone)
		t.pingDone = nil
	}
	_ = conn.Close()
	t.failPendingLocked(cause)
}

func (t *SocketTransport) failPendingLocked(cause error) {
	for id, ch := range t.pending {
		delete(t.pending, id)
		ch <- frame{ID: id, Error: cause.Error()}
	}
}

// pingLoop sends periodic ping messages to keep the connection alive.
func (t *SocketTransport) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pongTimeout)); err != nil {
				slog.Debug("Failed to send ping", "error", err)
				return
			}
		}
	}
}

func (t *SocketTransport) decodeFrame(data []byte, out *frame) error {
	t.mu.Lock()
	format := t.format
	t.mu.Unlock()
	return codec.Decode(data, format, out)
}

// roundTrip sends one frame and waits for the correlated response.
func (t *SocketTransport) roundTrip(ctx context.Context, req frame) (frame, error) {
	conn, err := t.ensureConn(ctx)
	if err != nil {
		return frame{}, err
	}

	ch := make(chan frame, 1)

	t.mu.Lock()
	t.nextID++
	req.ID = t.nextID
	t.pending[req.ID] = ch
	format := t.format
	t.mu.Unlock()

	payload, err := codec.Encode(req, format)
	if err != nil {
		t.abandon(req.ID)
		return frame{}, fmt.Errorf("failed to encode frame: %w", err)
	}

	messageType := websocket.BinaryMessage
	if format == codec.FormatText {
		messageType = websocket.TextMessage
	}

	// gorilla connections allow one concurrent writer; serialize writes
	// under the transport mutex.
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		t.abandon(req.ID)
		return frame{}, fmt.Errorf("connection lost before write")
	}
	err = conn.WriteMessage(messageType, payload)
	t.mu.Unlock()
	if err != nil {
		t.abandon(req.ID)
		t.dropConn(conn, fmt.Errorf("write error: %w", err))
		return frame{}, fmt.Errorf("write error: %w", err)
	}

	select {
	case <-ctx.Done():
		t.abandon(req.ID)
		return frame{}, ctx.Err()
	case resp := <-ch:
		if resp.Error != "" {
			return frame{}, fmt.Errorf("%s failed: %s", req.Op, resp.Error)
		}
		return resp, nil
	}
}

// abandon removes a pending waiter that will never be served.
func (t *SocketTransport) abandon(id uint64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// Probe implements Transport.
func (t *SocketTransport) Probe(ctx context.Context, resource string) (ProbeInfo, error) {
	resp, err := t.roundTrip(ctx, frame{Op: opProbe, Resource: resource})
	if err != nil {
		return ProbeInfo{}, err
	}
	if resp.Probe == nil {
		return ProbeInfo{}, fmt.Errorf("probe response missing resource info")
	}
	return *resp.Probe, nil
}

// ReadRange implements Transport. The whole range arrives in one response
// frame, so the reader is backed by memory.
func (t *SocketTransport) ReadRange(ctx context.Context, resource string, start, end int64) (io.ReadCloser, error) {
	resp, err := t.roundTrip(ctx, frame{
		Op:       opReadRange,
		Resource: resource,
		Start:    codec.SafeInt64(start),
		End:      codec.SafeInt64(end),
	})
	if err != nil {
		return nil, err
	}
	if got, want := int64(len(resp.Payload)), end-start; got != want {
		return nil, fmt.Errorf("range response size mismatch: got %d bytes, want %d", got, want)
	}
	return io.NopCloser(bytes.NewReader(resp.Payload)), nil
}

// ReadWhole implements Transport.
func (t *SocketTransport) ReadWhole(ctx context.Context, resource string) (io.ReadCloser, error) {
	resp, err := t.roundTrip(ctx, frame{Op: opReadWhole, Resource: resource})
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(resp.Payload)), nil
}

// PutChunk implements Transport.
func (t *SocketTransport) PutChunk(ctx context.Context, resource string, meta ChunkMeta, body io.Reader) error {
	payload, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read chunk body: %w", err)
	}

	start := time.Now()
	_, err = t.roundTrip(ctx, frame{
		Op:       opPutChunk,
		Resource: resource,
		Chunk:    &meta,
		Payload:  payload,
	})
	if err != nil {
		return err
	}

	slog.Debug("Chunk sent over socket",
		"resource", resource,
		"chunk", meta.Index,
		"size", len(payload),
		"duration", time.Since(start),
	)
	return nil
}

// Finalize implements Transport.
func (t *SocketTransport) Finalize(ctx context.Context, resource string, manifest Manifest) error {
	_, err := t.roundTrip(ctx, frame{Op: opFinalize, Resource: resource, Manifest: &manifest})
	return err
}

// Capabilities implements Transport.
func (t *SocketTransport) Capabilities(ctx context.Context, client capability.Wire) (capability.Wire, error) {
	resp, err := t.roundTrip(ctx, frame{Op: opCapabilities, Caps: &client})
	if err != nil {
		return capability.Wire{}, err
	}
	if resp.Caps == nil {
		return capability.Wire{}, fmt.Errorf("capability response missing capability payload")
	}
	return *resp.Caps, nil
}
