package capability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goversion "github.com/hashicorp/go-version"

	"github.com/shuttlefile/shuttle/internal/codec"
	"github.com/shuttlefile/shuttle/internal/metrics"
	"github.com/shuttlefile/shuttle/internal/version"
)

// DefaultTTL is how long a negotiated profile stays cached.
const DefaultTTL = 5 * time.Minute

// probeRetries is the number of extra attempts after the first probe fails.
const probeRetries = 2

// ProbeFunc sends a capability probe to an endpoint, advertising the
// client's own capabilities, and returns what the server declared.
type ProbeFunc func(ctx context.Context, endpointKey string, client Wire) (Wire, error)

// Negotiator caches capability profiles per endpoint. Negotiate never
// returns an error: when the probe fails after retries the conservative
// fallback profile is cached and returned instead.
type Negotiator struct {
	probe ProbeFunc
	ttl   time.Duration

	mu    sync.Mutex
	cache map[string]*Profile

	now   func() time.Time
	sleep func(context.Context, time.Duration)
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithTTL overrides the cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(n *Negotiator) { n.ttl = ttl }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(n *Negotiator) { n.now = now }
}

// WithSleep injects the backoff sleep for tests.
func WithSleep(sleep func(context.Context, time.Duration)) Option {
	return func(n *Negotiator) { n.sleep = sleep }
}

// NewNegotiator creates a negotiator backed by the given probe.
func NewNegotiator(probe ProbeFunc, opts ...Option) *Negotiator {
	n := &Negotiator{
		probe: probe,
		ttl:   DefaultTTL,
		cache: make(map[string]*Profile),
		now:   time.Now,
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Negotiate returns the capability profile for an endpoint, probing it if no
// fresh cached profile exists. The probe is retried with a linear
// one-second-per-attempt backoff; exhaustion yields the fallback profile.
func (n *Negotiator) Negotiate(ctx context.Context, endpointKey string) *Profile {
	n.mu.Lock()
	if p, ok := n.cache[endpointKey]; ok && n.now().Before(p.CachedUntil) {
		n.mu.Unlock()
		return p
	}
	n.mu.Unlock()

	profile := n.probeWithRetry(ctx, endpointKey)

	n.mu.Lock()
	n.cache[endpointKey] = profile
	n.mu.Unlock()
	return profile
}

// Invalidate drops any cached profile for the endpoint, forcing a fresh
// probe on the next Negotiate.
func (n *Negotiator) Invalidate(endpointKey string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.cache, endpointKey)
}

func (n *Negotiator) probeWithRetry(ctx context.Context, endpointKey string) *Profile {
	client := ClientWire()
	var lastErr error
	for attempt := 1; attempt <= probeRetries+1; attempt++ {
		wire, err := n.probe(ctx, endpointKey, client)
		if err == nil {
			metrics.CapabilityProbesTotal.WithLabelValues("success").Inc()
			return n.merge(endpointKey, client, wire)
		}
		lastErr = err
		slog.Debug("Capability probe failed",
			"endpoint", endpointKey,
			"attempt", attempt,
			"error", err,
		)
		if attempt <= probeRetries {
			n.sleep(ctx, time.Duration(attempt)*time.Second)
		}
	}

	metrics.CapabilityProbesTotal.WithLabelValues("failure").Inc()
	slog.Warn("Capability negotiation failed, using conservative fallback",
		"endpoint", endpointKey,
		"error", lastErr,
	)
	return Fallback(endpointKey, n.now().Add(n.ttl))
}

// merge combines the client's and server's declarations into a profile:
// formats and features are deduplicated as sets, and the recommended format
// is the highest-priority format both sides support.
func (n *Negotiator) merge(endpointKey string, client, server Wire) *Profile {
	if err := checkMinClientVersion(server.MinClientVersion); err != nil {
		slog.Warn("Endpoint requires a newer client, using conservative fallback",
			"endpoint", endpointKey,
			"error", err,
		)
		return Fallback(endpointKey, n.now().Add(n.ttl))
	}

	clientFormats := make(map[codec.Format]struct{}, len(client.Formats))
	for _, f := range client.Formats {
		clientFormats[codec.Format(f)] = struct{}{}
	}

	p := &Profile{
		EndpointKey: endpointKey,
		Formats:     make(map[codec.Format]struct{}),
		Features:    make(map[string]struct{}),
		CachedUntil: n.now().Add(n.ttl),
	}
	for _, f := range server.Formats {
		format := codec.Format(f)
		if _, ok := clientFormats[format]; ok {
			p.Formats[format] = struct{}{}
		}
	}
	for _, feat := range server.Features {
		p.Features[feat] = struct{}{}
	}

	// Text is always a valid last resort.
	if len(p.Formats) == 0 {
		p.Formats[codec.FormatText] = struct{}{}
	}

	p.Recommended = selectRecommended(p, server.RecommendedFormat)
	return p
}

// selectRecommended picks the negotiated format: the server's own
// recommendation when both sides support it, otherwise the first shared
// format in priority order (binary > compressed-text > text).
func selectRecommended(p *Profile, serverRecommended string) codec.Format {
	if rec := codec.Format(serverRecommended); codec.Known(rec) && p.Supports(rec) {
		return rec
	}
	for _, f := range codec.Priority {
		if p.Supports(f) {
			return f
		}
	}
	return codec.FormatText
}

func checkMinClientVersion(minVersion string) error {
	if minVersion == "" || version.Version == "dev" {
		return nil
	}
	minimum, err := goversion.NewVersion(minVersion)
	if err != nil {
		// An unparseable demand is ignored rather than degrading service.
		return nil //nolint:nilerr
	}
	current, err := goversion.NewVersion(version.Version)
	if err != nil {
		return nil //nolint:nilerr
	}
	if current.LessThan(minimum) {
		return fmt.Errorf("endpoint requires client >= %s, running %s", minVersion, version.Version)
	}
	return nil
}
