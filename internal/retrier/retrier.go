// Package retrier wraps whole-operation calls (probes, finalizes, metadata
// reads) in bounded exponential backoff. Chunk-level retry lives with the
// chunk workers; this layer only ever retries operations that are safe to
// repeat.
package retrier

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
)

// Verb classifies an operation by its effect, deciding retry eligibility.
type Verb int

const (
	// VerbRead fetches state without modifying it.
	VerbRead Verb = iota
	// VerbReplace overwrites state wholesale; repeating it converges.
	VerbReplace
	// VerbCreate makes a new resource; repeats may duplicate.
	VerbCreate
	// VerbAppend extends existing state; repeats may double-apply.
	VerbAppend
)

func (v Verb) String() string {
	switch v {
	case VerbRead:
		return "read"
	case VerbReplace:
		return "replace"
	case VerbCreate:
		return "create"
	case VerbAppend:
		return "append"
	default:
		return "unknown"
	}
}

// Idempotent reports whether an operation with this verb may be retried.
func (v Verb) Idempotent() bool {
	return v == VerbRead || v == VerbReplace
}

const (
	// DefaultAttempts is the total number of tries, first included.
	DefaultAttempts = 3
	// DefaultBaseDelay is the delay before the first retry; each retry
	// doubles it.
	DefaultBaseDelay = 1 * time.Second
	// DefaultMaxDelay caps the backoff.
	DefaultMaxDelay = 10 * time.Second
)

// Manager applies the retry policy. The zero value is not usable; call New.
type Manager struct {
	attempts  uint
	baseDelay time.Duration
	maxDelay  time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithAttempts overrides the total try count.
func WithAttempts(n uint) Option {
	return func(m *Manager) { m.attempts = n }
}

// WithDelays overrides the base and cap delays.
func WithDelays(base, max time.Duration) Option {
	return func(m *Manager) {
		m.baseDelay = base
		m.maxDelay = max
	}
}

// New creates a Manager with the default 3-attempt 1s/2s/4s policy.
func New(opts ...Option) *Manager {
	m := &Manager{
		attempts:  DefaultAttempts,
		baseDelay: DefaultBaseDelay,
		maxDelay:  DefaultMaxDelay,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Do runs op, retrying on failure only when the verb is idempotent.
// Backoff doubles per attempt with no jitter, so test runs reproduce.
func (m *Manager) Do(ctx context.Context, name string, verb Verb, op func(ctx context.Context) error) error {
	if !verb.Idempotent() {
		return op(ctx)
	}

	return retry.Do(
		func() error { return op(ctx) },
		retry.Context(ctx),
		retry.Attempts(m.attempts),
		retry.Delay(m.baseDelay),
		retry.MaxDelay(m.maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Debug("Retrying operation",
				"operation", name,
				"verb", verb.String(),
				"attempt", n+1,
				"error", err,
			)
		}),
	)
}
