package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate(t *testing.T) {
	t.Run("bounds concurrent holders", func(t *testing.T) {
		g := NewGate(2)

		assert.True(t, g.TryAcquire())
		assert.True(t, g.TryAcquire())
		assert.False(t, g.TryAcquire(), "third acquire should fail at limit 2")

		g.Release()
		assert.True(t, g.TryAcquire())
	})

	t.Run("acquire blocks until a permit is released", func(t *testing.T) {
		g := NewGate(1)
		require.NoError(t, g.Acquire(context.Background()))

		acquired := make(chan struct{})
		go func() {
			_ = g.Acquire(context.Background())
			close(acquired)
		}()

		select {
		case <-acquired:
			t.Fatal("acquire should block while the permit is held")
		case <-time.After(20 * time.Millisecond):
		}

		g.Release()
		select {
		case <-acquired:
		case <-time.After(time.Second):
			t.Fatal("acquire should resume after release")
		}
	})

	t.Run("acquire respects context cancellation", func(t *testing.T) {
		g := NewGate(1)
		require.NoError(t, g.Acquire(context.Background()))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Error(t, g.Acquire(ctx))
	})

	t.Run("defaults the limit", func(t *testing.T) {
		assert.Equal(t, DefaultConcurrency, NewGate(0).Limit())
		assert.Equal(t, DefaultConcurrency, NewGate(-3).Limit())
		assert.Equal(t, 8, NewGate(8).Limit())
	})
}
