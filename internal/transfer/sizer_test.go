package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdaptiveSizer(t *testing.T) {
	t.Run("grows on fast chunks", func(t *testing.T) {
		s := NewAdaptiveSizer(DefaultChunkSize)

		// 512 KiB in 10ms is well above the fast threshold.
		s.Observe(DefaultChunkSize, 10*time.Millisecond)
		seed := float64(DefaultChunkSize)
		assert.Equal(t, int64(seed*growFactor), s.Current())
	})

	t.Run("shrinks on slow chunks", func(t *testing.T) {
		s := NewAdaptiveSizer(DefaultChunkSize)

		// 512 KiB in 10s is well below the slow threshold.
		s.Observe(DefaultChunkSize, 10*time.Second)
		seed := float64(DefaultChunkSize)
		assert.Equal(t, int64(seed*shrinkFactor), s.Current())
	})

	t.Run("holds steady in the middle band", func(t *testing.T) {
		s := NewAdaptiveSizer(DefaultChunkSize)

		// ~2 MB/s for 2 seconds: neither fast nor slow.
		s.Observe(4*1024*1024, 2*time.Second)
		assert.Equal(t, int64(DefaultChunkSize), s.Current())
	})

	t.Run("zero duration counts as fast", func(t *testing.T) {
		s := NewAdaptiveSizer(DefaultChunkSize)
		s.Observe(DefaultChunkSize, 0)
		assert.Greater(t, s.Current(), int64(DefaultChunkSize))
	})

	t.Run("never grows past the maximum", func(t *testing.T) {
		s := NewAdaptiveSizer(MaxChunkSize)
		for i := 0; i < 20; i++ {
			s.Observe(MaxChunkSize, time.Millisecond)
		}
		assert.Equal(t, int64(MaxChunkSize), s.Current())
	})

	t.Run("never shrinks past the minimum", func(t *testing.T) {
		s := NewAdaptiveSizer(MinChunkSize)
		for i := 0; i < 20; i++ {
			s.Observe(MinChunkSize, time.Minute)
		}
		assert.Equal(t, int64(MinChunkSize), s.Current())
	})

	t.Run("defaults an invalid seed", func(t *testing.T) {
		assert.Equal(t, int64(DefaultChunkSize), NewAdaptiveSizer(0).Current())
		assert.Equal(t, int64(DefaultChunkSize), NewAdaptiveSizer(-5).Current())
	})
}
