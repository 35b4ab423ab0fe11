package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan(t *testing.T) {
	t.Run("splits payload into contiguous chunks", func(t *testing.T) {
		const total = 10 * 1024 * 1024
		const size = 1024 * 1024

		chunks, err := Plan(total, size)
		require.NoError(t, err)
		require.Len(t, chunks, 10)

		var sum int64
		var offset int64
		for i, c := range chunks {
			assert.Equal(t, i, c.Index)
			assert.Equal(t, offset, c.Start, "chunk %d should start where the previous ended", i)
			assert.Equal(t, c.End-c.Start, c.Size)
			assert.Equal(t, 10, c.PlanEstimate)
			assert.Equal(t, ChunkPending, c.Status)
			offset = c.End
			sum += c.Size
		}
		assert.Equal(t, int64(total), sum, "chunk sizes should sum to the payload size")
	})

	t.Run("final chunk may be short", func(t *testing.T) {
		chunks, err := Plan(1024*1024+5, 1024*1024)
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, int64(1024*1024), chunks[0].Size)
		assert.Equal(t, int64(5), chunks[1].Size)
	})

	t.Run("single chunk when payload is smaller than chunk size", func(t *testing.T) {
		chunks, err := Plan(100, 1024*1024)
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, int64(100), chunks[0].Size)
	})

	t.Run("rejects empty payload", func(t *testing.T) {
		_, err := Plan(0, 1024)
		assert.ErrorIs(t, err, ErrInvalidPayloadSize)

		_, err = Plan(-1, 1024)
		assert.ErrorIs(t, err, ErrInvalidPayloadSize)
	})

	t.Run("rejects invalid chunk size", func(t *testing.T) {
		_, err := Plan(1024, 0)
		assert.Error(t, err)
	})
}

func TestPlannerIncremental(t *testing.T) {
	t.Run("later chunks pick up a changed size", func(t *testing.T) {
		p, err := NewPlanner(MinChunkSize * 10)
		require.NoError(t, err)

		first := p.Next(MinChunkSize)
		require.NotNil(t, first)
		assert.Equal(t, int64(MinChunkSize), first.Size)

		// The size change affects only chunks planned after it.
		second := p.Next(MinChunkSize * 2)
		require.NotNil(t, second)
		assert.Equal(t, int64(MinChunkSize*2), second.Size)
		assert.Equal(t, first.End, second.Start)
		assert.Equal(t, int64(MinChunkSize), first.Size, "already planned chunks keep their size")
	})

	t.Run("covers payload exactly", func(t *testing.T) {
		const total = MinChunkSize*3 + 100
		p, err := NewPlanner(total)
		require.NoError(t, err)

		var offset, sum int64
		index := 0
		for {
			c := p.Next(MinChunkSize)
			if c == nil {
				break
			}
			assert.Equal(t, index, c.Index)
			assert.Equal(t, offset, c.Start)
			offset = c.End
			sum += c.Size
			index++
		}
		assert.Equal(t, int64(total), sum)
		assert.Equal(t, int64(0), p.Remaining())
		assert.Nil(t, p.Next(MinChunkSize), "exhausted planner keeps returning nil")
	})

	t.Run("projects the final chunk count", func(t *testing.T) {
		const total = MinChunkSize*4 + 100
		p, err := NewPlanner(total)
		require.NoError(t, err)

		var planned []*ChunkDescriptor
		for {
			c := p.Next(MinChunkSize)
			if c == nil {
				break
			}
			planned = append(planned, c)
		}
		require.Len(t, planned, 5)

		// With a steady size the projection is exact for every chunk, and it
		// always covers at least the chunks planned so far.
		for i, c := range planned {
			assert.Equal(t, len(planned), c.PlanEstimate, "chunk %d", i)
			assert.GreaterOrEqual(t, c.PlanEstimate, c.Index+1)
		}
	})

	t.Run("clamps and defaults the requested size", func(t *testing.T) {
		p, err := NewPlanner(MaxChunkSize * 4)
		require.NoError(t, err)

		c := p.Next(MaxChunkSize * 100)
		require.NotNil(t, c)
		assert.Equal(t, int64(MaxChunkSize), c.Size)

		c = p.Next(0)
		require.NotNil(t, c)
		assert.Equal(t, int64(DefaultChunkSize), c.Size)
	})

	t.Run("rejects empty payload", func(t *testing.T) {
		_, err := NewPlanner(0)
		assert.ErrorIs(t, err, ErrInvalidPayloadSize)
	})
}

func TestInitialChunkSize(t *testing.T) {
	tests := []struct {
		name        string
		requested   int64
		quality     NetworkQuality
		recommended int64
		expected    int64
	}{
		{"default size for zero request", 0, QualityMedium, 0, DefaultChunkSize},
		{"fast doubles", DefaultChunkSize, QualityFast, 0, DefaultChunkSize * 2},
		{"slow halves", DefaultChunkSize, QualitySlow, 0, DefaultChunkSize / 2},
		{"unknown quality is neutral", DefaultChunkSize, "", 0, DefaultChunkSize},
		{"clamped to max", MaxChunkSize, QualityFast, 0, MaxChunkSize},
		{"clamped to min", MinChunkSize, QualitySlow, 0, MinChunkSize},
		{"recommendation overrides request", MinChunkSize, QualityMedium, DefaultChunkSize, DefaultChunkSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, InitialChunkSize(tt.requested, tt.quality, tt.recommended))
		})
	}
}

func TestClampChunkSize(t *testing.T) {
	assert.Equal(t, int64(MinChunkSize), ClampChunkSize(1))
	assert.Equal(t, int64(MinChunkSize), ClampChunkSize(MinChunkSize))
	assert.Equal(t, int64(MaxChunkSize), ClampChunkSize(MaxChunkSize+1))
	assert.Equal(t, int64(DefaultChunkSize), ClampChunkSize(DefaultChunkSize))
}
