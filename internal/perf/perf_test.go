package perf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func observeN(m *Monitor, key string, n int, d time.Duration, success bool) {
	for i := 0; i < n; i++ {
		m.Observe(Sample{Key: key, Duration: d, Size: 1024, Success: success})
	}
}

func TestMonitorStats(t *testing.T) {
	t.Run("no stats below the sample floor", func(t *testing.T) {
		m := NewMonitor()
		observeN(m, "op", minSamples-1, time.Millisecond, true)
		m.Recompute()

		_, ok := m.Stats("op")
		assert.False(t, ok)
	})

	t.Run("computes percentiles and rates", func(t *testing.T) {
		m := NewMonitor()
		// 100 samples: durations 1ms..100ms, the last 10 failed.
		for i := 1; i <= 100; i++ {
			m.Observe(Sample{
				Key:      "op",
				Duration: time.Duration(i) * time.Millisecond,
				Size:     2048,
				Success:  i <= 90,
				CacheHit: i <= 50,
			})
		}
		m.Recompute()

		st, ok := m.Stats("op")
		require.True(t, ok)
		assert.Equal(t, 100, st.Count)
		assert.Equal(t, 50*time.Millisecond, st.P50)
		assert.Equal(t, 95*time.Millisecond, st.P95)
		assert.Equal(t, 99*time.Millisecond, st.P99)
		assert.InDelta(t, 0.9, st.SuccessRate, 0.001)
		assert.InDelta(t, 0.5, st.CacheHitRate, 0.001)
		assert.InDelta(t, 2048, st.AvgSize, 0.001)
	})

	t.Run("ring drops the oldest samples", func(t *testing.T) {
		m := NewMonitor()
		// Overfill the ring with slow samples, then push fast ones.
		observeN(m, "op", ringCapacity, time.Second, true)
		observeN(m, "op", ringCapacity, time.Millisecond, true)
		m.Recompute()

		st, ok := m.Stats("op")
		require.True(t, ok)
		assert.Equal(t, ringCapacity, st.Count)
		assert.Equal(t, time.Millisecond, st.P99, "old slow samples should have been overwritten")
	})
}

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	assert.Equal(t, time.Duration(50), percentile(sorted, 50))
	assert.Equal(t, time.Duration(100), percentile(sorted, 95))
	assert.Equal(t, time.Duration(100), percentile(sorted, 99))
	assert.Equal(t, time.Duration(10), percentile(sorted, 1))
	assert.Equal(t, time.Duration(0), percentile(nil, 50))
}

func TestBottleneckScore(t *testing.T) {
	t.Run("instant and reliable scores zero", func(t *testing.T) {
		assert.Equal(t, float64(0), bottleneckScore(0, 0, 0))
	})

	t.Run("worst case caps at 100", func(t *testing.T) {
		assert.Equal(t, float64(100), bottleneckScore(time.Minute, time.Minute, 1))
	})

	t.Run("weights latency, failures and p95", func(t *testing.T) {
		// 5s average is bucket 0.5; failure rate 0.2; 10s p95 is bucket 1.
		got := bottleneckScore(5*time.Second, 10*time.Second, 0.2)
		assert.InDelta(t, 40*0.5+35*0.2+25*1, got, 0.001)
	})
}

func TestTuner(t *testing.T) {
	t.Run("seeds a default config", func(t *testing.T) {
		tn := NewTuner(NewMonitor())
		cfg := tn.Config("chunk")
		assert.Equal(t, 10, cfg.BatchSize)
		assert.Equal(t, 30*time.Second, cfg.Timeout)
	})

	t.Run("healthy stats grow batch and shrink timeout", func(t *testing.T) {
		m := NewMonitor()
		tn := NewTuner(m)
		tn.Config("chunk") // seed

		observeN(m, "chunk", 100, 10*time.Millisecond, true)
		m.Recompute()
		tn.Adjust()

		cfg := tn.Config("chunk")
		assert.Equal(t, 15, cfg.BatchSize)
		assert.Equal(t, 25*time.Second, cfg.Timeout)
	})

	t.Run("struggling stats halve batch and grow timeout", func(t *testing.T) {
		m := NewMonitor()
		tn := NewTuner(m)
		tn.Config("chunk")

		observeN(m, "chunk", 50, 10*time.Millisecond, true)
		observeN(m, "chunk", 50, 10*time.Millisecond, false)
		m.Recompute()
		tn.Adjust()

		cfg := tn.Config("chunk")
		assert.Equal(t, 5, cfg.BatchSize)
		assert.Equal(t, 40*time.Second, cfg.Timeout)
	})

	t.Run("adjustments never leave the clamp range", func(t *testing.T) {
		m := NewMonitor()
		tn := NewTuner(m)
		tn.Config("chunk")
		observeN(m, "chunk", 100, time.Millisecond, true)
		m.Recompute()

		for i := 0; i < 20; i++ {
			tn.Adjust()
		}
		cfg := tn.Config("chunk")
		assert.Equal(t, MaxBatchSize, cfg.BatchSize)
		assert.Equal(t, MinTimeout, cfg.Timeout)
	})
}

func TestAdvancedMonitor(t *testing.T) {
	const totalBytes = 50 << 20 // medium bucket

	t.Run("no recommendation without enough samples", func(t *testing.T) {
		m := NewAdvancedMonitor()
		for i := 0; i < minSamples-1; i++ {
			m.ObserveChunk(totalBytes, 64*1024, 10*time.Millisecond, true)
		}
		assert.Equal(t, int64(0), m.RecommendedChunkSize(totalBytes))
	})

	t.Run("recommends the highest-throughput trusted size", func(t *testing.T) {
		m := NewAdvancedMonitor()
		// 64 KiB chunks: 64 KiB per 10ms.
		for i := 0; i < 20; i++ {
			m.ObserveChunk(totalBytes, 64*1024, 10*time.Millisecond, true)
		}
		// 256 KiB chunks: 256 KiB per 20ms, twice the throughput.
		for i := 0; i < 20; i++ {
			m.ObserveChunk(totalBytes, 256*1024, 20*time.Millisecond, true)
		}
		assert.Equal(t, int64(256*1024), m.RecommendedChunkSize(totalBytes))
	})

	t.Run("unreliable sizes are not recommended", func(t *testing.T) {
		m := NewAdvancedMonitor()
		// Fast but failing 80% of the time.
		for i := 0; i < 20; i++ {
			m.ObserveChunk(totalBytes, 512*1024, time.Millisecond, i%5 == 0)
		}
		// Slower but dependable.
		for i := 0; i < 20; i++ {
			m.ObserveChunk(totalBytes, 64*1024, 50*time.Millisecond, true)
		}
		assert.Equal(t, int64(64*1024), m.RecommendedChunkSize(totalBytes))
	})

	t.Run("buckets are independent", func(t *testing.T) {
		m := NewAdvancedMonitor()
		for i := 0; i < 20; i++ {
			m.ObserveChunk(512<<10, 32*1024, 10*time.Millisecond, true) // small payload
		}
		assert.Equal(t, int64(32*1024), m.RecommendedChunkSize(512<<10))
		assert.Equal(t, int64(0), m.RecommendedChunkSize(10<<30), "large bucket has no data")
	})

	t.Run("new observations refresh a memoized recommendation", func(t *testing.T) {
		m := NewAdvancedMonitor()
		for i := 0; i < 20; i++ {
			m.ObserveChunk(totalBytes, 64*1024, 50*time.Millisecond, true)
		}
		assert.Equal(t, int64(64*1024), m.RecommendedChunkSize(totalBytes))

		for i := 0; i < 20; i++ {
			m.ObserveChunk(totalBytes, 1<<20, 10*time.Millisecond, true)
		}
		assert.Equal(t, int64(1<<20), m.RecommendedChunkSize(totalBytes))
	})
}
