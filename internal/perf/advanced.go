package perf

import (
	"sync"
	"time"
)

// Payload size buckets for chunk-size recommendations.
const (
	smallPayloadLimit  = 1 << 20   // 1 MiB
	mediumPayloadLimit = 100 << 20 // 100 MiB
)

type payloadBucket int

const (
	bucketSmall payloadBucket = iota
	bucketMedium
	bucketLarge
)

func bucketFor(totalBytes int64) payloadBucket {
	switch {
	case totalBytes < smallPayloadLimit:
		return bucketSmall
	case totalBytes <= mediumPayloadLimit:
		return bucketMedium
	default:
		return bucketLarge
	}
}

// AdvancedMonitor layers chunk-size recommendations over a Monitor: observed
// chunk outcomes are grouped by overall payload size, and the best-seen
// chunk size per bucket seeds the next transfer's plan.
type AdvancedMonitor struct {
	*Monitor

	mu      sync.Mutex
	byBuck  map[payloadBucket]*bucketStats
	seed    map[payloadBucket]int64
	decided map[payloadBucket]bool
}

type bucketStats struct {
	bySize map[int64]*sizeOutcome
}

type sizeOutcome struct {
	count   int
	success int
	durSum  time.Duration
	byteSum int64
}

// NewAdvancedMonitor creates an AdvancedMonitor over a fresh Monitor.
func NewAdvancedMonitor() *AdvancedMonitor {
	return &AdvancedMonitor{
		Monitor: NewMonitor(),
		byBuck:  make(map[payloadBucket]*bucketStats),
		seed:    make(map[payloadBucket]int64),
		decided: make(map[payloadBucket]bool),
	}
}

// ObserveChunk records one chunk outcome for the payload size bucket it
// belongs to, alongside the underlying monitor sample.
func (m *AdvancedMonitor) ObserveChunk(totalBytes, chunkSize int64, duration time.Duration, success bool) {
	m.Observe(Sample{
		Key:      "chunk",
		Duration: duration,
		Size:     chunkSize,
		Success:  success,
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	b := bucketFor(totalBytes)
	bs, ok := m.byBuck[b]
	if !ok {
		bs = &bucketStats{bySize: make(map[int64]*sizeOutcome)}
		m.byBuck[b] = bs
	}
	so, ok := bs.bySize[chunkSize]
	if !ok {
		so = &sizeOutcome{}
		bs.bySize[chunkSize] = so
	}
	so.count++
	if success {
		so.success++
	}
	so.durSum += duration
	so.byteSum += chunkSize
	m.decided[b] = false
}

// RecommendedChunkSize returns the best observed chunk size for payloads of
// this size, or 0 when there is no basis for a recommendation yet.
func (m *AdvancedMonitor) RecommendedChunkSize(totalBytes int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := bucketFor(totalBytes)
	if m.decided[b] {
		return m.seed[b]
	}

	bs, ok := m.byBuck[b]
	if !ok {
		return 0
	}

	// Best size is the one with the highest observed throughput among
	// sizes with a decent success rate and enough samples to trust.
	var (
		best       int64
		bestTputBs float64
	)
	for size, so := range bs.bySize {
		if so.count < minSamples {
			continue
		}
		if float64(so.success)/float64(so.count) < 0.9 {
			continue
		}
		if so.durSum <= 0 {
			continue
		}
		tput := float64(so.byteSum) / so.durSum.Seconds()
		if tput > bestTputBs {
			bestTputBs = tput
			best = size
		}
	}

	m.seed[b] = best
	m.decided[b] = true
	return best
}
