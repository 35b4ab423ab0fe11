package transfer

import (
	"errors"
	"fmt"
)

// Chunk size bounds for the adaptive loop. The planner and the sizer both
// clamp to this range.
const (
	MinChunkSize     = 32 * 1024
	MaxChunkSize     = 2 * 1024 * 1024
	DefaultChunkSize = 512 * 1024
)

// NetworkQuality is a caller-supplied hint about the link.
type NetworkQuality string

const (
	QualityFast   NetworkQuality = "fast"
	QualityMedium NetworkQuality = "medium"
	QualitySlow   NetworkQuality = "slow"
)

// ErrInvalidPayloadSize is returned when a plan is requested for an empty or
// negative payload.
var ErrInvalidPayloadSize = errors.New("invalid payload size")

// qualityMultiplier scales the requested chunk size by link quality.
func qualityMultiplier(q NetworkQuality) float64 {
	switch q {
	case QualityFast:
		return 2.0
	case QualitySlow:
		return 0.5
	default:
		return 1.0
	}
}

// InitialChunkSize computes the seed chunk size for a plan: the requested
// size (or default) scaled by the quality hint, clamped to
// [MinChunkSize, MaxChunkSize]. A recommendation from the performance
// monitor, when non-zero, overrides the request before scaling.
func InitialChunkSize(requested int64, quality NetworkQuality, recommended int64) int64 {
	size := requested
	if recommended > 0 {
		size = recommended
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	size = int64(float64(size) * qualityMultiplier(quality))
	return ClampChunkSize(size)
}

// ClampChunkSize bounds a chunk size to [MinChunkSize, MaxChunkSize].
func ClampChunkSize(size int64) int64 {
	if size < MinChunkSize {
		return MinChunkSize
	}
	if size > MaxChunkSize {
		return MaxChunkSize
	}
	return size
}

// Plan partitions totalBytes into contiguous, non-overlapping chunks of
// chunkSize covering [0, totalBytes) exactly. The final chunk may be shorter.
func Plan(totalBytes, chunkSize int64) ([]*ChunkDescriptor, error) {
	if totalBytes <= 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidPayloadSize, totalBytes)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("invalid chunk size: %d", chunkSize)
	}

	count := (totalBytes + chunkSize - 1) / chunkSize
	chunks := make([]*ChunkDescriptor, 0, count)
	for offset := int64(0); offset < totalBytes; offset += chunkSize {
		end := offset + chunkSize
		if end > totalBytes {
			end = totalBytes
		}
		chunks = append(chunks, &ChunkDescriptor{
			Index:        len(chunks),
			Start:        offset,
			End:          end,
			Size:         end - offset,
			PlanEstimate: int(count),
			Status:       ChunkPending,
		})
	}
	return chunks, nil
}

// Planner hands out chunk descriptors one at a time so that the adaptive
// chunk size can change mid-session. Chunks already handed out keep the size
// they were planned with; only later chunks pick up the adjusted size.
type Planner struct {
	totalBytes int64
	offset     int64
	nextIndex  int
}

// NewPlanner creates an incremental planner over a payload of totalBytes.
func NewPlanner(totalBytes int64) (*Planner, error) {
	if totalBytes <= 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidPayloadSize, totalBytes)
	}
	return &Planner{totalBytes: totalBytes}, nil
}

// Next returns the next chunk of up to chunkSize bytes, or nil when the
// payload is fully covered. Successive calls produce contiguous,
// non-overlapping ranges whose sizes sum to totalBytes.
func (p *Planner) Next(chunkSize int64) *ChunkDescriptor {
	if p.offset >= p.totalBytes {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	size := ClampChunkSize(chunkSize)
	end := p.offset + size
	if end > p.totalBytes {
		end = p.totalBytes
	}

	// Project the final count as if the rest of the payload were planned at
	// the current size. The last chunk's projection is exact.
	estimate := p.nextIndex + 1
	if remaining := p.totalBytes - end; remaining > 0 {
		estimate += int((remaining + size - 1) / size)
	}

	c := &ChunkDescriptor{
		Index:        p.nextIndex,
		Start:        p.offset,
		End:          end,
		Size:         end - p.offset,
		PlanEstimate: estimate,
		Status:       ChunkPending,
	}
	p.offset = end
	p.nextIndex++
	return c
}

// Remaining returns the bytes not yet covered by a planned chunk.
func (p *Planner) Remaining() int64 {
	return p.totalBytes - p.offset
}
