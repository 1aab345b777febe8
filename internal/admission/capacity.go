package admission

import "github.com/five82/framegate/internal/util"

// Working-set assumptions for a single frame in flight.
const (
	// BuffersPerFrame counts the decoded frame, filter output, one filter intermediate
	// and the scaled frame.
	BuffersPerFrame = 4

	// MemoryFraction is the fraction of available memory frames may occupy.
	// 70% leaves headroom for the cache, the pool and the rest of the process.
	MemoryFraction = 0.7
)

// BytesPerFrame estimates the memory held by one in-flight frame of the given size.
func BytesPerFrame(width, height int) uint64 {
	return uint64(width) * uint64(height) * 4 * BuffersPerFrame
}

// CapByMemory returns the safe base capacity given available host memory.
// Returns (capacity, wasCapped).
func CapByMemory(requested int, bytesPerFrame uint64) (int, bool) {
	return capBy(requested, bytesPerFrame, util.AvailableMemoryBytes())
}

func capBy(requested int, bytesPerFrame, available uint64) (int, bool) {
	maxByMemory := requested // default if we can't determine memory
	if available > 0 && bytesPerFrame > 0 {
		usable := uint64(float64(available) * MemoryFraction)
		maxByMemory = max(int(usable/bytesPerFrame), 1)
	}

	if requested > maxByMemory {
		return maxByMemory, true
	}
	return requested, false
}
