// Package hoststats reads process memory and CPU usage for the pressure monitor.
package hoststats

import (
	"errors"
	"math"
	"runtime"
	"runtime/debug"

	"github.com/five82/framegate/internal/util"
)

// ErrUnknownLimit is returned when no memory ceiling can be determined.
var ErrUnknownLimit = errors.New("memory limit unknown")

// MemorySample is a point-in-time memory reading.
type MemorySample struct {
	Used uint64
	Max  uint64
}

// Percent returns Used as a percentage of Max.
func (s MemorySample) Percent() float64 {
	if s.Max == 0 {
		return 0
	}
	return float64(s.Used) / float64(s.Max) * 100
}

// MemoryReader samples used and maximum memory.
type MemoryReader interface {
	ReadMemory() (MemorySample, error)
}

// CPUReader reports process CPU load as a percentage of all cores.
// ok is false when the load is unknown.
type CPUReader interface {
	ReadCPU() (percent float64, ok bool)
}

// MemoryFunc adapts a function to MemoryReader.
type MemoryFunc func() (MemorySample, error)

// ReadMemory calls f.
func (f MemoryFunc) ReadMemory() (MemorySample, error) { return f() }

// RuntimeMemory reads the Go runtime's memory held from the OS.
// The ceiling is the soft memory limit (GOMEMLIMIT) when set, otherwise total physical memory.
type RuntimeMemory struct {
	// Limit overrides the detected ceiling when non-zero.
	Limit uint64
}

// ReadMemory implements MemoryReader.
func (r RuntimeMemory) ReadMemory() (MemorySample, error) {
	limit := r.Limit
	if limit == 0 {
		limit = detectLimit()
	}
	if limit == 0 {
		return MemorySample{}, ErrUnknownLimit
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemorySample{Used: m.Sys - m.HeapReleased, Max: limit}, nil
}

func detectLimit() uint64 {
	// A negative input only queries the current limit.
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit != math.MaxInt64 {
		return uint64(limit)
	}
	return util.TotalMemoryBytes()
}
