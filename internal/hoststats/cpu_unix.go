//go:build unix

package hoststats

import (
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ProcessCPU derives process CPU load from getrusage deltas between calls.
// The first call has no baseline and reports unknown.
type ProcessCPU struct {
	mu       sync.Mutex
	lastCPU  time.Duration
	lastWall time.Time
	now      func() time.Time
}

// NewProcessCPU returns a CPU reader for the current process.
func NewProcessCPU() *ProcessCPU {
	return &ProcessCPU{now: time.Now}
}

// ReadCPU implements CPUReader.
func (p *ProcessCPU) ReadCPU() (float64, bool) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, false
	}
	cpu := time.Duration(ru.Utime.Nano() + ru.Stime.Nano())
	wall := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	prevCPU, prevWall := p.lastCPU, p.lastWall
	p.lastCPU, p.lastWall = cpu, wall
	if prevWall.IsZero() {
		return 0, false
	}

	elapsed := wall.Sub(prevWall)
	if elapsed <= 0 {
		return 0, false
	}
	load := float64(cpu-prevCPU) / float64(elapsed) / float64(runtime.NumCPU()) * 100
	return min(max(load, 0), 100), true
}
