// Package admission bounds the number of frames processed concurrently.
//
// The Controller is a counting semaphore whose capacity follows the pressure state:
// the base capacity under Normal, half of it under High and a quarter under Critical,
// never less than one. Capacity is recomputed at every decision, so a change applies to
// the next acquisition while permits already granted are left alone.
package admission

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/five82/framegate/internal/pressure"
)

var (
	// ErrRejected is returned when Critical pressure sheds load without waiting.
	ErrRejected = errors.New("admission rejected under critical pressure")

	// ErrTimeout is returned when no permit frees up before the timeout.
	ErrTimeout = errors.New("admission timed out")
)

// StateSource supplies the current pressure state.
type StateSource interface {
	State() pressure.State
}

// Options configures a Controller.
type Options struct {
	// RejectOnCritical fails Acquire immediately under Critical pressure.
	RejectOnCritical bool
	Logger           log.Logger
}

// Stats is a snapshot of the controller.
type Stats struct {
	Capacity int    `json:"capacity"`
	Base     int    `json:"base_capacity"`
	InFlight int    `json:"in_flight"`
	Granted  uint64 `json:"granted"`
	Released uint64 `json:"released"`
	Rejected uint64 `json:"rejected"`
	TimedOut uint64 `json:"timed_out"`
}

// Controller is a pressure-sized counting semaphore.
type Controller struct {
	source           StateSource
	rejectOnCritical bool
	logger           log.Logger

	mu       sync.Mutex
	base     int
	inFlight int
	wake     chan struct{} // closed and replaced whenever a slot may have opened

	granted  uint64
	released uint64
	rejected uint64
	timedOut uint64
}

// New creates a controller with the given base capacity.
func New(base int, source StateSource, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	return &Controller{
		source:           source,
		rejectOnCritical: opts.RejectOnCritical,
		logger:           opts.Logger,
		base:             max(base, 1),
		wake:             make(chan struct{}),
	}
}

// CapacityFor returns the capacity for base under state. Always at least 1.
func CapacityFor(base int, state pressure.State) int {
	switch state {
	case pressure.High:
		base /= 2
	case pressure.Critical:
		base /= 4
	}
	return max(base, 1)
}

// Permit is a lease on one unit of capacity.
type Permit struct {
	c    *Controller
	once sync.Once
}

// Release returns the permit. Calls after the first are no-ops.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(p.c.release)
}

// Acquire waits up to timeout for a permit. Under Critical pressure with fast-reject enabled
// it returns ErrRejected without waiting. A timeout returns ErrTimeout and a cancelled ctx
// returns ctx.Err().
func (c *Controller) Acquire(ctx context.Context, timeout time.Duration) (*Permit, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		state := c.state()

		c.mu.Lock()
		if state == pressure.Critical && c.rejectOnCritical {
			c.rejected++
			c.mu.Unlock()
			_ = level.Debug(c.logger).Log("msg", "admission rejected", "reason", "critical pressure")
			return nil, ErrRejected
		}
		if c.inFlight < CapacityFor(c.base, state) {
			c.inFlight++
			c.granted++
			c.mu.Unlock()
			return &Permit{c: c}, nil
		}
		if expired == nil {
			c.timedOut++
			c.mu.Unlock()
			return nil, ErrTimeout
		}
		wake := c.wake
		c.mu.Unlock()

		select {
		case <-wake:
		case <-expired:
			c.mu.Lock()
			c.timedOut++
			c.mu.Unlock()
			_ = level.Debug(c.logger).Log("msg", "admission timed out", "timeout", timeout)
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Controller) release() {
	c.mu.Lock()
	c.inFlight--
	c.released++
	c.broadcastLocked()
	c.mu.Unlock()
}

// Refresh wakes waiters so they re-evaluate capacity. Call it after a pressure change.
func (c *Controller) Refresh() {
	c.mu.Lock()
	c.broadcastLocked()
	c.mu.Unlock()
}

// SetBase changes the base capacity. Permits already granted are kept.
func (c *Controller) SetBase(base int) {
	c.mu.Lock()
	c.base = max(base, 1)
	c.broadcastLocked()
	c.mu.Unlock()
}

// Capacity returns the capacity that applies to the next decision.
func (c *Controller) Capacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CapacityFor(c.base, c.state())
}

// Stats returns a snapshot of the controller.
func (c *Controller) Stats() Stats {
	state := c.state()
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Capacity: CapacityFor(c.base, state),
		Base:     c.base,
		InFlight: c.inFlight,
		Granted:  c.granted,
		Released: c.released,
		Rejected: c.rejected,
		TimedOut: c.timedOut,
	}
}

func (c *Controller) broadcastLocked() {
	close(c.wake)
	c.wake = make(chan struct{})
}

func (c *Controller) state() pressure.State {
	if c.source == nil {
		return pressure.Normal
	}
	return c.source.State()
}
