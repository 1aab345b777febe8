// Package pressure tracks host memory pressure and derives a degradation state from it.
//
// A Monitor is sampled on a fixed period, independent of request traffic. Entering a
// worse state is immediate; returning to Normal requires consecutive readings at or
// below the recovery threshold so that noisy load does not make the state flap.
package pressure

import (
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/five82/framegate/internal/hoststats"
)

// State is the qualitative pressure level.
type State int32

const (
	Normal State = iota
	High
	Critical
)

func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// RecommendedQuality is the multiplier callers apply to requested quality and strength.
// It never increases as the state worsens.
func (s State) RecommendedQuality() float64 {
	switch s {
	case High:
		return 0.6
	case Critical:
		return 0.3
	default:
		return 1.0
	}
}

// Thresholds are usage percentages. Recovery < High < Critical.
type Thresholds struct {
	High            float64
	Critical        float64
	Recovery        float64
	RecoverySamples int
}

// DefaultThresholds returns high=80, critical=90, recovery=70 with two recovery samples.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 80, Critical: 90, Recovery: 70, RecoverySamples: 2}
}

// Transition describes a state change.
type Transition struct {
	From  State
	To    State
	Usage float64
}

// Reclaimer releases memory it holds when asked. Aggressive reclaims may drop live data.
type Reclaimer interface {
	Reclaim(aggressive bool)
}

// ReclaimFunc adapts a function to Reclaimer.
type ReclaimFunc func(aggressive bool)

// Reclaim calls f.
func (f ReclaimFunc) Reclaim(aggressive bool) { f(aggressive) }

// Options configures a Monitor.
type Options struct {
	Thresholds Thresholds
	// CPU is optional. With CPUAware set, usage is the larger of memory and CPU load.
	CPU      hoststats.CPUReader
	CPUAware bool
	Logger   log.Logger
	// GC is called on entering Critical. Defaults to runtime.GC followed by debug.FreeOSMemory.
	GC func()
}

// Stats is a snapshot of the monitor.
type Stats struct {
	State              string  `json:"state"`
	UsagePercent       float64 `json:"usage_percent"`
	CPUPercent         float64 `json:"cpu_percent"`
	CPUKnown           bool    `json:"cpu_known"`
	RecommendedQuality float64 `json:"recommended_quality"`
	Samples            uint64  `json:"samples"`
	FailedSamples      uint64  `json:"failed_samples"`
	Transitions        uint64  `json:"transitions"`
}

// Monitor derives pressure state from periodic memory readings.
type Monitor struct {
	reader     hoststats.MemoryReader
	cpu        hoststats.CPUReader
	cpuAware   bool
	thresholds Thresholds
	logger     log.Logger
	gc         func()

	state    atomic.Int32
	usage    atomic.Uint64 // float64 bits
	cpuLoad  atomic.Uint64 // float64 bits
	cpuKnown atomic.Bool

	samples     atomic.Uint64
	failures    atomic.Uint64
	transitions atomic.Uint64

	mu          sync.Mutex // serializes readings
	lowReadings int

	hooksMu    sync.RWMutex
	listeners  []func(Transition)
	reclaimers []Reclaimer
}

// New creates a Monitor starting in Normal.
func New(reader hoststats.MemoryReader, opts Options) *Monitor {
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	if opts.Thresholds.RecoverySamples < 1 {
		opts.Thresholds.RecoverySamples = 1
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.GC == nil {
		opts.GC = func() {
			runtime.GC()
			debug.FreeOSMemory()
		}
	}
	return &Monitor{
		reader:     reader,
		cpu:        opts.CPU,
		cpuAware:   opts.CPUAware,
		thresholds: opts.Thresholds,
		logger:     opts.Logger,
		gc:         opts.GC,
	}
}

// State returns the current state.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// RecommendedQuality returns the quality multiplier for the current state.
func (m *Monitor) RecommendedQuality() float64 {
	return m.State().RecommendedQuality()
}

// OnTransition registers fn to run after every state change.
func (m *Monitor) OnTransition(fn func(Transition)) {
	m.hooksMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.hooksMu.Unlock()
}

// AddReclaimer registers r to be asked for memory on entering Critical.
func (m *Monitor) AddReclaimer(r Reclaimer) {
	m.hooksMu.Lock()
	m.reclaimers = append(m.reclaimers, r)
	m.hooksMu.Unlock()
}

// Sample reads host stats and updates the state. A failed read keeps the previous state.
func (m *Monitor) Sample() State {
	s, err := m.reader.ReadMemory()
	if err != nil || s.Max == 0 {
		m.failures.Add(1)
		_ = level.Debug(m.logger).Log("msg", "memory sample failed, keeping state", "state", m.State(), "err", err)
		return m.State()
	}

	usage := s.Percent()
	if m.cpu != nil {
		if load, ok := m.cpu.ReadCPU(); ok {
			m.cpuLoad.Store(math.Float64bits(load))
			m.cpuKnown.Store(true)
			if m.cpuAware {
				usage = max(usage, load)
			}
		} else {
			m.cpuKnown.Store(false)
		}
	}
	return m.Observe(usage)
}

// Observe applies a usage reading (percent) to the state machine.
func (m *Monitor) Observe(usage float64) State {
	m.samples.Add(1)
	m.usage.Store(math.Float64bits(usage))

	m.mu.Lock()
	from := m.State()
	to := m.next(from, usage)
	if to != from {
		m.state.Store(int32(to))
	}
	m.mu.Unlock()

	if to != from {
		m.transitions.Add(1)
		m.transition(Transition{From: from, To: to, Usage: usage})
	}
	return to
}

// next must be called with mu held.
func (m *Monitor) next(current State, usage float64) State {
	th := m.thresholds

	if usage > th.Recovery {
		m.lowReadings = 0
	} else {
		m.lowReadings++
	}

	switch {
	case usage >= th.Critical:
		return Critical
	case current == Normal:
		if usage >= th.High {
			return High
		}
		return Normal
	case m.lowReadings >= th.RecoverySamples:
		m.lowReadings = 0
		return Normal
	default:
		// Critical de-escalates as soon as usage drops below the critical threshold.
		return High
	}
}

func (m *Monitor) transition(t Transition) {
	logger := log.With(m.logger, "from", t.From, "to", t.To, "usage_percent", roundPercent(t.Usage))
	if t.To > t.From {
		_ = level.Warn(logger).Log("msg", "memory pressure increased")
	} else {
		_ = level.Info(logger).Log("msg", "memory pressure decreased")
	}

	m.hooksMu.RLock()
	listeners := append([]func(Transition){}, m.listeners...)
	reclaimers := append([]Reclaimer{}, m.reclaimers...)
	m.hooksMu.RUnlock()

	if t.To == Critical {
		m.gc()
		for _, r := range reclaimers {
			r.Reclaim(true)
		}
	}

	for _, fn := range listeners {
		fn(t)
	}
}

// Stats returns a snapshot of the monitor.
func (m *Monitor) Stats() Stats {
	state := m.State()
	return Stats{
		State:              state.String(),
		UsagePercent:       roundPercent(math.Float64frombits(m.usage.Load())),
		CPUPercent:         roundPercent(math.Float64frombits(m.cpuLoad.Load())),
		CPUKnown:           m.cpuKnown.Load(),
		RecommendedQuality: state.RecommendedQuality(),
		Samples:            m.samples.Load(),
		FailedSamples:      m.failures.Load(),
		Transitions:        m.transitions.Load(),
	}
}

func roundPercent(v float64) float64 {
	return math.Round(v*10) / 10
}
