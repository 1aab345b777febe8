// Package processing wires the pressure monitor, admission controller, buffer pool,
// frame cache, denoise filters and delta codec into the frame pipeline.
package processing

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/five82/framegate/internal/admission"
	"github.com/five82/framegate/internal/bufpool"
	"github.com/five82/framegate/internal/config"
	"github.com/five82/framegate/internal/delta"
	"github.com/five82/framegate/internal/denoise"
	"github.com/five82/framegate/internal/framecache"
	"github.com/five82/framegate/internal/hoststats"
	"github.com/five82/framegate/internal/metrics"
	"github.com/five82/framegate/internal/pressure"
	"github.com/five82/framegate/internal/reporter"
	"github.com/five82/framegate/internal/scaling"
	"github.com/five82/framegate/internal/scheduler"
)

var (
	// ErrInvalidInput marks frames or arguments the pipeline cannot accept.
	ErrInvalidInput = errors.New("invalid input")

	// ErrOverloaded marks work refused by admission control. Callers should back off.
	ErrOverloaded = errors.New("pipeline overloaded")
)

// InvalidInputError carries the rejected input back to the caller.
type InvalidInputError struct {
	Input string
	Err   error
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %v", e.Err)
}

// Unwrap exposes both ErrInvalidInput and the underlying cause.
func (e *InvalidInputError) Unwrap() []error {
	return []error{ErrInvalidInput, e.Err}
}

// Deps are the collaborators of a Pipeline. All fields are optional.
type Deps struct {
	Memory     hoststats.MemoryReader
	CPU        hoststats.CPUReader
	Logger     log.Logger
	Registerer prometheus.Registerer
	Reporter   reporter.Reporter
	// GC overrides the collection triggered on entering Critical pressure.
	GC func()
}

// ProcessorStats counts frame outcomes.
type ProcessorStats struct {
	Processed uint64 `json:"processed"`
	CacheHits uint64 `json:"cache_hits"`
	Failed    uint64 `json:"failed"`
	Rejected  uint64 `json:"rejected"`
	Invalid   uint64 `json:"invalid"`
}

// Stats is a snapshot of every pipeline component.
type Stats struct {
	Cache     *framecache.Stats `json:"cache,omitempty"`
	Pool      bufpool.Stats     `json:"pool"`
	Admission admission.Stats   `json:"admission"`
	Pressure  pressure.Stats    `json:"pressure"`
	Delta     delta.Stats       `json:"delta"`
	Processor ProcessorStats    `json:"processor"`
	BatchMax  int               `json:"batch_limit"`
}

// Pipeline is the resource-adaptive frame processor. It is safe for concurrent use.
type Pipeline struct {
	cfg     *config.Config
	logger  log.Logger
	rep     reporter.Reporter
	metrics *metrics.Metrics

	monitor *pressure.Monitor
	gate    *admission.Controller
	pool    *bufpool.Pool
	cache   *framecache.Cache // nil when caching is disabled
	filters *denoise.FilterSet
	codec   *delta.Codec
	sched   *scheduler.Scheduler
	bounds  scaling.Bounds
	flight  singleflight.Group

	processed atomic.Uint64
	cacheHits atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
	invalid   atomic.Uint64
}

// New builds a pipeline from cfg. Background maintenance does not run until Start.
func New(cfg *config.Config, deps Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if deps.Logger == nil {
		deps.Logger = log.NewNopLogger()
	}
	if deps.Memory == nil {
		deps.Memory = hoststats.RuntimeMemory{}
	}
	if deps.CPU == nil {
		deps.CPU = hoststats.NewProcessCPU()
	}
	if deps.Registerer == nil {
		deps.Registerer = prometheus.NewRegistry()
	}
	if deps.Reporter == nil {
		deps.Reporter = reporter.NullReporter{}
	}

	m, err := metrics.NewMetrics(deps.Registerer)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:     cfg,
		logger:  deps.Logger,
		rep:     deps.Reporter,
		metrics: m,
		bounds: scaling.Bounds{
			MinWidth: cfg.MinWidth, MinHeight: cfg.MinHeight,
			MaxWidth: cfg.MaxWidth, MaxHeight: cfg.MaxHeight,
		},
	}

	p.monitor = pressure.New(deps.Memory, pressure.Options{
		Thresholds: pressure.Thresholds{
			High:            cfg.HighThreshold,
			Critical:        cfg.CriticalThreshold,
			Recovery:        cfg.RecoveryThreshold,
			RecoverySamples: cfg.RecoverySamples,
		},
		CPU:      deps.CPU,
		CPUAware: cfg.CPUAware,
		Logger:   log.With(deps.Logger, "component", "pressure"),
		GC:       deps.GC,
	})

	p.gate = admission.New(cfg.MaxConcurrent, p.monitor, admission.Options{
		RejectOnCritical: cfg.RejectOnCritical,
		Logger:           log.With(deps.Logger, "component", "admission"),
	})

	p.pool = bufpool.New(bufpool.Options{
		Disabled:     !cfg.PoolEnabled,
		MaxPerBucket: cfg.PoolMaxPerBucket,
		MaxAge:       cfg.PoolMaxAge,
	})
	p.filters = denoise.NewFilterSet(p.pool)

	if cfg.CacheEnabled {
		cache, err := framecache.New(framecache.Options{
			MaxSize:     cfg.CacheMaxSize,
			MaxAge:      cfg.CacheMaxAge,
			LowResource: cfg.LowResourceMode,
		})
		if err != nil {
			return nil, err
		}
		p.cache = cache
		p.monitor.AddReclaimer(cache)
	}

	p.codec = delta.New(delta.Options{
		ChangeThreshold:  cfg.DeltaChangeThreshold,
		BlockSize:        cfg.DeltaBlockSize,
		KeyframeInterval: cfg.DeltaKeyframeInterval,
		Quality:          cfg.EncodeQuality,
		IdleTimeout:      cfg.DeltaIdleTimeout,
		Compact:          cfg.CompactReferences,
		Logger:           log.With(deps.Logger, "component", "delta"),
	})

	p.monitor.AddReclaimer(p.pool)
	p.monitor.AddReclaimer(p.codec)
	p.monitor.OnTransition(p.onTransition)

	p.metrics.Capacity.Set(float64(p.gate.Capacity()))

	if err := p.schedule(); err != nil {
		return nil, err
	}
	return p, nil
}

type maintenanceTask struct {
	name     string
	interval time.Duration
	fn       func(context.Context)
}

func (p *Pipeline) schedule() error {
	p.sched = scheduler.New(log.With(p.logger, "component", "scheduler"))
	tasks := []maintenanceTask{
		{"pressure-sample", p.cfg.SampleInterval, func(context.Context) { p.samplePressure() }},
		{"pool-prune", p.cfg.MaintenanceInterval, func(context.Context) {
			p.pool.Prune(p.monitor.State() != pressure.Normal)
		}},
		{"delta-evict", p.cfg.MaintenanceInterval, func(context.Context) {
			p.codec.EvictIdle(p.cfg.DeltaIdleTimeout)
		}},
	}
	if p.cache != nil {
		tasks = append(tasks, maintenanceTask{"cache-sweep", p.cfg.MaintenanceInterval, func(context.Context) { p.cache.Sweep() }})
	}
	for _, t := range tasks {
		if err := p.sched.Add(t.name, t.interval, t.fn); err != nil {
			return fmt.Errorf("schedule %s: %w", t.name, err)
		}
	}
	return nil
}

// Start takes an initial pressure sample and launches background maintenance.
func (p *Pipeline) Start(ctx context.Context) {
	p.samplePressure()
	p.sched.Start(ctx)
	_ = level.Info(p.logger).Log("msg", "pipeline started",
		"max_concurrent", p.cfg.MaxConcurrent,
		"cache", p.cfg.CacheEnabled,
		"low_resource", p.cfg.LowResourceMode)
}

// Stop halts background maintenance. In-flight frames are not affected.
func (p *Pipeline) Stop() {
	p.sched.Stop()
}

// SamplePressure takes one pressure reading outside the regular schedule.
func (p *Pipeline) SamplePressure() pressure.State {
	return p.samplePressure()
}

func (p *Pipeline) samplePressure() pressure.State {
	state := p.monitor.Sample()
	p.metrics.PressureUsage.Set(p.monitor.Stats().UsagePercent)
	return state
}

func (p *Pipeline) onTransition(t pressure.Transition) {
	p.gate.Refresh()
	capacity := p.gate.Capacity()

	p.metrics.PressureState.Set(float64(t.To))
	p.metrics.PressureChanges.WithLabelValues(t.To.String()).Inc()
	p.metrics.Capacity.Set(float64(capacity))

	p.rep.PressureChanged(reporter.PressureChange{
		From:         t.From.String(),
		To:           t.To.String(),
		UsagePercent: t.Usage,
		Capacity:     capacity,
	})
}

// PressureState returns the current pressure state.
func (p *Pipeline) PressureState() pressure.State {
	return p.monitor.State()
}

// Observe feeds a usage percentage to the pressure monitor directly. It is meant for
// hosts that measure memory themselves.
func (p *Pipeline) Observe(usage float64) pressure.State {
	return p.monitor.Observe(usage)
}

// BatchLimit is the largest batch accepted under the current pressure.
func (p *Pipeline) BatchLimit() int {
	return admission.CapacityFor(p.cfg.MaxBatchSize, p.monitor.State())
}

// Stats returns a snapshot of all components.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Pool:      p.pool.Stats(),
		Admission: p.gate.Stats(),
		Pressure:  p.monitor.Stats(),
		Delta:     p.codec.Stats(),
		Processor: ProcessorStats{
			Processed: p.processed.Load(),
			CacheHits: p.cacheHits.Load(),
			Failed:    p.failed.Load(),
			Rejected:  p.rejected.Load(),
			Invalid:   p.invalid.Load(),
		},
		BatchMax: p.BatchLimit(),
	}
	if p.cache != nil {
		cs := p.cache.Stats()
		s.Cache = &cs
	}
	return s
}

// Config returns the configuration the pipeline was built with.
func (p *Pipeline) Config() config.Config {
	return *p.cfg
}
