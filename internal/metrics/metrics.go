// Package metrics defines the Prometheus metrics exported by the pipeline.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "framegate"

// Rejection reasons.
const (
	ReasonCritical = "critical"
	ReasonTimeout  = "timeout"
	ReasonBatch    = "batch_limit"
)

// Metrics holds all Prometheus metrics for a pipeline.
type Metrics struct {
	FramesProcessed   prometheus.Counter
	CacheHits         prometheus.Counter
	Fallbacks         prometheus.Counter
	InvalidFrames     prometheus.Counter
	Rejected          *prometheus.CounterVec
	DeltaFrames       *prometheus.CounterVec
	PressureState     prometheus.Gauge
	PressureUsage     prometheus.Gauge
	PressureChanges   *prometheus.CounterVec
	InFlight          prometheus.Gauge
	Capacity          prometheus.Gauge
	ProcessingSeconds prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the provided registry. Pipelines
// sharing a registry share the already registered collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		FramesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "Frames that completed processing, including cache hits and fallbacks",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Frames served from the frame cache",
		}),
		Fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Frames returned unmodified after a processing failure",
		}),
		InvalidFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_frames_total",
			Help:      "Frames rejected as undecodable",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_total",
			Help:      "Requests refused by admission control",
		}, []string{"reason"}),
		DeltaFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delta_frames_total",
			Help:      "Delta-encoded frames by result kind",
		}, []string{"kind"}),
		PressureState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pressure_state",
			Help:      "Current pressure state (0 normal, 1 high, 2 critical)",
		}),
		PressureUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pressure_usage_percent",
			Help:      "Last sampled memory usage percentage",
		}),
		PressureChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pressure_transitions_total",
			Help:      "Pressure state transitions by target state",
		}, []string{"to"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "admission_in_flight",
			Help:      "Permits currently held",
		}),
		Capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "admission_capacity",
			Help:      "Current admission capacity",
		}),
		ProcessingSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_duration_seconds",
			Help:      "Time spent processing a frame, cache hits included",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
	}

	var err error
	m.FramesProcessed, err = register(reg, m.FramesProcessed, err)
	m.CacheHits, err = register(reg, m.CacheHits, err)
	m.Fallbacks, err = register(reg, m.Fallbacks, err)
	m.InvalidFrames, err = register(reg, m.InvalidFrames, err)
	m.Rejected, err = register(reg, m.Rejected, err)
	m.DeltaFrames, err = register(reg, m.DeltaFrames, err)
	m.PressureState, err = register(reg, m.PressureState, err)
	m.PressureUsage, err = register(reg, m.PressureUsage, err)
	m.PressureChanges, err = register(reg, m.PressureChanges, err)
	m.InFlight, err = register(reg, m.InFlight, err)
	m.Capacity, err = register(reg, m.Capacity, err)
	m.ProcessingSeconds, err = register(reg, m.ProcessingSeconds, err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, returning the existing collector when an identical one is
// already registered. It is a no-op once err is set.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, err error) (T, error) {
	if err != nil {
		return c, err
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metrics: %w", err)
	}
	return c, nil
}
