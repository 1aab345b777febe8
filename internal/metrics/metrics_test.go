package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.FramesProcessed.Add(3)
	m.Rejected.WithLabelValues(ReasonCritical).Inc()
	m.Rejected.WithLabelValues(ReasonTimeout).Add(2)

	require.Equal(t, float64(3), testutil.ToFloat64(m.FramesProcessed))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Rejected.WithLabelValues(ReasonCritical)))
	require.Equal(t, float64(2), testutil.ToFloat64(m.Rejected.WithLabelValues(ReasonTimeout)))
}

func TestGauges(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	m.PressureState.Set(2)
	m.Capacity.Set(1)

	expected := `
# HELP framegate_pressure_state Current pressure state (0 normal, 1 high, 2 critical)
# TYPE framegate_pressure_state gauge
framegate_pressure_state 2
`
	require.NoError(t, testutil.CollectAndCompare(m.PressureState, strings.NewReader(expected)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Capacity))
}

func TestRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	m.DeltaFrames.WithLabelValues("keyframe").Inc()
	m.ProcessingSeconds.Observe(0.02)

	count, err := testutil.GatherAndCount(reg, "framegate_delta_frames_total", "framegate_processing_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 2, count)

}

func TestSharedRegistryReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewMetrics(reg)
	require.NoError(t, err)
	second, err := NewMetrics(reg)
	require.NoError(t, err)

	first.FramesProcessed.Inc()
	second.FramesProcessed.Inc()
	second.Rejected.WithLabelValues(ReasonBatch).Inc()

	require.Equal(t, float64(2), testutil.ToFloat64(first.FramesProcessed))
	require.Equal(t, float64(1), testutil.ToFloat64(first.Rejected.WithLabelValues(ReasonBatch)))
}

func TestConflictingRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "frames_processed_total",
		Help:      "a different help string",
	}))

	_, err := NewMetrics(reg)
	require.Error(t, err)
}
