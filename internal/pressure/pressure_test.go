package pressure

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/framegate/internal/hoststats"
)

// scriptedMemory replays usage percentages against a 100-byte ceiling.
type scriptedMemory struct {
	mu     sync.Mutex
	usages []float64
	err    error
}

func (s *scriptedMemory) ReadMemory() (hoststats.MemorySample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return hoststats.MemorySample{}, s.err
	}
	u := s.usages[0]
	if len(s.usages) > 1 {
		s.usages = s.usages[1:]
	}
	return hoststats.MemorySample{Used: uint64(u), Max: 100}, nil
}

type fixedCPU float64

func (c fixedCPU) ReadCPU() (float64, bool) { return float64(c), true }

func newTestMonitor(reader hoststats.MemoryReader) *Monitor {
	return New(reader, Options{GC: func() {}})
}

func TestHysteresisSequence(t *testing.T) {
	mem := &scriptedMemory{usages: []float64{50, 85, 95, 85, 65, 65}}
	m := newTestMonitor(mem)

	want := []State{Normal, High, Critical, High, High, Normal}
	for i, w := range want {
		assert.Equal(t, w, m.Sample(), "sample %d", i)
	}
}

func TestRecoveryCounterResetsOnHighReading(t *testing.T) {
	m := newTestMonitor(&scriptedMemory{usages: []float64{0}})

	for _, tc := range []struct {
		usage float64
		want  State
	}{
		{85, High},
		{60, High},
		{75, High}, // above recovery, counter resets
		{60, High},
		{60, Normal},
	} {
		assert.Equal(t, tc.want, m.Observe(tc.usage), "usage %v", tc.usage)
	}
}

func TestNormalJumpsStraightToCritical(t *testing.T) {
	m := newTestMonitor(&scriptedMemory{usages: []float64{0}})
	assert.Equal(t, Critical, m.Observe(97))
	assert.Equal(t, High, m.Observe(10), "first low reading only leaves Critical")
}

func TestCriticalRecoversAfterTwoLowReadings(t *testing.T) {
	m := newTestMonitor(&scriptedMemory{usages: []float64{0}})
	m.Observe(95)
	assert.Equal(t, High, m.Observe(50))
	assert.Equal(t, Normal, m.Observe(50))
}

func TestFailedReadKeepsState(t *testing.T) {
	mem := &scriptedMemory{usages: []float64{85}}
	m := newTestMonitor(mem)
	require.Equal(t, High, m.Sample())

	mem.err = errors.New("stats unavailable")
	assert.Equal(t, High, m.Sample())
	assert.Equal(t, uint64(1), m.Stats().FailedSamples)
}

func TestRecommendedQualityMonotonic(t *testing.T) {
	assert.Greater(t, Normal.RecommendedQuality(), High.RecommendedQuality())
	assert.Greater(t, High.RecommendedQuality(), Critical.RecommendedQuality())
	assert.Positive(t, Critical.RecommendedQuality())
	assert.Equal(t, 1.0, Normal.RecommendedQuality())
}

func TestEnteringCriticalReclaims(t *testing.T) {
	var gcCalls int
	var reclaimed []bool
	m := New(&scriptedMemory{usages: []float64{0}}, Options{GC: func() { gcCalls++ }})
	m.AddReclaimer(ReclaimFunc(func(aggressive bool) { reclaimed = append(reclaimed, aggressive) }))

	var transitions []Transition
	m.OnTransition(func(tr Transition) { transitions = append(transitions, tr) })

	m.Observe(85)
	assert.Zero(t, gcCalls, "High does not reclaim")
	m.Observe(92)
	m.Observe(93)

	assert.Equal(t, 1, gcCalls)
	assert.Equal(t, []bool{true}, reclaimed)
	require.Len(t, transitions, 2)
	assert.Equal(t, Transition{From: High, To: Critical, Usage: 92}, transitions[1])
	assert.Equal(t, uint64(2), m.Stats().Transitions)
}

func TestCPUAwareUsage(t *testing.T) {
	mem := &scriptedMemory{usages: []float64{40}}
	m := New(mem, Options{CPU: fixedCPU(95), CPUAware: true, GC: func() {}})
	assert.Equal(t, Critical, m.Sample())

	m = New(mem, Options{CPU: fixedCPU(95), GC: func() {}})
	assert.Equal(t, Normal, m.Sample(), "CPU only reported without CPUAware")
	stats := m.Stats()
	assert.True(t, stats.CPUKnown)
	assert.InDelta(t, 95.0, stats.CPUPercent, 1e-9)
}
