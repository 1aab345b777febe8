package reporter

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder counts the events it receives.
type recorder struct {
	NullReporter
	warnings []string
	pressure []PressureChange
}

func (r *recorder) Warning(message string)          { r.warnings = append(r.warnings, message) }
func (r *recorder) PressureChanged(p PressureChange) { r.pressure = append(r.pressure, p) }

func TestCompositeFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	c := NewCompositeReporter(a, nil, b)

	c.Warning("low disk")
	c.PressureChanged(PressureChange{From: "normal", To: "high"})
	c.Verbose("ignored by recorders")

	for _, r := range []*recorder{a, b} {
		assert.Equal(t, []string{"low disk"}, r.warnings)
		require.Len(t, r.pressure, 1)
		assert.Equal(t, "high", r.pressure[0].To)
	}
}

func fixedLogReporter(buf *bytes.Buffer) *LogReporter {
	r := NewLogReporter(buf)
	r.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return r
}

func TestLogReporterFormat(t *testing.T) {
	var buf bytes.Buffer
	r := fixedLogReporter(&buf)

	r.PressureChanged(PressureChange{From: "normal", To: "critical", UsagePercent: 93.4, Capacity: 1})
	r.Error(ReporterError{Title: "Read Error", Message: "boom", Suggestion: "check permissions"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "2026-01-02 03:04:05 [WARN] Pressure normal -> critical at 93.4% usage (capacity 1)", lines[0])
	assert.Equal(t, "2026-01-02 03:04:05 [ERROR] Read Error: boom", lines[1])
	assert.Contains(t, lines[2], "Suggestion: check permissions")
}

func TestLogReporterProgressBuckets(t *testing.T) {
	var buf bytes.Buffer
	r := fixedLogReporter(&buf)
	r.BatchStarted(BatchStartInfo{BatchID: "b1", TotalFrames: 100})
	buf.Reset()

	for i := 1; i <= 100; i++ {
		r.FrameProgress(FrameProgressContext{CurrentFrame: i, TotalFrames: 100})
	}
	// One line per 10% bucket, including the 0% bucket at frame 1.
	assert.Equal(t, 11, strings.Count(buf.String(), "Progress:"))
}

func TestLogReporterBatchComplete(t *testing.T) {
	var buf bytes.Buffer
	r := fixedLogReporter(&buf)
	r.BatchComplete(BatchSummary{
		BatchID:           "b1",
		SuccessfulCount:   2,
		TotalFrames:       3,
		CacheHits:         1,
		TotalOriginalSize: 2048,
		TotalOutputSize:   1024,
	})
	out := buf.String()
	assert.Contains(t, out, "2 of 3 succeeded")
	assert.Contains(t, out, "(50.0% reduction)")
}

func TestTerminalReporter(t *testing.T) {
	color.NoColor = true
	var out, errOut bytes.Buffer
	r := newTerminalReporter(&out, &errOut, false)

	r.StatsSnapshot(StatsSummary{PressureState: "high", UsagePercent: 82, Capacity: 2, CacheHitRate: 0.5})
	r.Verbose("hidden")
	r.DeltaFrame(DeltaOutcome{InputFile: "f1.png", Kind: "no_change"})
	r.Error(ReporterError{Title: "Bad Frame", Message: "cannot decode"})

	assert.Contains(t, out.String(), "high (82.0% usage)")
	assert.Contains(t, out.String(), "50.0% hit rate")
	assert.Contains(t, out.String(), "no_change")
	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, errOut.String(), "ERROR Bad Frame")
}

func TestTerminalReporterProgress(t *testing.T) {
	color.NoColor = true
	var out, errOut bytes.Buffer
	r := newTerminalReporter(&out, &errOut, true)

	r.BatchStarted(BatchStartInfo{TotalFrames: 2, FileList: []string{"a.png", "b.png"}, OutputDir: "/out"})
	r.FrameProgress(FrameProgressContext{CurrentFrame: 1, TotalFrames: 2})
	r.FrameProgress(FrameProgressContext{CurrentFrame: 2, TotalFrames: 2})
	r.BatchComplete(BatchSummary{SuccessfulCount: 2, TotalFrames: 2, TotalDuration: 250 * time.Millisecond})

	assert.Contains(t, out.String(), "1. a.png")
	assert.Contains(t, out.String(), "Time: 250ms")
	assert.Nil(t, r.progress)
}
