package reporter

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/five82/framegate/internal/util"
)

// LogReporter writes events to a log file as plain lines.
type LogReporter struct {
	w                  io.Writer
	mu                 sync.Mutex
	lastProgressBucket int // Track batch progress in 10% buckets
	now                func() time.Time
}

// NewLogReporter creates a new log reporter that writes to the given writer.
func NewLogReporter(w io.Writer) *LogReporter {
	return &LogReporter{
		w:                  w,
		lastProgressBucket: -1,
		now:                time.Now,
	}
}

func (r *LogReporter) log(level, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	timestamp := r.now().Format("2006-01-02 15:04:05")
	_, _ = fmt.Fprintf(r.w, "%s [%s] %s\n", timestamp, level, fmt.Sprintf(format, args...))
}

func (r *LogReporter) Hardware(summary HardwareSummary) {
	r.log("INFO", "=== HARDWARE ===")
	r.log("INFO", "Hostname: %s", summary.Hostname)
	r.log("INFO", "Cores: %d, memory: %s", summary.LogicalCores, util.FormatBytesReadable(summary.TotalMemory))
}

func (r *LogReporter) Initialization(summary InitializationSummary) {
	r.log("INFO", "=== %s ===", strings.ToUpper(summary.Mode))
	r.log("INFO", "Input: %s (%d frames)", summary.Input, summary.Frames)
	r.log("INFO", "Output: %s", summary.OutputDir)
	r.log("INFO", "Max concurrent: %d", summary.MaxConcurrent)
	if summary.CacheSize > 0 {
		r.log("INFO", "Cache: %d entries", summary.CacheSize)
	} else {
		r.log("INFO", "Cache: disabled")
	}
	if summary.LowResource {
		r.log("INFO", "Low-resource mode: on")
	}
}

func (r *LogReporter) StageProgress(update StageProgress) {
	r.log("INFO", "[%s] %s", strings.ToUpper(update.Stage), update.Message)
}

func (r *LogReporter) PressureChanged(change PressureChange) {
	level := "INFO"
	if change.To != "normal" {
		level = "WARN"
	}
	r.log(level, "Pressure %s -> %s at %.1f%% usage (capacity %d)",
		change.From, change.To, change.UsagePercent, change.Capacity)
}

func (r *LogReporter) BatchStarted(info BatchStartInfo) {
	r.mu.Lock()
	r.lastProgressBucket = -1
	r.mu.Unlock()

	r.log("INFO", "=== BATCH STARTED === (id %s)", info.BatchID)
	r.log("INFO", "Processing %d frames -> %s", info.TotalFrames, info.OutputDir)
	for i, name := range info.FileList {
		r.log("DEBUG", "  %d. %s", i+1, name)
	}
}

func (r *LogReporter) FrameProgress(context FrameProgressContext) {
	if context.TotalFrames == 0 {
		return
	}
	// Log progress at 10% intervals
	bucket := context.CurrentFrame * 10 / context.TotalFrames
	r.mu.Lock()
	if bucket > r.lastProgressBucket {
		r.lastProgressBucket = bucket
		r.mu.Unlock()
		r.log("INFO", "Progress: %d of %d frames", context.CurrentFrame, context.TotalFrames)
	} else {
		r.mu.Unlock()
	}
}

func (r *LogReporter) FrameComplete(outcome FrameOutcome) {
	var tag string
	switch {
	case outcome.Fallback:
		tag = " [fallback]"
	case outcome.CacheHit:
		tag = " [cache]"
	}
	r.log("DEBUG", "%s -> %s: %s -> %s in %s%s (%s)",
		outcome.InputFile, outcome.OutputFile,
		util.FormatBytesReadable(outcome.OriginalSize),
		util.FormatBytesReadable(outcome.OutputSize),
		outcome.Duration.Round(time.Millisecond), tag, outcome.Adjustments)
}

func (r *LogReporter) DeltaFrame(outcome DeltaOutcome) {
	r.log("DEBUG", "%s: %s (%d%% changed, %s)",
		outcome.InputFile, outcome.Kind, outcome.ChangedPercent,
		util.FormatBytesReadable(outcome.PayloadSize))
}

func (r *LogReporter) BatchComplete(summary BatchSummary) {
	reduction := util.CalculateSizeReduction(summary.TotalOriginalSize, summary.TotalOutputSize)

	r.log("INFO", "=== BATCH COMPLETE === (id %s)", summary.BatchID)
	r.log("INFO", "%d of %d succeeded", summary.SuccessfulCount, summary.TotalFrames)
	r.log("INFO", "Cache hits: %d, fallbacks: %d, rejected: %d",
		summary.CacheHits, summary.FallbackCount, summary.RejectedCount)
	r.log("INFO", "Size: %s -> %s (%.1f%% reduction)",
		util.FormatBytesReadable(summary.TotalOriginalSize),
		util.FormatBytesReadable(summary.TotalOutputSize),
		reduction)
	r.log("INFO", "Time: %s", summary.TotalDuration.Round(time.Millisecond))

	for _, result := range summary.FrameResults {
		r.log("DEBUG", "  - %s (%.1f%% reduction)", result.Filename, result.Reduction)
	}
}

func (r *LogReporter) StatsSnapshot(s StatsSummary) {
	r.log("INFO", "=== STATS ===")
	r.log("INFO", "Pressure: %s (%.1f%% usage)", s.PressureState, s.UsagePercent)
	r.log("INFO", "Admission: %d in flight of %d, %d rejected", s.InFlight, s.Capacity, s.Rejected)
	r.log("INFO", "Cache: %d entries, hit rate %s", s.CacheSize, util.FormatPercent(s.CacheHitRate))
	r.log("INFO", "Pool: %d buffers, hit rate %s", s.PooledBuffers, util.FormatPercent(s.PoolHitRate))
	r.log("INFO", "Frames: %d processed, %d failed, %d delta connections", s.Processed, s.Failed, s.DeltaConnections)
}

func (r *LogReporter) Warning(message string) {
	r.log("WARN", "%s", message)
}

func (r *LogReporter) Error(err ReporterError) {
	r.log("ERROR", "%s: %s", err.Title, err.Message)
	if err.Context != "" {
		r.log("ERROR", "  Context: %s", err.Context)
	}
	if err.Suggestion != "" {
		r.log("ERROR", "  Suggestion: %s", err.Suggestion)
	}
}

func (r *LogReporter) OperationComplete(message string) {
	r.log("INFO", "=== COMPLETE === %s", message)
}

func (r *LogReporter) Verbose(message string) {
	r.log("DEBUG", "%s", message)
}
