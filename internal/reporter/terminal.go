package reporter

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/five82/framegate/internal/util"
)

// TerminalReporter outputs human-friendly text to the terminal.
type TerminalReporter struct {
	mu        sync.Mutex
	out       io.Writer
	errOut    io.Writer
	progress  *progressbar.ProgressBar
	lastStage string
	verbose   bool
	cyan      *color.Color
	green     *color.Color
	yellow    *color.Color
	red       *color.Color
	magenta   *color.Color
	bold      *color.Color
	dim       *color.Color
}

// NewTerminalReporter creates a new terminal reporter with verbose mode disabled.
func NewTerminalReporter() *TerminalReporter {
	return NewTerminalReporterVerbose(false)
}

// NewTerminalReporterVerbose creates a new terminal reporter with configurable verbose mode.
func NewTerminalReporterVerbose(verbose bool) *TerminalReporter {
	return newTerminalReporter(os.Stdout, os.Stderr, verbose)
}

func newTerminalReporter(out, errOut io.Writer, verbose bool) *TerminalReporter {
	return &TerminalReporter{
		out:     out,
		errOut:  errOut,
		verbose: verbose,
		cyan:    color.New(color.FgCyan, color.Bold),
		green:   color.New(color.FgGreen),
		yellow:  color.New(color.FgYellow, color.Bold),
		red:     color.New(color.FgRed, color.Bold),
		magenta: color.New(color.FgMagenta),
		bold:    color.New(color.Bold),
		dim:     color.New(color.Faint),
	}
}

func (r *TerminalReporter) finishProgress() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.progress != nil {
		_ = r.progress.Finish()
		r.progress = nil
	}
}

func (r *TerminalReporter) println(a ...any) {
	_, _ = fmt.Fprintln(r.out, a...)
}

func (r *TerminalReporter) printf(format string, a ...any) {
	_, _ = fmt.Fprintf(r.out, format, a...)
}

func (r *TerminalReporter) heading(title string) {
	r.println()
	_, _ = r.cyan.Fprintln(r.out, title)
}

// labelWidth is the global width for all labels to ensure consistent alignment.
const labelWidth = 16

// printLabel prints a bold label with fixed width padding followed by a value.
func (r *TerminalReporter) printLabel(label, value string) {
	paddedLabel := fmt.Sprintf("%-*s", labelWidth, label)
	r.printf("  %s %s\n", r.bold.Sprint(paddedLabel), value)
}

func (r *TerminalReporter) Hardware(summary HardwareSummary) {
	r.heading("HARDWARE")
	r.printLabel("Hostname:", summary.Hostname)
	r.printLabel("Cores:", fmt.Sprintf("%d", summary.LogicalCores))
	if summary.TotalMemory > 0 {
		r.printLabel("Memory:", util.FormatBytesReadable(summary.TotalMemory))
	}
}

func (r *TerminalReporter) Initialization(summary InitializationSummary) {
	r.heading(strings.ToUpper(summary.Mode))
	r.printLabel("Input:", summary.Input)
	r.printLabel("Frames:", fmt.Sprintf("%d", summary.Frames))
	r.printLabel("Output:", summary.OutputDir)
	r.printLabel("Concurrency:", fmt.Sprintf("%d", summary.MaxConcurrent))
	if summary.CacheSize > 0 {
		r.printLabel("Cache:", fmt.Sprintf("%d entries", summary.CacheSize))
	} else {
		r.printLabel("Cache:", r.dim.Sprint("disabled"))
	}
	if summary.LowResource {
		r.printLabel("Mode:", r.yellow.Sprint("low-resource"))
	}
}

func (r *TerminalReporter) StageProgress(update StageProgress) {
	r.mu.Lock()
	newStage := r.lastStage != update.Stage
	r.lastStage = update.Stage
	r.mu.Unlock()

	if newStage {
		r.heading(strings.ToUpper(update.Stage))
	}
	r.printf("  %s %s\n", r.magenta.Sprint("›"), update.Message)
}

func (r *TerminalReporter) PressureChanged(change PressureChange) {
	c := r.green
	switch change.To {
	case "high":
		c = r.yellow
	case "critical":
		c = r.red
	}
	r.printf("  %s pressure %s -> %s (%.1f%% usage, capacity %d)\n",
		r.magenta.Sprint("›"), change.From, c.Sprint(change.To), change.UsagePercent, change.Capacity)
}

func (r *TerminalReporter) BatchStarted(info BatchStartInfo) {
	r.finishProgress()

	r.heading("BATCH")
	r.printf("  Processing %d frames -> %s\n", info.TotalFrames, r.bold.Sprint(info.OutputDir))
	if r.verbose {
		for i, name := range info.FileList {
			r.printf("  %d. %s\n", i+1, name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = progressbar.NewOptions(
		info.TotalFrames,
		progressbar.OptionSetDescription(""),
		progressbar.OptionSetWidth(40),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWriter(r.errOut),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowCount(),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionSetElapsedTime(false),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "Frames [",
			BarEnd:        "]",
		}),
	)
}

func (r *TerminalReporter) FrameProgress(context FrameProgressContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.progress == nil {
		return
	}
	_ = r.progress.Set(context.CurrentFrame)
}

func (r *TerminalReporter) FrameComplete(outcome FrameOutcome) {
	if !r.verbose {
		return
	}
	var tag string
	switch {
	case outcome.Fallback:
		tag = r.yellow.Sprint(" fallback")
	case outcome.CacheHit:
		tag = r.green.Sprint(" cached")
	}
	r.printf("  %s %s -> %s%s\n", r.dim.Sprint("›"), outcome.InputFile,
		util.FormatBytesReadable(outcome.OutputSize), tag)
}

func (r *TerminalReporter) DeltaFrame(outcome DeltaOutcome) {
	kind := outcome.Kind
	switch outcome.Kind {
	case "keyframe":
		kind = r.cyan.Sprint(kind)
	case "delta":
		kind = r.green.Sprint(kind)
	default:
		kind = r.dim.Sprint(kind)
	}
	r.printf("  %s %-24s %s %3d%% %s\n", r.magenta.Sprint("›"), outcome.InputFile, kind,
		outcome.ChangedPercent, util.FormatBytesReadable(outcome.PayloadSize))
}

func (r *TerminalReporter) BatchComplete(summary BatchSummary) {
	r.finishProgress()
	reduction := util.CalculateSizeReduction(summary.TotalOriginalSize, summary.TotalOutputSize)

	r.heading("BATCH SUMMARY")
	r.printf("  %s\n", r.bold.Sprintf("%d of %d succeeded", summary.SuccessfulCount, summary.TotalFrames))
	r.printf("  Cache hits: %s, fallbacks: %s, rejected: %s\n",
		r.green.Sprint(summary.CacheHits),
		r.yellow.Sprint(summary.FallbackCount),
		r.red.Sprint(summary.RejectedCount))
	r.printf("  Size: %s -> %s (%.1f%% reduction)\n",
		util.FormatBytesReadable(summary.TotalOriginalSize),
		util.FormatBytesReadable(summary.TotalOutputSize),
		reduction)
	r.printf("  Time: %s\n", elapsed(summary.TotalDuration))

	if r.verbose {
		for _, result := range summary.FrameResults {
			r.printf("  - %s (%.1f%% reduction)\n", result.Filename, result.Reduction)
		}
	}
}

func (r *TerminalReporter) StatsSnapshot(s StatsSummary) {
	r.heading("STATS")
	r.printLabel("Pressure:", fmt.Sprintf("%s (%.1f%% usage)", s.PressureState, s.UsagePercent))
	r.printLabel("Admission:", fmt.Sprintf("%d/%d in flight, %d rejected", s.InFlight, s.Capacity, s.Rejected))
	r.printLabel("Cache:", fmt.Sprintf("%d entries, %s hit rate", s.CacheSize, util.FormatPercent(s.CacheHitRate)))
	r.printLabel("Pool:", fmt.Sprintf("%d buffers, %s hit rate", s.PooledBuffers, util.FormatPercent(s.PoolHitRate)))
	r.printLabel("Frames:", fmt.Sprintf("%d processed, %d failed", s.Processed, s.Failed))
	r.printLabel("Delta conns:", fmt.Sprintf("%d", s.DeltaConnections))
}

func (r *TerminalReporter) Warning(message string) {
	r.println()
	_, _ = r.yellow.Fprintf(r.out, "WARN: %s\n", message)
}

func (r *TerminalReporter) Error(err ReporterError) {
	_, _ = fmt.Fprintln(r.errOut)
	_, _ = r.red.Fprintf(r.errOut, "ERROR %s\n", err.Title)
	_, _ = fmt.Fprintf(r.errOut, "  %s\n", err.Message)
	if err.Context != "" {
		_, _ = fmt.Fprintf(r.errOut, "  Context: %s\n", err.Context)
	}
	if err.Suggestion != "" {
		_, _ = fmt.Fprintf(r.errOut, "  Suggestion: %s\n", err.Suggestion)
	}
}

func (r *TerminalReporter) OperationComplete(message string) {
	r.finishProgress()
	r.println()
	r.printf("%s %s\n", color.New(color.FgGreen, color.Bold).Sprint("✓"), r.bold.Sprint(message))
}

func (r *TerminalReporter) Verbose(message string) {
	if !r.verbose {
		return
	}
	r.printf("  %s %s\n", r.dim.Sprint("›"), r.dim.Sprint(message))
}

// elapsed formats d for summaries shorter than a second.
func elapsed(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return util.FormatDurationFromSecs(int64(d.Seconds()))
}
