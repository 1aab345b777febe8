// Package reporter defines the progress events emitted while processing frames and
// the sinks that render them.
package reporter

import "time"

// Reporter receives pipeline and CLI events. Implementations must be safe for
// concurrent use; batch frames complete on many goroutines.
type Reporter interface {
	Hardware(HardwareSummary)
	Initialization(InitializationSummary)
	StageProgress(StageProgress)
	PressureChanged(PressureChange)
	BatchStarted(BatchStartInfo)
	FrameProgress(FrameProgressContext)
	FrameComplete(FrameOutcome)
	DeltaFrame(DeltaOutcome)
	BatchComplete(BatchSummary)
	StatsSnapshot(StatsSummary)
	Warning(message string)
	Error(ReporterError)
	OperationComplete(message string)
	Verbose(message string)
}

// HardwareSummary contains host information.
type HardwareSummary struct {
	Hostname     string
	LogicalCores int
	TotalMemory  uint64
}

// InitializationSummary describes the run before any frame is processed.
type InitializationSummary struct {
	Mode          string // "process" or "delta"
	Input         string
	OutputDir     string
	Frames        int
	MaxConcurrent int
	CacheSize     int // 0 when caching is disabled
	LowResource   bool
}

// StageProgress represents a generic stage update.
type StageProgress struct {
	Stage   string
	Message string
}

// PressureChange reports a pressure state transition.
type PressureChange struct {
	From         string
	To           string
	UsagePercent float64
	Capacity     int
}

// BatchStartInfo contains batch start metadata.
type BatchStartInfo struct {
	BatchID     string
	TotalFrames int
	FileList    []string
	OutputDir   string
}

// FrameProgressContext contains the current frame index within a batch.
type FrameProgressContext struct {
	CurrentFrame int
	TotalFrames  int
}

// FrameOutcome contains the result of one processed frame.
type FrameOutcome struct {
	InputFile    string
	OutputFile   string
	OriginalSize uint64
	OutputSize   uint64
	CacheHit     bool
	Fallback     bool
	Adjustments  string
	Duration     time.Duration
}

// DeltaOutcome contains the result of one delta-encoded frame.
type DeltaOutcome struct {
	InputFile      string
	OutputFile     string // empty for unchanged frames
	Kind           string
	ChangedPercent int
	PayloadSize    uint64
}

// BatchSummary contains batch completion information.
type BatchSummary struct {
	BatchID           string
	SuccessfulCount   int
	TotalFrames       int
	CacheHits         int
	FallbackCount     int
	RejectedCount     int
	TotalOriginalSize uint64
	TotalOutputSize   uint64
	TotalDuration     time.Duration
	FrameResults      []FrameResult
}

// FrameResult contains the per-frame size change of a batch.
type FrameResult struct {
	Filename  string
	Reduction float64
}

// StatsSummary is a condensed view of pipeline statistics.
type StatsSummary struct {
	PressureState    string
	UsagePercent     float64
	Capacity         int
	InFlight         int
	Rejected         uint64
	CacheSize        int
	CacheHitRate     float64
	PoolHitRate      float64
	PooledBuffers    int
	DeltaConnections int
	Processed        uint64
	Failed           uint64
}

// ReporterError contains error information.
type ReporterError struct {
	Title      string
	Message    string
	Context    string
	Suggestion string
}

// NullReporter is a no-op reporter that discards all updates.
type NullReporter struct{}

func (NullReporter) Hardware(HardwareSummary)             {}
func (NullReporter) Initialization(InitializationSummary) {}
func (NullReporter) StageProgress(StageProgress)          {}
func (NullReporter) PressureChanged(PressureChange)       {}
func (NullReporter) BatchStarted(BatchStartInfo)          {}
func (NullReporter) FrameProgress(FrameProgressContext)   {}
func (NullReporter) FrameComplete(FrameOutcome)           {}
func (NullReporter) DeltaFrame(DeltaOutcome)              {}
func (NullReporter) BatchComplete(BatchSummary)           {}
func (NullReporter) StatsSnapshot(StatsSummary)           {}
func (NullReporter) Warning(string)                       {}
func (NullReporter) Error(ReporterError)                  {}
func (NullReporter) OperationComplete(string)             {}
func (NullReporter) Verbose(string)                       {}

// CompositeReporter fans every event out to several reporters in order.
type CompositeReporter struct {
	reporters []Reporter
}

// NewCompositeReporter combines reporters. Nil entries are skipped.
func NewCompositeReporter(reporters ...Reporter) *CompositeReporter {
	c := &CompositeReporter{}
	for _, r := range reporters {
		if r != nil {
			c.reporters = append(c.reporters, r)
		}
	}
	return c
}

func (c *CompositeReporter) each(fn func(Reporter)) {
	for _, r := range c.reporters {
		fn(r)
	}
}

func (c *CompositeReporter) Hardware(s HardwareSummary) {
	c.each(func(r Reporter) { r.Hardware(s) })
}

func (c *CompositeReporter) Initialization(s InitializationSummary) {
	c.each(func(r Reporter) { r.Initialization(s) })
}

func (c *CompositeReporter) StageProgress(u StageProgress) {
	c.each(func(r Reporter) { r.StageProgress(u) })
}

func (c *CompositeReporter) PressureChanged(p PressureChange) {
	c.each(func(r Reporter) { r.PressureChanged(p) })
}

func (c *CompositeReporter) BatchStarted(i BatchStartInfo) {
	c.each(func(r Reporter) { r.BatchStarted(i) })
}

func (c *CompositeReporter) FrameProgress(p FrameProgressContext) {
	c.each(func(r Reporter) { r.FrameProgress(p) })
}

func (c *CompositeReporter) FrameComplete(o FrameOutcome) {
	c.each(func(r Reporter) { r.FrameComplete(o) })
}

func (c *CompositeReporter) DeltaFrame(o DeltaOutcome) {
	c.each(func(r Reporter) { r.DeltaFrame(o) })
}

func (c *CompositeReporter) BatchComplete(s BatchSummary) {
	c.each(func(r Reporter) { r.BatchComplete(s) })
}

func (c *CompositeReporter) StatsSnapshot(s StatsSummary) {
	c.each(func(r Reporter) { r.StatsSnapshot(s) })
}

func (c *CompositeReporter) Warning(message string) {
	c.each(func(r Reporter) { r.Warning(message) })
}

func (c *CompositeReporter) Error(err ReporterError) {
	c.each(func(r Reporter) { r.Error(err) })
}

func (c *CompositeReporter) OperationComplete(message string) {
	c.each(func(r Reporter) { r.OperationComplete(message) })
}

func (c *CompositeReporter) Verbose(message string) {
	c.each(func(r Reporter) { r.Verbose(message) })
}
