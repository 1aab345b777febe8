package framegate

import (
	"time"

	"github.com/five82/framegate/internal/reporter"
	"github.com/five82/framegate/internal/util"
)

// Event types delivered to an EventHandler.
const (
	EventTypeHardware          = "hardware"
	EventTypeInitialization    = "initialization"
	EventTypeStageProgress     = "stage_progress"
	EventTypePressureChanged   = "pressure_changed"
	EventTypeBatchStarted      = "batch_started"
	EventTypeFrameProgress     = "frame_progress"
	EventTypeFrameComplete     = "frame_complete"
	EventTypeDeltaFrame        = "delta_frame"
	EventTypeBatchComplete     = "batch_complete"
	EventTypeStatsSnapshot     = "stats_snapshot"
	EventTypeOperationComplete = "operation_complete"
	EventTypeWarning           = "warning"
	EventTypeError             = "error"
)

// Event is the interface for all framegate events.
type Event interface {
	Type() string
	Timestamp() int64
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventType string `json:"type"`
	Time      int64  `json:"timestamp"`
}

func (e BaseEvent) Type() string     { return e.EventType }
func (e BaseEvent) Timestamp() int64 { return e.Time }

func newBase(eventType string) BaseEvent {
	return BaseEvent{EventType: eventType, Time: NewTimestamp()}
}

// PressureChangedEvent reports a memory pressure transition.
type PressureChangedEvent struct {
	BaseEvent
	From         string  `json:"from"`
	To           string  `json:"to"`
	UsagePercent float64 `json:"usage_percent"`
	Capacity     int     `json:"capacity"`
}

// BatchStartedEvent marks the start of a file batch.
type BatchStartedEvent struct {
	BaseEvent
	BatchID     string `json:"batch_id"`
	TotalFrames int    `json:"total_frames"`
	OutputDir   string `json:"output_dir"`
}

// FrameProgressEvent reports how many frames of a batch are done.
type FrameProgressEvent struct {
	BaseEvent
	CurrentFrame int `json:"current_frame"`
	TotalFrames  int `json:"total_frames"`
}

// FrameCompleteEvent describes one processed frame file.
type FrameCompleteEvent struct {
	BaseEvent
	InputFile            string  `json:"input_file"`
	OutputFile           string  `json:"output_file"`
	OriginalSize         uint64  `json:"original_size"`
	OutputSize           uint64  `json:"output_size"`
	SizeReductionPercent float64 `json:"size_reduction_percent"`
	CacheHit             bool    `json:"cache_hit"`
	Fallback             bool    `json:"fallback"`
	Adjustments          string  `json:"adjustments,omitempty"`
	DurationMillis       int64   `json:"duration_ms"`
}

// DeltaFrameEvent describes one delta-encoded frame file.
type DeltaFrameEvent struct {
	BaseEvent
	InputFile      string `json:"input_file"`
	OutputFile     string `json:"output_file,omitempty"`
	Kind           string `json:"kind"`
	ChangedPercent int    `json:"changed_percent"`
	PayloadSize    uint64 `json:"payload_size"`
}

// BatchCompleteEvent represents batch completion.
type BatchCompleteEvent struct {
	BaseEvent
	BatchID                   string  `json:"batch_id"`
	SuccessfulCount           int     `json:"successful_count"`
	TotalFrames               int     `json:"total_frames"`
	CacheHits                 int     `json:"cache_hits"`
	FallbackCount             int     `json:"fallback_count"`
	RejectedCount             int     `json:"rejected_count"`
	TotalSizeReductionPercent float64 `json:"total_size_reduction_percent"`
	DurationMillis            int64   `json:"duration_ms"`
}

// StatsSnapshotEvent carries condensed pipeline statistics.
type StatsSnapshotEvent struct {
	BaseEvent
	PressureState string  `json:"pressure_state"`
	UsagePercent  float64 `json:"usage_percent"`
	Capacity      int     `json:"capacity"`
	InFlight      int     `json:"in_flight"`
	CacheHitRate  float64 `json:"cache_hit_rate"`
	Processed     uint64  `json:"processed"`
	Failed        uint64  `json:"failed"`
}

// OperationCompleteEvent marks the end of a CLI-style operation.
type OperationCompleteEvent struct {
	BaseEvent
	Message string `json:"message"`
}

// WarningEvent represents a warning message, including frames that fell back to
// their unmodified input.
type WarningEvent struct {
	BaseEvent
	Message string `json:"message"`
}

// ErrorEvent represents an error.
type ErrorEvent struct {
	BaseEvent
	Title      string `json:"title"`
	Message    string `json:"message"`
	Context    string `json:"context"`
	Suggestion string `json:"suggestion"`
}

// EventHandler is called with events as they happen. Handlers may be called from
// several goroutines at once. Returned errors are ignored.
type EventHandler func(Event) error

// NewTimestamp returns the current Unix timestamp.
func NewTimestamp() int64 {
	return time.Now().Unix()
}

// eventReporter adapts EventHandler to the Reporter interface.
type eventReporter struct {
	handler EventHandler
}

func newEventReporter(handler EventHandler) *eventReporter {
	return &eventReporter{handler: handler}
}

func (r *eventReporter) Hardware(reporter.HardwareSummary)             {}
func (r *eventReporter) Initialization(reporter.InitializationSummary) {}
func (r *eventReporter) StageProgress(reporter.StageProgress)          {}
func (r *eventReporter) Verbose(string)                                {}

func (r *eventReporter) PressureChanged(p reporter.PressureChange) {
	_ = r.handler(PressureChangedEvent{
		BaseEvent:    newBase(EventTypePressureChanged),
		From:         p.From,
		To:           p.To,
		UsagePercent: p.UsagePercent,
		Capacity:     p.Capacity,
	})
}

func (r *eventReporter) BatchStarted(i reporter.BatchStartInfo) {
	_ = r.handler(BatchStartedEvent{
		BaseEvent:   newBase(EventTypeBatchStarted),
		BatchID:     i.BatchID,
		TotalFrames: i.TotalFrames,
		OutputDir:   i.OutputDir,
	})
}

func (r *eventReporter) FrameProgress(p reporter.FrameProgressContext) {
	_ = r.handler(FrameProgressEvent{
		BaseEvent:    newBase(EventTypeFrameProgress),
		CurrentFrame: p.CurrentFrame,
		TotalFrames:  p.TotalFrames,
	})
}

func (r *eventReporter) FrameComplete(o reporter.FrameOutcome) {
	_ = r.handler(FrameCompleteEvent{
		BaseEvent:            newBase(EventTypeFrameComplete),
		InputFile:            o.InputFile,
		OutputFile:           o.OutputFile,
		OriginalSize:         o.OriginalSize,
		OutputSize:           o.OutputSize,
		SizeReductionPercent: util.CalculateSizeReduction(o.OriginalSize, o.OutputSize),
		CacheHit:             o.CacheHit,
		Fallback:             o.Fallback,
		Adjustments:          o.Adjustments,
		DurationMillis:       o.Duration.Milliseconds(),
	})
}

func (r *eventReporter) DeltaFrame(o reporter.DeltaOutcome) {
	_ = r.handler(DeltaFrameEvent{
		BaseEvent:      newBase(EventTypeDeltaFrame),
		InputFile:      o.InputFile,
		OutputFile:     o.OutputFile,
		Kind:           o.Kind,
		ChangedPercent: o.ChangedPercent,
		PayloadSize:    o.PayloadSize,
	})
}

func (r *eventReporter) BatchComplete(s reporter.BatchSummary) {
	_ = r.handler(BatchCompleteEvent{
		BaseEvent:                 newBase(EventTypeBatchComplete),
		BatchID:                   s.BatchID,
		SuccessfulCount:           s.SuccessfulCount,
		TotalFrames:               s.TotalFrames,
		CacheHits:                 s.CacheHits,
		FallbackCount:             s.FallbackCount,
		RejectedCount:             s.RejectedCount,
		TotalSizeReductionPercent: util.CalculateSizeReduction(s.TotalOriginalSize, s.TotalOutputSize),
		DurationMillis:            s.TotalDuration.Milliseconds(),
	})
}

func (r *eventReporter) StatsSnapshot(s reporter.StatsSummary) {
	_ = r.handler(StatsSnapshotEvent{
		BaseEvent:     newBase(EventTypeStatsSnapshot),
		PressureState: s.PressureState,
		UsagePercent:  s.UsagePercent,
		Capacity:      s.Capacity,
		InFlight:      s.InFlight,
		CacheHitRate:  s.CacheHitRate,
		Processed:     s.Processed,
		Failed:        s.Failed,
	})
}

func (r *eventReporter) OperationComplete(message string) {
	_ = r.handler(OperationCompleteEvent{
		BaseEvent: newBase(EventTypeOperationComplete),
		Message:   message,
	})
}

func (r *eventReporter) Warning(message string) {
	_ = r.handler(WarningEvent{
		BaseEvent: newBase(EventTypeWarning),
		Message:   message,
	})
}

func (r *eventReporter) Error(e reporter.ReporterError) {
	_ = r.handler(ErrorEvent{
		BaseEvent:  newBase(EventTypeError),
		Title:      e.Title,
		Message:    e.Message,
		Context:    e.Context,
		Suggestion: e.Suggestion,
	})
}
