package framegate

// This file re-exports the internal Reporter interface and associated types
// so callers can receive every pipeline event directly.

import (
	"github.com/five82/framegate/internal/processing"
	"github.com/five82/framegate/internal/reporter"
)

// Reporter receives pipeline and batch events. Implementations must be safe for
// concurrent use.
type Reporter = reporter.Reporter

// NullReporter is a no-op reporter that discards all updates.
type NullReporter = reporter.NullReporter

// HardwareSummary contains host information.
type HardwareSummary = reporter.HardwareSummary

// InitializationSummary describes a file run before any frame is processed.
type InitializationSummary = reporter.InitializationSummary

// StageProgress represents a generic stage update.
type StageProgress = reporter.StageProgress

// PressureChange reports a pressure state transition.
type PressureChange = reporter.PressureChange

// BatchStartInfo contains batch start metadata.
type BatchStartInfo = reporter.BatchStartInfo

// FrameProgressContext contains the current frame index within a batch.
type FrameProgressContext = reporter.FrameProgressContext

// FrameOutcome contains the result of one processed frame file.
type FrameOutcome = reporter.FrameOutcome

// DeltaOutcome contains the result of one delta-encoded frame file.
type DeltaOutcome = reporter.DeltaOutcome

// BatchSummary contains batch completion information.
type BatchSummary = reporter.BatchSummary

// FrameResult contains the per-frame size change of a batch.
type FrameResult = reporter.FrameResult

// StatsSummary is a condensed view of pipeline statistics.
type StatsSummary = reporter.StatsSummary

// ReporterError contains error information.
type ReporterError = reporter.ReporterError

// Summarize condenses Stats for a Reporter's StatsSnapshot.
func Summarize(s Stats) StatsSummary {
	return processing.Summarize(s)
}
