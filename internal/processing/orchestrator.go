package processing

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/five82/framegate/internal/delta"
	"github.com/five82/framegate/internal/imageio"
	"github.com/five82/framegate/internal/reporter"
	"github.com/five82/framegate/internal/util"
)

// Output file suffixes.
const (
	ProcessedSuffix = "_processed"
	KeyframeSuffix  = "_key"
	DeltaSuffix     = "_delta"
)

// FileResult contains the result of processing a single frame file.
type FileResult struct {
	Filename    string
	OutputPath  string
	InputSize   uint64
	OutputSize  uint64
	CacheHit    bool
	Fallback    bool
	Adjustments Adjustments
	Duration    time.Duration
	Err         error
}

// DeltaFileResult contains the result of delta-encoding a single frame file.
type DeltaFileResult struct {
	Filename       string
	OutputPath     string // empty for unchanged frames
	Kind           delta.Kind
	ChangedPercent int
	PayloadSize    uint64
	Err            error
}

// ReadFrameFile loads a frame file as the base64 string the pipeline accepts.
// .b64 files are taken as-is, anything else is treated as raw image bytes.
func ReadFrameFile(path string) (string, uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, err
	}
	if strings.EqualFold(filepath.Ext(path), ".b64") {
		frame := strings.TrimSpace(string(data))
		in, err := imageio.ParseFrame(frame)
		if err != nil {
			return frame, 0, nil // let the pipeline report it as invalid input
		}
		return frame, uint64(len(in.Data)), nil
	}
	return base64.StdEncoding.EncodeToString(data), uint64(len(data)), nil
}

// writeFrame decodes a base64 output frame and writes the image bytes next to the
// input's name in outputDir. The extension follows the encoded format.
func writeFrame(inputPath, outputDir, suffix, frame string) (string, uint64, error) {
	out, err := imageio.ParseFrame(frame)
	if err != nil {
		return "", 0, err
	}
	path := util.ResolveOutputPathExt(inputPath, outputDir, suffix, imageio.Ext(out.Data))
	if err := util.WriteFileAtomic(path, out.Data); err != nil {
		return "", 0, err
	}
	return path, uint64(len(out.Data)), nil
}

func prepareOutput(outputDir string, rep reporter.Reporter) error {
	if err := util.EnsureDirectory(outputDir); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := util.EnsureDirectoryWritable(outputDir); err != nil {
		return err
	}
	util.CheckDiskSpace(outputDir, func(format string, args ...any) {
		rep.Warning(fmt.Sprintf(format, args...))
	})
	return nil
}

func reportHardware(rep reporter.Reporter) {
	sysInfo := util.GetSystemInfo()
	rep.Hardware(reporter.HardwareSummary{
		Hostname:     sysInfo.Hostname,
		LogicalCores: sysInfo.LogicalCores,
		TotalMemory:  sysInfo.TotalMemory,
	})
}

func (p *Pipeline) initialization(mode, input, outputDir string, frames int) reporter.InitializationSummary {
	s := reporter.InitializationSummary{
		Mode:          mode,
		Input:         input,
		OutputDir:     outputDir,
		Frames:        frames,
		MaxConcurrent: p.cfg.MaxConcurrent,
		LowResource:   p.cfg.LowResourceMode,
	}
	if p.cfg.CacheEnabled {
		s.CacheSize = p.cfg.CacheMaxSize
	}
	return s
}

// ProcessFiles runs frame files through ProcessFramesBatch in chunks no larger than
// the current batch limit and writes every output into outputDir.
func ProcessFiles(
	ctx context.Context,
	p *Pipeline,
	files []string,
	outputDir string,
	opts Options,
	rep reporter.Reporter,
) ([]FileResult, error) {
	if rep == nil {
		rep = reporter.NullReporter{}
	}
	if err := prepareOutput(outputDir, rep); err != nil {
		return nil, err
	}

	reportHardware(rep)
	rep.Initialization(p.initialization("process", commonDir(files), outputDir, len(files)))

	batchID := uuid.NewString()
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = util.GetFilename(f)
	}
	rep.BatchStarted(reporter.BatchStartInfo{
		BatchID:     batchID,
		TotalFrames: len(files),
		FileList:    names,
		OutputDir:   outputDir,
	})

	batchStart := time.Now()
	results := make([]FileResult, 0, len(files))
	var summary reporter.BatchSummary

	for next := 0; next < len(files); {
		if ctx.Err() != nil {
			rep.Warning(fmt.Sprintf("Processing cancelled: %v", ctx.Err()))
			break
		}

		chunk := files[next:min(next+p.BatchLimit(), len(files))]
		chunkResults, err := p.processChunk(ctx, chunk, outputDir, opts)
		if errors.Is(err, ErrOverloaded) {
			// Pressure rose between reading the limit and submitting the chunk.
			rep.Verbose(fmt.Sprintf("Batch refused, retrying with a smaller chunk: %v", err))
			if len(chunk) == 1 {
				return results, err
			}
			continue
		}
		if err != nil {
			return results, err
		}

		for _, r := range chunkResults {
			next++
			results = append(results, r)
			rep.FrameProgress(reporter.FrameProgressContext{CurrentFrame: next, TotalFrames: len(files)})
			record(&summary, r, rep)
		}
	}

	summary.BatchID = batchID
	summary.TotalFrames = len(files)
	summary.TotalDuration = time.Since(batchStart)
	rep.BatchComplete(summary)

	if summary.SuccessfulCount == 0 {
		rep.Warning("No frames were successfully processed")
	} else {
		rep.OperationComplete(fmt.Sprintf("Processed %d of %d frames", summary.SuccessfulCount, len(files)))
	}
	return results, nil
}

func (p *Pipeline) processChunk(ctx context.Context, chunk []string, outputDir string, opts Options) ([]FileResult, error) {
	results := make([]FileResult, len(chunk))
	frames := make([]string, len(chunk))
	for i, path := range chunk {
		results[i].Filename = util.GetFilename(path)
		frame, size, err := ReadFrameFile(path)
		if err != nil {
			results[i].Err = err
			continue
		}
		frames[i] = frame
		results[i].InputSize = size
	}

	// Unreadable files are not submitted; they keep their read error.
	var submit []string
	var index []int
	for i := range chunk {
		if results[i].Err == nil {
			submit = append(submit, frames[i])
			index = append(index, i)
		}
	}
	if len(submit) == 0 {
		return results, nil
	}

	items, err := p.ProcessFramesBatch(ctx, submit, opts)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		r := &results[index[item.Index]]
		if item.Err != nil {
			r.Err = item.Err
			continue
		}
		r.CacheHit = item.Result.CacheHit
		r.Fallback = item.Result.Fallback
		r.Adjustments = item.Result.Stats.Adjustments
		r.Duration = item.Result.Stats.Timings.Total
		r.OutputPath, r.OutputSize, r.Err = writeFrame(chunk[index[item.Index]], outputDir, ProcessedSuffix, item.Result.Output)
	}
	return results, nil
}

// record folds one frame result into the batch summary and reports it.
func record(s *reporter.BatchSummary, r FileResult, rep reporter.Reporter) {
	if r.Err != nil {
		if errors.Is(r.Err, ErrOverloaded) {
			s.RejectedCount++
		}
		var invalid *InvalidInputError
		suggestion := "Check the logs for details"
		if errors.As(r.Err, &invalid) {
			suggestion = "Make sure the file is a PNG or JPEG image or base64 text"
		}
		rep.Error(reporter.ReporterError{
			Title:      "Frame Error",
			Message:    fmt.Sprintf("Failed to process %s: %v", r.Filename, r.Err),
			Suggestion: suggestion,
		})
		return
	}

	s.SuccessfulCount++
	if r.CacheHit {
		s.CacheHits++
	}
	if r.Fallback {
		s.FallbackCount++
	}
	s.TotalOriginalSize += r.InputSize
	s.TotalOutputSize += r.OutputSize
	s.FrameResults = append(s.FrameResults, reporter.FrameResult{
		Filename:  r.Filename,
		Reduction: util.CalculateSizeReduction(r.InputSize, r.OutputSize),
	})
	rep.FrameComplete(reporter.FrameOutcome{
		InputFile:    r.Filename,
		OutputFile:   util.GetFilename(r.OutputPath),
		OriginalSize: r.InputSize,
		OutputSize:   r.OutputSize,
		CacheHit:     r.CacheHit,
		Fallback:     r.Fallback,
		Adjustments:  r.Adjustments.String(),
		Duration:     r.Duration,
	})
}

// DeltaFiles delta-encodes files in order as frames of connection connID. Keyframes
// and deltas are written to outputDir; unchanged frames produce no file.
func DeltaFiles(
	ctx context.Context,
	p *Pipeline,
	connID string,
	files []string,
	outputDir string,
	rep reporter.Reporter,
) ([]DeltaFileResult, error) {
	if rep == nil {
		rep = reporter.NullReporter{}
	}
	if err := prepareOutput(outputDir, rep); err != nil {
		return nil, err
	}

	reportHardware(rep)
	rep.Initialization(p.initialization("delta", commonDir(files), outputDir, len(files)))
	rep.StageProgress(reporter.StageProgress{Stage: "delta", Message: fmt.Sprintf("Connection %s", connID)})

	results := make([]DeltaFileResult, 0, len(files))
	counts := map[delta.Kind]int{}
	for _, path := range files {
		if ctx.Err() != nil {
			rep.Warning(fmt.Sprintf("Delta encoding cancelled: %v", ctx.Err()))
			break
		}

		r := DeltaFileResult{Filename: util.GetFilename(path)}
		r.Err = p.deltaFile(ctx, connID, path, outputDir, &r)
		results = append(results, r)
		if r.Err != nil {
			rep.Error(reporter.ReporterError{
				Title:   "Delta Error",
				Message: fmt.Sprintf("Failed to encode %s: %v", r.Filename, r.Err),
				Context: fmt.Sprintf("Connection: %s", connID),
			})
			continue
		}
		counts[r.Kind]++
		rep.DeltaFrame(reporter.DeltaOutcome{
			InputFile:      r.Filename,
			OutputFile:     util.GetFilename(r.OutputPath),
			Kind:           r.Kind.String(),
			ChangedPercent: r.ChangedPercent,
			PayloadSize:    r.PayloadSize,
		})
	}

	rep.OperationComplete(fmt.Sprintf("Delta-encoded %d frames: %d keyframes, %d deltas, %d unchanged",
		counts[delta.Keyframe]+counts[delta.Delta]+counts[delta.NoChange],
		counts[delta.Keyframe], counts[delta.Delta], counts[delta.NoChange]))
	return results, nil
}

func (p *Pipeline) deltaFile(ctx context.Context, connID, path, outputDir string, r *DeltaFileResult) error {
	frame, _, err := ReadFrameFile(path)
	if err != nil {
		return err
	}
	res, err := p.EncodeDelta(ctx, connID, frame)
	if err != nil {
		return err
	}
	r.Kind = res.Kind
	r.ChangedPercent = res.ChangedPercent

	suffix := DeltaSuffix
	switch res.Kind {
	case delta.NoChange:
		r.PayloadSize = uint64(len(res.Payload))
		return nil
	case delta.Keyframe:
		suffix = KeyframeSuffix
	}
	r.OutputPath, r.PayloadSize, err = writeFrame(path, outputDir, suffix, res.Payload)
	return err
}

// commonDir returns the directory shared by files, or "" when they differ.
func commonDir(files []string) string {
	if len(files) == 0 {
		return ""
	}
	dir := filepath.Dir(files[0])
	for _, f := range files[1:] {
		if filepath.Dir(f) != dir {
			return ""
		}
	}
	return dir
}

// Summarize condenses pipeline statistics for reporters.
func Summarize(s Stats) reporter.StatsSummary {
	out := reporter.StatsSummary{
		PressureState:    s.Pressure.State,
		UsagePercent:     s.Pressure.UsagePercent,
		Capacity:         s.Admission.Capacity,
		InFlight:         s.Admission.InFlight,
		Rejected:         s.Processor.Rejected,
		PoolHitRate:      s.Pool.HitRate,
		PooledBuffers:    s.Pool.PooledBufs,
		DeltaConnections: s.Delta.Connections,
		Processed:        s.Processor.Processed,
		Failed:           s.Processor.Failed,
	}
	if s.Cache != nil {
		out.CacheSize = s.Cache.Size
		out.CacheHitRate = s.Cache.HitRate
	}
	return out
}
