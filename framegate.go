// Package framegate provides a resource-adaptive frame processing pipeline.
//
// Frames are base64 images (optionally data URLs). The pipeline denoises, scales and
// recompresses them, answers repeats from a cache, delta-encodes frame sequences per
// connection, and sheds quality and concurrency as memory pressure rises.
//
// Basic usage:
//
//	p, err := framegate.New(
//	    framegate.WithMaxConcurrent(8),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	p.Start(ctx)
//	defer p.Stop()
//
//	opts := framegate.DefaultOptions()
//	opts.Denoise = true
//	res, err := p.ProcessFrame(ctx, frame, opts)
//	if errors.Is(err, framegate.ErrOverloaded) {
//	    // back off and retry
//	}
package framegate

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/five82/framegate/internal/config"
	"github.com/five82/framegate/internal/delta"
	"github.com/five82/framegate/internal/discovery"
	"github.com/five82/framegate/internal/hoststats"
	"github.com/five82/framegate/internal/processing"
	"github.com/five82/framegate/internal/reporter"
	"github.com/five82/framegate/internal/util"
)

// Processing types.
type (
	// Options are per-frame processing requests.
	Options = processing.Options
	// Result is the outcome of ProcessFrame.
	Result = processing.Result
	// BatchItem is one entry of a ProcessFramesBatch result.
	BatchItem = processing.BatchItem
	// DeltaResult is the outcome of EncodeDelta.
	DeltaResult = processing.DeltaResult
	// Stats is a snapshot of all pipeline components.
	Stats = processing.Stats
	// InvalidInputError carries a rejected input back to the caller.
	InvalidInputError = processing.InvalidInputError
	// MemoryReader supplies memory readings to the pressure monitor.
	MemoryReader = hoststats.MemoryReader
	// MemorySample is one memory reading.
	MemorySample = hoststats.MemorySample
	// Config is the full pipeline configuration.
	Config = config.Config
)

var (
	// ErrInvalidInput marks frames or arguments the pipeline cannot accept.
	ErrInvalidInput = processing.ErrInvalidInput
	// ErrOverloaded marks work refused by admission control.
	ErrOverloaded = processing.ErrOverloaded
)

// NoChangePayload is the DeltaResult payload for frames identical to their reference.
const NoChangePayload = delta.NoChangePayload

// DefaultOptions returns the default processing options.
func DefaultOptions() Options {
	return processing.DefaultOptions()
}

// settings collects what the options configure before the pipeline is built.
type settings struct {
	cfg     *config.Config
	deps    processing.Deps
	handler EventHandler
}

// Option configures the pipeline.
type Option func(*settings)

// WithConfig replaces the defaults with cfg, typically from LoadConfig. Options after
// it override individual fields.
func WithConfig(cfg *Config) Option {
	return func(s *settings) {
		c := *cfg
		s.cfg = &c
	}
}

// LoadConfig reads a YAML configuration file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	return config.LoadFile(path)
}

// WithMaxConcurrent sets the number of frames processed at once under normal pressure.
func WithMaxConcurrent(n int) Option {
	return func(s *settings) {
		s.cfg.MaxConcurrent = n
	}
}

// WithAcquireTimeout bounds how long a frame waits for a processing slot.
func WithAcquireTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.cfg.AcquireTimeout = d
	}
}

// WithRejectOnCritical controls whether frames are refused outright under critical
// pressure instead of queueing for the single remaining slot.
func WithRejectOnCritical(reject bool) Option {
	return func(s *settings) {
		s.cfg.RejectOnCritical = reject
	}
}

// WithMaxBatchSize sets the batch limit under normal pressure.
func WithMaxBatchSize(n int) Option {
	return func(s *settings) {
		s.cfg.MaxBatchSize = n
	}
}

// WithCacheSize sets the number of processed frames kept in the cache.
func WithCacheSize(n int) Option {
	return func(s *settings) {
		s.cfg.CacheMaxSize = n
	}
}

// WithCacheTTL sets how long an unused cache entry survives.
func WithCacheTTL(d time.Duration) Option {
	return func(s *settings) {
		s.cfg.CacheMaxAge = d
	}
}

// WithoutCache disables the frame cache.
func WithoutCache() Option {
	return func(s *settings) {
		s.cfg.CacheEnabled = false
	}
}

// WithoutBufferPool allocates every frame buffer fresh.
func WithoutBufferPool() Option {
	return func(s *settings) {
		s.cfg.PoolEnabled = false
	}
}

// WithLowResourceMode shrinks caches and pools and compresses retained frames.
func WithLowResourceMode() Option {
	return func(s *settings) {
		s.cfg.LowResourceMode = true
	}
}

// WithPressureThresholds sets the memory usage percentages that enter High and
// Critical pressure and the level at or below which readings count toward recovery.
func WithPressureThresholds(high, critical, recovery float64) Option {
	return func(s *settings) {
		s.cfg.HighThreshold = high
		s.cfg.CriticalThreshold = critical
		s.cfg.RecoveryThreshold = recovery
	}
}

// WithSampleInterval sets how often memory is sampled once the pipeline is started.
func WithSampleInterval(d time.Duration) Option {
	return func(s *settings) {
		s.cfg.SampleInterval = d
	}
}

// WithCPUAware folds process CPU load into the pressure reading.
func WithCPUAware() Option {
	return func(s *settings) {
		s.cfg.CPUAware = true
	}
}

// WithKeyframeInterval forces a delta keyframe every n frames per connection.
func WithKeyframeInterval(n int) Option {
	return func(s *settings) {
		s.cfg.DeltaKeyframeInterval = n
	}
}

// WithMemoryReader replaces the runtime memory reader, e.g. with a cgroup reader.
func WithMemoryReader(r MemoryReader) Option {
	return func(s *settings) {
		s.deps.Memory = r
	}
}

// WithMemoryLimit measures pressure against limit bytes instead of GOMEMLIMIT or
// physical memory.
func WithMemoryLimit(limit uint64) Option {
	return func(s *settings) {
		s.deps.Memory = hoststats.RuntimeMemory{Limit: limit}
	}
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger log.Logger) Option {
	return func(s *settings) {
		s.deps.Logger = logger
	}
}

// WithRegisterer registers pipeline metrics with reg instead of a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *settings) {
		s.deps.Registerer = reg
	}
}

// WithReporter sends all pipeline events to rep.
func WithReporter(rep Reporter) Option {
	return func(s *settings) {
		s.deps.Reporter = rep
	}
}

// WithEventHandler sends JSON-friendly events to handler. It can be combined with
// WithReporter.
func WithEventHandler(handler EventHandler) Option {
	return func(s *settings) {
		s.handler = handler
	}
}

// Pipeline processes frames. It is safe for concurrent use.
type Pipeline struct {
	p   *processing.Pipeline
	rep reporter.Reporter
}

// New creates a Pipeline with the given options.
func New(opts ...Option) (*Pipeline, error) {
	s := &settings{cfg: config.NewConfig()}
	for _, opt := range opts {
		opt(s)
	}
	s.cfg.ApplyLowResource()

	var rep reporter.Reporter = reporter.NullReporter{}
	switch {
	case s.deps.Reporter != nil && s.handler != nil:
		rep = reporter.NewCompositeReporter(s.deps.Reporter, newEventReporter(s.handler))
	case s.deps.Reporter != nil:
		rep = s.deps.Reporter
	case s.handler != nil:
		rep = newEventReporter(s.handler)
	}
	s.deps.Reporter = rep

	p, err := processing.New(s.cfg, s.deps)
	if err != nil {
		return nil, err
	}
	return &Pipeline{p: p, rep: rep}, nil
}

// Start launches pressure sampling and cache, pool and delta maintenance.
// It stops when ctx is done or Stop is called.
func (p *Pipeline) Start(ctx context.Context) {
	p.p.Start(ctx)
}

// Stop halts background maintenance.
func (p *Pipeline) Stop() {
	p.p.Stop()
}

// ProcessFrame processes one frame. See the package documentation for the errors.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame string, opts Options) (Result, error) {
	return p.p.ProcessFrame(ctx, frame, opts)
}

// ProcessFramesBatch processes frames concurrently. The batch fails with ErrOverloaded
// when it exceeds BatchLimit; per-frame errors are reported in the items.
func (p *Pipeline) ProcessFramesBatch(ctx context.Context, frames []string, opts Options) ([]BatchItem, error) {
	return p.p.ProcessFramesBatch(ctx, frames, opts)
}

// EncodeDelta delta-encodes frame against the previous frame of connID.
func (p *Pipeline) EncodeDelta(ctx context.Context, connID, frame string) (DeltaResult, error) {
	return p.p.EncodeDelta(ctx, connID, frame)
}

// ResetDelta forgets the reference frame of connID.
func (p *Pipeline) ResetDelta(connID string) {
	p.p.ResetDelta(connID)
}

// Stats returns a snapshot of every component.
func (p *Pipeline) Stats() Stats {
	return p.p.Stats()
}

// PressureState returns "normal", "high" or "critical".
func (p *Pipeline) PressureState() string {
	return p.p.PressureState().String()
}

// ObserveMemory feeds a usage percentage measured by the caller to the pressure monitor.
func (p *Pipeline) ObserveMemory(usagePercent float64) string {
	return p.p.Observe(usagePercent).String()
}

// BatchLimit is the largest batch ProcessFramesBatch accepts right now.
func (p *Pipeline) BatchLimit() int {
	return p.p.BatchLimit()
}

// FileResult contains the outcome of one frame file.
type FileResult struct {
	InputFile            string
	OutputFile           string
	OriginalSize         uint64
	OutputSize           uint64
	SizeReductionPercent float64
	CacheHit             bool
	Fallback             bool
	Err                  error
}

// BatchResult contains the outcome of ProcessFiles.
type BatchResult struct {
	Results            []FileResult
	SuccessfulCount    int
	TotalFiles         int
	TotalSizeReduction float64
}

// ProcessFiles processes frame files and writes the results into outputDir.
// Events go to the pipeline's reporter and event handler.
func (p *Pipeline) ProcessFiles(ctx context.Context, files []string, outputDir string, opts Options) (*BatchResult, error) {
	results, err := processing.ProcessFiles(ctx, p.p, files, outputDir, opts, p.rep)
	if err != nil {
		return nil, err
	}

	batch := &BatchResult{TotalFiles: len(files)}
	var totalIn, totalOut uint64
	for _, r := range results {
		batch.Results = append(batch.Results, FileResult{
			InputFile:            r.Filename,
			OutputFile:           r.OutputPath,
			OriginalSize:         r.InputSize,
			OutputSize:           r.OutputSize,
			SizeReductionPercent: util.CalculateSizeReduction(r.InputSize, r.OutputSize),
			CacheHit:             r.CacheHit,
			Fallback:             r.Fallback,
			Err:                  r.Err,
		})
		if r.Err == nil {
			batch.SuccessfulCount++
			totalIn += r.InputSize
			totalOut += r.OutputSize
		}
	}
	batch.TotalSizeReduction = util.CalculateSizeReduction(totalIn, totalOut)
	return batch, nil
}

// DeltaFile contains the outcome of delta-encoding one frame file.
type DeltaFile struct {
	InputFile      string
	OutputFile     string // empty when the frame was unchanged
	Kind           string
	ChangedPercent int
	Err            error
}

// DeltaFiles delta-encodes files in order as one connection and writes keyframes
// and deltas into outputDir.
func (p *Pipeline) DeltaFiles(ctx context.Context, connID string, files []string, outputDir string) ([]DeltaFile, error) {
	results, err := processing.DeltaFiles(ctx, p.p, connID, files, outputDir, p.rep)
	if err != nil {
		return nil, err
	}
	out := make([]DeltaFile, len(results))
	for i, r := range results {
		out[i] = DeltaFile{
			InputFile:      r.Filename,
			OutputFile:     r.OutputPath,
			ChangedPercent: r.ChangedPercent,
			Err:            r.Err,
		}
		if r.Err == nil {
			out[i].Kind = r.Kind.String()
		}
	}
	return out, nil
}

// FindFrames finds frame files (png, jpg, jpeg, b64) in a directory, sorted by name.
func FindFrames(dir string) ([]string, error) {
	return discovery.FindFrameFiles(dir)
}
