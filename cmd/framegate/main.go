// Package main provides the CLI entry point for framegate.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/five82/framegate/internal/config"
	"github.com/five82/framegate/internal/discovery"
	"github.com/five82/framegate/internal/logging"
	"github.com/five82/framegate/internal/processing"
	"github.com/five82/framegate/internal/reporter"
	"github.com/five82/framegate/internal/util"
)

const (
	appName    = "framegate"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "process":
		err = runProcess(os.Args[2:])
	case "delta":
		err = runDelta(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "version", "--version":
		fmt.Printf("%s version %s\n", appName, appVersion)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s - Resource-adaptive frame processing

Usage:
  %s <command> [options]

Commands:
  process   Denoise, scale and recompress frame files
  delta     Delta-encode a frame sequence as one connection
  stats     Print pipeline and host statistics
  version   Print version information
  help      Show this help message

Run '%s <command> --help' for command options.
`, appName, appName, appName)
}

// commonArgs holds the flags shared by every command.
type commonArgs struct {
	configPath  string
	logDir      string
	verbose     bool
	noLog       bool
	lowResource bool
	metricsAddr string

	keyframeInterval int
}

func (ca *commonArgs) register(fs *flag.FlagSet) {
	fs.StringVar(&ca.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&ca.logDir, "l", "", "Log directory")
	fs.StringVar(&ca.logDir, "log-dir", "", "Log directory")
	fs.BoolVar(&ca.verbose, "v", false, "Enable verbose output")
	fs.BoolVar(&ca.verbose, "verbose", false, "Enable verbose output")
	fs.BoolVar(&ca.noLog, "no-log", false, "Disable log file creation")
	fs.BoolVar(&ca.lowResource, "low-resource", false, "Enable low-resource mode")
	fs.StringVar(&ca.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

const commonUsage = `
Common Options:
  --config <PATH>        YAML configuration file (defaults are used otherwise)
  -l, --log-dir <PATH>   Log directory (defaults to ~/.local/state/framegate/logs)
  -v, --verbose          Enable verbose output for troubleshooting
  --no-log               Disable log file creation
  --low-resource         Smaller caches and pools (also LOW_RESOURCE_MODE=1)
  --metrics-addr <ADDR>  Serve Prometheus metrics, e.g. :9090
`

// frameArgs holds the frame processing flags of the process command.
type frameArgs struct {
	inputPath string
	outputDir string
	denoise   bool
	method    string
	strength  float64
	quality   float64
	scale     float64
}

func runProcess(args []string) error {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Denoise, scale and recompress frame files.

Usage:
  %s process [options]

Required:
  -i, --input <PATH>     Frame file or directory of frames (png, jpg, jpeg, b64)
  -o, --output <PATH>    Output directory

Processing Options:
  --denoise              Enable denoising
  --method <NAME>        gaussian, median, bilateral or fast-bilateral. Default: fast-bilateral
  --strength <0-1>       Denoise strength. Default: 0.5
  --quality <0-1>        Enable JPEG compression at this quality. Default: off (max quality)
  --scale <FACTOR>       Scale by this factor, clamped to %dx%d..%dx%d. Default: off
%s`, appName, config.DefaultMinWidth, config.DefaultMinHeight, config.DefaultMaxWidth, config.DefaultMaxHeight, commonUsage)
	}

	var ca commonArgs
	var fa frameArgs
	ca.register(fs)
	fs.StringVar(&fa.inputPath, "i", "", "Input frame file or directory")
	fs.StringVar(&fa.inputPath, "input", "", "Input frame file or directory")
	fs.StringVar(&fa.outputDir, "o", "", "Output directory")
	fs.StringVar(&fa.outputDir, "output", "", "Output directory")
	fs.BoolVar(&fa.denoise, "denoise", false, "Enable denoising")
	fs.StringVar(&fa.method, "method", "", "Denoise method")
	fs.Float64Var(&fa.strength, "strength", 0.5, "Denoise strength")
	fs.Float64Var(&fa.quality, "quality", 0, "JPEG quality (0-1)")
	fs.Float64Var(&fa.scale, "scale", 0, "Scale factor")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fa.inputPath == "" {
		return fmt.Errorf("input path is required (-i/--input)")
	}
	if fa.outputDir == "" {
		return fmt.Errorf("output directory is required (-o/--output)")
	}

	opts := processing.DefaultOptions()
	opts.Denoise = fa.denoise
	opts.DenoiseMethod = fa.method
	opts.DenoiseStrength = fa.strength
	if fa.quality > 0 {
		opts.Compress = true
		opts.Quality = fa.quality
	}
	if fa.scale > 0 {
		opts.Scale = true
		opts.ScaleFactor = fa.scale
	}

	return withSession(ca, fa.inputPath, fa.outputDir, func(ctx context.Context, s *session) error {
		_, err := processing.ProcessFiles(ctx, s.pipeline, s.files, s.outputDir, opts, s.rep)
		s.reportStats()
		return err
	})
}

func runDelta(args []string) error {
	fs := flag.NewFlagSet("delta", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Delta-encode a frame sequence as one connection. Frames are taken in
filename order. Keyframes are written as *_key.*, deltas as *_delta.jpg.

Usage:
  %s delta [options]

Required:
  -i, --input <PATH>     Directory of frames (png, jpg, jpeg, b64)
  -o, --output <PATH>    Output directory

Delta Options:
  --conn <ID>            Connection id. Default: a random UUID
  --keyframe-interval <N>  Force a keyframe every N frames. Default: %d
%s`, appName, config.DefaultDeltaKeyframeInterval, commonUsage)
	}

	var ca commonArgs
	var inputPath, outputDir, connID string
	var interval int
	ca.register(fs)
	fs.StringVar(&inputPath, "i", "", "Input directory")
	fs.StringVar(&inputPath, "input", "", "Input directory")
	fs.StringVar(&outputDir, "o", "", "Output directory")
	fs.StringVar(&outputDir, "output", "", "Output directory")
	fs.StringVar(&connID, "conn", "", "Connection id")
	fs.IntVar(&interval, "keyframe-interval", 0, "Keyframe interval")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if inputPath == "" {
		return fmt.Errorf("input path is required (-i/--input)")
	}
	if outputDir == "" {
		return fmt.Errorf("output directory is required (-o/--output)")
	}
	if connID == "" {
		connID = uuid.NewString()
	}
	if interval > 0 {
		ca.keyframeInterval = interval
	}

	return withSession(ca, inputPath, outputDir, func(ctx context.Context, s *session) error {
		_, err := processing.DeltaFiles(ctx, s.pipeline, connID, s.files, s.outputDir, s.rep)
		s.reportStats()
		return err
	})
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Print pipeline and host statistics after one pressure sample.

Usage:
  %s stats [options]

Options:
  --json                 Print the full statistics as JSON
%s`, appName, commonUsage)
	}

	var ca commonArgs
	var asJSON bool
	ca.register(fs)
	fs.BoolVar(&asJSON, "json", false, "Print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(ca)
	if err != nil {
		return err
	}
	p, err := processing.New(cfg, processing.Deps{})
	if err != nil {
		return err
	}
	p.SamplePressure()

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p.Stats())
	}
	rep := reporter.NewTerminalReporterVerbose(ca.verbose)
	reportHostAndStats(rep, p)
	return nil
}

func loadConfig(ca commonArgs) (*config.Config, error) {
	cfg := config.NewConfig()
	if ca.configPath != "" {
		var err error
		if cfg, err = config.LoadFile(ca.configPath); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	if ca.lowResource {
		cfg.LowResourceMode = true
	}
	if ca.keyframeInterval > 0 {
		cfg.DeltaKeyframeInterval = ca.keyframeInterval
	}
	cfg.Verbose = ca.verbose
	cfg.ApplyLowResource()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// session bundles what a file command needs once inputs are resolved.
type session struct {
	pipeline  *processing.Pipeline
	files     []string
	outputDir string
	rep       reporter.Reporter
}

func (s *session) reportStats() {
	s.rep.StatsSnapshot(processing.Summarize(s.pipeline.Stats()))
}

func reportHostAndStats(rep reporter.Reporter, p *processing.Pipeline) {
	sysInfo := util.GetSystemInfo()
	rep.Hardware(reporter.HardwareSummary{
		Hostname:     sysInfo.Hostname,
		LogicalCores: sysInfo.LogicalCores,
		TotalMemory:  sysInfo.TotalMemory,
	})
	rep.StatsSnapshot(processing.Summarize(p.Stats()))
}

// withSession sets up logging, reporting, metrics and a started pipeline around run.
func withSession(ca commonArgs, inputPath, outputDir string, run func(context.Context, *session) error) error {
	inputPath, err := filepath.Abs(inputPath)
	if err != nil {
		return fmt.Errorf("invalid input path: %w", err)
	}
	outputDir, err = filepath.Abs(outputDir)
	if err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}

	logDir := ca.logDir
	if logDir == "" {
		logDir = logging.DefaultLogDir()
	}
	logger, err := logging.Setup(logDir, ca.verbose, ca.noLog, os.Args)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer func() { _ = logger.Close() }()

	files, err := discovery.ResolveInputs(inputPath)
	if err != nil {
		return err
	}
	logger.Info("resolved inputs", "input", inputPath, "frames", len(files))

	cfg, err := loadConfig(ca)
	if err != nil {
		return err
	}

	var rep reporter.Reporter = reporter.NewTerminalReporterVerbose(ca.verbose)
	if logger.Path() != "" {
		rep = reporter.NewCompositeReporter(rep, reporter.NewLogReporter(logger.Writer()))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	p, err := processing.New(cfg, processing.Deps{
		Logger:     logger.Kit(),
		Registerer: reg,
		Reporter:   rep,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if ca.metricsAddr != "" {
		srv := serveMetrics(ca.metricsAddr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	p.Start(ctx)
	defer p.Stop()

	if path := logger.Path(); path != "" {
		rep.Verbose(fmt.Sprintf("Log file: %s", path))
	}

	err = run(ctx, &session{pipeline: p, files: files, outputDir: outputDir, rep: rep})
	if errors.Is(err, context.Canceled) {
		logger.Info("interrupted")
		return fmt.Errorf("interrupted")
	}
	return err
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Info("metrics server stopped", "addr", addr, "err", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}
