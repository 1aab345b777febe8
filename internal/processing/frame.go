package processing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/five82/framegate/internal/admission"
	"github.com/five82/framegate/internal/bufpool"
	"github.com/five82/framegate/internal/denoise"
	"github.com/five82/framegate/internal/imageio"
	"github.com/five82/framegate/internal/metrics"
	"github.com/five82/framegate/internal/pressure"
	"github.com/five82/framegate/internal/scaling"
)

// Options are the caller's processing requests. The pipeline may weaken them under pressure.
type Options struct {
	Denoise         bool    `json:"denoise"`
	DenoiseMethod   string  `json:"denoise_method"`
	DenoiseStrength float64 `json:"denoise_strength"`
	Compress        bool    `json:"compress"`
	Quality         float64 `json:"quality"`
	Scale           bool    `json:"scale"`
	ScaleFactor     float64 `json:"scale_factor"`
}

// DefaultOptions returns fast-bilateral at half strength, 0.75 quality and no scaling.
func DefaultOptions() Options {
	return Options{
		DenoiseMethod:   string(denoise.FastBilateral),
		DenoiseStrength: 0.5,
		Quality:         0.75,
		ScaleFactor:     1,
	}
}

// Timings break down where a frame spent its time.
type Timings struct {
	Decode  time.Duration `json:"decode"`
	Denoise time.Duration `json:"denoise"`
	Scale   time.Duration `json:"scale"`
	Encode  time.Duration `json:"encode"`
	Total   time.Duration `json:"total"`
}

// Adjustments record what was actually applied after pressure adaptation.
type Adjustments struct {
	PressureState      string  `json:"pressure_state"`
	RecommendedQuality float64 `json:"recommended_quality"`
	DenoiseMethod      string  `json:"denoise_method,omitempty"`
	MethodDowngraded   bool    `json:"method_downgraded,omitempty"`
	DenoiseStrength    float64 `json:"denoise_strength,omitempty"`
	Quality            float64 `json:"quality"`
	ScaleFactor        float64 `json:"scale_factor,omitempty"`
	ScaleCapped        bool    `json:"scale_capped,omitempty"`
}

// String renders the adjustments for logs, e.g. "pressure=high quality=0.45 scale=0.75(capped)".
func (a Adjustments) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pressure=%s quality=%.2f", a.PressureState, a.Quality)
	if a.DenoiseMethod != "" {
		fmt.Fprintf(&b, " denoise=%s:%.2f", a.DenoiseMethod, a.DenoiseStrength)
		if a.MethodDowngraded {
			b.WriteString("(downgraded)")
		}
	}
	if a.ScaleFactor > 0 {
		fmt.Fprintf(&b, " scale=%.2f", a.ScaleFactor)
		if a.ScaleCapped {
			b.WriteString("(capped)")
		}
	}
	return b.String()
}

// FrameStats describes how a frame was processed.
type FrameStats struct {
	Timings     Timings     `json:"timings"`
	Adjustments Adjustments `json:"adjustments"`
}

// Result is the outcome of ProcessFrame.
type Result struct {
	Output   string     `json:"output"`
	CacheHit bool       `json:"cache_hit"`
	Fallback bool       `json:"fallback,omitempty"` // Output is the unmodified input
	Stats    FrameStats `json:"stats"`
}

// BatchItem is one entry of a batch result, in input order.
type BatchItem struct {
	Index  int
	Result Result
	Err    error
}

// plan is the effective processing derived from Options and the pressure state.
type plan struct {
	denoise  bool
	method   denoise.Method
	strength float64
	quality  float64
	scale    bool
	factor   float64
	fast     bool
	adj      Adjustments
}

// key canonicalizes every parameter that affects output.
func (pl plan) key() string {
	method, strength := "none", 0.0
	if pl.denoise {
		method, strength = string(pl.method), pl.strength
	}
	factor := 0.0
	if pl.scale {
		factor = pl.factor
	}
	return fmt.Sprintf("denoise=%s:%.3f|quality=%.3f|scale=%.3f|fast=%t", method, strength, pl.quality, factor, pl.fast)
}

// errNonFinite rejects NaN and infinite option values.
var errNonFinite = errors.New("option value is not a finite number")

func (p *Pipeline) plan(opts Options, state pressure.State) (plan, error) {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"denoise_strength", opts.DenoiseStrength},
		{"quality", opts.Quality},
		{"scale_factor", opts.ScaleFactor},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return plan{}, fmt.Errorf("%s: %w", f.name, errNonFinite)
		}
	}

	rq := state.RecommendedQuality()
	pl := plan{
		fast: state != pressure.Normal,
		adj:  Adjustments{PressureState: state.String(), RecommendedQuality: rq},
	}

	if opts.Denoise {
		requested, err := denoise.ParseMethod(opts.DenoiseMethod)
		if err != nil {
			return plan{}, err
		}
		pl.method = denoise.Select(requested, state)
		pl.strength = denoise.EffectiveStrength(opts.DenoiseStrength, state)
		pl.denoise = pl.strength > 0
		pl.adj.DenoiseMethod = string(pl.method)
		pl.adj.MethodDowngraded = pl.method != requested
		pl.adj.DenoiseStrength = pl.strength
	}

	pl.quality = p.cfg.MaxQuality
	if opts.Compress {
		q := opts.Quality
		if q <= 0 {
			q = p.cfg.EncodeQuality
		}
		pl.quality = imageio.ClampQuality(q*rq, p.cfg.MinQuality, p.cfg.MaxQuality)
	}
	pl.adj.Quality = pl.quality

	pl.factor = 1
	if opts.Scale {
		pl.scale = true
		if opts.ScaleFactor > 0 {
			pl.factor = opts.ScaleFactor
		}
	}
	if pl.scale && state != pressure.Normal && pl.factor > p.cfg.PressureScaleCap {
		pl.factor = p.cfg.PressureScaleCap
		pl.adj.ScaleCapped = true
	}
	if pl.scale {
		pl.adj.ScaleFactor = pl.factor
	}
	return pl, nil
}

// ProcessFrame runs one base64 frame through the pipeline. It returns ErrOverloaded
// (wrapping the admission error) when no permit is available and an *InvalidInputError
// for frames that cannot be decoded. Any other failure returns the input unmodified
// with Fallback set.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame string, opts Options) (Result, error) {
	start := time.Now()

	permit, err := p.acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer permit.Release()
	p.metrics.InFlight.Inc()
	defer p.metrics.InFlight.Dec()

	res, err := p.process(ctx, frame, opts)
	if err != nil {
		return Result{}, err
	}
	res.Stats.Timings.Total = time.Since(start)

	p.processed.Add(1)
	p.metrics.FramesProcessed.Inc()
	p.metrics.ProcessingSeconds.Observe(res.Stats.Timings.Total.Seconds())
	return res, nil
}

func (p *Pipeline) acquire(ctx context.Context) (*admission.Permit, error) {
	permit, err := p.gate.Acquire(ctx, p.cfg.AcquireTimeout)
	switch {
	case err == nil:
		return permit, nil
	case errors.Is(err, admission.ErrRejected):
		p.reject(metrics.ReasonCritical)
	case errors.Is(err, admission.ErrTimeout):
		p.reject(metrics.ReasonTimeout)
	default:
		return nil, err
	}
	return nil, fmt.Errorf("%w: %w", ErrOverloaded, err)
}

func (p *Pipeline) reject(reason string) {
	p.rejected.Add(1)
	p.metrics.Rejected.WithLabelValues(reason).Inc()
}

func (p *Pipeline) invalidInput(input string, err error) error {
	p.invalid.Add(1)
	p.metrics.InvalidFrames.Inc()
	return &InvalidInputError{Input: input, Err: err}
}

type rendered struct {
	data    []byte
	timings Timings
}

func (p *Pipeline) process(ctx context.Context, frame string, opts Options) (Result, error) {
	in, err := imageio.ParseFrame(frame)
	if err != nil {
		return Result{}, p.invalidInput(frame, err)
	}

	state := p.monitor.State()
	pl, err := p.plan(opts, state)
	if err != nil {
		return Result{}, p.invalidInput(frame, err)
	}
	res := Result{Stats: FrameStats{Adjustments: pl.adj}}

	var out rendered
	if p.cache == nil {
		out, err = p.render(ctx, in.Data, pl)
	} else {
		fp := p.cache.Key(in.Data, pl.key())
		if data, ok := p.cache.LookupFingerprint(fp); ok {
			p.cacheHits.Add(1)
			p.metrics.CacheHits.Inc()
			res.Output = imageio.FormatFrame(in.Prefix, data)
			res.CacheHit = true
			return res, nil
		}
		// Identical concurrent misses render once.
		var v any
		v, err, _ = p.flight.Do(fp, func() (any, error) {
			r, err := p.render(ctx, in.Data, pl)
			if err != nil {
				return nil, err
			}
			p.cache.StoreFingerprint(fp, r.data)
			return r, nil
		})
		if err == nil {
			out = v.(rendered)
		}
	}

	switch {
	case err == nil:
		res.Output = imageio.FormatFrame(in.Prefix, out.data)
		res.Stats.Timings = out.timings
		return res, nil
	case errors.Is(err, imageio.ErrInvalidFrame):
		return Result{}, p.invalidInput(frame, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Result{}, err
	}

	p.failed.Add(1)
	p.metrics.Fallbacks.Inc()
	_ = level.Warn(p.logger).Log("msg", "frame processing failed, returning input", "err", err)
	p.rep.Warning(fmt.Sprintf("Frame processing failed, returning input unmodified: %v", err))
	res.Output = frame
	res.Fallback = true
	return res, nil
}

// render decodes, filters, scales and encodes one frame. Every pooled buffer is back in
// the pool when it returns, including after a panic in a stage.
func (p *Pipeline) render(ctx context.Context, data []byte, pl plan) (out rendered, err error) {
	var cur *bufpool.Buffer
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during processing: %v", r)
		}
		if cur != nil {
			p.pool.Return(cur)
		}
	}()

	t := time.Now()
	cur, err = imageio.DecodeInto(p.pool, data)
	if err != nil {
		return rendered{}, err
	}
	out.timings.Decode = time.Since(t)

	if pl.denoise {
		t = time.Now()
		src := cur
		cur = nil // FilterSet.Apply owns src from here
		cur, err = p.filters.Apply(ctx, src, pl.method, pl.strength)
		if err != nil {
			return rendered{}, fmt.Errorf("denoise %s: %w", pl.method, err)
		}
		out.timings.Denoise = time.Since(t)
	}

	if pl.scale {
		if w, h, ok := scaling.TargetSize(cur.Width(), cur.Height(), pl.factor, p.bounds); ok {
			t = time.Now()
			scaled := scaling.Scale(p.pool, cur, w, h, pl.fast)
			p.pool.Return(cur)
			cur = scaled
			out.timings.Scale = time.Since(t)
		}
	}

	t = time.Now()
	out.data, err = imageio.EncodeJPEG(cur.Img, pl.quality)
	if err != nil {
		return rendered{}, err
	}
	out.timings.Encode = time.Since(t)
	return out, nil
}

// ProcessFramesBatch processes frames concurrently, bounded by the admission capacity.
// A batch larger than BatchLimit fails with ErrOverloaded before any frame is touched.
// Per-frame errors are reported in the items.
func (p *Pipeline) ProcessFramesBatch(ctx context.Context, frames []string, opts Options) ([]BatchItem, error) {
	if limit := p.BatchLimit(); len(frames) > limit {
		p.reject(metrics.ReasonBatch)
		return nil, fmt.Errorf("%w: batch of %d frames exceeds limit of %d", ErrOverloaded, len(frames), limit)
	}

	items := make([]BatchItem, len(frames))
	var g errgroup.Group
	g.SetLimit(p.gate.Capacity())
	for i, frame := range frames {
		g.Go(func() error {
			res, err := p.ProcessFrame(ctx, frame, opts)
			items[i] = BatchItem{Index: i, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return items, nil
}
