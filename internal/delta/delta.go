// Package delta implements per-connection block-differencing of frame sequences.
//
// Each connection keeps its last reference frame. A frame is compared with the
// reference block by block; nearly identical frames produce a NoChange marker, heavily
// changed frames are sent whole as keyframes, and everything in between produces a
// delta image: the reference with only the changed blocks replaced.
package delta

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/five82/framegate/internal/compact"
	"github.com/five82/framegate/internal/imageio"
)

// NoChangePayload is the marker returned instead of an image for unchanged frames.
const NoChangePayload = "NO_CHANGE"

// Decision thresholds on the percentage of changed blocks.
const (
	NoChangeBelow   = 5
	KeyframeAbove   = 70
	blockChangedPct = 10
)

// Kind classifies an encoded frame.
type Kind int

const (
	Keyframe Kind = iota
	Delta
	NoChange
)

func (k Kind) String() string {
	switch k {
	case Keyframe:
		return "keyframe"
	case Delta:
		return "delta"
	case NoChange:
		return "no_change"
	default:
		return "unknown"
	}
}

// Result is the outcome of encoding one frame.
type Result struct {
	Kind Kind
	// Payload is the input frame for keyframes, a JPEG for deltas and nil for NoChange.
	Payload        []byte
	ChangedPercent int
}

// IsKeyframe reports whether the frame was sent whole.
func (r Result) IsKeyframe() bool { return r.Kind == Keyframe }

// Options configures a Codec.
type Options struct {
	ChangeThreshold  int
	BlockSize        int
	KeyframeInterval int
	// Quality is the JPEG quality of delta payloads.
	Quality float64
	// IdleTimeout is how long an unused connection keeps its reference.
	IdleTimeout time.Duration
	// Compact stores references zstd-compressed.
	Compact bool
	Now     func() time.Time
	Logger  log.Logger
}

// Stats is a snapshot of codec counters.
type Stats struct {
	Connections    int    `json:"connections"`
	Keyframes      uint64 `json:"keyframes"`
	Deltas         uint64 `json:"deltas"`
	NoChange       uint64 `json:"no_change"`
	Evicted        uint64 `json:"evicted"`
	ReferenceBytes int64  `json:"reference_bytes"`
}

type connState struct {
	mu       sync.Mutex
	ref      compact.Bytes
	w, h     int
	hasRef   bool
	counter  int
	lastSeen atomic.Int64 // unix nanoseconds
}

// Codec holds delta state for every connection.
type Codec struct {
	opts Options

	mu    sync.Mutex
	conns map[string]*connState

	keyframes atomic.Uint64
	deltas    atomic.Uint64
	noChange  atomic.Uint64
	evicted   atomic.Uint64
	refBytes  atomic.Int64
}

// New creates a Codec.
func New(opts Options) *Codec {
	if opts.BlockSize < 2 {
		opts.BlockSize = 16
	}
	if opts.KeyframeInterval < 1 {
		opts.KeyframeInterval = 30
	}
	if opts.Quality <= 0 || opts.Quality > 1 {
		opts.Quality = 0.75
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	return &Codec{opts: opts, conns: make(map[string]*connState)}
}

// Encode delta-encodes frame (encoded image bytes) for connID. Frames for one
// connection must be submitted in order.
func (c *Codec) Encode(connID string, frame []byte) (Result, error) {
	cur, err := imageio.Decode(frame)
	if err != nil {
		return Result{}, err
	}

	st := c.state(connID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastSeen.Store(c.opts.Now().UnixNano())

	st.counter++
	w, h := cur.Rect.Dx(), cur.Rect.Dy()
	if st.counter%c.opts.KeyframeInterval == 0 || !st.hasRef || st.w != w || st.h != h {
		return c.keyframe(st, cur, frame, 100)
	}

	refPix, err := st.ref.Unpack(nil)
	if err != nil {
		// Unreadable reference: start over from this frame.
		_ = level.Warn(c.opts.Logger).Log("msg", "delta reference unreadable, sending keyframe", "conn", connID, "err", err)
		return c.keyframe(st, cur, frame, 100)
	}
	ref := &image.RGBA{Pix: refPix, Stride: w * 4, Rect: cur.Rect}

	changed, total := c.changedBlocks(ref, cur)
	pct := len(changed) * 100 / total

	switch {
	case pct < NoChangeBelow:
		c.noChange.Add(1)
		return Result{Kind: NoChange, ChangedPercent: 0}, nil
	case pct > KeyframeAbove:
		return c.keyframe(st, cur, frame, 100)
	}

	out := image.NewRGBA(cur.Rect)
	copy(out.Pix, ref.Pix)
	for _, r := range changed {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			start := out.PixOffset(r.Min.X, y)
			end := start + r.Dx()*4
			copy(out.Pix[start:end], cur.Pix[start:end])
		}
	}

	payload, err := imageio.EncodeJPEG(out, c.opts.Quality)
	if err != nil {
		return Result{}, fmt.Errorf("delta encode: %w", err)
	}
	if err := c.storeRef(st, cur); err != nil {
		return Result{}, err
	}
	c.deltas.Add(1)
	return Result{Kind: Delta, Payload: payload, ChangedPercent: pct}, nil
}

func (c *Codec) keyframe(st *connState, cur *image.RGBA, frame []byte, pct int) (Result, error) {
	if err := c.storeRef(st, cur); err != nil {
		return Result{}, err
	}
	c.keyframes.Add(1)
	return Result{Kind: Keyframe, Payload: frame, ChangedPercent: pct}, nil
}

// storeRef must be called with st.mu held. It takes ownership of cur.Pix.
func (c *Codec) storeRef(st *connState, cur *image.RGBA) error {
	packed, err := compact.Pack(cur.Pix, c.opts.Compact)
	if err != nil {
		return fmt.Errorf("store reference: %w", err)
	}
	c.refBytes.Add(int64(packed.Stored() - st.ref.Stored()))
	st.ref = packed
	st.w, st.h = cur.Rect.Dx(), cur.Rect.Dy()
	st.hasRef = true
	return nil
}

// changedBlocks returns the changed block rectangles and the total block count.
func (c *Codec) changedBlocks(ref, cur *image.RGBA) ([]image.Rectangle, int) {
	bs := c.opts.BlockSize
	threshold := c.opts.ChangeThreshold
	w, h := cur.Rect.Dx(), cur.Rect.Dy()

	var changed []image.Rectangle
	total := 0
	for by := 0; by < h; by += bs {
		for bx := 0; bx < w; bx += bs {
			total++
			block := image.Rect(bx, by, min(bx+bs, w), min(by+bs, h))

			checked, differing := 0, 0
			for y := block.Min.Y; y < block.Max.Y; y += 2 {
				for x := block.Min.X; x < block.Max.X; x += 2 {
					checked++
					i := y*cur.Stride + x*4
					if pixelDiffers(ref.Pix[i:i+3], cur.Pix[i:i+3], threshold) {
						differing++
					}
				}
			}
			if differing*100/checked > blockChangedPct {
				changed = append(changed, block)
			}
		}
	}
	return changed, total
}

func pixelDiffers(a, b []uint8, threshold int) bool {
	for ch := range 3 {
		d := int(a[ch]) - int(b[ch])
		if d > threshold || -d > threshold {
			return true
		}
	}
	return false
}

func (c *Codec) state(connID string) *connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.conns[connID]
	if !ok {
		st = &connState{}
		c.conns[connID] = st
	}
	return st
}

// Reset drops the reference and frame counter of connID.
func (c *Codec) Reset(connID string) {
	c.mu.Lock()
	st, ok := c.conns[connID]
	delete(c.conns, connID)
	c.mu.Unlock()
	if ok {
		c.release(st)
	}
}

// EvictIdle drops connections unused for longer than idle and returns how many were dropped.
func (c *Codec) EvictIdle(idle time.Duration) int {
	cutoff := c.opts.Now().Add(-idle).UnixNano()

	c.mu.Lock()
	var stale []*connState
	for id, st := range c.conns {
		if st.lastSeen.Load() < cutoff {
			stale = append(stale, st)
			delete(c.conns, id)
		}
	}
	c.mu.Unlock()

	for _, st := range stale {
		c.release(st)
	}
	if len(stale) > 0 {
		c.evicted.Add(uint64(len(stale)))
		_ = level.Debug(c.opts.Logger).Log("msg", "evicted idle delta connections", "count", len(stale))
	}
	return len(stale)
}

// Reclaim implements pressure.Reclaimer. An aggressive reclaim halves the idle timeout.
func (c *Codec) Reclaim(aggressive bool) {
	idle := c.opts.IdleTimeout
	if idle <= 0 {
		return
	}
	if aggressive {
		idle /= 2
	}
	c.EvictIdle(idle)
}

func (c *Codec) release(st *connState) {
	st.mu.Lock()
	c.refBytes.Add(-int64(st.ref.Stored()))
	st.ref = compact.Bytes{}
	st.hasRef = false
	st.mu.Unlock()
}

// Stats returns a snapshot of codec counters.
func (c *Codec) Stats() Stats {
	c.mu.Lock()
	conns := len(c.conns)
	c.mu.Unlock()
	return Stats{
		Connections:    conns,
		Keyframes:      c.keyframes.Load(),
		Deltas:         c.deltas.Load(),
		NoChange:       c.noChange.Load(),
		Evicted:        c.evicted.Load(),
		ReferenceBytes: c.refBytes.Load(),
	}
}
