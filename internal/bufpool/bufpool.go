// Package bufpool reuses pixel buffers keyed by (width, height, format).
package bufpool

import (
	"image"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Format is the pixel layout of a buffer.
type Format uint8

const (
	// FormatRGB is opaque RGB stored as RGBA with alpha ignored.
	FormatRGB Format = iota
	// FormatARGB carries a meaningful alpha channel.
	FormatARGB
)

func (f Format) String() string {
	if f == FormatARGB {
		return "argb"
	}
	return "rgb"
}

// MaxBuckets is the bucket count kept by an aggressive prune.
const MaxBuckets = 5

// Buffer is a pooled pixel buffer. It carries no identity beyond its shape.
type Buffer struct {
	Img    *image.RGBA
	Format Format

	returnedAt time.Time
}

// Width returns the buffer width.
func (b *Buffer) Width() int { return b.Img.Rect.Dx() }

// Height returns the buffer height.
func (b *Buffer) Height() int { return b.Img.Rect.Dy() }

type key struct {
	w, h   int
	format Format
}

type bucket struct {
	bufs     []*Buffer
	lastUsed time.Time
}

// Options configures a Pool.
type Options struct {
	// Disabled makes every borrow allocate and every return discard.
	Disabled     bool
	MaxPerBucket int
	MaxAge       time.Duration
	Now          func() time.Time
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Borrowed   uint64  `json:"borrowed"`
	Returned   uint64  `json:"returned"`
	Created    uint64  `json:"created"`
	Discarded  uint64  `json:"discarded"`
	HitRate    float64 `json:"hit_rate"`
	Buckets    int     `json:"buckets"`
	PooledBufs int     `json:"pooled_buffers"`
}

// Pool is a bounded, bucketed buffer pool safe for concurrent use.
type Pool struct {
	disabled     bool
	maxPerBucket int
	maxAge       time.Duration
	now          func() time.Time

	mu      sync.Mutex
	buckets map[key]*bucket

	borrowed  atomic.Uint64
	returned  atomic.Uint64
	created   atomic.Uint64
	discarded atomic.Uint64
}

// New creates a Pool.
func New(opts Options) *Pool {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pool{
		disabled:     opts.Disabled,
		maxPerBucket: max(opts.MaxPerBucket, 0),
		maxAge:       opts.MaxAge,
		now:          opts.Now,
		buckets:      make(map[key]*bucket),
	}
}

// Borrow returns a buffer of the given shape, reusing a pooled one when available.
// Pixel contents of a reused FormatRGB buffer are unspecified.
func (p *Pool) Borrow(width, height int, format Format) *Buffer {
	p.borrowed.Add(1)
	if !p.disabled {
		k := key{width, height, format}
		p.mu.Lock()
		if b := p.buckets[k]; b != nil && len(b.bufs) > 0 {
			buf := b.bufs[len(b.bufs)-1]
			b.bufs[len(b.bufs)-1] = nil
			b.bufs = b.bufs[:len(b.bufs)-1]
			b.lastUsed = p.now()
			p.mu.Unlock()
			return buf
		}
		p.mu.Unlock()
	}

	p.created.Add(1)
	return &Buffer{
		Img:    image.NewRGBA(image.Rect(0, 0, width, height)),
		Format: format,
	}
}

// Return hands buf back to the pool. Buffers beyond the bucket limit are discarded.
func (p *Pool) Return(buf *Buffer) {
	if buf == nil || buf.Img == nil {
		return
	}
	p.returned.Add(1)
	if p.disabled || p.maxPerBucket == 0 {
		p.discarded.Add(1)
		return
	}

	// Alpha is meaningful for ARGB, so stale pixels must not leak into the next frame.
	if buf.Format == FormatARGB {
		clear(buf.Img.Pix)
	}

	k := key{buf.Width(), buf.Height(), buf.Format}
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()
	b := p.buckets[k]
	if b == nil {
		b = &bucket{}
		p.buckets[k] = b
	}
	b.lastUsed = now
	if len(b.bufs) >= p.maxPerBucket {
		p.discarded.Add(1)
		return
	}
	buf.returnedAt = now
	b.bufs = append(b.bufs, buf)
}

// Prune drops buffers idle longer than MaxAge and returns how many were dropped.
// An aggressive prune halves the age threshold and keeps only the MaxBuckets most
// recently used buckets.
func (p *Pool) Prune(aggressive bool) int {
	maxAge := p.maxAge
	if aggressive {
		maxAge /= 2
	}
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	dropped := 0
	for k, b := range p.buckets {
		if maxAge > 0 {
			kept := b.bufs[:0]
			for _, buf := range b.bufs {
				if now.Sub(buf.returnedAt) > maxAge {
					dropped++
					continue
				}
				kept = append(kept, buf)
			}
			clear(b.bufs[len(kept):])
			b.bufs = kept
		}
		if len(b.bufs) == 0 && now.Sub(b.lastUsed) > maxAge {
			delete(p.buckets, k)
		}
	}

	if aggressive && len(p.buckets) > MaxBuckets {
		keys := make([]key, 0, len(p.buckets))
		for k := range p.buckets {
			keys = append(keys, k)
		}
		// Most recently used first.
		slices.SortFunc(keys, func(a, b key) int {
			return p.buckets[b].lastUsed.Compare(p.buckets[a].lastUsed)
		})
		for _, k := range keys[MaxBuckets:] {
			dropped += len(p.buckets[k].bufs)
			delete(p.buckets, k)
		}
	}

	p.discarded.Add(uint64(dropped))
	return dropped
}

// Reclaim implements pressure.Reclaimer.
func (p *Pool) Reclaim(aggressive bool) {
	p.Prune(aggressive)
}

// Clear drops every pooled buffer.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.buckets {
		p.discarded.Add(uint64(len(b.bufs)))
	}
	clear(p.buckets)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	s := Stats{
		Borrowed:  p.borrowed.Load(),
		Returned:  p.returned.Load(),
		Created:   p.created.Load(),
		Discarded: p.discarded.Load(),
	}
	if s.Borrowed > 0 && s.Borrowed >= s.Created {
		s.HitRate = float64(s.Borrowed-s.Created) / float64(s.Borrowed)
	}

	p.mu.Lock()
	s.Buckets = len(p.buckets)
	for _, b := range p.buckets {
		s.PooledBufs += len(b.bufs)
	}
	p.mu.Unlock()
	return s
}
