// Package denoise provides the denoise filters and the pressure-aware policy that picks one.
//
// Every filter borrows its output from the buffer pool. FilterSet.Apply takes ownership
// of its input and returns it (and any intermediates) to the pool whether or not the
// filter succeeds.
package denoise

import (
	"context"
	"fmt"
	"math"

	"github.com/five82/framegate/internal/bufpool"
	"github.com/five82/framegate/internal/pressure"
)

// Method names a denoise filter.
type Method string

const (
	Gaussian      Method = "gaussian"
	Median        Method = "median"
	Bilateral     Method = "bilateral"
	FastBilateral Method = "fast-bilateral"
)

// Methods lists all filters.
var Methods = []Method{Gaussian, Median, Bilateral, FastBilateral}

// ParseMethod validates a method name. The empty string selects fast-bilateral.
func ParseMethod(s string) (Method, error) {
	if s == "" {
		return FastBilateral, nil
	}
	for _, m := range Methods {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown denoise method %q (want gaussian, median, bilateral or fast-bilateral)", s)
}

// checkRows is how often filters look for cancellation.
const checkRows = 16

// Filter transforms src into a new buffer borrowed from pool. It does not return src.
type Filter interface {
	Apply(ctx context.Context, pool *bufpool.Pool, src *bufpool.Buffer, strength float64) (*bufpool.Buffer, error)
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(ctx context.Context, pool *bufpool.Pool, src *bufpool.Buffer, strength float64) (*bufpool.Buffer, error)

// Apply calls f.
func (f FilterFunc) Apply(ctx context.Context, pool *bufpool.Pool, src *bufpool.Buffer, strength float64) (*bufpool.Buffer, error) {
	return f(ctx, pool, src, strength)
}

// FilterSet holds the available filters.
type FilterSet struct {
	pool    *bufpool.Pool
	filters map[Method]Filter
}

// NewFilterSet returns the four standard filters backed by pool.
func NewFilterSet(pool *bufpool.Pool) *FilterSet {
	return &FilterSet{
		pool: pool,
		filters: map[Method]Filter{
			Gaussian:      FilterFunc(gaussian),
			Median:        FilterFunc(median),
			Bilateral:     FilterFunc(bilateral),
			FastBilateral: FilterFunc(fastBilateral),
		},
	}
}

// Register replaces the filter for m.
func (s *FilterSet) Register(m Method, f Filter) {
	s.filters[m] = f
}

// Select returns the method to run. Anything but Normal pressure forces fast-bilateral.
func Select(requested Method, state pressure.State) Method {
	if state != pressure.Normal {
		return FastBilateral
	}
	if requested == "" {
		return FastBilateral
	}
	return requested
}

// EffectiveStrength clamps strength to [0,1] and scales it by the recommended quality.
func EffectiveStrength(strength float64, state pressure.State) float64 {
	return clamp01(clamp01(strength) * state.RecommendedQuality())
}

// Apply runs method on src with strength clamped to [0,1]. src is always returned to the pool.
func (s *FilterSet) Apply(ctx context.Context, src *bufpool.Buffer, method Method, strength float64) (*bufpool.Buffer, error) {
	defer s.pool.Return(src)

	f, ok := s.filters[method]
	if !ok {
		return nil, fmt.Errorf("unknown denoise method %q", method)
	}
	return f.Apply(ctx, s.pool, src, clamp01(strength))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return min(max(v, 0), 1)
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// rowCheck reports the context error every checkRows rows.
func rowCheck(ctx context.Context, y int) error {
	if y%checkRows == 0 {
		return ctx.Err()
	}
	return nil
}

// fail returns dst to the pool and passes err through.
func fail(pool *bufpool.Pool, dst *bufpool.Buffer, err error) (*bufpool.Buffer, error) {
	pool.Return(dst)
	return nil, err
}
