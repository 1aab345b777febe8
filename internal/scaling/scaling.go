// Package scaling resizes pooled frames within resolution bounds.
package scaling

import (
	"math"

	"golang.org/x/image/draw"

	"github.com/five82/framegate/internal/bufpool"
)

// SkipTolerance is the relative size change below which scaling is skipped.
const SkipTolerance = 0.05

// Bounds limits output resolution.
type Bounds struct {
	MinWidth, MinHeight int
	MaxWidth, MaxHeight int
}

// TargetSize returns the output size for a w x h frame scaled by factor and fitted to
// bounds with the aspect ratio kept. Bounds never upscale past the source size.
// ok is false when the result is within SkipTolerance of the source.
func TargetSize(w, h int, factor float64, b Bounds) (nw, nh int, ok bool) {
	if w <= 0 || h <= 0 || factor <= 0 {
		return w, h, false
	}
	fw, fh := float64(w)*factor, float64(h)*factor

	if b.MaxWidth > 0 && b.MaxHeight > 0 && (fw > float64(b.MaxWidth) || fh > float64(b.MaxHeight)) {
		r := math.Min(float64(b.MaxWidth)/fw, float64(b.MaxHeight)/fh)
		fw, fh = fw*r, fh*r
	}
	if b.MinWidth > 0 && b.MinHeight > 0 && (fw < float64(b.MinWidth) || fh < float64(b.MinHeight)) {
		r := math.Max(float64(b.MinWidth)/fw, float64(b.MinHeight)/fh)
		// Do not grow past the source.
		r = math.Min(r, math.Min(float64(w)/fw, float64(h)/fh))
		fw, fh = fw*r, fh*r
	}

	nw = max(int(math.Round(fw)), 1)
	nh = max(int(math.Round(fh)), 1)
	if withinTolerance(nw, w) && withinTolerance(nh, h) {
		return w, h, false
	}
	return nw, nh, true
}

func withinTolerance(n, orig int) bool {
	return math.Abs(float64(n-orig)) <= float64(orig)*SkipTolerance
}

// Scale resamples src into a w x h buffer borrowed from pool. src is not returned.
// fast selects bilinear instead of Catmull-Rom.
func Scale(pool *bufpool.Pool, src *bufpool.Buffer, w, h int, fast bool) *bufpool.Buffer {
	dst := pool.Borrow(w, h, src.Format)
	var kernel draw.Interpolator = draw.CatmullRom
	if fast {
		kernel = draw.ApproxBiLinear
	}
	kernel.Scale(dst.Img, dst.Img.Bounds(), src.Img, src.Img.Bounds(), draw.Src, nil)
	return dst
}
