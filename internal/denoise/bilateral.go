package denoise

import (
	"context"
	"math"

	"golang.org/x/image/draw"

	"github.com/five82/framegate/internal/bufpool"
)

// bilateralParams returns radius, spatial sigma and color sigma for strength.
func bilateralParams(strength float64) (radius int, sigmaSpace, sigmaColor float64) {
	return 3 + int(math.Round(strength*2)), 2 + strength*3, 15 + strength*30
}

// fastBilateralParams returns the downsample factor, radius and color sigma for strength.
func fastBilateralParams(strength float64) (factor, radius int, sigmaColor float64) {
	factor = 3
	if strength < 0.5 {
		factor = 2
	}
	return factor, 2 + int(math.Round(strength*2)), 15 + strength*30
}

// colorLUT holds exp(-d^2 / 2 sigma^2) for every channel difference d. The color
// weight of a neighbour is the product of the three channel lookups.
func colorLUT(sigma float64) *[256]float64 {
	var lut [256]float64
	twoSigmaSq := 2 * sigma * sigma
	for d := range lut {
		lut[d] = math.Exp(-float64(d*d) / twoSigmaSq)
	}
	return &lut
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}

// bilateral is the full-resolution edge-preserving filter. Neighbours outside the
// frame are clamped to the nearest edge pixel.
func bilateral(ctx context.Context, pool *bufpool.Pool, src *bufpool.Buffer, strength float64) (*bufpool.Buffer, error) {
	radius, sigmaSpace, sigmaColor := bilateralParams(strength)
	dst := pool.Borrow(src.Width(), src.Height(), src.Format)

	size := 2*radius + 1
	spatial := make([]float64, size*size)
	twoSigmaSq := 2 * sigmaSpace * sigmaSpace
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			spatial[(y+radius)*size+(x+radius)] = math.Exp(-float64(x*x+y*y) / twoSigmaSq)
		}
	}

	if err := bilateralPass(ctx, src, dst, radius, spatial, colorLUT(sigmaColor)); err != nil {
		return fail(pool, dst, err)
	}
	return dst, nil
}

// fastBilateral downsamples, runs a color-weight-only bilateral pass and upsamples back.
func fastBilateral(ctx context.Context, pool *bufpool.Pool, src *bufpool.Buffer, strength float64) (*bufpool.Buffer, error) {
	factor, radius, sigmaColor := fastBilateralParams(strength)
	w, h := src.Width(), src.Height()
	sw, sh := max(w/factor, 1), max(h/factor, 1)

	small := pool.Borrow(sw, sh, src.Format)
	defer pool.Return(small)
	draw.ApproxBiLinear.Scale(small.Img, small.Img.Bounds(), src.Img, src.Img.Bounds(), draw.Src, nil)

	filtered := pool.Borrow(sw, sh, src.Format)
	defer pool.Return(filtered)
	if err := bilateralPass(ctx, small, filtered, radius, nil, colorLUT(sigmaColor)); err != nil {
		return nil, err
	}

	dst := pool.Borrow(w, h, src.Format)
	draw.ApproxBiLinear.Scale(dst.Img, dst.Img.Bounds(), filtered.Img, filtered.Img.Bounds(), draw.Src, nil)
	return dst, nil
}

// bilateralPass writes the bilateral filter of src into dst. A nil spatial table uses
// color weights only.
func bilateralPass(ctx context.Context, src, dst *bufpool.Buffer, radius int, spatial []float64, lut *[256]float64) error {
	w, h := src.Width(), src.Height()
	sp, stride := src.Img.Pix, src.Img.Stride
	dp := dst.Img.Pix
	size := 2*radius + 1

	for y := 0; y < h; y++ {
		if err := rowCheck(ctx, y); err != nil {
			return err
		}
		for x := 0; x < w; x++ {
			c := y*stride + x*4
			cr, cg, cb := sp[c], sp[c+1], sp[c+2]

			var r, g, b, a, total float64
			for ky := -radius; ky <= radius; ky++ {
				ny := min(max(y+ky, 0), h-1)
				for kx := -radius; kx <= radius; kx++ {
					nx := min(max(x+kx, 0), w-1)
					i := ny*stride + nx*4
					wt := lut[absDiff(sp[i], cr)] * lut[absDiff(sp[i+1], cg)] * lut[absDiff(sp[i+2], cb)]
					if spatial != nil {
						wt *= spatial[(ky+radius)*size+(kx+radius)]
					}
					r += float64(sp[i]) * wt
					g += float64(sp[i+1]) * wt
					b += float64(sp[i+2]) * wt
					a += float64(sp[i+3]) * wt
					total += wt
				}
			}
			// The centre pixel always contributes, so total > 0.
			dp[c] = clampByte(r / total)
			dp[c+1] = clampByte(g / total)
			dp[c+2] = clampByte(b / total)
			dp[c+3] = clampByte(a / total)
		}
	}
	return nil
}
