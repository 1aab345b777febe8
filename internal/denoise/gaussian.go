package denoise

import (
	"context"
	"math"

	"github.com/five82/framegate/internal/bufpool"
)

// gaussianParams returns kernel size (odd, 3-9) and sigma for strength.
func gaussianParams(strength float64) (size int, sigma float64) {
	return 3 + int(math.Round(strength*3))*2, 0.5 + strength
}

// gaussianKernel returns a normalized size x size kernel in row-major order.
func gaussianKernel(size int, sigma float64) []float64 {
	kernel := make([]float64, size*size)
	half := size / 2
	twoSigmaSq := 2 * sigma * sigma

	var sum float64
	for y := -half; y <= half; y++ {
		for x := -half; x <= half; x++ {
			v := math.Exp(-float64(x*x+y*y) / twoSigmaSq)
			kernel[(y+half)*size+(x+half)] = v
			sum += v
		}
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// gaussian convolves the interior with a Gaussian kernel. Pixels closer than half a
// kernel to the border are copied unchanged.
func gaussian(ctx context.Context, pool *bufpool.Pool, src *bufpool.Buffer, strength float64) (*bufpool.Buffer, error) {
	size, sigma := gaussianParams(strength)
	kernel := gaussianKernel(size, sigma)
	half := size / 2

	w, h := src.Width(), src.Height()
	dst := pool.Borrow(w, h, src.Format)
	copy(dst.Img.Pix, src.Img.Pix)

	sp, stride := src.Img.Pix, src.Img.Stride
	dp := dst.Img.Pix

	for y := half; y < h-half; y++ {
		if err := rowCheck(ctx, y-half); err != nil {
			return fail(pool, dst, err)
		}
		for x := half; x < w-half; x++ {
			var r, g, b, a float64
			k := 0
			for ky := -half; ky <= half; ky++ {
				row := (y+ky)*stride + (x-half)*4
				for kx := 0; kx < size; kx++ {
					wt := kernel[k]
					k++
					i := row + kx*4
					r += float64(sp[i]) * wt
					g += float64(sp[i+1]) * wt
					b += float64(sp[i+2]) * wt
					a += float64(sp[i+3]) * wt
				}
			}
			o := y*stride + x*4
			dp[o] = clampByte(r)
			dp[o+1] = clampByte(g)
			dp[o+2] = clampByte(b)
			dp[o+3] = clampByte(a)
		}
	}
	return dst, nil
}
