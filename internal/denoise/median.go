package denoise

import (
	"context"
	"math"
	"slices"

	"github.com/five82/framegate/internal/bufpool"
)

// SubsampleBelow is the strength under which the median runs on a 2x2 grid.
const SubsampleBelow = 0.7

// medianParams returns the window size (odd) and grid step for strength.
func medianParams(strength float64) (window, step int) {
	window = 3 + int(math.Round(strength*2))*2
	step = 1
	if strength < SubsampleBelow {
		step = 2
	}
	return window, step
}

// median applies a per-channel sliding-window median. With a step of 2 only every
// second pixel in each direction is computed and its value fills the rest of its cell.
func median(ctx context.Context, pool *bufpool.Pool, src *bufpool.Buffer, strength float64) (*bufpool.Buffer, error) {
	window, step := medianParams(strength)
	half := window / 2

	w, h := src.Width(), src.Height()
	dst := pool.Borrow(w, h, src.Format)
	copy(dst.Img.Pix, src.Img.Pix)

	sp, stride := src.Img.Pix, src.Img.Stride
	dp := dst.Img.Pix
	premultiplied := src.Format == bufpool.FormatARGB

	var channels [4][]uint8
	for c := range channels {
		channels[c] = make([]uint8, 0, window*window)
	}
	mid := window * window / 2

	for y := half; y < h-half; y += step {
		if err := rowCheck(ctx, y-half); err != nil {
			return fail(pool, dst, err)
		}
		for x := half; x < w-half; x += step {
			for c := range channels {
				channels[c] = channels[c][:0]
			}
			for ky := -half; ky <= half; ky++ {
				row := (y+ky)*stride + (x-half)*4
				for kx := 0; kx < window; kx++ {
					i := row + kx*4
					channels[0] = append(channels[0], sp[i])
					channels[1] = append(channels[1], sp[i+1])
					channels[2] = append(channels[2], sp[i+2])
					channels[3] = append(channels[3], sp[i+3])
				}
			}
			var px [4]uint8
			for c := range channels {
				slices.Sort(channels[c])
				px[c] = channels[c][mid]
			}
			if premultiplied {
				px[0], px[1], px[2] = min(px[0], px[3]), min(px[1], px[3]), min(px[2], px[3])
			}

			for dy := 0; dy < step && y+dy < h-half; dy++ {
				for dx := 0; dx < step && x+dx < w-half; dx++ {
					o := (y+dy)*stride + (x+dx)*4
					copy(dp[o:o+4], px[:])
				}
			}
		}
	}
	return dst, nil
}
