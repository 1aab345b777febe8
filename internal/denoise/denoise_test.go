package denoise

import (
	"context"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/framegate/internal/bufpool"
	"github.com/five82/framegate/internal/pressure"
)

var gray = color.RGBA{R: 120, G: 120, B: 120, A: 255}

func uniform(pool *bufpool.Pool, w, h int, c color.RGBA) *bufpool.Buffer {
	buf := pool.Borrow(w, h, bufpool.FormatRGB)
	for y := range h {
		for x := range w {
			buf.Img.SetRGBA(x, y, c)
		}
	}
	return buf
}

func newPool() *bufpool.Pool {
	return bufpool.New(bufpool.Options{MaxPerBucket: 8})
}

func TestParseMethod(t *testing.T) {
	for _, m := range Methods {
		got, err := ParseMethod(string(m))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	got, err := ParseMethod("")
	require.NoError(t, err)
	assert.Equal(t, FastBilateral, got)

	_, err = ParseMethod("wavelet")
	assert.Error(t, err)
}

func TestSelectDowngradesUnderPressure(t *testing.T) {
	assert.Equal(t, Bilateral, Select(Bilateral, pressure.Normal))
	assert.Equal(t, FastBilateral, Select(Bilateral, pressure.High))
	assert.Equal(t, FastBilateral, Select(Median, pressure.Critical))
}

func TestEffectiveStrength(t *testing.T) {
	assert.InDelta(t, 0.8, EffectiveStrength(0.8, pressure.Normal), 1e-9)
	assert.InDelta(t, 0.48, EffectiveStrength(0.8, pressure.High), 1e-9)
	assert.InDelta(t, 0.3, EffectiveStrength(2, pressure.Critical), 1e-9)
	assert.Zero(t, EffectiveStrength(-1, pressure.Normal))
	assert.InDelta(t, 0.6, EffectiveStrength(5, pressure.High), 1e-9)
}

func TestParams(t *testing.T) {
	size, sigma := gaussianParams(0)
	assert.Equal(t, 3, size)
	assert.InDelta(t, 0.5, sigma, 1e-9)
	size, _ = gaussianParams(1)
	assert.Equal(t, 9, size)

	window, step := medianParams(0.3)
	assert.Equal(t, 5, window)
	assert.Equal(t, 2, step)
	window, step = medianParams(1)
	assert.Equal(t, 7, window)
	assert.Equal(t, 1, step)

	radius, sigmaSpace, sigmaColor := bilateralParams(0.5)
	assert.Equal(t, 4, radius)
	assert.InDelta(t, 3.5, sigmaSpace, 1e-9)
	assert.InDelta(t, 30.0, sigmaColor, 1e-9)

	factor, radius, _ := fastBilateralParams(0.2)
	assert.Equal(t, 2, factor)
	assert.Equal(t, 2, radius)
	factor, _, _ = fastBilateralParams(0.9)
	assert.Equal(t, 3, factor)
}

func TestGaussianKernelNormalized(t *testing.T) {
	k := gaussianKernel(5, 1.2)
	var sum float64
	for _, v := range k {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Greater(t, k[12], k[0], "centre outweighs corners")
}

func TestFiltersPreserveUniformFrames(t *testing.T) {
	for _, m := range Methods {
		t.Run(string(m), func(t *testing.T) {
			pool := newPool()
			set := NewFilterSet(pool)
			out, err := set.Apply(context.Background(), uniform(pool, 24, 18, gray), m, 0.8)
			require.NoError(t, err)
			assert.Equal(t, 24, out.Width())
			assert.Equal(t, 18, out.Height())
			for _, p := range []struct{ x, y int }{{0, 0}, {12, 9}, {23, 17}} {
				assert.Equal(t, gray, out.Img.RGBAAt(p.x, p.y))
			}
		})
	}
}

func TestFiltersSmoothNoise(t *testing.T) {
	for _, m := range []Method{Gaussian, Median, Bilateral} {
		t.Run(string(m), func(t *testing.T) {
			pool := newPool()
			src := uniform(pool, 21, 21, gray)
			src.Img.SetRGBA(10, 10, color.RGBA{R: 150, G: 150, B: 150, A: 255})

			out, err := NewFilterSet(pool).Apply(context.Background(), src, m, 1)
			require.NoError(t, err)
			assert.Less(t, out.Img.RGBAAt(10, 10).R, uint8(150))
		})
	}
}

func TestMedianRemovesOutlierExactly(t *testing.T) {
	pool := newPool()
	src := uniform(pool, 15, 15, gray)
	src.Img.SetRGBA(7, 7, color.RGBA{R: 0, G: 255, B: 0, A: 255})

	out, err := NewFilterSet(pool).Apply(context.Background(), src, Median, 1)
	require.NoError(t, err)
	assert.Equal(t, gray, out.Img.RGBAAt(7, 7))
}

func TestApplyReturnsInputToPool(t *testing.T) {
	pool := newPool()
	set := NewFilterSet(pool)
	src := uniform(pool, 16, 16, gray)

	out, err := set.Apply(context.Background(), src, Gaussian, 0.5)
	require.NoError(t, err)
	require.NotSame(t, src, out)

	assert.Equal(t, 1, pool.Stats().PooledBufs, "input went back to the pool")
	assert.Same(t, src, pool.Borrow(16, 16, bufpool.FormatRGB))
}

func TestFastBilateralReturnsIntermediates(t *testing.T) {
	pool := newPool()
	set := NewFilterSet(pool)
	out, err := set.Apply(context.Background(), uniform(pool, 30, 30, gray), FastBilateral, 0.2)
	require.NoError(t, err)
	pool.Return(out)

	stats := pool.Stats()
	// Input and output (30x30) plus the two 15x15 intermediates.
	assert.Equal(t, 4, stats.PooledBufs)
	assert.Equal(t, stats.Borrowed, stats.Returned)
}

func TestCancelledFilterReleasesBuffers(t *testing.T) {
	for _, m := range Methods {
		t.Run(string(m), func(t *testing.T) {
			pool := newPool()
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := NewFilterSet(pool).Apply(ctx, uniform(pool, 40, 40, gray), m, 0.5)
			require.ErrorIs(t, err, context.Canceled)
			stats := pool.Stats()
			assert.Equal(t, stats.Borrowed, stats.Returned, "no buffer leaks on cancellation")
		})
	}
}

func TestUnknownMethodReturnsInput(t *testing.T) {
	pool := newPool()
	_, err := NewFilterSet(pool).Apply(context.Background(), uniform(pool, 4, 4, gray), Method("nope"), 0.5)
	require.Error(t, err)
	assert.Equal(t, uint64(1), pool.Stats().Returned)
}
