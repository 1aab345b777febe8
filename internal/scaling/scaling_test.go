package scaling

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/five82/framegate/internal/bufpool"
)

var defaultBounds = Bounds{MinWidth: 160, MinHeight: 120, MaxWidth: 1280, MaxHeight: 720}

func TestTargetSize(t *testing.T) {
	tests := []struct {
		name       string
		w, h       int
		factor     float64
		wantW      int
		wantH      int
		wantScaled bool
	}{
		{"half", 640, 480, 0.5, 320, 240, true},
		{"within tolerance", 640, 480, 0.97, 640, 480, false},
		{"clamped to max", 1920, 1080, 1.0, 1280, 720, true},
		{"clamped to min", 640, 480, 0.1, 160, 120, true},
		{"small source not upscaled", 100, 80, 0.5, 100, 80, false},
		{"invalid factor", 640, 480, 0, 640, 480, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, ok := TargetSize(tt.w, tt.h, tt.factor, defaultBounds)
			assert.Equal(t, tt.wantScaled, ok)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestScale(t *testing.T) {
	pool := bufpool.New(bufpool.Options{MaxPerBucket: 2})
	src := pool.Borrow(40, 20, bufpool.FormatRGB)
	fill := color.RGBA{R: 200, G: 100, B: 50, A: 255}
	for y := range 20 {
		for x := range 40 {
			src.Img.SetRGBA(x, y, fill)
		}
	}

	for _, fast := range []bool{false, true} {
		dst := Scale(pool, src, 20, 10, fast)
		assert.Equal(t, 20, dst.Width())
		assert.Equal(t, 10, dst.Height())
		assert.Equal(t, fill, dst.Img.RGBAAt(10, 5))
		pool.Return(dst)
	}
}
