// Package imageio converts between base64 frame strings, encoded image bytes and pooled pixel buffers.
package imageio

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register decoder
	"strings"

	"golang.org/x/image/draw"

	"github.com/five82/framegate/internal/bufpool"
)

// ErrInvalidFrame marks frames that cannot be decoded.
var ErrInvalidFrame = errors.New("invalid frame")

// MaxPixels bounds decoded frame area.
const MaxPixels = 4096 * 4096

// JPEGDataURLPrefix labels re-encoded output that came from a data URL.
const JPEGDataURLPrefix = "data:image/jpeg;base64,"

// Frame is a base64 frame split into its optional data URL prefix and decoded bytes.
type Frame struct {
	Prefix string // "data:image/png;base64," style prefix, or ""
	Data   []byte
}

// ParseFrame decodes a base64 frame, accepting an optional data URL prefix.
func ParseFrame(s string) (Frame, error) {
	var f Frame
	payload := s
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 || !strings.HasSuffix(s[:comma], ";base64") {
			return Frame{}, fmt.Errorf("%w: malformed data url", ErrInvalidFrame)
		}
		f.Prefix = s[:comma+1]
		payload = s[comma+1:]
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Frame{}, fmt.Errorf("%w: empty payload", ErrInvalidFrame)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some clients strip padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return Frame{}, fmt.Errorf("%w: base64: %v", ErrInvalidFrame, err)
		}
	}
	f.Data = data
	return f, nil
}

// FormatFrame base64-encodes JPEG bytes, keeping the data URL convention of the input.
func FormatFrame(prefix string, data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	if prefix == "" {
		return encoded
	}
	return JPEGDataURLPrefix + encoded
}

// DecodeInto decodes image bytes into a buffer borrowed from pool.
// Frames with transparent pixels are tagged FormatARGB.
func DecodeInto(pool *bufpool.Pool, data []byte) (*bufpool.Buffer, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > MaxPixels {
		return nil, fmt.Errorf("%w: unsupported dimensions %dx%d", ErrInvalidFrame, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	format := bufpool.FormatRGB
	if o, ok := src.(interface{ Opaque() bool }); ok && !o.Opaque() {
		format = bufpool.FormatARGB
	}

	b := src.Bounds()
	buf := pool.Borrow(b.Dx(), b.Dy(), format)
	draw.Draw(buf.Img, buf.Img.Bounds(), src, b.Min, draw.Src)
	return buf, nil
}

// Decode decodes image bytes into a freshly allocated RGBA image.
func Decode(data []byte) (*image.RGBA, error) {
	buf, err := DecodeInto(bufpool.New(bufpool.Options{Disabled: true}), data)
	if err != nil {
		return nil, err
	}
	return buf.Img, nil
}

// EncodeJPEG encodes img with quality in (0,1].
func EncodeJPEG(img image.Image, quality float64) ([]byte, error) {
	q := int(quality*100 + 0.5)
	q = min(max(q, 1), 100)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return out.Bytes(), nil
}

// Ext returns the file extension matching the encoded image in data, ".bin" when
// the format is not recognised.
func Ext(data []byte) string {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ".bin"
	}
	if format == "jpeg" {
		return ".jpg"
	}
	return "." + format
}

// ClampQuality bounds q to [lo, hi].
func ClampQuality(q, lo, hi float64) float64 {
	return min(max(q, lo), hi)
}
