// Package compact stores large byte slices zstd-compressed while they sit idle.
package compact

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Threshold is the smallest payload worth compressing.
const Threshold = 8 * 1024

var (
	encOnce sync.Once
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	initErr error
)

func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	encOnce.Do(func() {
		encoder, initErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
		if initErr != nil {
			return
		}
		decoder, initErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return encoder, decoder, initErr
}

// Bytes holds a payload either raw or compressed.
type Bytes struct {
	data       []byte
	size       int
	compressed bool
}

// Pack stores b, compressing it when enabled and len(b) >= Threshold.
// Pack takes ownership of b when it is stored raw.
func Pack(b []byte, enabled bool) (Bytes, error) {
	if !enabled || len(b) < Threshold {
		return Bytes{data: b, size: len(b)}, nil
	}
	enc, _, err := codecs()
	if err != nil {
		return Bytes{}, fmt.Errorf("zstd init: %w", err)
	}
	return Bytes{data: enc.EncodeAll(b, make([]byte, 0, len(b)/4)), size: len(b), compressed: true}, nil
}

// Unpack returns the original payload. For raw storage the returned slice is shared.
// dst is reused for compressed payloads when it has enough capacity.
func (c Bytes) Unpack(dst []byte) ([]byte, error) {
	if !c.compressed {
		return c.data, nil
	}
	_, dec, err := codecs()
	if err != nil {
		return nil, fmt.Errorf("zstd init: %w", err)
	}
	out, err := dec.DecodeAll(c.data, dst[:0])
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// Len returns the original payload size.
func (c Bytes) Len() int { return c.size }

// Stored returns the number of bytes actually held.
func (c Bytes) Stored() int { return len(c.data) }

// Compressed reports whether the payload is held compressed.
func (c Bytes) Compressed() bool { return c.compressed }
