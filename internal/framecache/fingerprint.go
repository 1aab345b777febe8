package framecache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Sample sizes taken from each end of a frame.
const (
	SampleBytes            = 500
	LowResourceSampleBytes = 200
)

// Fingerprint hashes key together with the first and last sampleBytes of frame and
// the frame length. Frames that differ only in the unsampled middle collide; the
// cache accepts that in exchange for not hashing whole frames.
//
// SHA-256 is used normally; fast switches to xxhash64.
func Fingerprint(frame []byte, key string, sampleBytes int, fast bool) string {
	head, tail := sample(frame, sampleBytes)

	var size [8]byte
	binary.LittleEndian.PutUint64(size[:], uint64(len(frame)))

	if fast {
		d := xxhash.New()
		_, _ = d.WriteString(key)
		_, _ = d.Write(size[:])
		_, _ = d.Write(head)
		_, _ = d.Write(tail)
		return strconv.FormatUint(d.Sum64(), 16)
	}

	h := sha256.New()
	h.Write([]byte(key))
	h.Write(size[:])
	h.Write(head)
	h.Write(tail)
	return hex.EncodeToString(h.Sum(nil))
}

func sample(frame []byte, n int) (head, tail []byte) {
	if len(frame) <= 2*n {
		return frame, nil
	}
	return frame[:n], frame[len(frame)-n:]
}
