package framecache

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newCache(t *testing.T, opts Options) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	opts.Now = clock.Now
	c, err := New(opts)
	require.NoError(t, err)
	return c, clock
}

func frame(i int) []byte {
	return []byte(fmt.Sprintf("frame-%04d", i))
}

func TestLookupHitAndMiss(t *testing.T) {
	c, _ := newCache(t, Options{MaxSize: 10, MaxAge: time.Minute})

	_, ok := c.Lookup(frame(1), "q=0.8")
	assert.False(t, ok)

	c.Store(frame(1), "q=0.8", []byte("out"))
	got, ok := c.Lookup(frame(1), "q=0.8")
	require.True(t, ok)
	assert.Equal(t, []byte("out"), got)

	_, ok = c.Lookup(frame(1), "q=0.5")
	assert.False(t, ok, "processing key is part of the fingerprint")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
	assert.InDelta(t, 1.0/3.0, stats.HitRate, 1e-9)
}

func TestCacheBoundEvictsLeastRecentlyUsed(t *testing.T) {
	const maxSize, extra = 5, 3
	c, clock := newCache(t, Options{MaxSize: maxSize, MaxAge: time.Minute})

	for i := range maxSize {
		c.Store(frame(i), "k", []byte{byte(i)})
		clock.Advance(time.Millisecond)
	}

	// Refresh the oldest entry so it is no longer the eviction candidate.
	_, ok := c.Lookup(frame(0), "k")
	require.True(t, ok)

	for i := maxSize; i < maxSize+extra; i++ {
		c.Store(frame(i), "k", []byte{byte(i)})
		assert.LessOrEqual(t, c.Len(), maxSize)
	}

	_, ok = c.Lookup(frame(0), "k")
	assert.True(t, ok, "refreshed entry survives overflow")
	for i := 1; i <= extra; i++ {
		_, ok = c.Lookup(frame(i), "k")
		assert.False(t, ok, "entry %d should have been evicted", i)
	}
	assert.Equal(t, uint64(extra), c.Stats().Evictions)
}

func TestExpiryIsMeasuredFromLastAccess(t *testing.T) {
	c, clock := newCache(t, Options{MaxSize: 10, MaxAge: 30 * time.Second})
	c.Store(frame(1), "k", []byte("a"))

	clock.Advance(20 * time.Second)
	_, ok := c.Lookup(frame(1), "k")
	require.True(t, ok)

	clock.Advance(20 * time.Second)
	_, ok = c.Lookup(frame(1), "k")
	require.True(t, ok, "hit refreshed the access time")

	clock.Advance(31 * time.Second)
	_, ok = c.Lookup(frame(1), "k")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Expirations)
	assert.Zero(t, c.Len())
}

func TestSweepRemovesExpired(t *testing.T) {
	c, clock := newCache(t, Options{MaxSize: 10, MaxAge: 30 * time.Second})
	c.Store(frame(1), "k", []byte("a"))
	clock.Advance(25 * time.Second)
	c.Store(frame(2), "k", []byte("b"))
	clock.Advance(10 * time.Second)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
}

func TestLowResourceSweepTrimsToHalf(t *testing.T) {
	c, clock := newCache(t, Options{MaxSize: 10, MaxAge: time.Minute, LowResource: true})
	for i := range 10 {
		c.Store(frame(i), "k", []byte{byte(i)})
		clock.Advance(time.Millisecond)
	}

	assert.Equal(t, 5, c.Sweep())
	assert.Equal(t, 5, c.Len())
	_, ok := c.Lookup(frame(0), "k")
	assert.False(t, ok, "oldest entries go first")
	_, ok = c.Lookup(frame(9), "k")
	assert.True(t, ok)
}

func TestLowResourceSkipsLargeEntries(t *testing.T) {
	c, _ := newCache(t, Options{MaxSize: 10, MaxAge: time.Minute, LowResource: true})
	c.Store(frame(1), "k", make([]byte, LowResourceMaxEntryBytes+1))
	assert.Zero(t, c.Len())
	assert.Equal(t, uint64(1), c.Stats().Skipped)
}

func TestAggressiveReclaimTrims(t *testing.T) {
	c, _ := newCache(t, Options{MaxSize: 8, MaxAge: time.Minute})
	for i := range 8 {
		c.Store(frame(i), "k", []byte{byte(i)})
	}
	c.Reclaim(false)
	assert.Equal(t, 8, c.Len())
	c.Reclaim(true)
	assert.Equal(t, 4, c.Len())
}

func TestFingerprintSamplesEnds(t *testing.T) {
	a := bytes.Repeat([]byte{1}, 4000)
	b := bytes.Clone(a)
	b[2000] = 2 // middle byte, outside the sample

	for _, fast := range []bool{false, true} {
		assert.Equal(t, Fingerprint(a, "k", SampleBytes, fast), Fingerprint(b, "k", SampleBytes, fast),
			"differences outside the sampled ends are not seen")

		c := bytes.Clone(a)
		c[10] = 3
		assert.NotEqual(t, Fingerprint(a, "k", SampleBytes, fast), Fingerprint(c, "k", SampleBytes, fast))
		assert.NotEqual(t, Fingerprint(a, "k", SampleBytes, fast), Fingerprint(a[:3999], "k", SampleBytes, fast))
	}
	assert.NotEqual(t, Fingerprint(a, "k", SampleBytes, false), Fingerprint(a, "k", SampleBytes, true))
}

func TestNewRejectsZeroSize(t *testing.T) {
	_, err := New(Options{MaxSize: 0})
	assert.Error(t, err)
}
