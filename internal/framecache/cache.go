// Package framecache maps (frame fingerprint, processing key) to processed output.
//
// Entries expire MaxAge after their last access and the cache never holds more than
// MaxSize entries; inserting into a full cache evicts the least recently used entry.
// Fingerprints sample the frame instead of hashing it whole, so distinct frames can
// collide. Callers needing bit-exact results must not rely on this cache.
package framecache

import (
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LowResourceMaxEntryBytes is the largest output cached in low-resource mode.
const LowResourceMaxEntryBytes = 100 * 1024

// Options configures a Cache.
type Options struct {
	MaxSize int
	MaxAge  time.Duration
	// LowResource samples fewer bytes with a cheaper hash, skips large entries and
	// trims the cache to half its size on every sweep.
	LowResource bool
	Now         func() time.Time
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Size        int     `json:"size"`
	MaxSize     int     `json:"max_size"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	Evictions   uint64  `json:"evictions"`
	Expirations uint64  `json:"expirations"`
	Skipped     uint64  `json:"skipped"`
	LowResource bool    `json:"low_resource"`
}

type entry struct {
	data       []byte
	lastAccess atomic.Int64 // unix nanoseconds
}

// Cache is a bounded TTL+LRU cache safe for concurrent use.
type Cache struct {
	entries     *lru.Cache[string, *entry]
	maxSize     int
	maxAge      time.Duration
	lowResource bool
	sampleBytes int
	now         func() time.Time

	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	expirations atomic.Uint64
	skipped     atomic.Uint64
}

// New creates a Cache.
func New(opts Options) (*Cache, error) {
	if opts.MaxSize < 1 {
		return nil, fmt.Errorf("cache max size must be at least 1, got %d", opts.MaxSize)
	}
	entries, err := lru.New[string, *entry](opts.MaxSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru: %w", err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	sampleBytes := SampleBytes
	if opts.LowResource {
		sampleBytes = LowResourceSampleBytes
	}

	return &Cache{
		entries:     entries,
		maxSize:     opts.MaxSize,
		maxAge:      opts.MaxAge,
		lowResource: opts.LowResource,
		sampleBytes: sampleBytes,
		now:         opts.Now,
	}, nil
}

// Key returns the fingerprint used for frame and processing key.
func (c *Cache) Key(frame []byte, key string) string {
	return Fingerprint(frame, key, c.sampleBytes, c.lowResource)
}

// Lookup returns the cached output for frame and key. The returned slice is shared
// and must not be modified.
func (c *Cache) Lookup(frame []byte, key string) ([]byte, bool) {
	return c.LookupFingerprint(c.Key(frame, key))
}

// LookupFingerprint is Lookup for a precomputed fingerprint.
func (c *Cache) LookupFingerprint(fp string) ([]byte, bool) {
	e, ok := c.entries.Get(fp)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	now := c.now()
	if c.expired(e, now) {
		c.entries.Remove(fp)
		c.expirations.Add(1)
		c.misses.Add(1)
		return nil, false
	}

	e.lastAccess.Store(now.UnixNano())
	c.hits.Add(1)
	return e.data, true
}

// Store caches data for frame and key, evicting the least recently used entry if full.
func (c *Cache) Store(frame []byte, key string, data []byte) {
	c.StoreFingerprint(c.Key(frame, key), data)
}

// StoreFingerprint is Store for a precomputed fingerprint.
func (c *Cache) StoreFingerprint(fp string, data []byte) {
	if c.lowResource && len(data) > LowResourceMaxEntryBytes {
		c.skipped.Add(1)
		return
	}

	e := &entry{data: data}
	e.lastAccess.Store(c.now().UnixNano())
	if c.entries.Add(fp, e) {
		c.evictions.Add(1)
	}
}

// Sweep removes expired entries and, in low-resource mode, trims to half capacity.
// Returns the number of entries removed.
func (c *Cache) Sweep() int {
	now := c.now()
	removed := 0
	for _, k := range c.entries.Keys() {
		if e, ok := c.entries.Peek(k); ok && c.expired(e, now) {
			if c.entries.Remove(k) {
				c.expirations.Add(1)
				removed++
			}
		}
	}
	if c.lowResource {
		removed += c.trim(c.maxSize / 2)
	}
	return removed
}

// Reclaim implements pressure.Reclaimer. An aggressive reclaim also trims to half capacity.
func (c *Cache) Reclaim(aggressive bool) {
	c.Sweep()
	if aggressive {
		c.trim(c.maxSize / 2)
	}
}

// trim removes least recently used entries until at most target remain.
func (c *Cache) trim(target int) int {
	removed := 0
	for c.entries.Len() > target {
		if _, _, ok := c.entries.RemoveOldest(); !ok {
			break
		}
		c.evictions.Add(1)
		removed++
	}
	return removed
}

func (c *Cache) expired(e *entry, now time.Time) bool {
	if c.maxAge <= 0 {
		return false
	}
	return now.Sub(time.Unix(0, e.lastAccess.Load())) > c.maxAge
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Purge removes every entry.
func (c *Cache) Purge() {
	c.entries.Purge()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	s := Stats{
		Size:        c.entries.Len(),
		MaxSize:     c.maxSize,
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
		Skipped:     c.skipped.Load(),
		LowResource: c.lowResource,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}
