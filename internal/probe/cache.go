// Package probe caches the results of the expensive external metadata probe.
// Two caches with different purposes live here: a long-lived metadata cache
// keyed by video id, and a short-lived de-duplication cache used to suppress
// duplicate log entries for rapid repeated requests.
package probe

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/skijbal/ytdlp2strm/internal/ytdlp"
)

// Defaults match the probe workload: metadata stays valid for the lifetime of
// a viewing session, duplicate-request suppression only needs seconds.
const (
	DefaultCapacity = 1000
	DefaultTTL      = time.Hour

	DefaultDedupeCapacity = 200
	DefaultDedupeTTL      = 30 * time.Second
)

// Func probes metadata for a video id.
type Func func(ctx context.Context, key string) (*ytdlp.Info, error)

// Stats holds cache counters for the metrics scrape hook.
type Stats struct {
	Hits   int64
	Misses int64
	Size   int
}

type entry struct {
	info       *ytdlp.Info
	insertedAt time.Time
}

// Cache is a capacity- and time-bounded cache in front of a probe Func.
// Concurrent misses for the same key are collapsed into a single probe.
type Cache struct {
	probe    Func
	ttl      time.Duration
	capacity int
	group    singleflight.Group

	mu      sync.Mutex
	entries map[string]entry
	hits    int64
	misses  int64
}

// NewCache returns a cache over probe. Non-positive capacity or ttl fall back
// to the defaults.
func NewCache(probe Func, capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		probe:    probe,
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]entry),
	}
}

// GetOrProbe returns cached metadata for key, probing on miss. A failed or
// empty probe yields nil and is not cached, so the next call retries.
func (c *Cache) GetOrProbe(ctx context.Context, key string) *ytdlp.Info {
	if info, ok := c.lookup(key); ok {
		return info
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent caller may have stored the value while this one was
		// queued on the flight group.
		if info, ok := c.lookup(key); ok {
			return info, nil
		}
		info, err := c.probe(ctx, key)
		if err != nil {
			return nil, err
		}
		if info != nil {
			c.store(key, info)
		}
		return info, nil
	})
	if err != nil {
		return nil
	}
	info, _ := v.(*ytdlp.Info)
	return info
}

// Stats returns hit/miss counters and the current entry count.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Size: len(c.entries)}
}

func (c *Cache) lookup(key string) (*ytdlp.Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Since(e.insertedAt) >= c.ttl {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	c.hits++
	return e.info, true
}

func (c *Cache) store(key string, info *ytdlp.Info) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictLocked()
	}
	c.entries[key] = entry{info: info, insertedAt: time.Now()}
}

// evictLocked removes one entry: an expired one if any exists, otherwise the
// oldest by insertion time. Caller must hold c.mu.
func (c *Cache) evictLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if time.Since(e.insertedAt) >= c.ttl {
			delete(c.entries, k)
			return
		}
		if oldestKey == "" || e.insertedAt.Before(oldest) {
			oldestKey = k
			oldest = e.insertedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Dedupe suppresses repeated keys within a TTL. It is used to avoid logging
// the same client/video pair on every rapid re-request.
type Dedupe struct {
	ttl      time.Duration
	capacity int

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewDedupe returns a Dedupe cache. Non-positive capacity or ttl fall back to
// the defaults.
func NewDedupe(capacity int, ttl time.Duration) *Dedupe {
	if capacity <= 0 {
		capacity = DefaultDedupeCapacity
	}
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &Dedupe{ttl: ttl, capacity: capacity, seen: make(map[string]time.Time)}
}

// Seen reports whether key was recorded within the TTL, recording it first
// when it was not.
func (d *Dedupe) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if at, ok := d.seen[key]; ok && now.Sub(at) < d.ttl {
		return true
	}
	if len(d.seen) >= d.capacity {
		d.evictLocked(now)
	}
	d.seen[key] = now
	return false
}

func (d *Dedupe) evictLocked(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, k)
			return
		}
		if oldestKey == "" || at.Before(oldest) {
			oldestKey = k
			oldest = at
		}
	}
	if oldestKey != "" {
		delete(d.seen, oldestKey)
	}
}
