package monitor

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// sweepEvery rate-limits full cache sweeps; between sweeps the LRU size
// bound keeps memory in check.
const sweepEvery = 30 * time.Second

// cacheSize bounds the number of cached entries regardless of TTL.
const cacheSize = 1024

// cacheEntry pairs a full per-process read with its capture time.
type cacheEntry struct {
	info       ProcessInfo
	capturedAt time.Time
}

// infoCache amortizes expensive full per-process introspection. An entry
// younger than TTL serves the cheap refresh path; an entry at or past TTL
// is reported as a miss so the caller re-reads in full.
type infoCache struct {
	entries   *lru.Cache
	ttl       time.Duration
	lastSweep time.Time
}

func newInfoCache(ttl time.Duration) *infoCache {
	// lru.New only fails for a non-positive size.
	entries, _ := lru.New(cacheSize)
	return &infoCache{entries: entries, ttl: ttl}
}

// get returns the cached info for pid if the entry is still fresh.
func (c *infoCache) get(pid int32, now time.Time) (ProcessInfo, bool) {
	v, ok := c.entries.Get(pid)
	if !ok {
		return ProcessInfo{}, false
	}
	e := v.(cacheEntry)
	if now.Sub(e.capturedAt) >= c.ttl {
		return ProcessInfo{}, false
	}
	return e.info, true
}

// peekCPU returns the last-known instantaneous CPU for pid, fresh or not,
// without touching recency. Used for cheap pre-ranking.
func (c *infoCache) peekCPU(pid int32) (float64, bool) {
	v, ok := c.entries.Peek(pid)
	if !ok {
		return 0, false
	}
	return v.(cacheEntry).info.CPUPercent, true
}

// put stores a fresh full read.
func (c *infoCache) put(pid int32, info ProcessInfo, now time.Time) {
	c.entries.Add(pid, cacheEntry{info: info, capturedAt: now})
}

// update rewrites a cached entry's info without touching its capture time,
// so a cheap refresh never extends the entry's life past TTL.
func (c *infoCache) update(pid int32, info ProcessInfo) {
	v, ok := c.entries.Peek(pid)
	if !ok {
		return
	}
	c.entries.Add(pid, cacheEntry{info: info, capturedAt: v.(cacheEntry).capturedAt})
}

// invalidate removes pid immediately, e.g. after a kill.
func (c *infoCache) invalidate(pid int32) {
	c.entries.Remove(pid)
}

// sweep removes entries whose age is at or past TTL. Runs at most once per
// sweepEvery; returns how many entries were dropped.
func (c *infoCache) sweep(now time.Time) int {
	if now.Sub(c.lastSweep) < sweepEvery {
		return 0
	}
	c.lastSweep = now
	removed := 0
	for _, k := range c.entries.Keys() {
		v, ok := c.entries.Peek(k)
		if !ok {
			continue
		}
		if now.Sub(v.(cacheEntry).capturedAt) >= c.ttl {
			c.entries.Remove(k)
			removed++
		}
	}
	return removed
}

// len reports the current entry count.
func (c *infoCache) len() int { return c.entries.Len() }
