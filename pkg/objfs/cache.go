package objfs

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Cache defaults.
const (
	DefaultCacheCapacity = 10000
	DefaultCacheTTL      = 30 * time.Second
)

// CacheEntry is a cached resolution of one path.
type CacheEntry struct {
	Kind         NodeKind
	Size         int64
	LastModified time.Time
	Expiry       time.Time

	// Listed marks entries learned from a listing. Their LastModified is
	// the store's write time and ignores any recorded modification time.
	Listed bool
}

// CacheStats are cumulative cache counters.
type CacheStats struct {
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	Invalidations uint64
}

// Cache maps paths to their last known kind and attributes. It is bounded
// by capacity (LRU) and by a per-entry TTL, and performs no I/O.
type Cache struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, CacheEntry]
	ttl time.Duration
	now func() time.Time

	// generation increases on every invalidation.
	generation uint64

	// under maps every "/"-terminated prefix of a cached key to the keys
	// below it, so invalidating a subtree touches only that subtree.
	under map[string]map[string]struct{}

	hits, misses, evictions, invalidations atomic.Uint64
}

// NewCache returns a cache. Non-positive arguments select the defaults.
func NewCache(capacity int, ttl time.Duration) *Cache {
	return newCache(capacity, ttl, time.Now)
}

func newCache(capacity int, ttl time.Duration, now func() time.Time) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &Cache{ttl: ttl, now: now, under: make(map[string]map[string]struct{})}
	lru, err := simplelru.NewLRU[string, CacheEntry](capacity, func(k string, _ CacheEntry) {
		c.unindex(k)
	})
	if err != nil {
		// Only returned for a non-positive size, excluded above.
		panic(err)
	}
	c.lru = lru
	return c
}

// cacheKey is "bucket/key"; the root of a bucket is "bucket/".
func cacheKey(p Path) string {
	return p.bucket + Separator + PathToKey(p)
}

// Get returns a copy of the live entry for p.
func (c *Cache) Get(p Path) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := cacheKey(p)
	e, ok := c.lru.Get(k)
	if ok && !c.now().Before(e.Expiry) {
		c.lru.Remove(k)
		c.evictions.Add(1)
		ok = false
	}
	if !ok {
		c.misses.Add(1)
		return CacheEntry{}, false
	}
	c.hits.Add(1)
	return e, true
}

// Put stores e for p with a fresh expiry.
func (c *Cache) Put(p Path, e CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(p, e)
}

// PutIfCurrent stores e only if no invalidation happened since gen was read
// from Generation. It reports whether the entry was stored.
func (c *Cache) PutIfCurrent(p Path, e CacheEntry, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return false
	}
	c.put(p, e)
	return true
}

func (c *Cache) put(p Path, e CacheEntry) {
	e.Expiry = c.now().Add(c.ttl)
	k := cacheKey(p)
	if c.lru.Add(k, e) {
		c.evictions.Add(1)
	}
	c.index(k)
}

// index records k under each of its prefixes. Callers hold mu.
func (c *Cache) index(k string) {
	for i := 0; i < len(k); i++ {
		if k[i] != '/' {
			continue
		}
		set, ok := c.under[k[:i+1]]
		if !ok {
			set = make(map[string]struct{})
			c.under[k[:i+1]] = set
		}
		set[k] = struct{}{}
	}
}

// unindex is the inverse of index. It runs as the LRU's eviction callback,
// so it also sees removals and expiries.
func (c *Cache) unindex(k string) {
	for i := 0; i < len(k); i++ {
		if k[i] != '/' {
			continue
		}
		pre := k[:i+1]
		if set, ok := c.under[pre]; ok {
			delete(set, k)
			if len(set) == 0 {
				delete(c.under, pre)
			}
		}
	}
}

// Generation returns the current invalidation generation.
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Invalidate drops p, its ancestors and any cached descendants.
func (c *Cache) Invalidate(p Path) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.invalidations.Add(1)

	c.lru.Remove(cacheKey(p))
	for _, a := range p.Ancestors() {
		c.lru.Remove(cacheKey(a))
	}

	below := c.under[p.bucket+Separator+PrefixFor(p)]
	keys := make([]string, 0, len(below))
	for k := range below {
		keys = append(keys, k)
	}
	for _, k := range keys {
		c.lru.Remove(k)
	}
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.invalidations.Add(1)
	c.lru.Purge()
	clear(c.under)
}

// Len returns the number of entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns the cumulative counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Evictions:     c.evictions.Load(),
		Invalidations: c.invalidations.Load(),
	}
}
