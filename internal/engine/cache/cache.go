// Package cache memoizes query results. Each entry carries the dependency
// keys its result was derived from and is served only while every key is
// still at the recorded revision.
package cache

import (
	"codegraph/internal/data/facts"
	"codegraph/internal/engine/query"
	"codegraph/internal/shared/observability"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DependencySource reports the current revision of a dependency key.
type DependencySource interface {
	DependencyRevision(key string) facts.Revision
}

type entry struct {
	key    string
	result query.Result
	deps   map[string]facts.Revision
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	HitRatio      float64 `json:"hit_ratio"`
	Entries       int     `json:"entries"`
	Capacity      int     `json:"capacity"`
	Evictions     uint64  `json:"evictions"`
	Invalidations uint64  `json:"invalidations"`
}

// Cache is safe for concurrent use. Cached results are shared between
// callers and must not be modified.
type Cache struct {
	source DependencySource
	group  singleflight.Group

	mu            sync.Mutex
	lru           *LRU[string, *entry]
	byDep         map[string]map[string]struct{}
	hits          uint64
	misses        uint64
	evictions     uint64
	invalidations uint64
}

func New(source DependencySource, size int) *Cache {
	c := &Cache{
		source: source,
		byDep:  make(map[string]map[string]struct{}),
	}
	c.lru = c.newLRU(size)
	return c
}

func (c *Cache) newLRU(size int) *LRU[string, *entry] {
	lru := NewLRU[string, *entry](size)
	lru.OnEvict = func(_ string, e *entry) {
		c.evictions++
		c.unindexLocked(e)
	}
	return lru
}

// Key builds a cache key from a query kind and its normalized arguments.
func Key(kind string, args ...string) string {
	return kind + "\x1f" + strings.Join(args, "\x1f")
}

// Get returns a cached result if every dependency still holds. A stale
// entry is evicted.
func (c *Cache) Get(key string) (query.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.getLocked(key)
	if ok {
		c.hits++
		observability.CacheHitsTotal.Inc()
	}
	return res, ok
}

func (c *Cache) getLocked(key string) (query.Result, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !c.valid(e.deps) {
		c.removeLocked(e)
		return nil, false
	}
	return e.result, true
}

// Do returns the cached result for key or computes it. Concurrent misses
// for the same key share one computation. hit reports whether the result
// came from the cache.
func (c *Cache) Do(key string, compute func() (query.Result, error)) (res query.Result, hit bool, err error) {
	if res, ok := c.Get(key); ok {
		return res, true, nil
	}
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	observability.CacheMissesTotal.Inc()

	v, err, _ := c.group.Do(key, func() (any, error) {
		res, err := compute()
		if err != nil {
			return nil, err
		}
		c.put(key, res)
		return res, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(query.Result), false, nil
}

// put stores res unless it is partial or already outdated.
func (c *Cache) put(key string, res query.Result) {
	meta := res.Metadata()
	if meta.Truncated || meta.TimedOut {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid(meta.Dependencies) {
		return
	}
	if old, ok := c.lru.Peek(key); ok {
		c.removeLocked(old)
	}
	e := &entry{key: key, result: res, deps: meta.Dependencies}
	c.lru.Put(key, e)
	for dep := range e.deps {
		keys := c.byDep[dep]
		if keys == nil {
			keys = make(map[string]struct{})
			c.byDep[dep] = keys
		}
		keys[key] = struct{}{}
	}
}

func (c *Cache) valid(deps map[string]facts.Revision) bool {
	for key, rev := range deps {
		if c.source.DependencyRevision(key) != rev {
			return false
		}
	}
	return true
}

// FilesAdvanced evicts entries that depend on an older revision of any of
// the files.
func (c *Cache) FilesAdvanced(files []facts.FileRevision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range files {
		dep := facts.FileKey(f.Path)
		for key := range c.byDep[dep] {
			e, ok := c.lru.Peek(key)
			if !ok || e.deps[dep] == f.Revision {
				continue
			}
			c.removeLocked(e)
		}
	}
}

func (c *Cache) removeLocked(e *entry) {
	if _, ok := c.lru.Remove(e.key); !ok {
		return
	}
	c.invalidations++
	observability.CacheInvalidationsTotal.Inc()
	c.unindexLocked(e)
}

func (c *Cache) unindexLocked(e *entry) {
	for dep := range e.deps {
		keys := c.byDep[dep]
		delete(keys, e.key)
		if len(keys) == 0 {
			delete(c.byDep, dep)
		}
	}
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru = c.newLRU(c.lru.Cap())
	c.byDep = make(map[string]map[string]struct{})
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Hits:          c.hits,
		Misses:        c.misses,
		Entries:       c.lru.Len(),
		Capacity:      c.lru.Cap(),
		Evictions:     c.evictions,
		Invalidations: c.invalidations,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRatio = float64(c.hits) / float64(total)
	}
	return s
}
