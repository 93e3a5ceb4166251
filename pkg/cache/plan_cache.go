// Package cache provides logical plan caching for HuginDB.
//
// Plan caching avoids re-parsing and re-planning identical Cypher
// queries, so the planner's deterministic but costly analysis is paid
// once per distinct query shape. Only compiled plans are cached, never
// result rows: the store mutates between calls.
//
// Features:
// - LRU eviction for bounded memory
// - TTL expiration for stale plans
// - Thread-safe operations
// - Cache hit/miss statistics
//
// Usage:
//
//	cache := cache.NewPlanCache(1000, 5*time.Minute)
//
//	key := cache.Key(cache.Normalize(query))
//	if plan, ok := cache.Get(key); ok {
//		return plan // Cache hit
//	}
//
//	plan := planQuery(query)
//	cache.Put(key, plan)
package cache

import (
	"container/list"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// PlanCache is a thread-safe LRU cache for compiled query plans.
//
// The cache uses:
// - Hash map for O(1) lookups
// - Doubly-linked list for LRU ordering
// - TTL for automatic expiration
type PlanCache struct {
	mu sync.RWMutex

	maxSize int
	ttl     time.Duration
	enabled bool

	list  *list.List
	items map[uint64]*list.Element

	hits   uint64
	misses uint64
}

// cacheEntry holds a cached plan with metadata.
type cacheEntry struct {
	key       uint64
	value     interface{}
	expiresAt time.Time
}

// NewPlanCache creates a new plan cache.
//
// Parameters:
//   - maxSize: Maximum number of cached plans (LRU eviction when exceeded)
//   - ttl: Time-to-live for cached entries (0 = no expiration)
func NewPlanCache(maxSize int, ttl time.Duration) *PlanCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &PlanCache{
		maxSize: maxSize,
		ttl:     ttl,
		enabled: true,
		list:    list.New(),
		items:   make(map[uint64]*list.Element, maxSize),
	}
}

// Normalize canonicalizes query text so formatting differences hit the
// same cache entry: whitespace runs collapse to one space and reserved
// words fold to lower case. Identifiers keep their case, because labels,
// relationship types and property keys are case-sensitive; MATCH
// (n:Person) and MATCH (n:person) must key different plans. Parameters
// are not part of the key; a cached plan is shape-specific, not
// value-specific.
func Normalize(query string) string {
	var b strings.Builder
	b.Grow(len(query))

	var quote byte // active string/backtick delimiter, 0 outside
	space := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		if quote != 0 {
			b.WriteByte(c)
			if c == '\\' && quote != '`' && i+1 < len(query) {
				i++
				b.WriteByte(query[i])
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
			space = false
			b.WriteByte(c)
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			space = true
		case isWordByte(c):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			start := i
			for i+1 < len(query) && isWordByte(query[i+1]) {
				i++
			}
			word := query[start : i+1]
			if lower := strings.ToLower(word); reservedWords[lower] {
				word = lower
			}
			b.WriteString(word)
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

// reservedWords are the Cypher keywords the normalizer case-folds. Any
// other word is an identifier and keeps its case.
var reservedWords = map[string]bool{
	"match": true, "optional": true, "create": true, "merge": true,
	"set": true, "remove": true, "delete": true, "detach": true,
	"unwind": true, "with": true, "return": true, "where": true,
	"union": true, "all": true, "distinct": true, "order": true,
	"by": true, "asc": true, "ascending": true, "desc": true,
	"descending": true, "skip": true, "limit": true, "as": true,
	"and": true, "or": true, "xor": true, "not": true, "in": true,
	"starts": true, "ends": true, "contains": true, "is": true,
	"null": true, "true": true, "false": true, "case": true,
	"when": true, "then": true, "else": true, "end": true,
	"on": true, "if": true, "exists": true, "show": true,
	"index": true, "indexes": true, "drop": true,
	"function": true, "functions": true,
}

// Key hashes normalized query text into a cache key.
func (c *PlanCache) Key(normalized string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(normalized))
	return h.Sum64()
}

// Get retrieves a cached plan if present and not expired.
//
// Returns (value, true) on cache hit, (nil, false) on miss.
// Moves the entry to front of LRU list on hit.
func (c *PlanCache) Get(key uint64) (interface{}, bool) {
	if !c.enabled {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	c.mu.RLock()
	elem, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)

	if c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		c.removeElement(elem)
		c.mu.Unlock()
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	c.mu.Lock()
	c.list.MoveToFront(elem)
	c.mu.Unlock()

	atomic.AddUint64(&c.hits, 1)
	return entry.value, true
}

// Put adds a plan to the cache.
//
// If the cache is full, the least recently used entry is evicted.
// If the key already exists, the value is updated.
func (c *PlanCache) Put(key uint64, value interface{}) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		if c.ttl > 0 {
			entry.expiresAt = time.Now().Add(c.ttl)
		}
		c.list.MoveToFront(elem)
		return
	}

	for c.list.Len() >= c.maxSize {
		c.evictOldest()
	}

	entry := &cacheEntry{key: key, value: value}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}

	elem := c.list.PushFront(entry)
	c.items[key] = elem
}

// Remove removes an entry from the cache.
func (c *PlanCache) Remove(key uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear removes all entries from the cache. The facade calls this when
// the function catalog changes, since function resolution happens at
// plan time.
func (c *PlanCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.list.Init()
	c.items = make(map[uint64]*list.Element, c.maxSize)
}

// Len returns the number of cached entries.
func (c *PlanCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.list.Len()
}

// Stats returns cache statistics.
func (c *PlanCache) Stats() Stats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)

	c.mu.RLock()
	size := c.list.Len()
	c.mu.RUnlock()

	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return Stats{
		Size:    size,
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

// Stats holds cache performance statistics.
type Stats struct {
	Size    int     // Current number of entries
	MaxSize int     // Maximum capacity
	Hits    uint64  // Number of cache hits
	Misses  uint64  // Number of cache misses
	HitRate float64 // Hit rate percentage (0-100)
}

// SetEnabled enables or disables the cache. Disabling drops all entries.
func (c *PlanCache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled

	if !enabled {
		c.list.Init()
		c.items = make(map[uint64]*list.Element, c.maxSize)
	}
}

// evictOldest removes the least recently used entry.
// Caller must hold the lock.
func (c *PlanCache) evictOldest() {
	elem := c.list.Back()
	if elem != nil {
		c.removeElement(elem)
	}
}

// removeElement removes an element from the cache.
// Caller must hold the lock.
func (c *PlanCache) removeElement(elem *list.Element) {
	c.list.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
}
