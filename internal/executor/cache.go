package executor

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/serengeti-db/serengeti/internal/catalog"
	"github.com/serengeti-db/serengeti/internal/metrics"
	"github.com/serengeti-db/serengeti/internal/query"
)

// tableTag identifies the (db,table) a cached result depends on, so a
// write against that table invalidates every entry tagged with it.
type tableTag struct{ db, table string }

// resultCacheEntry is one cached SELECT's rows plus the table tag it
// must be invalidated against.
type resultCacheEntry struct {
	key  string
	tag  tableTag
	rows []catalog.Row
}

// ResultCache is an LRU cache of SELECT results keyed by a fingerprint
// of the normalized AST: a container/list LRU with hit/miss counters,
// generalized to per-table tag invalidation.
type ResultCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	lru      *list.List
	byTag    map[tableTag]map[string]struct{}
	metrics  *metrics.Registry

	hits, misses, evictions int64
}

// NewResultCache builds a ResultCache holding up to capacity entries.
func NewResultCache(capacity int, reg *metrics.Registry) *ResultCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &ResultCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
		byTag:    make(map[tableTag]map[string]struct{}),
		metrics:  reg,
	}
}

// Fingerprint computes a stable key over a normalized SELECT AST.
func Fingerprint(stmt query.SelectStmt) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s.%s|%v|%v|%v|%v|%v|%v",
		stmt.DB, stmt.Table, stmt.Columns, stmt.Where,
		stmt.OrderBy, stmt.Limit, stmt.HasLimit, stmt.Offset)
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached rows for key, reporting a hit or miss.
func (c *ResultCache) Get(key string) ([]catalog.Row, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		if c.metrics != nil {
			c.metrics.QueryCacheMisses.Inc()
		}
		return nil, false
	}
	c.lru.MoveToFront(elem)
	c.hits++
	if c.metrics != nil {
		c.metrics.QueryCacheHits.Inc()
	}
	return elem.Value.(*resultCacheEntry).rows, true
}

// Put stores rows under key, tagged to (db,table) for invalidation.
func (c *ResultCache) Put(key, db, table string, rows []catalog.Row) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tag := tableTag{db, table}
	if elem, ok := c.entries[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*resultCacheEntry).rows = rows
		return
	}

	entry := &resultCacheEntry{key: key, tag: tag, rows: rows}
	elem := c.lru.PushFront(entry)
	c.entries[key] = elem

	if c.byTag[tag] == nil {
		c.byTag[tag] = make(map[string]struct{})
	}
	c.byTag[tag][key] = struct{}{}

	if c.lru.Len() > c.capacity {
		c.evictOldest()
	}
}

func (c *ResultCache) evictOldest() {
	elem := c.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*resultCacheEntry)
	c.lru.Remove(elem)
	delete(c.entries, entry.key)
	delete(c.byTag[entry.tag], entry.key)
	c.evictions++
}

// InvalidateTable drops every cached entry depending on (db,table).
func (c *ResultCache) InvalidateTable(db, table string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tag := tableTag{db, table}
	for key := range c.byTag[tag] {
		if elem, ok := c.entries[key]; ok {
			c.lru.Remove(elem)
			delete(c.entries, key)
		}
	}
	delete(c.byTag, tag)
}

// Stats reports hit/miss/eviction counters and current size.
func (c *ResultCache) Stats() (hits, misses, evictions int64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions, c.lru.Len()
}

// Clear empties the cache, satisfying the `cache clear` admin command.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.lru = list.New()
	c.byTag = make(map[tableTag]map[string]struct{})
	c.hits, c.misses, c.evictions = 0, 0, 0
}
