package electrum

import (
	"container/list"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// CacheCategory groups cached responses so invalidation can target, say,
// every balance entry without touching history or fee entries.
type CacheCategory string

const (
	CategoryBalance     CacheCategory = "balance"
	CategoryUnspent     CacheCategory = "unspent"
	CategoryHistory     CacheCategory = "history"
	CategoryTransaction CacheCategory = "transaction"
	CategoryFeeEstimate CacheCategory = "fee_estimate"
)

// PutOptions carries the metadata needed to index an entry beyond its
// (category, key): the address it was fetched for, the block height it's
// relative to, and — for CategoryUnspent entries — the value/confirmation
// count used to serve the secondary sort indices.
type PutOptions struct {
	Address       string
	BlockHeight   int
	Value         int64
	Confirmations int
}

type cacheEntry struct {
	key       string
	category  CacheCategory
	value     interface{}
	size      int
	expiresAt time.Time
	element   *list.Element

	address       string
	blockHeight   int
	amount        int64
	confirmations int
}

// ResponseCache is a category-keyed, TTL-and-size-bounded LRU cache for
// ElectrumX responses, generalizing the reference wallet's per-address TTL
// cache map into one shared structure with byte-size accounting, secondary
// sort indices over the unspent category, and pattern/address/height-scoped
// invalidation.
type ResponseCache struct {
	mu       sync.Mutex
	entries  map[string]*cacheEntry
	byCat    map[CacheCategory]map[string]*cacheEntry
	byAddr   map[string]map[string]*cacheEntry
	lru      *list.List // front = most recently used
	maxBytes int
	curBytes int
	now      func() time.Time

	hits   int64
	misses int64
}

// NewResponseCache returns an empty cache bounded to maxBytes of tracked
// entry size (0 means unbounded).
func NewResponseCache(maxBytes int) *ResponseCache {
	return &ResponseCache{
		entries:  make(map[string]*cacheEntry),
		byCat:    make(map[CacheCategory]map[string]*cacheEntry),
		byAddr:   make(map[string]map[string]*cacheEntry),
		lru:      list.New(),
		maxBytes: maxBytes,
		now:      time.Now,
	}
}

// Put stores value under key/category with the given size (in bytes, for
// accounting) and ttl (0 means never expires). It carries no address,
// height, or sort metadata; use PutWithOptions for entries that need
// InvalidateAddress, InvalidateByBlockHeight, or the unspent sort indices.
func (c *ResponseCache) Put(category CacheCategory, key string, value interface{}, size int, ttl time.Duration) {
	c.PutWithOptions(category, key, value, size, ttl, PutOptions{})
}

// PutWithOptions stores value the same as Put, additionally indexing it by
// opts.Address (for InvalidateAddress) and, for CategoryUnspent entries, by
// opts.Value and opts.Confirmations (for the secondary sort indices).
func (c *ResponseCache) PutWithOptions(category CacheCategory, key string, value interface{}, size int, ttl time.Duration, opts PutOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		c.removeLocked(existing)
	}

	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}

	e := &cacheEntry{
		key:           key,
		category:      category,
		value:         value,
		size:          size,
		expiresAt:     expires,
		address:       opts.Address,
		blockHeight:   opts.BlockHeight,
		amount:        opts.Value,
		confirmations: opts.Confirmations,
	}
	e.element = c.lru.PushFront(e)
	c.entries[key] = e
	if c.byCat[category] == nil {
		c.byCat[category] = make(map[string]*cacheEntry)
	}
	c.byCat[category][key] = e
	if opts.Address != "" {
		if c.byAddr[opts.Address] == nil {
			c.byAddr[opts.Address] = make(map[string]*cacheEntry)
		}
		c.byAddr[opts.Address][key] = e
	}
	c.curBytes += size

	c.evictOverCapacityLocked()
}

// Get returns a cached value for key, reporting a miss if absent or
// expired. A hit moves the entry to the front of the LRU. Every call feeds
// the hit/miss counters exposed by Stats.
func (c *ResponseCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.removeLocked(e)
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	c.lru.MoveToFront(e.element)
	atomic.AddInt64(&c.hits, 1)
	return e.value, true
}

// Stats returns the cumulative hit and miss counts since the cache was
// created.
func (c *ResponseCache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

// InvalidateCategory drops every entry tagged with category.
func (c *ResponseCache) InvalidateCategory(category CacheCategory) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.byCat[category]
	count := len(entries)
	for _, e := range entries {
		c.removeLocked(e)
	}
	return count
}

// InvalidateKey drops a single entry, reporting whether it was present.
func (c *ResponseCache) InvalidateKey(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeLocked(e)
	return true
}

// InvalidatePattern drops every entry whose key matches the regular
// expression pattern, reporting how many were removed.
func (c *ResponseCache) InvalidatePattern(pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var matched []*cacheEntry
	for key, e := range c.entries {
		if re.MatchString(key) {
			matched = append(matched, e)
		}
	}
	for _, e := range matched {
		c.removeLocked(e)
	}
	return len(matched), nil
}

// InvalidateAddress drops every entry stored with opts.Address == address
// via PutWithOptions, reporting how many were removed.
func (c *ResponseCache) InvalidateAddress(address string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.byAddr[address]
	count := len(entries)
	for _, e := range entries {
		c.removeLocked(e)
	}
	return count
}

// InvalidateByBlockHeight drops every entry whose opts.BlockHeight is at or
// below height: once the chain reaches height, anything cached relative to
// an earlier height (confirmation counts, UTXO sets as of that height) is
// stale.
func (c *ResponseCache) InvalidateByBlockHeight(height int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var matched []*cacheEntry
	for _, e := range c.entries {
		if e.blockHeight != 0 && e.blockHeight <= height {
			matched = append(matched, e)
		}
	}
	for _, e := range matched {
		c.removeLocked(e)
	}
	return len(matched)
}

// SortedUnspentByValue returns the live (non-expired) CategoryUnspent
// entries' values sorted by the amount given at PutWithOptions, ascending
// or descending, serving range queries without re-traversing the whole
// cache.
func (c *ResponseCache) SortedUnspentByValue(ascending bool) []interface{} {
	return c.sortedUnspent(ascending, func(e *cacheEntry) int64 { return e.amount })
}

// SortedUnspentByConfirmations is SortedUnspentByValue, sorted by
// confirmation count instead.
func (c *ResponseCache) SortedUnspentByConfirmations(ascending bool) []interface{} {
	return c.sortedUnspent(ascending, func(e *cacheEntry) int64 { return int64(e.confirmations) })
}

func (c *ResponseCache) sortedUnspent(ascending bool, key func(*cacheEntry) int64) []interface{} {
	c.mu.Lock()
	entries := make([]*cacheEntry, 0, len(c.byCat[CategoryUnspent]))
	now := c.now()
	for _, e := range c.byCat[CategoryUnspent] {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			continue
		}
		entries = append(entries, e)
	}
	c.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if ascending {
			return key(entries[i]) < key(entries[j])
		}
		return key(entries[i]) > key(entries[j])
	})

	values := make([]interface{}, len(entries))
	for i, e := range entries {
		values[i] = e.value
	}
	return values
}

// Len returns the number of live entries (including not-yet-swept expired
// ones, matching container/list's O(1) length semantics).
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// removeLocked must be called with c.mu held.
func (c *ResponseCache) removeLocked(e *cacheEntry) {
	c.lru.Remove(e.element)
	delete(c.entries, e.key)
	if cat, ok := c.byCat[e.category]; ok {
		delete(cat, e.key)
		if len(cat) == 0 {
			delete(c.byCat, e.category)
		}
	}
	if e.address != "" {
		if addrEntries, ok := c.byAddr[e.address]; ok {
			delete(addrEntries, e.key)
			if len(addrEntries) == 0 {
				delete(c.byAddr, e.address)
			}
		}
	}
	c.curBytes -= e.size
}

// evictOverCapacityLocked must be called with c.mu held.
func (c *ResponseCache) evictOverCapacityLocked() {
	if c.maxBytes <= 0 {
		return
	}
	for c.curBytes > c.maxBytes {
		back := c.lru.Back()
		if back == nil {
			return
		}
		c.removeLocked(back.Value.(*cacheEntry))
	}
}
