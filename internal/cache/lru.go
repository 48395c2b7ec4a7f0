package cache

import (
	"container/list"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/mhismail3/pdfcombiner/internal/domain"
)

const defaultCapacity = 64

// entry is the value stored in the recency list.
type entry struct {
	key    domain.ThumbnailKey
	bitmap []byte
}

// ThumbnailLRU is a capacity-bounded thumbnail store with strict
// least-recently-used eviction. Recency is the position in an intrusive
// list (front = most recent), so no wall-clock reads are needed and no two
// keys can tie.
//
// The cache is the one resource mutated by multiple concurrent call paths
// (prefetch batches and on-demand fetches), so every state transition runs
// under the mutex.
type ThumbnailLRU struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // of *entry
	items    map[domain.ThumbnailKey]*list.Element
	logger   *zap.Logger

	// strict reports negative-capacity requests as errors instead of
	// clamping them to zero.
	strict bool
}

// Option configures a ThumbnailLRU.
type Option func(*ThumbnailLRU)

// WithStrictCapacity makes negative capacity requests fail loudly instead of
// being clamped to zero. Intended for development builds.
func WithStrictCapacity() Option {
	return func(c *ThumbnailLRU) { c.strict = true }
}

// NewThumbnailLRU creates a cache bounded to capacity entries.
func NewThumbnailLRU(capacity int, logger *zap.Logger, opts ...Option) *ThumbnailLRU {
	if capacity < 1 {
		capacity = defaultCapacity
	}
	c := &ThumbnailLRU{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[domain.ThumbnailKey]*list.Element),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the bitmap for key, promoting it to most-recently-used.
func (c *ThumbnailLRU) Get(key domain.ThumbnailKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).bitmap, true
}

// Put stores a bitmap under key. An existing key is replaced and promoted.
// Inserting a new key at capacity evicts the least-recently-used entry first.
func (c *ThumbnailLRU) Put(key domain.ThumbnailKey, bitmap []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry).bitmap = bitmap
		c.order.MoveToFront(el)
		return
	}

	if c.capacity == 0 {
		return
	}
	for c.order.Len() >= c.capacity {
		c.evictOldest()
	}
	c.items[key] = c.order.PushFront(&entry{key: key, bitmap: bitmap})
}

// Has reports presence without touching recency.
func (c *ThumbnailLRU) Has(key domain.ThumbnailKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Resize changes the capacity, evicting least-recently-used entries until
// size fits. Safe to call at any time, including while fetches are in flight.
func (c *ThumbnailLRU) Resize(capacity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if capacity < 0 {
		if c.strict {
			return domain.ErrCacheCapacity
		}
		if c.logger != nil {
			c.logger.Warn("negative cache capacity clamped to zero",
				zap.Int("requested", capacity),
			)
		}
		capacity = 0
	}
	c.capacity = capacity
	for c.order.Len() > c.capacity {
		c.evictOldest()
	}
	return nil
}

// Clear removes all entries.
func (c *ThumbnailLRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[domain.ThumbnailKey]*list.Element)
}

// Len returns the current number of entries.
func (c *ThumbnailLRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Cap returns the current capacity.
func (c *ThumbnailLRU) Cap() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

// CachedPageNumbers scans keys for the distinct page numbers warm in the
// cache for one document, ascending. Used to answer "which pages can be
// shown without rendering".
func (c *ThumbnailLRU) CachedPageNumbers(fingerprint string) []int {
	c.mu.Lock()
	seen := make(map[int]struct{})
	for key := range c.items {
		if key.Fingerprint == fingerprint {
			seen[key.PageNumber] = struct{}{}
		}
	}
	c.mu.Unlock()

	pages := make([]int, 0, len(seen))
	for page := range seen {
		pages = append(pages, page)
	}
	sort.Ints(pages)
	return pages
}

// evictOldest removes the back of the recency list. Caller holds the mutex.
func (c *ThumbnailLRU) evictOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	e := c.order.Remove(oldest).(*entry)
	delete(c.items, e.key)
	if c.logger != nil {
		c.logger.Debug("thumbnail evicted",
			zap.Int("page", e.key.PageNumber),
			zap.Int("width", e.key.Width),
			zap.Int("height", e.key.Height),
		)
	}
}

// Verify that ThumbnailLRU implements domain.ThumbnailCache interface
var _ domain.ThumbnailCache = (*ThumbnailLRU)(nil)
