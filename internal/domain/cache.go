package domain

// ThumbnailCache defines the interface for the bounded thumbnail store.
// Implementations must keep a strict recency order: a key is present in the
// order exactly once iff its entry is present in the store.
type ThumbnailCache interface {
	// Get returns the bitmap for key and promotes it to most-recently-used.
	Get(key ThumbnailKey) ([]byte, bool)

	// Put stores a bitmap. An existing key is replaced and promoted; a new key
	// at capacity evicts the least-recently-used entry first.
	Put(key ThumbnailKey, bitmap []byte)

	// Has reports presence without promoting.
	Has(key ThumbnailKey) bool

	// Resize changes capacity, evicting least-recently-used entries while the
	// current size exceeds it. Negative capacities fail with ErrCacheCapacity.
	Resize(capacity int) error

	// Clear removes all entries.
	Clear()

	// Len returns the current number of entries.
	Len() int

	// CachedPageNumbers returns the distinct page numbers warm in the cache
	// for one document fingerprint, ascending.
	CachedPageNumbers(fingerprint string) []int
}
