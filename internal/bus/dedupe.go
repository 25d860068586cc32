package bus

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Default dedupe window for inbound message IDs. The network redelivers
// messages after reconnects, so IDs are remembered across a few minutes.
const (
	DefaultDedupeTTL  = 20 * time.Minute
	DefaultDedupeSize = 5000
)

// DedupeCache is a TTL-based deduplication cache for inbound messages.
// Entries expire after TTL; the oldest entries are evicted past maxSize.
// The underlying expirable LRU runs a purge goroutine for the life of the
// process, so create one per process rather than per connection.
type DedupeCache struct {
	cache *expirable.LRU[string, struct{}]
}

// NewDedupeCache creates a new dedup cache.
func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultDedupeSize
	}
	return &DedupeCache{
		cache: expirable.NewLRU[string, struct{}](maxSize, nil, ttl),
	}
}

// IsDuplicate returns true if key was already seen within the TTL window.
// If not a duplicate, records the key for future checks.
func (d *DedupeCache) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}
	// Contains ignores expiry; Peek does not.
	if _, ok := d.cache.Peek(key); ok {
		return true
	}
	d.cache.Add(key, struct{}{})
	return false
}

// Len returns the number of remembered keys.
func (d *DedupeCache) Len() int {
	return d.cache.Len()
}
