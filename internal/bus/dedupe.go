package bus

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DedupeCache remembers recently seen keys so webhook retries and
// double deliveries are processed once. Entries expire after ttl; when the
// cache holds max entries the oldest entry is evicted.
type DedupeCache struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

// NewDedupeCache creates a cache. max <= 0 means unbounded.
func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	if max < 0 {
		max = 0
	}
	return &DedupeCache{seen: expirable.NewLRU[string, struct{}](max, nil, ttl)}
}

// IsDuplicate records key and reports whether it was already seen within ttl.
func (c *DedupeCache) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Get honours expiry; a hit does not extend the window.
	if _, ok := c.seen.Get(key); ok {
		return true
	}
	c.seen.Add(key, struct{}{})
	return false
}

// Forget removes key so a later retry is processed. Used when a message
// was recorded but could not be enqueued.
func (c *DedupeCache) Forget(key string) {
	c.seen.Remove(key)
}

// Len returns the number of tracked keys. Expired keys may be counted
// until the background sweep drops them.
func (c *DedupeCache) Len() int {
	return c.seen.Len()
}
