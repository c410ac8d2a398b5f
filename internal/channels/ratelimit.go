package channels

import (
	"sync"
	"time"
)

const (
	// DefaultWebhookMaxKeys caps tracked keys so rotating source addresses
	// cannot grow the table without bound.
	DefaultWebhookMaxKeys = 4096

	DefaultWebhookWindow  = 60 * time.Second
	DefaultWebhookMaxHits = 120
)

type windowEntry struct {
	start time.Time
	count int
}

// WebhookRateLimiter is a fixed-window limiter keyed by request source
// (platform + remote address). Safe for concurrent use.
type WebhookRateLimiter struct {
	window  time.Duration
	maxHits int
	maxKeys int
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*windowEntry
}

// NewWebhookRateLimiter creates a limiter; zero values take the defaults.
func NewWebhookRateLimiter(window time.Duration, maxHits, maxKeys int) *WebhookRateLimiter {
	if window <= 0 {
		window = DefaultWebhookWindow
	}
	if maxHits <= 0 {
		maxHits = DefaultWebhookMaxHits
	}
	if maxKeys <= 0 {
		maxKeys = DefaultWebhookMaxKeys
	}
	return &WebhookRateLimiter{
		window:  window,
		maxHits: maxHits,
		maxKeys: maxKeys,
		now:     time.Now,
		entries: make(map[string]*windowEntry),
	}
}

// Allow reports whether key is within its window budget.
func (r *WebhookRateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	e, ok := r.entries[key]
	if ok && now.Sub(e.start) < r.window {
		e.count++
		return e.count <= r.maxHits
	}

	if !ok && len(r.entries) >= r.maxKeys {
		r.evict(now)
	}
	r.entries[key] = &windowEntry{start: now, count: 1}
	return true
}

// evict drops expired windows, then the oldest window if still at cap.
func (r *WebhookRateLimiter) evict(now time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range r.entries {
		if now.Sub(e.start) >= r.window {
			delete(r.entries, k)
			continue
		}
		if oldestKey == "" || e.start.Before(oldest) {
			oldestKey, oldest = k, e.start
		}
	}
	if len(r.entries) >= r.maxKeys && oldestKey != "" {
		delete(r.entries, oldestKey)
	}
}

// Tracked returns the number of keys currently tracked.
func (r *WebhookRateLimiter) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
