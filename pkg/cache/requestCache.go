package cache

import (
	"sync"
	"time"

	"github.com/zoff-tech/go-imagepipeline/schema"
)

// DefaultRetention is how long an upload request stays retrievable.
const DefaultRetention = time.Hour

// RequestCache keeps the last upload request of each product so a retry resends the original payload.
type RequestCache interface {
	Put(productID string, request schema.ImageUploadRequested)
	Get(productID string) (schema.ImageUploadRequested, bool)
	Remove(productID string)
	// Sweep evicts expired entries and returns how many were removed.
	Sweep() int
	Len() int
}

// CachedUploadRequest is a stored request plus the time it was cached.
type CachedUploadRequest struct {
	Request  schema.ImageUploadRequested
	CachedAt time.Time
}

func (c CachedUploadRequest) expired(now time.Time, retention time.Duration) bool {
	return now.Sub(c.CachedAt) > retention
}

// Option configures a MemoryCache.
type Option func(*MemoryCache)

// WithClock overrides the clock used to stamp and expire entries.
func WithClock(now func() time.Time) Option {
	return func(c *MemoryCache) { c.now = now }
}

// WithRetention overrides DefaultRetention.
func WithRetention(retention time.Duration) Option {
	return func(c *MemoryCache) { c.retention = retention }
}

// WithEvictionHook is called with the number of entries evicted by expiry.
func WithEvictionHook(fn func(n int)) Option {
	return func(c *MemoryCache) { c.onEvict = fn }
}

// MemoryCache is a process-local RequestCache with lazy expiry.
type MemoryCache struct {
	mu        sync.Mutex
	entries   map[string]CachedUploadRequest
	retention time.Duration
	now       func() time.Time
	onEvict   func(n int)
}

func NewMemoryCache(opts ...Option) *MemoryCache {
	c := &MemoryCache{
		entries:   make(map[string]CachedUploadRequest),
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put stores a deep copy of request, replacing any previous entry.
func (c *MemoryCache) Put(productID string, request schema.ImageUploadRequested) {
	entry := CachedUploadRequest{Request: request.Clone(), CachedAt: c.now()}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[productID] = entry
}

// Get returns a deep copy of the cached request. Expired entries are evicted and reported absent.
func (c *MemoryCache) Get(productID string) (schema.ImageUploadRequested, bool) {
	c.mu.Lock()
	entry, ok := c.entries[productID]
	if ok && entry.expired(c.now(), c.retention) {
		delete(c.entries, productID)
		c.mu.Unlock()
		c.evicted(1)
		return schema.ImageUploadRequested{}, false
	}
	c.mu.Unlock()

	if !ok {
		return schema.ImageUploadRequested{}, false
	}
	return entry.Request.Clone(), true
}

func (c *MemoryCache) Remove(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, productID)
}

func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	now := c.now()
	removed := 0
	for productID, entry := range c.entries {
		if entry.expired(now, c.retention) {
			delete(c.entries, productID)
			removed++
		}
	}
	c.mu.Unlock()

	c.evicted(removed)
	return removed
}

// Len counts stored entries, expired ones not yet evicted included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) evicted(n int) {
	if n > 0 && c.onEvict != nil {
		c.onEvict(n)
	}
}
