package controller

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/searchforge/rankfusion/internal/contract"
	"github.com/searchforge/rankfusion/obs"
)

// CacheEntry captures cached response pieces.
type CacheEntry struct {
	Strategy string
	Items    []contract.Item
	Indices  []int
	storedAt time.Time
}

// Cache is a lightweight in-memory cache with TTL. Fusion is deterministic,
// so identical requests can share a result.
type Cache struct {
	ttl        time.Duration
	maxEntries int
	mu         sync.RWMutex
	store      map[string]CacheEntry
	now        func() time.Time
}

// DefaultCacheEntries bounds the cache when no explicit size is configured.
const DefaultCacheEntries = 1024

// NewCache returns a cache holding at most maxEntries entries; zero ttl
// disables caching and a non-positive maxEntries uses DefaultCacheEntries.
func NewCache(ttl time.Duration, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	return &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		store:      make(map[string]CacheEntry),
		now:        time.Now,
	}
}

// Get retrieves an entry if still fresh.
func (c *Cache) Get(key string) (CacheEntry, bool) {
	if c == nil || c.ttl <= 0 || key == "" {
		return CacheEntry{}, false
	}

	c.mu.RLock()
	entry, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		obs.RecordCacheLookup(false)
		return CacheEntry{}, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		c.mu.Lock()
		delete(c.store, key)
		c.mu.Unlock()
		obs.RecordCacheLookup(false)
		return CacheEntry{}, false
	}
	obs.RecordCacheLookup(true)
	return entry, true
}

// Set stores an entry.
func (c *Cache) Set(key string, entry CacheEntry) {
	if c == nil || c.ttl <= 0 || key == "" {
		return
	}
	now := c.now()
	entry.storedAt = now
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.store[key] = entry
}

// evictLocked drops expired entries, then the oldest one if still full.
func (c *Cache) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for key, entry := range c.store {
		if now.Sub(entry.storedAt) > c.ttl {
			delete(c.store, key)
			continue
		}
		if oldestKey == "" || entry.storedAt.Before(oldestAt) {
			oldestKey, oldestAt = key, entry.storedAt
		}
	}
	if len(c.store) >= c.maxEntries && oldestKey != "" {
		delete(c.store, oldestKey)
	}
}

// Sweep drops expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	if c == nil || c.ttl <= 0 {
		return 0
	}
	now := c.now()
	removed := 0
	c.mu.Lock()
	for key, entry := range c.store {
		if now.Sub(entry.storedAt) > c.ttl {
			delete(c.store, key)
			removed++
		}
	}
	c.mu.Unlock()
	return removed
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// BuildCacheKey hashes everything that influences a fusion result. It
// returns "" when the payload cannot be encoded, which disables caching for
// that call.
func BuildCacheKey(kind string, payload any) string {
	raw, err := json.Marshal(map[string]any{
		"kind":    kind,
		"payload": payload,
	})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
