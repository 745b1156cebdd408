package keys

import (
	"context"
	"sync"
	"time"

	"github.com/OpsMx/cybersource-auth-client/pkg/clock"
)

// Cache stores reconstructed public keys by host and key identifier. A key
// identifier names one immutable issuer key, so a rotated key is always
// published under a new identifier and a cached entry never goes stale
// before its TTL.
type Cache interface {
	// Get returns the cached key, or nil if there is none
	Get(ctx context.Context, host, kid string) (*PublicKey, error)
	Set(ctx context.Context, host, kid string, key *PublicKey, ttl time.Duration) error
}

type memoryCacheEntry struct {
	key       *PublicKey
	expiresAt time.Time
}

// MemoryCache is an in-process Cache bounded in size
type MemoryCache struct {
	clock            clock.Clock
	maximumCacheSize int

	lock    sync.Mutex
	entries map[string]memoryCacheEntry
}

// NewMemoryCache creates an empty MemoryCache holding at most
// maximumCacheSize keys
func NewMemoryCache(clock clock.Clock, maximumCacheSize int) *MemoryCache {
	if maximumCacheSize <= 0 {
		maximumCacheSize = 1
	}
	return &MemoryCache{
		clock:            clock,
		maximumCacheSize: maximumCacheSize,
		entries:          map[string]memoryCacheEntry{},
	}
}

func cacheKey(host, kid string) string {
	return host + "/" + kid
}

// Get returns the cached key if it has not expired
func (c *MemoryCache) Get(ctx context.Context, host, kid string) (*PublicKey, error) {
	now := c.clock.Now()

	c.lock.Lock()
	defer c.lock.Unlock()

	entry, ok := c.entries[cacheKey(host, kid)]
	if !ok {
		return nil, nil
	}
	if !now.Before(entry.expiresAt) {
		delete(c.entries, cacheKey(host, kid))
		return nil, nil
	}
	return entry.key, nil
}

// Set stores a key until ttl has elapsed. When the cache is full, expired
// entries are dropped first, followed by the entry closest to expiry.
func (c *MemoryCache) Set(ctx context.Context, host, kid string, key *PublicKey, ttl time.Duration) error {
	now := c.clock.Now()

	c.lock.Lock()
	defer c.lock.Unlock()

	k := cacheKey(host, kid)
	if _, ok := c.entries[k]; !ok && len(c.entries) >= c.maximumCacheSize {
		c.evict(now)
	}
	c.entries[k] = memoryCacheEntry{
		key:       key,
		expiresAt: now.Add(ttl),
	}
	return nil
}

func (c *MemoryCache) evict(now time.Time) {
	var victim string
	var victimExpiry time.Time
	for k, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, k)
			continue
		}
		if victim == "" || entry.expiresAt.Before(victimExpiry) {
			victim, victimExpiry = k, entry.expiresAt
		}
	}
	if len(c.entries) >= c.maximumCacheSize && victim != "" {
		delete(c.entries, victim)
	}
}

// Len returns the number of entries currently held, including expired
// entries that have not been dropped yet
func (c *MemoryCache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.entries)
}
