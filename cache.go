package delegatekit

import (
	"context"
	"sync"
	"time"
)

// DefaultCacheTTL bounds how long a cached decision may be served.
const DefaultCacheTTL = 5 * time.Minute

// Cache is the key-value store the caching decorator writes through.
// Values are opaque bytes (JSON-encoded by the decorator); Get reports a
// miss with ok=false. Implementations must honor the TTL.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Cache key operations. Keys are "delegatekit:<op>:<user id>" with an
// optional capability suffix in ID.Key form.
const (
	opCanAssignRole         = "can-assign-role"
	opCanAssignPermission   = "can-assign-permission"
	opCanCreateUsers        = "can-create-users"
	opAssignableRoles       = "assignable-roles"
	opAssignablePermissions = "assignable-permissions"
	opDelegationScope       = "delegation-scope"
)

func cacheKey(op, userID string) string {
	return "delegatekit:" + op + ":" + userID
}

func capabilityCacheKey(op, userID string, id ID) string {
	return cacheKey(op, userID) + ":" + id.Key()
}

// userCacheKeys is a user's full cache set: everything keyed by the user id
// alone. Per-capability can-assign keys are invalidated individually.
func userCacheKeys(userID string) []string {
	return []string{
		cacheKey(opDelegationScope, userID),
		cacheKey(opAssignableRoles, userID),
		cacheKey(opAssignablePermissions, userID),
		cacheKey(opCanCreateUsers, userID),
	}
}

// MemoryCache is an in-process Cache with per-entry expiry. Expired entries
// are dropped lazily on read and swept whenever the map grows past a
// threshold, so unread keys do not accumulate forever.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
	sweepAt int
	now     func() time.Time
}

type memoryCacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryCacheEntry),
		sweepAt: 1024,
		now:     time.Now,
	}
}

// Get returns the cached value, or ok=false on a miss or expired entry.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	entry, found := c.entries[key]
	c.mu.RUnlock()

	if !found {
		return nil, false, nil
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		// Re-check: the entry may have been replaced since the read lock.
		if current, still := c.entries[key]; still && c.now().After(current.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores the value until the TTL elapses. A zero or negative TTL falls
// back to DefaultCacheTTL.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryCacheEntry{value: value, expiresAt: c.now().Add(ttl)}
	if len(c.entries) >= c.sweepAt {
		c.sweepLocked()
	}
	return nil
}

// Delete forgets the given keys. Missing keys are not an error.
func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}

// Len returns the number of live entries, for tests and monitoring.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// sweepLocked drops all expired entries and doubles the sweep threshold if
// the map is still mostly live. Caller holds the write lock.
func (c *MemoryCache) sweepLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) >= c.sweepAt/2 {
		c.sweepAt *= 2
	}
}
