package delegatekit

import (
	"context"
	"encoding/json"
	"time"
)

// CachedAuthorizer wraps an Authorizer with cache-aside semantics.
//
// Cached (bounded TTL, keyed by operation, delegator and capability id):
// target-less can-assign checks, the can-create-users flag, the assignable
// lists and the delegation scope. Never cached: created counts, remaining
// quota, and every target-qualified check — their key space is large and
// rarely repeated, and counts change on every creation.
//
// Invalidation is explicit and best-effort delete-after-write: the Service
// calls the Invalidate* methods after each committed mutation, so a stale
// entry may be served in the narrow window in between.
type CachedAuthorizer struct {
	inner Authorizer
	cache Cache
	ttl   time.Duration
}

// NewCachedAuthorizer wraps inner with a cache. A non-positive TTL uses
// DefaultCacheTTL.
func NewCachedAuthorizer(inner Authorizer, cache Cache, ttl time.Duration) *CachedAuthorizer {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedAuthorizer{inner: inner, cache: cache, ttl: ttl}
}

// CanAssignRole is cached only when no target is given; target-qualified
// questions always go to the engine.
func (c *CachedAuthorizer) CanAssignRole(ctx context.Context, delegatorID string, roleID ID, targetID string) (Decision, error) {
	if targetID != "" {
		return c.inner.CanAssignRole(ctx, delegatorID, roleID, targetID)
	}
	key := capabilityCacheKey(opCanAssignRole, delegatorID, roleID)
	return cached(ctx, c, key, func() (Decision, error) {
		return c.inner.CanAssignRole(ctx, delegatorID, roleID, "")
	})
}

// CanAssignPermission is cached only when no target is given.
func (c *CachedAuthorizer) CanAssignPermission(ctx context.Context, delegatorID string, permissionID ID, targetID string) (Decision, error) {
	if targetID != "" {
		return c.inner.CanAssignPermission(ctx, delegatorID, permissionID, targetID)
	}
	key := capabilityCacheKey(opCanAssignPermission, delegatorID, permissionID)
	return cached(ctx, c, key, func() (Decision, error) {
		return c.inner.CanAssignPermission(ctx, delegatorID, permissionID, "")
	})
}

// CanRevokeRole shares the assignment decision and therefore its cache.
func (c *CachedAuthorizer) CanRevokeRole(ctx context.Context, delegatorID string, roleID ID, targetID string) (Decision, error) {
	return c.CanAssignRole(ctx, delegatorID, roleID, targetID)
}

// CanRevokePermission shares the assignment decision and therefore its
// cache.
func (c *CachedAuthorizer) CanRevokePermission(ctx context.Context, delegatorID string, permissionID ID, targetID string) (Decision, error) {
	return c.CanAssignPermission(ctx, delegatorID, permissionID, targetID)
}

// CanManageUser always carries a target and is never cached.
func (c *CachedAuthorizer) CanManageUser(ctx context.Context, delegatorID, targetID string) (Decision, error) {
	return c.inner.CanManageUser(ctx, delegatorID, targetID)
}

// CanCreateUsers is cached per delegator.
func (c *CachedAuthorizer) CanCreateUsers(ctx context.Context, delegatorID string) (bool, error) {
	return cached(ctx, c, cacheKey(opCanCreateUsers, delegatorID), func() (bool, error) {
		return c.inner.CanCreateUsers(ctx, delegatorID)
	})
}

// AssignableRoles is cached per delegator.
func (c *CachedAuthorizer) AssignableRoles(ctx context.Context, delegatorID string) ([]ID, error) {
	return cached(ctx, c, cacheKey(opAssignableRoles, delegatorID), func() ([]ID, error) {
		return c.inner.AssignableRoles(ctx, delegatorID)
	})
}

// AssignablePermissions is cached per delegator.
func (c *CachedAuthorizer) AssignablePermissions(ctx context.Context, delegatorID string) ([]ID, error) {
	return cached(ctx, c, cacheKey(opAssignablePermissions, delegatorID), func() ([]ID, error) {
		return c.inner.AssignablePermissions(ctx, delegatorID)
	})
}

// DelegationScope is cached per delegator.
func (c *CachedAuthorizer) DelegationScope(ctx context.Context, delegatorID string) (Scope, error) {
	return cached(ctx, c, cacheKey(opDelegationScope, delegatorID), func() (Scope, error) {
		return c.inner.DelegationScope(ctx, delegatorID)
	})
}

// CreatedUserCount changes on every creation and is never cached.
func (c *CachedAuthorizer) CreatedUserCount(ctx context.Context, delegatorID string) (int, error) {
	return c.inner.CreatedUserCount(ctx, delegatorID)
}

// RemainingQuota is derived from the created count and is never cached.
func (c *CachedAuthorizer) RemainingQuota(ctx context.Context, delegatorID string) (*int, error) {
	return c.inner.RemainingQuota(ctx, delegatorID)
}

// ============================================================================
// INVALIDATION
// ============================================================================

// InvalidateUser forgets the user's full cache set: scope, assignable
// lists and the create-users flag.
func (c *CachedAuthorizer) InvalidateUser(ctx context.Context, userID string) {
	_ = c.cache.Delete(ctx, userCacheKeys(userID)...)
}

// InvalidateAssignRole forgets the delegator's cached decision for one
// specific role.
func (c *CachedAuthorizer) InvalidateAssignRole(ctx context.Context, delegatorID string, roleID ID) {
	_ = c.cache.Delete(ctx, capabilityCacheKey(opCanAssignRole, delegatorID, roleID))
}

// InvalidateAssignPermission forgets the delegator's cached decision for
// one specific permission.
func (c *CachedAuthorizer) InvalidateAssignPermission(ctx context.Context, delegatorID string, permissionID ID) {
	_ = c.cache.Delete(ctx, capabilityCacheKey(opCanAssignPermission, delegatorID, permissionID))
}

// InvalidateScopeChange forgets everything a scope replacement can affect:
// the user's full set plus the per-capability decisions for every id in
// the old and the new scope. Capability keys cannot be enumerated from the
// cache, so both snapshots are needed to cover removed ids.
func (c *CachedAuthorizer) InvalidateScopeChange(ctx context.Context, userID string, oldScope, newScope Scope) {
	keys := userCacheKeys(userID)
	for _, scope := range []Scope{oldScope, newScope} {
		for _, id := range scope.AssignableRoleIDs() {
			keys = append(keys, capabilityCacheKey(opCanAssignRole, userID, id))
		}
		for _, id := range scope.AssignablePermissionIDs() {
			keys = append(keys, capabilityCacheKey(opCanAssignPermission, userID, id))
		}
	}
	_ = c.cache.Delete(ctx, keys...)
}

// cached is the cache-aside read: serve a fresh hit, otherwise load from
// the inner authorizer and store. Cache failures fall through to the
// loader; a cache must never make a decision fail.
func cached[T any](ctx context.Context, c *CachedAuthorizer, key string, load func() (T, error)) (T, error) {
	if raw, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		var value T
		if err := json.Unmarshal(raw, &value); err == nil {
			return value, nil
		}
		// Undecodable entry: drop it and fall through.
		_ = c.cache.Delete(ctx, key)
	}

	value, err := load()
	if err != nil {
		return value, err
	}
	if raw, err := json.Marshal(value); err == nil {
		_ = c.cache.Set(ctx, key, raw, c.ttl)
	}
	return value, nil
}
