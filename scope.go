package delegatekit

import (
	"encoding/json"
	"fmt"
)

// Scope is an immutable snapshot of what a user may delegate: whether it
// may manage users at all, how many users it may create (nil means
// unlimited), and the sets of role and permission ids it may hand out.
//
// A Scope is rebuilt wholesale on every SetDelegationScope call; there is
// no partial patching.
type Scope struct {
	canManageUsers     bool
	maxManageableUsers *int
	roleIDs            []ID
	permissionIDs      []ID
}

// NewScope builds a Scope from raw id slices. Role and permission ids may
// be integers or strings (the type is part of the identity), duplicates are
// removed and empty strings dropped. A negative limit or an id of any other
// type fails with ErrInvalidScope.
func NewScope(canManageUsers bool, maxManageableUsers *int, roleIDs, permissionIDs []any) (Scope, error) {
	if maxManageableUsers != nil && *maxManageableUsers < 0 {
		return Scope{}, fmt.Errorf("%w: max manageable users must be >= 0, got %d", ErrInvalidScope, *maxManageableUsers)
	}

	roles, err := normalizeIDs(roleIDs)
	if err != nil {
		return Scope{}, err
	}
	permissions, err := normalizeIDs(permissionIDs)
	if err != nil {
		return Scope{}, err
	}

	var limit *int
	if maxManageableUsers != nil {
		v := *maxManageableUsers
		limit = &v
	}

	return Scope{
		canManageUsers:     canManageUsers,
		maxManageableUsers: limit,
		roleIDs:            roles,
		permissionIDs:      permissions,
	}, nil
}

// ScopeFromIDs builds a Scope from already-typed ids. It applies the same
// deduplication as NewScope but cannot fail on id types.
func ScopeFromIDs(canManageUsers bool, maxManageableUsers *int, roleIDs, permissionIDs []ID) (Scope, error) {
	roles := make([]any, len(roleIDs))
	for i, id := range roleIDs {
		roles[i] = id
	}
	permissions := make([]any, len(permissionIDs))
	for i, id := range permissionIDs {
		permissions[i] = id
	}
	return NewScope(canManageUsers, maxManageableUsers, roles, permissions)
}

// Limit is a convenience for building the optional user limit in place.
//
// Example:
//
//	scope, err := delegatekit.NewScope(true, delegatekit.Limit(5), roles, perms)
func Limit(n int) *int {
	return &n
}

// CanManageUsers reports whether the scope allows managing users at all.
func (s Scope) CanManageUsers() bool {
	return s.canManageUsers
}

// MaxManageableUsers returns the user-creation limit. The second result is
// false when the scope is unlimited.
func (s Scope) MaxManageableUsers() (int, bool) {
	if s.maxManageableUsers == nil {
		return 0, false
	}
	return *s.maxManageableUsers, true
}

// Unlimited reports whether the scope has no user-creation limit.
func (s Scope) Unlimited() bool {
	return s.maxManageableUsers == nil
}

// AssignableRoleIDs returns a copy of the assignable role id set, in
// insertion order.
func (s Scope) AssignableRoleIDs() []ID {
	out := make([]ID, len(s.roleIDs))
	copy(out, s.roleIDs)
	return out
}

// AssignablePermissionIDs returns a copy of the assignable permission id
// set, in insertion order.
func (s Scope) AssignablePermissionIDs() []ID {
	out := make([]ID, len(s.permissionIDs))
	copy(out, s.permissionIDs)
	return out
}

// HasRole reports whether the role id is in the assignable set.
func (s Scope) HasRole(id ID) bool {
	for _, r := range s.roleIDs {
		if r == id {
			return true
		}
	}
	return false
}

// HasPermission reports whether the permission id is in the assignable set.
func (s Scope) HasPermission(id ID) bool {
	for _, p := range s.permissionIDs {
		if p == id {
			return true
		}
	}
	return false
}

// scopeSnapshot is the wire form of a Scope for caching and audit metadata.
type scopeSnapshot struct {
	CanManageUsers     bool `json:"can_manage_users"`
	MaxManageableUsers *int `json:"max_manageable_users"`
	RoleIDs            []ID `json:"assignable_role_ids"`
	PermissionIDs      []ID `json:"assignable_permission_ids"`
}

// MarshalJSON encodes the scope for the cache and for audit snapshots.
func (s Scope) MarshalJSON() ([]byte, error) {
	return json.Marshal(scopeSnapshot{
		CanManageUsers:     s.canManageUsers,
		MaxManageableUsers: s.maxManageableUsers,
		RoleIDs:            s.roleIDs,
		PermissionIDs:      s.permissionIDs,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON. The decoded scope is
// re-normalized so a hand-written payload cannot smuggle duplicates in.
func (s *Scope) UnmarshalJSON(data []byte) error {
	var snap scopeSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	scope, err := ScopeFromIDs(snap.CanManageUsers, snap.MaxManageableUsers, snap.RoleIDs, snap.PermissionIDs)
	if err != nil {
		return err
	}
	*s = scope
	return nil
}
