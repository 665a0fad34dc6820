package delegatekit

import (
	"context"
)

// UserDirectory exposes the host system's user population. Users are
// referenced by id only; delegatekit never models them.
type UserDirectory interface {
	// Exists reports whether a user id is known to the host system.
	Exists(ctx context.Context, userID string) (bool, error)
	// AllIDs enumerates every known user id.
	AllIDs(ctx context.Context) ([]string, error)
	// Count returns the number of known users.
	Count(ctx context.Context) (int, error)
}

// RoleRepository exposes the host system's roles and role membership.
type RoleRepository interface {
	// FindByID returns the role, or nil when it does not exist.
	FindByID(ctx context.Context, id ID) (*Role, error)
	// FindByIDs batch-loads roles; missing ids are silently absent from
	// the result.
	FindByIDs(ctx context.Context, ids []ID) ([]Role, error)
	// FindByName returns the role with the given name in a namespace, or
	// nil when it does not exist.
	FindByName(ctx context.Context, name, namespace string) (*Role, error)
	// List returns all roles, optionally filtered by namespace (empty
	// string means all).
	List(ctx context.Context, namespace string) ([]Role, error)
	// AssignToUser grants the role to a user. Assigning an already-held
	// role is a no-op.
	AssignToUser(ctx context.Context, userID string, id ID) error
	// RemoveFromUser revokes the role from a user. Removing a role the
	// user does not hold is a no-op.
	RemoveFromUser(ctx context.Context, userID string, id ID) error
	// UserHasRole reports whether the user holds the role.
	UserHasRole(ctx context.Context, userID string, id ID) (bool, error)
	// UserHasRoleNamed reports whether the user holds a role by name in a
	// namespace. The engine resolves the root-admin marker through this.
	UserHasRoleNamed(ctx context.Context, userID string, name, namespace string) (bool, error)
	// SyncUser replaces the user's role set wholesale.
	SyncUser(ctx context.Context, userID string, ids []ID) error
}

// PermissionRepository exposes the host system's permissions and direct
// permission grants.
type PermissionRepository interface {
	// FindByID returns the permission, or nil when it does not exist.
	FindByID(ctx context.Context, id ID) (*Permission, error)
	// FindByIDs batch-loads permissions; missing ids are silently absent
	// from the result.
	FindByIDs(ctx context.Context, ids []ID) ([]Permission, error)
	// FindByName returns the permission with the given name in a
	// namespace, or nil when it does not exist.
	FindByName(ctx context.Context, name, namespace string) (*Permission, error)
	// List returns all permissions, optionally filtered by namespace.
	List(ctx context.Context, namespace string) ([]Permission, error)
	// GrantToUser grants the permission directly to a user.
	GrantToUser(ctx context.Context, userID string, id ID) error
	// RevokeFromUser revokes a direct permission grant.
	RevokeFromUser(ctx context.Context, userID string, id ID) error
	// UserHasPermission reports whether the user holds the permission
	// directly.
	UserHasPermission(ctx context.Context, userID string, id ID) (bool, error)
	// SyncUser replaces the user's direct permission set wholesale.
	SyncUser(ctx context.Context, userID string, ids []ID) error
}

// DelegationRepository stores delegation state: each user's scope (flags,
// limit and assignable sets) and the creator links the hierarchy gate runs
// on.
type DelegationRepository interface {
	// GetScope returns the user's delegation scope. A user without any
	// delegation record has the zero scope (cannot manage users).
	GetScope(ctx context.Context, userID string) (Scope, error)
	// SaveScope replaces the user's delegation scope wholesale: flags,
	// limit and both assignable sets.
	SaveScope(ctx context.Context, userID string, scope Scope) error
	// CreatorOf returns the id of the user that created userID, or empty
	// string when no creator is recorded. The creator link is set once and
	// never re-parented.
	CreatorOf(ctx context.Context, userID string) (string, error)
	// RecordCreation records that creatorID created userID.
	RecordCreation(ctx context.Context, creatorID, userID string) error
	// CountCreatedUsers returns how many users the creator has created.
	CountCreatedUsers(ctx context.Context, creatorID string) (int, error)
	// AssignableRoleIDs returns the user's assignable role id set.
	AssignableRoleIDs(ctx context.Context, userID string) ([]ID, error)
	// AssignablePermissionIDs returns the user's assignable permission id
	// set.
	AssignablePermissionIDs(ctx context.Context, userID string) ([]ID, error)
}

// TransactionManager runs functions inside a storage transaction and
// acquires per-user exclusive locks within one. Lock-wait and transaction
// timeouts are whatever the underlying storage is configured with.
type TransactionManager interface {
	// RunInTransaction executes fn inside a transaction. The context
	// passed to fn carries the transaction; repository calls made with it
	// join the transaction. fn returning an error rolls back.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	// LockUser acquires an exclusive lock on the user's delegation record.
	// It must be called with a context produced by RunInTransaction; the
	// lock is held until the transaction ends.
	LockUser(ctx context.Context, userID string) error
}

// Backend bundles the storage interfaces a Service runs against. Any field
// mix is allowed as long as they observe the same data.
type Backend struct {
	Users       UserDirectory
	Roles       RoleRepository
	Permissions PermissionRepository
	Delegations DelegationRepository
	Tx          TransactionManager
}

// Authorizer answers the read-side delegation questions. The engine-backed
// implementation is wrapped by the caching decorator; the Service talks to
// whichever it was configured with.
type Authorizer interface {
	CanAssignRole(ctx context.Context, delegatorID string, roleID ID, targetID string) (Decision, error)
	CanAssignPermission(ctx context.Context, delegatorID string, permissionID ID, targetID string) (Decision, error)
	CanRevokeRole(ctx context.Context, delegatorID string, roleID ID, targetID string) (Decision, error)
	CanRevokePermission(ctx context.Context, delegatorID string, permissionID ID, targetID string) (Decision, error)
	CanManageUser(ctx context.Context, delegatorID, targetID string) (Decision, error)
	CanCreateUsers(ctx context.Context, delegatorID string) (bool, error)
	AssignableRoles(ctx context.Context, delegatorID string) ([]ID, error)
	AssignablePermissions(ctx context.Context, delegatorID string) ([]ID, error)
	DelegationScope(ctx context.Context, delegatorID string) (Scope, error)
	CreatedUserCount(ctx context.Context, delegatorID string) (int, error)
	RemainingQuota(ctx context.Context, delegatorID string) (*int, error)
}
