package delegatekit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newServiceFixture builds a service over the in-memory backend with a root
// admin, a delegating manager and a user the manager created.
func newServiceFixture(t *testing.T) (*TestFixture, context.Context) {
	t.Helper()
	f := NewTestFixture(Config{RootAdminRole: "super_admin"})
	ctx := context.Background()

	f.Backend.AddRole(Role{ID: StringID("super_admin"), Name: "super_admin"})
	f.Backend.AddRole(Role{ID: IntID(1), Name: "editor"})
	f.Backend.AddRole(Role{ID: IntID(2), Name: "reviewer"})
	f.Backend.AddPermission(Permission{ID: StringID("posts.edit"), Name: "posts.edit"})
	f.Backend.AddPermission(Permission{ID: StringID("posts.delete"), Name: "posts.delete"})

	f.Backend.AddUser("root")
	require.NoError(t, f.Backend.Backend().Roles.AssignToUser(ctx, "root", StringID("super_admin")))

	scope, err := NewScope(true, Limit(5), []any{1}, []any{"posts.edit"})
	require.NoError(t, err)
	managerCtx, err := f.SeedDelegator(ctx, "manager", scope)
	require.NoError(t, err)
	require.NoError(t, f.SeedCreatedUser(ctx, "manager", "created-user"))

	return f, managerCtx
}

// TestService_DelegateRole tests the full grant flow: decision, mutation,
// audit, event and cache invalidation
func TestService_DelegateRole(t *testing.T) {
	f, managerCtx := newServiceFixture(t)

	require.NoError(t, f.Service.DelegateRole(managerCtx, "created-user", IntID(1)))

	has, err := f.Backend.Backend().Roles.UserHasRole(managerCtx, "created-user", IntID(1))
	require.NoError(t, err)
	assert.True(t, has)

	records := f.Audit.OfKind(AuditRoleAssigned)
	require.Len(t, records, 1)
	assert.Equal(t, "manager", records[0].ActorID)
	assert.Equal(t, "created-user", records[0].TargetID)
	assert.Equal(t, "editor", records[0].Metadata["role_name"])

	events := f.Events.OfKind(EventRoleDelegated)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].RoleID)
	assert.Equal(t, IntID(1), *events[0].RoleID)
}

// TestService_DelegateRole_Denied tests the denial flow: typed error plus
// an unauthorized-attempt audit record, and no mutation
func TestService_DelegateRole_Denied(t *testing.T) {
	f, managerCtx := newServiceFixture(t)

	err := f.Service.DelegateRole(managerCtx, "created-user", IntID(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCannotAssignRole)
	assert.True(t, IsAuthorizationDenied(err))

	var typed *Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, ReasonRoleNotInScope, typed.Message)
	assert.Equal(t, "manager", typed.ActorID)
	assert.Equal(t, "created-user", typed.TargetID)

	has, err := f.Backend.Backend().Roles.UserHasRole(managerCtx, "created-user", IntID(2))
	require.NoError(t, err)
	assert.False(t, has)

	records := f.Audit.OfKind(AuditUnauthorizedAttempt)
	require.Len(t, records, 1)
	assert.Equal(t, ReasonRoleNotInScope, records[0].Metadata["reason"])
}

// TestService_DelegateRole_UnknownRole tests that a nonexistent role fails
// before any decision
func TestService_DelegateRole_UnknownRole(t *testing.T) {
	f, managerCtx := newServiceFixture(t)

	err := f.Service.DelegateRole(managerCtx, "created-user", IntID(99))
	assert.ErrorIs(t, err, ErrUnknownRole)
	assert.Empty(t, f.Audit.Records)
}

// TestService_UnknownTargetUser tests that mutations against an
// unregistered user fail before any decision
func TestService_UnknownTargetUser(t *testing.T) {
	f, managerCtx := newServiceFixture(t)

	err := f.Service.DelegateRole(managerCtx, "ghost", IntID(1))
	assert.ErrorIs(t, err, ErrUnknownUser)

	scope, err := NewScope(true, nil, nil, nil)
	require.NoError(t, err)
	err = f.Service.SetDelegationScope(managerCtx, "ghost", scope)
	assert.ErrorIs(t, err, ErrUnknownUser)

	_, err = f.Service.Delegate(managerCtx, DelegationRequest{TargetUserID: "ghost"})
	assert.ErrorIs(t, err, ErrUnknownUser)
}

// TestService_NoActor tests that mutating calls without an actor fail
func TestService_NoActor(t *testing.T) {
	f, _ := newServiceFixture(t)

	err := f.Service.DelegateRole(context.Background(), "created-user", IntID(1))
	assert.ErrorIs(t, err, ErrNoActorID)
}

// TestService_DelegatePermissionAndRevoke tests grant and revoke round
// trips for permissions
func TestService_DelegatePermissionAndRevoke(t *testing.T) {
	f, managerCtx := newServiceFixture(t)
	perms := f.Backend.Backend().Permissions

	require.NoError(t, f.Service.DelegatePermission(managerCtx, "created-user", StringID("posts.edit")))
	has, err := perms.UserHasPermission(managerCtx, "created-user", StringID("posts.edit"))
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, f.Service.RevokePermission(managerCtx, "created-user", StringID("posts.edit")))
	has, err = perms.UserHasPermission(managerCtx, "created-user", StringID("posts.edit"))
	require.NoError(t, err)
	assert.False(t, has)

	assert.Len(t, f.Audit.OfKind(AuditPermissionGranted), 1)
	assert.Len(t, f.Audit.OfKind(AuditPermissionRevoked), 1)

	t.Run("Out-of-scope permission denied", func(t *testing.T) {
		err := f.Service.DelegatePermission(managerCtx, "created-user", StringID("posts.delete"))
		assert.ErrorIs(t, err, ErrCannotGrantPermission)
	})
}

// TestService_RevokeRole tests that revocation applies the assignment
// decision
func TestService_RevokeRole(t *testing.T) {
	f, managerCtx := newServiceFixture(t)

	require.NoError(t, f.Service.DelegateRole(managerCtx, "created-user", IntID(1)))
	require.NoError(t, f.Service.RevokeRole(managerCtx, "created-user", IntID(1)))

	has, err := f.Backend.Backend().Roles.UserHasRole(managerCtx, "created-user", IntID(1))
	require.NoError(t, err)
	assert.False(t, has)

	t.Run("Out-of-scope role cannot be revoked either", func(t *testing.T) {
		err := f.Service.RevokeRole(managerCtx, "created-user", IntID(2))
		assert.ErrorIs(t, err, ErrCannotRevokeRole)
	})
}

// TestService_RootAdminBypass tests that a root admin can delegate outside
// any scope or hierarchy
func TestService_RootAdminBypass(t *testing.T) {
	f, _ := newServiceFixture(t)
	rootCtx := WithActorID(context.Background(), "root")

	require.NoError(t, f.Service.DelegateRole(rootCtx, "manager", IntID(2)))

	has, err := f.Backend.Backend().Roles.UserHasRole(rootCtx, "manager", IntID(2))
	require.NoError(t, err)
	assert.True(t, has)
}

// TestService_SetDelegationScope tests scope replacement, its audit trail
// and the cache consistency it must restore
func TestService_SetDelegationScope(t *testing.T) {
	f, managerCtx := newServiceFixture(t)
	rootCtx := WithActorID(context.Background(), "root")

	// Prime the cache with a positive decision.
	ok, err := f.Service.CanAssignRole(managerCtx, "manager", IntID(1), "")
	require.NoError(t, err)
	assert.True(t, ok)

	// Root shrinks the manager's scope: role 1 is no longer assignable.
	shrunk, err := NewScope(true, Limit(5), nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.Service.SetDelegationScope(rootCtx, "manager", shrunk))

	ok, err = f.Service.CanAssignRole(managerCtx, "manager", IntID(1), "")
	require.NoError(t, err)
	assert.False(t, ok, "decision must reflect the new scope immediately")

	records := f.Audit.OfKind(AuditScopeChanged)
	require.Len(t, records, 1)
	assert.Equal(t, "root", records[0].ActorID)
	assert.Equal(t, "manager", records[0].TargetID)
	assert.Contains(t, records[0].Metadata, "old_scope")
	assert.Contains(t, records[0].Metadata, "new_scope")

	assert.Len(t, f.Events.OfKind(EventScopeChanged), 1)
}

// TestService_SetDelegationScope_Denied tests that an unauthorized actor
// cannot touch scopes
func TestService_SetDelegationScope_Denied(t *testing.T) {
	f, managerCtx := newServiceFixture(t)

	scope, err := NewScope(true, nil, nil, nil)
	require.NoError(t, err)

	// The manager did not create "root" and so cannot manage it.
	err = f.Service.SetDelegationScope(managerCtx, "root", scope)
	assert.ErrorIs(t, err, ErrCannotManageUser)
	require.Len(t, f.Audit.OfKind(AuditUnauthorizedAttempt), 1)
}

// TestService_CreateUser tests quota-bound creation end to end
func TestService_CreateUser(t *testing.T) {
	f, managerCtx := newServiceFixture(t)

	id, err := f.Service.CreateUser(managerCtx, func(context.Context) (string, error) {
		return f.Backend.AddUser(""), nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	creator, err := f.Backend.Backend().Delegations.CreatorOf(managerCtx, id)
	require.NoError(t, err)
	assert.Equal(t, "manager", creator)

	count, err := f.Service.CreatedUserCount(managerCtx, "manager")
	require.NoError(t, err)
	assert.Equal(t, 2, count) // the fixture seeds one created user

	records := f.Audit.OfKind(AuditUserCreated)
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].TargetID)
	assert.Len(t, f.Events.OfKind(EventUserCreated), 1)

	t.Run("Newly created user is manageable", func(t *testing.T) {
		require.NoError(t, f.Service.DelegateRole(managerCtx, id, IntID(1)))
	})
}

// TestService_CreateUser_QuotaExceeded tests the locked denial with its
// audit record
func TestService_CreateUser_QuotaExceeded(t *testing.T) {
	f := NewTestFixture(Config{})
	ctx := context.Background()

	scope, err := NewScope(true, Limit(1), nil, nil)
	require.NoError(t, err)
	managerCtx, err := f.SeedDelegator(ctx, "manager", scope)
	require.NoError(t, err)

	_, err = f.Service.CreateUser(managerCtx, func(context.Context) (string, error) {
		return f.Backend.AddUser(""), nil
	})
	require.NoError(t, err)

	_, err = f.Service.CreateUser(managerCtx, func(context.Context) (string, error) {
		t.Fatal("creation must not run past the limit")
		return "", nil
	})
	require.Error(t, err)
	assert.True(t, IsQuotaExceeded(err))

	limit, ok := QuotaLimit(err)
	assert.True(t, ok)
	assert.Equal(t, 1, limit)

	records := f.Audit.OfKind(AuditUnauthorizedAttempt)
	require.Len(t, records, 1)
	assert.Equal(t, ReasonLimitReached, records[0].Metadata["reason"])
	assert.Equal(t, 1, records[0].Metadata["limit"])
}

// TestService_AuditForensics tests that request metadata from the context
// lands on audit records
func TestService_AuditForensics(t *testing.T) {
	f, managerCtx := newServiceFixture(t)

	ctx := WithIPAddress(managerCtx, "10.1.2.3")
	ctx = WithUserAgent(ctx, "cli/1.0")
	ctx = WithRequestID(ctx, "req-77")

	require.NoError(t, f.Service.DelegateRole(ctx, "created-user", IntID(1)))

	record := f.Audit.Last()
	assert.Equal(t, "10.1.2.3", record.IPAddress)
	assert.Equal(t, "cli/1.0", record.UserAgent)
	assert.Equal(t, "req-77", record.RequestID)
}

// TestService_ReadSurface tests the pass-through read helpers
func TestService_ReadSurface(t *testing.T) {
	f, managerCtx := newServiceFixture(t)

	roles, err := f.Service.AssignableRoles(managerCtx, "manager")
	require.NoError(t, err)
	assert.Equal(t, []ID{IntID(1)}, roles)

	permissions, err := f.Service.AssignablePermissions(managerCtx, "manager")
	require.NoError(t, err)
	assert.Equal(t, []ID{StringID("posts.edit")}, permissions)

	scope, err := f.Service.DelegationScope(managerCtx, "manager")
	require.NoError(t, err)
	assert.True(t, scope.CanManageUsers())

	ok, err := f.Service.CanCreateUsers(managerCtx, "manager")
	require.NoError(t, err)
	assert.True(t, ok)

	remaining, err := f.Service.RemainingQuota(managerCtx, "manager")
	require.NoError(t, err)
	if assert.NotNil(t, remaining) {
		assert.Equal(t, 4, *remaining) // limit 5, one seeded creation
	}
}
