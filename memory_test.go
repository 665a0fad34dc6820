package delegatekit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryBackend_UserDirectory tests user registration and lookup
func TestMemoryBackend_UserDirectory(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	id := backend.AddUser("")
	assert.NotEmpty(t, id)
	backend.AddUser("alice")

	exists, err := backend.Exists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = backend.Exists(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, exists)

	count, err := backend.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	ids, err := backend.AllIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, "alice")
}

// TestMemoryBackend_CreatorSetOnce tests that a creator link is never
// re-parented
func TestMemoryBackend_CreatorSetOnce(t *testing.T) {
	backend := NewMemoryBackend()
	delegations := backend.Backend().Delegations
	ctx := context.Background()

	require.NoError(t, delegations.RecordCreation(ctx, "first", "child"))
	require.NoError(t, delegations.RecordCreation(ctx, "second", "child"))

	creator, err := delegations.CreatorOf(ctx, "child")
	require.NoError(t, err)
	assert.Equal(t, "first", creator)
}

// TestMemoryBackend_RoleSync tests wholesale replacement of a user's roles
func TestMemoryBackend_RoleSync(t *testing.T) {
	backend := NewMemoryBackend()
	roles := backend.Backend().Roles
	ctx := context.Background()

	require.NoError(t, roles.AssignToUser(ctx, "u", IntID(1)))
	require.NoError(t, roles.AssignToUser(ctx, "u", IntID(2)))
	require.NoError(t, roles.SyncUser(ctx, "u", []ID{IntID(2), IntID(3)}))

	has, _ := roles.UserHasRole(ctx, "u", IntID(1))
	assert.False(t, has)
	has, _ = roles.UserHasRole(ctx, "u", IntID(2))
	assert.True(t, has)
	has, _ = roles.UserHasRole(ctx, "u", IntID(3))
	assert.True(t, has)
}

// TestMemoryBackend_FindByName tests the namespaced name lookups
func TestMemoryBackend_FindByName(t *testing.T) {
	backend := NewMemoryBackend()
	roles := backend.Backend().Roles
	ctx := context.Background()

	backend.AddRole(Role{ID: IntID(1), Name: "admin", Namespace: "core"})
	backend.AddRole(Role{ID: IntID(2), Name: "admin", Namespace: "billing"})

	role, err := roles.FindByName(ctx, "admin", "billing")
	require.NoError(t, err)
	require.NotNil(t, role)
	assert.Equal(t, IntID(2), role.ID)

	role, err = roles.FindByName(ctx, "admin", "missing")
	require.NoError(t, err)
	assert.Nil(t, role)

	listed, err := roles.List(ctx, "core")
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	all, err := roles.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// TestMemoryBackend_LockRequiresTransaction tests that locking outside
// RunInTransaction is rejected
func TestMemoryBackend_LockRequiresTransaction(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	err := backend.LockUser(ctx, "u")
	assert.ErrorIs(t, err, ErrDatabaseError)

	err = backend.RunInTransaction(ctx, func(txCtx context.Context) error {
		return backend.LockUser(txCtx, "u")
	})
	assert.NoError(t, err)
}

// TestMemoryBackend_NestedTransactionJoins tests that a nested call shares
// the outer locking scope instead of deadlocking on it
func TestMemoryBackend_NestedTransactionJoins(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	err := backend.RunInTransaction(ctx, func(outer context.Context) error {
		if err := backend.LockUser(outer, "u"); err != nil {
			return err
		}
		return backend.RunInTransaction(outer, func(inner context.Context) error {
			return nil
		})
	})
	assert.NoError(t, err)

	// The lock was released; a second transaction can take it again.
	err = backend.RunInTransaction(ctx, func(txCtx context.Context) error {
		return backend.LockUser(txCtx, "u")
	})
	assert.NoError(t, err)
}
