package delegatekit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// uniqueID returns a collision-free id for live-database tests.
func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// TestStore_RoleRoundTrip tests role catalog persistence against a live
// database
func TestStore_RoleRoundTrip(t *testing.T) {
	if !RequireDatabase(t) {
		return
	}
	ctx := context.Background()
	store, db, err := SetupTestStore(ctx)
	require.NoError(t, err)
	defer db.Close()

	name := uniqueID("role")
	roleID := StringID(name)
	require.NoError(t, store.SaveRole(ctx, Role{ID: roleID, Name: name, Namespace: "test"}))

	roles := store.Backend().Roles

	found, err := roles.FindByID(ctx, roleID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, name, found.Name)
	assert.Equal(t, "test", found.Namespace)

	byName, err := roles.FindByName(ctx, name, "test")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, roleID, byName.ID)

	missing, err := roles.FindByID(ctx, StringID(uniqueID("missing")))
	require.NoError(t, err)
	assert.Nil(t, missing)

	t.Run("Assignment and membership", func(t *testing.T) {
		userID := uniqueID("user")
		require.NoError(t, roles.AssignToUser(ctx, userID, roleID))
		// Assigning again is a no-op, not an error.
		require.NoError(t, roles.AssignToUser(ctx, userID, roleID))

		has, err := roles.UserHasRole(ctx, userID, roleID)
		require.NoError(t, err)
		assert.True(t, has)

		hasNamed, err := roles.UserHasRoleNamed(ctx, userID, name, "test")
		require.NoError(t, err)
		assert.True(t, hasNamed)

		require.NoError(t, roles.RemoveFromUser(ctx, userID, roleID))
		has, err = roles.UserHasRole(ctx, userID, roleID)
		require.NoError(t, err)
		assert.False(t, has)
	})
}

// TestStore_ScopeRoundTrip tests delegation scope persistence including
// the assignable sets
func TestStore_ScopeRoundTrip(t *testing.T) {
	if !RequireDatabase(t) {
		return
	}
	ctx := context.Background()
	store, db, err := SetupTestStore(ctx)
	require.NoError(t, err)
	defer db.Close()

	delegations := store.Backend().Delegations
	userID := uniqueID("user")

	empty, err := delegations.GetScope(ctx, userID)
	require.NoError(t, err)
	assert.False(t, empty.CanManageUsers())

	scope, err := NewScope(true, Limit(7), []any{1, "editor"}, []any{"posts.edit"})
	require.NoError(t, err)
	require.NoError(t, delegations.SaveScope(ctx, userID, scope))

	loaded, err := delegations.GetScope(ctx, userID)
	require.NoError(t, err)
	assert.True(t, loaded.CanManageUsers())
	limit, ok := loaded.MaxManageableUsers()
	assert.True(t, ok)
	assert.Equal(t, 7, limit)
	assert.ElementsMatch(t, []ID{IntID(1), StringID("editor")}, loaded.AssignableRoleIDs())
	assert.ElementsMatch(t, []ID{StringID("posts.edit")}, loaded.AssignablePermissionIDs())

	t.Run("Replacement is wholesale", func(t *testing.T) {
		smaller, err := NewScope(true, nil, []any{1}, nil)
		require.NoError(t, err)
		require.NoError(t, delegations.SaveScope(ctx, userID, smaller))

		loaded, err := delegations.GetScope(ctx, userID)
		require.NoError(t, err)
		assert.True(t, loaded.Unlimited())
		assert.Equal(t, []ID{IntID(1)}, loaded.AssignableRoleIDs())
		assert.Empty(t, loaded.AssignablePermissionIDs())
	})
}

// TestStore_CreatorLink tests creation records and the set-once rule
func TestStore_CreatorLink(t *testing.T) {
	if !RequireDatabase(t) {
		return
	}
	ctx := context.Background()
	store, db, err := SetupTestStore(ctx)
	require.NoError(t, err)
	defer db.Close()

	delegations := store.Backend().Delegations
	creator := uniqueID("creator")
	child := uniqueID("child")

	require.NoError(t, delegations.RecordCreation(ctx, creator, child))
	require.NoError(t, delegations.RecordCreation(ctx, uniqueID("other"), child))

	got, err := delegations.CreatorOf(ctx, child)
	require.NoError(t, err)
	assert.Equal(t, creator, got)

	count, err := delegations.CountCreatedUsers(ctx, creator)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	none, err := delegations.CreatorOf(ctx, uniqueID("orphan"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

// TestStore_QuotaLock tests the row-locked creation path against a live
// database
func TestStore_QuotaLock(t *testing.T) {
	if !RequireDatabase(t) {
		return
	}
	ctx := context.Background()
	store, db, err := SetupTestStore(ctx)
	require.NoError(t, err)
	defer db.Close()

	b := store.Backend()
	quota := NewQuotaManager(b.Roles, b.Delegations, b.Tx, "", "")
	manager := uniqueID("manager")

	scope, err := NewScope(true, Limit(1), nil, nil)
	require.NoError(t, err)
	require.NoError(t, b.Delegations.SaveScope(ctx, manager, scope))

	err = quota.WithLock(ctx, manager, func(txCtx context.Context) error {
		return b.Delegations.RecordCreation(txCtx, manager, uniqueID("created"))
	})
	require.NoError(t, err)

	err = quota.WithLock(ctx, manager, func(context.Context) error { return nil })
	assert.True(t, IsQuotaExceeded(err))
}

// TestStore_NestedTransaction tests that a RunInTransaction call made
// inside another one joins the outer transaction instead of opening its
// own, so nested writes roll back with the outer rollback
func TestStore_NestedTransaction(t *testing.T) {
	if !RequireDatabase(t) {
		return
	}
	ctx := context.Background()
	store, db, err := SetupTestStore(ctx)
	require.NoError(t, err)
	defer db.Close()

	b := store.Backend()
	userID := uniqueID("user")
	scope, err := NewScope(true, Limit(3), []any{1}, nil)
	require.NoError(t, err)

	abort := errors.New("abort after nested write")
	err = b.Tx.RunInTransaction(ctx, func(txCtx context.Context) error {
		// SaveScope opens its own nested transaction internally.
		if err := b.Delegations.SaveScope(txCtx, userID, scope); err != nil {
			return err
		}

		// The nested write is visible inside the outer transaction.
		saved, err := b.Delegations.GetScope(txCtx, userID)
		if err != nil {
			return err
		}
		require.True(t, saved.CanManageUsers())

		return abort
	})
	require.Error(t, err)

	// The outer rollback took the nested write with it.
	saved, err := b.Delegations.GetScope(ctx, userID)
	require.NoError(t, err)
	assert.False(t, saved.CanManageUsers())
	assert.Empty(t, saved.AssignableRoleIDs())
}

// TestStore_Health tests the health surface against a live database
func TestStore_Health(t *testing.T) {
	if !RequireDatabase(t) {
		return
	}
	ctx := context.Background()
	store, db, err := SetupTestStore(ctx)
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, store.IsHealthy(ctx))
	assert.NoError(t, store.Ping(ctx))

	health := store.Health(ctx)
	assert.True(t, health.Healthy)
}
