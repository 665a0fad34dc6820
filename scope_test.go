package delegatekit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewScope tests scope construction and input normalization
func TestNewScope(t *testing.T) {
	t.Run("Valid scope", func(t *testing.T) {
		scope, err := NewScope(true, Limit(10), []any{1, 2}, []any{"posts.edit"})
		require.NoError(t, err)

		assert.True(t, scope.CanManageUsers())
		limit, ok := scope.MaxManageableUsers()
		assert.True(t, ok)
		assert.Equal(t, 10, limit)
		assert.False(t, scope.Unlimited())
	})

	t.Run("Negative limit is rejected", func(t *testing.T) {
		_, err := NewScope(true, Limit(-1), nil, nil)
		assert.ErrorIs(t, err, ErrInvalidScope)
	})

	t.Run("Nil limit means unlimited", func(t *testing.T) {
		scope, err := NewScope(true, nil, nil, nil)
		require.NoError(t, err)
		_, ok := scope.MaxManageableUsers()
		assert.False(t, ok)
		assert.True(t, scope.Unlimited())
	})

	t.Run("Zero limit is valid and means no creations", func(t *testing.T) {
		scope, err := NewScope(true, Limit(0), nil, nil)
		require.NoError(t, err)
		limit, ok := scope.MaxManageableUsers()
		assert.True(t, ok)
		assert.Equal(t, 0, limit)
	})

	t.Run("Duplicate ids collapse", func(t *testing.T) {
		scope, err := NewScope(true, nil, []any{1, 1, 2}, nil)
		require.NoError(t, err)
		assert.Equal(t, []ID{IntID(1), IntID(2)}, scope.AssignableRoleIDs())
	})

	t.Run("Int and string ids stay distinct", func(t *testing.T) {
		scope, err := NewScope(true, nil, []any{1, "1"}, nil)
		require.NoError(t, err)
		assert.Len(t, scope.AssignableRoleIDs(), 2)
		assert.True(t, scope.HasRole(IntID(1)))
		assert.True(t, scope.HasRole(StringID("1")))
	})
}

// TestScope_Membership tests role and permission membership checks
func TestScope_Membership(t *testing.T) {
	scope, err := NewScope(true, nil, []any{1, "editor"}, []any{"posts.edit"})
	require.NoError(t, err)

	assert.True(t, scope.HasRole(IntID(1)))
	assert.True(t, scope.HasRole(StringID("editor")))
	assert.False(t, scope.HasRole(StringID("1")))
	assert.False(t, scope.HasRole(IntID(2)))

	assert.True(t, scope.HasPermission(StringID("posts.edit")))
	assert.False(t, scope.HasPermission(StringID("posts.delete")))
}

// TestScope_ZeroValue tests that the zero scope denies everything
func TestScope_ZeroValue(t *testing.T) {
	var scope Scope

	assert.False(t, scope.CanManageUsers())
	assert.Empty(t, scope.AssignableRoleIDs())
	assert.Empty(t, scope.AssignablePermissionIDs())
	assert.True(t, scope.Unlimited())
}

// TestScope_Immutability tests that accessor results cannot mutate the scope
func TestScope_Immutability(t *testing.T) {
	scope, err := NewScope(true, nil, []any{1, 2}, nil)
	require.NoError(t, err)

	ids := scope.AssignableRoleIDs()
	ids[0] = IntID(99)

	assert.Equal(t, []ID{IntID(1), IntID(2)}, scope.AssignableRoleIDs())
	assert.False(t, scope.HasRole(IntID(99)))
}

// TestScope_JSON tests the snapshot round trip used by the decision cache
func TestScope_JSON(t *testing.T) {
	scope, err := NewScope(true, Limit(5), []any{1, "editor"}, []any{"posts.edit"})
	require.NoError(t, err)

	data, err := json.Marshal(scope)
	require.NoError(t, err)

	var back Scope
	require.NoError(t, json.Unmarshal(data, &back))

	assert.Equal(t, scope.CanManageUsers(), back.CanManageUsers())
	assert.Equal(t, scope.AssignableRoleIDs(), back.AssignableRoleIDs())
	assert.Equal(t, scope.AssignablePermissionIDs(), back.AssignablePermissionIDs())
	limit, ok := back.MaxManageableUsers()
	assert.True(t, ok)
	assert.Equal(t, 5, limit)
}
