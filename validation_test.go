package delegatekit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestValidateDelegation tests per-field pre-flight reporting without
// mutation
func TestValidateDelegation(t *testing.T) {
	f, managerCtx := newServiceFixture(t)

	t.Run("Fully authorized batch has no problems", func(t *testing.T) {
		problems, err := f.Service.ValidateDelegation(managerCtx, "manager", "created-user",
			[]ID{IntID(1)}, []ID{StringID("posts.edit")})
		require.NoError(t, err)
		assert.Empty(t, problems)
	})

	t.Run("Each failing field gets its own message", func(t *testing.T) {
		problems, err := f.Service.ValidateDelegation(managerCtx, "manager", "created-user",
			[]ID{IntID(1), IntID(2), IntID(99)}, []ID{StringID("posts.delete")})
		require.NoError(t, err)

		assert.NotContains(t, problems, "roles.1")
		assert.Equal(t, ReasonRoleNotInScope, problems["roles.2"])
		assert.Equal(t, "role does not exist", problems["roles.99"])
		assert.Equal(t, ReasonPermissionNotInScope, problems["permissions.posts.delete"])
	})

	t.Run("Unmanageable target fails the target field", func(t *testing.T) {
		problems, err := f.Service.ValidateDelegation(managerCtx, "manager", "root",
			[]ID{IntID(1)}, nil)
		require.NoError(t, err)
		assert.Equal(t, ReasonNotCreator, problems["target"])
	})
}

// TestDelegate tests the bulk grant: all-or-nothing application with a
// structured result
func TestDelegate(t *testing.T) {
	f, managerCtx := newServiceFixture(t)

	t.Run("Valid batch applies everything", func(t *testing.T) {
		result, err := f.Service.Delegate(managerCtx, DelegationRequest{
			TargetUserID:  "created-user",
			RoleIDs:       []ID{IntID(1)},
			PermissionIDs: []ID{StringID("posts.edit")},
		})
		require.NoError(t, err)
		require.NotNil(t, result)

		assert.True(t, result.Success)
		assert.Equal(t, "manager", result.ActorID)
		assert.Equal(t, "created-user", result.TargetID)
		assert.Equal(t, []string{"editor"}, result.Roles)
		assert.Equal(t, []string{"posts.edit"}, result.Permissions)
		assert.Empty(t, result.Errors)

		has, err := f.Backend.Backend().Roles.UserHasRole(managerCtx, "created-user", IntID(1))
		require.NoError(t, err)
		assert.True(t, has)
		has, err = f.Backend.Backend().Permissions.UserHasPermission(managerCtx, "created-user", StringID("posts.edit"))
		require.NoError(t, err)
		assert.True(t, has)

		assert.Len(t, f.Audit.OfKind(AuditRoleAssigned), 1)
		assert.Len(t, f.Audit.OfKind(AuditPermissionGranted), 1)
	})
}

// TestDelegate_RejectedBatch tests that one bad entry rejects the whole
// batch without applying anything
func TestDelegate_RejectedBatch(t *testing.T) {
	f, managerCtx := newServiceFixture(t)

	result, err := f.Service.Delegate(managerCtx, DelegationRequest{
		TargetUserID: "created-user",
		RoleIDs:      []ID{IntID(1), IntID(2)},
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.False(t, result.Success)
	assert.Equal(t, ReasonRoleNotInScope, result.Errors["roles.2"])
	assert.NotContains(t, result.Errors, "roles.1")

	// Nothing was written, not even the authorized entry.
	has, err := f.Backend.Backend().Roles.UserHasRole(managerCtx, "created-user", IntID(1))
	require.NoError(t, err)
	assert.False(t, has)

	assert.Empty(t, f.Audit.OfKind(AuditRoleAssigned))
	denials := f.Audit.OfKind(AuditUnauthorizedAttempt)
	require.Len(t, denials, 1)
	assert.Equal(t, string(ActionDelegate), denials[0].Metadata["action"])
}

// TestDelegate_RejectedPermissionBatch tests that a rejected batch of
// permissions is audited under the batch action, not a role action
func TestDelegate_RejectedPermissionBatch(t *testing.T) {
	f, managerCtx := newServiceFixture(t)

	result, err := f.Service.Delegate(managerCtx, DelegationRequest{
		TargetUserID:  "created-user",
		PermissionIDs: []ID{StringID("posts.delete")},
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)

	denials := f.Audit.OfKind(AuditUnauthorizedAttempt)
	require.Len(t, denials, 1)
	assert.Equal(t, string(ActionDelegate), denials[0].Metadata["action"])
}

// TestDelegate_NoActor tests that bulk delegation requires an actor
func TestDelegate_NoActor(t *testing.T) {
	f, _ := newServiceFixture(t)

	_, err := f.Service.Delegate(context.Background(), DelegationRequest{TargetUserID: "created-user"})
	assert.ErrorIs(t, err, ErrNoActorID)
}
