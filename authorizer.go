package delegatekit

import (
	"context"
)

// engineAuthorizer is the uncached Authorizer: decisions from the engine,
// quota reads from the quota manager, list reads straight from storage.
type engineAuthorizer struct {
	engine      *Engine
	quota       *QuotaManager
	delegations DelegationRepository
}

func newEngineAuthorizer(engine *Engine, quota *QuotaManager, delegations DelegationRepository) *engineAuthorizer {
	return &engineAuthorizer{
		engine:      engine,
		quota:       quota,
		delegations: delegations,
	}
}

func (a *engineAuthorizer) CanAssignRole(ctx context.Context, delegatorID string, roleID ID, targetID string) (Decision, error) {
	return a.engine.CanAssignRole(ctx, delegatorID, roleID, targetID)
}

func (a *engineAuthorizer) CanAssignPermission(ctx context.Context, delegatorID string, permissionID ID, targetID string) (Decision, error) {
	return a.engine.CanAssignPermission(ctx, delegatorID, permissionID, targetID)
}

func (a *engineAuthorizer) CanRevokeRole(ctx context.Context, delegatorID string, roleID ID, targetID string) (Decision, error) {
	return a.engine.CanRevokeRole(ctx, delegatorID, roleID, targetID)
}

func (a *engineAuthorizer) CanRevokePermission(ctx context.Context, delegatorID string, permissionID ID, targetID string) (Decision, error) {
	return a.engine.CanRevokePermission(ctx, delegatorID, permissionID, targetID)
}

func (a *engineAuthorizer) CanManageUser(ctx context.Context, delegatorID, targetID string) (Decision, error) {
	return a.engine.CanManageUser(ctx, delegatorID, targetID)
}

func (a *engineAuthorizer) CanCreateUsers(ctx context.Context, delegatorID string) (bool, error) {
	return a.quota.CanCreateUsers(ctx, delegatorID)
}

func (a *engineAuthorizer) AssignableRoles(ctx context.Context, delegatorID string) ([]ID, error) {
	return a.delegations.AssignableRoleIDs(ctx, delegatorID)
}

func (a *engineAuthorizer) AssignablePermissions(ctx context.Context, delegatorID string) ([]ID, error) {
	return a.delegations.AssignablePermissionIDs(ctx, delegatorID)
}

func (a *engineAuthorizer) DelegationScope(ctx context.Context, delegatorID string) (Scope, error) {
	return a.delegations.GetScope(ctx, delegatorID)
}

func (a *engineAuthorizer) CreatedUserCount(ctx context.Context, delegatorID string) (int, error) {
	return a.quota.CreatedCount(ctx, delegatorID)
}

func (a *engineAuthorizer) RemainingQuota(ctx context.Context, delegatorID string) (*int, error) {
	return a.quota.RemainingQuota(ctx, delegatorID)
}
