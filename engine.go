package delegatekit

import (
	"context"
)

// Engine answers authorization questions by loading a per-decision
// AuthorizationContext and running it through a fixed ordered pipeline of
// pure checks. Each check either resolves the context with a verdict or
// passes; an unresolved context denies with the generic reason.
//
// All engine reads are pure and safe for unbounded concurrent use.
type Engine struct {
	roles       RoleRepository
	delegations DelegationRepository

	rootAdminRole string // empty disables the bypass
	namespace     string
	checks        []pipelineCheck
}

// pipelineCheck is one stage of the decision pipeline. It either resolves
// the context or leaves it for the next stage. Checks are pure: all state
// they need is loaded into the context beforehand.
type pipelineCheck func(*AuthorizationContext)

// NewEngine creates a decision engine over the given storage interfaces.
// rootAdminRole names the bypass role in the given namespace; an empty name
// disables the bypass.
func NewEngine(roles RoleRepository, delegations DelegationRepository, rootAdminRole, namespace string) *Engine {
	return &Engine{
		roles:         roles,
		delegations:   delegations,
		rootAdminRole: rootAdminRole,
		namespace:     namespace,
		checks: []pipelineCheck{
			checkRootAdmin,
			checkManagementFlag,
			checkHierarchy,
			checkScopeMembership,
		},
	}
}

// CanAssignRole decides whether the delegator may assign the role,
// optionally to a specific target (empty targetID means no target).
func (e *Engine) CanAssignRole(ctx context.Context, delegatorID string, roleID ID, targetID string) (Decision, error) {
	actx, err := e.buildContext(ctx, ActionAssignRole, delegatorID, targetID)
	if err != nil {
		return Decision{}, err
	}
	actx.RoleID = &roleID
	return e.decide(actx), nil
}

// CanAssignPermission decides whether the delegator may grant the
// permission, optionally to a specific target.
func (e *Engine) CanAssignPermission(ctx context.Context, delegatorID string, permissionID ID, targetID string) (Decision, error) {
	actx, err := e.buildContext(ctx, ActionGrantPermission, delegatorID, targetID)
	if err != nil {
		return Decision{}, err
	}
	actx.PermissionID = &permissionID
	return e.decide(actx), nil
}

// CanRevokeRole decides whether the delegator may revoke the role from the
// target. Revocation authorization is defined as "would I still be allowed
// to grant this": it does not check whether the delegator originally
// granted the role.
func (e *Engine) CanRevokeRole(ctx context.Context, delegatorID string, roleID ID, targetID string) (Decision, error) {
	return e.CanAssignRole(ctx, delegatorID, roleID, targetID)
}

// CanRevokePermission decides whether the delegator may revoke the
// permission from the target. Same definition as CanRevokeRole.
func (e *Engine) CanRevokePermission(ctx context.Context, delegatorID string, permissionID ID, targetID string) (Decision, error) {
	return e.CanAssignPermission(ctx, delegatorID, permissionID, targetID)
}

// CanManageUser decides whether the delegator may manage the target user at
// all. It runs the bypass, management and hierarchy gates; no capability
// membership applies.
func (e *Engine) CanManageUser(ctx context.Context, delegatorID, targetID string) (Decision, error) {
	actx, err := e.buildContext(ctx, ActionManageUser, delegatorID, targetID)
	if err != nil {
		return Decision{}, err
	}
	return e.decide(actx), nil
}

// buildContext loads the delegator and target snapshots a decision needs.
func (e *Engine) buildContext(ctx context.Context, action Action, delegatorID, targetID string) (*AuthorizationContext, error) {
	actx := &AuthorizationContext{
		Action:      action,
		DelegatorID: delegatorID,
	}

	isRoot, err := e.isRootAdmin(ctx, delegatorID)
	if err != nil {
		return nil, err
	}
	actx.IsRootAdmin = isRoot

	// The root-admin bypass makes everything below irrelevant, but the
	// pipeline stays pure: load everything first, decide afterwards.
	scope, err := e.delegations.GetScope(ctx, delegatorID)
	if err != nil {
		return nil, err
	}
	actx.Scope = scope

	if targetID != "" {
		actx.HasTarget = true
		actx.TargetID = targetID
		creator, err := e.delegations.CreatorOf(ctx, targetID)
		if err != nil {
			return nil, err
		}
		actx.TargetCreator = creator
	}

	return actx, nil
}

// isRootAdmin resolves the configured bypass marker through the role
// repository.
func (e *Engine) isRootAdmin(ctx context.Context, userID string) (bool, error) {
	if e.rootAdminRole == "" {
		return false, nil
	}
	return e.roles.UserHasRoleNamed(ctx, userID, e.rootAdminRole, e.namespace)
}

// decide runs the ordered pipeline until a check resolves the context.
func (e *Engine) decide(actx *AuthorizationContext) Decision {
	for _, check := range e.checks {
		check(actx)
		if actx.Resolved() {
			return actx.Decision()
		}
	}
	return actx.Decision()
}

// ============================================================================
// PIPELINE CHECKS
// ============================================================================

// checkRootAdmin grants unconditionally when the delegator holds the
// configured root-admin role.
func checkRootAdmin(actx *AuthorizationContext) {
	if actx.IsRootAdmin {
		actx.resolve(Grant)
	}
}

// checkManagementFlag denies delegators that may not manage users at all.
func checkManagementFlag(actx *AuthorizationContext) {
	if !actx.Scope.CanManageUsers() {
		actx.resolve(Deny(ReasonCannotManageUsers))
	}
}

// checkHierarchy applies the ownership rules when a target is present:
// no self-management, the target must have a recorded creator, and that
// creator must be the delegator.
func checkHierarchy(actx *AuthorizationContext) {
	if !actx.HasTarget {
		return
	}
	if actx.TargetID == actx.DelegatorID {
		actx.resolve(Deny(ReasonSelfManagement))
		return
	}
	if actx.TargetCreator == "" {
		actx.resolve(Deny(ReasonNoCreator))
		return
	}
	if actx.TargetCreator != actx.DelegatorID {
		actx.resolve(Deny(ReasonNotCreator))
	}
}

// checkScopeMembership grants or denies on the assignable set for
// capability actions, and grants bare manage-user questions that survived
// the earlier gates.
func checkScopeMembership(actx *AuthorizationContext) {
	switch {
	case actx.RoleID != nil:
		if actx.Scope.HasRole(*actx.RoleID) {
			actx.resolve(Grant)
		} else {
			actx.resolve(Deny(ReasonRoleNotInScope))
		}
	case actx.PermissionID != nil:
		if actx.Scope.HasPermission(*actx.PermissionID) {
			actx.resolve(Grant)
		} else {
			actx.resolve(Deny(ReasonPermissionNotInScope))
		}
	case actx.Action == ActionManageUser:
		actx.resolve(Grant)
	}
}
