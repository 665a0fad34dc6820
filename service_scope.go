package delegatekit

import (
	"context"
	"time"
)

// ============================================================================
// DELEGATION SCOPE
// ============================================================================

// SetDelegationScope replaces a user's delegation scope wholesale: the
// management flag, the optional creation limit and both assignable sets.
// The acting user must be authorized to manage the target (root admins
// always are).
//
// The scope write and the assignable-set sync run in one transaction; the
// audit record carries old and new snapshots.
func (s *Service) SetDelegationScope(ctx context.Context, userID string, scope Scope) error {
	actorID, err := s.actor(ctx)
	if err != nil {
		return err
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}

	decision, err := s.authorizer.CanManageUser(ctx, actorID, userID)
	if err != nil {
		return err
	}
	if !decision.Granted {
		s.auditDenial(ctx, ActionSetScope, actorID, userID, decision.Reason, nil)
		return NewError(ErrCannotManageUser, decision.Reason).
			WithAction(ActionSetScope).
			WithActor(actorID).
			WithTarget(userID)
	}

	oldScope, err := s.backend.Delegations.GetScope(ctx, userID)
	if err != nil {
		return err
	}

	err = s.backend.Tx.RunInTransaction(ctx, func(txCtx context.Context) error {
		return s.backend.Delegations.SaveScope(txCtx, userID, scope)
	})
	if err != nil {
		return err
	}

	s.recordAudit(ctx, AuditScopeChanged, actorID, userID, map[string]any{
		"old_scope": scopeMetadata(oldScope),
		"new_scope": scopeMetadata(scope),
	})
	s.events.Publish(ctx, Event{
		Kind:       EventScopeChanged,
		ActorID:    actorID,
		TargetID:   userID,
		OccurredAt: time.Now(),
	})
	if s.cached != nil {
		s.cached.InvalidateScopeChange(ctx, userID, oldScope, scope)
	}

	return nil
}

// scopeMetadata flattens a scope into audit metadata.
func scopeMetadata(scope Scope) map[string]any {
	meta := map[string]any{
		"can_manage_users":          scope.CanManageUsers(),
		"assignable_role_ids":       idKeys(scope.AssignableRoleIDs()),
		"assignable_permission_ids": idKeys(scope.AssignablePermissionIDs()),
	}
	if limit, ok := scope.MaxManageableUsers(); ok {
		meta["max_manageable_users"] = limit
	}
	return meta
}
