package delegatekit

import (
	"context"
	"time"
)

// ============================================================================
// ROLE AND PERMISSION DELEGATION
// ============================================================================

// DelegateRole assigns a role to a user the acting delegator created. The
// actor comes from the context (WithActorID).
//
// Example:
//
//	ctx = delegatekit.WithActorID(ctx, delegatorID)
//	err := service.DelegateRole(ctx, createdUserID, delegatekit.IntID(3))
func (s *Service) DelegateRole(ctx context.Context, userID string, roleID ID) error {
	actorID, err := s.actor(ctx)
	if err != nil {
		return err
	}

	role, err := s.backend.Roles.FindByID(ctx, roleID)
	if err != nil {
		return err
	}
	if role == nil {
		return NewError(ErrUnknownRole, "role "+roleID.String()+" does not exist").
			WithAction(ActionAssignRole).
			WithActor(actorID).
			WithRole(roleID.String())
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}

	decision, err := s.authorizer.CanAssignRole(ctx, actorID, roleID, userID)
	if err != nil {
		return err
	}
	if !decision.Granted {
		s.auditDenial(ctx, ActionAssignRole, actorID, userID, decision.Reason, map[string]any{
			"role_id":   roleID.Key(),
			"role_name": role.Name,
		})
		return NewError(ErrCannotAssignRole, decision.Reason).
			WithAction(ActionAssignRole).
			WithActor(actorID).
			WithTarget(userID).
			WithRole(role.Name)
	}

	if err := s.backend.Roles.AssignToUser(ctx, userID, roleID); err != nil {
		return err
	}

	s.recordAudit(ctx, AuditRoleAssigned, actorID, userID, map[string]any{
		"role_id":   roleID.Key(),
		"role_name": role.Name,
	})
	s.events.Publish(ctx, Event{
		Kind:       EventRoleDelegated,
		ActorID:    actorID,
		TargetID:   userID,
		RoleID:     &roleID,
		OccurredAt: time.Now(),
	})
	s.invalidateAfterGrant(ctx, actorID, userID, &roleID, nil)

	return nil
}

// DelegatePermission grants a permission directly to a user the acting
// delegator created.
func (s *Service) DelegatePermission(ctx context.Context, userID string, permissionID ID) error {
	actorID, err := s.actor(ctx)
	if err != nil {
		return err
	}

	permission, err := s.backend.Permissions.FindByID(ctx, permissionID)
	if err != nil {
		return err
	}
	if permission == nil {
		return NewError(ErrUnknownPermission, "permission "+permissionID.String()+" does not exist").
			WithAction(ActionGrantPermission).
			WithActor(actorID).
			WithPermission(permissionID.String())
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}

	decision, err := s.authorizer.CanAssignPermission(ctx, actorID, permissionID, userID)
	if err != nil {
		return err
	}
	if !decision.Granted {
		s.auditDenial(ctx, ActionGrantPermission, actorID, userID, decision.Reason, map[string]any{
			"permission_id":   permissionID.Key(),
			"permission_name": permission.Name,
		})
		return NewError(ErrCannotGrantPermission, decision.Reason).
			WithAction(ActionGrantPermission).
			WithActor(actorID).
			WithTarget(userID).
			WithPermission(permission.Name)
	}

	if err := s.backend.Permissions.GrantToUser(ctx, userID, permissionID); err != nil {
		return err
	}

	s.recordAudit(ctx, AuditPermissionGranted, actorID, userID, map[string]any{
		"permission_id":   permissionID.Key(),
		"permission_name": permission.Name,
	})
	s.events.Publish(ctx, Event{
		Kind:       EventPermissionGranted,
		ActorID:    actorID,
		TargetID:   userID,
		Permission: &permissionID,
		OccurredAt: time.Now(),
	})
	s.invalidateAfterGrant(ctx, actorID, userID, nil, &permissionID)

	return nil
}

// RevokeRole removes a role from a user the acting delegator created.
// Revocation authorization is the same question as assignment; it does not
// matter who originally granted the role.
func (s *Service) RevokeRole(ctx context.Context, userID string, roleID ID) error {
	actorID, err := s.actor(ctx)
	if err != nil {
		return err
	}

	role, err := s.backend.Roles.FindByID(ctx, roleID)
	if err != nil {
		return err
	}
	if role == nil {
		return NewError(ErrUnknownRole, "role "+roleID.String()+" does not exist").
			WithAction(ActionRevokeRole).
			WithActor(actorID).
			WithRole(roleID.String())
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}

	decision, err := s.authorizer.CanRevokeRole(ctx, actorID, roleID, userID)
	if err != nil {
		return err
	}
	if !decision.Granted {
		s.auditDenial(ctx, ActionRevokeRole, actorID, userID, decision.Reason, map[string]any{
			"role_id":   roleID.Key(),
			"role_name": role.Name,
		})
		return NewError(ErrCannotRevokeRole, decision.Reason).
			WithAction(ActionRevokeRole).
			WithActor(actorID).
			WithTarget(userID).
			WithRole(role.Name)
	}

	if err := s.backend.Roles.RemoveFromUser(ctx, userID, roleID); err != nil {
		return err
	}

	s.recordAudit(ctx, AuditRoleRevoked, actorID, userID, map[string]any{
		"role_id":   roleID.Key(),
		"role_name": role.Name,
	})
	s.events.Publish(ctx, Event{
		Kind:       EventRoleRevoked,
		ActorID:    actorID,
		TargetID:   userID,
		RoleID:     &roleID,
		OccurredAt: time.Now(),
	})
	s.invalidateAfterGrant(ctx, actorID, userID, &roleID, nil)

	return nil
}

// RevokePermission removes a direct permission grant from a user the
// acting delegator created.
func (s *Service) RevokePermission(ctx context.Context, userID string, permissionID ID) error {
	actorID, err := s.actor(ctx)
	if err != nil {
		return err
	}

	permission, err := s.backend.Permissions.FindByID(ctx, permissionID)
	if err != nil {
		return err
	}
	if permission == nil {
		return NewError(ErrUnknownPermission, "permission "+permissionID.String()+" does not exist").
			WithAction(ActionRevokePermission).
			WithActor(actorID).
			WithPermission(permissionID.String())
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}

	decision, err := s.authorizer.CanRevokePermission(ctx, actorID, permissionID, userID)
	if err != nil {
		return err
	}
	if !decision.Granted {
		s.auditDenial(ctx, ActionRevokePermission, actorID, userID, decision.Reason, map[string]any{
			"permission_id":   permissionID.Key(),
			"permission_name": permission.Name,
		})
		return NewError(ErrCannotRevokePermission, decision.Reason).
			WithAction(ActionRevokePermission).
			WithActor(actorID).
			WithTarget(userID).
			WithPermission(permission.Name)
	}

	if err := s.backend.Permissions.RevokeFromUser(ctx, userID, permissionID); err != nil {
		return err
	}

	s.recordAudit(ctx, AuditPermissionRevoked, actorID, userID, map[string]any{
		"permission_id":   permissionID.Key(),
		"permission_name": permission.Name,
	})
	s.events.Publish(ctx, Event{
		Kind:       EventPermissionRevoked,
		ActorID:    actorID,
		TargetID:   userID,
		Permission: &permissionID,
		OccurredAt: time.Now(),
	})
	s.invalidateAfterGrant(ctx, actorID, userID, nil, &permissionID)

	return nil
}

// invalidateAfterGrant applies the invalidation set of a grant or
// revocation: the target's full cache set plus the delegator's single
// scoped can-assign key for the capability involved.
func (s *Service) invalidateAfterGrant(ctx context.Context, actorID, targetID string, roleID, permissionID *ID) {
	if s.cached == nil {
		return
	}
	s.cached.InvalidateUser(ctx, targetID)
	if roleID != nil {
		s.cached.InvalidateAssignRole(ctx, actorID, *roleID)
	}
	if permissionID != nil {
		s.cached.InvalidateAssignPermission(ctx, actorID, *permissionID)
	}
}
