package delegatekit

import (
	"context"
	"fmt"
)

// ============================================================================
// PRE-FLIGHT VALIDATION AND BULK DELEGATION
// ============================================================================

// ValidateDelegation runs the delegation checks for a whole batch without
// mutating anything and without throwing on denial: the result maps each
// failing field ("target", "roles.<id>", "permissions.<id>") to a message,
// so a form can report every problem at once. An empty map means the whole
// batch would be authorized. The error is reserved for storage failures.
//
// Candidate roles and permissions are batch-loaded first; unknown ids fail
// their field rather than the whole call.
func (s *Service) ValidateDelegation(ctx context.Context, delegatorID, targetID string, roleIDs, permissionIDs []ID) (map[string]string, error) {
	problems := make(map[string]string)

	decision, err := s.authorizer.CanManageUser(ctx, delegatorID, targetID)
	if err != nil {
		return nil, err
	}
	if !decision.Granted {
		problems["target"] = decision.Reason
	}

	roles, err := s.backend.Roles.FindByIDs(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	knownRoles := make(map[ID]Role, len(roles))
	for _, role := range roles {
		knownRoles[role.ID] = role
	}

	permissions, err := s.backend.Permissions.FindByIDs(ctx, permissionIDs)
	if err != nil {
		return nil, err
	}
	knownPermissions := make(map[ID]Permission, len(permissions))
	for _, permission := range permissions {
		knownPermissions[permission.ID] = permission
	}

	for _, roleID := range roleIDs {
		field := "roles." + roleID.String()
		if _, known := knownRoles[roleID]; !known {
			problems[field] = "role does not exist"
			continue
		}
		d, err := s.authorizer.CanAssignRole(ctx, delegatorID, roleID, targetID)
		if err != nil {
			return nil, err
		}
		if !d.Granted {
			problems[field] = d.Reason
		}
	}

	for _, permissionID := range permissionIDs {
		field := "permissions." + permissionID.String()
		if _, known := knownPermissions[permissionID]; !known {
			problems[field] = "permission does not exist"
			continue
		}
		d, err := s.authorizer.CanAssignPermission(ctx, delegatorID, permissionID, targetID)
		if err != nil {
			return nil, err
		}
		if !d.Granted {
			problems[field] = d.Reason
		}
	}

	return problems, nil
}

// Delegate validates and then applies a whole delegation batch in one
// transaction. On validation failure nothing is written and the result
// carries the field errors; on success the result lists the granted role
// and permission names.
func (s *Service) Delegate(ctx context.Context, req DelegationRequest) (*DelegationResult, error) {
	actorID, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.requireUser(ctx, req.TargetUserID); err != nil {
		return nil, err
	}

	result := &DelegationResult{
		ActorID:  actorID,
		TargetID: req.TargetUserID,
	}

	problems, err := s.ValidateDelegation(ctx, actorID, req.TargetUserID, req.RoleIDs, req.PermissionIDs)
	if err != nil {
		return nil, err
	}
	if len(problems) > 0 {
		result.Success = false
		result.Message = fmt.Sprintf("delegation rejected: %d problem(s)", len(problems))
		result.Errors = problems
		s.auditDenial(ctx, ActionDelegate, actorID, req.TargetUserID, "validation failed", map[string]any{
			"problems": problems,
		})
		return result, nil
	}

	roles, err := s.backend.Roles.FindByIDs(ctx, req.RoleIDs)
	if err != nil {
		return nil, err
	}
	permissions, err := s.backend.Permissions.FindByIDs(ctx, req.PermissionIDs)
	if err != nil {
		return nil, err
	}

	err = s.backend.Tx.RunInTransaction(ctx, func(txCtx context.Context) error {
		for _, roleID := range req.RoleIDs {
			if err := s.backend.Roles.AssignToUser(txCtx, req.TargetUserID, roleID); err != nil {
				return err
			}
		}
		for _, permissionID := range req.PermissionIDs {
			if err := s.backend.Permissions.GrantToUser(txCtx, req.TargetUserID, permissionID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, role := range roles {
		result.Roles = append(result.Roles, role.Name)
		roleID := role.ID
		s.recordAudit(ctx, AuditRoleAssigned, actorID, req.TargetUserID, map[string]any{
			"role_id":   roleID.Key(),
			"role_name": role.Name,
		})
		s.events.Publish(ctx, Event{Kind: EventRoleDelegated, ActorID: actorID, TargetID: req.TargetUserID, RoleID: &roleID})
	}
	for _, permission := range permissions {
		result.Permissions = append(result.Permissions, permission.Name)
		permissionID := permission.ID
		s.recordAudit(ctx, AuditPermissionGranted, actorID, req.TargetUserID, map[string]any{
			"permission_id":   permissionID.Key(),
			"permission_name": permission.Name,
		})
		s.events.Publish(ctx, Event{Kind: EventPermissionGranted, ActorID: actorID, TargetID: req.TargetUserID, Permission: &permissionID})
	}

	if s.cached != nil {
		s.cached.InvalidateUser(ctx, req.TargetUserID)
		for _, roleID := range req.RoleIDs {
			s.cached.InvalidateAssignRole(ctx, actorID, roleID)
		}
		for _, permissionID := range req.PermissionIDs {
			s.cached.InvalidateAssignPermission(ctx, actorID, permissionID)
		}
	}

	result.Success = true
	result.Message = fmt.Sprintf("delegated %d role(s) and %d permission(s)", len(result.Roles), len(result.Permissions))
	return result, nil
}
