package delegatekit

import (
	"context"
	"time"
)

// ============================================================================
// QUOTA-BOUND USER CREATION
// ============================================================================

// CreateUserFunc performs the host system's user creation and returns the
// new user's id. It runs inside the quota transaction: returning an error
// rolls everything back, including the creator link.
type CreateUserFunc func(ctx context.Context) (string, error)

// CreateUser creates a user on behalf of the acting delegator, under its
// quota. The creation function only runs after an exclusive lock on the
// delegator's record has been taken and the quota re-checked under it;
// concurrent attempts beyond the remaining quota fail with
// ErrQuotaExceeded carrying the configured limit.
//
// On success the creator link is recorded in the same transaction, then
// the creation is audited, the domain event published and the delegator's
// cache set invalidated.
func (s *Service) CreateUser(ctx context.Context, create CreateUserFunc) (string, error) {
	actorID, err := s.actor(ctx)
	if err != nil {
		return "", err
	}

	newUserID, err := WithQuotaLock(ctx, s.quota, actorID, func(txCtx context.Context) (string, error) {
		id, err := create(txCtx)
		if err != nil {
			return "", err
		}
		if err := s.backend.Delegations.RecordCreation(txCtx, actorID, id); err != nil {
			return "", err
		}
		return id, nil
	})
	if err != nil {
		if IsAuthorizationDenied(err) {
			reason := ReasonNoAuthorization
			var extra map[string]any
			if limit, ok := QuotaLimit(err); ok {
				reason = ReasonLimitReached
				extra = map[string]any{"limit": limit}
			}
			s.auditDenial(ctx, ActionCreateUser, actorID, "", reason, extra)
		}
		return "", err
	}

	s.recordAudit(ctx, AuditUserCreated, actorID, newUserID, nil)
	s.events.Publish(ctx, Event{
		Kind:       EventUserCreated,
		ActorID:    actorID,
		TargetID:   newUserID,
		OccurredAt: time.Now(),
	})
	s.invalidateUser(ctx, actorID)

	return newUserID, nil
}
