package delegatekit

import (
	"context"
	"time"
)

// QuotaManager computes and enforces per-delegator user-creation limits.
// Reads are pure; WithLock is the only operation that coordinates, and it
// does so through an exclusive per-delegator lock inside a transaction.
type QuotaManager struct {
	roles       RoleRepository
	delegations DelegationRepository
	tx          TransactionManager

	rootAdminRole string
	namespace     string
	monitor       *lockMonitor
}

// quotaState is the snapshot the quota rules run on.
type quotaState struct {
	isRootAdmin bool
	canManage   bool
	limit       *int
	created     int
}

// NewQuotaManager creates a quota manager over the given storage
// interfaces.
func NewQuotaManager(roles RoleRepository, delegations DelegationRepository, tx TransactionManager, rootAdminRole, namespace string) *QuotaManager {
	return &QuotaManager{
		roles:         roles,
		delegations:   delegations,
		tx:            tx,
		rootAdminRole: rootAdminRole,
		namespace:     namespace,
		monitor:       newLockMonitor(),
	}
}

// Composite quota rules. isRootAdminRule wins outright; otherwise the
// delegator must manage users and must not have reached its limit. The OR
// combinator's reason semantics surface the inner rule's explanation.
var canCreateRule = Or(isRootAdminRule, And(managesUsersRule, Not(limitReachedRule)))

func isRootAdminRule(s quotaState) (bool, string) {
	if s.isRootAdmin {
		return true, ""
	}
	return false, ReasonNoAuthorization
}

func managesUsersRule(s quotaState) (bool, string) {
	if s.canManage {
		return true, ""
	}
	return false, ReasonCannotManageUsers
}

func limitReachedRule(s quotaState) (bool, string) {
	if s.limit != nil && s.created >= *s.limit {
		return true, ""
	}
	return false, ReasonLimitReached
}

// CanCreateUsers reports whether the delegator may create another user
// right now: root admins always may; everyone else needs the management
// flag and headroom under the limit.
func (q *QuotaManager) CanCreateUsers(ctx context.Context, delegatorID string) (bool, error) {
	state, err := q.load(ctx, delegatorID)
	if err != nil {
		return false, err
	}
	ok, _ := canCreateRule(state)
	return ok, nil
}

// HasReachedLimit reports whether the delegator's created count has reached
// its limit. Root admins and unlimited delegators never reach a limit.
func (q *QuotaManager) HasReachedLimit(ctx context.Context, delegatorID string) (bool, error) {
	state, err := q.load(ctx, delegatorID)
	if err != nil {
		return false, err
	}
	if state.isRootAdmin {
		return false, nil
	}
	reached, _ := limitReachedRule(state)
	return reached, nil
}

// RemainingQuota returns how many more users the delegator may create, or
// nil for root admins and unlimited delegators. The result never goes below
// zero even if the count overshot the limit.
func (q *QuotaManager) RemainingQuota(ctx context.Context, delegatorID string) (*int, error) {
	state, err := q.load(ctx, delegatorID)
	if err != nil {
		return nil, err
	}
	if state.isRootAdmin || state.limit == nil {
		return nil, nil
	}
	remaining := *state.limit - state.created
	if remaining < 0 {
		remaining = 0
	}
	return &remaining, nil
}

// CreatedCount returns how many users the delegator has created.
func (q *QuotaManager) CreatedCount(ctx context.Context, delegatorID string) (int, error) {
	return q.delegations.CountCreatedUsers(ctx, delegatorID)
}

// WithLock executes op inside a transaction holding an exclusive lock on
// the delegator's record, after re-checking the quota under that lock. If
// the re-check fails, op never runs: the delegator having reached its limit
// yields ErrQuotaExceeded carrying the configured limit, anything else
// yields ErrCannotCreateUser with the denial reason.
//
// This closes the check-then-act race: N concurrent calls against a
// remaining quota of M give exactly min(N, M) successes.
func (q *QuotaManager) WithLock(ctx context.Context, delegatorID string, op func(ctx context.Context) error) error {
	start := time.Now()
	granted := false

	err := q.tx.RunInTransaction(ctx, func(txCtx context.Context) error {
		if err := q.tx.LockUser(txCtx, delegatorID); err != nil {
			return err
		}

		state, err := q.load(txCtx, delegatorID)
		if err != nil {
			return err
		}
		if ok, reason := canCreateRule(state); !ok {
			if reached, _ := limitReachedRule(state); reached && !state.isRootAdmin {
				return NewError(ErrQuotaExceeded, ReasonLimitReached).
					WithAction(ActionCreateUser).
					WithActor(delegatorID).
					WithLimit(*state.limit)
			}
			return NewError(ErrCannotCreateUser, reason).
				WithAction(ActionCreateUser).
				WithActor(delegatorID)
		}

		granted = true
		return op(txCtx)
	})

	q.monitor.record(time.Since(start), granted && err == nil)
	return err
}

// WithQuotaLock is the generic form of QuotaManager.WithLock for operations
// that return a value, typically the new user's id.
func WithQuotaLock[T any](ctx context.Context, q *QuotaManager, delegatorID string, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := q.WithLock(ctx, delegatorID, func(txCtx context.Context) error {
		var opErr error
		result, opErr = op(txCtx)
		return opErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Metrics returns the quota-lock statistics.
func (q *QuotaManager) Metrics() LockMetrics {
	return q.monitor.metrics()
}

// ResetMetrics clears the quota-lock statistics.
func (q *QuotaManager) ResetMetrics() {
	q.monitor.reset()
}

// load builds the quota snapshot the rules run on.
func (q *QuotaManager) load(ctx context.Context, delegatorID string) (quotaState, error) {
	var state quotaState

	if q.rootAdminRole != "" {
		isRoot, err := q.roles.UserHasRoleNamed(ctx, delegatorID, q.rootAdminRole, q.namespace)
		if err != nil {
			return state, err
		}
		state.isRootAdmin = isRoot
	}

	scope, err := q.delegations.GetScope(ctx, delegatorID)
	if err != nil {
		return state, err
	}
	state.canManage = scope.CanManageUsers()
	if limit, ok := scope.MaxManageableUsers(); ok {
		state.limit = &limit
	}

	// Root admins and delegators without a limit never need the count.
	if !state.isRootAdmin && state.limit != nil {
		created, err := q.delegations.CountCreatedUsers(ctx, delegatorID)
		if err != nil {
			return state, err
		}
		state.created = created
	}

	return state, nil
}
