// Package delegatekit provides a delegated user-management and authorization
// engine: delegators may grant roles and permissions to the users they
// created, inside an explicit assignable scope and under a per-delegator
// creation quota, without holding full administrative privilege.
//
// # Core Concepts
//
// Delegator: a user empowered to manage users it created. Whether a user is
// a delegator, how many users it may create, and which roles/permissions it
// may hand out are captured by its delegation Scope.
//
// Scope: an immutable snapshot of what a user may delegate — the
// can-manage-users flag, an optional maximum of manageable users (nil means
// unlimited), and the sets of assignable role and permission ids. Ids keep
// their type: the integer 1 and the string "1" are different ids.
//
// Root admin: a configured role name whose holders bypass every check.
//
// # Decision Pipeline
//
// Every authorization question runs a fixed ordered pipeline:
//
//  1. Root-admin bypass: holders of the configured root-admin role are
//     always granted.
//  2. Management gate: users without the can-manage-users flag are denied.
//  3. Hierarchy gate (when a target is present): self-management is denied,
//     targets without a recorded creator are denied, and targets created by
//     someone else are denied.
//  4. Scope membership: the role or permission id must be in the
//     delegator's assignable set.
//
// Revocation authorization is intentionally the same question as assignment
// ("would I still be allowed to grant this"), not "did I grant this".
//
// # Basic Usage
//
//	// 1. Open the database-backed store
//	db, _ := dbkit.New(dbkit.Config{URL: "postgres://..."})
//	store := delegatekit.NewStore(db)
//	store.Migrate(ctx)
//
//	// 2. Create the service
//	service := delegatekit.New(delegatekit.Config{
//	    RootAdminRole: "super_admin",
//	}, store.Backend())
//
//	// 3. Give a user a delegation scope (admin action)
//	store.AddUser(ctx, delegatorID)
//	scope, _ := delegatekit.NewScope(true, delegatekit.Limit(10),
//	    []any{1, 2, "auditor"}, []any{"reports.read"})
//	ctx = delegatekit.WithActorID(ctx, adminID)
//	service.SetDelegationScope(ctx, delegatorID, scope)
//
//	// 4. Delegate as that user
//	ctx = delegatekit.WithActorID(ctx, delegatorID)
//	service.DelegateRole(ctx, createdUserID, delegatekit.IntID(1))
//
//	// 5. Create users under quota
//	newID, err := service.CreateUser(ctx, func(ctx context.Context) (string, error) {
//	    return myUsers.Insert(ctx, form)
//	})
//
// # Quota Enforcement
//
// User creation runs inside a transaction holding an exclusive lock on the
// delegator's record; the quota is re-checked under the lock before the
// caller-supplied creation function runs. N concurrent attempts against a
// remaining quota of M yield exactly min(N, M) successes, the rest failing
// with ErrQuotaExceeded.
//
// # Caching
//
// Repeated decisions that carry no target (can-assign checks, the
// can-create-users flag, the scope and assignable lists) are cached with a
// bounded TTL and invalidated on every mutating call. Target-qualified
// checks, created counts and remaining quota are never cached. The cache is
// not transactional: a stale read is possible in the window between a commit
// and the invalidation that follows it.
//
// # Audit Log
//
// Every grant, revocation, scope change and user creation is recorded
// through the AuditSink, and every denied attempt is recorded before the
// error reaches the caller. Sinks may persist (database), log (slog) or
// discard (null) events.
package delegatekit
