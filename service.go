package delegatekit

import (
	"context"
	"time"
)

// Config holds the service-level settings.
type Config struct {
	// RootAdminRole names the role whose holders bypass every check.
	// Empty disables the bypass.
	RootAdminRole string

	// Namespace scopes role and permission name lookups (the root-admin
	// marker included). Empty means the default namespace.
	Namespace string

	// CacheTTL bounds how long cached decisions are served. Zero or
	// negative uses DefaultCacheTTL.
	CacheTTL time.Duration
}

// Service orchestrates delegation operations: it asks the (possibly
// cached) decision engine, performs the repository mutation, records the
// audit event, publishes the domain event, and invalidates affected cache
// keys. The acting delegator is read from the context (WithActorID).
type Service struct {
	cfg     Config
	backend Backend

	engine *Engine
	quota  *QuotaManager

	authorizer Authorizer
	cached     *CachedAuthorizer // nil when caching is disabled

	audit  AuditSink
	events EventPublisher
}

// Option configures the Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	cache        Cache
	cacheDisable bool
	audit        AuditSink
	events       EventPublisher
}

// WithCache replaces the default in-process cache, typically with a
// RedisCache shared between processes.
func WithCache(cache Cache) Option {
	return func(o *serviceOptions) {
		o.cache = cache
	}
}

// WithoutCache disables decision caching; every read goes to the engine.
func WithoutCache() Option {
	return func(o *serviceOptions) {
		o.cacheDisable = true
	}
}

// WithAuditSink sets the audit sink. The default discards records.
func WithAuditSink(sink AuditSink) Option {
	return func(o *serviceOptions) {
		o.audit = sink
	}
}

// WithEventPublisher sets the domain event publisher. The default discards
// events.
func WithEventPublisher(publisher EventPublisher) Option {
	return func(o *serviceOptions) {
		o.events = publisher
	}
}

// New creates a delegation service over a storage backend.
//
// Example:
//
//	store := delegatekit.NewStore(db)
//	service := delegatekit.New(delegatekit.Config{RootAdminRole: "super_admin"},
//	    store.Backend(),
//	    delegatekit.WithAuditSink(delegatekit.NewDatabaseAuditSink(db)),
//	)
func New(cfg Config, backend Backend, opts ...Option) *Service {
	options := serviceOptions{
		audit:  NullAuditSink{},
		events: NopPublisher{},
	}
	for _, opt := range opts {
		opt(&options)
	}

	engine := NewEngine(backend.Roles, backend.Delegations, cfg.RootAdminRole, cfg.Namespace)
	quota := NewQuotaManager(backend.Roles, backend.Delegations, backend.Tx, cfg.RootAdminRole, cfg.Namespace)

	s := &Service{
		cfg:     cfg,
		backend: backend,
		engine:  engine,
		quota:   quota,
		audit:   options.audit,
		events:  options.events,
	}

	base := newEngineAuthorizer(engine, quota, backend.Delegations)
	if options.cacheDisable {
		s.authorizer = base
		return s
	}
	cache := options.cache
	if cache == nil {
		cache = NewMemoryCache()
	}
	s.cached = NewCachedAuthorizer(base, cache, cfg.CacheTTL)
	s.authorizer = s.cached
	return s
}

// Engine returns the underlying (uncached) decision engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Quota returns the quota manager.
func (s *Service) Quota() *QuotaManager {
	return s.quota
}

// Authorizer returns the decision surface the service itself consults,
// cached when caching is enabled.
func (s *Service) Authorizer() Authorizer {
	return s.authorizer
}

// LockMetrics returns the quota-lock statistics.
func (s *Service) LockMetrics() LockMetrics {
	return s.quota.Metrics()
}

// ============================================================================
// READ SURFACE
// ============================================================================

// CanAssignRole reports whether the delegator may assign the role. Pass an
// empty targetID for the target-less (cacheable) form.
func (s *Service) CanAssignRole(ctx context.Context, delegatorID string, roleID ID, targetID string) (bool, error) {
	d, err := s.authorizer.CanAssignRole(ctx, delegatorID, roleID, targetID)
	return d.Granted, err
}

// CanAssignPermission reports whether the delegator may grant the
// permission.
func (s *Service) CanAssignPermission(ctx context.Context, delegatorID string, permissionID ID, targetID string) (bool, error) {
	d, err := s.authorizer.CanAssignPermission(ctx, delegatorID, permissionID, targetID)
	return d.Granted, err
}

// CanManageUser reports whether the delegator may manage the target.
func (s *Service) CanManageUser(ctx context.Context, delegatorID, targetID string) (bool, error) {
	d, err := s.authorizer.CanManageUser(ctx, delegatorID, targetID)
	return d.Granted, err
}

// CanCreateUsers reports whether the delegator may create another user.
func (s *Service) CanCreateUsers(ctx context.Context, delegatorID string) (bool, error) {
	return s.authorizer.CanCreateUsers(ctx, delegatorID)
}

// AssignableRoles returns the delegator's assignable role ids.
func (s *Service) AssignableRoles(ctx context.Context, delegatorID string) ([]ID, error) {
	return s.authorizer.AssignableRoles(ctx, delegatorID)
}

// AssignablePermissions returns the delegator's assignable permission ids.
func (s *Service) AssignablePermissions(ctx context.Context, delegatorID string) ([]ID, error) {
	return s.authorizer.AssignablePermissions(ctx, delegatorID)
}

// DelegationScope returns the delegator's scope snapshot.
func (s *Service) DelegationScope(ctx context.Context, delegatorID string) (Scope, error) {
	return s.authorizer.DelegationScope(ctx, delegatorID)
}

// CreatedUserCount returns how many users the delegator has created.
func (s *Service) CreatedUserCount(ctx context.Context, delegatorID string) (int, error) {
	return s.authorizer.CreatedUserCount(ctx, delegatorID)
}

// RemainingQuota returns how many more users the delegator may create, or
// nil when unlimited.
func (s *Service) RemainingQuota(ctx context.Context, delegatorID string) (*int, error) {
	return s.authorizer.RemainingQuota(ctx, delegatorID)
}

// ============================================================================
// INTERNAL HELPERS
// ============================================================================

// actor extracts the acting delegator from context.
func (s *Service) actor(ctx context.Context) (string, error) {
	actorID := GetActorID(ctx)
	if actorID == "" {
		return "", NewError(ErrNoActorID, "actor ID required for delegation operations")
	}
	return actorID, nil
}

// requireUser checks the target against the user directory before any
// decision is made, so typos surface as ErrUnknownUser instead of a
// hierarchy denial.
func (s *Service) requireUser(ctx context.Context, userID string) error {
	exists, err := s.backend.Users.Exists(ctx, userID)
	if err != nil {
		return err
	}
	if !exists {
		return NewError(ErrUnknownUser, "user "+userID+" does not exist").WithTarget(userID)
	}
	return nil
}

// recordAudit fills request forensics from context and hands the record to
// the sink. Sink failures never fail the audited operation.
func (s *Service) recordAudit(ctx context.Context, kind AuditKind, actorID, targetID string, metadata map[string]any) {
	rc := GetRequestContext(ctx)
	_ = s.audit.Record(ctx, AuditRecord{
		Kind:      kind,
		ActorID:   actorID,
		TargetID:  targetID,
		Timestamp: time.Now(),
		IPAddress: rc.IPAddress,
		UserAgent: rc.UserAgent,
		RequestID: rc.RequestID,
		Metadata:  metadata,
	})
}

// auditDenial records an unauthorized attempt before the typed error is
// returned, so a caller catching the error still has a durable record.
func (s *Service) auditDenial(ctx context.Context, action Action, actorID, targetID, reason string, extra map[string]any) {
	metadata := map[string]any{
		"action": string(action),
		"reason": reason,
	}
	for k, v := range extra {
		metadata[k] = v
	}
	s.recordAudit(ctx, AuditUnauthorizedAttempt, actorID, targetID, metadata)
}

// invalidateUser forgets a user's full cache set, when caching is on.
func (s *Service) invalidateUser(ctx context.Context, userID string) {
	if s.cached != nil {
		s.cached.InvalidateUser(ctx, userID)
	}
}
