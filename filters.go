package delegatekit

import "time"

// AuditFilter provides options for filtering audit log queries.
type AuditFilter struct {
	// Filter by actor who performed the action
	ActorID string

	// Filter by target user of the action
	TargetUserID string

	// Filter by event kind
	Kind AuditKind

	// Filter by time range
	Since time.Time
	Until time.Time

	// Pagination
	Limit  int
	Offset int
}

// NewAuditFilter creates an AuditFilter with default values.
func NewAuditFilter() AuditFilter {
	return AuditFilter{
		Limit: 100,
	}
}

// WithActor sets the actor id filter.
func (f AuditFilter) WithActor(actorID string) AuditFilter {
	f.ActorID = actorID
	return f
}

// WithTargetUser sets the target user id filter.
func (f AuditFilter) WithTargetUser(userID string) AuditFilter {
	f.TargetUserID = userID
	return f
}

// WithKind sets the event kind filter.
func (f AuditFilter) WithKind(kind AuditKind) AuditFilter {
	f.Kind = kind
	return f
}

// WithTimeRange sets the time range filter.
func (f AuditFilter) WithTimeRange(since, until time.Time) AuditFilter {
	f.Since = since
	f.Until = until
	return f
}

// WithSince sets the start time filter.
func (f AuditFilter) WithSince(since time.Time) AuditFilter {
	f.Since = since
	return f
}

// WithUntil sets the end time filter.
func (f AuditFilter) WithUntil(until time.Time) AuditFilter {
	f.Until = until
	return f
}

// WithPagination sets both limit and offset.
func (f AuditFilter) WithPagination(limit, offset int) AuditFilter {
	f.Limit = limit
	f.Offset = offset
	return f
}
