package delegatekit

import (
	"context"
	"log/slog"
	"time"

	"github.com/fernandezvara/dbkit"
)

// AuditKind enumerates the fixed audit event taxonomy.
type AuditKind string

const (
	AuditRoleAssigned        AuditKind = "role_assigned"
	AuditRoleRevoked         AuditKind = "role_revoked"
	AuditPermissionGranted   AuditKind = "permission_granted"
	AuditPermissionRevoked   AuditKind = "permission_revoked"
	AuditScopeChanged        AuditKind = "scope_changed"
	AuditUnauthorizedAttempt AuditKind = "unauthorized_attempt"
	AuditUserCreated         AuditKind = "user_created"
)

// AuditRecord is one audit event: who did (or attempted) what to whom,
// with request forensics and kind-specific metadata. Scope changes carry
// old/new snapshots in Metadata; unauthorized attempts carry the action
// tag and denial reason.
type AuditRecord struct {
	Kind      AuditKind
	ActorID   string
	TargetID  string // empty when the action has no target
	Timestamp time.Time

	IPAddress string
	UserAgent string
	RequestID string

	Metadata map[string]any
}

// AuditSink accepts audit records. Implementations may persist, log or
// discard them; a sink failure must not fail the audited operation, so the
// Service ignores Record errors after surfacing the operation's own result.
type AuditSink interface {
	Record(ctx context.Context, record AuditRecord) error
}

// NullAuditSink discards every record.
type NullAuditSink struct{}

// Record implements AuditSink.
func (NullAuditSink) Record(context.Context, AuditRecord) error {
	return nil
}

// LogAuditSink writes records through a slog logger.
type LogAuditSink struct {
	logger *slog.Logger
}

// NewLogAuditSink creates a sink over the given logger; nil uses
// slog.Default.
func NewLogAuditSink(logger *slog.Logger) *LogAuditSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAuditSink{logger: logger}
}

// Record implements AuditSink.
func (s *LogAuditSink) Record(ctx context.Context, record AuditRecord) error {
	attrs := []any{
		slog.String("kind", string(record.Kind)),
		slog.String("actor_id", record.ActorID),
	}
	if record.TargetID != "" {
		attrs = append(attrs, slog.String("target_id", record.TargetID))
	}
	if record.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", record.RequestID))
	}
	if len(record.Metadata) > 0 {
		attrs = append(attrs, slog.Any("metadata", record.Metadata))
	}
	s.logger.InfoContext(ctx, "delegation audit", attrs...)
	return nil
}

// DatabaseAuditSink persists records in the delegation_audit_log table.
type DatabaseAuditSink struct {
	db dbkit.IDB
}

// NewDatabaseAuditSink creates a sink writing through the given database.
func NewDatabaseAuditSink(db dbkit.IDB) *DatabaseAuditSink {
	return &DatabaseAuditSink{db: db}
}

// Record implements AuditSink.
func (s *DatabaseAuditSink) Record(ctx context.Context, record AuditRecord) error {
	ts := record.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	model := &DelegationAuditLog{
		Timestamp:    ts,
		ActorID:      record.ActorID,
		Kind:         string(record.Kind),
		TargetUserID: record.TargetID,
		IPAddress:    record.IPAddress,
		UserAgent:    record.UserAgent,
		RequestID:    record.RequestID,
		Metadata:     record.Metadata,
	}
	_, err := s.db.NewInsert().Model(model).Exec(ctx)
	return dbkit.WithErr1(err, "RecordAudit").Err()
}

// GetAuditLog retrieves persisted audit records with optional filters.
func (s *DatabaseAuditSink) GetAuditLog(ctx context.Context, filter AuditFilter) ([]DelegationAuditLog, error) {
	var logs []DelegationAuditLog
	q := s.db.NewSelect().Model(&logs)
	if filter.ActorID != "" {
		q = q.Where("actor_id = ?", filter.ActorID)
	}
	if filter.TargetUserID != "" {
		q = q.Where("target_user_id = ?", filter.TargetUserID)
	}
	if filter.Kind != "" {
		q = q.Where("kind = ?", string(filter.Kind))
	}
	if !filter.Since.IsZero() {
		q = q.Where("timestamp >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("timestamp <= ?", filter.Until)
	}

	limit := filter.Limit
	if limit == 0 {
		limit = 100 // Default limit
	}
	q = q.Limit(limit)

	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	q = q.Order("timestamp DESC")
	if err := dbkit.WithErr1(q.Scan(ctx), "GetAuditLog").Err(); err != nil {
		return nil, err
	}
	return logs, nil
}
