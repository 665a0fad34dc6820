package delegatekit

import (
	"context"
	"log/slog"
	"time"
)

// EventKind enumerates the domain events published after a committed
// mutation.
type EventKind string

const (
	EventRoleDelegated     EventKind = "role_delegated"
	EventRoleRevoked       EventKind = "role_revoked"
	EventPermissionGranted EventKind = "permission_granted"
	EventPermissionRevoked EventKind = "permission_revoked"
	EventScopeChanged      EventKind = "scope_changed"
	EventUserCreated       EventKind = "user_created"
)

// Event notifies external listeners of a committed delegation mutation.
// Events are fire-and-continue: publishing happens after the mutation and
// its outcome never affects the operation's result.
type Event struct {
	Kind       EventKind
	ActorID    string
	TargetID   string
	RoleID     *ID
	Permission *ID
	OccurredAt time.Time
	Metadata   map[string]any
}

// EventPublisher delivers domain events. Implementations must not block
// the caller longer than necessary and must swallow their own failures.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

// NopPublisher discards every event; use it to disable eventing entirely.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(context.Context, Event) {}

// LogPublisher writes events through a slog logger.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a publisher over the given logger; nil uses
// slog.Default.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish implements EventPublisher.
func (p *LogPublisher) Publish(ctx context.Context, event Event) {
	attrs := []any{
		slog.String("kind", string(event.Kind)),
		slog.String("actor_id", event.ActorID),
	}
	if event.TargetID != "" {
		attrs = append(attrs, slog.String("target_id", event.TargetID))
	}
	if event.RoleID != nil {
		attrs = append(attrs, slog.String("role_id", event.RoleID.String()))
	}
	if event.Permission != nil {
		attrs = append(attrs, slog.String("permission_id", event.Permission.String()))
	}
	p.logger.InfoContext(ctx, "delegation event", attrs...)
}

// PublisherFunc adapts a function to the EventPublisher interface, which
// keeps test doubles and small integrations one-liners.
type PublisherFunc func(ctx context.Context, event Event)

// Publish implements EventPublisher.
func (f PublisherFunc) Publish(ctx context.Context, event Event) {
	f(ctx, event)
}
