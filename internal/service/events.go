package service

import (
	"context"
	"log/slog"

	"github.com/iliyamo/service-order-auth/internal/queue"
)

// Event types published on the audit stream.
const (
	EventLoginSucceeded   = "login.succeeded"
	EventLoginFailed      = "login.failed"
	EventLoginRateLimited = "login.rate_limited"
	EventSessionRotated   = "session.rotated"
	EventSessionExpired   = "session.expired"
	EventSessionOrphaned  = "session.orphaned"
	EventReuseDetected    = "session.reuse_detected"
	EventLogout           = "session.logout"
	EventLogoutAll        = "session.logout_all"
	EventRegistered       = "customer.registered"
)

// EventPublisher receives audit events.  Publish must not block the request
// path; implementations drop or buffer on their own.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.AuthEvent)
}

// LoggingPublisher writes events to a structured logger.  It is used when no
// broker is configured.
type LoggingPublisher struct {
	logger *slog.Logger
}

func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(ctx context.Context, ev queue.AuthEvent) {
	p.logger.InfoContext(ctx, "auth event",
		"event_type", ev.Type,
		"owner", ev.OwnerKind+":"+ev.OwnerID,
		"session_id", ev.SessionID,
		"ip", ev.IP,
		"detail", ev.Detail,
	)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, queue.AuthEvent) {}
