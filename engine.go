package securenote

import (
	"context"
	"time"

	"github.com/StealthMoud/securenote/jwt"
	"github.com/StealthMoud/securenote/password"
)

// Engine is the identity and access-control core. Configure through
// [Builder.Build]; instances are immutable afterwards and safe for
// concurrent use.
type Engine struct {
	config       Config
	passwordHash *password.Hasher
	totp         *totpManager
	jwtManager   *jwt.Manager
	pendingStore *pendingTokenStore
	confirmStore *confirmTokenStore
	identities   IdentityProvider
	documents    DocumentStore
	audit        *auditDispatcher
	mail         *mailDispatcher
	metrics      *Metrics
}

// Close flushes and stops the audit and mail dispatchers. Engine methods
// called after Close still execute; their events are silently dropped.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.mail != nil {
		e.mail.Close()
	}
}

// AuditDropped reports how many security-log events were shed because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MailDropped reports how many mail jobs were shed.
func (e *Engine) MailDropped() uint64 {
	if e == nil || e.mail == nil {
		return 0
	}
	return e.mail.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// emitAudit queues one security-log event. detailFn is only invoked when a
// dispatcher is active, so callers pay nothing for detail maps while
// auditing is disabled.
func (e *Engine) emitAudit(
	ctx context.Context,
	eventKind string,
	success bool,
	identityID string,
	cause error,
	detailFn func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp:  time.Now(),
		EventKind:  eventKind,
		IdentityID: identityID,
		Success:    success,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	if detailFn != nil {
		event.Detail = detailFn()
	}

	e.audit.Emit(ctx, event)
}
