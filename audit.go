package securenote

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Security-log event kinds. One constant per observable state transition so
// downstream sinks can filter without parsing free text.
const (
	auditEventRegistered           = "identity_registered"
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventSecondFactorRequired = "second_factor_required"
	auditEventSecondFactorSuccess  = "second_factor_success"
	auditEventSecondFactorFailure  = "second_factor_failure"
	auditEventSecondFactorEnabled  = "second_factor_enabled"
	auditEventSecondFactorDisabled = "second_factor_disabled"
	auditEventPasswordChanged      = "password_changed"
	auditEventRoleChanged          = "role_changed"
	auditEventVerificationRequest  = "verification_requested"
	auditEventVerificationApproved = "verification_approved"
	auditEventVerificationRejected = "verification_rejected"
	auditEventVerificationConfirm  = "verification_confirmed"
	auditEventDocumentCreated      = "document_created"
	auditEventDocumentUpdated      = "document_updated"
	auditEventDocumentShared       = "document_shared"
	auditEventShareRevoked         = "document_share_revoked"
	auditEventDocumentDeleted      = "document_deleted"
	auditEventAccessDenied         = "document_access_denied"
)

// AuditEvent is one security-log record: event kind, the acting identity (or
// empty when unknown, e.g. failed logins by unknown identifier), outcome, and
// a free-form detail map.
type AuditEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventKind  string            `json:"event_kind"`
	IdentityID string            `json:"identity_id,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Detail     map[string]string `json:"detail,omitempty"`
}

// AuditSink receives security-log events. Emit must never block the calling
// operation for long and must never fail it; the engine dispatches events
// through a buffered worker, so a sink only sees one event at a time.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards all events.
type NoOpSink struct{}

// Emit implements AuditSink.
func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink forwards events to a channel for consumption by caller-owned
// workers.
type ChannelSink struct {
	events chan AuditEvent
}

// NewChannelSink creates a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

// Emit implements AuditSink.
func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line to an io.Writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink creates a JSONWriterSink over w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

// Emit implements AuditSink.
func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
