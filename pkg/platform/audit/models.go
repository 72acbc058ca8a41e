package audit

import (
	"context"
	"time"
)

// AuditEvent names a security-relevant action emitted by the quota subsystem.
type AuditEvent string

const (
	EventRateLimitExceeded AuditEvent = "rate_limit_exceeded"
	EventRateLimitCleared  AuditEvent = "rate_limit_cleared"
	EventStoreDegraded     AuditEvent = "quota_store_degraded"
	EventStoreRecovered    AuditEvent = "quota_store_recovered"
)

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// eventSeverities maps each audit event to its default severity.
var eventSeverities = map[AuditEvent]Severity{
	EventRateLimitExceeded: SeverityWarning,
	EventRateLimitCleared:  SeverityInfo,
	EventStoreDegraded:     SeverityCritical,
	EventStoreRecovered:    SeverityInfo,
}

// Severity returns the default severity for this event.
// Unknown events default to SeverityInfo.
func (e AuditEvent) Severity() Severity {
	if sev, ok := eventSeverities[e]; ok {
		return sev
	}
	return SeverityInfo
}

// SecurityEvent captures security-relevant actions for SIEM and alerting.
// Events are processed asynchronously with buffering.
type SecurityEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject"`            // identifier the quota is tracked against
	Action    string    `json:"action"`             // e.g. "rate_limit_exceeded"
	Endpoint  string    `json:"endpoint,omitempty"` // logical endpoint name
	Reason    string    `json:"reason,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"` // admin performing a clear
	Severity  Severity  `json:"severity"`
}

// Sink delivers batches of security events to durable storage or a broker.
type Sink interface {
	Write(ctx context.Context, events []SecurityEvent) error
}
