// Package observability provides audit logging helpers for the ratelimit module.
package observability

import (
	"context"
	"log/slog"

	"nova/internal/ratelimit/ports"
	"nova/pkg/attrs"
	"nova/pkg/platform/audit"
	"nova/pkg/platform/privacy"
	"nova/pkg/requestcontext"
)

// LogAudit logs audit events to both the structured logger and the audit publisher.
// It enriches events with the request ID and extracts subject, endpoint and
// reason from attrList. IP-shaped subjects are anonymized before they leave
// the process.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher ports.AuditPublisher, event audit.AuditEvent, attrList ...any) {
	requestID := requestcontext.RequestID(ctx)

	if requestID != "" {
		attrList = append(attrList, "request_id", requestID)
	}

	subject := privacy.AnonymizeIP(attrs.FirstString(attrList, "identifier", "ip", "user_id"))
	args := append(redact(attrList), "event", string(event), "log_type", "audit")

	if logger != nil {
		logger.InfoContext(ctx, string(event), args...)
	}

	if publisher == nil {
		return
	}

	publisher.Emit(ctx, audit.SecurityEvent{
		Action:    string(event),
		Subject:   subject,
		Endpoint:  attrs.ExtractString(attrList, "endpoint"),
		RequestID: requestID,
		ActorID:   attrs.ExtractString(attrList, "actor_id"),
		Reason:    attrs.FirstString(attrList, "reason", "error"),
		Severity:  event.Severity(),
	})
}

// redact returns a copy of attrList with identifier-like values anonymized.
func redact(attrList []any) []any {
	out := make([]any, len(attrList))
	copy(out, attrList)
	for i := 0; i < len(out)-1; i += 2 {
		switch out[i] {
		case "identifier", "ip":
			if v, ok := out[i+1].(string); ok {
				out[i+1] = privacy.AnonymizeIP(v)
			}
		}
	}
	return out
}
