// Package response renders quota decisions onto HTTP responses.
package response

import (
	"fmt"
	"net/http"
	"strconv"

	"nova/internal/ratelimit/models"
	"nova/pkg/platform/httputil"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderStatus     = "X-RateLimit-Status"
	HeaderRetryAfter = "Retry-After"

	StatusDegraded = "degraded"

	ErrorRateLimitExceeded  = "rate_limit_exceeded"
	ErrorServiceUnavailable = "service_unavailable"
)

// SetHeaders writes the quota metadata headers. X-RateLimit-Reset is the
// window end as Unix epoch seconds.
func SetHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	if result == nil {
		return
	}
	h := w.Header()
	h.Set(HeaderLimit, strconv.Itoa(result.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(result.Remaining))
	h.Set(HeaderReset, strconv.FormatInt(result.ResetAt.Unix(), 10))
	if result.Degraded {
		h.Set(HeaderStatus, StatusDegraded)
	}
}

// Message is the human-readable denial text.
func Message(retryAfter int) string {
	return fmt.Sprintf("Too many requests. Please try again in %d seconds.", retryAfter)
}

// WriteExceeded writes the 429 denial with Retry-After and the quota headers.
func WriteExceeded(w http.ResponseWriter, result *models.RateLimitResult) {
	SetHeaders(w, result)
	w.Header().Set(HeaderRetryAfter, strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:      ErrorRateLimitExceeded,
		Message:    Message(result.RetryAfter),
		RetryAfter: result.RetryAfter,
	})
}

// WriteUnavailable writes the 503 returned while the quota store is down and
// the failure policy is fail-closed.
func WriteUnavailable(w http.ResponseWriter) {
	httputil.WriteJSON(w, http.StatusServiceUnavailable, &models.ServiceUnavailableResponse{
		Error:   ErrorServiceUnavailable,
		Message: "Rate limiting is temporarily unavailable. Please try again later.",
	})
}
