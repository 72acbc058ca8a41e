package models

import "time"

// RateLimitExceededResponse is the API response when rate limit is exceeded.
type RateLimitExceededResponse struct {
	Error      string `json:"error"` // "rate_limit_exceeded"
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"` // seconds
}

// StatusResponse is the admin view of a counter without consuming quota.
type StatusResponse struct {
	Identifier string        `json:"identifier"`
	Endpoint   string        `json:"endpoint"`
	Class      EndpointClass `json:"class"`
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter int           `json:"retry_after,omitempty"`
}

// ClearResponse confirms an admin reset.
type ClearResponse struct {
	Identifier string `json:"identifier"`
	Endpoint   string `json:"endpoint"`
	Cleared    bool   `json:"cleared"`
}

// ServiceUnavailableResponse is returned when quota cannot be decided and the
// deployment fails closed.
type ServiceUnavailableResponse struct {
	Error   string `json:"error"` // "service_unavailable"
	Message string `json:"message"`
}
