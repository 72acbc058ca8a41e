package models

import (
	"time"

	dErrors "nova/pkg/domain-errors"
)

// EndpointClass categorizes endpoints for differentiated rate limiting.
type EndpointClass string

const (
	// ClassAIGeneration: AI-backed generation endpoints (10 req/min) - generate-*
	ClassAIGeneration EndpointClass = "ai_generation"
	// ClassAuth: Authentication endpoints (5 req/min)
	ClassAuth EndpointClass = "auth"
	// ClassDataMutation: Writes against business data (30 req/min)
	ClassDataMutation EndpointClass = "data_mutation"
	// ClassDataRead: Reads against business data (100 req/min)
	ClassDataRead EndpointClass = "data_read"
	// ClassAdmin: Administrative operations (3 req/5 min) - seed-users
	ClassAdmin EndpointClass = "admin"
)

// AllEndpointClasses lists every supported class in a stable order.
var AllEndpointClasses = []EndpointClass{
	ClassAIGeneration,
	ClassAuth,
	ClassDataMutation,
	ClassDataRead,
	ClassAdmin,
}

// IsValid checks if the endpoint class is one of the supported enum values.
func (c EndpointClass) IsValid() bool {
	switch c {
	case ClassAIGeneration, ClassAuth, ClassDataMutation, ClassDataRead, ClassAdmin:
		return true
	}
	return false
}

func (c EndpointClass) String() string {
	return string(c)
}

// ParseEndpointClass creates an EndpointClass from a string, validating it.
func ParseEndpointClass(s string) (EndpointClass, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "endpoint class cannot be empty")
	}
	c := EndpointClass(s)
	if !c.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown endpoint class: "+s)
	}
	return c, nil
}

// RateLimitConfig is the quota applied to one (identifier, endpoint) pair.
// It is validated on construction and never persisted.
type RateLimitConfig struct {
	MaxRequests int           `json:"max_requests" mapstructure:"max_requests"`
	Window      time.Duration `json:"window" mapstructure:"window"`
}

// NewRateLimitConfig returns a validated config.
func NewRateLimitConfig(maxRequests int, window time.Duration) (RateLimitConfig, error) {
	cfg := RateLimitConfig{MaxRequests: maxRequests, Window: window}
	if err := cfg.Validate(); err != nil {
		return RateLimitConfig{}, err
	}
	return cfg, nil
}

// Validate rejects configs that would make the window manager ill-defined.
// A zero quota is not a way to block an endpoint.
func (c RateLimitConfig) Validate() error {
	if c.MaxRequests <= 0 {
		return dErrors.New(dErrors.CodeInvalidConfig, "maxRequests must be greater than zero")
	}
	if c.Window <= 0 {
		return dErrors.New(dErrors.CodeInvalidConfig, "window must be greater than zero")
	}
	if c.Window%time.Millisecond != 0 {
		return dErrors.New(dErrors.CodeInvalidConfig, "window must be a whole number of milliseconds")
	}
	return nil
}

// WindowMs is the window length in milliseconds.
func (c RateLimitConfig) WindowMs() int64 {
	return c.Window.Milliseconds()
}

// RateLimitEntry is the persisted counter for one key. An entry whose
// WindowResetAt is not after now is logically expired.
type RateLimitEntry struct {
	Count         int       `json:"count"`
	WindowResetAt time.Time `json:"windowResetAt"`
}

// IsExpired reports whether the window has closed at now. Windows are
// half-open: a request at exactly WindowResetAt belongs to the next window.
func (e RateLimitEntry) IsExpired(now time.Time) bool {
	return !e.WindowResetAt.After(now)
}

// IsEvictable reports whether the entry has outlived its window plus grace.
func (e RateLimitEntry) IsEvictable(now time.Time, grace time.Duration) bool {
	return !e.WindowResetAt.Add(grace).After(now)
}

// VersionedEntry pairs an entry with the backend's optimistic-concurrency
// token. Version 0 is reserved for "absent".
type VersionedEntry struct {
	Entry   RateLimitEntry
	Version int64
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
	// Degraded marks a fail-open result produced without consulting the store.
	Degraded bool `json:"degraded,omitempty"`
}
