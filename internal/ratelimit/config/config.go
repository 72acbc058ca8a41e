// Package config holds the quota presets and the façade's tunables.
package config

import (
	"fmt"
	"maps"
	"time"

	"nova/internal/ratelimit/models"
	dErrors "nova/pkg/domain-errors"
)

// Named presets, one per endpoint class.
var (
	AIGeneration = models.RateLimitConfig{MaxRequests: 10, Window: time.Minute}
	Auth         = models.RateLimitConfig{MaxRequests: 5, Window: time.Minute}
	DataMutation = models.RateLimitConfig{MaxRequests: 30, Window: time.Minute}
	DataRead     = models.RateLimitConfig{MaxRequests: 100, Window: time.Minute}
	Admin        = models.RateLimitConfig{MaxRequests: 3, Window: 5 * time.Minute}
)

// DefaultGrace keeps an entry around after its window closes before it
// becomes eligible for eviction.
const DefaultGrace = 60 * time.Second

// FailurePolicy decides what Check returns when the store cannot be reached.
type FailurePolicy string

const (
	// FailClosed surfaces the outage as StoreUnavailable (HTTP 503).
	FailClosed FailurePolicy = "fail_closed"
	// FailOpen admits the request with a degraded result.
	FailOpen FailurePolicy = "fail_open"
)

func (p FailurePolicy) IsValid() bool {
	return p == FailClosed || p == FailOpen
}

// ParseFailurePolicy accepts the config spelling; empty means FailClosed.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	if s == "" {
		return FailClosed, nil
	}
	p := FailurePolicy(s)
	if !p.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidConfig, fmt.Sprintf("unknown failure policy %q", s))
	}
	return p, nil
}

// Presets maps endpoint classes to their quota.
type Presets struct {
	limits map[models.EndpointClass]models.RateLimitConfig
}

// DefaultPresets returns the built-in preset table.
func DefaultPresets() *Presets {
	return &Presets{limits: map[models.EndpointClass]models.RateLimitConfig{
		models.ClassAIGeneration: AIGeneration,
		models.ClassAuth:         Auth,
		models.ClassDataMutation: DataMutation,
		models.ClassDataRead:     DataRead,
		models.ClassAdmin:        Admin,
	}}
}

// WithOverrides returns a copy of p with per-deployment overrides applied.
// Every override must name a known class and satisfy the config invariants.
func (p *Presets) WithOverrides(overrides map[string]models.RateLimitConfig) (*Presets, error) {
	limits := maps.Clone(p.limits)
	for name, cfg := range overrides {
		class, err := models.ParseEndpointClass(name)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidConfig, fmt.Sprintf("preset %q: unknown endpoint class", name))
		}
		if err := cfg.Validate(); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidConfig, fmt.Sprintf("preset %q: %s", name, err.Error()))
		}
		limits[class] = cfg
	}
	return &Presets{limits: limits}, nil
}

// Get returns the quota for class.
func (p *Presets) Get(class models.EndpointClass) (models.RateLimitConfig, bool) {
	cfg, ok := p.limits[class]
	return cfg, ok
}

// All returns a snapshot of every preset.
func (p *Presets) All() map[models.EndpointClass]models.RateLimitConfig {
	return maps.Clone(p.limits)
}

// Config tunes the limiter façade.
type Config struct {
	FailurePolicy FailurePolicy
	// StoreTimeout bounds each store round-trip; exceeding it is a store failure.
	StoreTimeout time.Duration
	// MaxAttempts bounds the optimistic CAS loop on backends without native atomics.
	MaxAttempts int
	// RetryBaseDelay and RetryMaxDelay shape the jittered backoff between CAS attempts.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Grace          time.Duration
	Presets        *Presets
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		FailurePolicy:  FailClosed,
		StoreTimeout:   2 * time.Second,
		MaxAttempts:    8,
		RetryBaseDelay: 5 * time.Millisecond,
		RetryMaxDelay:  100 * time.Millisecond,
		Grace:          DefaultGrace,
		Presets:        DefaultPresets(),
	}
}

// Validate checks the tunables before the façade is constructed.
func (c *Config) Validate() error {
	if !c.FailurePolicy.IsValid() {
		return dErrors.New(dErrors.CodeInvalidConfig, fmt.Sprintf("unknown failure policy %q", c.FailurePolicy))
	}
	if c.StoreTimeout <= 0 {
		return dErrors.New(dErrors.CodeInvalidConfig, "store timeout must be positive")
	}
	if c.MaxAttempts <= 0 {
		return dErrors.New(dErrors.CodeInvalidConfig, "max attempts must be positive")
	}
	if c.RetryBaseDelay < 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return dErrors.New(dErrors.CodeInvalidConfig, "retry delays must satisfy 0 <= base <= max")
	}
	if c.Grace < 0 {
		return dErrors.New(dErrors.CodeInvalidConfig, "grace must not be negative")
	}
	if c.Presets == nil {
		return dErrors.New(dErrors.CodeInvalidConfig, "presets are required")
	}
	return nil
}
