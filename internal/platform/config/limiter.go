package config

import (
	rlconfig "nova/internal/ratelimit/config"
)

// LimiterConfig converts the rate_limit section into the façade's config,
// applying preset overrides on top of the built-in table.
func (c *Config) LimiterConfig() (*rlconfig.Config, error) {
	policy, err := rlconfig.ParseFailurePolicy(c.RateLimit.FailurePolicy)
	if err != nil {
		return nil, err
	}
	presets, err := rlconfig.DefaultPresets().WithOverrides(c.RateLimit.Presets)
	if err != nil {
		return nil, err
	}

	cfg := &rlconfig.Config{
		FailurePolicy:  policy,
		StoreTimeout:   c.RateLimit.StoreTimeout,
		MaxAttempts:    c.RateLimit.MaxAttempts,
		RetryBaseDelay: c.RateLimit.RetryBaseDelay,
		RetryMaxDelay:  c.RateLimit.RetryMaxDelay,
		Grace:          c.Store.Grace,
		Presets:        presets,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
