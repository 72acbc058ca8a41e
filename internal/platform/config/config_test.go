package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rlconfig "nova/internal/ratelimit/config"
	"nova/internal/ratelimit/models"
	dErrors "nova/pkg/domain-errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nova.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(NewViper(writeConfig(t, "{}\n")))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 60*time.Second, cfg.Store.Grace)
	assert.Equal(t, "fail_closed", cfg.RateLimit.FailurePolicy)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.StoreTimeout)
	assert.Equal(t, 8, cfg.RateLimit.MaxAttempts)
	assert.True(t, cfg.Identity.UsePeerAddress)
	assert.True(t, cfg.Sweeper.Enabled)
	assert.Equal(t, time.Minute, cfg.Sweeper.Interval)
	assert.Equal(t, DefaultRoutes(), cfg.Gateway.Routes)

	limiter, err := cfg.LimiterConfig()
	require.NoError(t, err)
	assert.Equal(t, rlconfig.FailClosed, limiter.FailurePolicy)
	auth, ok := limiter.Presets.Get(models.ClassAuth)
	require.True(t, ok)
	assert.Equal(t, rlconfig.Auth, auth)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: "127.0.0.1:9090"
store:
  backend: redis
  redis:
    url: redis://localhost:6379/0
rate_limit:
  failure_policy: fail_open
  presets:
    ai_generation:
      max_requests: 20
      window: 2m
identity:
  trusted_proxies: ["10.0.0.0/8"]
gateway:
  upstream: http://backend.internal:8000
  routes:
    - path: /v1/generate
      endpoint: generate
      class: ai_generation
`)
	t.Setenv("NOVA_RATE_LIMIT_MAX_ATTEMPTS", "4")
	t.Setenv("NOVA_LOG_LEVEL", "debug")

	cfg, err := Load(NewViper(path))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, 4, cfg.RateLimit.MaxAttempts)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Len(t, cfg.Gateway.Routes, 1)

	limiter, err := cfg.LimiterConfig()
	require.NoError(t, err)
	assert.Equal(t, rlconfig.FailOpen, limiter.FailurePolicy)
	ai, _ := limiter.Presets.Get(models.ClassAIGeneration)
	assert.Equal(t, models.RateLimitConfig{MaxRequests: 20, Window: 2 * time.Minute}, ai)

	idCfg, err := cfg.IdentifierConfig()
	require.NoError(t, err)
	assert.Len(t, idCfg.TrustedProxies, 1)
}

func TestLoad_MissingFileIsAnError(t *testing.T) {
	_, err := Load(NewViper(filepath.Join(t.TempDir(), "absent.yaml")))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) *Config {
		t.Helper()
		cfg, err := Load(NewViper(writeConfig(t, "{}\n")))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		message string
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "cassandra" }, "Backend must be one of"},
		{"redis without url", func(c *Config) { c.Store.Backend = BackendRedis }, "store.redis.url is required"},
		{"sql without dsn", func(c *Config) { c.Store.Backend = BackendPostgres }, "store.sql.dsn is required"},
		{"etcd without endpoints", func(c *Config) { c.Store.Backend = BackendEtcd }, "store.etcd.endpoints"},
		{"zookeeper without servers", func(c *Config) { c.Store.Backend = BackendZookeeper }, "store.zookeeper.servers"},
		{"unknown failure policy", func(c *Config) { c.RateLimit.FailurePolicy = "fail_sideways" }, "FailurePolicy must be one of"},
		{"zero attempts", func(c *Config) { c.RateLimit.MaxAttempts = 0 }, "MaxAttempts"},
		{"inverted retry delays", func(c *Config) {
			c.RateLimit.RetryBaseDelay = time.Second
			c.RateLimit.RetryMaxDelay = time.Millisecond
		}, "retry_max_delay"},
		{"zero quota preset", func(c *Config) {
			c.RateLimit.Presets = map[string]models.RateLimitConfig{"auth": {MaxRequests: 0, Window: time.Minute}}
		}, "preset \"auth\""},
		{"preset for unknown class", func(c *Config) {
			c.RateLimit.Presets = map[string]models.RateLimitConfig{"gold": {MaxRequests: 1, Window: time.Minute}}
		}, "unknown endpoint class"},
		{"bad trusted proxy", func(c *Config) { c.Identity.TrustedProxies = []string{"nope"} }, "trusted_proxies"},
		{"kafka without brokers", func(c *Config) { c.Audit.Sink = AuditSinkKafka }, "audit.kafka.brokers"},
		{"route with unknown class", func(c *Config) {
			c.Gateway.Routes = []RouteConfig{{Path: "/x", Endpoint: "x", Class: "gold"}}
		}, "unknown class"},
		{"duplicate route", func(c *Config) {
			c.Gateway.Routes = []RouteConfig{
				{Path: "/x", Endpoint: "x", Class: "auth"},
				{Path: "/x", Endpoint: "y", Class: "auth"},
			}
		}, "duplicate path"},
		{"route without leading slash", func(c *Config) {
			c.Gateway.Routes = []RouteConfig{{Path: "x", Endpoint: "x", Class: "auth"}}
		}, "must start with"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidConfig))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestFindConfigFileInPaths(t *testing.T) {
	dir := t.TempDir()
	assert.Empty(t, findConfigFileInPaths([]string{dir}))

	path := filepath.Join(dir, "nova.yml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	assert.Equal(t, path, findConfigFileInPaths([]string{dir}))
}
