package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"nova/internal/ratelimit/identifier"
	"nova/internal/ratelimit/sweeper"
	"nova/pkg/platform/audit/publishers/kafka"
)

const (
	envPrefix  = "NOVA"
	configName = "nova"
)

// NewViper prepares a Viper instance with the config file and NOVA_* environment
// variables. If configFile is empty it searches ./nova.yaml, ~/.nova/nova.yaml
// and /etc/nova/nova.yaml. Environment variables use underscores for nesting:
// NOVA_STORE_REDIS_URL overrides store.redis.url.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		v.SetConfigFile(found)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	return findConfigFileInPaths([]string{
		".",
		filepath.Join(home, ".nova"),
		"/etc/nova",
	})
}

// findConfigFileInPaths requires an explicit YAML extension so the nova
// binary itself is never picked up as a config file.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, configName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// setDefaults registers every key so AutomaticEnv can override it during
// Unmarshal, including keys absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_header_timeout", "5s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("auth.jwt_signing_key", "")
	v.SetDefault("auth.jwt_issuer", "nova")
	v.SetDefault("auth.jwt_audience", "nova")
	v.SetDefault("auth.admin_token_hash", "")

	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.grace", "60s")
	v.SetDefault("store.redis.url", "")
	v.SetDefault("store.redis.pool_size", 10)
	v.SetDefault("store.redis.min_idle_conns", 2)
	v.SetDefault("store.redis.dial_timeout", "5s")
	v.SetDefault("store.redis.read_timeout", "3s")
	v.SetDefault("store.redis.write_timeout", "3s")
	v.SetDefault("store.sql.dsn", "")
	v.SetDefault("store.sql.max_open_conns", 10)
	v.SetDefault("store.sql.max_idle_conns", 5)
	v.SetDefault("store.sql.conn_max_lifetime", "30m")
	v.SetDefault("store.sql.auto_migrate", true)
	v.SetDefault("store.etcd.endpoints", []string{})
	v.SetDefault("store.etcd.dial_timeout", "5s")
	v.SetDefault("store.etcd.prefix", "/nova/quota/")
	v.SetDefault("store.consul.address", "")
	v.SetDefault("store.consul.token", "")
	v.SetDefault("store.consul.prefix", "nova/quota/")
	v.SetDefault("store.zookeeper.servers", []string{})
	v.SetDefault("store.zookeeper.session_timeout", "10s")
	v.SetDefault("store.zookeeper.root", "/nova/quota")

	v.SetDefault("rate_limit.disabled", false)
	v.SetDefault("rate_limit.failure_policy", "fail_closed")
	v.SetDefault("rate_limit.store_timeout", "2s")
	v.SetDefault("rate_limit.max_attempts", 8)
	v.SetDefault("rate_limit.retry_base_delay", "5ms")
	v.SetDefault("rate_limit.retry_max_delay", "100ms")

	v.SetDefault("identity.trusted_proxies", []string{})
	v.SetDefault("identity.trust_forwarded_headers", false)
	v.SetDefault("identity.use_peer_address", true)

	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.interval", sweeper.DefaultInterval.String())

	v.SetDefault("audit.sink", AuditSinkLog)
	v.SetDefault("audit.buffer_size", 1024)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.flush_interval", "1s")
	v.SetDefault("audit.kafka.brokers", []string{})
	v.SetDefault("audit.kafka.topic", kafka.DefaultTopic)

	v.SetDefault("gateway.upstream", "")
}

// Load reads the configuration file, applies environment overrides and
// validates the result. A missing config file is not an error.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.Gateway.Routes) == 0 {
		cfg.Gateway.Routes = DefaultRoutes()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// IdentifierConfig converts the identity section for the resolver.
func (c *Config) IdentifierConfig() (identifier.Config, error) {
	proxies, err := identifier.ParseTrustedProxies(c.Identity.TrustedProxies)
	if err != nil {
		return identifier.Config{}, err
	}
	return identifier.Config{
		TrustedProxies:        proxies,
		TrustForwardedHeaders: c.Identity.TrustForwardedHeaders,
		UsePeerAddress:        c.Identity.UsePeerAddress,
	}, nil
}
