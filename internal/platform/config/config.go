// Package config loads the nova server configuration from a YAML file and
// NOVA_* environment variables.
package config

import (
	"time"

	"nova/internal/ratelimit/models"
)

// Config is the root of the configuration file.
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Identity  IdentityConfig  `yaml:"identity" mapstructure:"identity"`
	Sweeper   SweeperConfig   `yaml:"sweeper" mapstructure:"sweeper"`
	Audit     AuditConfig     `yaml:"audit" mapstructure:"audit"`
	Gateway   GatewayConfig   `yaml:"gateway" mapstructure:"gateway"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr" mapstructure:"addr" validate:"required,hostname_port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json text"`
}

// AuthConfig configures the optional bearer principal and the admin API.
type AuthConfig struct {
	// JWTSigningKey enables bearer-token principals when set.
	JWTSigningKey string `yaml:"jwt_signing_key" mapstructure:"jwt_signing_key"`
	JWTIssuer     string `yaml:"jwt_issuer" mapstructure:"jwt_issuer"`
	JWTAudience   string `yaml:"jwt_audience" mapstructure:"jwt_audience"`
	// AdminTokenHash is the bcrypt hash of the X-Admin-Token value. Empty disables the admin API.
	AdminTokenHash string `yaml:"admin_token_hash" mapstructure:"admin_token_hash"`
}

// Store backends.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendPostgres  = "postgres"
	BackendPGX       = "pgx"
	BackendMySQL     = "mysql"
	BackendSQLite    = "sqlite"
	BackendEtcd      = "etcd"
	BackendConsul    = "consul"
	BackendZookeeper = "zookeeper"
)

type StoreConfig struct {
	Backend   string          `yaml:"backend" mapstructure:"backend" validate:"required,oneof=memory redis postgres pgx mysql sqlite etcd consul zookeeper"`
	Grace     time.Duration   `yaml:"grace" mapstructure:"grace" validate:"gte=0"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	SQL       SQLConfig       `yaml:"sql" mapstructure:"sql"`
	Etcd      EtcdConfig      `yaml:"etcd" mapstructure:"etcd"`
	Consul    ConsulConfig    `yaml:"consul" mapstructure:"consul"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper" mapstructure:"zookeeper"`
}

type RedisConfig struct {
	URL          string        `yaml:"url" mapstructure:"url"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size" validate:"gte=0"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns" validate:"gte=0"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

type SQLConfig struct {
	DSN             string        `yaml:"dsn" mapstructure:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate" mapstructure:"auto_migrate"`
}

type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints" mapstructure:"endpoints"`
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	Prefix      string        `yaml:"prefix" mapstructure:"prefix"`
}

type ConsulConfig struct {
	Address string `yaml:"address" mapstructure:"address"`
	Token   string `yaml:"token" mapstructure:"token"`
	Prefix  string `yaml:"prefix" mapstructure:"prefix"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers" mapstructure:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout" mapstructure:"session_timeout"`
	Root           string        `yaml:"root" mapstructure:"root"`
}

type RateLimitConfig struct {
	// Disabled turns the middleware into a pass-through (demo mode).
	Disabled       bool                              `yaml:"disabled" mapstructure:"disabled"`
	FailurePolicy  string                            `yaml:"failure_policy" mapstructure:"failure_policy" validate:"oneof=fail_closed fail_open"`
	StoreTimeout   time.Duration                     `yaml:"store_timeout" mapstructure:"store_timeout" validate:"gt=0"`
	MaxAttempts    int                               `yaml:"max_attempts" mapstructure:"max_attempts" validate:"min=1,max=64"`
	RetryBaseDelay time.Duration                     `yaml:"retry_base_delay" mapstructure:"retry_base_delay" validate:"gte=0"`
	RetryMaxDelay  time.Duration                     `yaml:"retry_max_delay" mapstructure:"retry_max_delay" validate:"gte=0"`
	Presets        map[string]models.RateLimitConfig `yaml:"presets" mapstructure:"presets"`
}

type IdentityConfig struct {
	TrustedProxies        []string `yaml:"trusted_proxies" mapstructure:"trusted_proxies"`
	TrustForwardedHeaders bool     `yaml:"trust_forwarded_headers" mapstructure:"trust_forwarded_headers"`
	UsePeerAddress        bool     `yaml:"use_peer_address" mapstructure:"use_peer_address"`
}

type SweeperConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval" validate:"gt=0"`
}

// Audit sinks.
const (
	AuditSinkLog   = "log"
	AuditSinkKafka = "kafka"
	AuditSinkNone  = "none"
)

type AuditConfig struct {
	Sink          string        `yaml:"sink" mapstructure:"sink" validate:"oneof=log kafka none"`
	BufferSize    int           `yaml:"buffer_size" mapstructure:"buffer_size" validate:"min=1"`
	BatchSize     int           `yaml:"batch_size" mapstructure:"batch_size" validate:"min=1"`
	FlushInterval time.Duration `yaml:"flush_interval" mapstructure:"flush_interval" validate:"gt=0"`
	Kafka         KafkaConfig   `yaml:"kafka" mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
}

// GatewayConfig maps public paths onto quota-protected endpoints.
type GatewayConfig struct {
	// Upstream receives admitted requests. Empty answers 501.
	Upstream string        `yaml:"upstream" mapstructure:"upstream" validate:"omitempty,url"`
	Routes   []RouteConfig `yaml:"routes" mapstructure:"routes" validate:"omitempty,dive"`
}

type RouteConfig struct {
	Path     string `yaml:"path" mapstructure:"path" validate:"required,startswith=/"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint" validate:"required"`
	Class    string `yaml:"class" mapstructure:"class" validate:"required"`
}

// DefaultRoutes mirrors the functions the quota subsystem originally guarded.
func DefaultRoutes() []RouteConfig {
	return []RouteConfig{
		{Path: "/functions/v1/generate-learning-roadmap", Endpoint: "generate-learning-roadmap", Class: string(models.ClassAIGeneration)},
		{Path: "/functions/v1/generate-project-roles", Endpoint: "generate-project-roles", Class: string(models.ClassAIGeneration)},
		{Path: "/functions/v1/generate-playbook", Endpoint: "generate-playbook", Class: string(models.ClassAIGeneration)},
		{Path: "/functions/v1/generate-role-questions", Endpoint: "generate-role-questions", Class: string(models.ClassAIGeneration)},
		{Path: "/functions/v1/validate-monetization", Endpoint: "validate-monetization", Class: string(models.ClassAIGeneration)},
		{Path: "/functions/v1/write-content-piece", Endpoint: "write-content-piece", Class: string(models.ClassAIGeneration)},
		{Path: "/functions/v1/suggest-optimal-schedule", Endpoint: "suggest-optimal-schedule", Class: string(models.ClassAIGeneration)},
		{Path: "/functions/v1/extract-business-info", Endpoint: "extract-business-info", Class: string(models.ClassAIGeneration)},
		{Path: "/functions/v1/ai-career-coach", Endpoint: "ai-career-coach", Class: string(models.ClassAIGeneration)},
		{Path: "/functions/v1/growth-playbook-generator", Endpoint: "growth-playbook-generator", Class: string(models.ClassAIGeneration)},
		{Path: "/functions/v1/seed-users", Endpoint: "seed-users", Class: string(models.ClassAdmin)},
	}
}
