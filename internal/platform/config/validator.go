package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"nova/internal/ratelimit/models"
	dErrors "nova/pkg/domain-errors"
)

// Validate checks struct tags first, then the cross-field rules tags cannot
// express. Any failure is reported as CodeInvalidConfig.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return dErrors.New(dErrors.CodeInvalidConfig, formatValidationErrors(err).Error())
	}

	for _, check := range []func() error{
		c.validateStoreBackend,
		c.validateRateLimit,
		c.validateIdentity,
		c.validateAudit,
		c.validateRoutes,
	} {
		if err := check(); err != nil {
			return dErrors.New(dErrors.CodeInvalidConfig, err.Error())
		}
	}
	return nil
}

// validateStoreBackend ensures the selected backend has its connection settings.
func (c *Config) validateStoreBackend() error {
	s := c.Store
	switch s.Backend {
	case BackendRedis:
		if s.Redis.URL == "" {
			return errors.New("store.redis.url is required for the redis backend")
		}
	case BackendPostgres, BackendPGX, BackendMySQL, BackendSQLite:
		if s.SQL.DSN == "" {
			return fmt.Errorf("store.sql.dsn is required for the %s backend", s.Backend)
		}
	case BackendEtcd:
		if len(s.Etcd.Endpoints) == 0 {
			return errors.New("store.etcd.endpoints is required for the etcd backend")
		}
	case BackendZookeeper:
		if len(s.Zookeeper.Servers) == 0 {
			return errors.New("store.zookeeper.servers is required for the zookeeper backend")
		}
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if c.RateLimit.RetryMaxDelay < c.RateLimit.RetryBaseDelay {
		return errors.New("rate_limit.retry_max_delay must not be shorter than rate_limit.retry_base_delay")
	}
	if _, err := c.LimiterConfig(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateIdentity() error {
	if _, err := c.IdentifierConfig(); err != nil {
		return fmt.Errorf("identity.trusted_proxies: %w", err)
	}
	return nil
}

func (c *Config) validateAudit() error {
	if c.Audit.Sink == AuditSinkKafka && len(c.Audit.Kafka.Brokers) == 0 {
		return errors.New("audit.kafka.brokers is required for the kafka sink")
	}
	return nil
}

// validateRoutes ensures every route names a known class and no path is
// mapped twice.
func (c *Config) validateRoutes() error {
	seen := make(map[string]struct{}, len(c.Gateway.Routes))
	for i, route := range c.Gateway.Routes {
		if _, err := models.ParseEndpointClass(route.Class); err != nil {
			return fmt.Errorf("gateway.routes[%d]: unknown class %q", i, route.Class)
		}
		if _, dup := seen[route.Path]; dup {
			return fmt.Errorf("gateway.routes[%d]: duplicate path %s", i, route.Path)
		}
		seen[route.Path] = struct{}{}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		messages := make([]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "gt", "gte", "min", "max":
		return fmt.Sprintf("%s must satisfy %s=%s", field, e.Tag(), e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
