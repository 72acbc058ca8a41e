package cmd

import (
	"context"
	"fmt"
	"log/slog"

	jwttoken "nova/internal/jwt_token"
	"nova/internal/platform/config"
	"nova/internal/platform/database"
	platformredis "nova/internal/platform/redis"
	"nova/internal/ratelimit/metrics"
	"nova/internal/ratelimit/ports"
	"nova/internal/ratelimit/service"
	consulstore "nova/internal/ratelimit/store/consul"
	etcdstore "nova/internal/ratelimit/store/etcd"
	"nova/internal/ratelimit/store/memory"
	redisstore "nova/internal/ratelimit/store/redis"
	sqlstore "nova/internal/ratelimit/store/sql"
	zkstore "nova/internal/ratelimit/store/zookeeper"
	"nova/pkg/platform/audit/publishers/kafka"
	"nova/pkg/platform/audit/publishers/security"
)

// openStore connects the configured backend. The returned close function is
// never nil.
func openStore(ctx context.Context, cfg *config.Config) (ports.QuotaStore, func(), error) {
	noop := func() {}
	grace := cfg.Store.Grace

	switch cfg.Store.Backend {
	case config.BackendMemory:
		return memory.New(memory.WithGrace(grace)), noop, nil

	case config.BackendRedis:
		client, err := platformredis.Open(ctx, cfg.Store.Redis)
		if err != nil {
			return nil, noop, err
		}
		return redisstore.New(client, redisstore.WithGrace(grace)), func() { _ = client.Close() }, nil

	case config.BackendPostgres, config.BackendPGX, config.BackendMySQL, config.BackendSQLite:
		db, backend, err := database.Open(ctx, cfg.Store.Backend, cfg.Store.SQL)
		if err != nil {
			return nil, noop, err
		}
		closeDB := func() { _ = db.Close() }
		store, err := sqlstore.New(db, backend.Dialect, sqlstore.WithGrace(grace))
		if err != nil {
			closeDB()
			return nil, noop, err
		}
		if cfg.Store.SQL.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				closeDB()
				return nil, noop, fmt.Errorf("migrate quota table: %w", err)
			}
		}
		return store, closeDB, nil

	case config.BackendEtcd:
		client, err := etcdstore.Dial(cfg.Store.Etcd.Endpoints, cfg.Store.Etcd.DialTimeout)
		if err != nil {
			return nil, noop, err
		}
		store, err := etcdstore.New(client, etcdstore.WithPrefix(cfg.Store.Etcd.Prefix), etcdstore.WithGrace(grace))
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return store, func() { _ = client.Close() }, nil

	case config.BackendConsul:
		client, err := consulstore.Dial(cfg.Store.Consul.Address, cfg.Store.Consul.Token)
		if err != nil {
			return nil, noop, err
		}
		store, err := consulstore.New(client, consulstore.WithPrefix(cfg.Store.Consul.Prefix), consulstore.WithGrace(grace))
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil

	case config.BackendZookeeper:
		conn, err := zkstore.Dial(cfg.Store.Zookeeper.Servers, cfg.Store.Zookeeper.SessionTimeout)
		if err != nil {
			return nil, noop, err
		}
		store, err := zkstore.New(conn, zkstore.WithRoot(cfg.Store.Zookeeper.Root), zkstore.WithGrace(grace))
		if err != nil {
			conn.Close()
			return nil, noop, err
		}
		return store, conn.Close, nil
	}

	return nil, noop, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
}

// openAuditPublisher builds the security event publisher for the configured
// sink. A nil publisher means audit events are only logged.
func openAuditPublisher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*security.Publisher, func(context.Context), error) {
	noop := func(context.Context) {}

	opts := []security.Option{
		security.WithLogger(logger),
		security.WithBufferSize(cfg.Audit.BufferSize),
		security.WithBatchSize(cfg.Audit.BatchSize),
		security.WithFlushInterval(cfg.Audit.FlushInterval),
	}

	switch cfg.Audit.Sink {
	case config.AuditSinkNone:
		return nil, noop, nil

	case config.AuditSinkLog:
		publisher := security.New(security.NewLogSink(logger), opts...)
		return publisher, func(ctx context.Context) { _ = publisher.Close(ctx) }, nil

	case config.AuditSinkKafka:
		sink, err := kafka.New(ctx, kafka.Config{
			Brokers: cfg.Audit.Kafka.Brokers,
			Topic:   cfg.Audit.Kafka.Topic,
		}, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("connect audit sink: %w", err)
		}
		publisher := security.New(sink, opts...)
		return publisher, func(ctx context.Context) {
			if err := publisher.Close(ctx); err != nil {
				logger.WarnContext(ctx, "audit publisher did not drain", "error", err)
			}
			sink.Close()
		}, nil
	}

	return nil, noop, fmt.Errorf("unsupported audit sink %q", cfg.Audit.Sink)
}

// newLimiter assembles the limiter façade on top of store.
func newLimiter(cfg *config.Config, store ports.QuotaStore, logger *slog.Logger, m *metrics.Metrics, publisher *security.Publisher) (*service.Service, error) {
	limiterCfg, err := cfg.LimiterConfig()
	if err != nil {
		return nil, err
	}

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithConfig(limiterCfg),
	}
	if m != nil {
		opts = append(opts, service.WithMetrics(m))
	}
	if publisher != nil {
		opts = append(opts, service.WithAuditPublisher(publisher))
	}
	return service.New(store, opts...)
}

func jwtConfig(cfg *config.Config) jwttoken.Config {
	return jwttoken.Config{
		SigningKey: cfg.Auth.JWTSigningKey,
		Issuer:     cfg.Auth.JWTIssuer,
		Audience:   cfg.Auth.JWTAudience,
	}
}
