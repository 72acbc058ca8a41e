// Package redis opens the go-redis client shared by the redis quota store.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"nova/internal/platform/config"
	"nova/pkg/platform/sentinel"
)

// ErrNotConfigured is returned by Open when store.redis.url is empty.
var ErrNotConfigured = errors.New("redis url is not configured")

// Open dials cfg.URL and waits for a PING reply so a bad address fails at
// startup instead of on the first quota check.
func Open(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	opts, err := Options(cfg)
	if err != nil {
		return nil, err
	}

	client := goredis.NewClient(opts)
	if err := Health(ctx, client); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Options translates the store.redis section. Zero values keep the go-redis
// defaults or whatever the URL query string set.
func Options(cfg config.RedisConfig) (*goredis.Options, error) {
	if cfg.URL == "" {
		return nil, ErrNotConfigured
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

// Health pings the server. Failures wrap sentinel.ErrUnavailable.
func Health(ctx context.Context, client goredis.UniversalClient) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}
