// Package consul stores quota counters in the Consul KV store, using
// check-and-set on ModifyIndex for every write.
package consul

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/consul/api"

	"nova/internal/ratelimit/config"
	"nova/internal/ratelimit/models"
	"nova/internal/ratelimit/store/kvcodec"
	"nova/pkg/platform/sentinel"
)

const DefaultPrefix = "nova/quota/"

// ConsulQuotaStore implements ports.QuotaStore and ports.Sweepable.
// Consul KV has no per-key TTL, so retention is enforced by sweeping.
type ConsulQuotaStore struct {
	kv     *api.KV
	status *api.Status
	prefix string
	grace  time.Duration
}

type Option func(*ConsulQuotaStore)

func WithPrefix(prefix string) Option {
	return func(s *ConsulQuotaStore) {
		if prefix != "" {
			s.prefix = strings.TrimPrefix(prefix, "/")
		}
	}
}

func WithGrace(grace time.Duration) Option {
	return func(s *ConsulQuotaStore) {
		s.grace = grace
	}
}

func New(client *api.Client, opts ...Option) (*ConsulQuotaStore, error) {
	if client == nil {
		return nil, errors.New("consul client is required")
	}
	s := &ConsulQuotaStore{
		kv:     client.KV(),
		status: client.Status(),
		prefix: DefaultPrefix,
		grace:  config.DefaultGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dial builds a Consul client for address with an optional ACL token.
func Dial(address, token string) (*api.Client, error) {
	cfg := api.DefaultConfig()
	if address != "" {
		cfg.Address = address
	}
	if token != "" {
		cfg.Token = token
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return client, nil
}

func (s *ConsulQuotaStore) path(key string) string {
	return s.prefix + kvcodec.PathSegment(key)
}

func (s *ConsulQuotaStore) Get(ctx context.Context, key string) (*models.VersionedEntry, error) {
	pair, _, err := s.kv.Get(s.path(key), (&api.QueryOptions{RequireConsistent: true}).WithContext(ctx))
	if err != nil {
		return nil, unavailable("get", err)
	}
	if pair == nil {
		return nil, nil
	}
	entry, _, err := kvcodec.Decode(pair.Value)
	if err != nil {
		return nil, err
	}
	return &models.VersionedEntry{Entry: entry, Version: int64(pair.ModifyIndex)}, nil
}

// CompareAndSwap relies on Consul's CAS semantics: ModifyIndex 0 creates
// only if absent, any other index must match the stored one.
func (s *ConsulQuotaStore) CompareAndSwap(ctx context.Context, key string, expectedVersion int64, entry models.RateLimitEntry, _ time.Duration) (bool, error) {
	data, err := kvcodec.Encode(entry, s.grace)
	if err != nil {
		return false, err
	}
	ok, _, err := s.kv.CAS(&api.KVPair{
		Key:         s.path(key),
		Value:       data,
		ModifyIndex: uint64(expectedVersion),
	}, (&api.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return false, unavailable("cas", err)
	}
	return ok, nil
}

func (s *ConsulQuotaStore) Delete(ctx context.Context, key string) error {
	if _, err := s.kv.Delete(s.path(key), (&api.WriteOptions{}).WithContext(ctx)); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// Sweep deletes evictable entries with DeleteCAS so a concurrent refresh wins.
func (s *ConsulQuotaStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	pairs, _, err := s.kv.List(s.prefix, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return 0, unavailable("list", err)
	}

	removed := 0
	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		_, expiresAt, err := kvcodec.Decode(pair.Value)
		if err == nil && expiresAt.After(now) {
			continue
		}
		ok, _, err := s.kv.DeleteCAS(pair, (&api.WriteOptions{}).WithContext(ctx))
		if err != nil {
			return removed, unavailable("delete-cas", err)
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (s *ConsulQuotaStore) Ping(ctx context.Context) error {
	if _, err := s.status.LeaderWithQueryOptions((&api.QueryOptions{}).WithContext(ctx)); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("consul %s: %w: %w", op, sentinel.ErrUnavailable, err)
}
