// Package etcd stores quota counters in etcd. Writes are transactions
// guarded on the key's ModRevision; retention uses leases.
package etcd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"nova/internal/ratelimit/config"
	"nova/internal/ratelimit/models"
	"nova/internal/ratelimit/store/kvcodec"
	"nova/pkg/platform/sentinel"
)

const DefaultPrefix = "/nova/quota/"

// EtcdQuotaStore implements ports.QuotaStore. The version is the key's
// ModRevision, which is never zero for an existing key.
type EtcdQuotaStore struct {
	client *clientv3.Client
	prefix string
	grace  time.Duration
}

type Option func(*EtcdQuotaStore)

func WithPrefix(prefix string) Option {
	return func(s *EtcdQuotaStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func WithGrace(grace time.Duration) Option {
	return func(s *EtcdQuotaStore) {
		s.grace = grace
	}
}

func New(client *clientv3.Client, opts ...Option) (*EtcdQuotaStore, error) {
	if client == nil {
		return nil, errors.New("etcd client is required")
	}
	s := &EtcdQuotaStore{
		client: client,
		prefix: DefaultPrefix,
		grace:  config.DefaultGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dial connects to the given endpoints.
func Dial(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("etcd endpoints are required")
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return client, nil
}

func (s *EtcdQuotaStore) path(key string) string {
	return s.prefix + kvcodec.PathSegment(key)
}

func (s *EtcdQuotaStore) Get(ctx context.Context, key string) (*models.VersionedEntry, error) {
	resp, err := s.client.Get(ctx, s.path(key))
	if err != nil {
		return nil, unavailable("get", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	kv := resp.Kvs[0]
	entry, _, err := kvcodec.Decode(kv.Value)
	if err != nil {
		return nil, err
	}
	return &models.VersionedEntry{Entry: entry, Version: kv.ModRevision}, nil
}

func (s *EtcdQuotaStore) CompareAndSwap(ctx context.Context, key string, expectedVersion int64, entry models.RateLimitEntry, ttl time.Duration) (bool, error) {
	data, err := kvcodec.Encode(entry, s.grace)
	if err != nil {
		return false, err
	}

	lease, err := s.client.Grant(ctx, leaseSeconds(ttl))
	if err != nil {
		return false, unavailable("grant lease", err)
	}

	path := s.path(key)
	var cmp clientv3.Cmp
	if expectedVersion == 0 {
		cmp = clientv3.Compare(clientv3.CreateRevision(path), "=", 0)
	} else {
		cmp = clientv3.Compare(clientv3.ModRevision(path), "=", expectedVersion)
	}

	resp, err := s.client.Txn(ctx).
		If(cmp).
		Then(clientv3.OpPut(path, string(data), clientv3.WithLease(lease.ID))).
		Commit()
	if err != nil {
		return false, unavailable("txn", err)
	}
	if !resp.Succeeded {
		// The unused lease expires on its own; revoking is best-effort.
		_, _ = s.client.Revoke(ctx, lease.ID)
	}
	return resp.Succeeded, nil
}

func (s *EtcdQuotaStore) Delete(ctx context.Context, key string) error {
	if _, err := s.client.Delete(ctx, s.path(key)); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

func (s *EtcdQuotaStore) Ping(ctx context.Context) error {
	if _, err := s.client.Get(ctx, s.prefix, clientv3.WithCountOnly(), clientv3.WithPrefix()); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// leaseSeconds rounds ttl up to etcd's whole-second lease granularity.
func leaseSeconds(ttl time.Duration) int64 {
	secs := int64(math.Ceil(ttl.Seconds()))
	return max(secs, 1)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("etcd %s: %w: %w", op, sentinel.ErrUnavailable, err)
}
