// Package zookeeper stores quota counters as znodes under a root path.
// Znode versions provide the compare-and-swap token.
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"

	"nova/internal/ratelimit/config"
	"nova/internal/ratelimit/models"
	"nova/internal/ratelimit/store/kvcodec"
	"nova/pkg/platform/sentinel"
)

const DefaultRoot = "/nova/quota"

// ZookeeperQuotaStore implements ports.QuotaStore and ports.Sweepable.
//
// Znode versions start at 0, so the stored version is offset by one to keep
// 0 meaning "absent". The zk client is not context-aware; ctx is checked
// before each round-trip and the session timeout bounds each call.
type ZookeeperQuotaStore struct {
	conn  *zk.Conn
	root  string
	grace time.Duration
	acl   []zk.ACL
}

type Option func(*ZookeeperQuotaStore)

func WithRoot(root string) Option {
	return func(s *ZookeeperQuotaStore) {
		if root != "" {
			s.root = "/" + strings.Trim(root, "/")
		}
	}
}

func WithGrace(grace time.Duration) Option {
	return func(s *ZookeeperQuotaStore) {
		s.grace = grace
	}
}

// New ensures the root path exists.
func New(conn *zk.Conn, opts ...Option) (*ZookeeperQuotaStore, error) {
	if conn == nil {
		return nil, errors.New("zookeeper connection is required")
	}
	s := &ZookeeperQuotaStore{
		conn:  conn,
		root:  DefaultRoot,
		grace: config.DefaultGrace,
		acl:   zk.WorldACL(zk.PermAll),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dial connects to the ensemble.
func Dial(servers []string, sessionTimeout time.Duration) (*zk.Conn, error) {
	if len(servers) == 0 {
		return nil, errors.New("zookeeper servers are required")
	}
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}
	return conn, nil
}

func (s *ZookeeperQuotaStore) ensureRoot() error {
	parts := strings.Split(strings.Trim(s.root, "/"), "/")
	path := ""
	for _, part := range parts {
		path += "/" + part
		_, err := s.conn.Create(path, []byte{}, 0, s.acl)
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("create zookeeper path %s: %w", path, err)
		}
	}
	return nil
}

func (s *ZookeeperQuotaStore) path(key string) string {
	return s.root + "/" + kvcodec.PathSegment(key)
}

func (s *ZookeeperQuotaStore) Get(ctx context.Context, key string) (*models.VersionedEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("get", err)
	}
	data, stat, err := s.conn.Get(s.path(key))
	if errors.Is(err, zk.ErrNoNode) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	entry, _, err := kvcodec.Decode(data)
	if err != nil {
		return nil, err
	}
	return &models.VersionedEntry{Entry: entry, Version: int64(stat.Version) + 1}, nil
}

func (s *ZookeeperQuotaStore) CompareAndSwap(ctx context.Context, key string, expectedVersion int64, entry models.RateLimitEntry, _ time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable("cas", err)
	}
	data, err := kvcodec.Encode(entry, s.grace)
	if err != nil {
		return false, err
	}

	if expectedVersion == 0 {
		_, err = s.conn.Create(s.path(key), data, 0, s.acl)
		if errors.Is(err, zk.ErrNodeExists) {
			return false, nil
		}
	} else {
		_, err = s.conn.Set(s.path(key), data, int32(expectedVersion-1))
		if errors.Is(err, zk.ErrBadVersion) || errors.Is(err, zk.ErrNoNode) {
			return false, nil
		}
	}
	if err != nil {
		return false, unavailable("cas", err)
	}
	return true, nil
}

func (s *ZookeeperQuotaStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("delete", err)
	}
	err := s.conn.Delete(s.path(key), -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return unavailable("delete", err)
	}
	return nil
}

// Sweep deletes evictable znodes at the version it read, so a concurrent
// refresh is never removed.
func (s *ZookeeperQuotaStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	children, _, err := s.conn.Children(s.root)
	if err != nil {
		return 0, unavailable("list", err)
	}

	removed := 0
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		path := s.root + "/" + child
		data, stat, err := s.conn.Get(path)
		if errors.Is(err, zk.ErrNoNode) {
			continue
		}
		if err != nil {
			return removed, unavailable("get", err)
		}
		_, expiresAt, decodeErr := kvcodec.Decode(data)
		if decodeErr == nil && expiresAt.After(now) {
			continue
		}
		err = s.conn.Delete(path, stat.Version)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, zk.ErrBadVersion), errors.Is(err, zk.ErrNoNode):
		default:
			return removed, unavailable("delete", err)
		}
	}
	return removed, nil
}

func (s *ZookeeperQuotaStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return unavailable("ping", err)
	}
	if _, _, err := s.conn.Exists(s.root); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("zookeeper %s: %w: %w", op, sentinel.ErrUnavailable, err)
}
