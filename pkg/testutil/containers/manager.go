//go:build integration

// Package containers starts shared testcontainers instances for integration suites.
package containers

import (
	"sync"
	"testing"
)

// Manager lazily starts one container per backend and shares it across suites
// in the same test binary. Ryuk reaps them when the process exits.
type Manager struct {
	mu       sync.Mutex
	redis    *RedisContainer
	postgres *PostgresContainer
	redpanda *RedpandaContainer
	etcd     *EndpointContainer
	zk       *EndpointContainer
}

var (
	manager     *Manager
	managerOnce sync.Once
)

// GetManager returns the process-wide container manager.
func GetManager() *Manager {
	managerOnce.Do(func() {
		manager = &Manager{}
	})
	return manager
}

func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redis == nil {
		m.redis = NewRedisContainer(t)
	}
	return m.redis
}

func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postgres == nil {
		m.postgres = NewPostgresContainer(t)
	}
	return m.postgres
}

func (m *Manager) GetRedpanda(t *testing.T) *RedpandaContainer {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redpanda == nil {
		m.redpanda = NewRedpandaContainer(t)
	}
	return m.redpanda
}

func (m *Manager) GetEtcd(t *testing.T) *EndpointContainer {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.etcd == nil {
		m.etcd = NewEtcdContainer(t)
	}
	return m.etcd
}

func (m *Manager) GetZookeeper(t *testing.T) *EndpointContainer {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.zk == nil {
		m.zk = NewZookeeperContainer(t)
	}
	return m.zk
}
