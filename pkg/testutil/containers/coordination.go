//go:build integration

package containers

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// EndpointContainer is a single-port service such as etcd or ZooKeeper.
// Endpoint is host:port as seen from the test process.
type EndpointContainer struct {
	Container testcontainers.Container
	Endpoint  string
}

func NewEtcdContainer(t *testing.T) *EndpointContainer {
	t.Helper()
	return startEndpoint(t, testcontainers.ContainerRequest{
		Image:        "quay.io/coreos/etcd:v3.5.7",
		ExposedPorts: []string{"2379/tcp"},
		Cmd: []string{
			"etcd",
			"--listen-client-urls=http://0.0.0.0:2379",
			"--advertise-client-urls=http://0.0.0.0:2379",
		},
		WaitingFor: wait.ForLog("ready to serve client requests"),
	}, "2379/tcp")
}

func NewZookeeperContainer(t *testing.T) *EndpointContainer {
	t.Helper()
	return startEndpoint(t, testcontainers.ContainerRequest{
		Image:        "zookeeper:3.8",
		ExposedPorts: []string{"2181/tcp"},
		WaitingFor:   wait.ForListeningPort("2181/tcp"),
	}, "2181/tcp")
}

func startEndpoint(t *testing.T, req testcontainers.ContainerRequest, port string) *EndpointContainer {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start %s: %v", req.Image, err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("%s host: %v", req.Image, err)
	}
	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("%s port %s: %v", req.Image, port, err)
	}

	return &EndpointContainer{Container: container, Endpoint: net.JoinHostPort(host, mapped.Port())}
}
