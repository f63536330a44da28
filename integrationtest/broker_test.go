package integrationtest

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const redpandaImage = "docker.vectorized.io/vectorized/redpanda:latest"

// redpandaContainer is a single-node Redpanda running in docker, reachable
// from the host on one fixed-mapped kafka port.
type redpandaContainer struct {
	container testcontainers.Container
	brokers   []string
}

func startRedpanda(ctx context.Context) (*redpandaContainer, error) {
	kafkaPort, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("reserving kafka port: %w", err)
	}

	// The advertised address must match the host-visible one, so the
	// container port is mapped 1:1 instead of to a random port.
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        redpandaImage,
			User:         "root:root",
			ExposedPorts: []string{fmt.Sprintf("%d:%d/tcp", kafkaPort, kafkaPort)},
			Cmd: []string{
				"redpanda", "start",
				"--smp", "1",
				"--reserve-memory", "0M",
				"--overprovisioned",
				"--node-id", "0",
				"--kafka-addr", fmt.Sprintf("OUTSIDE://0.0.0.0:%d", kafkaPort),
			},
			WaitingFor: wait.ForLog("Successfully started Redpanda!"),
		},
		Started: true,
	})
	if err != nil {
		return nil, err
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, err
	}
	mapped, err := container.MappedPort(ctx, nat.Port(fmt.Sprintf("%d", kafkaPort)))
	if err != nil {
		return nil, err
	}

	return &redpandaContainer{
		container: container,
		brokers:   []string{fmt.Sprintf("%s:%d", host, mapped.Int())},
	}, nil
}

func (c *redpandaContainer) Terminate(ctx context.Context) error {
	return c.container.Terminate(ctx)
}

// freePort reserves an open TCP port on the host and releases it again so
// the container can bind it.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// startBroker spins up a Redpanda node for the test and returns its
// bootstrap servers. Skipped in short mode.
func startBroker(t *testing.T) []string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	redpanda, err := startRedpanda(context.Background())
	if err != nil {
		t.Fatalf("starting redpanda: %v", err)
	}
	t.Cleanup(func() {
		_ = redpanda.Terminate(context.Background())
	})
	return redpanda.brokers
}
