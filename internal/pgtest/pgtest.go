// Package pgtest locates a PostgreSQL instance for integration tests.
//
// MEMORY_MEDIATOR_POSTGRES_DSN points at an existing database. Otherwise,
// with MEMORY_MEDIATOR_TESTCONTAINERS=1, a pgvector-enabled container is
// started once per test binary. Without either the calling test is skipped.
package pgtest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const image = "pgvector/pgvector:pg16"

var (
	once      sync.Once
	sharedDSN string
	startErr  error
)

// DSN returns a connection string or skips t.
func DSN(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("MEMORY_MEDIATOR_POSTGRES_DSN"); dsn != "" {
		return dsn
	}
	if os.Getenv("MEMORY_MEDIATOR_TESTCONTAINERS") != "1" {
		t.Skip("MEMORY_MEDIATOR_POSTGRES_DSN not set and MEMORY_MEDIATOR_TESTCONTAINERS!=1; skipping postgres integration test")
	}
	once.Do(func() { sharedDSN, startErr = start(context.Background()) })
	if startErr != nil {
		t.Fatalf("start postgres container: %v", startErr)
	}
	return sharedDSN
}

// The container is reaped by testcontainers' ryuk sidecar when the test
// binary exits.
func start(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        image,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "mediator",
			"POSTGRES_PASSWORD": "mediator",
			"POSTGRES_DB":       "mediator",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return "", fmt.Errorf("failed to get container port: %w", err)
	}
	return fmt.Sprintf("postgres://mediator:mediator@%s:%s/mediator?sslmode=disable", host, port.Port()), nil
}
