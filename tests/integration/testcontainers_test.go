//go:build integration

// Package integration runs the enrichment stack against real PostgreSQL
// (pgvector) and Redis containers.
package integration

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/lib/pq"
)

// TestContainerSetup represents the test container infrastructure.
type TestContainerSetup struct {
	PostgresConnStr string
	RedisAddr       string
	cleanup         func()
}

// SetupTestContainers starts PostgreSQL with pgvector and Redis.
func SetupTestContainers(t *testing.T) *TestContainerSetup {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg17",
		postgres.WithDatabase("product_enrichment_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	pgHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	redisContainer, err := redis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	redisHost, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	setup := &TestContainerSetup{
		PostgresConnStr: fmt.Sprintf("postgres://test:test@%s:%s/product_enrichment_test?sslmode=disable",
			pgHost, pgPort.Port()),
		RedisAddr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port()),
		cleanup: func() {
			if err := pgContainer.Terminate(ctx); err != nil {
				t.Logf("Failed to terminate postgres container: %v", err)
			}
			if err := redisContainer.Terminate(ctx); err != nil {
				t.Logf("Failed to terminate redis container: %v", err)
			}
		},
	}
	setup.waitForPostgres(t)
	return setup
}

// Cleanup terminates all test containers.
func (s *TestContainerSetup) Cleanup() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

func (s *TestContainerSetup) waitForPostgres(t *testing.T) {
	t.Helper()

	db, err := sql.Open("postgres", s.PostgresConnStr)
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for {
		if err := db.PingContext(ctx); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatal("Database not ready after 30 seconds")
		case <-time.After(100 * time.Millisecond):
		}
	}
}
