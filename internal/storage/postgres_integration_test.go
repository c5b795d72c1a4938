//go:build integration

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/piwi3910/webapp/internal/config"
)

// startPostgres runs a disposable PostgreSQL container and returns its DSN.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "webapp",
			"POSTGRES_PASSWORD": "webapp",
			"POSTGRES_DB":       "webapp",
		},
		// The server logs readiness once for the init run and once for real.
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithDeadline(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start Postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate Postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://webapp:webapp@%s:%s/webapp?sslmode=disable", host, port.Port())
}

func openIntegrationStore(t *testing.T, dsn string) *PostgresStore {
	t.Helper()

	store, err := OpenPostgres(context.Background(), config.PostgresConfig{
		DSN:             dsn,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Minute,
		Migrate:         true,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPostgresIntegrationMigrateAndDuplicateEmail(t *testing.T) {
	dsn := startPostgres(t)
	store := openIntegrationStore(t, dsn)
	ctx := context.Background()

	// Applying migrations again is a no-op.
	require.NoError(t, Migrate(store.db))

	first := NewUser("A", "b@c.com")
	require.NoError(t, store.Create(ctx, first))

	dup := NewUser("Other", "B@C.com")
	assert.ErrorIs(t, store.Create(ctx, dup), ErrEmailExists)

	got, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "b@c.com", got.Email)

	_, err = store.Get(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrUserNotFound)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, store.Ping(ctx))
}

func TestPostgresIntegrationStoreContract(t *testing.T) {
	dsn := startPostgres(t)

	storeContract(t, func(t *testing.T) Store {
		store := openIntegrationStore(t, dsn)
		_, err := store.db.ExecContext(context.Background(), "TRUNCATE TABLE users")
		require.NoError(t, err)
		return store
	})
}
