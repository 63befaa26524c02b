// Package dbtest provides the shared Postgres test-container helper used
// by integration tests across the store/events packages,
// mirroring the teacher's test/database/client.go.
package dbtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tarsy-voice/tarsy-voice/pkg/database"
)

// NewTestClient returns a database.Client backed by CI_DATABASE_URL when
// set, or a throwaway testcontainers postgres:16-alpine instance
// otherwise. Migrations are applied before the client is returned;
// t.Cleanup tears the container (and the client) down.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()

	dsn := os.Getenv("CI_DATABASE_URL")
	if dsn == "" {
		ctx := context.Background()
		container, err := postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("tarsyvoice"),
			postgres.WithUsername("tarsyvoice"),
			postgres.WithPassword("tarsyvoice"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			t.Fatalf("failed to start postgres container: %v", err)
		}
		t.Cleanup(func() {
			_ = container.Terminate(context.Background())
		})

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			t.Fatalf("failed to get connection string: %v", err)
		}
		dsn = connStr
	}

	client, err := database.NewClient(context.Background(), &database.Config{
		DSN:             dsn,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 10 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	t.Cleanup(client.Close)

	return client
}
