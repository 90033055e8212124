//go:build integration

package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/store/postgres"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// externalDSNEnv points the integration tests at an existing database instead
// of a throwaway container. The database must be disposable.
const externalDSNEnv = "PMM_TEST_DATABASE_URL"

func testDSN(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv(externalDSNEnv); dsn != "" {
		return dsn
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("pmm_settlement_test"),
		tcpostgres.WithUsername("pmm"),
		tcpostgres.WithPassword("pmm"),
		tcpostgres.BasicWaitStrategies(),
	)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

// setupTestContainer returns a migrated database, closed when the test ends.
func setupTestContainer(t *testing.T) *postgres.DB {
	t.Helper()
	db, err := postgres.New(postgres.Config{
		URL:              testDSN(t),
		MaxOpenConns:     5,
		MaxIdleConns:     2,
		ConnMaxLifetime:  time.Minute,
		StatementTimeout: 10 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	require.NoError(t, db.RunMigrations(ctx, ""))
	_, err = db.ExecContext(ctx, "TRUNCATE rebalancings RESTART IDENTITY")
	require.NoError(t, err)
	return db
}
