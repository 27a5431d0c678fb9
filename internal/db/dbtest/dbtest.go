// Package dbtest opens a migrated Postgres pool for repository tests. Tests are skipped unless
// TEST_DATABASE_URL is set.
package dbtest

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"authgate/internal/db"
	"authgate/internal/db/migrate"
)

// EnvVar names the DSN of a disposable test database.
const EnvVar = "TEST_DATABASE_URL"

// Pool returns a pool on a freshly migrated and truncated database, closed on test cleanup.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv(EnvVar)
	if dsn == "" {
		t.Skipf("%s not set", EnvVar)
	}
	if err := migrate.Run(dsn, "up"); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	ctx := context.Background()
	pool, err := db.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, `TRUNCATE users, sessions, verifications, audit_logs`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}
