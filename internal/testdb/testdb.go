// Package testdb gives integration tests a migrated, empty Postgres database.
// Tests are skipped unless TEST_DB_DSN is set.
package testdb

import (
	"context"
	"os"
	"testing"

	"aquavo-api/internal/migrate"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// lockKey serializes test packages that share one database; go test runs
// packages in parallel processes.
const lockKey = 424242

// Pool connects to TEST_DB_DSN, applies migrations and truncates all tables.
// The database stays locked for this test until it finishes.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	ctx := context.Background()

	lockConn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	if _, err := lockConn.Exec(ctx, `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
		t.Fatalf("lock test db: %v", err)
	}
	t.Cleanup(func() { _ = lockConn.Close(context.Background()) })

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := migrate.Apply(ctx, pool); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE audit_logs, coupon_redemptions, order_items, orders, coupons, products RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return pool
}

// InsertProduct adds a catalog row and returns its id.
func InsertProduct(t *testing.T, pool *pgxpool.Pool, slug string, price decimal.Decimal, stock int) string {
	t.Helper()
	var id string
	err := pool.QueryRow(context.Background(), `
INSERT INTO products (slug, name, price, stock)
VALUES ($1, $1, $2::numeric, $3)
RETURNING id::text
`, slug, price.String(), stock).Scan(&id)
	if err != nil {
		t.Fatalf("insert product %s: %v", slug, err)
	}
	return id
}
