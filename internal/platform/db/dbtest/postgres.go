// Package dbtest runs repository tests against a throwaway PostgreSQL
// container. Tests using it are built with the "integration" tag.
package dbtest

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/trialflow/trialflow/internal/platform/db"
)

const image = "postgres:16-alpine"

// Start launches PostgreSQL and returns a pool connected to it. cleanup
// closes the pool and removes the container.
func Start(ctx context.Context) (*pgxpool.Pool, func(), error) {
	container, err := postgres.Run(ctx, image,
		postgres.WithDatabase("trialflow"),
		postgres.WithUsername("trialflow"),
		postgres.WithPassword("trialflow"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("start postgres container: %w", err)
	}
	terminate := func() { _ = container.Terminate(context.Background()) }

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		terminate()
		return nil, nil, fmt.Errorf("connection string: %w", err)
	}

	pool, err := db.NewPool(ctx, connStr, 10, 1)
	if err != nil {
		terminate()
		return nil, nil, err
	}
	return pool, func() {
		pool.Close()
		terminate()
	}, nil
}

// MigrationsDir locates the repository's migrations directory.
func MigrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	// internal/platform/db/dbtest -> repository root
	return filepath.Join(filepath.Dir(filename), "..", "..", "..", "..", "migrations")
}

// Site creates a fresh, fully migrated site schema and returns a context
// pinned to it the way SiteMiddleware pins a request. The schema is dropped
// when the test ends.
func Site(t *testing.T, pool *pgxpool.Pool) context.Context {
	t.Helper()
	siteID := "test_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")

	if err := db.CreateSiteSchema(context.Background(), pool, siteID, MigrationsDir()); err != nil {
		t.Fatalf("create site %s: %v", siteID, err)
	}
	t.Cleanup(func() {
		if _, err := pool.Exec(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", db.SchemaName(siteID))); err != nil {
			t.Logf("drop site schema %s: %v", siteID, err)
		}
	})

	return Pin(t, pool, siteID)
}

// Pin acquires a connection of its own with search_path set to siteID.
// Each concurrent caller in a test needs a separate pinned context, just as
// each request gets its own connection.
func Pin(t *testing.T, pool *pgxpool.Pool, siteID string) context.Context {
	t.Helper()
	ctx := context.Background()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire connection: %v", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", db.SchemaName(siteID))); err != nil {
		conn.Release()
		t.Fatalf("set search_path: %v", err)
	}
	t.Cleanup(conn.Release)

	ctx = db.WithSite(ctx, siteID)
	return context.WithValue(ctx, db.DBConnKey, conn)
}
