package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	SiteIDKey contextKey = "site_id"
	DBConnKey contextKey = "db_conn"
	DBTxKey   contextKey = "db_tx"

	SiteHeader = "X-Site-ID"
)

var siteIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SchemaName returns the Postgres schema holding a trial site's data.
func SchemaName(siteID string) string {
	return "site_" + siteID
}

// SiteMiddleware pins every request to the schema of one trial site. The
// site comes from the JWT claim, the X-Site-ID header, the site_id query
// parameter, or defaultSite, in that order.
func SiteMiddleware(pool *pgxpool.Pool, defaultSite string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			siteID := extractSiteID(c, defaultSite)

			if !siteIDPattern.MatchString(siteID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid site identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			_, err = conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(siteID)))
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "site resolution failed")
			}

			ctx = context.WithValue(ctx, SiteIDKey, siteID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("site_id", siteID)

			return next(c)
		}
	}
}

func extractSiteID(c echo.Context, defaultSite string) string {
	if sid, ok := c.Get("jwt_site_id").(string); ok && sid != "" {
		return sid
	}
	if sid := c.Request().Header.Get(SiteHeader); sid != "" {
		return sid
	}
	if sid := c.QueryParam("site_id"); sid != "" {
		return sid
	}
	return defaultSite
}

// ConnFromContext retrieves the site-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// TxFromContext retrieves the transaction opened by InTx.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// SiteFromContext retrieves the site ID from context.
func SiteFromContext(ctx context.Context) string {
	sid, _ := ctx.Value(SiteIDKey).(string)
	return sid
}

// WithSite returns a copy of ctx carrying siteID. Used by background work
// and the CLI, which run outside SiteMiddleware.
func WithSite(ctx context.Context, siteID string) context.Context {
	return context.WithValue(ctx, SiteIDKey, siteID)
}

// CreateSiteSchema creates the schema for a trial site and runs all
// migrations against it. Migrations are skipped when migrationsDir is empty.
func CreateSiteSchema(ctx context.Context, pool MigrationPool, siteID string, migrationsDir string) error {
	if !siteIDPattern.MatchString(siteID) {
		return fmt.Errorf("invalid site identifier: %s", siteID)
	}

	schema := SchemaName(siteID)

	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrationsDir != "" {
		migrator := NewMigrator(pool, migrationsDir)
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}

	return nil
}
