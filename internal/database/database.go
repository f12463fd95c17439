package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"tradinta-forging/internal/config"
	"tradinta-forging/internal/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to the configured database, retrying a few times while the
// server comes up, and wraps it in bun with the matching dialect.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	var (
		sqldb   *sql.DB
		err     error
		dialect func(*sql.DB) *bun.DB
	)

	switch cfg.Driver {
	case DriverPostgres:
		dialect = func(s *sql.DB) *bun.DB { return bun.NewDB(s, pgdialect.New()) }
		sqldb, err = sql.Open("postgres", cfg.DSN)
	case DriverSQLite:
		dialect = func(s *sql.DB) *bun.DB { return bun.NewDB(s, sqlitedialect.New()) }
		sqldb, err = sql.Open(sqliteshim.ShimName, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite {
		// SQLite allows one writer; a single connection keeps in-memory DSNs
		// pointing at the same database.
		sqldb.SetMaxOpenConns(1)
	} else {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
		sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	const maxRetries = 5
	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Connecting to %s (attempt %d/%d)", cfg.Driver, i+1, maxRetries))
		if err = sqldb.PingContext(ctx); err == nil {
			break
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to reach %s: %v", cfg.Driver, err))
		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				sqldb.Close()
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
	if err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("connect to %s after %d attempts: %w", cfg.Driver, maxRetries, err)
	}

	log.Info("DATABASE", fmt.Sprintf("✅ %s connection successful", cfg.Driver))
	return dialect(sqldb), nil
}
