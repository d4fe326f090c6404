// Package database opens the SQL connection pool for the configured driver.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go-leaf-doctor/internal/config"
	"go-leaf-doctor/internal/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// DriverName maps a configured driver to the database/sql driver name.
func DriverName(driver string) (string, error) {
	switch driver {
	case config.DriverPostgres:
		return "pgx", nil
	case config.DriverSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Open creates the connection pool, applies pool limits and verifies
// connectivity within cfg.ConnTimeout.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	name, err := DriverName(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.URL
	if cfg.Driver == config.DriverSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.Driver == config.DriverSQLite {
		if err := checkForeignKeys(pingCtx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	logger.WithFields(logrus.Fields{
		"driver":         cfg.Driver,
		"max_open_conns": cfg.MaxOpenConns,
	}).Info("Database connection established")

	return db, nil
}

// sqliteDSN adds the foreign_keys pragma unless the DSN already sets it.
// A DSN pragma applies to every pooled connection, unlike a one-off PRAGMA.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}

func checkForeignKeys(ctx context.Context, db *sql.DB) error {
	var enabled int
	if err := db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&enabled); err != nil {
		return fmt.Errorf("read sqlite foreign_keys: %w", err)
	}
	if enabled != 1 {
		return fmt.Errorf("sqlite foreign keys are disabled; remove foreign_keys(0) from DATABASE_URL")
	}
	return nil
}
