package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/rfidpay/cardcore/backend/pkg/common"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// DSN builds the driver-specific connection string.
func DSN(cfg common.DBConfig) (string, error) {
	switch cfg.Driver {
	case DriverPostgres, "":
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode), nil
	case DriverSQLite:
		return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", cfg.Path), nil
	}
	return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// Connect opens the configured database and waits for it to answer.
func Connect(ctx context.Context, cfg common.DBConfig) (*sql.DB, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	driver := cfg.Driver
	if driver == "" {
		driver = DriverPostgres
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}
	if driver == DriverSQLite {
		// One writer at a time; version checks still guard against other processes.
		db.SetMaxOpenConns(1)
	}

	// Retry logic for waiting for DB to be ready
	for i := 0; i < 5; i++ {
		err = db.PingContext(ctx)
		if err == nil {
			break
		}
		slog.Warn("waiting for database", "attempt", i+1, "max", 5, "error", err)
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	slog.Info("connected to database", "driver", driver)
	return db, nil
}
