package database

import (
	"database/sql"
	"fmt"

	"attendance.service/internal/config"
	"github.com/XSAM/otelsql"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver
	_ "github.com/mattn/go-sqlite3"   // Register sqlite3 driver
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// NewInstrumentedConnection opens the primary store configured by DB_DRIVER with OpenTelemetry instrumentation.
func NewInstrumentedConnection(cfg config.Config) (*sql.DB, error) {
	switch cfg.DBDriver {
	case DriverPostgres:
		return openPostgres(cfg)
	case DriverSQLite:
		return OpenSQLite(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
}

func openPostgres(cfg config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	// otelsql.Open wraps the driver to intercept queries and create spans
	db, err := otelsql.Open("pgx", dsn,
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
		otelsql.WithSQLCommenter(true),
	)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	return db, nil
}

// OpenSQLite opens a SQLite database file for local development and tests.
// SQLite allows a single writer, so the pool is pinned to one connection.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := otelsql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on",
		otelsql.WithAttributes(semconv.DBSystemSqlite),
	)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error applying pragmas: %w", err)
	}

	return db, nil
}
