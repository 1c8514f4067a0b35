//nolint:all
package common

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
)

// Dialect is the goqu SQL dialect name used throughout internal/store.
const Dialect = "postgres"

// DSN builds a postgres connection string from a PostgresConfig.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.DBName,
	)
}

// InitializeDatabase opens a PostgreSQL connection pool tuned from cfg and
// pre-pings it (§5: "pool with an overflow limit and pre-ping health
// check"). If schemaFilePath is non-empty, its contents are executed once
// against the new connection before returning.
func InitializeDatabase(cfg PostgresConfig, schemaFilePath string) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, err
	}

	maxOpen := cfg.MaxOpenConnections
	if maxOpen <= 0 {
		maxOpen = 50
	}
	maxIdle := cfg.MaxIdleConnections
	if maxIdle <= 0 {
		maxIdle = maxOpen
	}
	lifetime := cfg.ConnMaxLifetimeMinutes
	if lifetime <= 0 {
		lifetime = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(time.Duration(lifetime) * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("database pre-ping failed: %w", err)
	}

	if schemaFilePath == "" {
		return db, nil
	}
	queryString, err := os.ReadFile(schemaFilePath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(string(queryString)); err != nil {
		return nil, err
	}
	return db, nil
}
