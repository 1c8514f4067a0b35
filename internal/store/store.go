package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/eclipse-basyx/abac-policy-core/internal/common"
)

// Store wraps the relational connection pool and the goqu dialect used to
// build every query in this package (§5: "pool with an overflow limit and
// pre-ping health check").
type Store struct {
	db      *sql.DB
	dialect goqu.DialectWrapper
}

// New wraps an already-initialized *sql.DB (built via common.InitializeDatabase).
func New(db *sql.DB) *Store {
	return &Store{db: db, dialect: goqu.Dialect(common.Dialect)}
}

// schemaStatements creates every table the core owns. Ownership and cascade
// rules follow §3: deleting a realm cascades to every child below it.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS realms (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS resource_types (
		id BIGSERIAL PRIMARY KEY,
		realm_id BIGINT NOT NULL REFERENCES realms(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		is_public BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE (realm_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS actions (
		id BIGSERIAL PRIMARY KEY,
		realm_id BIGINT NOT NULL REFERENCES realms(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		UNIQUE (realm_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS roles (
		id BIGSERIAL PRIMARY KEY,
		realm_id BIGINT NOT NULL REFERENCES realms(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		attributes JSONB NOT NULL DEFAULT '{}',
		UNIQUE (realm_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS principals (
		id BIGSERIAL PRIMARY KEY,
		realm_id BIGINT NOT NULL REFERENCES realms(id) ON DELETE CASCADE,
		username TEXT NOT NULL,
		attributes JSONB NOT NULL DEFAULT '{}',
		UNIQUE (realm_id, username)
	)`,
	`CREATE TABLE IF NOT EXISTS principal_roles (
		principal_id BIGINT NOT NULL REFERENCES principals(id) ON DELETE CASCADE,
		role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
		PRIMARY KEY (principal_id, role_id)
	)`,
	`CREATE TABLE IF NOT EXISTS resources (
		id BIGSERIAL PRIMARY KEY,
		realm_id BIGINT NOT NULL REFERENCES realms(id) ON DELETE CASCADE,
		resource_type_id BIGINT NOT NULL REFERENCES resource_types(id) ON DELETE CASCADE,
		attributes JSONB NOT NULL DEFAULT '{}',
		geometry geometry
	)`,
	`CREATE TABLE IF NOT EXISTS external_id_mappings (
		realm_id BIGINT NOT NULL REFERENCES realms(id) ON DELETE CASCADE,
		resource_type_id BIGINT NOT NULL REFERENCES resource_types(id) ON DELETE CASCADE,
		external_id TEXT NOT NULL,
		resource_id BIGINT NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
		PRIMARY KEY (realm_id, resource_type_id, external_id)
	)`,
	`CREATE TABLE IF NOT EXISTS rules (
		id BIGSERIAL PRIMARY KEY,
		realm_id BIGINT NOT NULL REFERENCES realms(id) ON DELETE CASCADE,
		resource_type_id BIGINT NOT NULL REFERENCES resource_types(id) ON DELETE CASCADE,
		action_id BIGINT NOT NULL REFERENCES actions(id) ON DELETE CASCADE,
		role_id BIGINT REFERENCES roles(id) ON DELETE CASCADE,
		principal_id BIGINT REFERENCES principals(id) ON DELETE CASCADE,
		resource_id BIGINT REFERENCES resources(id) ON DELETE CASCADE,
		dsl_json JSONB NOT NULL,
		compiled_sql TEXT NOT NULL,
		compiled_params JSONB NOT NULL,
		compiled_hash TEXT NOT NULL,
		state TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (realm_id, resource_type_id, action_id, role_id, principal_id, resource_id)
	)`,
}

// EnsureSchema creates every table the core owns if it does not already
// exist. Safe to call on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: ensure schema: %w", err)
		}
	}
	return nil
}
