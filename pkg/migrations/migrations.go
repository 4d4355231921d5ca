// Package migrations holds the gatehouse PostgreSQL schema
package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// All returns every migration in version order
func All() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create permission catalog",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					key TEXT PRIMARY KEY,
					description TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create roles",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id TEXT PRIMARY KEY,
					key TEXT NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id TEXT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_key TEXT NOT NULL,
					PRIMARY KEY (role_id, permission_key)
				);
			`,
		},
		{
			Version:     3,
			Description: "Create memberships",
			SQL: `
				CREATE TABLE IF NOT EXISTS org_memberships (
					id TEXT PRIMARY KEY,
					org_id TEXT NOT NULL,
					user_id TEXT NOT NULL,
					role_id TEXT NOT NULL REFERENCES roles(id),
					status TEXT NOT NULL CHECK (status IN ('active', 'suspended')),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (org_id, user_id)
				);
				CREATE INDEX IF NOT EXISTS idx_org_memberships_user_id ON org_memberships(user_id);

				CREATE TABLE IF NOT EXISTS project_memberships (
					id TEXT PRIMARY KEY,
					project_id TEXT NOT NULL,
					org_id TEXT NOT NULL,
					user_id TEXT NOT NULL,
					role_id TEXT NOT NULL REFERENCES roles(id),
					status TEXT NOT NULL CHECK (status IN ('active', 'suspended')),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (project_id, user_id)
				);
				CREATE INDEX IF NOT EXISTS idx_project_memberships_user_id ON project_memberships(user_id);

				CREATE TABLE IF NOT EXISTS platform_memberships (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL UNIQUE,
					role_id TEXT NOT NULL REFERENCES roles(id),
					status TEXT NOT NULL CHECK (status IN ('active', 'suspended')),
					expires_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS actor_identities (
					actor_id TEXT PRIMARY KEY,
					email TEXT NOT NULL,
					email_verified_at TIMESTAMPTZ
				);
			`,
		},
		{
			Version:     4,
			Description: "Create portal tokens",
			SQL: `
				CREATE TABLE IF NOT EXISTS portal_tokens (
					id TEXT PRIMARY KEY,
					token_hash TEXT NOT NULL UNIQUE,
					org_id TEXT NOT NULL,
					project_id TEXT NOT NULL,
					portal_type TEXT NOT NULL CHECK (portal_type IN ('client', 'sub', 'bid')),
					company_id TEXT,
					contact_id TEXT,
					capabilities TEXT[] NOT NULL DEFAULT '{}',
					pin_required BOOLEAN NOT NULL DEFAULT FALSE,
					pin_hash BYTEA,
					require_account BOOLEAN NOT NULL DEFAULT FALSE,
					expires_at TIMESTAMPTZ,
					revoked_at TIMESTAMPTZ,
					last_accessed_at TIMESTAMPTZ,
					access_count BIGINT NOT NULL DEFAULT 0,
					created_by TEXT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CHECK (pin_required = (pin_hash IS NOT NULL))
				);
				CREATE INDEX IF NOT EXISTS idx_portal_tokens_project_id ON portal_tokens(project_id);
			`,
		},
		{
			Version:     5,
			Description: "Create portal accounts and grants",
			SQL: `
				CREATE TABLE IF NOT EXISTS portal_accounts (
					id TEXT PRIMARY KEY,
					email TEXT NOT NULL UNIQUE,
					email_verified_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS portal_grants (
					account_id TEXT NOT NULL REFERENCES portal_accounts(id),
					token_id TEXT NOT NULL REFERENCES portal_tokens(id),
					status TEXT NOT NULL CHECK (status IN ('active', 'paused', 'revoked')),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (account_id, token_id)
				);
				CREATE INDEX IF NOT EXISTS idx_portal_grants_token_id ON portal_grants(token_id);
			`,
		},
		{
			Version:     6,
			Description: "Create authorization audit log",
			SQL: `
				CREATE TABLE IF NOT EXISTS authz_audit_log (
					id TEXT PRIMARY KEY,
					occurred_at TIMESTAMPTZ NOT NULL,
					actor_id TEXT NOT NULL,
					org_id TEXT,
					project_id TEXT,
					permission TEXT NOT NULL,
					resource_type TEXT,
					resource_id TEXT,
					allowed BOOLEAN NOT NULL,
					reason TEXT NOT NULL,
					policy_version TEXT NOT NULL,
					scopes_evaluated TEXT[] NOT NULL DEFAULT '{}',
					permissions TEXT[] NOT NULL DEFAULT '{}',
					request_id TEXT
				);
				CREATE INDEX IF NOT EXISTS idx_authz_audit_log_occurred_at ON authz_audit_log(occurred_at);
				CREATE INDEX IF NOT EXISTS idx_authz_audit_log_actor_id ON authz_audit_log(actor_id, occurred_at);
				CREATE INDEX IF NOT EXISTS idx_authz_audit_log_org_id ON authz_audit_log(org_id, occurred_at);
			`,
		},
	}
}

// Apply runs every pending migration, each in its own transaction, and
// returns how many were applied
func Apply(ctx context.Context, db *sql.DB, log logrus.FieldLogger) (int, error) {
	if log == nil {
		log = logrus.New()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := Applied(ctx, db)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, migration := range All() {
		if applied[migration.Version] {
			continue
		}

		entry := log.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		})
		entry.Info("running migration")

		if err := apply(ctx, db, migration); err != nil {
			return count, err
		}
		count++
		entry.Info("migration completed")
	}
	return count, nil
}

func apply(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
		migration.Version, migration.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}

// Applied returns the set of applied migration versions
func Applied(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}
	return applied, nil
}
