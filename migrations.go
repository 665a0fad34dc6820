package delegatekit

import (
	"context"
	"fmt"

	"github.com/fernandezvara/dbkit"
)

// Migrations returns the schema migrations for the database-backed store,
// in apply order. IDs are namespaced so they can share a migration table
// with the host application's own migrations.
func Migrations() []dbkit.Migration {
	return []dbkit.Migration{
		{
			ID:          "delegatekit-001-roles",
			Description: "Role and permission catalogs",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id_key     TEXT PRIMARY KEY,
					name       TEXT NOT NULL,
					namespace  TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
					UNIQUE (name, namespace)
				);

				CREATE TABLE IF NOT EXISTS permissions (
					id_key     TEXT PRIMARY KEY,
					name       TEXT NOT NULL,
					namespace  TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
					UNIQUE (name, namespace)
				);
			`,
		},
		{
			ID:          "delegatekit-002-user-grants",
			Description: "Role and permission grants per user",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_roles (
					user_id    TEXT NOT NULL,
					role_key   TEXT NOT NULL REFERENCES roles (id_key) ON DELETE CASCADE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
					PRIMARY KEY (user_id, role_key)
				);
				CREATE INDEX IF NOT EXISTS idx_user_roles_user ON user_roles (user_id);

				CREATE TABLE IF NOT EXISTS user_permissions (
					user_id        TEXT NOT NULL,
					permission_key TEXT NOT NULL REFERENCES permissions (id_key) ON DELETE CASCADE,
					created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
					PRIMARY KEY (user_id, permission_key)
				);
				CREATE INDEX IF NOT EXISTS idx_user_permissions_user ON user_permissions (user_id);
			`,
		},
		{
			ID:          "delegatekit-003-delegations",
			Description: "Delegation scopes, assignable sets and creator links",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_delegations (
					user_id              TEXT PRIMARY KEY,
					can_manage_users     BOOLEAN NOT NULL DEFAULT FALSE,
					max_manageable_users INTEGER,
					created_by           TEXT NOT NULL DEFAULT '',
					created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
					updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
				);
				CREATE INDEX IF NOT EXISTS idx_user_delegations_creator ON user_delegations (created_by);

				CREATE TABLE IF NOT EXISTS delegable_roles (
					user_id    TEXT NOT NULL,
					role_key   TEXT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
					PRIMARY KEY (user_id, role_key)
				);

				CREATE TABLE IF NOT EXISTS delegable_permissions (
					user_id        TEXT NOT NULL,
					permission_key TEXT NOT NULL,
					created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
					PRIMARY KEY (user_id, permission_key)
				);
			`,
		},
		{
			ID:          "delegatekit-004-users",
			Description: "Reference user directory",
			SQL: `
				CREATE TABLE IF NOT EXISTS delegation_users (
					id         TEXT PRIMARY KEY,
					created_at TIMESTAMPTZ NOT NULL DEFAULT now()
				);
			`,
		},
		{
			ID:          "delegatekit-005-audit-log",
			Description: "Delegation audit log",
			SQL: `
				CREATE TABLE IF NOT EXISTS delegation_audit_log (
					id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
					timestamp      TIMESTAMPTZ NOT NULL DEFAULT now(),
					actor_id       TEXT NOT NULL,
					kind           TEXT NOT NULL,
					target_user_id TEXT,
					ip_address     TEXT,
					user_agent     TEXT,
					request_id     TEXT,
					metadata       JSONB
				);
				CREATE INDEX IF NOT EXISTS idx_delegation_audit_actor ON delegation_audit_log (actor_id, timestamp DESC);
				CREATE INDEX IF NOT EXISTS idx_delegation_audit_target ON delegation_audit_log (target_user_id, timestamp DESC);
			`,
		},
	}
}

// Migrate applies the store's schema migrations. Safe to call on every
// startup; already-applied migrations are skipped.
func (s *Store) Migrate(ctx context.Context) error {
	db, ok := s.db.(*dbkit.DBKit)
	if !ok {
		return fmt.Errorf("delegatekit: Migrate requires a *dbkit.DBKit, not a transaction")
	}
	_, err := db.Migrate(ctx, Migrations())
	return dbkit.WithErr1(err, "Migrate").Err()
}
