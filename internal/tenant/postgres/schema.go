// Package postgres provides a PostgreSQL-backed implementation of
// tenant.Store. Profiles and call logs share a single [pgxpool.Pool]
// connection pool; [Migrate] creates the schema via CREATE TABLE IF NOT
// EXISTS so repeated startups are safe.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlProfiles = `
CREATE TABLE IF NOT EXISTS business_profiles (
    id            TEXT         PRIMARY KEY,
    user_id       TEXT         NOT NULL DEFAULT '',
    name          TEXT         NOT NULL,
    services      TEXT[]       NOT NULL DEFAULT '{}',
    hours         TEXT         NOT NULL DEFAULT '',
    tone          TEXT         NOT NULL DEFAULT '',
    greeting      TEXT         NOT NULL DEFAULT '',
    phone_number  TEXT         NOT NULL DEFAULT '',
    plan          TEXT         NOT NULL DEFAULT 'starter',
    minutes_limit INTEGER      NOT NULL DEFAULT 0,
    minutes_used  INTEGER      NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_business_profiles_phone
    ON business_profiles (phone_number)
    WHERE phone_number <> '';
`

const ddlCallLogs = `
CREATE TABLE IF NOT EXISTS call_logs (
    id               TEXT         PRIMARY KEY,
    profile_id       TEXT         NOT NULL REFERENCES business_profiles (id),
    call_sid         TEXT         NOT NULL UNIQUE,
    from_number      TEXT         NOT NULL DEFAULT '',
    status           TEXT         NOT NULL DEFAULT 'in-progress',
    transcript       JSONB        NOT NULL DEFAULT '[]',
    duration_seconds INTEGER      NOT NULL DEFAULT 0,
    started_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at         TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_call_logs_profile_id
    ON call_logs (profile_id);
`

// Migrate creates all tables and indexes required by the store.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlProfiles, ddlCallLogs} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("tenant store: migrate: %w", err)
		}
	}
	return nil
}
