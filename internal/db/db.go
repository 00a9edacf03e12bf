// Package db provides a pgxpool-based connection pool with prepared statement
// registration, schema migration and health checking.
package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/albapepper/stockwatch/internal/config"
)

//go:embed schema.sql
var schema string

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool. The schema must exist:
// statements are prepared against it on every new connection.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Migrate applies the embedded schema over a dedicated connection. It is
// idempotent and must run before New on a fresh database.
func Migrate(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// statements maps prepared statement names to SQL. Stores reference them by
// name only.
var statements = map[string]string{
	// Health
	"health_check": "SELECT 1",

	// Dedup records
	"dedup_get": `SELECT identity_key, source_id, last_fingerprint, last_price::text, last_available,
		last_seen_at, last_accepted_at, suppressed_until, version
		FROM dedup_records WHERE identity_key = $1`,
	"dedup_insert": `INSERT INTO dedup_records (identity_key, source_id, last_fingerprint, last_price,
		last_available, last_seen_at, last_accepted_at, suppressed_until, version)
		VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7, $8, 1)
		ON CONFLICT (identity_key) DO NOTHING`,
	"dedup_update": `UPDATE dedup_records SET source_id = $2, last_fingerprint = $3,
		last_price = $4::text::numeric, last_available = $5, last_seen_at = $6,
		last_accepted_at = $7, suppressed_until = $8, version = version + 1
		WHERE identity_key = $1 AND version = $9`,

	// Releases
	"release_get": `SELECT id, name, code, set_type, uri, known_dates, state, history,
		discovery_seq, discovered_at, updated_at, version
		FROM releases WHERE id = $1`,
	"release_list": `SELECT id, name, code, set_type, uri, known_dates, state, history,
		discovery_seq, discovered_at, updated_at, version
		FROM releases ORDER BY discovery_seq`,
	"release_insert": `INSERT INTO releases (id, name, code, set_type, uri, known_dates, state, history,
		discovered_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
		ON CONFLICT (id) DO NOTHING`,
	"release_update": `UPDATE releases SET name = $2, code = $3, set_type = $4, uri = $5,
		known_dates = $6, state = $7, history = $8, updated_at = $9, version = version + 1
		WHERE id = $1 AND version = $10`,

	// Watch rules
	"rules_list": `SELECT id, owner, identifiers, tags, price_cap::text, preferred_vendors, action, created_at
		FROM watch_rules ORDER BY created_at, id`,
	"rules_upsert": `INSERT INTO watch_rules (id, owner, identifiers, tags, price_cap, preferred_vendors, action, created_at)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET owner = EXCLUDED.owner, identifiers = EXCLUDED.identifiers,
			tags = EXCLUDED.tags, price_cap = EXCLUDED.price_cap,
			preferred_vendors = EXCLUDED.preferred_vendors, action = EXCLUDED.action`,
	"rules_delete": "DELETE FROM watch_rules WHERE id = $1",

	// Dispatch outbox
	"outbox_enqueue": `INSERT INTO dispatch_outbox (id, kind, key, payload, status, attempts, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', 0, $5, $6, $6)
		ON CONFLICT (id) DO NOTHING`,
	"outbox_claim_due": `UPDATE dispatch_outbox SET status = 'sending', claimed_at = $1, updated_at = $1
		WHERE id IN (
			SELECT id FROM dispatch_outbox
			WHERE (status = 'pending' AND next_attempt_at <= $1)
			   OR (status = 'sending' AND claimed_at < $3)
			ORDER BY next_attempt_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, key, payload, attempts, next_attempt_at, last_error, created_at`,
	"outbox_mark_sent": `UPDATE dispatch_outbox SET status = 'sent', sent_at = now(), updated_at = now()
		WHERE id = $1`,
	"outbox_mark_retry": `UPDATE dispatch_outbox SET status = 'pending', attempts = $2, next_attempt_at = $3,
		last_error = $4, claimed_at = NULL, updated_at = now()
		WHERE id = $1`,
	"outbox_mark_dropped": `UPDATE dispatch_outbox SET status = 'dropped', attempts = $2, last_error = $3,
		claimed_at = NULL, updated_at = now()
		WHERE id = $1`,
	"outbox_cleanup": `DELETE FROM dispatch_outbox
		WHERE status IN ('sent', 'dropped') AND updated_at < $1`,
}

// registerPreparedStatements prepares every statement on a new connection.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	for name, sql := range statements {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
