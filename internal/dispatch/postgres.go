package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// claimTimeout returns envelopes stuck in 'sending' (e.g. after a crash) to
// the claimable set.
const claimTimeout = 5 * time.Minute

// PostgresOutbox stores envelopes in the dispatch_outbox table.
type PostgresOutbox struct {
	pool *pgxpool.Pool
}

// NewPostgresOutbox creates a PostgresOutbox.
func NewPostgresOutbox(pool *pgxpool.Pool) *PostgresOutbox {
	return &PostgresOutbox{pool: pool}
}

func (o *PostgresOutbox) Enqueue(ctx context.Context, env Envelope) error {
	_, err := o.pool.Exec(ctx, "outbox_enqueue",
		env.ID, string(env.Kind), env.Key, []byte(env.Payload), env.NextAttemptAt, env.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue envelope: %w", err)
	}
	return nil
}

// ClaimDue uses FOR UPDATE SKIP LOCKED so concurrent workers never claim
// the same envelope.
func (o *PostgresOutbox) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Envelope, error) {
	rows, err := o.pool.Query(ctx, "outbox_claim_due", now, limit, now.Add(-claimTimeout))
	if err != nil {
		return nil, fmt.Errorf("claim due envelopes: %w", err)
	}
	defer rows.Close()

	var claimed []Envelope
	for rows.Next() {
		var (
			env     Envelope
			kind    string
			payload []byte
			lastErr *string
		)
		if err := rows.Scan(&env.ID, &kind, &env.Key, &payload, &env.Attempts, &env.NextAttemptAt, &lastErr, &env.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan claimed: %w", err)
		}
		env.Kind = Kind(kind)
		env.Payload = payload
		if lastErr != nil {
			env.LastError = *lastErr
		}
		claimed = append(claimed, env)
	}
	return claimed, rows.Err()
}

func (o *PostgresOutbox) MarkSent(ctx context.Context, id string) error {
	_, err := o.pool.Exec(ctx, "outbox_mark_sent", id)
	return err
}

func (o *PostgresOutbox) MarkRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	_, err := o.pool.Exec(ctx, "outbox_mark_retry", id, attempts, next, lastErr)
	return err
}

func (o *PostgresOutbox) MarkDropped(ctx context.Context, id string, attempts int, lastErr string) error {
	_, err := o.pool.Exec(ctx, "outbox_mark_dropped", id, attempts, lastErr)
	return err
}

func (o *PostgresOutbox) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	tag, err := o.pool.Exec(ctx, "outbox_cleanup", before)
	if err != nil {
		return 0, fmt.Errorf("cleanup outbox: %w", err)
	}
	return tag.RowsAffected(), nil
}
