package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore persists dedup records in the dedup_records table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	var (
		r     Record
		price *string
	)
	err := s.pool.QueryRow(ctx, "dedup_get", key).Scan(
		&r.IdentityKey, &r.SourceID, &r.LastFingerprint, &price, &r.LastAvailable,
		&r.LastSeenAt, &r.LastAcceptedAt, &r.SuppressedUntil, &r.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if price != nil {
		d, err := decimal.NewFromString(*price)
		if err != nil {
			return nil, fmt.Errorf("parse last_price %q: %w", *price, err)
		}
		r.LastPrice = &d
	}
	return &r, nil
}

func (s *PostgresStore) CompareAndSwap(ctx context.Context, old *Record, next Record) (bool, error) {
	var price *string
	if next.LastPrice != nil {
		p := next.LastPrice.String()
		price = &p
	}
	var suppressed *time.Time
	if next.SuppressedUntil != nil {
		t := next.SuppressedUntil.UTC()
		suppressed = &t
	}

	if old == nil {
		tag, err := s.pool.Exec(ctx, "dedup_insert",
			next.IdentityKey, next.SourceID, next.LastFingerprint, price, next.LastAvailable,
			next.LastSeenAt, next.LastAcceptedAt, suppressed,
		)
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() == 1, nil
	}

	tag, err := s.pool.Exec(ctx, "dedup_update",
		next.IdentityKey, next.SourceID, next.LastFingerprint, price, next.LastAvailable,
		next.LastSeenAt, next.LastAcceptedAt, suppressed, old.Version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
