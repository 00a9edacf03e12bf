package rules

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore persists rules in the watch_rules table. Changes made here
// or by other writers fire NOTIFY watch_rules_changed.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) List(ctx context.Context) ([]WatchRule, error) {
	rows, err := s.pool.Query(ctx, "rules_list")
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var out []WatchRule
	for rows.Next() {
		var (
			r        WatchRule
			priceCap *string
			action   string
		)
		if err := rows.Scan(&r.ID, &r.Owner, &r.Identifiers, &r.Tags, &priceCap, &r.PreferredVendors, &action, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if priceCap != nil {
			d, err := decimal.NewFromString(*priceCap)
			if err != nil {
				return nil, fmt.Errorf("parse price cap for %s: %w", r.ID, err)
			}
			r.PriceCap = &d
		}
		r.Action = Action(action)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Put(ctx context.Context, r WatchRule) error {
	var priceCap *string
	if r.PriceCap != nil {
		c := r.PriceCap.String()
		priceCap = &c
	}
	_, err := s.pool.Exec(ctx, "rules_upsert",
		r.ID, r.Owner, nonNil(r.Identifiers), nonNil(r.Tags), priceCap, nonNil(r.PreferredVendors), string(r.Action), r.CreatedAt,
	)
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, "rules_delete", id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
