package timeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists releases in the releases table with the firing
// history embedded as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Release, error) {
	r, err := scanRelease(s.pool.QueryRow(ctx, "release_get", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get release: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Release, error) {
	rows, err := s.pool.Query(ctx, "release_list")
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	defer rows.Close()

	var out []Release
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, fmt.Errorf("scan release: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CompareAndSwap(ctx context.Context, old *Release, next Release) (bool, error) {
	dates := next.KnownDates
	if dates == nil {
		dates = map[DateKind]time.Time{}
	}
	history := next.History
	if history == nil {
		history = []MilestoneFiring{}
	}

	if old == nil {
		tag, err := s.pool.Exec(ctx, "release_insert",
			next.ID, next.Name, next.Code, next.SetType, next.URI,
			dates, string(next.State), history, next.DiscoveredAt, next.UpdatedAt,
		)
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() == 1, nil
	}

	tag, err := s.pool.Exec(ctx, "release_update",
		next.ID, next.Name, next.Code, next.SetType, next.URI,
		dates, string(next.State), history, next.UpdatedAt, old.Version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanRelease(row pgx.Row) (*Release, error) {
	var (
		r     Release
		state string
	)
	err := row.Scan(
		&r.ID, &r.Name, &r.Code, &r.SetType, &r.URI,
		&r.KnownDates, &state, &r.History,
		&r.DiscoverySeq, &r.DiscoveredAt, &r.UpdatedAt, &r.Version,
	)
	if err != nil {
		return nil, err
	}
	r.State = State(state)
	return &r, nil
}
