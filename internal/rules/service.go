package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Store persists watch rules. Owned by the rule management boundary; the
// engine only ever sees snapshots.
type Store interface {
	List(ctx context.Context) ([]WatchRule, error)
	Put(ctx context.Context, r WatchRule) error
	Delete(ctx context.Context, id string) (bool, error)
}

// Service is the CRUD surface for watch rules. Every change reloads the
// engine snapshot.
type Service struct {
	store  Store
	engine *Engine
	logger *slog.Logger
}

// NewService creates a Service.
func NewService(store Store, engine *Engine, logger *slog.Logger) *Service {
	return &Service{store: store, engine: engine, logger: logger}
}

// Engine returns the engine the service keeps current.
func (s *Service) Engine() *Engine { return s.engine }

// Add validates and stores a rule.
func (s *Service) Add(ctx context.Context, r WatchRule) (WatchRule, error) {
	r, err := Normalize(r, time.Now().UTC())
	if err != nil {
		return r, err
	}
	if err := s.store.Put(ctx, r); err != nil {
		return r, fmt.Errorf("store rule: %w", err)
	}
	s.logger.Info("Watch rule added", "rule", r.ID, "owner", r.Owner, "action", r.Action)
	return r, s.Reload(ctx)
}

// Remove deletes a rule by id.
func (s *Service) Remove(ctx context.Context, id string) error {
	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.logger.Info("Watch rule removed", "rule", id)
	return s.Reload(ctx)
}

// List returns rules, filtered by owner when owner is non-empty.
func (s *Service) List(ctx context.Context, owner string) ([]WatchRule, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	if owner == "" {
		return all, nil
	}
	var out []WatchRule
	for _, r := range all {
		if r.Owner == owner {
			out = append(out, r)
		}
	}
	return out, nil
}

// Reload rebuilds the engine snapshot from the store.
func (s *Service) Reload(ctx context.Context) error {
	all, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("reload rules: %w", err)
	}
	s.engine.Load(all)
	return nil
}
