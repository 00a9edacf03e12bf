// Package listener provides a Postgres LISTEN/NOTIFY consumer that keeps the
// in-memory rule snapshot current. It holds a dedicated pgx connection (not
// from the pool) listening on the `watch_rules_changed` channel.
//
// Any insert, update or delete on watch_rules fires pg_notify through a
// trigger, so rules changed by another process (or by hand in psql) reach
// every running instance without a restart.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	channel          = "watch_rules_changed"
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// Reloader rebuilds state after a change notification.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Start opens a dedicated connection and listens on the watch_rules_changed
// channel. It reconnects automatically on connection loss. Blocks until ctx
// is cancelled. Intended to be called with `go`.
func Start(ctx context.Context, dbURL string, reloader Reloader, logger *slog.Logger) {
	backoff := reconnectBackoff

	for {
		err := listenLoop(ctx, dbURL, reloader, logger)
		if ctx.Err() != nil {
			logger.Info("Rule listener stopped (context cancelled)")
			return
		}

		logger.Error("Rule listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = nextBackoff(backoff)
		case <-ctx.Done():
			return
		}
	}
}

func nextBackoff(d time.Duration) time.Duration {
	return min(d*2, maxReconnect)
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func listenLoop(ctx context.Context, dbURL string, reloader Reloader, logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	_, err = conn.Exec(ctx, "LISTEN "+channel)
	if err != nil {
		return fmt.Errorf("LISTEN %s: %w", channel, err)
	}
	logger.Info("Rule listener connected", "channel", channel)

	// Changes made while disconnected produced no notification we saw.
	reload(ctx, reloader, "", logger)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		reload(ctx, reloader, notification.Payload, logger)
	}
}

// reload refreshes the snapshot. Failures are logged; the next notification
// or reconnect retries.
func reload(ctx context.Context, reloader Reloader, ruleID string, logger *slog.Logger) bool {
	if err := reloader.Reload(ctx); err != nil {
		logger.Warn("Rule reload failed", "rule", ruleID, "error", err)
		return false
	}
	logger.Debug("Rules reloaded", "rule", ruleID)
	return true
}
