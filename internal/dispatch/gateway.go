package dispatch

import (
	"context"
	"log/slog"
)

// LogGateway writes every envelope to the structured log. Used when no
// broker is configured.
type LogGateway struct {
	logger *slog.Logger
}

// NewLogGateway creates a LogGateway.
func NewLogGateway(logger *slog.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

func (g *LogGateway) Deliver(_ context.Context, env Envelope) error {
	g.logger.Info("Dispatch delivered",
		"id", env.ID, "kind", env.Kind, "key", env.Key, "attempt", env.Attempts+1, "bytes", len(env.Payload))
	return nil
}
