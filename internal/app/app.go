// Package app assembles the service from configuration: storage backends,
// the event path, the release timeline and delivery. Shared by cmd/api and
// cmd/ingest so both run the exact same wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/albapepper/stockwatch/internal/config"
	"github.com/albapepper/stockwatch/internal/db"
	"github.com/albapepper/stockwatch/internal/dedup"
	"github.com/albapepper/stockwatch/internal/digest"
	"github.com/albapepper/stockwatch/internal/dispatch"
	"github.com/albapepper/stockwatch/internal/pipeline"
	"github.com/albapepper/stockwatch/internal/provider"
	"github.com/albapepper/stockwatch/internal/provider/feed"
	"github.com/albapepper/stockwatch/internal/provider/scryfall"
	"github.com/albapepper/stockwatch/internal/provider/tcgplayer"
	"github.com/albapepper/stockwatch/internal/rules"
	"github.com/albapepper/stockwatch/internal/source"
	"github.com/albapepper/stockwatch/internal/timeline"
)

// App holds the assembled components.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	// Pool is nil on the memory backend.
	Pool *db.Pool

	Dedup      *dedup.Deduplicator
	Rules      *rules.Service
	Dispatcher *dispatch.Dispatcher
	Tracker    *timeline.Tracker
	Digest     *digest.Aggregator
	Pipeline   *pipeline.Pipeline

	Adapters        []source.Adapter
	ReleaseAdapters []source.ReleaseAdapter

	closers []func()
}

// Build connects every backend named in cfg and wires the components. The
// caller must Close the returned App.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, logger := a.Config, a.Logger

	var (
		ruleStore    rules.Store
		releaseStore timeline.Store
		outbox       dispatch.Outbox
	)
	switch cfg.StorageBackend {
	case "postgres":
		logger.Info("Connecting to database...")
		pool, err := db.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.Pool = pool
		a.closers = append(a.closers, pool.Close)
		logger.Info("Database connected", "min_conns", cfg.DBPoolMinConns, "max_conns", cfg.DBPoolMaxConns)

		ruleStore = rules.NewPostgresStore(pool.Pool)
		releaseStore = timeline.NewPostgresStore(pool.Pool)
		outbox = dispatch.NewPostgresOutbox(pool.Pool)
	default:
		logger.Warn("Using in-memory storage; state is lost on restart")
		ruleStore = rules.NewMemoryStore()
		releaseStore = timeline.NewMemoryStore()
		outbox = dispatch.NewMemoryOutbox()
	}

	dedupStore, err := a.dedupStore(ctx)
	if err != nil {
		return err
	}
	a.Dedup = dedup.New(dedupStore, dedup.Options{
		RecordTTL: cfg.DedupRecordTTL,
		Cooldowns: cfg.Cooldowns(),
	})

	gateway, err := a.gateway()
	if err != nil {
		return err
	}
	a.Dispatcher = dispatch.New(outbox, gateway, dispatch.Options{
		Interval:    cfg.DispatchInterval,
		BatchSize:   cfg.DispatchBatchSize,
		MaxAttempts: cfg.DispatchMaxAttempts,
		BaseBackoff: cfg.DispatchBaseBackoff,
		MaxBackoff:  cfg.DispatchMaxBackoff,
	}, logger)

	a.Rules = rules.NewService(ruleStore, rules.NewEngine(logger), logger)
	if err := a.Rules.Reload(ctx); err != nil {
		return err
	}
	logger.Info("Watch rules loaded", "count", a.Rules.Engine().Len())

	a.Tracker = timeline.NewTracker(releaseStore, a.Dispatcher, timeline.Options{
		Thresholds:   cfg.MilestoneThresholds,
		ImminentDays: cfg.ImminentDays,
		ArchiveGrace: time.Duration(cfg.ArchiveGraceDays) * 24 * time.Hour,
	}, logger)
	a.Digest = digest.NewAggregator(releaseStore)
	a.Pipeline = pipeline.New(a.Dedup, a.Rules.Engine(), a.Dispatcher, logger)

	a.buildAdapters()
	return nil
}

func (a *App) dedupStore(ctx context.Context) (dedup.Store, error) {
	switch a.Config.DedupBackend {
	case "redis":
		opts, err := redis.ParseURL(a.Config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.closers = append(a.closers, func() { client.Close() })
		a.Logger.Info("Dedup records in Redis", "addr", opts.Addr)
		return dedup.NewRedisStore(client, a.Config.DedupRecordTTL), nil
	case "postgres":
		if a.Pool == nil {
			return nil, errors.New("DEDUP_BACKEND=postgres requires STORAGE_BACKEND=postgres")
		}
		return dedup.NewPostgresStore(a.Pool.Pool), nil
	case "memory":
		return dedup.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown DEDUP_BACKEND %q", a.Config.DedupBackend)
	}
}

func (a *App) gateway() (dispatch.Gateway, error) {
	switch a.Config.DispatchBackend {
	case "amqp":
		g, err := dispatch.NewAMQPGateway(a.Config.AMQPURL, a.Config.AMQPExchange, a.Logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { g.Close() })
		a.Logger.Info("Dispatching to AMQP", "exchange", a.Config.AMQPExchange)
		return g, nil
	case "log", "":
		return dispatch.NewLogGateway(a.Logger), nil
	default:
		return nil, fmt.Errorf("unknown DISPATCH_BACKEND %q", a.Config.DispatchBackend)
	}
}

// buildAdapters creates one adapter per configured source.
func (a *App) buildAdapters() {
	cfg := a.Config
	for _, s := range cfg.Sources {
		client := provider.NewClient(s.RequestsPerMin, cfg.PollTimeout, a.Logger.With("source", s.ID))
		switch s.Kind {
		case config.SourceKindFeed:
			a.Adapters = append(a.Adapters, feed.New(s.ID, s.URLs, s.Tags, client))
		case config.SourceKindTCGPlayer:
			if cfg.TCGPlayerPublicKey == "" || cfg.TCGPlayerPrivateKey == "" {
				a.Logger.Warn("TCGplayer source skipped, no API keys", "source", s.ID)
				continue
			}
			a.Adapters = append(a.Adapters, tcgplayer.New(s.ID, firstURL(s), cfg.TCGPlayerPublicKey, cfg.TCGPlayerPrivateKey, s.SKUs, s.Tags, client))
		case config.SourceKindScryfall:
			a.ReleaseAdapters = append(a.ReleaseAdapters, scryfall.New(s.ID, firstURL(s), client))
		}
	}
	a.Logger.Info("Sources configured", "inventory", len(a.Adapters), "release", len(a.ReleaseAdapters))
}

func firstURL(s config.SourceConfig) string {
	if len(s.URLs) > 0 {
		return s.URLs[0]
	}
	return ""
}

// Adapter returns the inventory adapter with the given id.
func (a *App) Adapter(id string) (source.Adapter, bool) {
	for _, ad := range a.Adapters {
		if ad.ID() == id {
			return ad, true
		}
	}
	return nil, false
}

// SyncReleases fetches every release source and merges the results into
// the timeline. A failing source is recorded and skipped.
func (a *App) SyncReleases(ctx context.Context, now time.Time) *timeline.SyncResult {
	total := &timeline.SyncResult{}
	for _, ra := range a.ReleaseAdapters {
		infos, err := ra.FetchReleases(ctx)
		if err != nil {
			a.Logger.Warn("Release source failed", "source", ra.ID(), "error", err)
			total.Errors = append(total.Errors, fmt.Sprintf("%s: %v", ra.ID(), err))
			continue
		}
		res := a.Tracker.Sync(ctx, infos, now)
		a.Logger.Info("Release source synced", "source", ra.ID(), "summary", res.Summary())
		total.Created += res.Created
		total.Updated += res.Updated
		total.Unchanged += res.Unchanged
		total.Errors = append(total.Errors, res.Errors...)
	}
	return total
}

// SendDigest builds a digest over the configured horizon and queues it for
// delivery.
func (a *App) SendDigest(ctx context.Context, now time.Time) (*digest.Payload, error) {
	p, err := a.Digest.Build(ctx, now, a.Config.DigestHorizonDays)
	if err != nil {
		return nil, fmt.Errorf("build digest: %w", err)
	}
	if err := a.Dispatcher.EnqueueDigest(ctx, p); err != nil {
		return nil, fmt.Errorf("enqueue digest: %w", err)
	}
	a.Logger.Info("Digest queued", "id", p.ID, "releases", len(p.Releases), "horizon_days", p.HorizonDays)
	return p, nil
}

// Close releases every backend connection in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
