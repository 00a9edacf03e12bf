// Command ingest is the stockwatch operations CLI.
//
// Usage:
//
//	stockwatch-ingest migrate
//	stockwatch-ingest poll --source lgs --workers 4
//	stockwatch-ingest releases sync
//	stockwatch-ingest releases upcoming --days 30
//	stockwatch-ingest timeline check
//	stockwatch-ingest digest send
//	stockwatch-ingest rules add --owner alice --tag mh3 --price-cap 250
//	stockwatch-ingest rules list --owner alice
//	stockwatch-ingest rules remove <rule-id>
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/albapepper/stockwatch/internal/app"
	"github.com/albapepper/stockwatch/internal/config"
	"github.com/albapepper/stockwatch/internal/db"
	"github.com/albapepper/stockwatch/internal/rules"
	"github.com/albapepper/stockwatch/internal/source"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "stockwatch-ingest",
		Short: "stockwatch operations CLI",
	}

	root.AddCommand(migrateCmd())
	root.AddCommand(pollCmd())
	root.AddCommand(releasesCmd())
	root.AddCommand(timelineCmd())
	root.AddCommand(digestCmd())
	root.AddCommand(rulesCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// migrate command
// --------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.StorageBackend != "postgres" {
				return fmt.Errorf("migrate requires STORAGE_BACKEND=postgres, got %q", cfg.StorageBackend)
			}
			if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
				return err
			}
			logger.Info("Schema applied")
			return nil
		},
	}
}

// --------------------------------------------------------------------------
// poll command
// --------------------------------------------------------------------------

func pollCmd() *cobra.Command {
	var (
		sourceID string
		workers  int
		dispatch bool
	)
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Poll inventory sources once and evaluate watch rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, a *app.App) error {
				adapters := a.Adapters
				if sourceID != "" {
					ad, ok := a.Adapter(sourceID)
					if !ok {
						return fmt.Errorf("unknown inventory source %q", sourceID)
					}
					adapters = []source.Adapter{ad}
				}

				result := a.Pipeline.PollAll(ctx, adapters, workers, a.Config.PollTimeout, logger)
				logger.Info("Poll finished", "summary", result.Summary())
				for _, e := range result.Errors {
					logger.Error("poll error", "error", e)
				}
				if dispatch {
					return dispatchPending(ctx, a)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sourceID, "source", "", "Poll a single source by id; empty = all")
	cmd.Flags().IntVar(&workers, "workers", 4, "Concurrent worker count")
	cmd.Flags().BoolVar(&dispatch, "dispatch", true, "Deliver queued decisions before exiting")
	return cmd
}

// --------------------------------------------------------------------------
// releases command
// --------------------------------------------------------------------------

func releasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "releases",
		Short: "Release timeline operations",
	}
	cmd.AddCommand(releasesSyncCmd())
	cmd.AddCommand(releasesUpcomingCmd())
	return cmd
}

func releasesSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Fetch release sources and merge their dates into the timeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, a *app.App) error {
				start := time.Now()
				result := a.SyncReleases(ctx, time.Now().UTC())
				logger.Info("Release sync finished",
					"duration", time.Since(start).Round(time.Millisecond),
					"summary", result.Summary())
				for _, e := range result.Errors {
					logger.Error("sync error", "error", e)
				}
				return nil
			})
		},
	}
}

func releasesUpcomingCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "Print upcoming releases as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, a *app.App) error {
				if days == 0 {
					days = a.Config.DigestHorizonDays
				}
				upcoming, err := a.Digest.Upcoming(ctx, time.Now().UTC(), days)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(upcoming)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Horizon in days; 0 = DIGEST_HORIZON_DAYS")
	return cmd
}

// --------------------------------------------------------------------------
// timeline and digest commands
// --------------------------------------------------------------------------

func timelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Release milestone operations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Derive release states and emit due milestones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, a *app.App) error {
				result := a.Tracker.Check(ctx, time.Now().UTC())
				logger.Info("Timeline check finished", "summary", result.Summary())
				for _, e := range result.Errors {
					logger.Error("timeline error", "error", e)
				}
				return dispatchPending(ctx, a)
			})
		},
	})
	return cmd
}

func digestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Upcoming release digest",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "send",
		Short: "Build the digest now and deliver it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, a *app.App) error {
				if _, err := a.SendDigest(ctx, time.Now().UTC()); err != nil {
					return err
				}
				return dispatchPending(ctx, a)
			})
		},
	})
	return cmd
}

// --------------------------------------------------------------------------
// rules command
// --------------------------------------------------------------------------

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage watch rules",
	}
	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesAddCmd())
	cmd.AddCommand(rulesRemoveCmd())
	return cmd
}

func rulesListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print watch rules as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, a *app.App) error {
				list, err := a.Rules.List(ctx, owner)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Filter by owner; empty = all")
	return cmd
}

func rulesAddCmd() *cobra.Command {
	var (
		owner       string
		tags        []string
		identifiers []string
		vendors     []string
		priceCap    string
		action      string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a watch rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			rule := rules.WatchRule{
				Owner:            owner,
				Tags:             tags,
				Identifiers:      identifiers,
				PreferredVendors: vendors,
				Action:           rules.Action(action),
			}
			if priceCap != "" {
				d, err := decimal.NewFromString(priceCap)
				if err != nil {
					return fmt.Errorf("parse --price-cap: %w", err)
				}
				rule.PriceCap = &d
			}
			return runApp(func(ctx context.Context, a *app.App) error {
				created, err := a.Rules.Add(ctx, rule)
				if err != nil {
					return err
				}
				logger.Info("Rule created", "rule", created.ID, "owner", created.Owner, "wildcard", created.Wildcard())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Rule owner (required)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Match events carrying this tag (repeatable)")
	cmd.Flags().StringSliceVar(&identifiers, "identifier", nil, "Match this identity key or SKU (repeatable)")
	cmd.Flags().StringSliceVar(&vendors, "vendor", nil, "Preferred vendor source id (repeatable)")
	cmd.Flags().StringVar(&priceCap, "price-cap", "", "Only match at or below this price")
	cmd.Flags().StringVar(&action, "action", string(rules.ActionNotify), "notify or cart")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func rulesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <rule-id>",
		Short: "Delete a watch rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(ctx context.Context, a *app.App) error {
				err := a.Rules.Remove(ctx, args[0])
				if errors.Is(err, rules.ErrNotFound) {
					return fmt.Errorf("rule %s does not exist", args[0])
				}
				return err
			})
		},
	}
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// dispatchPending delivers whatever the command queued. Envelopes that fail
// stay in the outbox for the server's dispatch worker.
func dispatchPending(ctx context.Context, a *app.App) error {
	res, err := a.Dispatcher.DispatchBatch(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	logger.Info("Dispatch finished", "sent", res.Sent, "retried", res.Retried, "dropped", res.Dropped)
	return nil
}

// runApp handles config loading, backend connections, and context
// cancellation.
func runApp(fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}
