// Package main implements the entry point for the recruiting task server,
// which runs the durable background task queues (resume parsing, candidate
// matching, text generation) and their HTTP API.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sjtutim/hrdb-sub001/internal/config"
	"github.com/sjtutim/hrdb-sub001/internal/platform/logger"
	"github.com/sjtutim/hrdb-sub001/internal/platform/postgres"
	"github.com/sjtutim/hrdb-sub001/internal/task"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "server",
		Short:         "Recruiting background task server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(newServeCmd(), newMigrateCmd(), newCleanupCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server and the task poll schedulers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|reset|status|version]",
		Short:     "Run database migrations",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down", "reset", "status", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeApp()
			if err != nil {
				return err
			}

			db, err := setupAppDatabase(cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := db.Close(); err != nil {
					log.Error("Error closing database connection", "error", err)
				}
			}()

			return runMigrations(db, log, args[0])
		},
	}
}

func newCleanupCmd() *cobra.Command {
	var olderThanMinutes int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Recover tasks stuck in the running state across all queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeApp()
			if err != nil {
				return err
			}

			db, err := setupAppDatabase(cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := db.Close(); err != nil {
					log.Error("Error closing database connection", "error", err)
				}
			}()

			olderThan := time.Duration(olderThanMinutes) * time.Minute
			if olderThanMinutes <= 0 {
				olderThan = time.Duration(cfg.Tasks.CleanupStuckAfterMinutes) * time.Minute
			}

			res, err := runCleanup(cmd.Context(), cfg, log, db, olderThan)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to render cleanup result: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().IntVar(&olderThanMinutes, "older-than-minutes", 0,
		"staleness threshold in minutes (defaults to tasks.cleanup_stuck_after_minutes)")
	return cmd
}

// runServe wires the full application and blocks until shutdown.
func runServe(ctx context.Context) error {
	cfg, log, err := initializeApp()
	if err != nil {
		return err
	}

	db, err := setupAppDatabase(cfg, log)
	if err != nil {
		return err
	}

	app, err := newApplication(ctx, cfg, log, db)
	if err != nil {
		// The application owns the connection only once construction
		// succeeds.
		if closeErr := db.Close(); closeErr != nil {
			log.Error("Error closing database connection", "error", closeErr)
		}
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return app.Run(ctx)
}

// runCleanup builds a supervisor over the durable ledgers, without starting
// any schedulers, and performs a single recovery sweep.
func runCleanup(ctx context.Context, cfg *config.Config, log *slog.Logger, db *sql.DB, olderThan time.Duration) (*task.CleanupResult, error) {
	noop := task.ExecutorFunc(func(ctx context.Context, rec *task.Record) (json.RawMessage, error) {
		return nil, fmt.Errorf("task execution is disabled in cleanup mode")
	})

	schedulers := make(map[task.Kind]*task.Scheduler, len(task.Kinds()))
	for _, kind := range task.Kinds() {
		ledger, err := postgres.NewTaskStore(db, kind)
		if err != nil {
			return nil, fmt.Errorf("failed to create task store: %w", err)
		}
		schedulers[kind] = task.NewScheduler(ledger, noop, schedulerConfig(cfg.Tasks, kind), log, nil)
	}

	return task.NewSupervisor(schedulers, log).Cleanup(ctx, olderThan)
}

// initializeApp loads configuration and sets up the process logger.
func initializeApp() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.Setup(cfg.Server)
	log.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"poll_interval_seconds", cfg.Tasks.PollIntervalSeconds,
		"daily_run_at", cfg.Tasks.DailyRunAt,
		"timezone", cfg.Tasks.Timezone)

	return cfg, log, nil
}
