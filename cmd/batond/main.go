// Command batond runs a baton node: the worker pool, the stale-job
// reaper, the optional cron scheduler, and the HTTP API, all against one
// shared job store.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"golang.org/x/sync/errgroup"

	"github.com/batonq/baton"
	"github.com/batonq/baton/api"
	"github.com/batonq/baton/backoff"
	"github.com/batonq/baton/cron"
	"github.com/batonq/baton/dlq"
	"github.com/batonq/baton/job"
	"github.com/batonq/baton/metrics"
	"github.com/batonq/baton/middleware"
	bunstore "github.com/batonq/baton/store/bun"
	"github.com/batonq/baton/store/memory"
	"github.com/batonq/baton/store/postgres"
	"github.com/batonq/baton/worker"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("batond exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg := baton.DefaultConfig()
	if configPath != "" {
		loaded, err := baton.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("close store", slog.String("error", closeErr.Error()))
		}
	}()

	// ──────────────────────────────────────────────────
	// Wire the queue components
	// ──────────────────────────────────────────────────

	registry := job.NewRegistry()
	job.RegisterBuiltins(registry)

	agg := metrics.New()
	bo := buildBackoff(cfg.Backoff)

	executor := worker.NewExecutor(registry, store, agg, bo, logger,
		middleware.Recover(logger),
		middleware.Logging(logger),
		middleware.Metrics(),
		middleware.Tracing(),
	)

	pool := worker.NewPool(store, executor, logger,
		worker.WithWorkerCount(cfg.Workers.Count),
		worker.WithPollInterval(cfg.Workers.PollInterval.Std()),
	)

	reaper := worker.NewReaper(store, bo,
		cfg.Recovery.Interval.Std(),
		cfg.Recovery.RunTimeout.Std(),
		logger,
	)

	jobService := job.NewService(store, logger)
	dlqService := dlq.NewService(store, logger)

	var scheduler *cron.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler, err = cron.NewScheduler(jobService, cfg.Cron, logger)
		if err != nil {
			return err
		}
	}

	server := api.NewServer(jobService, dlqService, store, agg, &cfg.RateLimit, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ──────────────────────────────────────────────────
	// Start
	// ──────────────────────────────────────────────────

	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	if err := reaper.Start(ctx); err != nil {
		return fmt.Errorf("start reaper: %w", err)
	}
	if scheduler != nil {
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start cron scheduler: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.HTTP.Addr))
		if serveErr := httpServer.ListenAndServe(); !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(cfg, logger, httpServer, pool, reaper, scheduler)
	})

	logger.Info("batond running",
		slog.Int("workers", cfg.Workers.Count),
		slog.String("driver", cfg.Database.Driver),
	)
	return g.Wait()
}

// shutdown drains in order: stop claiming, stop accepting HTTP, wait for
// in-flight jobs up to the deadline, then halt the background loops.
// Jobs still running past the deadline stay RUNNING and are returned to
// the queue by the next stale-recovery sweep.
func shutdown(
	cfg baton.Config,
	logger *slog.Logger,
	httpServer *http.Server,
	pool *worker.Pool,
	reaper *worker.Reaper,
	scheduler *cron.Scheduler,
) error {
	logger.Info("shutting down")

	pool.Drain()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Workers.ShutdownTimeout.Std())
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.String("error", err.Error()))
	}
	if err := pool.Stop(shutdownCtx); err != nil {
		logger.Warn("workers still busy at deadline, leaving jobs to recovery",
			slog.String("error", err.Error()),
		)
	}
	if err := reaper.Stop(shutdownCtx); err != nil {
		logger.Error("reaper stop", slog.String("error", err.Error()))
	}
	if scheduler != nil {
		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.Error("cron stop", slog.String("error", err.Error()))
		}
	}

	logger.Info("goodbye")
	return nil
}

// openStore builds the job store selected by cfg.Driver and runs its
// migrations.
func openStore(ctx context.Context, cfg baton.DatabaseConfig, logger *slog.Logger) (job.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil

	case "postgres":
		store, err := postgres.New(ctx, cfg.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil

	case "bun":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
		db := bun.NewDB(sqldb, pgdialect.New())
		store := bunstore.New(db, bunstore.WithLogger(logger))
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("baton: unknown database driver %q", cfg.Driver)
	}
}

// buildBackoff maps config onto a retry delay strategy.
func buildBackoff(cfg baton.BackoffConfig) backoff.Strategy {
	if cfg.Jitter {
		return backoff.NewExponentialWithJitter(cfg.Initial.Std(), cfg.Max.Std())
	}
	return backoff.NewExponential(cfg.Initial.Std(), cfg.Max.Std())
}
