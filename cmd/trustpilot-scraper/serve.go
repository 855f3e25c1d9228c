package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltedev/trustpilot-scraper/internal/api"
	"github.com/maltedev/trustpilot-scraper/internal/database"
	"github.com/maltedev/trustpilot-scraper/internal/events"
	"github.com/maltedev/trustpilot-scraper/internal/jobs"
	"github.com/maltedev/trustpilot-scraper/internal/metrics"
	"github.com/maltedev/trustpilot-scraper/internal/scraper"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, run worker and schedule",
		Long: `Serve exposes the run API and /metrics, executes queued runs in the
background and, when SCHEDULE_CRON is set, enqueues a run per
SCHEDULE_COUNTRIES entry on every tick.

With DB_ENABLED=true every record is upserted into PostgreSQL together with
a COMPANY_EXTRACTED outbox event, and the relay forwards those events to
the Redis stream.`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	var (
		publisher *events.Publisher
		db        *database.DB
		outbox    *database.OutboxRepository
	)
	if cfg.Database.Enabled {
		db, err = openDatabase(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		publisher = events.NewPublisher(db, logger)
		outbox = database.NewOutboxRepository(db)

		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}

		relay := database.NewRelay(outbox, redisClient, logger, database.RelayConfig{
			PollInterval: cfg.Redis.PollInterval,
			BatchSize:    cfg.Redis.BatchSize,
		})
		go func() {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay stopped with error", "error", err)
			}
		}()
	}

	svc := scraper.NewService(cfg, m, publisher, logger)
	manager := jobs.NewManager(svc, m, logger)
	go manager.StartWorker(ctx)

	if cfg.Schedule.Cron != "" {
		if err := manager.Schedule(cfg.Schedule.Cron, cfg.Schedule.Countries); err != nil {
			return err
		}
		defer manager.Stop()
	}

	handlers := api.NewHandlers(manager, logger)
	if db != nil {
		handlers.WithDatabase(db, outbox)
	}

	server := &http.Server{
		Addr: net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler: api.NewRouter(handlers, api.RouterOptions{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Gatherer:       reg,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
