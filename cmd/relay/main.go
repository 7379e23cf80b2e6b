package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"

	"github.com/subfold/subfold/internal/archive/migrate"
	archivepg "github.com/subfold/subfold/internal/archive/postgres"
	"github.com/subfold/subfold/internal/backend"
	"github.com/subfold/subfold/internal/config"
	"github.com/subfold/subfold/internal/logger"
	"github.com/subfold/subfold/internal/monitor"
	"github.com/subfold/subfold/internal/registry"
	"github.com/subfold/subfold/internal/relay"
	"github.com/subfold/subfold/internal/telemetry"
)

func main() {
	cfg := config.LoadRelayConfig()
	log := logger.New("relay", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := archivepg.New(pool)

	store, err := registry.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RoutePrefix, 0)
	if err != nil {
		log.Error("failed to connect to route registry", "error", err)
		os.Exit(1)
	}

	docker, err := backend.NewClient(cfg.DockerHost, cfg.ContainerPrefix, cfg.RestartTimeout)
	if err != nil {
		log.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	defer docker.Close()
	if err := docker.Ping(ctx); err != nil {
		log.Warn("docker daemon unreachable at startup", "error", err)
	}

	buffers := telemetry.NewBufferStore(cfg.BufferCap)
	hub := relay.NewHub()
	defer hub.Close()

	subscriberClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer subscriberClient.Close()

	subscriber := relay.NewSubscriber(relay.SubscriberOptions{
		Client:     subscriberClient,
		Pattern:    cfg.ChannelPattern,
		Hub:        hub,
		Buffers:    buffers,
		Logger:     log,
		MaxRetries: cfg.SubscribeRetries,
		Backoff:    cfg.SubscribeBackoff,
		BackoffMax: cfg.SubscribeBackoffMax,
	})
	go subscriber.Run(ctx)

	if cfg.AlertWebhookURL == "" {
		log.Error("ALERT_WEBHOOK_URL is required")
		os.Exit(1)
	}
	alerter, err := monitor.NewWebhookAlerter(cfg.AlertWebhookURL, cfg.PublicBaseURL, cfg.AlertToken, nil)
	if err != nil {
		log.Error("failed to configure alerter", "error", err)
		os.Exit(1)
	}

	healthMonitor, err := monitor.New(monitor.Options{
		Buffers:      buffers,
		Prober:       docker,
		Alerter:      alerter,
		Flushes:      repo,
		Logger:       log,
		Interval:     cfg.MonitorInterval,
		ProbeTimeout: cfg.ProbeTimeout,
	})
	if err != nil {
		log.Error("failed to configure health monitor", "error", err)
		os.Exit(1)
	}
	go func() {
		_ = healthMonitor.Run(ctx)
	}()

	router := relay.NewRouter(relay.RouterOptions{
		Logger:    log,
		Hub:       hub,
		Upstream:  subscriber,
		Restarter: docker,
		Registry:  store,
		Decisions: repo,
		Flushes:   repo,
		DBHealth:  pool.Ping,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("relay starting", "addr", cfg.Addr, "pattern", cfg.ChannelPattern)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("relay stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
