package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"github.com/subfold/subfold/internal/config"
	"github.com/subfold/subfold/internal/logger"
	"github.com/subfold/subfold/internal/telemetry"
)

func main() {
	cfg := config.LoadAgentConfig()
	log := logger.New("agent", slog.LevelInfo)

	if cfg.ProjectID == "" {
		log.Error("PROJECT_ID is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport, err := telemetry.NewRedisTransport(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Error("failed to connect to telemetry transport", "error", err)
		os.Exit(1)
	}

	publisher, err := telemetry.NewPublisher(telemetry.PublisherOptions{
		ProjectID:     cfg.ProjectID,
		ChannelPrefix: cfg.ChannelPrefix,
		Interval:      cfg.SampleInterval,
		LogPath:       cfg.LogPath,
		LogTailLines:  cfg.LogTailLines,
		Transport:     transport,
		Logger:        log,
	})
	if err != nil {
		log.Error("failed to configure telemetry publisher", "error", err)
		os.Exit(1)
	}

	log.Info("telemetry agent starting", "project_id", cfg.ProjectID, "interval", cfg.SampleInterval.String())
	publisher.Run(ctx)
	log.Info("telemetry agent stopped")
}
