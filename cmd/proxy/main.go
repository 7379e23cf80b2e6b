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

	"github.com/subfold/subfold/internal/config"
	"github.com/subfold/subfold/internal/logger"
	"github.com/subfold/subfold/internal/proxy"
	"github.com/subfold/subfold/internal/registry"
)

func main() {
	cfg := config.LoadProxyConfig()
	log := logger.New("proxy", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		resolver proxy.Resolver
		store    registry.Store
	)
	switch cfg.Mode {
	case proxy.ModeStatic:
		staticResolver, err := proxy.NewStaticResolver(cfg.StaticBaseURL)
		if err != nil {
			log.Error("invalid static base url", "error", err)
			os.Exit(1)
		}
		resolver = staticResolver
	case proxy.ModeDynamic:
		redisStore, err := registry.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RoutePrefix, cfg.RegistryTimeout)
		if err != nil {
			log.Error("failed to connect to route registry", "error", err)
			os.Exit(1)
		}
		store = redisStore
		resolver = proxy.NewRegistryResolver(store)
	default:
		log.Error("unknown proxy mode", "mode", cfg.Mode)
		os.Exit(1)
	}

	server, err := proxy.NewServer(proxy.Options{
		Resolver:        resolver,
		Mode:            cfg.Mode,
		Registry:        store,
		WorkerToken:     cfg.WorkerToken,
		Logger:          log,
		DialTimeout:     cfg.DialTimeout,
		ResponseTimeout: cfg.ResponseTimeout,
	})
	if err != nil {
		log.Error("failed to assemble proxy", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("proxy starting", "addr", cfg.Addr, "mode", cfg.Mode)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("proxy stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
