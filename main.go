package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/config"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/handlers"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/logging"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/pipeline"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("storage_mode", cfg.Storage.Mode),
		zap.String("version", cfg.Version))

	pc, err := pipeline.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := pc.Close(); err != nil {
			logger.Error("Failed to close storage", zap.Error(err))
		}
	}()

	svc, err := services.New(pc, cfg)
	if err != nil {
		return fmt.Errorf("create services: %w", err)
	}

	// The local vector index lives in memory, so it is rebuilt on every start.
	n, err := svc.Catalog.Reindex(ctx)
	if err != nil {
		return fmt.Errorf("index catalog: %w", err)
	}
	logger.Info("Catalog indexed", zap.Int("documents", n))

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           handlers.NewRouter(cfg, pc, svc, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-cutoffs", zap.String("addr", server.Addr), zap.String("version", cfg.Version))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
