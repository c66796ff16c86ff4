// Command cutoffctl runs the cutoff pipeline operations from the shell:
// batch ingestion, review, rollup rebuilds and catalog maintenance.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/config"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/logging"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/pipeline"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	// Global flags
	configPath string
	actorID    string
	actorRole  string
	logLevel   string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "cutoffctl",
	Short: "Operate the admission cutoff pipeline",
	Long: `cutoffctl ingests raw admission cutoff rows, drives the review queue
that reconciles raw college and course names against the canonical
catalog, and rebuilds the warehouse rollups.

Storage is selected by config.yaml (or STORAGE_MODE): "local" keeps
everything in a data directory, "network" uses Postgres and Redis.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		level := cfg.LogLevel
		if logLevel != "" {
			level = logLevel
		}
		logger, err = logging.NewLogger(cfg.Env, level)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config.yaml")
	rootCmd.PersistentFlags().StringVar(&actorID, "actor", "cli", "actor id recorded in the audit log")
	rootCmd.PersistentFlags().StringVar(&actorRole, "role", string(models.RoleAdmin), "role of the actor (admin, reviewer, viewer)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	rootCmd.Version = Version

	rootCmd.AddCommand(migrateCmd, classifyCmd, ingestCmd, rebuildCmd, reindexCmd, stagingCmd, catalogCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFrom(configPath, Version)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// caller builds the identity every mutating command acts as.
func caller() (models.Caller, error) {
	role := models.Role(actorRole)
	if !role.IsValid() {
		return models.Caller{}, fmt.Errorf("unknown role %q", actorRole)
	}
	return models.Caller{UID: actorID, Role: role}, nil
}

// app is one booted pipeline.
type app struct {
	pc  *pipeline.Context
	svc *services.Services
}

func (a *app) Close() {
	if err := a.pc.Close(); err != nil {
		logger.Error("Failed to close storage", zap.Error(err))
	}
}

// boot opens storage and wires the services. The in-process vector index of
// local mode starts empty, so it is loaded from the catalog first.
func boot(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	pc, err := pipeline.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	svc, err := services.New(pc, cfg)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	if cfg.Storage.Mode == config.StorageModeLocal {
		if _, err := svc.Catalog.Reindex(ctx); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("failed to index catalog: %w", err)
		}
	}
	return &app{pc: pc, svc: svc}, nil
}

// commandContext is cancelled on SIGINT or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
