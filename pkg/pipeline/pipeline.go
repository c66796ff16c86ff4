// Package pipeline assembles the storage backends every service depends on.
// A Context is built once per process, passed to service constructors and
// closed on shutdown; there is no package-level state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/audit"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/config"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/database"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/logging"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/repositories"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage/local"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage/network"
)

const (
	localTableFile = "cutoffs.db"
	localBlobDir   = "blobs"
)

// Context carries the shared backends.
type Context struct {
	Tables  storage.TableStore
	Blobs   storage.BlobStore
	Vectors storage.VectorIndex
	Metrics storage.MetricsSink
	Audit   *audit.Sink
	Locker  storage.Locker
	Clock   storage.Clock
	Logger  *zap.Logger

	closers []func() error
}

// Open builds a Context for cfg.Storage.Mode and ensures the schema exists.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Context, error) {
	var (
		pc  *Context
		err error
	)
	switch cfg.Storage.Mode {
	case config.StorageModeNetwork:
		pc, err = openNetwork(ctx, cfg, logger)
	case config.StorageModeLocal:
		pc, err = openLocal(cfg.Local.DataDir, storage.SystemClock{}, logger)
	default:
		return nil, fmt.Errorf("unknown storage mode %q", cfg.Storage.Mode)
	}
	if err != nil {
		return nil, err
	}

	if err := pc.Tables.EnsureTables(ctx, repositories.AllTables()...); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("ensure tables: %w", err)
	}
	return pc, nil
}

// NewLocal builds an in-memory Context with the given clock. Used by tests
// and one-shot CLI runs.
func NewLocal(ctx context.Context, clock storage.Clock, logger *zap.Logger) (*Context, error) {
	pc, err := openLocal("", clock, logger)
	if err != nil {
		return nil, err
	}
	if err := pc.Tables.EnsureTables(ctx, repositories.AllTables()...); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("ensure tables: %w", err)
	}
	return pc, nil
}

func openLocal(dataDir string, clock storage.Clock, logger *zap.Logger) (*Context, error) {
	pc := &Context{Clock: clock, Logger: logger, Locker: storage.NewKeyedMutex(), Metrics: local.NewMetrics()}

	tablePath, blobDir := "", ""
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		tablePath = filepath.Join(dataDir, localTableFile)
		blobDir = filepath.Join(dataDir, localBlobDir)
	}

	tables, err := local.OpenTableStore(tablePath, logger)
	if err != nil {
		return nil, err
	}
	pc.Tables = tables
	pc.closers = append(pc.closers, tables.Close)

	blobs, err := local.OpenBlobStore(blobDir, clock, logger)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	pc.Blobs = blobs
	pc.closers = append(pc.closers, blobs.Close)

	vectors, err := local.NewVectorIndex(logger)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	pc.Vectors = vectors
	pc.closers = append(pc.closers, vectors.Close, pc.Metrics.Close)

	pc.Audit = audit.NewSink(pc.Tables, clock, logger)

	logger.Info("Opened local storage", zap.String("data_dir", dataDir))
	return pc, nil
}

func openNetwork(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Context, error) {
	clock := storage.SystemClock{}
	pc := &Context{Clock: clock, Logger: logger}

	dbURL := cfg.Database.URL()
	logger.Info("Connecting to database", zap.String("url", logging.SanitizeConnectionString(dbURL)))
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            dbURL,
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return nil, err
	}
	pc.closers = append(pc.closers, func() error { db.Close(); return nil })

	sqlDB := db.SQLDB()
	err = database.RunMigrations(sqlDB, logger)
	if closeErr := sqlDB.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	rdb, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	pc.closers = append(pc.closers, rdb.Close)

	timeouts := network.Timeouts{Read: cfg.Timeouts.Read, Write: cfg.Timeouts.Write}
	ns := cfg.Redis.Namespace

	pc.Tables = network.NewTableStore(db.Pool, timeouts, logger)
	pc.Blobs = network.NewBlobStore(rdb, ns, clock, timeouts, logger)
	pc.Metrics = network.NewMetrics(rdb, ns, logger)
	pc.Locker = network.NewLocker(rdb, ns, logger)

	embedder, err := newEmbedder(cfg.Embedding, logger)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	vectors, err := network.NewVectorIndex(ctx, pc.Tables, embedder, "", logger)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	pc.Vectors = vectors
	pc.Audit = audit.NewSink(pc.Tables, clock, logger)

	logger.Info("Opened network storage",
		zap.String("redis", cfg.Redis.Addr()),
		zap.String("namespace", ns))
	return pc, nil
}

func newEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) (network.Embedder, error) {
	if cfg.BaseURL == "" {
		logger.Warn("No embedding endpoint configured, using hashed n-gram vectors")
		return network.HashEmbedder{Dimensions: cfg.Dimensions}, nil
	}
	logger.Info("Using embedding endpoint",
		zap.String("base_url", cfg.BaseURL),
		zap.String("model", cfg.Model),
		zap.String("api_key", logging.SanitizeAPIKey(cfg.APIKey)))
	return network.NewOpenAIEmbedder(network.EmbedderConfig{
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		APIKey:     cfg.APIKey,
		Dimensions: cfg.Dimensions,
	}, logger)
}

// Close disposes every backend in reverse order of creation.
func (c *Context) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Ping checks that the table store answers. Used by health checks.
func (c *Context) Ping(ctx context.Context) error {
	_, err := c.Tables.Count(ctx, repositories.StagingTable, nil)
	return err
}
