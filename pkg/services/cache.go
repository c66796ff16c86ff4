package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/pipeline"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

// MetricCacheInvalidateFailed counts detail cache entries that could not be
// dropped after a committed write. They expire with the cache TTL.
const MetricCacheInvalidateFailed = "cache_invalidate_failed_total"

// detailCache stores read projections in the blob store. Cache failures never
// fail the caller: reads fall back to recomputation and failed invalidations
// are logged and counted.
type detailCache struct {
	blobs   storage.BlobStore
	metrics storage.MetricsSink
	ttl     time.Duration
	logger  *zap.Logger
}

func newDetailCache(pc *pipeline.Context, ttl time.Duration) *detailCache {
	if ttl <= 0 {
		ttl = storage.DefaultBlobTTL
	}
	return &detailCache{blobs: pc.Blobs, metrics: pc.Metrics, ttl: ttl, logger: pc.Logger.Named("cache")}
}

func (c *detailCache) get(ctx context.Context, key string, out any) bool {
	data, err := c.blobs.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			c.logger.Warn("Cache read failed, recomputing", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Warn("Discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *detailCache) put(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("Failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.blobs.Put(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// invalidate deletes key after the write it depends on has committed. A
// missing key is not an error.
func (c *detailCache) invalidate(ctx context.Context, key string) {
	err := c.blobs.Delete(ctx, key)
	if err == nil || errors.Is(err, apperrors.ErrNotFound) {
		return
	}
	resource, _, _ := strings.Cut(key, ":")
	c.metrics.Emit(ctx, MetricCacheInvalidateFailed, 1, map[string]string{"resource": resource})
	c.logger.Warn("Cache invalidation failed, entry expires with its TTL",
		zap.String("key", key),
		zap.Duration("ttl", c.ttl),
		zap.Error(err))
}
