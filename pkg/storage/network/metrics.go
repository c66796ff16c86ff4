package network

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

// Metrics is a storage.MetricsSink that accumulates series in one Redis hash.
type Metrics struct {
	client  *redis.Client
	hashKey string
	logger  *zap.Logger
}

var _ storage.MetricsSink = (*Metrics)(nil)

// NewMetrics stores series under the hash "{namespace}metrics".
func NewMetrics(client *redis.Client, namespace string, logger *zap.Logger) *Metrics {
	return &Metrics{client: client, hashKey: namespace + "metrics", logger: logger.Named("metrics")}
}

// Emit is best effort: a failed increment is logged, never returned.
func (m *Metrics) Emit(ctx context.Context, name string, value float64, tags map[string]string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	series := storage.SeriesKey(name, tags)
	if err := m.client.HIncrByFloat(ctx, m.hashKey, series, value).Err(); err != nil {
		m.logger.Warn("Failed to emit metric",
			zap.String("series", series),
			zap.Error(err))
	}
}

func (m *Metrics) Snapshot(ctx context.Context) (map[string]float64, error) {
	raw, err := m.client.HGetAll(ctx, m.hashKey).Result()
	if err != nil {
		return nil, classifyRedis("metrics snapshot", err)
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		out[k] = f
	}
	return out, nil
}

func (m *Metrics) Close() error { return nil }
