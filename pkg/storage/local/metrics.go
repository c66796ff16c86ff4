package local

import (
	"context"
	"sync"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

// Metrics is an in-memory storage.MetricsSink. Emit adds value to the series.
type Metrics struct {
	mu     sync.Mutex
	series map[string]float64
}

var _ storage.MetricsSink = (*Metrics)(nil)

func NewMetrics() *Metrics {
	return &Metrics{series: make(map[string]float64)}
}

func (m *Metrics) Emit(_ context.Context, name string, value float64, tags map[string]string) {
	key := storage.SeriesKey(name, tags)
	m.mu.Lock()
	m.series[key] += value
	m.mu.Unlock()
}

func (m *Metrics) Snapshot(context.Context) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.series))
	for k, v := range m.series {
		out[k] = v
	}
	return out, nil
}

func (m *Metrics) Close() error { return nil }
