// Package storage declares the capability interfaces the pipeline depends on:
// a tabular store, a blob cache, a vector similarity index, a metrics sink and
// a per-key lock. Each has a networked implementation (pkg/storage/network)
// and a local emulation (pkg/storage/local) with the same observable contract.
package storage

import (
	"context"
	"time"
)

// TableStore stores typed rows in named tables.
//
// Upsert is idempotent on the primary key. Batch applies all operations or
// none. Query without an explicit order returns rows in ascending key order.
type TableStore interface {
	// EnsureTables creates missing tables and indexes.
	EnsureTables(ctx context.Context, tables ...*Table) error

	Insert(ctx context.Context, t *Table, row Row) error
	Upsert(ctx context.Context, t *Table, row Row) error

	// Get returns the row with the given primary key or an apperrors not_found error.
	Get(ctx context.Context, t *Table, key ...any) (Row, error)

	Query(ctx context.Context, t *Table, q Query) ([]Row, error)
	Count(ctx context.Context, t *Table, where Filter) (int, error)

	// Aggregate groups matching rows by groupBy and applies reducers. Each
	// result row holds the group columns plus one entry per reducer alias,
	// ordered by the group columns ascending.
	Aggregate(ctx context.Context, t *Table, where Filter, groupBy []string, reducers []Reducer) ([]Row, error)

	Batch(ctx context.Context, ops []BatchOp) error

	Close() error
}

// BlobStore is a namespaced byte cache with optional expiry.
// Put is last-write-wins; Get after expiry returns not_found.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// List returns live keys with the prefix in ascending order.
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// VectorIndex ranks documents by similarity to a query.
// Hits are ordered by descending score, ties broken by ascending id.
type VectorIndex interface {
	Upsert(ctx context.Context, id string, doc Document) error
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, q VectorQuery) ([]Hit, error)
	Close() error
}

// MetricsSink records point-in-time counters.
type MetricsSink interface {
	Emit(ctx context.Context, name string, value float64, tags map[string]string)
	// Snapshot returns accumulated values keyed by series (name plus sorted tags).
	Snapshot(ctx context.Context) (map[string]float64, error)
	Close() error
}

// Locker serializes work on a key across goroutines (and, for the networked
// implementation, across processes).
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
