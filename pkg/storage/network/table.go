// Package network implements the storage capabilities against real services:
// Postgres (pgx) for tables and vectors, Redis for blobs, metrics and locks,
// and an OpenAI-compatible endpoint for embeddings.
package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/retry"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage/sqlgen"
)

// Default per-call deadlines.
const (
	DefaultReadTimeout  = 10 * time.Second
	DefaultWriteTimeout = 30 * time.Second
)

// pgUniqueViolation is the SQLSTATE for duplicate keys.
const pgUniqueViolation = "23505"

// Timeouts bounds storage calls. Reads are retried with ReadTimeout per
// attempt; writes get a single attempt bounded by WriteTimeout.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Read <= 0 {
		t.Read = DefaultReadTimeout
	}
	if t.Write <= 0 {
		t.Write = DefaultWriteTimeout
	}
	return t
}

// TableStore is a storage.TableStore backed by a pgx pool.
type TableStore struct {
	pool     *pgxpool.Pool
	retry    *retry.Config
	timeouts Timeouts
	logger   *zap.Logger
}

var _ storage.TableStore = (*TableStore)(nil)

// NewTableStore wraps pool. The pool is owned by the caller.
func NewTableStore(pool *pgxpool.Pool, timeouts Timeouts, logger *zap.Logger) *TableStore {
	timeouts = timeouts.withDefaults()
	cfg := retry.DefaultConfig()
	cfg.AttemptTimeout = timeouts.Read
	return &TableStore{
		pool:     pool,
		retry:    cfg,
		timeouts: timeouts,
		logger:   logger.Named("postgres"),
	}
}

func (s *TableStore) EnsureTables(ctx context.Context, tables ...*storage.Table) error {
	for _, t := range tables {
		for _, stmt := range sqlgen.CreateTable(sqlgen.Postgres, t) {
			if err := s.write(ctx, t, func(ctx context.Context) error {
				_, err := s.pool.Exec(ctx, stmt)
				return err
			}); err != nil {
				return fmt.Errorf("create table %s: %w", t.Name, err)
			}
		}
	}
	return nil
}

func (s *TableStore) Insert(ctx context.Context, t *storage.Table, row storage.Row) error {
	st, err := sqlgen.Insert(sqlgen.Postgres, t, row)
	if err != nil {
		return err
	}
	return s.exec(ctx, t, st)
}

func (s *TableStore) Upsert(ctx context.Context, t *storage.Table, row storage.Row) error {
	st, err := sqlgen.Upsert(sqlgen.Postgres, t, row)
	if err != nil {
		return err
	}
	return s.exec(ctx, t, st)
}

func (s *TableStore) exec(ctx context.Context, t *storage.Table, st sqlgen.Statement) error {
	return s.write(ctx, t, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, st.SQL, st.Args...)
		return err
	})
}

// write runs fn once under the write deadline. Writes are never retried.
func (s *TableStore) write(ctx context.Context, t *storage.Table, fn func(ctx context.Context) error) error {
	wctx, cancel := context.WithTimeout(ctx, s.timeouts.Write)
	defer cancel()
	if err := fn(wctx); err != nil {
		return classify(ctx, t, "write", err)
	}
	return nil
}

func (s *TableStore) Get(ctx context.Context, t *storage.Table, key ...any) (storage.Row, error) {
	st, err := sqlgen.GetByKey(sqlgen.Postgres, t, key)
	if err != nil {
		return nil, err
	}
	rows, err := s.read(ctx, t, st, sqlgen.TableColumns(t))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.NotFoundf("%s %v not found", t.Name, key)
	}
	return rows[0], nil
}

func (s *TableStore) Query(ctx context.Context, t *storage.Table, q storage.Query) ([]storage.Row, error) {
	st, err := sqlgen.Select(sqlgen.Postgres, t, q)
	if err != nil {
		return nil, err
	}
	return s.read(ctx, t, st, sqlgen.TableColumns(t))
}

func (s *TableStore) Count(ctx context.Context, t *storage.Table, where storage.Filter) (int, error) {
	st, err := sqlgen.Count(sqlgen.Postgres, t, where)
	if err != nil {
		return 0, err
	}
	n, err := retry.DoWithResult(ctx, s.retry, func(ctx context.Context) (int64, error) {
		var n int64
		err := s.pool.QueryRow(ctx, st.SQL, st.Args...).Scan(&n)
		return n, err
	})
	if err != nil {
		return 0, classify(ctx, t, "count", err)
	}
	return int(n), nil
}

func (s *TableStore) Aggregate(ctx context.Context, t *storage.Table, where storage.Filter, groupBy []string, reducers []storage.Reducer) ([]storage.Row, error) {
	st, cols, err := sqlgen.Aggregate(sqlgen.Postgres, t, where, groupBy, reducers)
	if err != nil {
		return nil, err
	}
	return s.read(ctx, t, st, cols)
}

// read runs an idempotent query with retry.
func (s *TableStore) read(ctx context.Context, t *storage.Table, st sqlgen.Statement, cols []sqlgen.ResultColumn) ([]storage.Row, error) {
	out, err := retry.DoWithResult(ctx, s.retry, func(ctx context.Context) ([]storage.Row, error) {
		rows, err := s.pool.Query(ctx, st.SQL, st.Args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []storage.Row
		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return nil, err
			}
			row, err := sqlgen.Decode(cols, values)
			if err != nil {
				return nil, apperrors.Internal("decode "+t.Name, err)
			}
			out = append(out, row)
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, classify(ctx, t, "read", err)
	}
	return out, nil
}

func (s *TableStore) Batch(ctx context.Context, ops []storage.BatchOp) error {
	if len(ops) == 0 {
		return nil
	}
	stmts := make([]sqlgen.Statement, len(ops))
	for i, op := range ops {
		st, err := sqlgen.Render(sqlgen.Postgres, op)
		if err != nil {
			return err
		}
		stmts[i] = st
	}

	return s.write(ctx, ops[0].Table, func(ctx context.Context) error {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin batch: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		for i, st := range stmts {
			if _, err := tx.Exec(ctx, st.SQL, st.Args...); err != nil {
				return fmt.Errorf("batch op %d on %s: %w", i, ops[i].Table.Name, err)
			}
		}
		return tx.Commit(ctx)
	})
}

// Close is a no-op; the pool belongs to the caller.
func (s *TableStore) Close() error { return nil }

// classify maps a driver error onto the application taxonomy.
func classify(ctx context.Context, t *storage.Table, op string, err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return apperrors.InvalidStatef("%s: duplicate key", t.Name)
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return err
	}
	if retry.IsRetryable(err) {
		return apperrors.Transient(fmt.Sprintf("postgres %s %s", op, t.Name), err)
	}
	return apperrors.Internal(fmt.Sprintf("postgres %s %s", op, t.Name), err)
}
