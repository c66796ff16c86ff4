// Package local implements the storage capabilities in-process: SQLite for
// tables, Badger for blobs, a Bleve-assisted lexical index for vectors and an
// in-memory metrics sink. It backs tests and single-node runs.
package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage/sqlgen"
)

// TableStore is a storage.TableStore backed by SQLite.
type TableStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ storage.TableStore = (*TableStore)(nil)

// OpenTableStore opens a SQLite database at path. An empty path opens a
// private in-memory database.
func OpenTableStore(path string, logger *zap.Logger) (*TableStore, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection: SQLite has a single writer, and an in-memory database
	// lives only as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	if path != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}

	return &TableStore{db: db, logger: logger.Named("sqlite")}, nil
}

func (s *TableStore) EnsureTables(ctx context.Context, tables ...*storage.Table) error {
	for _, t := range tables {
		for _, stmt := range sqlgen.CreateTable(sqlgen.SQLite, t) {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("create table %s: %w", t.Name, err)
			}
		}
		s.logger.Debug("Ensured table", zap.String("table", t.Name))
	}
	return nil
}

func (s *TableStore) Insert(ctx context.Context, t *storage.Table, row storage.Row) error {
	st, err := sqlgen.Insert(sqlgen.SQLite, t, row)
	if err != nil {
		return err
	}
	return s.exec(ctx, t, st)
}

func (s *TableStore) Upsert(ctx context.Context, t *storage.Table, row storage.Row) error {
	st, err := sqlgen.Upsert(sqlgen.SQLite, t, row)
	if err != nil {
		return err
	}
	return s.exec(ctx, t, st)
}

func (s *TableStore) exec(ctx context.Context, t *storage.Table, st sqlgen.Statement) error {
	if _, err := s.db.ExecContext(ctx, st.SQL, st.Args...); err != nil {
		return mapError(t, err)
	}
	return nil
}

func (s *TableStore) Get(ctx context.Context, t *storage.Table, key ...any) (storage.Row, error) {
	st, err := sqlgen.GetByKey(sqlgen.SQLite, t, key)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, st, sqlgen.TableColumns(t))
	if err != nil {
		return nil, mapError(t, err)
	}
	if len(rows) == 0 {
		return nil, apperrors.NotFoundf("%s %v not found", t.Name, key)
	}
	return rows[0], nil
}

func (s *TableStore) Query(ctx context.Context, t *storage.Table, q storage.Query) ([]storage.Row, error) {
	st, err := sqlgen.Select(sqlgen.SQLite, t, q)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, st, sqlgen.TableColumns(t))
	if err != nil {
		return nil, mapError(t, err)
	}
	return rows, nil
}

func (s *TableStore) Count(ctx context.Context, t *storage.Table, where storage.Filter) (int, error) {
	st, err := sqlgen.Count(sqlgen.SQLite, t, where)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, st.SQL, st.Args...).Scan(&n); err != nil {
		return 0, mapError(t, err)
	}
	return int(n), nil
}

func (s *TableStore) Aggregate(ctx context.Context, t *storage.Table, where storage.Filter, groupBy []string, reducers []storage.Reducer) ([]storage.Row, error) {
	st, cols, err := sqlgen.Aggregate(sqlgen.SQLite, t, where, groupBy, reducers)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, st, cols)
	if err != nil {
		return nil, mapError(t, err)
	}
	return rows, nil
}

func (s *TableStore) query(ctx context.Context, st sqlgen.Statement, cols []sqlgen.ResultColumn) ([]storage.Row, error) {
	rows, err := s.db.QueryContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row, err := sqlgen.Decode(cols, values)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *TableStore) Batch(ctx context.Context, ops []storage.BatchOp) error {
	if len(ops) == 0 {
		return nil
	}
	stmts := make([]sqlgen.Statement, len(ops))
	for i, op := range ops {
		st, err := sqlgen.Render(sqlgen.SQLite, op)
		if err != nil {
			return err
		}
		stmts[i] = st
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.SQL, st.Args...); err != nil {
			return mapError(ops[i].Table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (s *TableStore) Close() error {
	return s.db.Close()
}

func mapError(t *storage.Table, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return apperrors.InvalidStatef("%s: duplicate key", t.Name)
	default:
		return apperrors.Internal("sqlite "+t.Name, err)
	}
}
