// Package sqlgen renders storage.Table operations as SQL for the Postgres and
// SQLite backends. Identifiers are validated against the table schema and
// quoted; values are always bound as parameters.
package sqlgen

import (
	"fmt"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

// Dialect captures the differences between backends.
type Dialect interface {
	Name() string
	Placeholder(n int) string
	ColumnType(t storage.ColumnType) string
	// ContainsExpr renders a case-insensitive substring match of col against ph.
	ContainsExpr(col, ph string) string
	// Encode converts a canonical Go value into a driver argument.
	Encode(t storage.ColumnType, v any) (any, error)
}

type postgres struct{}

// Postgres is the dialect used with pgx.
var Postgres Dialect = postgres{}

func (postgres) Name() string             { return "postgres" }
func (postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (postgres) ContainsExpr(col, ph string) string {
	return fmt.Sprintf(`%s ILIKE %s ESCAPE '\'`, col, ph)
}

func (postgres) ColumnType(t storage.ColumnType) string {
	switch t {
	case storage.TypeInt:
		return "BIGINT"
	case storage.TypeFloat:
		return "DOUBLE PRECISION"
	case storage.TypeBool:
		return "BOOLEAN"
	case storage.TypeTime:
		return "TIMESTAMPTZ"
	case storage.TypeJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (postgres) Encode(t storage.ColumnType, v any) (any, error) {
	c, err := storage.Coerce(t, v)
	if err != nil || c == nil {
		return c, err
	}
	if t == storage.TypeJSON {
		return string(c.([]byte)), nil
	}
	return c, nil
}

type sqlite struct{}

// SQLite is the dialect used with modernc.org/sqlite.
var SQLite Dialect = sqlite{}

func (sqlite) Name() string           { return "sqlite" }
func (sqlite) Placeholder(int) string { return "?" }
func (sqlite) ContainsExpr(col, ph string) string {
	return fmt.Sprintf(`%s LIKE %s ESCAPE '\'`, col, ph)
}

// Time columns are declared TEXT so the driver never converts them; values
// are stored as RFC 3339 strings, which sort chronologically in UTC.
func (sqlite) ColumnType(t storage.ColumnType) string {
	switch t {
	case storage.TypeInt, storage.TypeBool:
		return "INTEGER"
	case storage.TypeFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

func (sqlite) Encode(t storage.ColumnType, v any) (any, error) {
	c, err := storage.Coerce(t, v)
	if err != nil || c == nil {
		return c, err
	}
	switch t {
	case storage.TypeTime:
		return c.(time.Time).UTC().Format(sortableRFC3339), nil
	case storage.TypeJSON:
		return string(c.([]byte)), nil
	case storage.TypeBool:
		if c.(bool) {
			return int64(1), nil
		}
		return int64(0), nil
	}
	return c, nil
}

// sortableRFC3339 keeps a fixed fractional width so lexical order matches
// chronological order.
const sortableRFC3339 = "2006-01-02T15:04:05.000000000Z07:00"

// Quote quotes an identifier.
func Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// escapeLike escapes LIKE wildcards in a literal substring.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
