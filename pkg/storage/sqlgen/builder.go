package sqlgen

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

// Statement is rendered SQL plus its bound arguments.
type Statement struct {
	SQL  string
	Args []any
}

type builder struct {
	d    Dialect
	t    *storage.Table
	args []any
}

func newBuilder(d Dialect, t *storage.Table) *builder {
	return &builder{d: d, t: t}
}

func (b *builder) bind(col storage.Column, v any) (string, error) {
	enc, err := b.d.Encode(col.Type, v)
	if err != nil {
		return "", apperrors.Validationf("column %s.%s: %v", b.t.Name, col.Name, err)
	}
	b.args = append(b.args, enc)
	return b.d.Placeholder(len(b.args)), nil
}

func (b *builder) column(name string) (storage.Column, error) {
	c, ok := b.t.Column(name)
	if !ok {
		return storage.Column{}, apperrors.Validationf("table %s has no column %q", b.t.Name, name)
	}
	return c, nil
}

func (b *builder) where(f storage.Filter) (string, error) {
	if len(f) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(f))
	for _, cond := range f {
		col, err := b.column(cond.Column)
		if err != nil {
			return "", err
		}
		q := Quote(col.Name)
		switch cond.Op {
		case storage.OpIsNull:
			parts = append(parts, q+" IS NULL")
		case storage.OpNotNull:
			parts = append(parts, q+" IS NOT NULL")
		case storage.OpContains:
			s, ok := cond.Value.(string)
			if !ok {
				return "", apperrors.Validationf("contains on %s requires a string", col.Name)
			}
			b.args = append(b.args, "%"+escapeLike(s)+"%")
			parts = append(parts, b.d.ContainsExpr(q, b.d.Placeholder(len(b.args))))
		case storage.OpIn:
			values, ok := cond.Value.([]any)
			if !ok {
				return "", apperrors.Validationf("in on %s requires a list", col.Name)
			}
			if len(values) == 0 {
				parts = append(parts, "1 = 0")
				continue
			}
			phs := make([]string, len(values))
			for i, v := range values {
				ph, err := b.bind(col, v)
				if err != nil {
					return "", err
				}
				phs[i] = ph
			}
			parts = append(parts, fmt.Sprintf("%s IN (%s)", q, strings.Join(phs, ", ")))
		default:
			op, ok := comparison[cond.Op]
			if !ok {
				return "", apperrors.Validationf("unsupported operator %q", cond.Op)
			}
			if cond.Value == nil {
				return "", apperrors.Validationf("operator %q on %s requires a value", cond.Op, col.Name)
			}
			ph, err := b.bind(col, cond.Value)
			if err != nil {
				return "", err
			}
			parts = append(parts, fmt.Sprintf("%s %s %s", q, op, ph))
		}
	}
	return " WHERE " + strings.Join(parts, " AND "), nil
}

var comparison = map[storage.Op]string{
	storage.OpEq:  "=",
	storage.OpNe:  "<>",
	storage.OpLt:  "<",
	storage.OpLte: "<=",
	storage.OpGt:  ">",
	storage.OpGte: ">=",
}

func (b *builder) orderBy(orders []storage.Order) (string, error) {
	if len(orders) == 0 {
		orders = make([]storage.Order, len(b.t.Key))
		for i, k := range b.t.Key {
			orders[i] = storage.Order{Column: k}
		}
	}
	parts := make([]string, 0, len(orders)+len(b.t.Key))
	seen := map[string]bool{}
	for _, o := range orders {
		if _, err := b.column(o.Column); err != nil {
			return "", err
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		// Nulls sort last in both directions on every backend.
		parts = append(parts, fmt.Sprintf("(%s IS NULL) ASC, %s %s", Quote(o.Column), Quote(o.Column), dir))
		seen[o.Column] = true
	}
	// Key columns make the order total so pagination is stable.
	for _, k := range b.t.Key {
		if !seen[k] {
			parts = append(parts, Quote(k)+" ASC")
		}
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

// Select renders a row query.
func Select(d Dialect, t *storage.Table, q storage.Query) (Statement, error) {
	b := newBuilder(d, t)
	cols := quoteAll(t.ColumnNames())
	w, err := b.where(q.Where)
	if err != nil {
		return Statement{}, err
	}
	o, err := b.orderBy(q.OrderBy)
	if err != nil {
		return Statement{}, err
	}
	sql := fmt.Sprintf("SELECT %s FROM %s%s%s", strings.Join(cols, ", "), Quote(t.Name), w, o)
	if q.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", q.Limit)
	} else if q.Offset > 0 && d.Name() == "sqlite" {
		// SQLite requires a LIMIT before OFFSET.
		sql += " LIMIT -1"
	}
	if q.Offset > 0 {
		sql += fmt.Sprintf(" OFFSET %d", q.Offset)
	}
	return Statement{SQL: sql, Args: b.args}, nil
}

// GetByKey renders a primary-key lookup.
func GetByKey(d Dialect, t *storage.Table, key []any) (Statement, error) {
	if len(key) != len(t.Key) {
		return Statement{}, apperrors.Validationf("table %s: expected %d key values, got %d", t.Name, len(t.Key), len(key))
	}
	f := make(storage.Filter, len(key))
	for i, k := range t.Key {
		f[i] = storage.Eq(k, key[i])
	}
	return Select(d, t, storage.Query{Where: f, Limit: 1})
}

// Count renders a count query.
func Count(d Dialect, t *storage.Table, where storage.Filter) (Statement, error) {
	b := newBuilder(d, t)
	w, err := b.where(where)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: fmt.Sprintf("SELECT COUNT(*) FROM %s%s", Quote(t.Name), w), Args: b.args}, nil
}

// ResultColumn describes one output column of a statement.
type ResultColumn struct {
	Name string
	Type storage.ColumnType
}

// TableColumns describes the output of Select and GetByKey.
func TableColumns(t *storage.Table) []ResultColumn {
	out := make([]ResultColumn, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = ResultColumn{Name: c.Name, Type: c.Type}
	}
	return out
}

// Decode normalizes one scanned result row.
func Decode(cols []ResultColumn, values []any) (storage.Row, error) {
	if len(values) != len(cols) {
		return nil, fmt.Errorf("decode row: %d values for %d columns", len(values), len(cols))
	}
	row := make(storage.Row, len(cols))
	for i, c := range cols {
		v, err := storage.Normalize(c.Type, values[i])
		if err != nil {
			return nil, fmt.Errorf("decode column %s: %w", c.Name, err)
		}
		row[c.Name] = v
	}
	return row, nil
}

// Aggregate renders a grouped aggregate query and describes its output columns.
func Aggregate(d Dialect, t *storage.Table, where storage.Filter, groupBy []string, reducers []storage.Reducer) (Statement, []ResultColumn, error) {
	if len(reducers) == 0 {
		return Statement{}, nil, apperrors.Validationf("aggregate on %s requires at least one reducer", t.Name)
	}
	b := newBuilder(d, t)
	var selects []string
	var out []ResultColumn
	for _, g := range groupBy {
		col, err := b.column(g)
		if err != nil {
			return Statement{}, nil, err
		}
		selects = append(selects, Quote(g))
		out = append(out, ResultColumn{Name: g, Type: col.Type})
	}
	for _, r := range reducers {
		if r.As == "" {
			return Statement{}, nil, apperrors.Validationf("reducer %s on %s needs an alias", r.Func, r.Column)
		}
		var col storage.Column
		if r.Column != "" {
			c, err := b.column(r.Column)
			if err != nil {
				return Statement{}, nil, err
			}
			col = c
		}
		expr, typ, err := reducerExpr(r, col)
		if err != nil {
			return Statement{}, nil, err
		}
		selects = append(selects, expr+" AS "+Quote(r.As))
		out = append(out, ResultColumn{Name: r.As, Type: typ})
	}
	w, err := b.where(where)
	if err != nil {
		return Statement{}, nil, err
	}
	sql := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(selects, ", "), Quote(t.Name), w)
	if len(groupBy) > 0 {
		grp := strings.Join(quoteAll(groupBy), ", ")
		sql += " GROUP BY " + grp + " ORDER BY " + grp
	}
	return Statement{SQL: sql, Args: b.args}, out, nil
}

func reducerExpr(r storage.Reducer, col storage.Column) (string, storage.ColumnType, error) {
	q := Quote(col.Name)
	switch r.Func {
	case storage.ReduceCount:
		if r.Column == "" {
			return "COUNT(*)", storage.TypeInt, nil
		}
		return "COUNT(" + q + ")", storage.TypeInt, nil
	case storage.ReduceCountDistinct:
		if r.Column == "" {
			return "", 0, apperrors.Validationf("count_distinct requires a column")
		}
		return "COUNT(DISTINCT " + q + ")", storage.TypeInt, nil
	case storage.ReduceMin, storage.ReduceMax:
		if r.Column == "" {
			return "", 0, apperrors.Validationf("%s requires a column", r.Func)
		}
		return strings.ToUpper(string(r.Func)) + "(" + q + ")", col.Type, nil
	case storage.ReduceAvg, storage.ReduceSum:
		if r.Column == "" {
			return "", 0, apperrors.Validationf("%s requires a column", r.Func)
		}
		if col.Type != storage.TypeInt && col.Type != storage.TypeFloat {
			return "", 0, apperrors.Validationf("%s requires a numeric column, %s is %s", r.Func, col.Name, col.Type)
		}
		return fmt.Sprintf("CAST(%s(%s) AS DOUBLE PRECISION)", strings.ToUpper(string(r.Func)), q), storage.TypeFloat, nil
	default:
		return "", 0, apperrors.Validationf("unsupported reducer %q", r.Func)
	}
}

// Insert renders a plain insert.
func Insert(d Dialect, t *storage.Table, row storage.Row) (Statement, error) {
	cols, phs, b, err := insertParts(d, t, row)
	if err != nil {
		return Statement{}, err
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", Quote(t.Name), strings.Join(cols, ", "), strings.Join(phs, ", "))
	return Statement{SQL: sql, Args: b.args}, nil
}

// Upsert renders an insert that overwrites the non-key columns it names on
// key conflict. Columns absent from row keep their stored value.
func Upsert(d Dialect, t *storage.Table, row storage.Row) (Statement, error) {
	cols, phs, b, err := insertParts(d, t, row)
	if err != nil {
		return Statement{}, err
	}
	var sets []string
	for _, c := range t.Columns {
		if _, ok := row[c.Name]; ok && !t.IsKey(c.Name) {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", Quote(c.Name), Quote(c.Name)))
		}
	}
	conflict := "DO NOTHING"
	if len(sets) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		Quote(t.Name), strings.Join(cols, ", "), strings.Join(phs, ", "),
		strings.Join(quoteAll(t.Key), ", "), conflict)
	return Statement{SQL: sql, Args: b.args}, nil
}

func insertParts(d Dialect, t *storage.Table, row storage.Row) ([]string, []string, *builder, error) {
	if err := t.CheckRow(row); err != nil {
		return nil, nil, nil, err
	}
	b := newBuilder(d, t)
	var cols, phs []string
	// Declaration order keeps the SQL text stable for identical rows.
	for _, c := range t.Columns {
		v, ok := row[c.Name]
		if !ok {
			continue
		}
		ph, err := b.bind(c, v)
		if err != nil {
			return nil, nil, nil, err
		}
		cols = append(cols, Quote(c.Name))
		phs = append(phs, ph)
	}
	return cols, phs, b, nil
}

// Update renders an update of the columns in set for rows matching where.
func Update(d Dialect, t *storage.Table, set storage.Row, where storage.Filter) (Statement, error) {
	if len(set) == 0 {
		return Statement{}, apperrors.Validationf("update on %s sets no columns", t.Name)
	}
	b := newBuilder(d, t)
	var sets []string
	for _, c := range t.Columns {
		v, ok := set[c.Name]
		if !ok {
			continue
		}
		if t.IsKey(c.Name) {
			return Statement{}, apperrors.Validationf("update on %s cannot change key column %q", t.Name, c.Name)
		}
		if v == nil && !c.Nullable {
			return Statement{}, apperrors.Validationf("table %s: column %q is not nullable", t.Name, c.Name)
		}
		ph, err := b.bind(c, v)
		if err != nil {
			return Statement{}, err
		}
		sets = append(sets, fmt.Sprintf("%s = %s", Quote(c.Name), ph))
	}
	if len(sets) != len(set) {
		for name := range set {
			if _, ok := t.Column(name); !ok {
				return Statement{}, apperrors.Validationf("table %s has no column %q", t.Name, name)
			}
		}
	}
	w, err := b.where(where)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: fmt.Sprintf("UPDATE %s SET %s%s", Quote(t.Name), strings.Join(sets, ", "), w), Args: b.args}, nil
}

// Delete renders a delete of rows matching where.
func Delete(d Dialect, t *storage.Table, where storage.Filter) (Statement, error) {
	b := newBuilder(d, t)
	w, err := b.where(where)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: fmt.Sprintf("DELETE FROM %s%s", Quote(t.Name), w), Args: b.args}, nil
}

// Render renders one batch operation.
func Render(d Dialect, op storage.BatchOp) (Statement, error) {
	if op.Table == nil {
		return Statement{}, apperrors.Validationf("batch operation without table")
	}
	switch op.Kind {
	case storage.BatchInsert:
		return Insert(d, op.Table, op.Row)
	case storage.BatchUpsert:
		return Upsert(d, op.Table, op.Row)
	case storage.BatchUpdate:
		return Update(d, op.Table, op.Set, op.Where)
	case storage.BatchDelete:
		return Delete(d, op.Table, op.Where)
	default:
		return Statement{}, apperrors.Validationf("unknown batch operation %d", op.Kind)
	}
}

// CreateTable renders the DDL for t and its indexes.
func CreateTable(d Dialect, t *storage.Table) []string {
	var defs []string
	for _, c := range t.Columns {
		def := Quote(c.Name) + " " + d.ColumnType(c.Type)
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	defs = append(defs, "PRIMARY KEY ("+strings.Join(quoteAll(t.Key), ", ")+")")
	stmts := []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", Quote(t.Name), strings.Join(defs, ",\n\t"))}
	for _, idx := range t.Indexes {
		name := "idx_" + t.Name + "_" + strings.Join(idx, "_")
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", Quote(name), Quote(t.Name), strings.Join(quoteAll(idx), ", ")))
	}
	return stmts
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = Quote(n)
	}
	return out
}
