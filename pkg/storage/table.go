package storage

import (
	"fmt"
	"slices"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
)

// ColumnType is the logical type of a column. Implementations map it onto
// their native types and normalize values read back.
type ColumnType int

const (
	TypeText ColumnType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeTime
	TypeJSON
)

func (t ColumnType) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTime:
		return "time"
	case TypeJSON:
		return "json"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
}

// Column describes one column of a table.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// Table is the schema of a tabular collection.
type Table struct {
	Name    string
	Key     []string
	Columns []Column
	Indexes [][]string
}

// Column looks up a column by name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// IsKey reports whether name is part of the primary key.
func (t *Table) IsKey(name string) bool {
	return slices.Contains(t.Key, name)
}

// CheckRow verifies that row only names known columns, sets every key column
// and leaves no non-nullable column nil.
func (t *Table) CheckRow(row Row) error {
	for name := range row {
		if _, ok := t.Column(name); !ok {
			return apperrors.Validationf("table %s has no column %q", t.Name, name)
		}
	}
	for _, c := range t.Columns {
		v, present := row[c.Name]
		if t.IsKey(c.Name) && (!present || v == nil) {
			return apperrors.Validationf("table %s: key column %q is required", t.Name, c.Name)
		}
		if present && v == nil && !c.Nullable {
			return apperrors.Validationf("table %s: column %q is not nullable", t.Name, c.Name)
		}
	}
	return nil
}

// CheckColumns verifies that every name is a column of t.
func (t *Table) CheckColumns(names ...string) error {
	for _, n := range names {
		if _, ok := t.Column(n); !ok {
			return apperrors.Validationf("table %s has no column %q", t.Name, n)
		}
	}
	return nil
}

// Op is a comparison operator in a filter condition.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpIn       Op = "in"
	OpContains Op = "contains" // case-insensitive substring
	OpIsNull   Op = "is_null"
	OpNotNull  Op = "not_null"
)

// Cond is one condition of a filter.
type Cond struct {
	Column string
	Op     Op
	Value  any
}

// Filter is a conjunction of conditions. The empty filter matches every row.
type Filter []Cond

func Eq(col string, v any) Cond { return Cond{Column: col, Op: OpEq, Value: v} }
func Ne(col string, v any) Cond { return Cond{Column: col, Op: OpNe, Value: v} }
func Lt(col string, v any) Cond { return Cond{Column: col, Op: OpLt, Value: v} }
func Lte(col string, v any) Cond { return Cond{Column: col, Op: OpLte, Value: v} }
func Gt(col string, v any) Cond { return Cond{Column: col, Op: OpGt, Value: v} }
func Gte(col string, v any) Cond { return Cond{Column: col, Op: OpGte, Value: v} }
func IsNull(col string) Cond { return Cond{Column: col, Op: OpIsNull} }
func NotNull(col string) Cond { return Cond{Column: col, Op: OpNotNull} }

// In matches rows whose column equals one of values.
func In(col string, values ...any) Cond { return Cond{Column: col, Op: OpIn, Value: values} }

// Contains matches a case-insensitive substring.
func Contains(col, s string) Cond { return Cond{Column: col, Op: OpContains, Value: s} }

// Order sorts query results by a column.
type Order struct {
	Column string
	Desc   bool
}

// Query selects rows from a table.
type Query struct {
	Where   Filter
	OrderBy []Order
	Limit   int
	Offset  int
}

// ReduceFunc is an aggregate function.
type ReduceFunc string

const (
	ReduceCount         ReduceFunc = "count"
	ReduceCountDistinct ReduceFunc = "count_distinct"
	ReduceMin           ReduceFunc = "min"
	ReduceMax           ReduceFunc = "max"
	ReduceAvg           ReduceFunc = "avg"
	ReduceSum           ReduceFunc = "sum"
)

// Reducer applies Func to Column and stores the result under As.
// Column may be empty for ReduceCount.
type Reducer struct {
	Func   ReduceFunc
	Column string
	As     string
}

// BatchKind is the kind of a batch operation.
type BatchKind int

const (
	BatchInsert BatchKind = iota
	BatchUpsert
	BatchUpdate
	BatchDelete
)

// BatchOp is one operation inside an all-or-nothing batch.
type BatchOp struct {
	Kind  BatchKind
	Table *Table
	Row   Row    // insert/upsert
	Set   Row    // update
	Where Filter // update/delete
}

func InsertOp(t *Table, row Row) BatchOp { return BatchOp{Kind: BatchInsert, Table: t, Row: row} }
func UpsertOp(t *Table, row Row) BatchOp { return BatchOp{Kind: BatchUpsert, Table: t, Row: row} }

// UpdateOp sets columns on every row matching where.
func UpdateOp(t *Table, set Row, where Filter) BatchOp {
	return BatchOp{Kind: BatchUpdate, Table: t, Set: set, Where: where}
}

// DeleteOp removes every row matching where.
func DeleteOp(t *Table, where Filter) BatchOp {
	return BatchOp{Kind: BatchDelete, Table: t, Where: where}
}
