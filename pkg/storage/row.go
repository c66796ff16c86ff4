package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"
)

// Row is a single record keyed by column name. Values read from a TableStore
// are normalized to string, int64, float64, bool, time.Time, []byte or nil.
type Row map[string]any

func (r Row) String(col string) string {
	s, _ := r[col].(string)
	return s
}

// StringPtr returns nil when the column is null.
func (r Row) StringPtr(col string) *string {
	s, ok := r[col].(string)
	if !ok {
		return nil
	}
	return &s
}

func (r Row) Int(col string) int {
	switch v := r[col].(type) {
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// IntPtr returns nil when the column is null.
func (r Row) IntPtr(col string) *int {
	switch v := r[col].(type) {
	case int64:
		n := int(v)
		return &n
	case float64:
		n := int(v)
		return &n
	}
	return nil
}

func (r Row) Float(col string) float64 {
	switch v := r[col].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

// FloatPtr returns nil when the column is null.
func (r Row) FloatPtr(col string) *float64 {
	switch v := r[col].(type) {
	case float64:
		return &v
	case int64:
		f := float64(v)
		return &f
	}
	return nil
}

func (r Row) Bool(col string) bool {
	b, _ := r[col].(bool)
	return b
}

func (r Row) Time(col string) time.Time {
	t, _ := r[col].(time.Time)
	return t
}

// TimePtr returns nil when the column is null.
func (r Row) TimePtr(col string) *time.Time {
	t, ok := r[col].(time.Time)
	if !ok {
		return nil
	}
	return &t
}

// JSON returns the raw JSON bytes of a json column.
func (r Row) JSON(col string) json.RawMessage {
	b, _ := r[col].([]byte)
	return b
}

// NullInt converts an optional int into a row value.
func NullInt(p *int) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

// NullFloat converts an optional float into a row value.
func NullFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

// NullString converts an optional string into a row value.
func NullString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

// NullTime converts an optional time into a row value.
func NullTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.UTC()
}

// NullJSON converts raw JSON into a row value, mapping empty to null.
func NullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

// Normalize converts a driver value into the canonical Go type for t.
func Normalize(t ColumnType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeText:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
	case TypeInt:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int32:
			return int64(x), nil
		case int:
			return int64(x), nil
		case int16:
			return int64(x), nil
		case float64:
			return int64(math.Round(x)), nil
		}
	case TypeFloat:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case int32:
			return float64(x), nil
		case int:
			return float64(x), nil
		}
	case TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		}
	case TypeTime:
		switch x := v.(type) {
		case time.Time:
			return x.UTC().Truncate(time.Microsecond), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, x)
			if err != nil {
				return nil, fmt.Errorf("parse time %q: %w", x, err)
			}
			return parsed.UTC().Truncate(time.Microsecond), nil
		}
	case TypeJSON:
		switch x := v.(type) {
		case []byte:
			return canonicalJSON(x)
		case string:
			return canonicalJSON([]byte(x))
		default:
			b, err := json.Marshal(x)
			if err != nil {
				return nil, fmt.Errorf("marshal json column: %w", err)
			}
			return canonicalJSON(b)
		}
	}
	return nil, fmt.Errorf("cannot normalize %T as %s", v, t)
}

// Coerce converts a caller-supplied value into the canonical Go type for t,
// accepting the usual Go spellings (int, *int, json.RawMessage, ...).
func Coerce(t ColumnType, v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *int:
		return Normalize(t, NullInt(x))
	case *string:
		return Normalize(t, NullString(x))
	case *float64:
		return Normalize(t, NullFloat(x))
	case *time.Time:
		return Normalize(t, NullTime(x))
	case json.RawMessage:
		return Normalize(t, NullJSON(x))
	case int:
		if t == TypeFloat {
			return float64(x), nil
		}
		return int64(x), nil
	case fmt.Stringer:
		if t == TypeText {
			return x.String(), nil
		}
	}
	if t == TypeText {
		if s, ok := stringLike(v); ok {
			return s, nil
		}
	}
	return Normalize(t, v)
}

// stringLike accepts named string types such as models.StagingStatus.
func stringLike(v any) (string, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	return "", false
}

// canonicalJSON re-encodes b compactly with sorted object keys, matching
// what Postgres jsonb hands back after its own normalization.
func canonicalJSON(b []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid json column value: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return out, nil
}
