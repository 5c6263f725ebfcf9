package store

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Row maps column names to the values read from or written to one table row.
// Values read back from SQLite are nil, int64, float64, string or []byte.
type Row map[string]any

// Text returns the text value of a required column.
func (r Row) Text(column string) (string, error) {
	v, ok := r[column]
	if !ok {
		return "", &MalformedRowError{Column: column, Reason: "missing"}
	}
	if v == nil {
		return "", &MalformedRowError{Column: column, Reason: "null"}
	}
	return textValue(column, v)
}

// OptionalText returns the text value of column, or "" when the column is
// absent or NULL. Used for columns added after rows may already exist.
func (r Row) OptionalText(column string) (string, error) {
	v, ok := r[column]
	if !ok || v == nil {
		return "", nil
	}
	return textValue(column, v)
}

// Int64 returns the integer value of a required column.
func (r Row) Int64(column string) (int64, error) {
	v, ok := r[column]
	if !ok {
		return 0, &MalformedRowError{Column: column, Reason: "missing"}
	}
	switch n := v.(type) {
	case nil:
		return 0, &MalformedRowError{Column: column, Reason: "null"}
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, &MalformedRowError{Column: column, Reason: fmt.Sprintf("non-integer value %v", n)}
		}
		if n < math.MinInt64 || n >= -math.MinInt64 {
			return 0, &MalformedRowError{Column: column, Reason: fmt.Sprintf("value %v out of range", n)}
		}
		return int64(n), nil
	case string:
		return parseInt(column, n)
	case []byte:
		return parseInt(column, string(n))
	default:
		return 0, &MalformedRowError{Column: column, Reason: fmt.Sprintf("unexpected type %T", v)}
	}
}

// ID returns the row identifier.
func (r Row) ID() (int64, error) {
	return r.Int64(RowID)
}

// Clone returns a shallow copy of r.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func textValue(column string, v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case int64:
		// NUMERIC affinity columns hand back numbers for digit-only text.
		return strconv.FormatInt(s, 10), nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	default:
		return "", &MalformedRowError{Column: column, Reason: fmt.Sprintf("unexpected type %T", v)}
	}
}

func parseInt(column, s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, &MalformedRowError{Column: column, Reason: fmt.Sprintf("not an integer: %q", s)}
	}
	return n, nil
}
