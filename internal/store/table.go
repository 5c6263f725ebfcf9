package store

import (
	"fmt"
	"strconv"
)

// Codec converts one record type to and from rows.
type Codec[T any] interface {
	// ToRow returns a value for every column except the row identifier.
	ToRow(rec T) Row
	// FromRow rebuilds a record. It must accept rows written before later
	// columns existed and return a *MalformedRowError for unusable rows.
	FromRow(row Row) (T, error)
	// KeyColumns lists the columns that together identify a record.
	KeyColumns() []string
}

// Key holds composite key values in KeyColumns order.
type Key []string

// Match holds values for a subset of the key columns.
type Match map[string]string

// Table binds a table name, its migration chain and the codec of its records.
type Table[T any] struct {
	name  string
	chain *Chain
	codec Codec[T]
}

// NewTable validates and returns a table definition.
func NewTable[T any](name string, chain *Chain, codec Codec[T]) (*Table[T], error) {
	if name == "" {
		return nil, fmt.Errorf("table name is empty")
	}
	if chain == nil || codec == nil {
		return nil, fmt.Errorf("table %s: chain and codec are required", name)
	}
	if v, ok := chain.IntroducedAt(RowID); !ok || v != 1 {
		return nil, fmt.Errorf("table %s: %s must be declared at version 1", name, RowID)
	}
	keys := codec.KeyColumns()
	if len(keys) == 0 {
		return nil, fmt.Errorf("table %s: key columns are required", name)
	}
	for _, col := range keys {
		if !chain.Has(col) {
			return nil, fmt.Errorf("table %s: key column %q is not declared", name, col)
		}
	}
	return &Table[T]{name: name, chain: chain, codec: codec}, nil
}

// MustTable is NewTable for package-level definitions; it panics on error.
func MustTable[T any](name string, chain *Chain, codec Codec[T]) *Table[T] {
	t, err := NewTable(name, chain, codec)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Table[T]) Name() string {
	return t.name
}

func (t *Table[T]) Chain() *Chain {
	return t.chain
}

func (t *Table[T]) Codec() Codec[T] {
	return t.codec
}

func (t *Table[T]) KeyColumns() []string {
	return t.codec.KeyColumns()
}

// Key derives the composite key of rec from its row form.
func (t *Table[T]) Key(rec T) Key {
	row := t.codec.ToRow(rec)
	cols := t.codec.KeyColumns()
	key := make(Key, len(cols))
	for i, col := range cols {
		key[i] = keyText(row[col])
	}
	return key
}

// IsKeyColumn reports whether column is part of the composite key.
func (t *Table[T]) IsKeyColumn(column string) bool {
	for _, col := range t.codec.KeyColumns() {
		if col == column {
			return true
		}
	}
	return false
}

func keyText(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case int:
		return strconv.Itoa(s)
	default:
		return fmt.Sprint(s)
	}
}
