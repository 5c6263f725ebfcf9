package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/maloquacious/pagestore/internal/logger"
	"github.com/maloquacious/pagestore/internal/store"
)

// Table is the record store for one table definition.
type Table[T any] struct {
	db  *sql.DB
	def *store.Table[T]
	log logger.Logger
}

// OpenTable returns the record store for def. The store must be open, and
// therefore migrated, and def must have been registered with it.
func OpenTable[T any](s *SQLiteStore, def *store.Table[T]) (*Table[T], error) {
	if s.db == nil {
		return nil, store.ErrNotOpen
	}
	if !s.registered(def.Name()) {
		return nil, fmt.Errorf("%s: %w", def.Name(), store.ErrUnknownTable)
	}
	return &Table[T]{db: s.db, def: def, log: s.log}, nil
}

// Definition returns the table definition the store was opened with.
func (t *Table[T]) Definition() *store.Table[T] {
	return t.def
}

// Upsert writes rec, replacing the non-key columns of the row that already
// holds its key. Rows left duplicated by older releases collapse onto the
// lowest row identifier.
func (t *Table[T]) Upsert(ctx context.Context, rec T) error {
	row := t.def.Codec().ToRow(rec)
	delete(row, store.RowID)
	cols := sortedColumns(row)
	key := t.def.Key(rec)
	where, keyArgs := keyFilter(t.def.KeyColumns(), key)
	name := store.QuoteIdent(t.def.Name())

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin upsert: %w", err)
	}
	defer tx.Rollback()

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(keyArgs))
	for i, col := range cols {
		sets[i] = store.QuoteIdent(col) + " = ?"
		args = append(args, row[col])
	}
	args = append(args, keyArgs...)
	res, err := tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET %s WHERE %s", name, strings.Join(sets, ", "), where), args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", t.def.Name(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", t.def.Name(), err)
	}

	switch {
	case n == 0:
		quoted := make([]string, len(cols))
		marks := make([]string, len(cols))
		values := make([]any, len(cols))
		for i, col := range cols {
			quoted[i] = store.QuoteIdent(col)
			marks[i] = "?"
			values[i] = row[col]
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", name, strings.Join(quoted, ", "), strings.Join(marks, ", "))
		if _, err := tx.ExecContext(ctx, query, values...); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", t.def.Name(), err)
		}
	case n > 1:
		id := store.QuoteIdent(store.RowID)
		query := fmt.Sprintf("DELETE FROM %s WHERE %s AND %s <> (SELECT MIN(%s) FROM %s WHERE %s)", name, where, id, id, name, where)
		if _, err := tx.ExecContext(ctx, query, append(append([]any{}, keyArgs...), keyArgs...)...); err != nil {
			return fmt.Errorf("failed to collapse duplicate rows in %s: %w", t.def.Name(), err)
		}
		t.log.Debug("%s: collapsed %d rows for key %v", t.def.Name(), n, key)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}
	return nil
}

// SelectExact returns the record holding key. A missing record is reported
// through ok, never as an error.
func (t *Table[T]) SelectExact(ctx context.Context, key ...string) (rec T, ok bool, err error) {
	cols := t.def.KeyColumns()
	if len(key) != len(cols) {
		return rec, false, fmt.Errorf("%s: got %d values for %d key columns: %w", t.def.Name(), len(key), len(cols), store.ErrKeyArity)
	}
	where, args := keyFilter(cols, key)
	recs, err := t.selectRows(ctx, where, 1, args...)
	if err != nil || len(recs) == 0 {
		return rec, false, err
	}
	return recs[0], true, nil
}

// SelectByPartialKey returns every record matching the supplied key columns.
// An empty match returns every record.
func (t *Table[T]) SelectByPartialKey(ctx context.Context, match store.Match) ([]T, error) {
	for col := range match {
		if !t.def.IsKeyColumn(col) {
			return nil, fmt.Errorf("%s: %q: %w", t.def.Name(), col, store.ErrUnknownKeyColumn)
		}
	}
	var cols []string
	var values []string
	for _, col := range t.def.KeyColumns() {
		if v, ok := match[col]; ok {
			cols = append(cols, col)
			values = append(values, v)
		}
	}
	if len(cols) == 0 {
		return t.selectRows(ctx, "", 0)
	}
	where, args := keyFilter(cols, values)
	return t.selectRows(ctx, where, 0, args...)
}

// Exists reports whether a record with rec's key is stored. Any failure,
// a missing table included, reads as absent.
func (t *Table[T]) Exists(ctx context.Context, rec T) bool {
	_, ok, err := t.SelectExact(ctx, t.def.Key(rec)...)
	if err != nil {
		t.log.Debug("%s: exists: %v", t.def.Name(), err)
		return false
	}
	return ok
}

// SelectWhere returns the records matching a raw filter expression. Text
// interpolated into filter must go through store.QuoteLiteral; prefer args.
func (t *Table[T]) SelectWhere(ctx context.Context, filter string, args ...any) ([]T, error) {
	return t.selectRows(ctx, filter, 0, args...)
}

// All returns every record in row identifier order.
func (t *Table[T]) All(ctx context.Context) ([]T, error) {
	return t.selectRows(ctx, "", 0)
}

// selectRows decodes the rows matching where; limit 0 means no limit.
func (t *Table[T]) selectRows(ctx context.Context, where string, limit int, args ...any) ([]T, error) {
	query := fmt.Sprintf("SELECT * FROM %s", store.QuoteIdent(t.def.Name()))
	if where != "" {
		query += " WHERE (" + where + ")"
	}
	query += " ORDER BY " + store.QuoteIdent(store.RowID)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", t.def.Name(), err)
	}
	defer rows.Close()

	raw, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", t.def.Name(), err)
	}

	out := make([]T, 0, len(raw))
	for _, row := range raw {
		rec, err := t.def.Codec().FromRow(row)
		if err != nil {
			var malformed *store.MalformedRowError
			if errors.As(err, &malformed) && malformed.Table == "" {
				malformed.Table = t.def.Name()
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// keyFilter matches cols against values with bound parameters. NULL compares
// equal to the empty string so rows from before a key column existed match.
func keyFilter(cols []string, values []string) (string, []any) {
	terms := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		terms[i] = fmt.Sprintf("COALESCE(%s, '') = ?", store.QuoteIdent(col))
		args[i] = values[i]
	}
	return strings.Join(terms, " AND "), args
}
