package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/maloquacious/pagestore/internal/logger"
	"github.com/maloquacious/pagestore/internal/store"
)

// Upgrade walks every version in (from, to] in ascending order. Each version
// runs in its own transaction: the CREATE TABLE or ADD COLUMN statements of
// every table, then the data transforms registered at that version, then the
// user_version write. A failure rolls the version back and is returned as a
// *store.MigrationStepError; versions already committed stay committed.
func Upgrade(ctx context.Context, db *sql.DB, from, to int, schemas []store.Schema, log logger.Logger) error {
	if from > to {
		return fmt.Errorf("cannot move from version %d to %d: %w", from, to, store.ErrSchemaTooNew)
	}
	log = logger.OrDefault(log)
	for v := from + 1; v <= to; v++ {
		if err := applyVersion(ctx, db, v, schemas, log); err != nil {
			return err
		}
	}
	return nil
}

func applyVersion(ctx context.Context, db *sql.DB, version int, schemas []store.Schema, log logger.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &store.MigrationStepError{Version: version, Step: "begin", Err: err}
	}
	defer tx.Rollback()

	var steps []string
	for _, schema := range schemas {
		chain := schema.Chain()
		switch {
		case version < chain.Genesis():
			continue
		case version == chain.Genesis():
			if _, err := tx.ExecContext(ctx, createTableSQL(schema.Name(), chain.InitialColumns())); err != nil {
				return &store.MigrationStepError{Version: version, Table: schema.Name(), Step: "create table", Err: err}
			}
			steps = append(steps, "create "+schema.Name())
		default:
			for _, col := range chain.ColumnsIntroducedAt(version) {
				if _, err := tx.ExecContext(ctx, addColumnSQL(schema.Name(), col)); err != nil {
					return &store.MigrationStepError{Version: version, Table: schema.Name(), Step: "add column " + col.Name, Err: err}
				}
				steps = append(steps, "add "+schema.Name()+"."+col.Name)
			}
		}
	}

	var after []func()
	for _, schema := range schemas {
		chain := schema.Chain()
		fn := chain.TransformAt(version)
		if fn == nil || version <= chain.Genesis() {
			continue
		}
		m := &migration{tx: tx, table: schema.Name(), version: version, keys: schema.KeyColumns()}
		if err := fn(ctx, m); err != nil {
			return &store.MigrationStepError{Version: version, Table: schema.Name(), Step: "transform", Err: err}
		}
		after = append(after, m.after...)
		steps = append(steps, "transform "+schema.Name())
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return &store.MigrationStepError{Version: version, Step: "record version", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &store.MigrationStepError{Version: version, Step: "commit", Err: err}
	}

	if len(steps) == 0 {
		log.Debug("schema version %d: nothing to apply", version)
	} else {
		log.Info("schema version %d: %s", version, strings.Join(steps, ", "))
	}

	for _, fn := range after {
		fn()
	}
	return nil
}

func createTableSQL(table string, cols []store.Column) string {
	defs := make([]string, len(cols))
	for i, col := range cols {
		defs[i] = col.String()
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", store.QuoteIdent(table), strings.Join(defs, ", "))
}

func addColumnSQL(table string, col store.Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", store.QuoteIdent(table), col)
}

// migration is the store.Migration handed to transforms; it is bound to the
// transaction of the version being applied.
type migration struct {
	tx      *sql.Tx
	table   string
	version int
	keys    []string
	after   []func()
}

func (m *migration) Version() int {
	return m.version
}

func (m *migration) Table() string {
	return m.table
}

func (m *migration) KeyColumns() []string {
	return m.keys
}

func (m *migration) Rows(ctx context.Context) ([]store.Row, error) {
	rows, err := m.tx.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY %s", store.QuoteIdent(m.table), store.QuoteIdent(store.RowID)))
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", m.table, err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func (m *migration) Update(ctx context.Context, id int64, values store.Row) error {
	cols := sortedColumns(values)
	if len(cols) == 0 {
		return nil
	}
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		sets[i] = store.QuoteIdent(col) + " = ?"
		args = append(args, values[col])
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", store.QuoteIdent(m.table), strings.Join(sets, ", "), store.QuoteIdent(store.RowID))
	if _, err := m.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update %s row %d: %w", m.table, id, err)
	}
	return nil
}

func (m *migration) Delete(ctx context.Context, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", store.QuoteIdent(m.table), store.QuoteIdent(store.RowID))
	if _, err := m.tx.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete %s row %d: %w", m.table, id, err)
	}
	return nil
}

func (m *migration) AfterCommit(fn func()) {
	m.after = append(m.after, fn)
}

// scanRows reads every remaining row into column maps. The caller closes rows.
func scanRows(rows *sql.Rows) ([]store.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var out []store.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(store.Row, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return out, nil
}

func sortedColumns(row store.Row) []string {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}
