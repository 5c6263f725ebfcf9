package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/maloquacious/pagestore/internal/logger"
	"github.com/maloquacious/pagestore/internal/store"
)

// note is the record type the engine tests store.
type note struct {
	Site      string
	Lang      string
	Namespace string
	Title     string
	Body      string
}

type noteCodec struct{}

func (noteCodec) KeyColumns() []string {
	return []string{"site", "lang", "namespace", "title"}
}

func (noteCodec) ToRow(n note) store.Row {
	return store.Row{"site": n.Site, "lang": n.Lang, "namespace": n.Namespace, "title": n.Title, "body": n.Body}
}

func (noteCodec) FromRow(row store.Row) (note, error) {
	var n note
	var err error
	if n.Site, err = row.Text("site"); err != nil {
		return note{}, err
	}
	if n.Lang, err = row.OptionalText("lang"); err != nil {
		return note{}, err
	}
	if n.Namespace, err = row.OptionalText("namespace"); err != nil {
		return note{}, err
	}
	if n.Title, err = row.Text("title"); err != nil {
		return note{}, err
	}
	if n.Body, err = row.OptionalText("body"); err != nil {
		return note{}, err
	}
	return n, nil
}

// notesChain: created at 1, namespace at 3, titles normalized at 4, lang at 5.
func notesChain() *store.Chain {
	return store.NewChain(1).
		Add(1, store.IDColumn(), store.Text("site"), store.Text("title"), store.Text("body")).
		Add(3, store.Text("namespace")).
		Transform(4, store.NormalizeText("title", nil, nil)).
		Add(5, store.Text("lang")).
		Transform(5, store.SplitField("site", "lang", ".", 0))
}

func notesTable() *store.Table[note] {
	return store.MustTable[note]("notes", notesChain(), noteCodec{})
}

func dbPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// openStore opens a store at path, upgraded to version.
func openStore(t *testing.T, path string, version int, schemas ...store.Schema) *SQLiteStore {
	t.Helper()
	s := New(path, version, schemas...).WithLogger(logger.Discard)
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func openNotes(t *testing.T) (*SQLiteStore, *Table[note]) {
	t.Helper()
	def := notesTable()
	s := openStore(t, dbPath(t), 5, def)
	tbl, err := OpenTable(s, def)
	if err != nil {
		t.Fatalf("open table: %v", err)
	}
	return s, tbl
}

func queryInt64(t *testing.T, db *sql.DB, query string, args ...any) int64 {
	t.Helper()
	var value int64
	if err := db.QueryRow(query, args...).Scan(&value); err != nil {
		t.Fatalf("query int value: %v", err)
	}
	return value
}

func countRows(t *testing.T, db *sql.DB, table string) int64 {
	t.Helper()
	return queryInt64(t, db, "SELECT COUNT(*) FROM "+store.QuoteIdent(table))
}

func tableExists(t *testing.T, db *sql.DB, tableName string) bool {
	t.Helper()
	return queryInt64(t, db, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name = ?", tableName) == 1
}

func columnNames(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM pragma_table_info(?) ORDER BY cid", table)
	if err != nil {
		t.Fatalf("table info: %v", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan column: %v", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("table info: %v", err)
	}
	return names
}
