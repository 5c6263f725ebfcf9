package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"

	"github.com/maloquacious/pagestore/internal/logger"
	"github.com/maloquacious/pagestore/internal/store"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using modernc.org/sqlite.
//
// The schema version lives in PRAGMA user_version and covers every table
// registered with the store.
type SQLiteStore struct {
	dbPath  string
	db      *sql.DB
	version int
	schemas []store.Schema
	log     logger.Logger
}

// New creates a new SQLiteStore whose tables are brought to version on Open.
func New(dbPath string, version int, schemas ...store.Schema) *SQLiteStore {
	return &SQLiteStore{
		dbPath:  dbPath,
		version: version,
		schemas: schemas,
		log:     logger.Default,
	}
}

// WithLogger replaces the store's logger.
func (s *SQLiteStore) WithLogger(l logger.Logger) *SQLiteStore {
	s.log = logger.OrDefault(l)
	return s
}

// Connect opens the SQLite database with safe defaults without touching the schema.
func (s *SQLiteStore) Connect(ctx context.Context) error {
	return s.connect(ctx, s.dbPath, []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	})
}

// ConnectReadOnly opens the database for inspection. Nothing is written to
// the file, not even the journal mode.
func (s *SQLiteStore) ConnectReadOnly(ctx context.Context) error {
	return s.connect(ctx, readOnlyDSN(s.dbPath), []string{
		"PRAGMA busy_timeout=5000",
	})
}

func (s *SQLiteStore) connect(ctx context.Context, dsn string, pragmas []string) error {
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: pragmas below stick, and SQLite's own locking is the
	// only writer serialization there is.
	db.SetMaxOpenConns(1)

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	s.db = db
	return nil
}

// readOnlyDSN turns path into a SQLite URI opened with mode=ro.
func readOnlyDSN(path string) string {
	u := url.URL{Path: filepath.ToSlash(path)}
	return "file:" + u.EscapedPath() + "?mode=ro"
}

// Open connects and upgrades every registered table to the current version.
// Callers must finish Open before handing the store to anything else.
func (s *SQLiteStore) Open(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}
	if err := s.Upgrade(ctx); err != nil {
		s.Close()
		return err
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Upgrade applies every migration step between the recorded and the current version.
func (s *SQLiteStore) Upgrade(ctx context.Context) error {
	if s.db == nil {
		return store.ErrNotOpen
	}

	from, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if from > s.version {
		return fmt.Errorf("database at version %d, binary supports %d: %w", from, s.version, store.ErrSchemaTooNew)
	}

	return Upgrade(ctx, s.db, from, s.version, s.schemas, s.log)
}

// CheckState returns the current state of the datastore.
func (s *SQLiteStore) CheckState(ctx context.Context) (store.StoreState, error) {
	if s.db == nil {
		return store.StateMissing, store.ErrNotOpen
	}

	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return store.StateUninitialized, err
	}

	switch {
	case version == 0:
		return store.StateUninitialized, nil
	case version < s.version:
		return store.StateOutdated, nil
	case version > s.version:
		return store.StateTooNew, nil
	}
	return store.StateReady, nil
}

// SchemaVersion returns the current schema version from the database.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, store.ErrNotOpen
	}
	return userVersion(ctx, s.db)
}

// Version returns the version the store upgrades to.
func (s *SQLiteStore) Version() int {
	return s.version
}

// DB exposes the underlying handle.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Verify compares the physical tables with what the registered chains
// declare for the recorded version and returns one line per difference.
func (s *SQLiteStore) Verify(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, store.ErrNotOpen
	}

	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}

	var problems []string
	for _, schema := range s.schemas {
		chain := schema.Chain()
		have, err := tableColumns(ctx, s.db, schema.Name())
		if err != nil {
			return nil, err
		}
		if version < chain.Genesis() {
			if len(have) > 0 {
				problems = append(problems, fmt.Sprintf("%s: exists before its genesis version %d", schema.Name(), chain.Genesis()))
			}
			continue
		}
		if len(have) == 0 {
			problems = append(problems, fmt.Sprintf("%s: table missing", schema.Name()))
			continue
		}
		want := make(map[string]bool)
		for _, col := range chain.ColumnsAt(version) {
			want[col.Name] = true
			if !have[col.Name] {
				problems = append(problems, fmt.Sprintf("%s: column %s missing", schema.Name(), col.Name))
			}
		}
		var extra []string
		for name := range have {
			if !want[name] {
				extra = append(extra, name)
			}
		}
		sort.Strings(extra)
		for _, name := range extra {
			problems = append(problems, fmt.Sprintf("%s: unexpected column %s", schema.Name(), name))
		}
	}
	return problems, nil
}

func (s *SQLiteStore) registered(name string) bool {
	for _, schema := range s.schemas {
		if schema.Name() == name {
			return true
		}
	}
	return false
}

func userVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read user_version: %w", err)
	}
	return version, nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
