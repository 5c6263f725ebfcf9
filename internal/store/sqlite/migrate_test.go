package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/maloquacious/pagestore/internal/logger"
	"github.com/maloquacious/pagestore/internal/store"
)

func TestUpgradeFromScratch(t *testing.T) {
	s := openStore(t, dbPath(t), 5, notesTable())
	ctx := context.Background()

	version, err := s.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if version != 5 {
		t.Fatalf("got version %d, want 5", version)
	}

	want := []string{"_id", "site", "title", "body", "namespace", "lang"}
	if diff := cmp.Diff(want, columnNames(t, s.DB(), "notes")); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}

	state, err := s.CheckState(ctx)
	if err != nil || state != store.StateReady {
		t.Errorf("CheckState() = %v, %v; want ready", state, err)
	}
}

func TestUpgradeIsIdempotent(t *testing.T) {
	path := dbPath(t)
	ctx := context.Background()

	s := openStore(t, path, 5, notesTable())
	before := columnNames(t, s.DB(), "notes")

	if err := s.Upgrade(ctx); err != nil {
		t.Fatalf("second upgrade: %v", err)
	}
	if err := Upgrade(ctx, s.DB(), 5, 5, []store.Schema{notesTable()}, logger.Discard); err != nil {
		t.Fatalf("upgrade with equal bounds: %v", err)
	}
	s.Close()

	reopened := openStore(t, path, 5, notesTable())
	if diff := cmp.Diff(before, columnNames(t, reopened.DB(), "notes")); diff != "" {
		t.Errorf("columns changed on reopen (-want +got):\n%s", diff)
	}
}

func TestUpgradeMigratesLegacyRows(t *testing.T) {
	path := dbPath(t)
	ctx := context.Background()

	legacy := openStore(t, path, 2, notesTable())
	if got := columnNames(t, legacy.DB(), "notes"); len(got) != 4 {
		t.Fatalf("version 2 columns = %v, want 4 columns", got)
	}
	for _, title := range []string{"Foo Bar", "Plain", "A B C"} {
		if _, err := legacy.DB().Exec(`INSERT INTO notes (site, title, body) VALUES ('en.example.org', ?, 'x')`, title); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	legacy.Close()

	s := openStore(t, path, 5, notesTable())
	tbl, err := OpenTable(s, notesTable())
	if err != nil {
		t.Fatalf("open table: %v", err)
	}

	got, err := tbl.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	want := []note{
		{Site: "en.example.org", Lang: "en", Title: "Foo_Bar", Body: "x"},
		{Site: "en.example.org", Lang: "en", Title: "Plain", Body: "x"},
		{Site: "en.example.org", Lang: "en", Title: "A_B_C", Body: "x"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}

	// namespace is NULL on legacy rows and still matches the empty key value.
	n, ok, err := tbl.SelectExact(ctx, "en.example.org", "en", "", "Foo_Bar")
	if err != nil || !ok {
		t.Fatalf("SelectExact() = %v, %v, %v", n, ok, err)
	}
}

func TestUpgradeCollapsesNormalizedDuplicates(t *testing.T) {
	path := dbPath(t)
	ctx := context.Background()

	legacy := openStore(t, path, 3, notesTable())
	for _, title := range []string{"Foo_Bar", "Foo Bar", "Other Title", "Other_Title"} {
		if _, err := legacy.DB().Exec(`INSERT INTO notes (site, title, body) VALUES ('en.example.org', ?, ?)`, title, title); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	// Same title on another site is a different key.
	if _, err := legacy.DB().Exec(`INSERT INTO notes (site, title, body) VALUES ('de.example.org', 'Foo Bar', 'de')`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	legacy.Close()

	s := openStore(t, path, 5, notesTable())
	tbl, err := OpenTable(s, notesTable())
	if err != nil {
		t.Fatalf("open table: %v", err)
	}

	got, err := tbl.SelectByPartialKey(ctx, store.Match{"site": "en.example.org", "lang": "en", "namespace": "", "title": "Foo_Bar"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	want := []note{{Site: "en.example.org", Lang: "en", Title: "Foo_Bar", Body: "Foo_Bar"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Foo_Bar rows mismatch (-want +got):\n%s", diff)
	}

	// The lowest row id survives even when it is the renamed one.
	got, err = tbl.SelectByPartialKey(ctx, store.Match{"site": "en.example.org", "title": "Other_Title"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	want = []note{{Site: "en.example.org", Lang: "en", Title: "Other_Title", Body: "Other Title"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Other_Title rows mismatch (-want +got):\n%s", diff)
	}

	if n := countRows(t, s.DB(), "notes"); n != 3 {
		t.Errorf("got %d rows, want 3", n)
	}
}

func TestGenesisAfterFirstVersion(t *testing.T) {
	path := dbPath(t)
	late := store.MustTable[note]("late",
		store.NewChain(3).
			Add(1, store.IDColumn(), store.Text("site"), store.Text("title")).
			Add(2, store.Text("body")).
			Add(4, store.Text("namespace"), store.Text("lang")),
		noteCodec{})

	early := openStore(t, path, 2, late)
	if tableExists(t, early.DB(), "late") {
		t.Fatal("table created before its genesis version")
	}
	early.Close()

	s := openStore(t, path, 3, late)
	want := []string{"_id", "site", "title", "body"}
	if diff := cmp.Diff(want, columnNames(t, s.DB(), "late")); diff != "" {
		t.Errorf("genesis columns mismatch (-want +got):\n%s", diff)
	}
	s.Close()

	s = openStore(t, path, 4, late)
	want = append(want, "namespace", "lang")
	if diff := cmp.Diff(want, columnNames(t, s.DB(), "late")); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
}

func TestUpgradeFailureRollsBackVersion(t *testing.T) {
	path := dbPath(t)
	ctx := context.Background()
	boom := errors.New("boom")

	hookRan := false
	failing := store.MustTable[note]("notes",
		store.NewChain(1).
			Add(1, store.IDColumn(), store.Text("site"), store.Text("title"), store.Text("body")).
			Add(3, store.Text("namespace")).
			Add(4, store.Text("lang")).
			Transform(4, func(ctx context.Context, m store.Migration) error {
				m.AfterCommit(func() { hookRan = true })
				return boom
			}),
		noteCodec{})

	s := New(path, 5, failing).WithLogger(logger.Discard)
	err := s.Open(ctx)
	if err == nil {
		t.Fatal("expected open to fail")
	}

	var stepErr *store.MigrationStepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("got %T %v, want MigrationStepError", err, err)
	}
	if stepErr.Version != 4 || stepErr.Table != "notes" || stepErr.Step != "transform" {
		t.Errorf("got %+v", stepErr)
	}
	if !errors.Is(err, boom) {
		t.Error("error should wrap the transform failure")
	}
	if hookRan {
		t.Error("after-commit hook ran for a rolled back version")
	}

	check := New(path, 5, failing).WithLogger(logger.Discard)
	if err := check.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer check.Close()

	version, err := check.SchemaVersion(ctx)
	if err != nil || version != 3 {
		t.Fatalf("SchemaVersion() = %d, %v; want 3", version, err)
	}
	want := []string{"_id", "site", "title", "body", "namespace"}
	if diff := cmp.Diff(want, columnNames(t, check.DB(), "notes")); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
	state, _ := check.CheckState(ctx)
	if state != store.StateOutdated {
		t.Errorf("got state %v, want outdated", state)
	}
}

func TestAfterCommitRunsOnceVersionIsRecorded(t *testing.T) {
	path := dbPath(t)
	ctx := context.Background()

	var seen []int
	var s *SQLiteStore
	def := store.MustTable[note]("notes",
		store.NewChain(1).
			Add(1, store.IDColumn(), store.Text("site"), store.Text("title")).
			Transform(2, func(ctx context.Context, m store.Migration) error {
				m.AfterCommit(func() {
					v, err := s.SchemaVersion(ctx)
					if err != nil {
						t.Errorf("schema version in hook: %v", err)
					}
					seen = append(seen, v)
				})
				return nil
			}),
		noteCodec{})

	s = New(path, 3, def).WithLogger(logger.Discard)
	if err := s.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if diff := cmp.Diff([]int{2}, seen); diff != "" {
		t.Errorf("hook versions mismatch (-want +got):\n%s", diff)
	}
}

func TestSchemaTooNew(t *testing.T) {
	path := dbPath(t)
	ctx := context.Background()

	s := openStore(t, path, 5, notesTable())
	if _, err := s.DB().Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("set version: %v", err)
	}
	state, err := s.CheckState(ctx)
	if err != nil || state != store.StateTooNew {
		t.Errorf("CheckState() = %v, %v; want too-new", state, err)
	}
	s.Close()

	again := New(path, 5, notesTable()).WithLogger(logger.Discard)
	if err := again.Open(ctx); !errors.Is(err, store.ErrSchemaTooNew) {
		t.Fatalf("got %v, want ErrSchemaTooNew", err)
	}
}

func TestCheckStateBeforeOpen(t *testing.T) {
	s := New(dbPath(t), 5, notesTable())
	ctx := context.Background()

	if _, err := s.CheckState(ctx); !errors.Is(err, store.ErrNotOpen) {
		t.Errorf("got %v, want ErrNotOpen", err)
	}
	if err := s.Upgrade(ctx); !errors.Is(err, store.ErrNotOpen) {
		t.Errorf("got %v, want ErrNotOpen", err)
	}

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()
	state, err := s.CheckState(ctx)
	if err != nil || state != store.StateUninitialized {
		t.Errorf("CheckState() = %v, %v; want uninitialized", state, err)
	}
}

func TestVerify(t *testing.T) {
	s := openStore(t, dbPath(t), 5, notesTable())
	ctx := context.Background()

	problems, err := s.Verify(ctx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}

	if _, err := s.DB().Exec("ALTER TABLE notes ADD COLUMN stray TEXT"); err != nil {
		t.Fatalf("alter: %v", err)
	}
	problems, err = s.Verify(ctx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if diff := cmp.Diff([]string{"notes: unexpected column stray"}, problems); diff != "" {
		t.Errorf("problems mismatch (-want +got):\n%s", diff)
	}
}

func TestVerifyReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain dir", "notes.db")
	ctx := context.Background()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := Upgrade(ctx, raw, 0, 5, []store.Schema{notesTable()}, logger.Discard); err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	raw.Close()

	s := New(path, 5, notesTable()).WithLogger(logger.Discard)
	if err := s.ConnectReadOnly(ctx); err != nil {
		t.Fatalf("connect read-only: %v", err)
	}
	problems, err := s.Verify(ctx)
	if err != nil || len(problems) != 0 {
		t.Fatalf("Verify() = %v, %v", problems, err)
	}
	if _, err := s.DB().Exec(`INSERT INTO notes (site, title) VALUES ('en.example.org', 'x')`); err == nil {
		t.Error("write succeeded on a read-only connection")
	}
	s.Close()

	raw, err = sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer raw.Close()
	var mode string
	if err := raw.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal mode: %v", err)
	}
	if mode != "delete" {
		t.Errorf("journal mode = %q, want delete", mode)
	}
	if n := countRows(t, raw, "notes"); n != 0 {
		t.Errorf("got %d rows, want 0", n)
	}
}

func TestDDL(t *testing.T) {
	got := createTableSQL("notes", []store.Column{store.IDColumn(), store.Text("title")})
	if want := `CREATE TABLE "notes" ("_id" INTEGER PRIMARY KEY, "title" TEXT)`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	got = addColumnSQL("notes", store.Text("lang"))
	if want := `ALTER TABLE "notes" ADD COLUMN "lang" TEXT`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}
