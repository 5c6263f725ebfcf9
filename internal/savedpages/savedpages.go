// Package savedpages indexes pages saved for offline reading. Each row points
// at an artifact directory named by the page title's identifier.
package savedpages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/maloquacious/pagestore/internal/artifact"
	"github.com/maloquacious/pagestore/internal/logger"
	"github.com/maloquacious/pagestore/internal/page"
	"github.com/maloquacious/pagestore/internal/store"
	"github.com/maloquacious/pagestore/internal/store/sqlite"
)

// Database versions at which the table changed.
const (
	VersionIntroduced  = 4
	VersionNamespace   = 6
	VersionUnderscores = 8
	VersionLang        = 10
)

const (
	colSite      = "site"
	colLang      = "lang"
	colNamespace = "namespace"
	colTitle     = "title"
	colTimestamp = "timestamp"
)

// PayloadFile is the file holding the saved page inside its artifact directory.
const PayloadFile = "content.html"

// KeyColumns identify one page across sites and languages.
var KeyColumns = []string{colSite, colLang, colNamespace, colTitle}

// SavedPage records when a page was saved.
type SavedPage struct {
	Title     page.Title
	Timestamp time.Time
}

// Definition returns the savedpages table. Titles rewritten while upgrading
// have their artifact directories in dir moved along with them. Rows dropped
// because their rewritten title duplicates another row lose their artifact.
func Definition(dir *artifact.Dir, log logger.Logger) *store.Table[SavedPage] {
	log = logger.OrDefault(log)
	chain := store.NewChain(VersionIntroduced).
		Add(1, store.IDColumn(), store.Text(colSite), store.Text(colTitle), store.Integer(colTimestamp)).
		Add(VersionNamespace, store.Text(colNamespace)).
		Transform(VersionUnderscores, store.NormalizeText(colTitle, relocate(dir, log), discard(dir, log))).
		Add(VersionLang, store.Text(colLang)).
		Transform(VersionLang, store.SplitField(colSite, colLang, ".", 0))
	return store.MustTable[SavedPage]("savedpages", chain, codec{})
}

// relocate moves the artifact of a renamed row. Failure is not fatal: the
// row is authoritative and the payload can be saved again.
func relocate(dir *artifact.Dir, log logger.Logger) func(before, after store.Row) {
	return func(before, after store.Row) {
		oldPage, err := codec{}.FromRow(before)
		if err != nil {
			log.Warn("savedpages: relocate artifact: %v", err)
			return
		}
		newPage, err := codec{}.FromRow(after)
		if err != nil {
			log.Warn("savedpages: relocate artifact: %v", err)
			return
		}
		oldID, newID := artifactID(oldPage.Title), artifactID(newPage.Title)
		if err := dir.Relocate(oldID, newID); err != nil {
			log.Warn("savedpages: relocate artifact for %q: %v", newPage.Title.Text, err)
			return
		}
		log.Debug("savedpages: moved artifact %s to %s", oldID, newID)
	}
}

// discard removes the artifact of a row dropped as a duplicate, so the
// surviving row can move its own artifact into that identifier.
func discard(dir *artifact.Dir, log logger.Logger) func(dropped store.Row) {
	return func(dropped store.Row) {
		p, err := codec{}.FromRow(dropped)
		if err != nil {
			log.Warn("savedpages: discard artifact: %v", err)
			return
		}
		id := artifactID(p.Title)
		if err := dir.Remove(id); err != nil {
			log.Warn("savedpages: discard artifact for %q: %v", p.Title.Text, err)
			return
		}
		log.Debug("savedpages: removed artifact %s of duplicate row", id)
	}
}

// artifactID names the payload directory of title. Rows carry no fragment,
// so neither does the identifier.
func artifactID(title page.Title) string {
	title.Fragment = ""
	return title.Identifier()
}

type codec struct{}

func (codec) KeyColumns() []string {
	return KeyColumns
}

func (codec) ToRow(p SavedPage) store.Row {
	return store.Row{
		colSite:      p.Title.Site.Authority,
		colLang:      p.Title.Site.Lang,
		colNamespace: p.Title.Namespace,
		colTitle:     p.Title.Text,
		colTimestamp: p.Timestamp.UnixMilli(),
	}
}

// FromRow also reads rows from before the namespace and lang columns existed.
func (codec) FromRow(row store.Row) (SavedPage, error) {
	site, err := row.Text(colSite)
	if err != nil {
		return SavedPage{}, err
	}
	lang, err := row.OptionalText(colLang)
	if err != nil {
		return SavedPage{}, err
	}
	namespace, err := row.OptionalText(colNamespace)
	if err != nil {
		return SavedPage{}, err
	}
	title, err := row.Text(colTitle)
	if err != nil {
		return SavedPage{}, err
	}
	ms, err := row.Int64(colTimestamp)
	if err != nil {
		return SavedPage{}, err
	}
	return SavedPage{
		Title: page.Title{
			Namespace: namespace,
			Text:      title,
			Site:      page.Site{Authority: site, Lang: lang},
		},
		Timestamp: time.UnixMilli(ms),
	}, nil
}

// Pages combines the index table with the artifact directory.
type Pages struct {
	table *sqlite.Table[SavedPage]
	dir   *artifact.Dir
}

// New returns the saved page store.
func New(table *sqlite.Table[SavedPage], dir *artifact.Dir) *Pages {
	return &Pages{table: table, dir: dir}
}

// Table returns the index table.
func (p *Pages) Table() *sqlite.Table[SavedPage] {
	return p.table
}

// Exists reports whether title has been saved.
func (p *Pages) Exists(ctx context.Context, title page.Title) bool {
	return p.table.Exists(ctx, SavedPage{Title: title})
}

// Save writes the payload for title and records it as saved at ts.
// The payload lands first so an indexed page always has content.
func (p *Pages) Save(ctx context.Context, title page.Title, ts time.Time, payload io.Reader) error {
	if err := p.dir.Write(artifactID(title), PayloadFile, payload); err != nil {
		return err
	}
	if err := p.table.Upsert(ctx, SavedPage{Title: title, Timestamp: ts}); err != nil {
		return fmt.Errorf("failed to index saved page: %w", err)
	}
	return nil
}

// Get returns the index entry for title.
func (p *Pages) Get(ctx context.Context, title page.Title) (SavedPage, bool, error) {
	return p.table.SelectExact(ctx, p.table.Definition().Key(SavedPage{Title: title})...)
}

// Payload returns the saved content of title. ok is false when the page was
// never saved or its artifact is gone.
func (p *Pages) Payload(ctx context.Context, title page.Title) (r io.Reader, ok bool, err error) {
	_, found, err := p.Get(ctx, title)
	if err != nil || !found {
		return nil, false, err
	}
	data, err := p.dir.Read(artifactID(title), PayloadFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read saved page: %w", err)
	}
	return bytes.NewReader(data), true, nil
}

// ForSite lists every page saved from site.
func (p *Pages) ForSite(ctx context.Context, site page.Site) ([]SavedPage, error) {
	return p.table.SelectByPartialKey(ctx, store.Match{colSite: site.Authority, colLang: site.Lang})
}

// List returns every saved page.
func (p *Pages) List(ctx context.Context) ([]SavedPage, error) {
	return p.table.All(ctx)
}
