// Package catalog wires the page tables into one SQLite store.
package catalog

import (
	"context"
	"fmt"

	"github.com/maloquacious/pagestore/internal/artifact"
	"github.com/maloquacious/pagestore/internal/config"
	"github.com/maloquacious/pagestore/internal/logger"
	"github.com/maloquacious/pagestore/internal/pageimages"
	"github.com/maloquacious/pagestore/internal/savedpages"
	"github.com/maloquacious/pagestore/internal/store"
	"github.com/maloquacious/pagestore/internal/store/sqlite"
)

// CurrentVersion is the schema version this release writes.
const CurrentVersion = 10

// Catalog holds the open store and its tables.
type Catalog struct {
	Store  *sqlite.SQLiteStore
	Images *sqlite.Table[pageimages.PageImage]
	Pages  *savedpages.Pages
}

// NewStore returns an unopened store with every page table registered.
func NewStore(cfg config.Config, log logger.Logger) *sqlite.SQLiteStore {
	s, _, _ := newStore(cfg, log)
	return s
}

func newStore(cfg config.Config, log logger.Logger) (*sqlite.SQLiteStore, *store.Table[savedpages.SavedPage], *artifact.Dir) {
	dir := artifact.NewDir(cfg.ArtifactPath())
	saved := savedpages.Definition(dir, log)
	s := sqlite.New(cfg.DBPath(), CurrentVersion, pageimages.Table, saved).WithLogger(log)
	return s, saved, dir
}

// Open opens and upgrades the store described by cfg.
func Open(ctx context.Context, cfg config.Config, log logger.Logger) (*Catalog, error) {
	s, saved, dir := newStore(cfg, log)
	if err := s.Open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	images, err := sqlite.OpenTable(s, pageimages.Table)
	if err != nil {
		s.Close()
		return nil, err
	}
	pages, err := sqlite.OpenTable(s, saved)
	if err != nil {
		s.Close()
		return nil, err
	}

	return &Catalog{
		Store:  s,
		Images: images,
		Pages:  savedpages.New(pages, dir),
	}, nil
}

// Close closes the underlying store.
func (c *Catalog) Close() error {
	return c.Store.Close()
}

var _ store.Store = (*sqlite.SQLiteStore)(nil)
