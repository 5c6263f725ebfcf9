package store

import (
	"fmt"
	"sort"
)

// Chain records, per schema version, the columns a table gains and the data
// transform that runs once the store crosses that version.
//
// Chains are declared once, next to the record type they store, so the
// builder methods panic on declarations that can never be applied.
type Chain struct {
	genesis    int
	columns    map[int][]Column
	transforms map[int]Transform
	introduced map[string]int
}

// NewChain starts a chain for a table created when the database reaches genesis.
func NewChain(genesis int) *Chain {
	if genesis < 1 {
		panic(fmt.Sprintf("store: genesis version %d must be at least 1", genesis))
	}
	return &Chain{
		genesis:    genesis,
		columns:    make(map[int][]Column),
		transforms: make(map[int]Transform),
		introduced: make(map[string]int),
	}
}

// Add declares the columns introduced at version.
func (c *Chain) Add(version int, cols ...Column) *Chain {
	if version < 1 {
		panic(fmt.Sprintf("store: column version %d must be at least 1", version))
	}
	for _, col := range cols {
		if col.Name == "" {
			panic("store: column name is empty")
		}
		if v, ok := c.introduced[col.Name]; ok {
			panic(fmt.Sprintf("store: column %q already introduced at version %d", col.Name, v))
		}
		c.introduced[col.Name] = version
		c.columns[version] = append(c.columns[version], col)
	}
	return c
}

// Transform registers fn to run at version, after that version's columns exist.
func (c *Chain) Transform(version int, fn Transform) *Chain {
	if version <= c.genesis {
		panic(fmt.Sprintf("store: transform at version %d would run before or while the table is created (genesis %d)", version, c.genesis))
	}
	if _, ok := c.transforms[version]; ok {
		panic(fmt.Sprintf("store: transform already registered at version %d", version))
	}
	c.transforms[version] = fn
	return c
}

// Genesis returns the database version at which the table is created.
func (c *Chain) Genesis() int {
	return c.genesis
}

// ColumnsIntroducedAt returns the columns added at version, or nil when none were.
func (c *Chain) ColumnsIntroducedAt(version int) []Column {
	cols := c.columns[version]
	if len(cols) == 0 {
		return nil
	}
	out := make([]Column, len(cols))
	copy(out, cols)
	return out
}

// InitialColumns returns the columns of the CREATE TABLE issued at genesis:
// everything declared at versions 1 through genesis, in version order.
func (c *Chain) InitialColumns() []Column {
	return c.ColumnsAt(c.genesis)
}

// ColumnsAt returns the physical column set of the table at version.
func (c *Chain) ColumnsAt(version int) []Column {
	var out []Column
	for _, v := range c.columnVersions() {
		if v > version {
			break
		}
		out = append(out, c.columns[v]...)
	}
	return out
}

// TransformAt returns the transform registered at version, or nil.
func (c *Chain) TransformAt(version int) Transform {
	return c.transforms[version]
}

// Has reports whether the chain declares column at any version.
func (c *Chain) Has(column string) bool {
	_, ok := c.introduced[column]
	return ok
}

// IntroducedAt returns the version at which column was added.
func (c *Chain) IntroducedAt(column string) (int, bool) {
	v, ok := c.introduced[column]
	return v, ok
}

func (c *Chain) columnVersions() []int {
	versions := make([]int, 0, len(c.columns))
	for v := range c.columns {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions
}
