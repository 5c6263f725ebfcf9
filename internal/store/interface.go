package store

import "context"

// StoreState represents the initialization state of the datastore.
type StoreState int

const (
	StateMissing       StoreState = iota // File doesn't exist
	StateUninitialized                   // File exists but no table has been created
	StateOutdated                        // Schema exists at an older version
	StateTooNew                          // Schema was written by a newer release
	StateReady                           // Initialized and at the current version
)

func (s StoreState) String() string {
	switch s {
	case StateMissing:
		return "missing"
	case StateUninitialized:
		return "uninitialized"
	case StateOutdated:
		return "outdated"
	case StateTooNew:
		return "too-new"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// Store defines the pagestore datastore contract.
// Open must complete before any table is used; it brings every registered
// table up to the current schema version.
type Store interface {
	// Open opens the datastore connection and upgrades the schema
	Open(ctx context.Context) error

	// Close closes the datastore connection
	Close() error

	// Upgrade applies every pending migration step
	Upgrade(ctx context.Context) error

	// CheckState returns the current state of the datastore
	CheckState(ctx context.Context) (StoreState, error)

	// SchemaVersion returns the schema version recorded in the database
	SchemaVersion(ctx context.Context) (int, error)
}

// Schema is the untyped view of a table definition the migration engine needs.
type Schema interface {
	Name() string
	Chain() *Chain
	KeyColumns() []string
}
