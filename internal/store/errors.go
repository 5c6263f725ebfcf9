package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotOpen reports use of a store before Open.
	ErrNotOpen = errors.New("database not opened")

	// ErrSchemaTooNew reports a database written by a newer release.
	ErrSchemaTooNew = errors.New("schema version is newer than supported")

	// ErrKeyArity reports a lookup whose value count differs from the key column count.
	ErrKeyArity = errors.New("key value count does not match key columns")

	// ErrUnknownKeyColumn reports a partial-key lookup naming a column outside the key.
	ErrUnknownKeyColumn = errors.New("column is not part of the key")

	// ErrUnknownTable reports a table that was not registered when the store was created.
	ErrUnknownTable = errors.New("table is not registered with the store")
)

// MalformedRowError reports a row that does not satisfy its codec.
type MalformedRowError struct {
	Table  string
	Column string
	Reason string
}

func (e *MalformedRowError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("malformed row: column %q: %s", e.Column, e.Reason)
	}
	return fmt.Sprintf("malformed row in %s: column %q: %s", e.Table, e.Column, e.Reason)
}

// MigrationStepError reports a schema or data step that failed while upgrading.
// The version it names was rolled back; earlier versions stay committed.
type MigrationStepError struct {
	Version int
	Table   string
	Step    string
	Err     error
}

func (e *MigrationStepError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("migration to version %d failed at %s: %v", e.Version, e.Step, e.Err)
	}
	return fmt.Sprintf("migration of %s to version %d failed at %s: %v", e.Table, e.Version, e.Step, e.Err)
}

func (e *MigrationStepError) Unwrap() error {
	return e.Err
}
