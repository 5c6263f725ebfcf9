package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Transform is a one-time data step run while the store crosses a version.
type Transform func(ctx context.Context, m Migration) error

// Migration is what a Transform sees of the table being upgraded. All calls
// run inside the transaction that also records the new schema version.
type Migration interface {
	// Version is the version being applied.
	Version() int
	// Table is the name of the table being upgraded.
	Table() string
	// KeyColumns lists the columns that together identify a record.
	KeyColumns() []string
	// Rows reads every row of the table in identifier order. The result set
	// is closed before it returns.
	Rows(ctx context.Context) ([]Row, error)
	// Update writes values to the row with the given identifier.
	Update(ctx context.Context, id int64, values Row) error
	// Delete removes the row with the given identifier.
	Delete(ctx context.Context, id int64) error
	// AfterCommit schedules fn to run once the version has been committed.
	AfterCommit(fn func())
}

// NormalizeText replaces spaces with underscores in column for every row that
// contains one. Rows are addressed by identifier because the key text itself
// changes.
//
// When column is part of the key, two rows can end up with the same key. The
// row with the lowest identifier is kept and the others are deleted, the same
// rule Upsert applies to duplicates.
//
// After commit, onDrop is called with every deleted row as it was stored, and
// then onRename with every kept row that was rewritten, as it was and as it
// is now. Either hook may be nil.
func NormalizeText(column string, onRename func(before, after Row), onDrop func(dropped Row)) Transform {
	return func(ctx context.Context, m Migration) error {
		rows, err := m.Rows(ctx)
		if err != nil {
			return err
		}

		keys := m.KeyColumns()
		dedupe := slices.Contains(keys, column)
		owners := make(map[string]int64)

		var dropped []Row
		var renamed [][2]Row
		for _, row := range rows {
			text, err := row.OptionalText(column)
			if err != nil {
				return err
			}
			id, err := row.ID()
			if err != nil {
				return err
			}
			normalized := strings.ReplaceAll(text, " ", "_")
			after := row.Clone()
			after[column] = normalized

			if dedupe {
				key := rowKey(after, keys)
				if owner, ok := owners[key]; ok {
					if err := m.Delete(ctx, id); err != nil {
						return fmt.Errorf("failed to drop row %d duplicating row %d: %w", id, owner, err)
					}
					dropped = append(dropped, row)
					continue
				}
				owners[key] = id
			}

			if normalized == text {
				continue
			}
			if err := m.Update(ctx, id, Row{column: normalized}); err != nil {
				return fmt.Errorf("failed to normalize row %d: %w", id, err)
			}
			renamed = append(renamed, [2]Row{row, after})
		}

		if onDrop != nil {
			for _, row := range dropped {
				m.AfterCommit(func() { onDrop(row) })
			}
		}
		if onRename != nil {
			for _, pair := range renamed {
				m.AfterCommit(func() { onRename(pair[0], pair[1]) })
			}
		}
		return nil
	}
}

// rowKey joins the key cells of row. Missing and NULL cells count as "".
func rowKey(row Row, keys []string) string {
	parts := make([]string, len(keys))
	for i, col := range keys {
		parts[i] = keyText(row[col])
	}
	return strings.Join(parts, "\x00")
}

// SplitField fills dst, where it is unset, with segment index of src split on sep.
// An out of range segment yields the empty string.
func SplitField(src, dst, sep string, index int) Transform {
	return func(ctx context.Context, m Migration) error {
		rows, err := m.Rows(ctx)
		if err != nil {
			return err
		}
		for _, row := range rows {
			current, err := row.OptionalText(dst)
			if err != nil {
				return err
			}
			if current != "" {
				continue
			}
			combined, err := row.OptionalText(src)
			if err != nil {
				return err
			}
			id, err := row.ID()
			if err != nil {
				return err
			}
			value := ""
			if parts := strings.Split(combined, sep); index >= 0 && index < len(parts) {
				value = parts[index]
			}
			if err := m.Update(ctx, id, Row{dst: value}); err != nil {
				return fmt.Errorf("failed to split %s into %s for row %d: %w", src, dst, id, err)
			}
		}
		return nil
	}
}
