package store

// RowID names the synthetic row identifier every table declares at version 1.
const RowID = "_id"

// Column describes one physical column.
type Column struct {
	Name string
	// Type is the SQL type affinity plus any constraints, e.g. "TEXT" or
	// "INTEGER PRIMARY KEY".
	Type string
}

// String renders the column as a DDL fragment.
func (c Column) String() string {
	if c.Type == "" {
		return QuoteIdent(c.Name)
	}
	return QuoteIdent(c.Name) + " " + c.Type
}

// IDColumn is the row identifier column required at version 1.
func IDColumn() Column {
	return Column{Name: RowID, Type: "INTEGER PRIMARY KEY"}
}

// Text returns a TEXT column named name.
func Text(name string) Column {
	return Column{Name: name, Type: "TEXT"}
}

// Integer returns an INTEGER column named name.
func Integer(name string) Column {
	return Column{Name: name, Type: "INTEGER"}
}
