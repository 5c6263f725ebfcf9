package store

import "strings"

// QuoteLiteral renders s as an SQL string literal, doubling embedded single quotes.
// Only needed where a filter is built as raw text; everything else binds parameters.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// QuoteIdent renders name as a quoted SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
