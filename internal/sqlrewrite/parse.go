package sqlrewrite

import "github.com/dolthub/vitess/go/vt/sqlparser"

// Parse is a thin facade over the external parser, kept here so callers
// never import sqlparser directly just to get a Statement to hand to
// Analyse/Rewrite.
func Parse(sql string) (sqlparser.Statement, error) {
	return sqlparser.Parse(sql)
}

// ProducesRows reports whether stmt is a query (SELECT, set-operation
// UNION/EXCEPT/INTERSECT) that returns a result set, as opposed to a
// statement that only reports affected_rows/last_insert_id
// (spec.md §4.9's Query vs SET-variable split).
func ProducesRows(stmt sqlparser.Statement) bool {
	switch stmt.(type) {
	case *sqlparser.Select, *sqlparser.Union:
		return true
	default:
		return false
	}
}
