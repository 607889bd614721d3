package sqlrewrite

import (
	"github.com/dolthub/vitess/go/vt/sqlparser"
)

// Rewrite reserializes stmt to SQL text, substituting any TableName whose
// unqualified name appears in substitution with its replacement and
// otherwise falling back to the parser's own canonical surface form
// (spec.md §4.8). With an empty substitution this is a round-trip
// identity modulo whitespace and case (P3), since every node not
// intercepted by the formatter below falls through to its own Format
// method — the same one sqlparser.String would have used.
func Rewrite(stmt sqlparser.Statement, substitution map[string]string) string {
	buf := sqlparser.NewTrackedBuffer(func(buf *sqlparser.TrackedBuffer, node sqlparser.SQLNode) {
		if tn, ok := node.(sqlparser.TableName); ok {
			if repl, ok := substitution[tn.Name.String()]; ok {
				writeSubstitutedTable(buf, tn, repl)
				return
			}
		}
		node.Format(buf)
	})
	buf.Myprintf("%v", stmt)
	return buf.String()
}

func writeSubstitutedTable(buf *sqlparser.TrackedBuffer, tn sqlparser.TableName, replacement string) {
	if tn.Qualifier.IsEmpty() {
		buf.Myprintf("%s", replacement)
		return
	}
	buf.Myprintf("%v.%s", tn.Qualifier, replacement)
}
