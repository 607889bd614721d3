// Package sqlrewrite implements the two SQL AST visitors named in
// spec.md §4.8: analyse, which collects a table/alias context from a
// parsed statement, and rewrite, which reserializes a statement to SQL
// text under an identifier substitution. Both are built on
// github.com/dolthub/vitess/go/vt/sqlparser, the external parser spec.md
// treats as a consumed library rather than something this core
// implements.
package sqlrewrite

// StatementKind discriminates the four statement-context variants named
// in spec.md §3.
type StatementKind int

const (
	KindSelect StatementKind = iota
	KindUpdate
	KindDelete
	KindDefault
)

// CommonCtx is the shared payload of every StatementContext variant: the
// set of tables touched by the statement, keyed by table name with the
// alias the statement gave it (empty string if unaliased).
type CommonCtx struct {
	Tables map[string]string
}

func newCommonCtx() CommonCtx {
	return CommonCtx{Tables: make(map[string]string)}
}

// StatementContext is the discriminated variant from spec.md §3: one of
// Select/Update/Delete/Default, each carrying a CommonCtx.
type StatementContext struct {
	Kind   StatementKind
	Common CommonCtx
}

func newStatementContext(kind StatementKind) *StatementContext {
	return &StatementContext{Kind: kind, Common: newCommonCtx()}
}

// AddTable records a table -> alias mapping into the statement's table
// set. Re-recording the same table with a different alias overwrites the
// prior entry — a statement realistically only aliases a given physical
// table reference once.
func (c *StatementContext) AddTable(table, alias string) {
	c.Common.Tables[table] = alias
}
