package sqlrewrite

import (
	"github.com/dolthub/vitess/go/vt/sqlparser"
)

// Analyse walks stmt, recording every table/alias pair reached through
// Select, Update, Delete, DML/DDL table references, and subqueries, into
// a StatementContext classified by the statement's top-level kind
// (spec.md §4.8). It writes no text — only its sibling, Rewrite,
// produces SQL.
func Analyse(stmt sqlparser.Statement) (*StatementContext, error) {
	ctx := newStatementContext(classify(stmt))

	err := sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if ate, ok := node.(*sqlparser.AliasedTableExpr); ok {
			recordAliasedTable(ctx, ate)
		}
		return true, nil
	}, stmt)
	if err != nil {
		return nil, err
	}
	return ctx, nil
}

func recordAliasedTable(ctx *StatementContext, ate *sqlparser.AliasedTableExpr) {
	tn, ok := ate.Expr.(sqlparser.TableName)
	if !ok {
		// Expr is a Subquery or another non-table simple table expr;
		// Walk still recurses into it separately, so its own table
		// references are picked up on their own Walk visit.
		return
	}
	if tn.Name.IsEmpty() {
		return
	}
	ctx.AddTable(tn.Name.String(), ate.As.String())
}

func classify(stmt sqlparser.Statement) StatementKind {
	switch stmt.(type) {
	case *sqlparser.Select:
		return KindSelect
	case *sqlparser.Update:
		return KindUpdate
	case *sqlparser.Delete:
		return KindDelete
	default:
		return KindDefault
	}
}
