package planner

import "github.com/dbmesh/proxy/internal/sqlrewrite"

// PlanDescription is the minimal shell spec.md §1 calls for: a
// human-readable description of where a statement would be routed,
// with no cost model or real query plan behind it.
type PlanDescription struct {
	Segments []string
	Tables   []string
}

// Explainer describes how a statement would be planned without
// running it.
type Explainer interface {
	ExplainPlan(stmtCtx *sqlrewrite.StatementContext) PlanDescription
}

// StubExplainer reports the Planner's segment choice and the tables
// the analyser found, nothing more.
type StubExplainer struct {
	planner Planner
}

func NewStubExplainer(p Planner) *StubExplainer {
	return &StubExplainer{planner: p}
}

func (e *StubExplainer) ExplainPlan(stmtCtx *sqlrewrite.StatementContext) PlanDescription {
	tables := make([]string, 0, len(stmtCtx.Common.Tables))
	for t := range stmtCtx.Common.Tables {
		tables = append(tables, t)
	}
	return PlanDescription{
		Segments: e.planner.Plan(stmtCtx),
		Tables:   tables,
	}
}
