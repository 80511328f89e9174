package codegen

import (
	"fmt"

	"github.com/orizon-lang/wp4c/internal/diagnostic"
	"github.com/orizon-lang/wp4c/internal/emit"
	"github.com/orizon-lang/wp4c/internal/ir"
)

// translateAction writes the body of an action for one dispatch case.
// Parameters of the action read the argument slot of the matched value;
// every other name is emitted unchanged.
func (p *program) translateAction(b *emit.Builder, k block, a *ir.Action, value, member string) {
	bs := make([]binding, len(a.Params))
	for i, prm := range a.Params {
		bs[i] = binding{owner: a.Name, index: i, text: fmt.Sprintf("%s->u.%s.%s", value, member, prm.Name)}
	}
	ak := k.in(diagnostic.DiagnosticAction, bs...)
	ak.returnText = "break;"
	ak.quietReturn = true
	p.stmts(b, ak, a.Body, 0)
}

// inlineAction expands a direct action call. The body runs inside a
// do/while so a return can leave it with break.
func (p *program) inlineAction(b *emit.Builder, k block, id ir.ExprID) {
	e := p.prog.Expr(id)
	a := p.prog.Action(e.Name)
	if a == nil {
		p.exprUnsupported(k.g.cat, id, "call of undeclared action "+e.Name)
		return
	}
	if len(e.Args) != len(a.Params) {
		p.exprUnsupported(k.g.cat, id, fmt.Sprintf("call of %s with %d arguments", a.Name, len(e.Args)))
		return
	}

	bs := make([]binding, len(a.Params))
	for i, arg := range e.Args {
		bs[i] = binding{owner: a.Name, index: i, text: "(" + k.g.String(arg) + ")"}
	}
	ak := k.in(diagnostic.DiagnosticAction, bs...)
	ak.returnText = "break;"
	ak.quietReturn = true

	b.Comment("%s", p.prog.ExprString(id))
	b.Line("do {")
	b.IncreaseIndent()
	p.stmts(b, ak, a.Body, 0)
	b.DecreaseIndent()
	b.Line("} while (0);")
}
