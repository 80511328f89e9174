package codegen

import (
	"fmt"

	"github.com/orizon-lang/wp4c/internal/diagnostic"
	"github.com/orizon-lang/wp4c/internal/emit"
	"github.com/orizon-lang/wp4c/internal/ir"
	"github.com/orizon-lang/wp4c/internal/layout"
)

// block is the context statements are lowered in. It is passed explicitly
// and copied when a nested context differs.
type block struct {
	g *exprGen

	// returnText and exitText replace return and exit; empty means the
	// statement is not allowed here.
	returnText string
	exitText   string
	// quietReturn drops a return at the top level of the block, where the
	// enclosing construct already ends.
	quietReturn bool

	parser   *parserLowering
	control  *controlLowering
	deparser *deparserLowering
}

func (k block) in(cat diagnostic.DiagnosticCategory, bs ...binding) block {
	k.g = k.g.with(cat, bs...)
	return k
}

// stmts lowers a statement list, dropping everything after the first
// return or exit.
func (p *program) stmts(b *emit.Builder, k block, list []ir.Stmt, depth int) {
	for i := range list {
		s := &list[i]
		p.stmt(b, k, s, depth)
		if s.Terminates() {
			return
		}
	}
}

func (p *program) stmt(b *emit.Builder, k block, s *ir.Stmt, depth int) {
	switch s.Kind {
	case ir.StmtAssign:
		p.assign(b, k, s)

	case ir.StmtCall:
		p.callStmt(b, k, s.Expr)

	case ir.StmtIf:
		p.hoistApplies(b, k, s.Expr)
		b.Line("if (%s) {", k.g.String(s.Expr))
		b.IncreaseIndent()
		p.stmts(b, k, s.Then, depth+1)
		b.DecreaseIndent()
		if len(s.Else) > 0 {
			b.Line("} else {")
			b.IncreaseIndent()
			p.stmts(b, k, s.Else, depth+1)
			b.DecreaseIndent()
		}
		b.Line("}")

	case ir.StmtBlock:
		b.EmitIndent()
		b.BlockStart()
		p.stmts(b, k, s.Body, depth+1)
		b.BlockEnd(true)

	case ir.StmtSwitch:
		if k.control == nil {
			p.unsupported(s.Span, k.g.cat, p.prog.StmtString(s), "switch statement here")
			return
		}
		k.control.switchStmt(b, k, s, depth)

	case ir.StmtReturn:
		if depth == 0 && k.quietReturn {
			return
		}
		p.jump(b, k, s, k.returnText)

	case ir.StmtExit:
		p.jump(b, k, s, k.exitText)

	case ir.StmtDecl:
		p.declare(b, k.g, s.Decl)

	case ir.StmtEmpty:

	default:
		p.unsupported(s.Span, k.g.cat, p.prog.StmtString(s), fmt.Sprintf("statement kind %s", s.Kind))
	}
}

func (p *program) jump(b *emit.Builder, k block, s *ir.Stmt, text string) {
	if text == "" {
		p.unsupported(s.Span, k.g.cat, p.prog.StmtString(s), s.Kind.String()+" here")
		return
	}
	b.Line("%s", text)
}

// hoistApplies emits the table application of an expression ahead of it,
// so that the expression itself only reads the shared hit and action_run
// results. Only one application per expression is possible, and it must be
// evaluated unconditionally.
func (p *program) hoistApplies(b *emit.Builder, k block, expr ir.ExprID) {
	found := p.collectApplies(expr, false)
	if len(found) > 1 {
		p.exprUnsupported(k.g.cat, expr, fmt.Sprintf("%d table applications in one expression", len(found)))
		return
	}
	for _, at := range found {
		switch {
		case k.control == nil:
			p.exprUnsupported(k.g.cat, at.call, "table application here")
		case at.guarded:
			p.exprUnsupported(k.g.cat, expr, "table application in the right operand of && or ||")
		default:
			k.control.apply(b, k, at.call)
		}
	}
}

// declare writes a local variable with its initializer, or zeroed.
func (p *program) declare(b *emit.Builder, g *exprGen, d *ir.Decl) {
	if d == nil || !p.checkName(d.Span, p.prog.TypeString(d.Type)+" "+d.Name, d.Name, true) {
		return
	}
	desc := p.typeLayout(d.Type, d.Span, p.prog.TypeString(d.Type)+" "+d.Name)
	if desc == nil {
		return
	}
	if d.Init == ir.NoExpr || !desc.IsScalar() {
		desc.DeclareZeroed(b, d.Name)
		if d.Init != ir.NoExpr {
			p.store(b, g, d.Name, desc, d.Init)
		}
		return
	}
	b.EmitIndent()
	desc.Declare(b, d.Name, false)
	b.Appendf(" = %s", g.String(d.Init))
	b.EndOfStatement(true)
}

func (p *program) assign(b *emit.Builder, k block, s *ir.Stmt) {
	right := p.prog.Expr(s.Right)
	if right != nil && right.Kind == ir.ExprCall && right.Call == ir.CallLookahead {
		if k.parser == nil {
			p.exprUnsupported(k.g.cat, s.Right, "lookahead outside the parser")
			return
		}
		k.parser.lookahead(b, k, s.Left, s.Right)
		return
	}
	p.hoistApplies(b, k, s.Right)

	desc := p.exprLayout(s.Left)
	if desc == nil {
		return
	}
	p.store(b, k.g, k.g.String(s.Left), desc, s.Right)
}

// store assigns the value of right to the storage named by dst.
func (p *program) store(b *emit.Builder, g *exprGen, dst string, desc *layout.Descriptor, right ir.ExprID) {
	if desc.IsWide() {
		n := layout.BytesRequired(desc.WidthInBits())
		if bs, ok := g.constBytes(right, n); ok {
			b.EmitIndent()
			b.BlockStart()
			b.Line("static const u8 wp4_c[%d] = %s;", n, byteList(bs))
			b.Line("memcpy(%s, wp4_c, %d);", dst, n)
			b.BlockEnd(true)
			return
		}
		if !g.isLValue(right) {
			g.fail(right, fmt.Sprintf("assignment of a computed %d-bit value", desc.WidthInBits()))
			return
		}
		b.Line("memcpy(%s, %s, %d);", dst, g.String(right), n)
		return
	}
	b.Line("%s = %s;", dst, g.String(right))
}

func (p *program) callStmt(b *emit.Builder, k block, id ir.ExprID) {
	e := p.prog.Expr(id)
	if e == nil || e.Kind != ir.ExprCall {
		p.exprUnsupported(k.g.cat, id, "expression statement")
		return
	}

	switch e.Call {
	case ir.CallExtract:
		if k.parser == nil {
			p.exprUnsupported(k.g.cat, id, "extract outside the parser")
			return
		}
		k.parser.extract(b, k, id)

	case ir.CallEmit:
		if k.deparser == nil {
			p.exprUnsupported(k.g.cat, id, "emit outside the deparser")
			return
		}
		k.deparser.emitHeader(b, k, id)

	case ir.CallApply:
		if k.control == nil {
			p.exprUnsupported(k.g.cat, id, "table application here")
			return
		}
		k.control.apply(b, k, id)

	case ir.CallSetValid, ir.CallSetInvalid:
		v := 1
		if e.Call == ir.CallSetInvalid {
			v = 0
		}
		b.Line("%s.%s = %d;", k.g.String(e.Base), layout.ValidField, v)

	case ir.CallIsValid:
		// No effect.

	case ir.CallAction:
		p.inlineAction(b, k, id)

	case ir.CallExtern:
		p.externCall(b, k, id, e)

	default:
		p.exprUnsupported(k.g.cat, id, fmt.Sprintf("%s call as a statement", e.Call))
	}
}

func (p *program) externCall(b *emit.Builder, k block, id ir.ExprID, e *ir.Expr) {
	switch {
	case e.Name == "verify":
		if k.parser == nil || len(e.Args) == 0 {
			p.exprUnsupported(k.g.cat, id, "verify outside the parser")
			return
		}
		b.Line("if (!(%s)) goto %s;", k.g.String(e.Args[0]), ir.StateReject)
	case p.cfg.IsDropExtern(e.Name):
		b.Line("return %s;", p.cfg.DropCode)
	default:
		p.exprUnsupported(k.g.cat, id, "extern "+e.Name)
	}
}
