package codegen

import (
	"fmt"

	"github.com/orizon-lang/wp4c/internal/diagnostic"
	"github.com/orizon-lang/wp4c/internal/emit"
	"github.com/orizon-lang/wp4c/internal/ir"
	"github.com/orizon-lang/wp4c/internal/layout"
)

// metaLocal is a control parameter stored in a local struct of the entry
// routine.
type metaLocal struct {
	param *ir.Param
	name  string
	desc  *layout.Descriptor
}

// controlLowering lowers the pipeline or the deparser. Parameters of the
// parser's headers type are bound to the parser's header instance.
type controlLowering struct {
	p   *program
	ctl *ir.Control
	k   block

	tables   []*tableLowering
	metadata []metaLocal
	// own holds metadata declared inside the control's block.
	own []metaLocal

	dep *deparserLowering
}

func (p *program) buildControl(ctl *ir.Control, isDeparser bool) *controlLowering {
	cat := diagnostic.DiagnosticControl
	cl := &controlLowering{p: p, ctl: ctl}

	var bs []binding
	for i := range ctl.Params {
		prm := &ctl.Params[i]
		if prm.Type == ir.NoType {
			// Packet handles are only used as call receivers.
			continue
		}
		if p.prog.Canonical(prm.Type) == p.prog.Canonical(p.headerType.Type) {
			bs = append(bs, binding{owner: ctl.Name, index: i, text: p.headerVar})
			continue
		}
		d := p.typeLayout(prm.Type, prm.Span, prm.Name)
		if d == nil {
			continue
		}
		if isDeparser {
			if m, ok := p.pipeline.metadataOf(prm); ok {
				bs = append(bs, binding{owner: ctl.Name, index: i, text: m.name})
				continue
			}
			cl.own = append(cl.own, metaLocal{param: prm, name: prm.Name, desc: d})
			continue
		}
		cl.metadata = append(cl.metadata, metaLocal{param: prm, name: prm.Name, desc: d})
	}

	cl.k = block{
		g:          p.newExprGen(cat, bs...),
		returnText: fmt.Sprintf("goto %s;", p.endLabel),
		exitText:   fmt.Sprintf("goto %s;", p.endLabel),
		control:    cl,
	}
	if isDeparser {
		cl.dep = p.buildDeparser(cl)
		cl.k.deparser = cl.dep
		cl.k.returnText = fmt.Sprintf("goto %s;", cl.dep.endLabel)
		cl.k.exitText = cl.k.returnText
	}

	for i := range ctl.Tables {
		if tl := p.buildTable(ctl, &ctl.Tables[i]); tl != nil {
			cl.tables = append(cl.tables, tl)
		}
	}
	return cl
}

// metadataOf finds the pipeline local a deparser parameter shares: same
// name and same type.
func (cl *controlLowering) metadataOf(prm *ir.Param) (metaLocal, bool) {
	for _, m := range cl.metadata {
		if m.param.Name == prm.Name && cl.p.prog.Canonical(m.param.Type) == cl.p.prog.Canonical(prm.Type) {
			return m, true
		}
	}
	return metaLocal{}, false
}

// emitParamLocals declares the metadata structs at the top of the entry
// routine.
func (cl *controlLowering) emitParamLocals(b *emit.Builder) {
	for _, m := range cl.metadata {
		m.desc.DeclareZeroed(b, m.name)
	}
}

func (cl *controlLowering) emitBody(b *emit.Builder) {
	for _, m := range cl.own {
		m.desc.DeclareZeroed(b, m.name)
	}
	for i := range cl.ctl.Locals {
		cl.p.declare(b, cl.k.g, &cl.ctl.Locals[i])
	}
	if cl.dep != nil {
		cl.dep.emitPrologue(b)
	}
	cl.p.stmts(b, cl.k, cl.ctl.Body, 0)
	if cl.dep != nil {
		cl.dep.emitEpilogue(b)
	}
}

func (cl *controlLowering) table(name string) *tableLowering {
	for _, tl := range cl.tables {
		if tl.t.Name == name {
			return tl
		}
	}
	return nil
}

// appliedTable returns the table a t.apply() call refers to.
func (cl *controlLowering) appliedTable(call ir.ExprID) *tableLowering {
	e := cl.p.prog.Expr(call)
	recv := cl.p.prog.Expr(e.Base)
	if recv == nil || recv.Kind != ir.ExprPath || recv.Ref.Kind != ir.RefTable {
		cl.p.exprUnsupported(diagnostic.DiagnosticControl, call, "apply of a non-table")
		return nil
	}
	tl := cl.table(recv.Name)
	if tl == nil {
		cl.p.exprUnsupported(diagnostic.DiagnosticControl, call, "apply of table "+recv.Name+" outside this control")
	}
	return tl
}

func (cl *controlLowering) apply(b *emit.Builder, k block, call ir.ExprID) {
	tl := cl.appliedTable(call)
	if tl == nil {
		return
	}
	b.Comment("%s", cl.p.prog.ExprString(call))
	tl.apply(b, k)
}

// switchStmt lowers switch (t.apply().action_run). The table is applied
// first; the switch then reads the action that ran.
func (cl *controlLowering) switchStmt(b *emit.Builder, k block, s *ir.Stmt, depth int) {
	p := cl.p
	subj := p.prog.Expr(s.Expr)
	var call ir.ExprID
	if subj != nil && subj.Kind == ir.ExprMember && subj.Name == "action_run" {
		if base := p.prog.Expr(subj.Base); base != nil && base.Kind == ir.ExprCall && base.Call == ir.CallApply {
			call = subj.Base
		}
	}
	if call == ir.NoExpr {
		p.unsupported(s.Span, diagnostic.DiagnosticControl, p.prog.StmtString(s), "switch on anything but apply().action_run")
		return
	}
	tl := cl.appliedTable(call)
	if tl == nil {
		return
	}
	b.Comment("%s", p.prog.ExprString(call))
	tl.apply(b, k)

	b.Line("switch (%s) {", p.actionRun)
	for ci, c := range s.Cases {
		for _, label := range c.Labels {
			tag, ok := tl.tag(label)
			if !ok {
				p.unsupported(c.Span, diagnostic.DiagnosticControl, p.prog.StmtString(s),
					"case "+label+" not in the actions of table "+tl.t.Name)
				continue
			}
			b.Line("case %s:", tag)
		}
		if c.Default {
			b.Line("default:")
		}
		if len(c.Body) == 0 {
			// Empty arms fall through to the next one.
			if ci == len(s.Cases)-1 {
				b.Line("    break;")
			}
			continue
		}
		b.IncreaseIndent()
		b.EmitIndent()
		b.BlockStart()
		p.stmts(b, k, c.Body, depth+1)
		b.BlockEnd(true)
		b.Line("break;")
		b.DecreaseIndent()
	}
	b.Line("}")
}
