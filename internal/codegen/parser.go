package codegen

import (
	"fmt"

	"github.com/orizon-lang/wp4c/internal/diagnostic"
	"github.com/orizon-lang/wp4c/internal/emit"
	"github.com/orizon-lang/wp4c/internal/errors"
	"github.com/orizon-lang/wp4c/internal/ir"
	"github.com/orizon-lang/wp4c/internal/layout"
	"github.com/orizon-lang/wp4c/internal/naming"
	"github.com/orizon-lang/wp4c/internal/position"
)

// parserLowering turns the parser state machine into labelled blocks of the
// entry routine. Each state jumps to its successor with goto; reject is a
// synthetic terminal block.
type parserLowering struct {
	p  *program
	ps *ir.Parser
	k  block

	usedTemps map[int]bool
}

func (p *program) buildParser() *parserLowering {
	ps := p.prog.Parser
	if len(ps.Params) != 2 {
		p.report(diagnostic.Common.Malformed(ps.Span, "parser "+ps.Name,
			fmt.Sprintf("Expected parser to have exactly 2 parameters, found %d", len(ps.Params))))
		return nil
	}

	headers := ps.Params[1]
	d := p.typeLayout(headers.Type, headers.Span, headers.Name)
	if d == nil {
		p.report(diagnostic.Common.Malformed(headers.Span, "parser "+ps.Name,
			"headers parameter "+headers.Name+" has no layout"))
		return nil
	}
	if !d.IsStructLike() {
		p.report(diagnostic.Common.Malformed(headers.Span, "parser "+ps.Name,
			fmt.Sprintf("headers parameter %s must be a struct, found %s", headers.Name, d.TypeName())))
		return nil
	}
	p.headerType = d
	p.headerVar = headers.Name

	pl := &parserLowering{p: p, ps: ps, usedTemps: make(map[int]bool)}
	pl.k = block{
		g:      p.newExprGen(diagnostic.DiagnosticParser),
		parser: pl,
	}
	return pl
}

func (pl *parserLowering) emitLocals(b *emit.Builder) {
	for i := range pl.ps.Locals {
		pl.p.declare(b, pl.k.g, &pl.ps.Locals[i])
	}
}

func stateLabel(name string) string {
	return naming.Sanitize(name)
}

func (pl *parserLowering) emitStates(b *emit.Builder) {
	for i := range pl.ps.States {
		st := &pl.ps.States[i]
		if st.IsBuiltin() {
			continue
		}
		b.EmitIndent()
		b.Appendf("%s: ", stateLabel(st.Name))
		b.BlockStart()
		pl.p.stmts(b, pl.k, st.Components, 0)
		pl.transition(b, st)
		b.BlockEnd(true)
	}

	b.EmitIndent()
	b.Appendf("%s: ", ir.StateReject)
	b.BlockStart()
	if pl.p.cfg.Trace {
		b.Line(`printk("** WP4: Packet Rejected!! **\n");`)
	}
	b.Line("return %s;", pl.p.cfg.AbortCode)
	b.BlockEnd(true)
}

func (pl *parserLowering) transition(b *emit.Builder, st *ir.ParserState) {
	tr := &st.Transition
	switch tr.Kind {
	case ir.TransitionNone:
		b.Line("goto %s;", ir.StateReject)
	case ir.TransitionGoto:
		b.Line("goto %s;", stateLabel(tr.Next))
	case ir.TransitionSelect:
		pl.selectTransition(b, st)
	default:
		pl.p.unsupported(tr.Span, diagnostic.DiagnosticParser, "state "+st.Name, fmt.Sprintf("transition kind %s", tr.Kind))
	}
}

func (pl *parserLowering) selectTransition(b *emit.Builder, st *ir.ParserState) {
	p, g, tr := pl.p, pl.k.g, &st.Transition
	if len(tr.Select) != 1 {
		p.unsupported(tr.Span, diagnostic.DiagnosticParser, "state "+st.Name,
			fmt.Sprintf("select on %d expressions", len(tr.Select)))
		return
	}
	d := p.exprLayout(tr.Select[0])
	if d == nil {
		return
	}
	if !d.IsScalar() {
		p.exprUnsupported(diagnostic.DiagnosticParser, tr.Select[0], "select on a non-scalar value")
		return
	}
	sel := g.String(tr.Select[0])

	masked := false
	for _, c := range tr.Cases {
		if e := p.prog.Expr(c.Keyset); e != nil && e.Kind == ir.ExprMask {
			masked = true
		}
	}
	if masked {
		pl.selectChain(b, sel, tr.Cases)
		return
	}

	hasDefault := false
	b.EmitIndent()
	b.Appendf("switch (%s) ", sel)
	b.BlockStart()
	for _, c := range tr.Cases {
		e := p.prog.Expr(c.Keyset)
		if e != nil && e.Kind == ir.ExprDefault {
			hasDefault = true
			b.Line("default: goto %s;", stateLabel(c.Next))
			continue
		}
		b.Line("case %s: goto %s;", g.String(c.Keyset), stateLabel(c.Next))
	}
	if !hasDefault {
		b.Line("default: goto %s;", ir.StateReject)
	}
	b.BlockEnd(true)
}

// selectChain lowers a select with masked keysets to tests in case order.
func (pl *parserLowering) selectChain(b *emit.Builder, sel string, cases []ir.SelectCase) {
	g := pl.k.g
	for _, c := range cases {
		e := pl.p.prog.Expr(c.Keyset)
		switch {
		case e != nil && e.Kind == ir.ExprDefault:
			b.Line("goto %s;", stateLabel(c.Next))
			return
		case e != nil && e.Kind == ir.ExprMask:
			v, m := g.String(e.Left), g.String(e.Right)
			b.Line("if (((%s) & (%s)) == ((%s) & (%s))) goto %s;", sel, m, v, m, stateLabel(c.Next))
		default:
			b.Line("if ((%s) == (%s)) goto %s;", sel, g.String(c.Keyset), stateLabel(c.Next))
		}
	}
	b.Line("goto %s;", ir.StateReject)
}

func (pl *parserLowering) extract(b *emit.Builder, k block, call ir.ExprID) {
	e := pl.p.prog.Expr(call)
	if len(e.Args) != 1 {
		pl.p.exprUnsupported(diagnostic.DiagnosticParser, call,
			fmt.Sprintf("extract with %d arguments", len(e.Args)))
		return
	}
	b.Line("/* %s */", pl.p.prog.ExprString(call))
	pl.extractInto(b, k, e.Args[0], e.Span)
}

// lookahead extracts into dst and restores the packet offset afterwards.
func (pl *parserLowering) lookahead(b *emit.Builder, k block, dst, call ir.ExprID) {
	p := pl.p
	b.Line("/* %s = %s */", p.prog.ExprString(dst), p.prog.ExprString(call))
	b.EmitIndent()
	b.BlockStart()
	b.Line("%s = %s;", p.offsetSave, p.offsetVar)
	pl.extractInto(b, k, dst, p.prog.Expr(call).Span)
	b.Line("%s = %s;", p.offsetVar, p.offsetSave)
	b.BlockEnd(true)
}

// extractInto copies the fields of a struct-like destination from the
// packet, most significant bit first. The running offset is always byte
// aligned between headers because only byte-multiple headers are accepted.
func (pl *parserLowering) extractInto(b *emit.Builder, k block, dst ir.ExprID, span position.Span) {
	p := pl.p
	d := p.exprLayout(dst)
	if d == nil {
		return
	}
	r := d.Resolve()
	if !d.IsStructLike() || r.Kind == ir.TypeHeaderUnion {
		p.unsupported(span, diagnostic.DiagnosticParser, p.prog.ExprString(dst),
			fmt.Sprintf("Cannot extract to a non-struct type %s;", d.TypeName()))
		return
	}
	width := r.WidthInBits()
	if width%8 != 0 {
		p.unsupported(span, diagnostic.DiagnosticParser, p.prog.ExprString(dst),
			fmt.Sprintf("extraction of %s, %d bits wide (not a whole number of bytes)", d.TypeName(), width))
		return
	}
	dstText := k.g.String(dst)

	b.Line("if (%s < BYTES(%s + %d)) {", p.cfg.LengthArg, p.offsetVar, width)
	b.Line("    goto %s;", ir.StateReject)
	b.Line("}")

	for _, f := range r.Fields {
		if !pl.extractField(b, dstText, f, width/8, span) {
			return
		}
	}
	if r.Kind == ir.TypeHeader {
		b.Line("%s.%s = 1;", dstText, layout.ValidField)
	}
}

// extractField loads one field. A field of width w at bit a of its first
// byte is loaded into the smallest container of L bits covering a+w bits.
// When a full container fits inside the header it is loaded whole and
// shifted right by L-a-w; otherwise only the covering bytes are copied into
// the low end of the container. A scalar spanning nine bytes is assembled
// from a 64-bit load and the byte after it.
func (pl *parserLowering) extractField(b *emit.Builder, dst string, f layout.FieldLayout, headerBytes int, span position.Span) bool {
	p := pl.p
	fd := f.Desc.Resolve()
	w := fd.WidthInBits()
	a := f.Offset % 8
	byteStart := f.Offset / 8
	src := fmt.Sprintf("%s + BYTES(%s)", p.packetStart, p.offsetVar)
	target := dst + "." + f.Name

	switch fd.Kind {
	case ir.TypeBits, ir.TypeBool, ir.TypeEnum:
	default:
		p.unsupported(span, diagnostic.DiagnosticParser, target,
			fmt.Sprintf("extraction of a %s field", f.Desc.TypeName()))
		return false
	}

	if fd.IsWide() {
		if a != 0 || w%8 != 0 {
			p.unsupported(span, diagnostic.DiagnosticParser, target,
				fmt.Sprintf("%d-bit field at bit offset %d", w, f.Offset))
			return false
		}
		b.Line("memcpy(%s, %s, %d);", target, src, w/8)
		b.Line("%s += %d;", p.offsetVar, w)
		return true
	}

	nbytes := layout.BytesRequired(a + w)
	var val string
	if nbytes > 8 {
		val = pl.straddle(b, src, a, w)
	} else {
		val = pl.load(b, src, a, w, nbytes, byteStart+layout.ContainerWidth(nbytes*8)/8 <= headerBytes)
	}

	if fd.Signed {
		n := layout.ContainerWidth(w)
		if w < n {
			val = fmt.Sprintf("(s%d)((s%d)((u%d)%s << %d) >> %d)", n, n, n, val, n-w, n-w)
		} else {
			val = fmt.Sprintf("(s%d)%s", n, val)
		}
	} else {
		val = fmt.Sprintf("(%s)%s", f.Desc.TypeName(), val)
	}
	b.Line("%s = %s;", target, val)
	if p.cfg.Trace && w <= 32 {
		b.Line(`printk("** WP4: %s = %%u **\n", (unsigned int)%s);`, target, target)
	}
	b.Line("%s += %d;", p.offsetVar, w)
	return true
}

// load reads the nbytes covering a field into one container and returns
// the expression selecting the field's bits from it.
func (pl *parserLowering) load(b *emit.Builder, src string, a, w, nbytes int, whole bool) string {
	p := pl.p
	L := layout.ContainerWidth(nbytes * 8)
	tmp := p.temps[L]
	pl.usedTemps[L] = true

	var shift int
	if whole {
		b.Line("memcpy(&%s, %s, %d);", tmp, src, L/8)
		shift = L - a - w
	} else {
		b.Line("%s = 0;", tmp)
		b.Line("memcpy((u8 *)&%s + %d, %s, %d);", tmp, L/8-nbytes, src, nbytes)
		shift = nbytes*8 - a - w
	}

	val := tmp
	switch L {
	case 16:
		val = fmt.Sprintf("htons(%s)", tmp)
	case 32:
		val = fmt.Sprintf("htonl(%s)", tmp)
	case 64:
		val = fmt.Sprintf("htonll(%s)", tmp)
	}
	if shift > 0 {
		val = fmt.Sprintf("(%s >> %d)", val, shift)
	}
	if w < L {
		val = fmt.Sprintf("(%s & WP4_MASK(u%d, %d))", val, L, w)
	}
	return val
}

// straddle handles a+w > 64: the top 64-a bits of the field end the first
// eight bytes and the remaining r bits start the ninth.
func (pl *parserLowering) straddle(b *emit.Builder, src string, a, w int) string {
	p := pl.p
	errors.BugCheck(a > 0 && a+w > 64 && w <= 64, "straddling load of %d bits at bit %d", w, a)
	hi, lo := p.temps[64], p.temps[8]
	pl.usedTemps[64], pl.usedTemps[8] = true, true
	r := a + w - 64

	b.Line("memcpy(&%s, %s, 8);", hi, src)
	b.Line("memcpy(&%s, %s + 8, 1);", lo, src)
	return fmt.Sprintf("(((htonll(%s) & WP4_MASK(u64, %d)) << %d) | (u64)(%s >> %d))", hi, 64-a, r, lo, 8-r)
}
