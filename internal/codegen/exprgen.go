package codegen

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/orizon-lang/wp4c/internal/diagnostic"
	"github.com/orizon-lang/wp4c/internal/emit"
	"github.com/orizon-lang/wp4c/internal/ir"
	"github.com/orizon-lang/wp4c/internal/layout"
)

// binding substitutes the C text of one parameter.
type binding struct {
	owner string
	index int
	text  string
}

// exprGen renders expressions as C. Parameters are resolved through the
// bindings of the enclosing block; the innermost binding wins.
type exprGen struct {
	p        *program
	cat      diagnostic.DiagnosticCategory
	bindings []binding
}

func (p *program) newExprGen(cat diagnostic.DiagnosticCategory, bs ...binding) *exprGen {
	return &exprGen{p: p, cat: cat, bindings: bs}
}

// with returns a generator with extra bindings and the given category.
func (g *exprGen) with(cat diagnostic.DiagnosticCategory, bs ...binding) *exprGen {
	all := make([]binding, 0, len(g.bindings)+len(bs))
	all = append(all, g.bindings...)
	all = append(all, bs...)
	return &exprGen{p: g.p, cat: cat, bindings: all}
}

func (g *exprGen) lookup(ref ir.Ref) (string, bool) {
	if ref.Kind != ir.RefParam {
		return "", false
	}
	for i := len(g.bindings) - 1; i >= 0; i-- {
		if b := g.bindings[i]; b.owner == ref.Owner && b.index == ref.Index {
			return b.text, true
		}
	}
	return "", false
}

// String renders id.
func (g *exprGen) String(id ir.ExprID) string {
	var b emit.Builder
	g.emit(&b, id)
	return b.String()
}

func (g *exprGen) fail(id ir.ExprID, what string) {
	g.p.exprUnsupported(g.cat, id, what)
}

func (g *exprGen) emit(b *emit.Builder, id ir.ExprID) {
	prog := g.p.prog
	e := prog.Expr(id)
	if e == nil {
		b.Append("0")
		return
	}

	switch e.Kind {
	case ir.ExprPath:
		if text, ok := g.lookup(e.Ref); ok {
			b.Append(text)
			return
		}
		b.Append(e.Name)

	case ir.ExprMember:
		g.emitMember(b, id, e)

	case ir.ExprIndex:
		g.emitIndex(b, id, e)

	case ir.ExprConst:
		g.emitConst(b, id, e)

	case ir.ExprBool:
		if e.Bool {
			b.Append("1")
		} else {
			b.Append("0")
		}

	case ir.ExprBinary:
		g.emitBinary(b, id, e)

	case ir.ExprUnary:
		d := g.p.exprLayout(e.Base)
		if d != nil && d.IsWide() {
			g.fail(id, fmt.Sprintf("operator %s on a %d-bit value", e.Op, d.WidthInBits()))
			return
		}
		c, w, masked := g.maskOf(id)
		masked = masked && e.Op != "!"
		if masked {
			b.Append("(")
		}
		b.Appendf("(%s", e.Op)
		g.emit(b, e.Base)
		b.Append(")")
		if masked {
			b.Appendf(" & WP4_MASK(u%d, %d))", c, w)
		}

	case ir.ExprCast:
		g.emitCast(b, id, e)

	case ir.ExprSlice:
		d := g.p.exprLayout(e.Base)
		if d == nil {
			return
		}
		if !d.IsScalar() {
			g.fail(id, "slice of a non-scalar value")
			return
		}
		w := e.Hi - e.Lo + 1
		c := layout.ContainerWidth(w)
		b.Appendf("((u%d)((", c)
		g.emit(b, e.Base)
		b.Appendf(") >> %d) & WP4_MASK(u%d, %d))", e.Lo, c, w)

	case ir.ExprCall:
		switch e.Call {
		case ir.CallIsValid:
			g.emit(b, e.Base)
			b.Append("." + layout.ValidField)
		default:
			g.fail(id, fmt.Sprintf("call of %s in an expression", e.Name))
		}

	case ir.ExprDefault, ir.ExprMask:
		g.fail(id, "keyset expression outside a select")

	default:
		g.fail(id, fmt.Sprintf("expression kind %s", e.Kind))
	}
}

func (g *exprGen) emitMember(b *emit.Builder, id ir.ExprID, e *ir.Expr) {
	prog := g.p.prog
	base := prog.Expr(e.Base)

	if base != nil && base.Kind == ir.ExprCall && base.Call == ir.CallApply {
		switch e.Name {
		case "hit":
			b.Append(g.p.hitVar)
		case "miss":
			b.Appendf("(!%s)", g.p.hitVar)
		case "action_run":
			b.Append(g.p.actionRun)
		default:
			g.fail(id, "apply result member "+e.Name)
		}
		return
	}

	if base != nil && base.Kind == ir.ExprPath && base.Ref.Kind == ir.RefType {
		// Enum members and error constants.
		if d := g.p.exprLayout(e.Base); d != nil && d.Resolve().Kind == ir.TypeEnum {
			b.Append(d.EnumMember(e.Name))
			return
		}
		b.Appendf("%s_%s", base.Name, e.Name)
		return
	}

	g.emit(b, e.Base)
	b.Append("." + e.Name)
}

func (g *exprGen) emitIndex(b *emit.Builder, id ir.ExprID, e *ir.Expr) {
	d := g.p.exprLayout(e.Base)
	if d != nil && d.Resolve().Kind == ir.TypeStack && !d.Resolve().Elem.HasArraySyntax() {
		// Nested stacks are declared as repeated members.
		idx := g.p.prog.Expr(e.Index)
		if idx == nil || idx.Kind != ir.ExprConst {
			g.fail(id, "non-constant index into a nested stack")
			return
		}
		g.emit(b, e.Base)
		b.Appendf("_%d", idx.Value)
		return
	}
	g.emit(b, e.Base)
	b.Append("[")
	g.emit(b, e.Index)
	b.Append("]")
}

func (g *exprGen) emitConst(b *emit.Builder, id ir.ExprID, e *ir.Expr) {
	d := g.p.exprLayout(id)
	if d != nil && d.IsWide() {
		g.fail(id, fmt.Sprintf("%d-bit constant in an expression", d.WidthInBits()))
		return
	}
	text := ir.ConstText(e)
	if d == nil {
		b.Append(text)
		return
	}
	r := d.Resolve()
	switch {
	case r.Signed:
		b.Appendf("((%s)%s)", d.TypeName(), text)
	case r.Kind == ir.TypeBits && r.WidthInBits() > 32:
		b.Append(text + "ULL")
	default:
		b.Append(text)
	}
}

var binaryOps = map[string]bool{
	"+": true, "-": true, "*": true, "/": true, "%": true,
	"&": true, "|": true, "^": true, "<<": true, ">>": true,
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
	"&&": true, "||": true,
}

func (g *exprGen) emitBinary(b *emit.Builder, id ir.ExprID, e *ir.Expr) {
	if !binaryOps[e.Op] {
		g.fail(id, "operator "+e.Op)
		return
	}
	ld := g.p.exprLayout(e.Left)
	if ld != nil && ld.IsWide() {
		if e.Op != "==" && e.Op != "!=" {
			g.fail(id, fmt.Sprintf("operator %s on a %d-bit value", e.Op, ld.WidthInBits()))
			return
		}
		for _, side := range []ir.ExprID{e.Left, e.Right} {
			if !g.isLValue(side) {
				g.fail(id, "comparison of a wide value with a non-variable operand")
				return
			}
		}
		b.Append("(memcmp(")
		g.emit(b, e.Left)
		b.Append(", ")
		g.emit(b, e.Right)
		b.Appendf(", %d) %s 0)", layout.BytesRequired(ld.WidthInBits()), e.Op)
		return
	}

	c, w, masked := g.maskOf(id)
	switch e.Op {
	case "+", "-", "*", "<<":
	default:
		masked = false
	}
	if masked {
		b.Append("(")
	}
	b.Append("(")
	g.emit(b, e.Left)
	b.Appendf(" %s ", e.Op)
	g.emit(b, e.Right)
	b.Append(")")
	if masked {
		b.Appendf(" & WP4_MASK(u%d, %d))", c, w)
	}
}

// maskOf returns the container and width an arithmetic result must be
// truncated to. Narrow operands are promoted to int in C, so only exact 32
// and 64-bit results wrap by themselves.
func (g *exprGen) maskOf(id ir.ExprID) (container, width int, ok bool) {
	d := g.p.exprLayout(id)
	if d == nil {
		return 0, 0, false
	}
	r := d.Resolve()
	if r.Kind != ir.TypeBits || r.Signed || !r.IsScalar() {
		return 0, 0, false
	}
	w := r.WidthInBits()
	if w == 32 || w == 64 {
		return 0, 0, false
	}
	return layout.ContainerWidth(w), w, true
}

func (g *exprGen) emitCast(b *emit.Builder, id ir.ExprID, e *ir.Expr) {
	to := g.p.typeLayout(e.Type, e.Span, g.p.prog.ExprString(id))
	from := g.p.exprLayout(e.Base)
	if to == nil || from == nil {
		return
	}
	tr, fr := to.Resolve(), from.Resolve()

	switch {
	case tr.Kind == ir.TypeBool:
		b.Append("((")
		g.emit(b, e.Base)
		b.Append(") != 0)")
	case to.IsWide() || from.IsWide():
		if tr.WidthInBits() != fr.WidthInBits() {
			g.fail(id, fmt.Sprintf("cast between %s and %s", from.TypeName(), to.TypeName()))
			return
		}
		g.emit(b, e.Base)
	case tr.Kind == ir.TypeBits && !tr.Signed && tr.WidthInBits() < layout.ContainerWidth(tr.WidthInBits()):
		c := layout.ContainerWidth(tr.WidthInBits())
		b.Appendf("((u%d)(", c)
		g.emit(b, e.Base)
		b.Appendf(") & WP4_MASK(u%d, %d))", c, tr.WidthInBits())
	case to.IsScalar():
		b.Appendf("((%s)(", to.TypeName())
		g.emit(b, e.Base)
		b.Append("))")
	default:
		g.fail(id, "cast to "+to.TypeName())
	}
}

// isLValue reports whether id names storage.
func (g *exprGen) isLValue(id ir.ExprID) bool {
	e := g.p.prog.Expr(id)
	if e == nil {
		return false
	}
	switch e.Kind {
	case ir.ExprPath:
		return e.Ref.Kind == ir.RefLocal || e.Ref.Kind == ir.RefParam || e.Ref.Kind == ir.RefNone
	case ir.ExprMember, ir.ExprIndex:
		return g.isLValue(e.Base)
	}
	return false
}

// constBytes returns the big-endian bytes of a constant expression padded
// to n bytes.
func (g *exprGen) constBytes(id ir.ExprID, n int) ([]byte, bool) {
	e := g.p.prog.Expr(id)
	if e == nil || e.Kind != ir.ExprConst {
		return nil, false
	}
	v := new(big.Int).SetUint64(e.Value)
	if e.Text != "" {
		if _, ok := v.SetString(strings.ReplaceAll(e.Text, "_", ""), 0); !ok {
			return nil, false
		}
	}
	if v.Sign() < 0 || v.BitLen() > n*8 {
		return nil, false
	}
	return v.FillBytes(make([]byte, n)), true
}

// byteList renders bytes as a C initializer list.
func byteList(bs []byte) string {
	parts := make([]string, len(bs))
	for i, c := range bs {
		parts[i] = fmt.Sprintf("0x%02x", c)
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

// appliedAt is a table application found inside an expression.
type appliedAt struct {
	call ir.ExprID
	// guarded is set when the application sits in the right operand of
	// && or ||, which C evaluates only conditionally.
	guarded bool
}

// collectApplies returns the table applications inside an expression in
// evaluation order.
func (p *program) collectApplies(id ir.ExprID, guarded bool) []appliedAt {
	e := p.prog.Expr(id)
	if e == nil {
		return nil
	}
	if e.Kind == ir.ExprCall && e.Call == ir.CallApply {
		return []appliedAt{{call: id, guarded: guarded}}
	}
	var out []appliedAt
	for _, sub := range []ir.ExprID{e.Base, e.Index, e.Left} {
		out = append(out, p.collectApplies(sub, guarded)...)
	}
	short := e.Kind == ir.ExprBinary && (e.Op == "&&" || e.Op == "||")
	out = append(out, p.collectApplies(e.Right, guarded || short)...)
	for _, a := range e.Args {
		out = append(out, p.collectApplies(a, guarded)...)
	}
	return out
}
