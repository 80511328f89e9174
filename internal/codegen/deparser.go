package codegen

import (
	"fmt"

	"github.com/orizon-lang/wp4c/internal/diagnostic"
	"github.com/orizon-lang/wp4c/internal/emit"
	"github.com/orizon-lang/wp4c/internal/ir"
	"github.com/orizon-lang/wp4c/internal/layout"
	"github.com/orizon-lang/wp4c/internal/naming"
)

// deparserLowering serialises emitted headers into a buffer on the stack.
// The epilogue moves the unparsed payload behind the new headers and copies
// them to the front of the packet.
type deparserLowering struct {
	cl *controlLowering

	outBuf   string
	outOff   string
	endLabel string
	// capacity is the size of the output buffer: every header reachable
	// from the headers struct, once.
	capacity int
}

func (p *program) buildDeparser(cl *controlLowering) *deparserLowering {
	return &deparserLowering{
		cl:       cl,
		outBuf:   p.names.NewName(naming.Reserved("out")),
		outOff:   p.names.NewName(naming.Reserved("outOffsetInBits")),
		endLabel: p.names.NewName(naming.Reserved("deparse_end")),
		capacity: max(1, headerBytes(p.headerType)),
	}
}

// headerBytes sums the semantic bytes of every header inside d.
func headerBytes(d *layout.Descriptor) int {
	r := d.Resolve()
	switch r.Kind {
	case ir.TypeHeader:
		return layout.BytesRequired(r.WidthInBits())
	case ir.TypeStruct, ir.TypeHeaderUnion:
		n := 0
		for _, f := range r.Fields {
			n += headerBytes(f.Desc)
		}
		return n
	case ir.TypeStack:
		return r.Size * headerBytes(r.Elem)
	}
	return 0
}

func (dl *deparserLowering) emitPrologue(b *emit.Builder) {
	b.Line("u8 %s[%d];", dl.outBuf, dl.capacity)
	b.Line("u32 %s = 0;", dl.outOff)
}

func (dl *deparserLowering) emitEpilogue(b *emit.Builder) {
	p := dl.cl.p
	b.Line("%s: ;", dl.endLabel)
	b.EmitIndent()
	b.BlockStart()
	b.Line("u32 parsed = BYTES(%s);", p.offsetVar)
	b.Line("u32 emitted = BYTES(%s);", dl.outOff)
	b.Line("u32 payload = %s - parsed;", p.cfg.LengthArg)
	b.Line("if (emitted + payload > %s)", p.cfg.LengthArg)
	b.Line("    return %s;", p.cfg.AbortCode)
	b.Line("memmove(%s + emitted, %s + parsed, payload);", p.cfg.PacketArg, p.cfg.PacketArg)
	b.Line("memcpy(%s, %s, emitted);", p.cfg.PacketArg, dl.outBuf)
	b.BlockEnd(true)
}

// emitHeader lowers packet.emit(x). Structs emit their members in order;
// headers are written only when valid.
func (dl *deparserLowering) emitHeader(b *emit.Builder, k block, call ir.ExprID) {
	p := dl.cl.p
	e := p.prog.Expr(call)
	if len(e.Args) != 1 {
		p.exprUnsupported(diagnostic.DiagnosticControl, call, fmt.Sprintf("emit with %d arguments", len(e.Args)))
		return
	}
	d := p.exprLayout(e.Args[0])
	if d == nil {
		return
	}
	b.Line("/* %s */", p.prog.ExprString(call))
	dl.emitValue(b, call, k.g.String(e.Args[0]), d)
}

func (dl *deparserLowering) emitValue(b *emit.Builder, call ir.ExprID, text string, d *layout.Descriptor) {
	p := dl.cl.p
	r := d.Resolve()
	switch r.Kind {
	case ir.TypeHeader:
		if r.WidthInBits()%8 != 0 {
			p.exprUnsupported(diagnostic.DiagnosticControl, call,
				fmt.Sprintf("emit of %s, %d bits wide (not a whole number of bytes)", d.TypeName(), r.WidthInBits()))
			return
		}
		b.Line("if (%s.%s) {", text, layout.ValidField)
		b.IncreaseIndent()
		b.Line("if (BYTES(%s) + %d > sizeof(%s))", dl.outOff, r.WidthInBits()/8, dl.outBuf)
		b.Line("    return %s;", p.cfg.AbortCode)
		for _, f := range r.Fields {
			if !dl.emitField(b, call, text, f) {
				break
			}
		}
		b.DecreaseIndent()
		b.Line("}")
	case ir.TypeStruct, ir.TypeHeaderUnion:
		for _, f := range r.Fields {
			dl.emitValue(b, call, text+"."+f.Name, f.Desc)
		}
	case ir.TypeStack:
		for i := 0; i < r.Size; i++ {
			elem := fmt.Sprintf("%s[%d]", text, i)
			if !r.Elem.HasArraySyntax() {
				elem = fmt.Sprintf("%s_%d", text, i)
			}
			dl.emitValue(b, call, elem, r.Elem)
		}
	default:
		p.exprUnsupported(diagnostic.DiagnosticControl, call, "emit of a "+d.TypeName()+" value")
	}
}

func (dl *deparserLowering) emitField(b *emit.Builder, call ir.ExprID, text string, f layout.FieldLayout) bool {
	p := dl.cl.p
	fd := f.Desc.Resolve()
	w := fd.WidthInBits()
	switch {
	case fd.IsWide():
		if f.Offset%8 != 0 || w%8 != 0 {
			p.exprUnsupported(diagnostic.DiagnosticControl, call,
				fmt.Sprintf("emit of %d-bit field %s at bit offset %d", w, f.Name, f.Offset))
			return false
		}
		b.Line("memcpy(%s + BYTES(%s), %s.%s, %d);", dl.outBuf, dl.outOff, text, f.Name, w/8)
	case fd.IsScalar():
		b.Line("wp4_write_bits(%s, %s, (u64)%s.%s, %d);", dl.outBuf, dl.outOff, text, f.Name, w)
	default:
		p.exprUnsupported(diagnostic.DiagnosticControl, call, "emit of a "+f.Desc.TypeName()+" field")
		return false
	}
	b.Line("%s += %d;", dl.outOff, w)
	return true
}
