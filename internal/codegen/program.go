// Package codegen lowers a checked program into the C header and
// implementation of a packet-processing kernel module.
//
// Lowering runs in two passes. The build pass resolves layouts, allocates
// every generated identifier and validates tables, reporting diagnostics as
// it goes. The emit pass writes the two artifacts. Nothing is returned when
// a blocking diagnostic was reported by either pass.
package codegen

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/orizon-lang/wp4c/internal/diagnostic"
	"github.com/orizon-lang/wp4c/internal/emit"
	"github.com/orizon-lang/wp4c/internal/errors"
	"github.com/orizon-lang/wp4c/internal/ir"
	"github.com/orizon-lang/wp4c/internal/layout"
	"github.com/orizon-lang/wp4c/internal/naming"
	"github.com/orizon-lang/wp4c/internal/position"
	"github.com/orizon-lang/wp4c/internal/target"
)

// Tool is the program name written into the generated comment.
const Tool = "wp4c"

// Options configures one compilation.
type Options struct {
	// Target is the deployment record; nil selects target.Default().
	Target *target.Config
	// Reporter receives every diagnostic. It may be nil.
	Reporter diagnostic.Reporter
	// Timestamp goes into the generated comment. The zero time omits it,
	// which makes the artifacts a pure function of the input.
	Timestamp time.Time
	// HeaderName is the file name the implementation includes. It defaults
	// to the source base name with a .h extension.
	HeaderName string
}

// Artifacts are the generated files.
type Artifacts struct {
	HeaderName string
	Header     string
	Source     string
}

// Compile lowers prog. Diagnostics go to opts.Reporter; the returned error
// is non-nil whenever no artifacts may be written.
func Compile(prog *ir.Program, opts Options) (art *Artifacts, err error) {
	defer func() {
		if r := recover(); r != nil {
			art, err = nil, errors.Recover(r)
		}
	}()

	p := newProgram(prog, opts)
	if !p.check() {
		return nil, p.failure()
	}

	p.build()
	if p.blocking > 0 {
		return nil, p.failure()
	}

	art = p.emit()
	if p.blocking > 0 {
		return nil, p.failure()
	}
	return art, nil
}

// program is the state of one compilation.
type program struct {
	prog   *ir.Program
	cfg    *target.Config
	opts   Options
	layout *layout.Engine
	names  *naming.Allocator

	reporter      diagnostic.Reporter
	blocking      int
	widthReported map[ir.TypeID]bool

	// Reserved identifiers of the entry routine.
	offsetVar   string
	offsetSave  string
	packetStart string
	endLabel    string
	hitVar      string
	actionRun   string
	keyVar      string
	valueVar    string
	initTables  string
	temps       map[int]string

	headerType *layout.Descriptor
	headerVar  string

	parser   *parserLowering
	pipeline *controlLowering
	deparser *controlLowering
}

func newProgram(prog *ir.Program, opts Options) *program {
	if opts.Target == nil {
		opts.Target = target.Default()
	}
	if opts.HeaderName == "" {
		base := filepath.Base(prog.Source)
		if base == "." || base == "" || base == string(filepath.Separator) {
			base = "wp4"
		}
		opts.HeaderName = strings.TrimSuffix(base, filepath.Ext(base)) + ".h"
	}
	return &program{
		prog:          prog,
		cfg:           opts.Target,
		opts:          opts,
		reporter:      opts.Reporter,
		widthReported: make(map[ir.TypeID]bool),
	}
}

// cKeywords are the reserved words of C.
var cKeywords = []string{
	"auto", "break", "case", "char", "const", "continue", "default", "do",
	"double", "else", "enum", "extern", "float", "for", "goto", "if",
	"inline", "int", "long", "register", "restrict", "return", "short",
	"signed", "sizeof", "static", "struct", "switch", "typedef", "union",
	"unsigned", "void", "volatile", "while",
}

// runtimeNames are the types, functions and macros the generated code
// refers to.
var runtimeNames = []string{
	"u8", "u16", "u32", "u64", "s8", "s16", "s32", "s64",
	"memcpy", "memset", "memcmp", "memmove", "printk",
	"htons", "htonl", "htonll", "BYTES", "WP4_MASK",
}

var keywordSet, runtimeSet = nameSet(cKeywords), nameSet(runtimeNames)

func nameSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// check validates the program structure and the target requirements. The
// layout engine and the allocator are only created for programs that pass.
func (p *program) check() bool {
	for _, pr := range p.prog.Check() {
		p.report(diagnostic.Common.Malformed(pr.Span, pr.Construct, pr.Detail))
	}
	if p.blocking > 0 {
		return false
	}

	if err := p.cfg.CheckABI(p.prog.RequiresABI); err != nil {
		construct := "requires_abi " + p.prog.RequiresABI
		if errors.Is(err, errors.CategoryPolicy) {
			p.report(diagnostic.Common.NotOnTarget(position.Span{}, diagnostic.DiagnosticProgram, construct,
				fmt.Sprintf("ABI %s (target implements %s)", p.prog.RequiresABI, p.cfg.ABIVersion)))
		} else {
			p.report(diagnostic.Common.Malformed(position.Span{}, construct, err.Error()))
		}
		return false
	}

	p.layout = layout.NewEngine(p.prog)
	p.names = naming.NewAllocator(append(append([]string(nil), cKeywords...), runtimeNames...)...)
	p.checkNames()
	p.seedNames()
	return true
}

// checkName reports a source identifier the generated C cannot carry.
// Member names and labels only clash with keywords; ordinary identifiers
// also clash with the runtime's types, functions and macros.
func (p *program) checkName(span position.Span, construct, name string, ordinary bool) bool {
	if !keywordSet[name] && !(ordinary && runtimeSet[name]) && naming.Sanitize(name) == name {
		return true
	}
	p.report(diagnostic.Common.ReservedName(span, construct, name))
	return false
}

// checkNames checks the names that reach the output verbatim. Locals are
// checked where they are declared.
func (p *program) checkNames() {
	for _, id := range p.prog.Decls {
		t := p.prog.Type(id)
		construct := p.prog.TypeString(id)
		if t.Name != "" {
			p.checkName(t.Span, construct, t.Name, t.Kind == ir.TypeTypedef)
		}
		for _, f := range t.Fields {
			p.checkName(f.Span, construct+"."+f.Name, f.Name, false)
		}
	}
	for _, a := range p.prog.Actions {
		if a.Name == ir.NoActionName {
			continue
		}
		p.checkName(a.Span, "action "+a.Name, a.Name, false)
		for _, prm := range a.Params {
			p.checkName(prm.Span, "action "+a.Name+" parameter "+prm.Name, prm.Name, false)
		}
	}
	params := func(owner string, list []ir.Param) {
		for _, prm := range list {
			p.checkName(prm.Span, owner+" parameter "+prm.Name, prm.Name, true)
		}
	}
	params("parser "+p.prog.Parser.Name, p.prog.Parser.Params)
	params("control "+p.prog.Pipeline.Name, p.prog.Pipeline.Params)
	params("control "+p.prog.Deparser.Name, p.prog.Deparser.Params)
	for _, st := range p.prog.Parser.States {
		p.checkName(st.Span, "state "+st.Name, st.Name, false)
	}
}

// seedNames claims every identifier that appears verbatim in the output and
// allocates the reserved ones.
func (p *program) seedNames() {
	for _, n := range []string{
		p.cfg.EntryName, p.cfg.PacketArg, p.cfg.LengthArg, p.cfg.PortArg,
		p.cfg.InitName, p.cfg.ExitName, ir.StateAccept, ir.StateReject,
	} {
		p.names.Claim(n)
	}
	for _, id := range p.prog.Decls {
		t := p.prog.Type(id)
		p.names.Claim(t.Name)
		for _, m := range t.Members {
			p.names.Claim(t.Name + "_" + m)
		}
	}
	for _, a := range p.prog.Actions {
		p.names.Claim(a.Name)
		for _, prm := range a.Params {
			p.names.Claim(prm.Name)
		}
	}
	claimParams := func(params []ir.Param, locals []ir.Decl) {
		for _, prm := range params {
			p.names.Claim(prm.Name)
		}
		for _, d := range locals {
			p.names.Claim(d.Name)
		}
	}
	claimParams(p.prog.Parser.Params, p.prog.Parser.Locals)
	for _, st := range p.prog.Parser.States {
		p.names.Claim(st.Name)
	}
	claimParams(p.prog.Pipeline.Params, p.prog.Pipeline.Locals)
	claimParams(p.prog.Deparser.Params, p.prog.Deparser.Locals)

	p.offsetVar = p.names.NewName(naming.Reserved("packetOffsetInBits"))
	p.offsetSave = p.names.NewName(p.offsetVar + "_save")
	p.packetStart = p.names.NewName(naming.Reserved("packetStart"))
	p.endLabel = p.names.NewName(naming.Reserved("end"))
	p.hitVar = p.names.NewName(naming.Reserved("hit"))
	p.actionRun = p.names.NewName(naming.Reserved("action_run"))
	p.keyVar = p.names.NewName(naming.Reserved("key"))
	p.valueVar = p.names.NewName(naming.Reserved("value"))
	p.initTables = p.names.NewName(naming.Reserved("init_tables"))
	p.temps = make(map[int]string)
	for _, w := range []int{8, 16, 32, 64} {
		p.temps[w] = p.names.NewName(naming.Reserved(fmt.Sprintf("tmp%d", w)))
	}
}

// build resolves every block. Diagnostics are reported for every failing
// entity before the build gives up, so one run shows all problems.
func (p *program) build() {
	p.parser = p.buildParser()
	if p.parser == nil {
		return
	}
	for _, id := range p.prog.Decls {
		p.typeLayout(id, position.Span{}, p.prog.TypeString(id))
	}
	p.pipeline = p.buildControl(p.prog.Pipeline, false)
	p.deparser = p.buildControl(p.prog.Deparser, true)
}

func (p *program) report(d *diagnostic.Diagnostic) {
	if d.Level == diagnostic.DiagnosticError && d.Class.Blocking() {
		p.blocking++
	}
	if p.reporter != nil {
		p.reporter.Report(d)
	}
}

func (p *program) failure() error {
	return errors.NewStandardError(errors.CategoryProgram, "LOWERING_FAILED",
		fmt.Sprintf("%s: %d blocking diagnostic(s), no output written", p.prog.Source, p.blocking),
		map[string]interface{}{"source": p.prog.Source, "count": p.blocking})
}

func (p *program) unsupported(span position.Span, cat diagnostic.DiagnosticCategory, construct, what string) {
	p.report(diagnostic.Common.Unsupported(span, cat, construct, what))
}

func (p *program) exprUnsupported(cat diagnostic.DiagnosticCategory, id ir.ExprID, what string) {
	p.unsupported(p.prog.Expr(id).Span, cat, p.prog.ExprString(id), what)
}

// typeLayout returns the descriptor of t, reporting a missing width once
// per type.
func (p *program) typeLayout(t ir.TypeID, span position.Span, construct string) *layout.Descriptor {
	if t == ir.NoType {
		return nil
	}
	d, err := p.layout.Create(t)
	if err != nil {
		if !p.widthReported[t] {
			p.widthReported[t] = true
			p.report(diagnostic.Common.NoFixedWidth(span, construct, p.prog.TypeString(t)))
		}
		return nil
	}
	return d
}

// exprLayout returns the descriptor of an expression's type.
func (p *program) exprLayout(id ir.ExprID) *layout.Descriptor {
	return p.typeLayout(p.prog.TypeOf(id), p.prog.Expr(id).Span, p.prog.ExprString(id))
}

func (p *program) generatedComment() string {
	if p.opts.Timestamp.IsZero() {
		return fmt.Sprintf("/* Automatically generated by %s from %s */", Tool, p.prog.Source)
	}
	return fmt.Sprintf("/* Automatically generated by %s from %s on %s */",
		Tool, p.prog.Source, p.opts.Timestamp.UTC().Format(time.ANSIC))
}

func (p *program) entryPrototype() string {
	return fmt.Sprintf("int %s(u8 *%s, u16 %s, u8 %s)", p.cfg.EntryName, p.cfg.PacketArg, p.cfg.LengthArg, p.cfg.PortArg)
}

func (p *program) tables() []*tableLowering {
	var all []*tableLowering
	for _, cl := range []*controlLowering{p.pipeline, p.deparser} {
		all = append(all, cl.tables...)
	}
	return all
}

func (p *program) emit() *Artifacts {
	return &Artifacts{
		HeaderName: p.opts.HeaderName,
		Header:     p.emitHeader(),
		Source:     p.emitSource(),
	}
}

func (p *program) emitHeader() string {
	var b emit.Builder
	b.AppendLine(p.generatedComment())
	b.AppendLine("#ifndef _P4_GEN_HEADER_")
	b.AppendLine("#define _P4_GEN_HEADER_")
	b.Newline()
	for _, inc := range p.cfg.HeaderIncludes {
		b.AppendLine("#include " + inc)
	}
	b.Newline()
	b.AppendLine("#define htonll(x) ((((u64)htonl(x)) << 32) + htonl((x) >> 32))")
	b.Newline()
	b.AppendLine(p.entryPrototype() + ";")
	b.Newline()

	for _, id := range p.prog.Decls {
		d := p.typeLayout(id, position.Span{}, p.prog.TypeString(id))
		if d == nil {
			continue
		}
		d.EmitDefinition(&b)
		b.Newline()
	}

	for _, tl := range p.tables() {
		tl.emitTypes(&b)
	}
	for _, tl := range p.tables() {
		tl.emitPrototypes(&b)
	}

	b.Newline()
	b.AppendLine("#endif")
	return b.String()
}

func (p *program) emitSource() string {
	var b emit.Builder
	b.AppendLine(p.generatedComment())
	for _, inc := range p.cfg.Includes {
		b.AppendLine("#include " + inc)
	}
	b.AppendLine(fmt.Sprintf("#include %q", p.opts.HeaderName))
	b.Newline()
	p.emitPreamble(&b)

	tables := p.tables()
	if len(tables) > 0 {
		b.Comment("Tables")
		for _, tl := range tables {
			tl.emitInstance(&b)
			tl.emitRoutines(&b)
		}
	}
	p.emitTableInit(&b, tables)

	p.emitEntry(&b)
	p.emitModuleGlue(&b, tables)
	return b.String()
}

func (p *program) emitPreamble(b *emit.Builder) {
	b.AppendLine("#define WP4_MASK(t, w) ((((t)(1)) << (w)) - (t)1)")
	b.AppendLine("#define BYTES(w) ((w) / 8)")
	b.Newline()
	b.AppendLine("static inline void wp4_write_bits(u8 *buf, u32 bitOffset, u64 value, u32 width)")
	b.BlockStart()
	b.Line("u32 i;")
	b.Line("for (i = 0; i < width; i++) {")
	b.IncreaseIndent()
	b.Line("u32 bit = bitOffset + i;")
	b.Line("u8 mask = 0x80 >> (bit %% 8);")
	b.Line("if ((value >> (width - 1 - i)) & 1)")
	b.Line("    buf[bit / 8] |= mask;")
	b.Line("else")
	b.Line("    buf[bit / 8] &= ~mask;")
	b.DecreaseIndent()
	b.Line("}")
	b.BlockEnd(true)
	b.Newline()
}

// emitTableInit writes the routine that loads every default action.
func (p *program) emitTableInit(b *emit.Builder, tables []*tableLowering) {
	b.AppendLine(fmt.Sprintf("static void %s(void)", p.initTables))
	b.BlockStart()
	for _, tl := range tables {
		tl.emitDefaultInit(b)
	}
	b.BlockEnd(true)
	b.Newline()
}

// emitEntry writes the packet entry routine: locals, parser, pipeline and
// deparser in one function so states and the pipeline can share labels.
func (p *program) emitEntry(b *emit.Builder) {
	// Blocks are emitted first so that only the temporaries they use are
	// declared.
	var parser, pipeline, deparser emit.Builder
	for i := 0; i < 2; i++ {
		parser.IncreaseIndent()
		pipeline.IncreaseIndent()
		deparser.IncreaseIndent()
	}
	p.parser.emitStates(&parser)
	p.pipeline.emitBody(&pipeline)
	p.deparser.emitBody(&deparser)

	b.AppendLine(p.entryPrototype())
	b.BlockStart()
	p.headerType.DeclareZeroed(b, p.headerVar)
	b.Line("u32 %s = 0;", p.offsetVar)
	b.Line("u32 %s = 0;", p.offsetSave)
	b.Line("u8 *%s = %s;", p.packetStart, p.cfg.PacketArg)
	for _, w := range []int{8, 16, 32, 64} {
		if p.parser.usedTemps[w] {
			b.Line("u%d %s;", w, p.temps[w])
		}
	}
	b.Line("u8 %s = 0;", p.hitVar)
	b.Line("int %s = 0;", p.actionRun)
	p.pipeline.emitParamLocals(b)
	p.emitInputPort(b)
	p.parser.emitLocals(b)
	b.Line("(void)%s;", p.offsetSave)
	b.Line("(void)%s;", p.hitVar)
	b.Line("(void)%s;", p.actionRun)
	b.Line("goto %s;", ir.StateStart)
	b.Newline()

	b.AppendLine("// Start of Parser")
	b.Append(parser.String())
	b.Newline()

	b.AppendLine("// Start of Pipeline")
	b.EmitIndent()
	b.Append(ir.StateAccept + ": ")
	b.BlockStart()
	b.Append(pipeline.String())
	b.BlockEnd(true)
	b.Newline()

	b.Line("%s: ;", p.endLabel)
	b.AppendLine("// Start of Deparser")
	b.EmitIndent()
	b.BlockStart()
	b.Append(deparser.String())
	b.BlockEnd(true)
	b.Line("return %s;", p.cfg.ForwardCode)
	b.BlockEnd(true)
	b.Newline()
}

// emitInputPort stores the port argument into the first pipeline metadata
// struct that has the configured input port field.
func (p *program) emitInputPort(b *emit.Builder) {
	if p.cfg.InputPortField == "" {
		return
	}
	for _, ml := range p.pipeline.metadata {
		if f := ml.desc.Field(p.cfg.InputPortField); f != nil && f.Desc.IsScalar() {
			b.Line("%s.%s = (%s)%s;", ml.name, f.Name, f.Desc.TypeName(), p.cfg.PortArg)
			return
		}
	}
}

func (p *program) emitModuleGlue(b *emit.Builder, tables []*tableLowering) {
	b.AppendLine(fmt.Sprintf("static int __init %s(void)", p.cfg.InitName))
	b.BlockStart()
	b.Line("%s();", p.initTables)
	for _, line := range p.cfg.ModuleInit {
		b.Line("%s", line)
	}
	b.Line("return 0;")
	b.BlockEnd(true)
	b.Newline()

	b.AppendLine(fmt.Sprintf("static void __exit %s(void)", p.cfg.ExitName))
	b.BlockStart()
	for _, line := range p.cfg.ModuleExit {
		b.Line("%s", line)
	}
	b.BlockEnd(true)
	b.Newline()

	b.AppendLine("// Kernel module functions")
	b.AppendLine(fmt.Sprintf("EXPORT_SYMBOL(%s);", p.cfg.EntryName))
	if p.cfg.ExportTables {
		for _, tl := range tables {
			b.AppendLine(fmt.Sprintf("EXPORT_SYMBOL(%s);", tl.addName))
			b.AppendLine(fmt.Sprintf("EXPORT_SYMBOL(%s);", tl.setDefaultName))
		}
	}
	b.Newline()
	b.AppendLine(fmt.Sprintf("module_init(%s);", p.cfg.InitName))
	b.AppendLine(fmt.Sprintf("module_exit(%s);", p.cfg.ExitName))
	b.Newline()
	author := p.cfg.Author
	if author == "" {
		author = p.prog.Source
	}
	b.AppendLine(fmt.Sprintf("MODULE_LICENSE(%q);", p.cfg.License))
	b.AppendLine(fmt.Sprintf("MODULE_AUTHOR(%q);", author))
	b.AppendLine(fmt.Sprintf("MODULE_DESCRIPTION(%q);", p.cfg.Description))
	b.AppendLine(fmt.Sprintf("MODULE_VERSION(%q);", p.cfg.ModuleVersion))
}
