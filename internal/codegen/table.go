package codegen

import (
	"fmt"
	"sort"

	"github.com/orizon-lang/wp4c/internal/diagnostic"
	"github.com/orizon-lang/wp4c/internal/emit"
	"github.com/orizon-lang/wp4c/internal/ir"
	"github.com/orizon-lang/wp4c/internal/layout"
	"github.com/orizon-lang/wp4c/internal/naming"
)

const (
	// DefaultTableSize is the capacity of a table without a size property.
	DefaultTableSize = 65535
	// MaxTableSize bounds explicit size properties.
	MaxTableSize = DefaultTableSize
)

// keyField is one member of a table key struct.
type keyField struct {
	elem *ir.KeyElement
	name string
	desc *layout.Descriptor
}

// tableAction is one member of a table's action enumeration.
type tableAction struct {
	action *ir.Action
	tag    string
	member string
	params []*layout.Descriptor
}

// tableLowering holds the generated names and layouts of one table.
type tableLowering struct {
	p   *program
	ctl *ir.Control
	t   *ir.Table

	instance       string
	keyType        string
	valueType      string
	tableType      string
	enumName       string
	defaultName    string
	lookupName     string
	addName        string
	setDefaultName string

	// keys are in emission order: decreasing implementation width, then
	// declaration order.
	keys    []keyField
	actions []tableAction
	def     *tableAction
	defArgs []ir.ExprID
	size    int
}

func (p *program) buildTable(ctl *ir.Control, t *ir.Table) *tableLowering {
	construct := "table " + t.Name
	tl := &tableLowering{p: p, ctl: ctl, t: t, size: DefaultTableSize}
	ok := true

	if t.Size != nil {
		switch n := *t.Size; {
		case n <= 0:
			p.report(diagnostic.NewDiagnostic().
				Error().
				Category(diagnostic.DiagnosticTable).
				Code("E2002").
				Title("Invalid table size").
				Messagef("Table size %d must be positive", n).
				Note(fmt.Sprintf("sizes from 1 to %d are accepted; omit the size for %d", MaxTableSize, DefaultTableSize)).
				Construct(construct).
				Span(t.Span).
				Build())
			ok = false
		case n > MaxTableSize:
			p.report(diagnostic.Common.Fallback(t.Span, diagnostic.DiagnosticTable, construct,
				fmt.Sprintf("Table size %d exceeds the maximum %d; using %d", n, MaxTableSize, DefaultTableSize)))
		default:
			tl.size = int(n)
		}
	}

	if len(t.Entries) > 0 {
		p.report(diagnostic.Common.NotOnTarget(t.Entries[0].Span, diagnostic.DiagnosticTable, construct, "const entries"))
		ok = false
	}

	tl.instance = p.names.NewName(t.Name)
	tl.keyType = p.names.NewName(tl.instance + "_key")
	tl.valueType = p.names.NewName(tl.instance + "_value")
	tl.tableType = p.names.NewName(tl.instance + "_table")
	tl.enumName = p.names.NewName(tl.instance + "_actions")
	tl.defaultName = p.names.NewName(tl.instance + "_defaultAction")
	tl.lookupName = p.names.NewName(tl.instance + "_lookup")
	tl.addName = p.names.NewName(tl.instance + "_add_entry")
	tl.setDefaultName = p.names.NewName(tl.instance + "_set_default")

	ok = tl.buildKeys() && ok
	ok = tl.buildActions() && ok
	ok = tl.buildDefault() && ok
	if !ok {
		return nil
	}
	return tl
}

func (tl *tableLowering) buildKeys() bool {
	p, ok := tl.p, true
	for i := range tl.t.Keys {
		k := &tl.t.Keys[i]
		switch k.MatchKind {
		case ir.MatchExact, ir.MatchMin, ir.MatchMax:
		default:
			p.unsupported(k.Span, diagnostic.DiagnosticTable, p.prog.ExprString(k.Expr), "Match of type "+k.MatchKind)
			ok = false
			continue
		}
		d := p.exprLayout(k.Expr)
		if d == nil {
			ok = false
			continue
		}
		if !d.IsScalar() && !d.IsWide() {
			p.unsupported(k.Span, diagnostic.DiagnosticTable, p.prog.ExprString(k.Expr), "key of type "+d.TypeName())
			ok = false
			continue
		}
		if d.IsWide() && k.MatchKind != ir.MatchExact {
			p.unsupported(k.Span, diagnostic.DiagnosticTable, p.prog.ExprString(k.Expr),
				fmt.Sprintf("%s match on a %d-bit key", k.MatchKind, d.WidthInBits()))
			ok = false
			continue
		}
		tl.keys = append(tl.keys, keyField{
			elem: k,
			name: fmt.Sprintf("field%d_%s", i, k.MatchKind),
			desc: d,
		})
	}
	sort.SliceStable(tl.keys, func(i, j int) bool {
		return tl.keys[i].desc.ImplementationWidthInBits() > tl.keys[j].desc.ImplementationWidthInBits()
	})
	return ok
}

func (tl *tableLowering) buildActions() bool {
	p, ok := tl.p, true
	hasNoAction := false
	for _, name := range tl.t.Actions {
		a := p.prog.Action(name)
		if a == nil && name == ir.NoActionName {
			a = &ir.Action{Name: ir.NoActionName}
		}
		if a == nil {
			p.unsupported(tl.t.Span, diagnostic.DiagnosticTable, "table "+tl.t.Name, "unknown action "+name)
			ok = false
			continue
		}
		ta := tableAction{action: a}
		if name == ir.NoActionName {
			hasNoAction = true
			ta.tag = p.names.NewName(naming.Reserved(ir.NoActionName))
			ta.member = naming.Reserved(ir.NoActionName)
		} else {
			ta.tag = p.names.NewName(tl.instance + "_" + name)
			ta.member = naming.Sanitize(name)
		}
		for _, prm := range a.Params {
			d := p.typeLayout(prm.Type, prm.Span, a.Name+"("+prm.Name+")")
			if d == nil {
				ok = false
				continue
			}
			ta.params = append(ta.params, d)
		}
		tl.actions = append(tl.actions, ta)
	}
	if !hasNoAction && (tl.t.Default == nil) {
		// The implicit default action needs a tag of its own.
		a := p.prog.Action(ir.NoActionName)
		if a == nil {
			a = &ir.Action{Name: ir.NoActionName}
		}
		tl.actions = append(tl.actions, tableAction{
			action: a,
			tag:    p.names.NewName(naming.Reserved(ir.NoActionName)),
			member: naming.Reserved(ir.NoActionName),
		})
	}
	return ok
}

func (tl *tableLowering) buildDefault() bool {
	p := tl.p
	construct := "table " + tl.t.Name
	def := tl.t.Default
	if def == nil {
		tl.def = tl.action(ir.NoActionName)
		return tl.def != nil
	}
	if def.Const {
		p.report(diagnostic.Common.NotOnTarget(def.Span, diagnostic.DiagnosticTable, construct, "const default_action"))
		return false
	}
	tl.def = tl.action(def.Action)
	if tl.def == nil {
		p.unsupported(def.Span, diagnostic.DiagnosticTable, construct,
			"default action "+def.Action+" outside the action list")
		return false
	}
	if len(def.Args) != len(tl.def.action.Params) {
		p.unsupported(def.Span, diagnostic.DiagnosticTable, construct,
			fmt.Sprintf("default action %s with %d arguments", def.Action, len(def.Args)))
		return false
	}
	tl.defArgs = def.Args
	return true
}

func (tl *tableLowering) action(name string) *tableAction {
	for i := range tl.actions {
		if tl.actions[i].action.Name == name {
			return &tl.actions[i]
		}
	}
	return nil
}

// tag returns the enumeration constant of an action label.
func (tl *tableLowering) tag(name string) (string, bool) {
	if a := tl.action(name); a != nil {
		return a.tag, true
	}
	return "", false
}

// emitTypes writes the key, action and table descriptor types.
func (tl *tableLowering) emitTypes(b *emit.Builder) {
	p := tl.p

	b.AppendLine(fmt.Sprintf("struct %s ", tl.keyType) + "{")
	b.IncreaseIndent()
	if len(tl.keys) == 0 {
		b.Line("u8 wp4_unused;")
	}
	for _, k := range tl.keys {
		b.EmitIndent()
		k.desc.Declare(b, k.name, false)
		b.Appendf("; /* %s */", p.prog.ExprString(k.elem.Expr))
		b.Newline()
	}
	b.DecreaseIndent()
	b.AppendLine("};")
	b.Newline()

	b.AppendLine(fmt.Sprintf("enum %s ", tl.enumName) + "{")
	b.IncreaseIndent()
	for _, a := range tl.actions {
		b.Line("%s,", a.tag)
	}
	b.DecreaseIndent()
	b.AppendLine("};")
	b.Newline()

	b.AppendLine(fmt.Sprintf("struct %s ", tl.valueType) + "{")
	b.IncreaseIndent()
	b.Line("enum %s action;", tl.enumName)
	b.Line("union {")
	b.IncreaseIndent()
	members := 0
	for _, a := range tl.actions {
		if len(a.params) == 0 {
			continue
		}
		members++
		b.Line("struct {")
		b.IncreaseIndent()
		for i, d := range a.params {
			b.EmitIndent()
			d.Declare(b, a.action.Params[i].Name, false)
			b.EndOfStatement(true)
		}
		b.DecreaseIndent()
		b.Line("} %s;", a.member)
	}
	if members == 0 {
		b.Line("u8 wp4_unused;")
	}
	b.DecreaseIndent()
	b.Line("} u;")
	b.DecreaseIndent()
	b.AppendLine("};")
	b.Newline()

	b.AppendLine(fmt.Sprintf("struct %s ", tl.tableType) + "{")
	b.IncreaseIndent()
	b.Line("u32 key_size;")
	b.Line("u32 value_size;")
	b.Line("u32 max_entries;")
	b.Line("u32 last_entry;")
	b.Line("struct %s key[%d];", tl.keyType, tl.size)
	b.Line("struct %s value[%d];", tl.valueType, tl.size)
	b.Line("u64 flow_counters[%d];", tl.size)
	b.DecreaseIndent()
	b.AppendLine("};")
	b.Newline()
}

func (tl *tableLowering) emitPrototypes(b *emit.Builder) {
	b.AppendLine(fmt.Sprintf("struct %s *%s(const struct %s *probe);", tl.valueType, tl.lookupName, tl.keyType))
	b.AppendLine(fmt.Sprintf("int %s(const struct %s *key, const struct %s *value);", tl.addName, tl.keyType, tl.valueType))
	b.AppendLine(fmt.Sprintf("void %s(const struct %s *value);", tl.setDefaultName, tl.valueType))
}

// emitInstance writes the table storage and its default-action slot.
func (tl *tableLowering) emitInstance(b *emit.Builder) {
	b.AppendLine(fmt.Sprintf("static struct %s %s = ", tl.tableType, tl.instance) + "{")
	b.IncreaseIndent()
	b.Line(".key_size = sizeof(struct %s),", tl.keyType)
	b.Line(".value_size = sizeof(struct %s),", tl.valueType)
	b.Line(".max_entries = %d,", tl.size)
	b.Line(".last_entry = 0,")
	b.DecreaseIndent()
	b.AppendLine("};")
	b.AppendLine(fmt.Sprintf("static struct %s %s;", tl.valueType, tl.defaultName))
	b.Newline()
}

// emitRoutines writes the lookup and the control-plane mutation routines.
// Lookup scans the populated entries in insertion order and returns the
// first whose every key field matches: exact fields must be equal, min
// fields hold a lower bound and max fields an upper bound of the probe.
func (tl *tableLowering) emitRoutines(b *emit.Builder) {
	b.AppendLine(fmt.Sprintf("struct %s *%s(const struct %s *probe)", tl.valueType, tl.lookupName, tl.keyType))
	b.BlockStart()
	b.Line("u32 i;")
	b.Line("for (i = 0; i < %s.last_entry && i < %d; i++) {", tl.instance, tl.size)
	b.IncreaseIndent()
	b.Line("const struct %s *entry = &%s.key[i];", tl.keyType, tl.instance)
	if len(tl.keys) == 0 {
		b.Line("(void)entry;")
		b.Line("(void)probe;")
	}
	for _, k := range tl.keys {
		switch {
		case k.desc.IsWide():
			b.Line("if (memcmp(entry->%s, probe->%s, %d) != 0) continue;",
				k.name, k.name, layout.BytesRequired(k.desc.WidthInBits()))
		case k.elem.MatchKind == ir.MatchExact:
			b.Line("if (entry->%s != probe->%s) continue;", k.name, k.name)
		case k.elem.MatchKind == ir.MatchMin:
			b.Line("if (probe->%s < entry->%s) continue;", k.name, k.name)
		case k.elem.MatchKind == ir.MatchMax:
			b.Line("if (probe->%s > entry->%s) continue;", k.name, k.name)
		}
	}
	b.Line("%s.flow_counters[i]++;", tl.instance)
	b.Line("return &%s.value[i];", tl.instance)
	b.DecreaseIndent()
	b.Line("}")
	b.Line("return &%s;", tl.defaultName)
	b.BlockEnd(true)
	b.Newline()

	b.AppendLine(fmt.Sprintf("int %s(const struct %s *key, const struct %s *value)", tl.addName, tl.keyType, tl.valueType))
	b.BlockStart()
	b.Line("if (%s.last_entry >= %d)", tl.instance, tl.size)
	b.Line("    return -1;")
	b.Line("%s.key[%s.last_entry] = *key;", tl.instance, tl.instance)
	b.Line("%s.value[%s.last_entry] = *value;", tl.instance, tl.instance)
	b.Line("%s.flow_counters[%s.last_entry] = 0;", tl.instance, tl.instance)
	b.Line("%s.last_entry++;", tl.instance)
	b.Line("return 0;")
	b.BlockEnd(true)
	b.Newline()

	b.AppendLine(fmt.Sprintf("void %s(const struct %s *value)", tl.setDefaultName, tl.valueType))
	b.BlockStart()
	b.Line("%s = *value;", tl.defaultName)
	b.BlockEnd(true)
	b.Newline()
}

// emitDefaultInit writes the default action record: its tag and bound
// arguments.
func (tl *tableLowering) emitDefaultInit(b *emit.Builder) {
	p := tl.p
	g := p.newExprGen(diagnostic.DiagnosticTable)
	b.Line("%s.action = %s;", tl.defaultName, tl.def.tag)
	for i, arg := range tl.defArgs {
		prm := tl.def.action.Params[i]
		slot := fmt.Sprintf("%s.u.%s.%s", tl.defaultName, tl.def.member, prm.Name)
		p.store(b, g, slot, tl.def.params[i], arg)
	}
}

// apply writes the key construction, the lookup and the action dispatch.
func (tl *tableLowering) apply(b *emit.Builder, k block) {
	p := tl.p
	b.EmitIndent()
	b.BlockStart()
	b.Line("struct %s %s;", tl.keyType, p.keyVar)
	b.Line("struct %s *%s;", tl.valueType, p.valueVar)
	b.Line("memset(&%s, 0, sizeof(%s));", p.keyVar, p.keyVar)
	kk := k.in(diagnostic.DiagnosticTable)
	for _, f := range tl.keys {
		p.store(b, kk.g, p.keyVar+"."+f.name, f.desc, f.elem.Expr)
	}
	b.Line("%s = %s(&%s);", p.valueVar, tl.lookupName, p.keyVar)
	b.Line("%s = %s != &%s;", p.hitVar, p.valueVar, tl.defaultName)
	b.Line("%s = %s->action;", p.actionRun, p.valueVar)

	b.Line("switch (%s->action) {", p.valueVar)
	for i := range tl.actions {
		a := &tl.actions[i]
		b.Line("case %s:", a.tag)
		b.IncreaseIndent()
		b.EmitIndent()
		b.BlockStart()
		p.translateAction(b, k, a.action, p.valueVar, a.member)
		b.BlockEnd(true)
		b.Line("break;")
		b.DecreaseIndent()
	}
	b.Line("default:")
	b.Line("    return %s;", p.cfg.AbortCode)
	b.Line("}")
	b.BlockEnd(true)
}
