package ir

// Builder assembles programs in memory. Front ends that link the compiler
// directly use it instead of the JSON form, and so do the lowering tests.
type Builder struct {
	prog     *Program
	boolType TypeID
	scalars  map[scalarKey]TypeID
}

type scalarKey struct {
	width  int
	signed bool
	varbit bool
}

// NewBuilder starts a program whose diagnostics refer to source. The core
// NoAction action is declared up front.
func NewBuilder(source string) *Builder {
	b := &Builder{
		prog:    &Program{Source: source},
		scalars: make(map[scalarKey]TypeID),
	}
	b.prog.Actions = append(b.prog.Actions, Action{Name: NoActionName})
	return b
}

// Program returns the program built so far.
func (b *Builder) Program() *Program {
	return b.prog
}

func (b *Builder) addType(t Type) TypeID {
	b.prog.Types = append(b.prog.Types, t)
	return TypeID(len(b.prog.Types))
}

func (b *Builder) declare(t Type) TypeID {
	id := b.addType(t)
	b.prog.Decls = append(b.prog.Decls, id)
	return id
}

func (b *Builder) scalar(k scalarKey) TypeID {
	if id, ok := b.scalars[k]; ok {
		return id
	}
	kind := TypeBits
	if k.varbit {
		kind = TypeVarbit
	}
	id := b.addType(Type{Kind: kind, Width: k.width, Signed: k.signed})
	b.scalars[k] = id
	return id
}

func (b *Builder) Bool() TypeID {
	if b.boolType == NoType {
		b.boolType = b.addType(Type{Kind: TypeBool})
	}
	return b.boolType
}

func (b *Builder) Bits(width int) TypeID { return b.scalar(scalarKey{width: width}) }
func (b *Builder) Int(width int) TypeID { return b.scalar(scalarKey{width: width, signed: true}) }
func (b *Builder) Varbit(width int) TypeID { return b.scalar(scalarKey{width: width, varbit: true}) }

// F is shorthand for a struct field.
func F(name string, t TypeID) Field {
	return Field{Name: name, Type: t}
}

func (b *Builder) Struct(name string, fields ...Field) TypeID {
	return b.declare(Type{Kind: TypeStruct, Name: name, Fields: fields})
}

func (b *Builder) Header(name string, fields ...Field) TypeID {
	return b.declare(Type{Kind: TypeHeader, Name: name, Fields: fields})
}

func (b *Builder) Union(name string, fields ...Field) TypeID {
	return b.declare(Type{Kind: TypeHeaderUnion, Name: name, Fields: fields})
}

func (b *Builder) Stack(elem TypeID, size int) TypeID {
	return b.addType(Type{Kind: TypeStack, Elem: elem, Size: size})
}

func (b *Builder) Typedef(name string, target TypeID) TypeID {
	return b.declare(Type{Kind: TypeTypedef, Name: name, Target: target})
}

func (b *Builder) Enum(name string, members ...string) TypeID {
	return b.declare(Type{Kind: TypeEnum, Name: name, Members: members})
}

// Expressions.

func (b *Builder) addExpr(e Expr, t TypeID) ExprID {
	b.prog.Exprs = append(b.prog.Exprs, e)
	b.prog.ExprTypes = append(b.prog.ExprTypes, t)
	return ExprID(len(b.prog.Exprs))
}

// Arg references parameter index of owner.
func (b *Builder) Arg(owner string, index int, p Param) ExprID {
	return b.addExpr(Expr{Kind: ExprPath, Name: p.Name, Ref: Ref{Kind: RefParam, Owner: owner, Index: index}}, p.Type)
}

func (b *Builder) Local(owner, name string, t TypeID) ExprID {
	return b.addExpr(Expr{Kind: ExprPath, Name: name, Ref: Ref{Kind: RefLocal, Owner: owner}}, t)
}

func (b *Builder) TableRef(owner, name string) ExprID {
	return b.addExpr(Expr{Kind: ExprPath, Name: name, Ref: Ref{Kind: RefTable, Owner: owner}}, NoType)
}

func (b *Builder) TypeRef(t TypeID) ExprID {
	return b.addExpr(Expr{Kind: ExprPath, Name: b.prog.TypeString(t), Ref: Ref{Kind: RefType}}, t)
}

// Member selects a field; the result type comes from the base's type.
func (b *Builder) Member(base ExprID, name string) ExprID {
	t := b.prog.FieldType(b.prog.TypeOf(base), name)
	if bt := b.prog.Type(b.prog.Canonical(b.prog.TypeOf(base))); bt != nil && bt.Kind == TypeEnum {
		t = b.prog.TypeOf(base)
	}
	return b.addExpr(Expr{Kind: ExprMember, Base: base, Name: name}, t)
}

// Path is a chain of members starting at root.
func (b *Builder) Path(root ExprID, fields ...string) ExprID {
	e := root
	for _, f := range fields {
		e = b.Member(e, f)
	}
	return e
}

func (b *Builder) Index(base, index ExprID) ExprID {
	t := NoType
	if st := b.prog.Type(b.prog.Canonical(b.prog.TypeOf(base))); st != nil && st.Kind == TypeStack {
		t = st.Elem
	}
	return b.addExpr(Expr{Kind: ExprIndex, Base: base, Index: index}, t)
}

func (b *Builder) Const(v uint64, t TypeID) ExprID {
	return b.addExpr(Expr{Kind: ExprConst, Value: v, Radix: 10}, t)
}

func (b *Builder) Hex(v uint64, t TypeID) ExprID {
	return b.addExpr(Expr{Kind: ExprConst, Value: v, Radix: 16}, t)
}

func (b *Builder) BoolLit(v bool) ExprID {
	return b.addExpr(Expr{Kind: ExprBool, Bool: v}, b.Bool())
}

func (b *Builder) Binary(op string, l, r ExprID) ExprID {
	t := b.prog.TypeOf(l)
	if IsComparison(op) {
		t = b.Bool()
	}
	return b.addExpr(Expr{Kind: ExprBinary, Op: op, Left: l, Right: r}, t)
}

func (b *Builder) Unary(op string, x ExprID) ExprID {
	return b.addExpr(Expr{Kind: ExprUnary, Op: op, Base: x}, b.prog.TypeOf(x))
}

func (b *Builder) Cast(t TypeID, x ExprID) ExprID {
	return b.addExpr(Expr{Kind: ExprCast, Type: t, Base: x}, t)
}

func (b *Builder) Slice(x ExprID, hi, lo int) ExprID {
	return b.addExpr(Expr{Kind: ExprSlice, Base: x, Hi: hi, Lo: lo}, b.Bits(hi-lo+1))
}

func (b *Builder) Default() ExprID {
	return b.addExpr(Expr{Kind: ExprDefault}, NoType)
}

func (b *Builder) Mask(value, mask ExprID) ExprID {
	return b.addExpr(Expr{Kind: ExprMask, Left: value, Right: mask}, b.prog.TypeOf(value))
}

// Call builds a call of the given kind; receiver may be NoExpr.
func (b *Builder) Call(kind CallKind, receiver ExprID, name string, result TypeID, args ...ExprID) ExprID {
	return b.addExpr(Expr{Kind: ExprCall, Call: kind, Base: receiver, Name: name, Args: args}, result)
}

func (b *Builder) Extract(pkt ExprID, args ...ExprID) ExprID {
	return b.Call(CallExtract, pkt, "extract", NoType, args...)
}

func (b *Builder) Lookahead(pkt ExprID, t TypeID) ExprID {
	return b.Call(CallLookahead, pkt, "lookahead", t)
}

func (b *Builder) Emit(pkt, hdr ExprID) ExprID {
	return b.Call(CallEmit, pkt, "emit", NoType, hdr)
}

func (b *Builder) Apply(table ExprID) ExprID {
	return b.Call(CallApply, table, "apply", NoType)
}

func (b *Builder) IsValid(hdr ExprID) ExprID {
	return b.Call(CallIsValid, hdr, "isValid", b.Bool())
}

func (b *Builder) SetValid(hdr ExprID) ExprID {
	return b.Call(CallSetValid, hdr, "setValid", NoType)
}

func (b *Builder) SetInvalid(hdr ExprID) ExprID {
	return b.Call(CallSetInvalid, hdr, "setInvalid", NoType)
}

func (b *Builder) CallAction(name string, args ...ExprID) ExprID {
	return b.Call(CallAction, NoExpr, name, NoType, args...)
}

func (b *Builder) Extern(name string, args ...ExprID) ExprID {
	return b.Call(CallExtern, NoExpr, name, NoType, args...)
}

// Statements.

func Assign(l, r ExprID) Stmt { return Stmt{Kind: StmtAssign, Left: l, Right: r} }
func Do(call ExprID) Stmt { return Stmt{Kind: StmtCall, Expr: call} }
func If(c ExprID, then, els []Stmt) Stmt {
	return Stmt{Kind: StmtIf, Expr: c, Then: then, Else: els}
}
func Block(body ...Stmt) Stmt { return Stmt{Kind: StmtBlock, Body: body} }
func Return() Stmt { return Stmt{Kind: StmtReturn} }
func Exit() Stmt { return Stmt{Kind: StmtExit} }
func Declare(name string, t TypeID, init ExprID) Stmt {
	return Stmt{Kind: StmtDecl, Decl: &Decl{Name: name, Type: t, Init: init}}
}
func Switch(subject ExprID, cases ...SwitchCase) Stmt {
	return Stmt{Kind: StmtSwitch, Expr: subject, Cases: cases}
}
func Case(body []Stmt, labels ...string) SwitchCase { return SwitchCase{Labels: labels, Body: body} }
func DefaultCase(body ...Stmt) SwitchCase { return SwitchCase{Default: true, Body: body} }

// Blocks.

// Parser installs the parser block and returns it for state additions.
func (b *Builder) Parser(name string, params ...Param) *Parser {
	b.prog.Parser = &Parser{Name: name, Params: params}
	return b.prog.Parser
}

// State appends a parser state.
func (b *Builder) State(name string, tr Transition, components ...Stmt) {
	b.prog.Parser.States = append(b.prog.Parser.States, ParserState{Name: name, Components: components, Transition: tr})
}

func Goto(next string) Transition { return Transition{Kind: TransitionGoto, Next: next} }

func Select(exprs []ExprID, cases ...SelectCase) Transition {
	return Transition{Kind: TransitionSelect, Select: exprs, Cases: cases}
}

func On(keyset ExprID, next string) SelectCase { return SelectCase{Keyset: keyset, Next: next} }

func (b *Builder) Pipeline(name string, params ...Param) *Control {
	b.prog.Pipeline = &Control{Name: name, Params: params}
	return b.prog.Pipeline
}

func (b *Builder) Deparser(name string, params ...Param) *Control {
	b.prog.Deparser = &Control{Name: name, Params: params}
	return b.prog.Deparser
}

// Action declares an action and returns its name.
func (b *Builder) Action(name string, params []Param, body ...Stmt) string {
	b.prog.Actions = append(b.prog.Actions, Action{Name: name, Params: params, Body: body})
	return name
}

// SetActionBody replaces the body of a declared action. Bodies usually
// reference the action's own parameters, which need the action to exist.
func (b *Builder) SetActionBody(name string, body ...Stmt) {
	if a := b.prog.Action(name); a != nil {
		a.Body = body
	}
}

// Size returns a pointer suitable for Table.Size.
func Size(n int64) *int64 { return &n }
