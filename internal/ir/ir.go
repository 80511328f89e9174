// Package ir defines the mid-level program representation consumed by the
// lowering stage. The front end produces it already resolved and type
// checked; this package only stores it.
//
// Types and expressions live in arenas owned by Program and are referenced
// by 1-based indices. The zero ID means "absent", so optional references do
// not need pointers. Side tables (the type of every expression, per-table key
// layouts in later stages) are slices indexed the same way, which keeps every
// iteration in declaration order.
package ir

import (
	"github.com/orizon-lang/wp4c/internal/position"
)

// TypeID references Program.Types. Zero is NoType.
type TypeID int32

// ExprID references Program.Exprs. Zero is NoExpr.
type ExprID int32

const (
	NoType TypeID = 0
	NoExpr ExprID = 0
)

// Names of builtin parser states and actions.
const (
	StateStart   = "start"
	StateAccept  = "accept"
	StateReject  = "reject"
	NoActionName = "NoAction"
	MatchExact   = "exact"
	MatchMin     = "min"
	MatchMax     = "max"
)

// TypeKind is the closed set of type variants.
type TypeKind uint8

const (
	TypeBool TypeKind = iota
	TypeBits
	TypeVarbit
	TypeStruct
	TypeHeader
	TypeHeaderUnion
	TypeStack
	TypeTypedef
	TypeEnum
)

// Type is a tagged variant; which fields are meaningful depends on Kind.
type Type struct {
	Kind    TypeKind      `json:"kind"`
	Name    string        `json:"name,omitempty"`    // Struct, Header, HeaderUnion, Typedef, Enum
	Width   int           `json:"width,omitempty"`   // Bits, Varbit (maximum)
	Signed  bool          `json:"signed,omitempty"`  // Bits
	Fields  []Field       `json:"fields,omitempty"`  // Struct, Header, HeaderUnion
	Elem    TypeID        `json:"elem,omitempty"`    // Stack
	Size    int           `json:"size,omitempty"`    // Stack
	Target  TypeID        `json:"target,omitempty"`  // Typedef
	Members []string      `json:"members,omitempty"` // Enum
	Span    position.Span `json:"span"`
}

// IsStructLike reports whether the type has named fields.
func (t *Type) IsStructLike() bool {
	return t.Kind == TypeStruct || t.Kind == TypeHeader || t.Kind == TypeHeaderUnion
}

// Field is one member of a struct-like type.
type Field struct {
	Name string        `json:"name"`
	Type TypeID        `json:"type"`
	Span position.Span `json:"span"`
}

// Param is a parameter of a parser, control or action.
type Param struct {
	Name      string        `json:"name"`
	Type      TypeID        `json:"type"`
	Direction string        `json:"dir,omitempty"`
	Span      position.Span `json:"span"`
}

// Decl declares a local variable.
type Decl struct {
	Name string        `json:"name"`
	Type TypeID        `json:"type"`
	Init ExprID        `json:"init,omitempty"`
	Span position.Span `json:"span"`
}

// Action is a named operation referenced by tables. Actions are shared:
// tables refer to them by name and never copy them.
type Action struct {
	Name   string        `json:"name"`
	Params []Param       `json:"params,omitempty"`
	Body   []Stmt        `json:"body,omitempty"`
	Span   position.Span `json:"span"`
}

// Parser is the packet parser block.
type Parser struct {
	Name   string        `json:"name"`
	Params []Param       `json:"params"`
	Locals []Decl        `json:"locals,omitempty"`
	States []ParserState `json:"states"`
	Span   position.Span `json:"span"`
}

// ParserState is a node of the parser state machine.
type ParserState struct {
	Name       string        `json:"name"`
	Components []Stmt        `json:"components,omitempty"`
	Transition Transition    `json:"transition"`
	Span       position.Span `json:"span"`
}

// IsBuiltin reports whether the state is one of the implicit final states.
func (s *ParserState) IsBuiltin() bool {
	return s.Name == StateAccept || s.Name == StateReject
}

// TransitionKind selects how a parser state leaves.
type TransitionKind uint8

const (
	TransitionNone TransitionKind = iota
	TransitionGoto
	TransitionSelect
)

// Transition is the successor of a parser state.
type Transition struct {
	Kind   TransitionKind `json:"kind"`
	Next   string         `json:"next,omitempty"`
	Select []ExprID       `json:"select,omitempty"`
	Cases  []SelectCase   `json:"cases,omitempty"`
	Span   position.Span  `json:"span"`
}

// SelectCase maps one keyset to a next state. A keyset of kind ExprDefault
// is the default case.
type SelectCase struct {
	Keyset ExprID        `json:"keyset"`
	Next   string        `json:"next"`
	Span   position.Span `json:"span"`
}

// Control is the pipeline or the deparser.
type Control struct {
	Name   string        `json:"name"`
	Params []Param       `json:"params"`
	Locals []Decl        `json:"locals,omitempty"`
	Tables []Table       `json:"tables,omitempty"`
	Body   []Stmt        `json:"body,omitempty"`
	Span   position.Span `json:"span"`
}

// Table is a match-action table.
type Table struct {
	Name    string        `json:"name"`
	Keys    []KeyElement  `json:"keys,omitempty"`
	Actions []string      `json:"actions"`
	Default *ActionCall   `json:"default,omitempty"`
	Size    *int64        `json:"size,omitempty"`
	Entries []Entry       `json:"entries,omitempty"`
	Span    position.Span `json:"span"`
}

// KeyElement is one field of a table key.
type KeyElement struct {
	Expr      ExprID        `json:"expr"`
	MatchKind string        `json:"match"`
	Span      position.Span `json:"span"`
}

// ActionCall binds an action to arguments, as in a default action.
type ActionCall struct {
	Action string        `json:"action"`
	Args   []ExprID      `json:"args,omitempty"`
	Const  bool          `json:"const,omitempty"`
	Span   position.Span `json:"span"`
}

// Entry is a const table entry.
type Entry struct {
	Keys   []ExprID      `json:"keys"`
	Action ActionCall    `json:"action"`
	Span   position.Span `json:"span"`
}

// Program is the whole validated input.
type Program struct {
	Source      string   `json:"source"`
	Package     string   `json:"package,omitempty"`
	RequiresABI string   `json:"requires_abi,omitempty"`
	Types       []Type   `json:"types"`
	Exprs       []Expr   `json:"exprs"`
	ExprTypes   []TypeID `json:"expr_types"`
	Decls       []TypeID `json:"decls"`
	Actions     []Action `json:"actions,omitempty"`
	Parser      *Parser  `json:"parser"`
	Pipeline    *Control `json:"pipeline"`
	Deparser    *Control `json:"deparser"`
}

// Type returns the type with the given ID.
func (p *Program) Type(id TypeID) *Type {
	if id <= 0 || int(id) > len(p.Types) {
		return nil
	}
	return &p.Types[id-1]
}

// Expr returns the expression with the given ID.
func (p *Program) Expr(id ExprID) *Expr {
	if id <= 0 || int(id) > len(p.Exprs) {
		return nil
	}
	return &p.Exprs[id-1]
}

// TypeOf returns the type the front end computed for an expression.
func (p *Program) TypeOf(id ExprID) TypeID {
	if id <= 0 || int(id) > len(p.ExprTypes) {
		return NoType
	}
	return p.ExprTypes[id-1]
}

// Canonical follows typedefs until a non-alias type is reached.
func (p *Program) Canonical(id TypeID) TypeID {
	for i := 0; i <= len(p.Types); i++ {
		t := p.Type(id)
		if t == nil || t.Kind != TypeTypedef {
			return id
		}
		id = t.Target
	}
	return NoType
}

// Action looks up an action by name.
func (p *Program) Action(name string) *Action {
	for i := range p.Actions {
		if p.Actions[i].Name == name {
			return &p.Actions[i]
		}
	}
	return nil
}

// FieldType returns the type of a named field of a struct-like type.
func (p *Program) FieldType(structType TypeID, name string) TypeID {
	t := p.Type(p.Canonical(structType))
	if t == nil || !t.IsStructLike() {
		return NoType
	}
	for _, f := range t.Fields {
		if f.Name == name {
			return f.Type
		}
	}
	return NoType
}
