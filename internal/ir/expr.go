package ir

import (
	"github.com/orizon-lang/wp4c/internal/position"
)

// ExprKind is the closed set of expression variants.
type ExprKind uint8

const (
	ExprPath ExprKind = iota
	ExprMember
	ExprIndex
	ExprConst
	ExprBool
	ExprBinary
	ExprUnary
	ExprCast
	ExprSlice
	ExprCall
	ExprDefault // the `_` / default keyset of a select case
	ExprMask    // keyset `value &&& mask`
)

// RefKind tells what a path expression resolved to.
type RefKind uint8

const (
	RefNone RefKind = iota
	RefLocal
	RefParam
	RefTable
	RefAction
	RefType
	RefExtern
)

// Ref is the front end's resolution of a path. Owner names the parser,
// control or action declaring the entity; Index is the parameter position
// for RefParam.
type Ref struct {
	Kind  RefKind `json:"kind"`
	Owner string  `json:"owner,omitempty"`
	Index int     `json:"index,omitempty"`
}

// CallKind classifies calls so lowering never has to guess from method names.
type CallKind uint8

const (
	CallExtern CallKind = iota
	CallExtract
	CallLookahead
	CallEmit
	CallApply
	CallIsValid
	CallSetValid
	CallSetInvalid
	CallAction
)

// Expr is a flat tagged expression node. Unused fields stay zero.
//
//	Path:    Name, Ref
//	Member:  Base, Name
//	Index:   Base, Index
//	Const:   Value (or Text for constants wider than 64 bits), Radix
//	Bool:    Bool
//	Binary:  Op, Left, Right
//	Unary:   Op, Base
//	Cast:    Type, Base
//	Slice:   Base, Hi, Lo
//	Call:    Call, Base (receiver, may be absent), Name, Args
//	Mask:    Left (value), Right (mask)
type Expr struct {
	Kind  ExprKind      `json:"kind"`
	Name  string        `json:"name,omitempty"`
	Ref   Ref           `json:"ref"`
	Base  ExprID        `json:"base,omitempty"`
	Index ExprID        `json:"index,omitempty"`
	Left  ExprID        `json:"left,omitempty"`
	Right ExprID        `json:"right,omitempty"`
	Op    string        `json:"op,omitempty"`
	Value uint64        `json:"value,omitempty"`
	Text  string        `json:"text,omitempty"`
	Radix int           `json:"radix,omitempty"`
	Bool  bool          `json:"bool,omitempty"`
	Hi    int           `json:"hi,omitempty"`
	Lo    int           `json:"lo,omitempty"`
	Type  TypeID        `json:"type,omitempty"`
	Call  CallKind      `json:"call"`
	Args  []ExprID      `json:"args,omitempty"`
	Span  position.Span `json:"span"`
}

// IsComparison reports whether a binary operator yields a boolean.
func IsComparison(op string) bool {
	switch op {
	case "==", "!=", "<", "<=", ">", ">=", "&&", "||":
		return true
	}
	return false
}

// StmtKind is the closed set of statement variants.
type StmtKind uint8

const (
	StmtAssign StmtKind = iota
	StmtCall
	StmtIf
	StmtBlock
	StmtSwitch
	StmtReturn
	StmtExit
	StmtDecl
	StmtEmpty
)

// Stmt is a flat tagged statement node.
//
//	Assign: Left = Right
//	Call:   Expr
//	If:     Expr, Then, Else
//	Block:  Body
//	Switch: Expr (an apply().action_run member), Cases
//	Decl:   Decl
type Stmt struct {
	Kind  StmtKind      `json:"kind"`
	Left  ExprID        `json:"left,omitempty"`
	Right ExprID        `json:"right,omitempty"`
	Expr  ExprID        `json:"expr,omitempty"`
	Then  []Stmt        `json:"then,omitempty"`
	Else  []Stmt        `json:"else,omitempty"`
	Body  []Stmt        `json:"body,omitempty"`
	Cases []SwitchCase  `json:"cases,omitempty"`
	Decl  *Decl         `json:"decl,omitempty"`
	Span  position.Span `json:"span"`
}

// SwitchCase is one arm of an action_run switch. Labels are action names;
// consecutive labels sharing a body fall through in the source program.
type SwitchCase struct {
	Labels  []string      `json:"labels,omitempty"`
	Default bool          `json:"default,omitempty"`
	Body    []Stmt        `json:"body,omitempty"`
	Span    position.Span `json:"span"`
}

// Terminates reports whether the statement ends the enclosing block.
func (s *Stmt) Terminates() bool {
	return s.Kind == StmtReturn || s.Kind == StmtExit
}
