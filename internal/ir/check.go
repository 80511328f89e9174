package ir

import (
	"fmt"

	"github.com/orizon-lang/wp4c/internal/position"
)

// Problem is a structural defect found by Check.
type Problem struct {
	Span      position.Span
	Construct string
	Detail    string
}

func (p Problem) Error() string {
	return fmt.Sprintf("%s: %s: %s", p.Span, p.Construct, p.Detail)
}

// checker accumulates problems while walking the program.
type checker struct {
	prog     *Program
	problems []Problem
}

func (c *checker) fail(span position.Span, construct, format string, args ...interface{}) {
	c.problems = append(c.problems, Problem{Span: span, Construct: construct, Detail: fmt.Sprintf(format, args...)})
}

func (c *checker) typeRef(span position.Span, construct string, id TypeID) {
	if c.prog.Type(id) == nil {
		c.fail(span, construct, "type index %d out of range", id)
	}
}

func (c *checker) exprRef(span position.Span, construct string, id ExprID) {
	if c.prog.Expr(id) == nil {
		c.fail(span, construct, "expression index %d out of range", id)
	}
}

func (c *checker) optExpr(span position.Span, construct string, id ExprID) {
	if id != NoExpr {
		c.exprRef(span, construct, id)
	}
}

// Check validates the cross references of a decoded program: arena indices,
// the presence of the three blocks and parser state names. It does not
// repeat the front end's semantic checks.
func (p *Program) Check() []Problem {
	c := &checker{prog: p}

	for i := range p.Types {
		c.checkType(TypeID(i+1), &p.Types[i])
	}
	if len(p.ExprTypes) != len(p.Exprs) {
		c.fail(position.Span{}, "program", "%d expression types for %d expressions", len(p.ExprTypes), len(p.Exprs))
	}
	for i := range p.Exprs {
		c.checkExpr(&p.Exprs[i])
	}
	for _, id := range p.Decls {
		c.typeRef(position.Span{}, "declarations", id)
	}
	for i := range p.Actions {
		a := &p.Actions[i]
		c.params(a.Name, a.Params)
		c.stmts(a.Name, a.Body)
	}

	if p.Parser == nil {
		c.fail(position.Span{}, "program", "missing parser block")
	} else {
		c.checkParser(p.Parser)
	}
	if p.Pipeline == nil {
		c.fail(position.Span{}, "program", "missing pipeline control")
	} else {
		c.checkControl(p.Pipeline)
	}
	if p.Deparser == nil {
		c.fail(position.Span{}, "program", "missing deparser control")
	} else {
		c.checkControl(p.Deparser)
	}

	return c.problems
}

func (c *checker) checkType(id TypeID, t *Type) {
	name := c.prog.TypeString(id)
	switch t.Kind {
	case TypeBool, TypeVarbit, TypeEnum:
	case TypeBits:
		if t.Width <= 0 {
			c.fail(t.Span, name, "non-positive width %d", t.Width)
		}
	case TypeStruct, TypeHeader, TypeHeaderUnion:
		for _, f := range t.Fields {
			c.typeRef(f.Span, name+"."+f.Name, f.Type)
		}
	case TypeStack:
		c.typeRef(t.Span, name, t.Elem)
		if t.Size <= 0 {
			c.fail(t.Span, name, "non-positive stack size %d", t.Size)
		}
	case TypeTypedef:
		c.typeRef(t.Span, name, t.Target)
		if c.prog.Type(t.Target) != nil && c.prog.Canonical(id) == NoType {
			c.fail(t.Span, name, "typedef cycle")
		}
	default:
		c.fail(t.Span, name, "unknown type kind %s", t.Kind)
	}
}

func (c *checker) checkExpr(e *Expr) {
	construct := e.Kind.String()
	switch e.Kind {
	case ExprPath, ExprConst, ExprBool, ExprDefault:
	case ExprMember, ExprUnary, ExprSlice:
		c.exprRef(e.Span, construct, e.Base)
	case ExprIndex:
		c.exprRef(e.Span, construct, e.Base)
		c.exprRef(e.Span, construct, e.Index)
	case ExprBinary, ExprMask:
		c.exprRef(e.Span, construct, e.Left)
		c.exprRef(e.Span, construct, e.Right)
	case ExprCast:
		c.typeRef(e.Span, construct, e.Type)
		c.exprRef(e.Span, construct, e.Base)
	case ExprCall:
		c.optExpr(e.Span, construct, e.Base)
		for _, a := range e.Args {
			c.exprRef(e.Span, construct, a)
		}
	default:
		c.fail(e.Span, construct, "unknown expression kind")
	}
}

func (c *checker) params(owner string, params []Param) {
	for _, prm := range params {
		// Extern handles such as packet_in carry no type.
		if prm.Type == NoType {
			continue
		}
		c.typeRef(prm.Span, owner+"."+prm.Name, prm.Type)
	}
}

func (c *checker) decls(owner string, decls []Decl) {
	for _, d := range decls {
		c.typeRef(d.Span, owner+"."+d.Name, d.Type)
		c.optExpr(d.Span, owner+"."+d.Name, d.Init)
	}
}

func (c *checker) stmts(owner string, body []Stmt) {
	for i := range body {
		s := &body[i]
		switch s.Kind {
		case StmtAssign:
			c.exprRef(s.Span, owner, s.Left)
			c.exprRef(s.Span, owner, s.Right)
		case StmtCall:
			c.exprRef(s.Span, owner, s.Expr)
		case StmtIf:
			c.exprRef(s.Span, owner, s.Expr)
			c.stmts(owner, s.Then)
			c.stmts(owner, s.Else)
		case StmtBlock:
			c.stmts(owner, s.Body)
		case StmtSwitch:
			c.exprRef(s.Span, owner, s.Expr)
			for _, sc := range s.Cases {
				c.stmts(owner, sc.Body)
			}
		case StmtDecl:
			if s.Decl == nil {
				c.fail(s.Span, owner, "declaration statement without declaration")
			} else {
				c.decls(owner, []Decl{*s.Decl})
			}
		case StmtReturn, StmtExit, StmtEmpty:
		default:
			c.fail(s.Span, owner, "unknown statement kind %s", s.Kind)
		}
	}
}

func (c *checker) checkParser(ps *Parser) {
	c.params(ps.Name, ps.Params)
	c.decls(ps.Name, ps.Locals)

	known := func(name string) bool {
		if name == StateAccept || name == StateReject {
			return true
		}
		for _, s := range ps.States {
			if s.Name == name {
				return true
			}
		}
		return false
	}

	if !known(StateStart) {
		c.fail(ps.Span, ps.Name, "parser has no %q state", StateStart)
	}
	for i := range ps.States {
		st := &ps.States[i]
		construct := ps.Name + "." + st.Name
		for j := range ps.States[:i] {
			if ps.States[j].Name == st.Name {
				c.fail(st.Span, construct, "duplicate parser state")
			}
		}
		c.stmts(construct, st.Components)

		tr := &st.Transition
		switch tr.Kind {
		case TransitionNone:
		case TransitionGoto:
			if !known(tr.Next) {
				c.fail(tr.Span, construct, "transition to unknown state %q", tr.Next)
			}
		case TransitionSelect:
			if len(tr.Select) == 0 {
				c.fail(tr.Span, construct, "select without expressions")
			}
			for _, e := range tr.Select {
				c.exprRef(tr.Span, construct, e)
			}
			for _, sc := range tr.Cases {
				c.exprRef(sc.Span, construct, sc.Keyset)
				if !known(sc.Next) {
					c.fail(sc.Span, construct, "transition to unknown state %q", sc.Next)
				}
			}
		default:
			c.fail(tr.Span, construct, "unknown transition kind %s", tr.Kind)
		}
	}
}

func (c *checker) checkControl(ctl *Control) {
	c.params(ctl.Name, ctl.Params)
	c.decls(ctl.Name, ctl.Locals)
	for i := range ctl.Tables {
		t := &ctl.Tables[i]
		construct := ctl.Name + "." + t.Name
		for _, k := range t.Keys {
			c.exprRef(k.Span, construct, k.Expr)
		}
		for _, a := range t.Actions {
			if a != NoActionName && c.prog.Action(a) == nil {
				c.fail(t.Span, construct, "unknown action %q", a)
			}
		}
		if t.Default != nil {
			for _, a := range t.Default.Args {
				c.exprRef(t.Default.Span, construct, a)
			}
		}
	}
	c.stmts(ctl.Name, ctl.Body)
}
