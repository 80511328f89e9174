package ir

import (
	"fmt"
	"strings"
)

// TypeString renders a type the way the source language spells it. It is
// used for diagnostics and for the comments next to generated fields.
func (p *Program) TypeString(id TypeID) string {
	t := p.Type(id)
	if t == nil {
		return "<none>"
	}
	switch t.Kind {
	case TypeBool:
		return "bool"
	case TypeBits:
		if t.Signed {
			return fmt.Sprintf("int<%d>", t.Width)
		}
		return fmt.Sprintf("bit<%d>", t.Width)
	case TypeVarbit:
		return fmt.Sprintf("varbit<%d>", t.Width)
	case TypeStack:
		return fmt.Sprintf("%s[%d]", p.TypeString(t.Elem), t.Size)
	default:
		return t.Name
	}
}

// ExprString renders an expression in source syntax.
func (p *Program) ExprString(id ExprID) string {
	var sb strings.Builder
	p.writeExpr(&sb, id)
	return sb.String()
}

func (p *Program) writeExpr(sb *strings.Builder, id ExprID) {
	e := p.Expr(id)
	if e == nil {
		sb.WriteString("<none>")
		return
	}
	switch e.Kind {
	case ExprPath:
		sb.WriteString(e.Name)
	case ExprMember:
		p.writeExpr(sb, e.Base)
		sb.WriteString(".")
		sb.WriteString(e.Name)
	case ExprIndex:
		p.writeExpr(sb, e.Base)
		sb.WriteString("[")
		p.writeExpr(sb, e.Index)
		sb.WriteString("]")
	case ExprConst:
		sb.WriteString(ConstText(e))
	case ExprBool:
		if e.Bool {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case ExprBinary:
		p.writeExpr(sb, e.Left)
		fmt.Fprintf(sb, " %s ", e.Op)
		p.writeExpr(sb, e.Right)
	case ExprUnary:
		sb.WriteString(e.Op)
		p.writeExpr(sb, e.Base)
	case ExprCast:
		fmt.Fprintf(sb, "(%s)", p.TypeString(e.Type))
		p.writeExpr(sb, e.Base)
	case ExprSlice:
		p.writeExpr(sb, e.Base)
		fmt.Fprintf(sb, "[%d:%d]", e.Hi, e.Lo)
	case ExprCall:
		if e.Base != NoExpr {
			p.writeExpr(sb, e.Base)
			sb.WriteString(".")
		}
		sb.WriteString(e.Name)
		sb.WriteString("(")
		for i, a := range e.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			p.writeExpr(sb, a)
		}
		sb.WriteString(")")
	case ExprDefault:
		sb.WriteString("_")
	case ExprMask:
		p.writeExpr(sb, e.Left)
		sb.WriteString(" &&& ")
		p.writeExpr(sb, e.Right)
	default:
		fmt.Fprintf(sb, "<%s>", e.Kind)
	}
}

// ConstText renders a constant literal. Constants wider than 64 bits carry
// their digits in Text.
func ConstText(e *Expr) string {
	if e.Text != "" {
		return e.Text
	}
	switch e.Radix {
	case 16:
		return fmt.Sprintf("0x%x", e.Value)
	case 8:
		return fmt.Sprintf("0%o", e.Value)
	default:
		return fmt.Sprintf("%d", e.Value)
	}
}

// StmtString renders the head of a statement for diagnostics.
func (p *Program) StmtString(s *Stmt) string {
	switch s.Kind {
	case StmtAssign:
		return p.ExprString(s.Left) + " = " + p.ExprString(s.Right)
	case StmtCall:
		return p.ExprString(s.Expr)
	case StmtIf:
		return "if (" + p.ExprString(s.Expr) + ")"
	case StmtSwitch:
		return "switch (" + p.ExprString(s.Expr) + ")"
	case StmtDecl:
		if s.Decl != nil {
			return p.TypeString(s.Decl.Type) + " " + s.Decl.Name
		}
	case StmtReturn:
		return "return"
	case StmtExit:
		return "exit"
	case StmtBlock:
		return "{ ... }"
	}
	return s.Kind.String()
}
