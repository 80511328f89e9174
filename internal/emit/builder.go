// Package emit provides the indentation-aware text builder used to write
// the generated C artifacts.
package emit

import (
	"fmt"
	"strings"
)

const indentUnit = "    "

// Builder accumulates generated source text. The zero value is ready to use.
type Builder struct {
	sb     strings.Builder
	indent int
}

// Append writes s verbatim.
func (b *Builder) Append(s string) {
	b.sb.WriteString(s)
}

// Appendf writes a formatted string.
func (b *Builder) Appendf(format string, args ...interface{}) {
	fmt.Fprintf(&b.sb, format, args...)
}

// AppendLine writes s followed by a newline.
func (b *Builder) AppendLine(s string) {
	b.sb.WriteString(s)
	b.Newline()
}

func (b *Builder) Spc() {
	b.sb.WriteByte(' ')
}

func (b *Builder) Newline() {
	b.sb.WriteByte('\n')
}

// EmitIndent writes the current indentation.
func (b *Builder) EmitIndent() {
	for i := 0; i < b.indent; i++ {
		b.sb.WriteString(indentUnit)
	}
}

func (b *Builder) IncreaseIndent() {
	b.indent++
}

func (b *Builder) DecreaseIndent() {
	if b.indent == 0 {
		panic("emit: unbalanced indentation")
	}
	b.indent--
}

// Line writes one indented, newline-terminated line.
func (b *Builder) Line(format string, args ...interface{}) {
	b.EmitIndent()
	b.Appendf(format, args...)
	b.Newline()
}

// BlockStart opens a brace block at the current position.
func (b *Builder) BlockStart() {
	b.sb.WriteString("{")
	b.Newline()
	b.IncreaseIndent()
}

// BlockEnd closes the innermost block, optionally ending the line.
func (b *Builder) BlockEnd(newline bool) {
	b.DecreaseIndent()
	b.EmitIndent()
	b.sb.WriteString("}")
	if newline {
		b.Newline()
	}
}

// EndOfStatement terminates a C statement.
func (b *Builder) EndOfStatement(newline bool) {
	b.sb.WriteString(";")
	if newline {
		b.Newline()
	}
}

// Comment writes an indented line comment.
func (b *Builder) Comment(format string, args ...interface{}) {
	b.EmitIndent()
	b.sb.WriteString("// ")
	b.Appendf(format, args...)
	b.Newline()
}

// Depth reports the current indentation level.
func (b *Builder) Depth() int {
	return b.indent
}

func (b *Builder) Len() int {
	return b.sb.Len()
}

func (b *Builder) String() string {
	return b.sb.String()
}
