package diagnostic

import (
	"fmt"

	"github.com/orizon-lang/wp4c/internal/position"
)

// CommonDiagnostics provides factory functions for the diagnostics the
// lowering passes raise most often.
type CommonDiagnostics struct{}

// NoFixedWidth creates a diagnostic for a type without a compile-time width.
func (cd *CommonDiagnostics) NoFixedWidth(span position.Span, construct, typeName string) *Diagnostic {
	return NewDiagnostic().
		Error().
		Category(DiagnosticLayout).
		Code("E1001").
		Title("Type without fixed width").
		Message(fmt.Sprintf("Type %s does not have a fixed width", typeName)).
		Construct(construct).
		Span(span).
		Build()
}

// Unsupported creates a diagnostic for a construct this target cannot lower.
func (cd *CommonDiagnostics) Unsupported(span position.Span, cat DiagnosticCategory, construct, what string) *Diagnostic {
	return NewDiagnostic().
		Error().
		Category(cat).
		Code("E2001").
		Title("Unsupported construct").
		Message(fmt.Sprintf("%s not supported", what)).
		Construct(construct).
		Span(span).
		Build()
}

// NotOnTarget creates a policy diagnostic for a valid construct the target rejects.
func (cd *CommonDiagnostics) NotOnTarget(span position.Span, cat DiagnosticCategory, construct, feature string) *Diagnostic {
	return NewDiagnostic().
		Error().
		Class(Policy).
		Category(cat).
		Code("E3001").
		Title("Unsupported on target").
		Message(fmt.Sprintf("%s is not supported on this target", feature)).
		Construct(construct).
		Span(span).
		Build()
}

// Malformed creates a program-fatal diagnostic for broken top-level structure.
func (cd *CommonDiagnostics) Malformed(span position.Span, construct, details string) *Diagnostic {
	return NewDiagnostic().
		Error().
		Class(ProgramFatal).
		Category(DiagnosticProgram).
		Code("E5001").
		Title("Malformed program").
		Message(details).
		Construct(construct).
		Span(span).
		Build()
}

// Fallback creates a recoverable error for a value replaced by a default.
func (cd *CommonDiagnostics) Fallback(span position.Span, cat DiagnosticCategory, construct, details string) *Diagnostic {
	return NewDiagnostic().
		Error().
		Class(Recoverable).
		Category(cat).
		Code("E4001").
		Title("Value replaced by default").
		Message(details).
		Construct(construct).
		Span(span).
		Build()
}

// ReservedName creates a diagnostic for a source identifier that would
// collide with C or with the names the generated code relies on.
func (cd *CommonDiagnostics) ReservedName(span position.Span, construct, name string) *Diagnostic {
	return NewDiagnostic().
		Error().
		Category(DiagnosticProgram).
		Code("E2003").
		Title("Reserved identifier").
		Message(fmt.Sprintf("%q cannot be used as an identifier in the generated C code", name)).
		Note("rename it in the source program").
		Construct(construct).
		Span(span).
		Build()
}

// Global instance for convenience.
var Common = &CommonDiagnostics{}
