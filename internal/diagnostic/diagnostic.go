// Diagnostic system for the wp4 lowering stage.
// Collects lowering errors and warnings with the offending construct attached.

package diagnostic

import (
	"fmt"
	"sort"
	"strings"

	"github.com/orizon-lang/wp4c/internal/position"
)

// DiagnosticLevel represents the severity level of a diagnostic message.
type DiagnosticLevel int

const (
	DiagnosticError DiagnosticLevel = iota
	DiagnosticWarning
	DiagnosticInfo
)

func (dl DiagnosticLevel) String() string {
	switch dl {
	case DiagnosticError:
		return "error"
	case DiagnosticWarning:
		return "warning"
	case DiagnosticInfo:
		return "info"
	default:
		return "unknown"
	}
}

// DiagnosticCategory names the lowering component that raised a diagnostic.
type DiagnosticCategory int

const (
	DiagnosticLayout DiagnosticCategory = iota
	DiagnosticParser
	DiagnosticTable
	DiagnosticAction
	DiagnosticControl
	DiagnosticProgram
)

func (dc DiagnosticCategory) String() string {
	switch dc {
	case DiagnosticLayout:
		return "layout"
	case DiagnosticParser:
		return "parser"
	case DiagnosticTable:
		return "table"
	case DiagnosticAction:
		return "action"
	case DiagnosticControl:
		return "control"
	case DiagnosticProgram:
		return "program"
	default:
		return "unknown"
	}
}

// Class tells the driver what a diagnostic means for the build.
type Class int

const (
	// Recoverable diagnostics are reported but lowering carries on with a fallback.
	Recoverable Class = iota
	// EntityFatal abandons one table, action, state or type.
	EntityFatal
	// ProgramFatal abandons the whole build.
	ProgramFatal
	// Policy is a target restriction; the construct is valid but not lowerable here.
	Policy
)

func (c Class) String() string {
	switch c {
	case Recoverable:
		return "recoverable"
	case EntityFatal:
		return "entity"
	case ProgramFatal:
		return "program"
	case Policy:
		return "unsupported-on-target"
	default:
		return "unknown"
	}
}

// Blocking reports whether artifacts must not be written after this class.
func (c Class) Blocking() bool {
	return c != Recoverable
}

// Diagnostic represents a single diagnostic message.
type Diagnostic struct {
	Code      string
	Title     string
	Message   string
	Construct string
	Notes     []string
	Span      position.Span
	Level     DiagnosticLevel
	Category  DiagnosticCategory
	Class     Class
}

//go:generate mockgen -destination=mock_diagnostic/mock_reporter.go -package=mock_diagnostic github.com/orizon-lang/wp4c/internal/diagnostic Reporter

// Reporter receives diagnostics from the lowering passes.
type Reporter interface {
	Report(d *Diagnostic)
}

// DiagnosticBuilder helps construct diagnostic messages with fluent API.
type DiagnosticBuilder struct {
	diagnostic *Diagnostic
}

// NewDiagnostic creates a new diagnostic builder.
func NewDiagnostic() *DiagnosticBuilder {
	return &DiagnosticBuilder{
		diagnostic: &Diagnostic{Class: EntityFatal},
	}
}

func (db *DiagnosticBuilder) Error() *DiagnosticBuilder {
	db.diagnostic.Level = DiagnosticError

	return db
}

func (db *DiagnosticBuilder) Warning() *DiagnosticBuilder {
	db.diagnostic.Level = DiagnosticWarning
	db.diagnostic.Class = Recoverable

	return db
}

func (db *DiagnosticBuilder) Category(c DiagnosticCategory) *DiagnosticBuilder {
	db.diagnostic.Category = c

	return db
}

func (db *DiagnosticBuilder) Class(c Class) *DiagnosticBuilder {
	db.diagnostic.Class = c

	return db
}

func (db *DiagnosticBuilder) Code(code string) *DiagnosticBuilder {
	db.diagnostic.Code = code

	return db
}

func (db *DiagnosticBuilder) Title(title string) *DiagnosticBuilder {
	db.diagnostic.Title = title

	return db
}

func (db *DiagnosticBuilder) Message(message string) *DiagnosticBuilder {
	db.diagnostic.Message = message

	return db
}

func (db *DiagnosticBuilder) Messagef(format string, args ...interface{}) *DiagnosticBuilder {
	db.diagnostic.Message = fmt.Sprintf(format, args...)

	return db
}

// Construct records a rendering of the offending source construct.
func (db *DiagnosticBuilder) Construct(text string) *DiagnosticBuilder {
	db.diagnostic.Construct = text

	return db
}

func (db *DiagnosticBuilder) Span(span position.Span) *DiagnosticBuilder {
	db.diagnostic.Span = span

	return db
}

func (db *DiagnosticBuilder) Note(note string) *DiagnosticBuilder {
	db.diagnostic.Notes = append(db.diagnostic.Notes, note)

	return db
}

func (db *DiagnosticBuilder) Build() *Diagnostic {
	return db.diagnostic
}

// DiagnosticEngine manages the collection and processing of diagnostics.
type DiagnosticEngine struct {
	diagnostics []Diagnostic
	config      DiagnosticConfig
	truncated   bool
}

// DiagnosticConfig controls diagnostic behavior.
type DiagnosticConfig struct {
	IgnoreCodes      []string
	MaxErrors        int
	WarningsAsErrors bool
	ShowNotes        bool
}

// DefaultConfig returns the configuration used by the driver.
func DefaultConfig() DiagnosticConfig {
	return DiagnosticConfig{MaxErrors: 100, ShowNotes: true}
}

// NewDiagnosticEngine creates a new diagnostic engine.
func NewDiagnosticEngine(config DiagnosticConfig) *DiagnosticEngine {
	return &DiagnosticEngine{
		diagnostics: make([]Diagnostic, 0),
		config:      config,
	}
}

// Report implements Reporter.
func (de *DiagnosticEngine) Report(d *Diagnostic) {
	de.AddDiagnostic(d)
}

// AddDiagnostic adds a diagnostic to the engine.
func (de *DiagnosticEngine) AddDiagnostic(diagnostic *Diagnostic) {
	// Check if diagnostic should be ignored.
	if de.shouldIgnore(diagnostic) {
		return
	}

	// Convert warnings to errors if configured.
	if de.config.WarningsAsErrors && diagnostic.Level == DiagnosticWarning {
		diagnostic.Level = DiagnosticError
		diagnostic.Class = EntityFatal
	}

	if de.truncated {
		return
	}

	de.diagnostics = append(de.diagnostics, *diagnostic)

	// Stop adding diagnostics if max errors reached.
	if de.config.MaxErrors > 0 && len(de.GetErrors()) >= de.config.MaxErrors {
		truncationDiag := NewDiagnostic().
			Error().
			Class(ProgramFatal).
			Category(DiagnosticProgram).
			Code("E0001").
			Title("Too many errors").
			Message(fmt.Sprintf("Stopping after %d errors", de.config.MaxErrors)).
			Build()
		de.diagnostics = append(de.diagnostics, *truncationDiag)
		de.truncated = true
	}
}

// shouldIgnore checks if a diagnostic should be ignored based on config.
// Blocking errors are never ignored.
func (de *DiagnosticEngine) shouldIgnore(diagnostic *Diagnostic) bool {
	if diagnostic.Level == DiagnosticError && diagnostic.Class.Blocking() {
		return false
	}
	for _, code := range de.config.IgnoreCodes {
		if diagnostic.Code == code {
			return true
		}
	}

	return false
}

// GetDiagnostics returns all diagnostics.
func (de *DiagnosticEngine) GetDiagnostics() []Diagnostic {
	return de.diagnostics
}

// GetErrors returns only error-level diagnostics.
func (de *DiagnosticEngine) GetErrors() []Diagnostic {
	errors := make([]Diagnostic, 0)

	for _, diag := range de.diagnostics {
		if diag.Level == DiagnosticError {
			errors = append(errors, diag)
		}
	}

	return errors
}

// GetWarnings returns only warning-level diagnostics.
func (de *DiagnosticEngine) GetWarnings() []Diagnostic {
	warnings := make([]Diagnostic, 0)

	for _, diag := range de.diagnostics {
		if diag.Level == DiagnosticWarning {
			warnings = append(warnings, diag)
		}
	}

	return warnings
}

// HasErrors returns true if there are any errors.
func (de *DiagnosticEngine) HasErrors() bool {
	return len(de.GetErrors()) > 0
}

// Blocking returns true if any error forbids writing the artifacts.
func (de *DiagnosticEngine) Blocking() bool {
	for _, diag := range de.diagnostics {
		if diag.Level == DiagnosticError && diag.Class.Blocking() {
			return true
		}
	}
	return false
}

// SortDiagnostics sorts diagnostics by position and severity. The sort is
// stable so diagnostics without positions keep their report order.
func (de *DiagnosticEngine) SortDiagnostics() {
	sort.SliceStable(de.diagnostics, func(i, j int) bool {
		a, b := de.diagnostics[i], de.diagnostics[j]

		// First by file, then by line, then by column.
		if a.Span.Start.Filename != b.Span.Start.Filename {
			return a.Span.Start.Filename < b.Span.Start.Filename
		}

		if a.Span.Start.Line != b.Span.Start.Line {
			return a.Span.Start.Line < b.Span.Start.Line
		}

		if a.Span.Start.Column != b.Span.Start.Column {
			return a.Span.Start.Column < b.Span.Start.Column
		}

		// Then by severity (errors first).
		return a.Level < b.Level
	})
}

// FormatDiagnostics returns a formatted string representation of all diagnostics.
func (de *DiagnosticEngine) FormatDiagnostics() string {
	if len(de.diagnostics) == 0 {
		return ""
	}

	de.SortDiagnostics()

	var result strings.Builder

	for i, diag := range de.diagnostics {
		if i > 0 {
			result.WriteString("\n")
		}

		result.WriteString(de.formatSingleDiagnostic(&diag))
	}

	result.WriteString(de.formatSummary())

	return result.String()
}

// formatSingleDiagnostic formats a single diagnostic.
func (de *DiagnosticEngine) formatSingleDiagnostic(diag *Diagnostic) string {
	var result strings.Builder

	result.WriteString(fmt.Sprintf("%s: %s[%s]: %s\n",
		diag.Span.String(),
		diag.Level.String(),
		diag.Code,
		diag.Title,
	))

	if diag.Message != "" {
		result.WriteString(fmt.Sprintf("  %s\n", diag.Message))
	}
	if diag.Construct != "" {
		result.WriteString(fmt.Sprintf("  in: %s\n", diag.Construct))
	}

	if de.config.ShowNotes {
		for _, note := range diag.Notes {
			result.WriteString(fmt.Sprintf("  note: %s\n", note))
		}
	}

	return result.String()
}

// formatSummary formats a summary of all diagnostics.
func (de *DiagnosticEngine) formatSummary() string {
	errorCount := len(de.GetErrors())
	warningCount := len(de.GetWarnings())

	if errorCount == 0 && warningCount == 0 {
		return ""
	}

	var parts []string
	if errorCount > 0 {
		parts = append(parts, fmt.Sprintf("%d error(s)", errorCount))
	}

	if warningCount > 0 {
		parts = append(parts, fmt.Sprintf("%d warning(s)", warningCount))
	}

	return fmt.Sprintf("\n%s.", strings.Join(parts, ", "))
}
