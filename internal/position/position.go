// Package position provides source position tracking for the lowering
// stage. Spans are carried through the IR so every diagnostic can point at
// the construct of the original program that caused it.
package position

import (
	"fmt"
	"path/filepath"
)

// Position represents a single point in source code
type Position struct {
	Filename string `json:"file,omitempty"` // Source file name
	Line     int    `json:"line,omitempty"` // 1-based line number
	Column   int    `json:"col,omitempty"`  // 1-based column number
	Offset   int    `json:"off,omitempty"`  // 0-based byte offset in source
}

// IsValid returns true if the position is valid
func (p Position) IsValid() bool {
	return p.Line > 0 && p.Column > 0 && p.Offset >= 0
}

// String returns a string representation of the position
func (p Position) String() string {
	if p.Filename != "" {
		return fmt.Sprintf("%s:%d:%d", filepath.Base(p.Filename), p.Line, p.Column)
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Before returns true if this position comes before other
func (p Position) Before(other Position) bool {
	if p.Filename != other.Filename {
		return p.Filename < other.Filename
	}
	if p.Line != other.Line {
		return p.Line < other.Line
	}
	return p.Column < other.Column
}

// Span represents a range of source code between two positions
type Span struct {
	Start Position `json:"start"` // Starting position (inclusive)
	End   Position `json:"end"`   // Ending position (exclusive)
}

// IsValid returns true if the span is valid
func (s Span) IsValid() bool {
	return s.Start.IsValid() && s.End.IsValid() &&
		s.Start.Filename == s.End.Filename &&
		!s.End.Before(s.Start)
}

// String returns a string representation of the span
func (s Span) String() string {
	if !s.Start.IsValid() {
		return "<unknown>"
	}
	if !s.End.IsValid() || s.End == s.Start {
		return s.Start.String()
	}
	if s.Start.Filename != "" {
		filename := filepath.Base(s.Start.Filename)
		if s.Start.Line == s.End.Line {
			return fmt.Sprintf("%s:%d:%d-%d", filename, s.Start.Line, s.Start.Column, s.End.Column)
		}
		return fmt.Sprintf("%s:%d:%d-%d:%d", filename, s.Start.Line, s.Start.Column, s.End.Line, s.End.Column)
	}

	if s.Start.Line == s.End.Line {
		return fmt.Sprintf("%d:%d-%d", s.Start.Line, s.Start.Column, s.End.Column)
	}
	return fmt.Sprintf("%d:%d-%d:%d", s.Start.Line, s.Start.Column, s.End.Line, s.End.Column)
}

// At returns a zero-length span at the given line and column.
func At(filename string, line, column int) Span {
	p := Position{Filename: filename, Line: line, Column: column}
	return Span{Start: p, End: p}
}
