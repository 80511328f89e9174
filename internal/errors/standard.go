// Package errors provides standardized error values for the lowering stage
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryEntity   ErrorCategory = "ENTITY"
	CategoryProgram  ErrorCategory = "PROGRAM"
	CategoryPolicy   ErrorCategory = "POLICY"
	CategoryInternal ErrorCategory = "INTERNAL"
	CategoryIO       ErrorCategory = "IO"
	CategoryConfig   ErrorCategory = "CONFIG"
)

// StandardError provides a consistent error format
type StandardError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Context  map[string]interface{}
	Caller   string
}

// Error implements the error interface
func (e *StandardError) Error() string {
	return fmt.Sprintf("[%s:%s] %s (caller: %s)", e.Category, e.Code, e.Message, e.Caller)
}

// NewStandardError creates a new standardized error
func NewStandardError(category ErrorCategory, code, message string, context map[string]interface{}) *StandardError {
	return newStandardError(2, category, code, message, context)
}

func newStandardError(skip int, category ErrorCategory, code, message string, context map[string]interface{}) *StandardError {
	pc, _, _, ok := runtime.Caller(skip)
	caller := "unknown"
	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}

	return &StandardError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  context,
		Caller:   caller,
	}
}

// Is reports whether err is a StandardError of the given category.
func Is(err error, category ErrorCategory) bool {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Category == category
	}
	return false
}

// Common error constructors

// NoFixedWidth reports a type that has no compile-time width.
func NoFixedWidth(typeName string) *StandardError {
	return newStandardError(2, CategoryEntity, "NO_FIXED_WIDTH",
		fmt.Sprintf("type %s does not have a fixed width", typeName),
		map[string]interface{}{"type": typeName})
}

// Unsupported reports a construct the target cannot lower.
func Unsupported(what string) *StandardError {
	return newStandardError(2, CategoryEntity, "UNSUPPORTED",
		fmt.Sprintf("%s not supported", what),
		map[string]interface{}{"construct": what})
}

// Malformed reports missing or ill-formed top-level program structure.
func Malformed(details string) *StandardError {
	return newStandardError(2, CategoryProgram, "MALFORMED_PROGRAM", details,
		map[string]interface{}{"details": details})
}

// NotOnTarget reports a target policy rejection.
func NotOnTarget(feature string) *StandardError {
	return newStandardError(2, CategoryPolicy, "UNSUPPORTED_ON_TARGET",
		fmt.Sprintf("%s is not supported on this target", feature),
		map[string]interface{}{"feature": feature})
}

// InvalidConfig reports a bad target or driver configuration value.
func InvalidConfig(field string, value interface{}, reason string) *StandardError {
	return newStandardError(2, CategoryConfig, "INVALID_CONFIG",
		fmt.Sprintf("invalid %s %v: %s", field, value, reason),
		map[string]interface{}{"field": field, "value": value})
}

// Bug panics with an internal invariant violation. Lowering recovers these
// at the compilation boundary and reports them apart from user diagnostics.
func Bug(format string, args ...interface{}) {
	panic(newStandardError(2, CategoryInternal, "COMPILER_BUG", fmt.Sprintf(format, args...), nil))
}

// BugCheck calls Bug when cond is false.
func BugCheck(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(newStandardError(2, CategoryInternal, "COMPILER_BUG", fmt.Sprintf(format, args...), nil))
	}
}

// Recover converts a Bug panic into an error. Other panics are re-raised.
func Recover(recovered interface{}) error {
	if recovered == nil {
		return nil
	}
	if se, ok := recovered.(*StandardError); ok && se.Category == CategoryInternal {
		return se
	}
	panic(recovered)
}
