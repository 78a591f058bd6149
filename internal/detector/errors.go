package detector

import (
	"fmt"
	"strings"
)

// PatternError reports an expression that failed to compile.
type PatternError struct {
	Expression string
	Category   string
	Err        error
}

// Error implements the error interface for PatternError.
func (e *PatternError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("invalid regex pattern %q", e.Expression))
	if e.Category != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", e.Category))
	}
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

// Unwrap returns the underlying compile error.
func (e *PatternError) Unwrap() error {
	return e.Err
}

// ValidationError reports structurally malformed pattern input.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func newValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
