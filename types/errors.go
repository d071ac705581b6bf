package types

import (
	"fmt"
	"strings"
)

// ValidationError reports a structurally invalid requirement, payload or
// extension. Errors carries the individual schema violations when known.
type ValidationError struct {
	Field   string
	Message string
	Errors  []string
}

// NewValidationError creates a validation error for field.
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Errors) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Errors, "; "))
		b.WriteString("]")
	}
	return b.String()
}
