package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors forming the rejection taxonomy. Typed errors below wrap or
// match them so callers can branch with errors.Is.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrMissingPrerequisite = errors.New("missing prerequisite")
	ErrStageNotReached     = errors.New("stage not reached")
	ErrNotFound            = errors.New("not found")
)

// FieldError describes one failed field constraint.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError reports field-level validity failures for a record.
type ValidationError struct {
	Entity EntityType
	Fields []FieldError
}

func (e ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("invalid %s", e.Entity)
	}
	return fmt.Sprintf("invalid %s: %s", e.Entity, strings.Join(parts, "; "))
}

func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// NotFoundError is returned when a record does not exist or is not visible to
// the requesting owner. Both cases produce the same error.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidInput builds a single-field validation error.
func InvalidInput(entity EntityType, field, reason string) error {
	return ValidationError{Entity: entity, Fields: []FieldError{{Field: field, Reason: reason}}}
}
