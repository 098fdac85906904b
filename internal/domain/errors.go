package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is matched by every *NotFoundError.
var ErrNotFound = errors.New("not found")

// NotFoundError reports a missing experiment or variant.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func ExperimentNotFound(id string) *NotFoundError {
	return &NotFoundError{Kind: "experiment", ID: id}
}

func VariantNotFound(id string) *NotFoundError {
	return &NotFoundError{Kind: "variant", ID: id}
}

// FieldProblem is a single rejected field.
type FieldProblem struct {
	Field   string
	Message string
}

// ValidationError reports malformed experiment or variant configuration.
// It is never corrected silently.
type ValidationError struct {
	Problems []FieldProblem
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return "invalid experiment configuration"
	}
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = fmt.Sprintf("%s: %s", p.Field, p.Message)
	}
	return "invalid experiment configuration: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Problems = append(e.Problems, FieldProblem{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

// NewValidationError builds a ValidationError with a single problem.
func NewValidationError(field, format string, args ...any) *ValidationError {
	ve := &ValidationError{}
	ve.add(field, format, args...)
	return ve
}

// StoreError wraps a failure of the backing repository so callers can tell
// "storage is down" apart from "no winner yet".
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// WrapStore wraps err as a StoreError unless it already is a typed domain error.
func WrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	var nf *NotFoundError
	var ve *ValidationError
	if errors.As(err, &se) || errors.As(err, &nf) || errors.As(err, &ve) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
