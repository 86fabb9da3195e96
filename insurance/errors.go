/*
errors.go - Error taxonomy for the insurance engine

PURPOSE:
  All error types in one place. Callers match categories with errors.Is
  against the sentinels and extract details with errors.As.

ERROR CATEGORIES:
  Validation  - bad input shape or missing field; rejected before any write
  Conflict    - duplicate asset identifier on plain create
  NotFound    - operating on a missing asset or policy
  Transport   - mail send failure; logged by the scheduler, never fatal
  Persistence - storage failure; propagated, transaction rolled back

SEE ALSO:
  - api/handlers.go: HTTP status mapping
*/
package insurance

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation  = errors.New("validation failed")
	ErrConflict    = errors.New("conflict")
	ErrNotFound    = errors.New("not found")
	ErrTransport   = errors.New("mail transport failed")
	ErrPersistence = errors.New("persistence failed")

	// ErrDuplicateIdentifier is returned by stores when the unique asset
	// identifier constraint is violated.
	ErrDuplicateIdentifier = fmt.Errorf("%w: duplicate asset identifier", ErrConflict)
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every invalid field of one input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns e when it holds at least one field error, otherwise nil.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "asset", "policy", "recipient"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError reports an identifier that already belongs to another asset.
type ConflictError struct {
	Identifier string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("asset with identifier %q already exists", e.Identifier)
}

func (e *ConflictError) Unwrap() error { return ErrDuplicateIdentifier }

// TransportError wraps a failed mail send to one recipient.
type TransportError struct {
	To    string
	Stage Stage
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("send %s notification to %s: %v", e.Stage, e.To, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// PersistenceError wraps a storage failure with the operation that failed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// persistErr wraps storage errors as PersistenceError. Domain errors
// (validation, conflict, not found) pass through unchanged.
func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsClientError(err) || IsNotFound(err) || errors.Is(err, ErrPersistence) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// WrapPersistence is persistErr for packages outside insurance.
func WrapPersistence(op string, err error) error { return persistErr(op, err) }

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrConflict)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
