package workflow

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("transfer was changed by another user, reload and try again")
	ErrNotFound          = errors.New("not found")
)

// FieldError points a validation failure at one input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a workflow failure the caller can show to the user.
type Error struct {
	Kind    error
	Message string
	Fields  []FieldError
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func denied(format string, args ...any) *Error {
	return newError(ErrPermissionDenied, format, args...)
}

func invalidTransition(format string, args ...any) *Error {
	return newError(ErrInvalidTransition, format, args...)
}

// Validation collects field errors into one ValidationError.
type Validation struct {
	fields []FieldError
}

func (v *Validation) Add(field, message string) {
	v.fields = append(v.fields, FieldError{Field: field, Message: message})
}

func (v *Validation) Err() error {
	if len(v.fields) == 0 {
		return nil
	}
	msg := v.fields[0].Message
	if len(v.fields) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(v.fields)-1)
	}
	return &Error{Kind: ErrValidation, Message: msg, Fields: v.fields}
}

// ValidationError builds a single-field validation failure.
func ValidationError(field, message string) error {
	var v Validation
	v.Add(field, message)
	return v.Err()
}

// NotFound reports a missing entity.
func NotFound(entity string, id int64) error {
	return newError(ErrNotFound, "%s %d not found", entity, id)
}

// Conflict reports a lost compare-and-set race.
func Conflict(id int64) error {
	return newError(ErrConflict, "transfer %d was changed by another user, reload and try again", id)
}

// FieldErrors returns the field list of a validation error, if any.
func FieldErrors(err error) []FieldError {
	var we *Error
	if errors.As(err, &we) {
		return we.Fields
	}
	return nil
}
