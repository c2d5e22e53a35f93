package jsondoc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDecode is returned when the backing file is not valid JSON or does not
	// match the document schema.
	ErrDecode = errors.New("decode error")
	// ErrValidation is returned when a caller-supplied value does not match the
	// declared record shape.
	ErrValidation = errors.New("validation error")
	// ErrNotFound is returned when the record to modify is not stored.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a record violates a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate record")
)

var (
	errVersionRequired = errors.New("version is required")
	errNotStruct       = errors.New("record type must be a struct")
	errMissingKey      = errors.New("missing required key")
	errUnknownKey      = errors.New("unknown key")
	errInvalidRecordID = errors.New("record id must be a positive integer")
)

// LoadError reports a failure to load the backing file.
//
// It matches both [ErrDecode] and the underlying cause with errors.Is.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load data from %s: %v", e.Path, e.Err)
}

// Unwrap returns ErrDecode and the cause.
func (e *LoadError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}

// ValidationError reports a field name, value or record that does not match
// the declared record shape.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid record: " + e.Reason
	}
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

// Is makes ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// DuplicateError reports a record that collides with an existing one.
//
// Fields is empty when the whole record was compared.
type DuplicateError struct {
	Fields []string
}

func (e *DuplicateError) Error() string {
	if len(e.Fields) == 0 {
		return "duplicate entry found"
	}
	return "duplicate entry found for fields: " + strings.Join(e.Fields, ", ")
}

// Is makes DuplicateError match ErrDuplicate.
func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}
