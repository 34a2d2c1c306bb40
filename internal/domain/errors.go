package domain

import (
	"errors"
	"fmt"
)

// Error kinds shared by the engine and its collaborators.
var (
	// ErrNotFitted: encoder state was used before fit or restore.
	ErrNotFitted = errors.New("encoder not fitted")

	// ErrModelNotTrained: the classifier was asked for a probability before fit or restore.
	ErrModelNotTrained = errors.New("model not trained")

	// ErrDataFormat: a training table lacks structure that cannot be recovered.
	ErrDataFormat = errors.New("unusable training data")

	// ErrPersistence: model state could not be read or written.
	ErrPersistence = errors.New("model persistence failed")

	// ErrValidation: a caller-supplied record failed coercion or range checks.
	ErrValidation = errors.New("invalid transaction")

	// ErrNotFound: a stored record does not exist.
	ErrNotFound = errors.New("record not found")
)

// ValidationError names the field that made a record invalid.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError returns a *ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DataFormatError names the column that made a training table unusable.
type DataFormatError struct {
	Column string
	Reason string
}

func (e *DataFormatError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("%s: %s", ErrDataFormat, e.Reason)
	}
	return fmt.Sprintf("%s: column %q %s", ErrDataFormat, e.Column, e.Reason)
}

func (e *DataFormatError) Unwrap() error { return ErrDataFormat }
