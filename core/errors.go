package core

import (
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// ErrNotFound is returned by a Store when a document does not exist.
var ErrNotFound = errors.New("document not found")

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

func (err ValidationError) Unwrap() error { return err.Err }

// IsValidationError reports whether err was caused by invalid input,
// either from the validator or from a service level check.
func IsValidationError(err error) bool {
	switch errors.Cause(err).(type) {
	case *ValidationError, validator.ValidationErrors:
		return true
	}
	return false
}

// TransactionError means an atomic batch was rejected by the store; none of its writes were applied.
type TransactionError struct {
	Op  string
	Err error
}

func NewTransactionError(op string, err error) error {
	return &TransactionError{Op: op, Err: err}
}

func (err TransactionError) Error() string {
	if err.Err == nil {
		return err.Op + ": transaction failed"
	}
	return err.Op + ": transaction failed: " + err.Err.Error()
}

func (err TransactionError) Unwrap() error { return err.Err }

func IsTransactionFailed(err error) bool {
	_, ok := errors.Cause(err).(*TransactionError)
	return ok
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
