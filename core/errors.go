package core

import "github.com/pkg/errors"

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

// NotFoundError reports that a referenced record does not exist.
type NotFoundError struct {
	Resource string
}

func NewNotFoundError(resource string) error {
	return &NotFoundError{Resource: resource}
}

func (err NotFoundError) Error() string {
	return err.Resource + " not found"
}

func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}

// PermissionError reports an operation the caller is not allowed to perform.
type PermissionError struct {
	Reason string
}

func NewPermissionError(reason string) error {
	return &PermissionError{Reason: reason}
}

func (err PermissionError) Error() string {
	return err.Reason
}

func IsPermissionDenied(err error) bool {
	_, ok := errors.Cause(err).(*PermissionError)
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
