package core

import (
	"net/http"

	"github.com/pkg/errors"
)

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
		return ""
	}
	return err.Err.Error()
}

// NotFoundError is returned when the requested record does not exist.
// Domain packages declare their own values, e.g. NotFoundError{Resource: "user"}.
type NotFoundError struct {
	Resource string
}

func (err NotFoundError) Error() string {
	return err.Resource + " not found"
}

func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(NotFoundError)
	return ok
}

// BusinessError is a business rule violation that maps to an HTTP status code.
type BusinessError struct {
	Code    int
	Message string
}

func NewBusinessError(code int, msg string) *BusinessError {
	return &BusinessError{Code: code, Message: msg}
}

// NewConflictError is a BusinessError for operations that do not apply to the current state.
func NewConflictError(msg string) *BusinessError {
	return NewBusinessError(http.StatusConflict, msg)
}

func (err *BusinessError) Error() string {
	return err.Message
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

// RowError reports a rejected row of a batch request. Rows are 1-based.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}
