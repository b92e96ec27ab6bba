package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error codes carried in AppError.Code.
const (
	CodeBadRequest  = "ERR_BAD_REQUEST"
	CodeNotFound    = "ERR_NOT_FOUND"
	CodeConflict    = "ERR_CONFLICT"
	CodeInternal    = "ERR_INTERNAL"
	CodeUnavailable = "ERR_UNAVAILABLE"
)

// AppError is an error with the HTTP status and code it is reported as.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithError attaches the cause. It is logged, never serialized.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func newAppError(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

func BadRequestError(message string) *AppError {
	return newAppError(CodeBadRequest, message, http.StatusBadRequest)
}

func NotFoundErrorf(format string, a ...interface{}) *AppError {
	return newAppError(CodeNotFound, fmt.Sprintf(format, a...), http.StatusNotFound)
}

func ConflictError(message string) *AppError {
	return newAppError(CodeConflict, message, http.StatusConflict)
}

func InternalError(message string) *AppError {
	return newAppError(CodeInternal, message, http.StatusInternalServerError)
}

func ServiceUnavailableError(message string) *AppError {
	return newAppError(CodeUnavailable, message, http.StatusServiceUnavailable)
}

// ErrorRule maps a sentinel error to the response it produces.
type ErrorRule struct {
	Target error
	Status int
	Code   string
}

// MapError returns an AppError for the first rule whose Target matches err
// (errors.Is). The message is err's text with the sentinel prefix removed.
// The second result is false when no rule matched; the error is then a 500.
func MapError(err error, rules ...ErrorRule) (*AppError, bool) {
	for _, r := range rules {
		if errors.Is(err, r.Target) {
			msg := strings.TrimPrefix(err.Error(), r.Target.Error()+": ")
			return newAppError(r.Code, msg, r.Status).WithError(err), true
		}
	}
	return InternalError("internal error").WithError(err), false
}
