// Package apperr defines the service error taxonomy shared by the session
// service, provider adapters, orchestrator and HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/containerd/errdefs"
)

// Code is a stable machine-readable error code.
type Code string

const (
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"
	CodeOpenAI          Code = "OPENAI_ERROR"
	CodeSynthesisParse  Code = "SYNTHESIS_PARSE_ERROR"
	CodeNanoBanana      Code = "NANOBANANA_ERROR"
	CodeProviderTimeout Code = "PROVIDER_TIMEOUT"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeInternal        Code = "INTERNAL_ERROR"
)

type codeInfo struct {
	message   string
	status    int
	retryable bool
	class     error
}

var codes = map[Code]codeInfo{
	CodeValidation:      {"Please check your input and try again.", http.StatusBadRequest, false, errdefs.ErrInvalidArgument},
	CodeSessionNotFound: {"Your session expired. Start again to continue.", http.StatusNotFound, false, errdefs.ErrNotFound},
	CodeOpenAI:          {"We couldn't refine right now. Please try again.", http.StatusBadGateway, true, errdefs.ErrUnavailable},
	CodeSynthesisParse:  {"We hit a formatting issue. Please retry.", http.StatusBadGateway, true, errdefs.ErrUnavailable},
	CodeNanoBanana:      {"Image generation failed. Try generate again.", http.StatusBadGateway, true, errdefs.ErrUnavailable},
	CodeProviderTimeout: {"The request timed out. Please retry.", http.StatusBadGateway, true, errdefs.ErrDeadlineExceeded},
	CodeRateLimited:     {"Too many requests. Please wait a moment.", http.StatusTooManyRequests, true, errdefs.ErrResourceExhausted},
	CodeInternal:        {"Something went wrong. Please try again.", http.StatusInternalServerError, true, errdefs.ErrInternal},
}

// Error is a typed service error.
type Error struct {
	Code      Code
	Message   string
	Retryable bool
	Status    int
	cause     error
}

// New returns an error with the default message, status and retryability
// for code.
func New(code Code) *Error {
	info, ok := codes[code]
	if !ok {
		info = codes[CodeInternal]
	}
	return &Error{
		Code:      code,
		Message:   info.message,
		Retryable: info.retryable,
		Status:    info.status,
	}
}

// Newf returns an error for code with a custom message.
func Newf(code Code, format string, args ...any) *Error {
	e := New(code)
	e.Message = fmt.Sprintf(format, args...)
	return e
}

// Wrap returns an error for code that keeps cause in the chain.
func Wrap(code Code, cause error) *Error {
	e := New(code)
	e.cause = cause
	return e
}

// WithRetryable overrides the default retryability.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is lets errors.Is match the errdefs class of the code, so callers can ask
// errdefs.IsNotFound(err) without knowing about this package.
func (e *Error) Is(target error) bool {
	info, ok := codes[e.Code]
	if !ok {
		return false
	}
	return target == info.class
}

// DefaultMessage returns the user-facing message for code.
func DefaultMessage(code Code) string {
	return New(code).Message
}

// As extracts a typed error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code carried by err, or INTERNAL_ERROR.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// From converts any error into a typed one. Untyped errors are classified
// through their errdefs class when they carry one, else INTERNAL_ERROR.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	switch {
	case errdefs.IsNotFound(err):
		return Wrap(CodeSessionNotFound, err)
	case errdefs.IsInvalidArgument(err):
		return Wrap(CodeValidation, err)
	case errdefs.IsDeadlineExceeded(err):
		return Wrap(CodeProviderTimeout, err)
	default:
		return Wrap(CodeInternal, err)
	}
}
