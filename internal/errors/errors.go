// Package errors provides the tagged error kinds shared across the pipeline.
// Logic never discriminates on concrete error types; surfaces map Code to a
// structured response, everything else inspects Retryable.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Code identifies the error category exposed on user-visible surfaces.
type Code string

const (
	CodeConfiguration  Code = "CONFIGURATION_ERROR"
	CodeExternalAPI    Code = "EXTERNAL_API_ERROR"
	CodeDatabase       Code = "DATABASE_ERROR"
	CodeValidation     Code = "VALIDATION_ERROR"
	CodeAnalysis       Code = "ANALYSIS_ERROR"
	CodeCache          Code = "CACHE_ERROR"
	CodeAuthentication Code = "AUTHENTICATION_ERROR"
	CodeInternal       Code = "INTERNAL_ERROR"
)

// Base sentinel errors for errors.Is checks.
var (
	ErrTimeout          = errors.New("timeout")
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConnectionFailed = errors.New("connection failed")
)

// Error is a structured pipeline error. Op names the failing operation,
// Source names the external system when one is involved.
type Error struct {
	Code       Code
	Op         string
	Source     string
	Err        error
	StatusCode int
	Timestamp  time.Time
	Retryable  bool
}

func (e *Error) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.Source, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error code to an HTTP-like status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeConfiguration, CodeValidation:
		return 400
	case CodeAuthentication:
		return 401
	case CodeExternalAPI:
		return 502
	case CodeDatabase, CodeCache:
		return 503
	default:
		return 500
	}
}

// New creates a structured error for the given code and operation.
func New(code Code, op string, err error) *Error {
	return &Error{
		Code:      code,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: defaultRetryable(code),
	}
}

// WithSource attaches the external system name.
func (e *Error) WithSource(source string) *Error {
	e.Source = source
	return e
}

// WithStatusCode attaches an upstream HTTP status and adjusts retryability.
func (e *Error) WithStatusCode(status int) *Error {
	e.StatusCode = status
	if status >= 500 || status == 429 || status == 408 {
		e.Retryable = true
	} else if status >= 400 {
		e.Retryable = false
	}
	return e
}

func defaultRetryable(code Code) bool {
	switch code {
	case CodeExternalAPI, CodeDatabase, CodeCache:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether the error (or its chain) is worth retrying.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionFailed)
}

// CodeOf extracts the code from an error chain, defaulting to INTERNAL_ERROR.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Configuration wraps a configuration failure.
func Configuration(op string, err error) *Error {
	return New(CodeConfiguration, op, err)
}

// ExternalAPI wraps a transient external-service failure.
func ExternalAPI(op, source string, err error) *Error {
	return New(CodeExternalAPI, op, err).WithSource(source)
}

// Database wraps a database failure.
func Database(op string, err error) *Error {
	return New(CodeDatabase, op, err)
}

// Validation wraps an input or schema validation failure.
func Validation(op string, err error) *Error {
	return New(CodeValidation, op, err)
}

// Analysis wraps an LLM or analysis-schema failure.
func Analysis(op string, err error) *Error {
	return New(CodeAnalysis, op, err)
}
