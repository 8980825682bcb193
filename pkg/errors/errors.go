package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Kind is the handling class of an error.
type Kind string

const (
	KindTransient        Kind = "transient"
	KindPermanent        Kind = "permanent"
	KindStorage          Kind = "storage"
	KindExhaustedRetries Kind = "exhausted_retries"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeMalformed   ErrorType = "malformed"
	ErrorTypeIntegrity   ErrorType = "integrity"
	ErrorTypeIO          ErrorType = "io"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error carries the classification of a failure alongside the underlying cause.
type Error struct {
	Kind       Kind
	Type       ErrorType
	Message    string
	Code       int
	Attempts   int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s error", e.Kind, e.Type)
	if e.Code != 0 {
		msg += fmt.Sprintf(" (code %d)", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error whose kind is derived from its type.
func New(errorType ErrorType, code int, message string) *Error {
	return &Error{
		Kind:    KindForType(errorType),
		Type:    errorType,
		Message: message,
		Code:    code,
	}
}

// Wrap is New with an underlying cause.
func Wrap(errorType ErrorType, message string, err error) *Error {
	e := New(errorType, 0, message)
	e.Err = err
	return e
}

// Storage marks a checkpoint, log or destination persistence failure. These abort the run.
func Storage(message string, err error) *Error {
	return &Error{
		Kind:    KindStorage,
		Type:    ErrorTypeIO,
		Message: message,
		Err:     err,
	}
}

// Malformed marks a descriptor that cannot be transferred as given.
func Malformed(message string) *Error {
	return New(ErrorTypeMalformed, 0, message)
}

// Exhausted wraps the last transient error of an operation that used up its attempt budget.
func Exhausted(attempts int, last error) *Error {
	e := &Error{
		Kind:     KindExhaustedRetries,
		Type:     ErrorTypeUnknown,
		Message:  fmt.Sprintf("gave up after %d attempts", attempts),
		Attempts: attempts,
		Err:      last,
	}
	var inner *Error
	if stderrors.As(last, &inner) {
		e.Type = inner.Type
		e.Code = inner.Code
	}
	return e
}

// FromStatus maps an HTTP response status onto the error taxonomy.
func FromStatus(resp *http.Response) *Error {
	e := New(TypeForStatus(resp.StatusCode), resp.StatusCode, http.StatusText(resp.StatusCode))
	if resp.StatusCode == http.StatusTooManyRequests {
		e.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return e
}

// TypeForStatus returns the error type for a non-2xx status code.
func TypeForStatus(statusCode int) ErrorType {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return ErrorTypeAuth
	case statusCode == http.StatusNotFound, statusCode == http.StatusGone:
		return ErrorTypeNotFound
	case statusCode == http.StatusRequestTimeout:
		return ErrorTypeNetwork
	case statusCode >= 500:
		return ErrorTypeServerError
	case statusCode >= 400:
		return ErrorTypeMalformed
	default:
		return ErrorTypeUnknown
	}
}

// ParseRetryAfter understands both delta-seconds and HTTP-date forms.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// KindForType tells which class an error type falls into.
func KindForType(errorType ErrorType) Kind {
	if IsRetryable(errorType) {
		return KindTransient
	}
	if errorType == ErrorTypeIO {
		return KindStorage
	}
	return KindPermanent
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError, ErrorTypeIntegrity, ErrorTypeUnknown:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	return IsRetryable(TypeForStatus(statusCode))
}

// KindOf classifies any error. Unclassified errors are treated as transient network trouble,
// except context cancellation which is never retried.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	if stderrors.Is(err, context.Canceled) {
		return KindPermanent
	}
	return KindTransient
}

// TypeOf returns the error type, or ErrorTypeUnknown for unclassified errors.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return ErrorTypeNetwork
	}
	return ErrorTypeUnknown
}

// RetryAfterOf returns the server-provided retry hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if stderrors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

func IsTransient(err error) bool { return KindOf(err) == KindTransient }

func IsStorage(err error) bool { return KindOf(err) == KindStorage }

func IsAuth(err error) bool { return TypeOf(err) == ErrorTypeAuth }

// CodeOf returns the HTTP status carried by err, or 0.
func CodeOf(err error) int {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return 0
}
