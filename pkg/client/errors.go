package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when the retry policy has no attempts left.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the request context ends.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses and exhausted local budgets.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassTimeout represents an attempt that exceeded its timeout.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassParse represents a response body that could not be parsed.
	ErrorClassParse ErrorClass = "parse"

	// ErrorClassCancelled represents a request cancelled by its caller.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// Error is the error delivered for a failed request.
type Error struct {
	StatusCode int
	Class      ErrorClass
	Message    string

	// Body and Header are set for HTTP error responses.
	Body   []byte
	Header http.Header

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vrequest %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("vrequest %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewParseError wraps a failure to parse a response body.
func NewParseError(statusCode int, err error) *Error {
	return &Error{
		StatusCode: statusCode,
		Class:      ErrorClassParse,
		Message:    "parse response",
		Err:        err,
	}
}

// AsError returns err as an *Error, classifying errors of other types.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	class := ErrorClassNetwork
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrContextCancelled) {
		class = ErrorClassCancelled
	}
	return &Error{
		Class:   class,
		Message: err.Error(),
		Err:     err,
	}
}

// shouldRetry determines if an error class is worth another attempt.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork, ErrorClassTimeout:
		return true
	default:
		return false
	}
}

// classifyStatus maps an HTTP status code to an error class.
// 2xx and 3xx return "".
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
