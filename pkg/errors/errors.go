package errors

import (
	"errors"
	"fmt"
)

// Kind classifies errors raised by the fetch pipeline
type Kind string

const (
	KindRateLimited       Kind = "rate_limited"
	KindRemoteIntegration Kind = "remote_integration"
	KindRemoteTimeout     Kind = "remote_timeout"
	KindConfiguration     Kind = "configuration"
	KindNetwork           Kind = "network"
	KindAuth              Kind = "auth"
	KindParsing           Kind = "parsing"
	KindNotFound          Kind = "not_found"
	KindUnknown           Kind = "unknown"
)

// Error is the error type used across the source adapters and orchestrator.
// Kind drives the fallback and backoff decisions; Code carries the HTTP
// status when the error originated from an HTTP response.
type Error struct {
	Kind    Kind
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping an underlying cause
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindUnknown for foreign errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRateLimited reports whether err signals source throttling
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}

// IsRemoteTimeout reports whether err signals a remote job deadline miss
func IsRemoteTimeout(err error) bool {
	return KindOf(err) == KindRemoteTimeout
}

// IsRemoteIntegration reports whether err signals a remote source failure.
// Timeouts count: callers that fall back or bisect treat both the same way.
func IsRemoteIntegration(err error) bool {
	k := KindOf(err)
	return k == KindRemoteIntegration || k == KindRemoteTimeout
}

// IsConfiguration reports whether err signals an unusable source setup
func IsConfiguration(err error) bool {
	return KindOf(err) == KindConfiguration
}

// IsRetryable checks if an error kind should be retried
func IsRetryable(kind Kind) bool {
	switch kind {
	case KindNetwork, KindRateLimited, KindRemoteTimeout:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429:
		return true
	case 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}
