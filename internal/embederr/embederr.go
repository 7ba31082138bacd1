// Package embederr defines the tagged error taxonomy shared by every
// component of the embedding pipeline. Errors are distinguished by a Kind,
// not by Go type switches on concrete structs — callers branch on Kind and
// on IsRetryable.
package embederr

import (
	"errors"
	"fmt"
)

// Kind tags the cause of an error for retry and metrics purposes.
type Kind string

const (
	Configuration     Kind = "CONFIGURATION"
	Database          Kind = "DATABASE_ERROR"
	Transport         Kind = "HTTP_ERROR"
	EmbeddingProvider Kind = "EMBEDDING_ERROR"
	RateLimited       Kind = "RATE_LIMIT"
	Validation        Kind = "VALIDATION_ERROR"
	InvalidDimension  Kind = "INVALID_DIMENSION"
	ServiceUnavailable Kind = "SERVICE_UNAVAILABLE"
)

// retryable holds the fixed retryability of each kind, per spec §4.4/§7.
var retryable = map[Kind]bool{
	Configuration:      false,
	Database:           true,
	Transport:          true,
	EmbeddingProvider:  true,
	RateLimited:        true,
	Validation:         false,
	InvalidDimension:   false,
	ServiceUnavailable: true,
}

// Error is the single tagged error type used across the pipeline.
type Error struct {
	Kind    Kind
	Op      string // component/operation that raised it, e.g. "embedder.generate"
	Cause   error
	Message string // optional human-readable detail, independent of Cause
}

func (e *Error) Error() string {
	if e.Cause != nil {
		if e.Message != "" {
			return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Message, e.Cause)
		}
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsRetryable reports whether the error's kind is retryable per the fixed
// table in spec §4.4 and §7. Errors that are not of type *Error are treated
// as non-retryable, matching the "unknown cause" default in the retry
// envelope (C4).
func (e *Error) IsRetryable() bool {
	return retryable[e.Kind]
}

// New constructs a tagged error.
func New(kind Kind, op string, cause error, msg string) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause, Message: msg}
}

// IsRetryable reports whether err (of any type) should be retried by C4.
// Non-*Error values are not retryable: the envelope only retries causes it
// can positively classify.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.IsRetryable()
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err is not a tagged Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
