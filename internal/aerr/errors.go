// Package aerr defines the error taxonomy shared by every aegis subsystem.
// Errors carry a Kind for programmatic handling, an Op identifying the
// failing operation, and an optional wrapped cause.
package aerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation policy decisions.
type Kind string

const (
	KindConfig                Kind = "ConfigError"
	KindValidation            Kind = "ValidationError"
	KindAuthentication        Kind = "AuthenticationError"
	KindAuthorization         Kind = "AuthorizationError"
	KindToolNotPermitted      Kind = "ToolNotPermitted"
	KindApprovalRequired      Kind = "ApprovalRequired"
	KindBackendUnavailable    Kind = "BackendUnavailable"
	KindTimeout               Kind = "Timeout"
	KindRateLimited           Kind = "RateLimited"
	KindCircuitOpen           Kind = "CircuitOpen"
	KindPersistenceCorrupt    Kind = "PersistenceCorrupt"
	KindGenerationUnavailable Kind = "GenerationUnavailable"
	KindNotFound              Kind = "NotFound"
	KindConflictingState      Kind = "ConflictingState"
	KindInternal              Kind = "Internal"
)

// Error is the concrete error type used across the core.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so errors.Is(err, &Error{Kind: k}) works for
// sentinel comparisons built with Sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// E builds an Error. Args are interpreted by type: Kind, error, string (first
// string is Op, second is Msg). Mirrors the upspin-style constructor.
func E(kind Kind, op string, args ...interface{}) *Error {
	e := &Error{Kind: kind, Op: op}
	for _, a := range args {
		switch v := a.(type) {
		case error:
			e.Err = v
		case string:
			e.Msg = v
		}
	}
	return e
}

// Errorf builds an Error with a formatted message.
func Errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Sentinel returns a comparable error value for a kind, for use with
// errors.Is at call sites that only care about the classification.
func Sentinel(kind Kind) error { return &Error{Kind: kind} }

// KindOf extracts the Kind from err, or KindInternal when err is not an
// *Error. A nil err returns the empty Kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind == kind {
			return true
		}
		if e.Err == nil {
			break
		}
		err = e.Err
	}
	return false
}

// IsRetryable reports whether the error kind is transient and worth a
// bounded retry.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindBackendUnavailable, KindTimeout, KindRateLimited, KindCircuitOpen:
		return true
	}
	return false
}

// IsFatal reports whether the error must abort startup.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindPersistenceCorrupt, KindConfig:
		return true
	}
	return false
}
