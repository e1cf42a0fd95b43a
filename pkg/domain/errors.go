package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for HTTP status mapping and for the
// dispatcher's retry decision
type ErrorKind string

// error kinds
const (
	KindValidation ErrorKind = "validation" // bad input, never retried
	KindAuth       ErrorKind = "auth"       // failed signature or secret check
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"  // uniqueness or state violation
	KindTransient  ErrorKind = "transient" // network, rate limit, lock; retryable
	KindParse      ErrorKind = "parse"     // malformed feed or payload
	KindPermanent  ErrorKind = "permanent" // rejected by the target, never retried
)

// Error carries a kind alongside the message so callers can branch on the
// class of failure without string matching
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validationf makes a validation error
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Authf makes an auth error
func Authf(format string, args ...any) error {
	return &Error{Kind: KindAuth, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf makes a not-found error
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Conflictf makes a conflict error
func Conflictf(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// Transientf makes a retryable error wrapping err
func Transientf(err error, format string, args ...any) error {
	return &Error{Kind: KindTransient, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Parsef makes a parse error wrapping err
func Parsef(err error, format string, args ...any) error {
	return &Error{Kind: KindParse, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Permanentf makes a non-retryable delivery error wrapping err
func Permanentf(err error, format string, args ...any) error {
	return &Error{Kind: KindPermanent, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from err, unwrapping as needed. Unclassified
// errors report KindTransient so unknown failures stay retryable.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindTransient
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}
