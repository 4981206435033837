// Package tabvcerr defines the error taxonomy of §7: one Kind per
// failure mode named in the spec, carrying a machine-readable tag and
// a human message, with the original cause preserved for %w chains.
package tabvcerr

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error tag. The wire layer (sync/wire)
// maps each Kind to an HTTP status per §4.8.5.
type Kind string

const (
	NotFound           Kind = "not_found"
	AlreadyExists      Kind = "already_exists"
	RevisionConflict   Kind = "revision_conflict"
	IntegrityMismatch  Kind = "integrity_mismatch"
	IncompatibleSchema Kind = "incompatible_schema"
	LockContention     Kind = "lock_contention"
	WireProtocol       Kind = "wire_protocol"
	IO                 Kind = "io"
	Corrupted          Kind = "corrupted"
	Unauthorized       Kind = "unauthorized"
	Forbidden          Kind = "forbidden"
)

// Error is the sum type every component in this module returns for a
// recognized failure. Unrecognized failures should be wrapped with
// Wrap(IO, ...) rather than returned bare, so callers can always
// switch on Kind.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause chain to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New builds an *Error with no cause.
func New(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error around an existing cause, preserving it for
// inspection via errors.Unwrap / errors.As.
func Wrap(k Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
