// Package apierr defines the stable, wire-independent error taxonomy used
// across the datastore client, generalizing the teacher's
// common.RemoteError{Code, Msg} shape into a comparable Kind rather than a
// transport-specific numeric code.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is a stable error classification, independent of the HTTP status
// code or gateway wire format that produced it.
type Kind int

const (
	// Unknown is the zero value; never returned by this package's
	// constructors, only possible on a zero-valued Error.
	Unknown Kind = iota
	NotFound
	Exists
	NotDir
	Perm
	Access
	Invalid
	RemoteIO
	UnsatisfiableReplicationStrategy
	PartialCreate
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case Exists:
		return "Exists"
	case NotDir:
		return "NotDir"
	case Perm:
		return "Perm"
	case Access:
		return "Access"
	case Invalid:
		return "Invalid"
	case RemoteIO:
		return "RemoteIO"
	case UnsatisfiableReplicationStrategy:
		return "UnsatisfiableReplicationStrategy"
	case PartialCreate:
		return "PartialCreate"
	default:
		return "Unknown"
	}
}

// Error wraps a Kind with a human message and an optional underlying cause,
// matching errors.Is/errors.As via Kind equality and Unwrap respectively.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
	Path  string // file or datastore path, when applicable; "" otherwise
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, apierr.SentinelNotFound) style matching: it
// reports true when the target is itself a *Error carrying the same
// Kind. Kind is not an error value; to test against a bare Kind use the
// package-level Is(err, kind).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// New builds an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf builds an *Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind that chains cause via Unwrap.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// WithPath returns a copy of e with Path set, for attaching the offending
// file or datastore path once it is known higher up the call stack.
func (e *Error) WithPath(path string) *Error {
	cp := *e
	cp.Path = path
	return &cp
}

// Sentinel values for errors.Is(err, apierr.SentinelNotFound) style checks
// against a bare Kind without constructing a message.
var (
	SentinelNotFound                         = &Error{Kind: NotFound}
	SentinelExists                           = &Error{Kind: Exists}
	SentinelNotDir                           = &Error{Kind: NotDir}
	SentinelPerm                             = &Error{Kind: Perm}
	SentinelAccess                           = &Error{Kind: Access}
	SentinelInvalid                          = &Error{Kind: Invalid}
	SentinelRemoteIO                         = &Error{Kind: RemoteIO}
	SentinelUnsatisfiableReplicationStrategy = &Error{Kind: UnsatisfiableReplicationStrategy}
	SentinelPartialCreate                    = &Error{Kind: PartialCreate}
)

// KindOf returns the Kind of err if it is (or wraps) an *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return Unknown, false
}

// Is reports whether err's Kind equals kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
