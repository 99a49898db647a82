// Package errors provides kinded errors with stack traces for the notary
// pipelines. A Kind survives wrapping with %w, so the pipeline boundary can
// turn any failure into a structured result without losing its category.
package errors

import (
	stderrors "errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindHashMismatch
	KindEmptyFile
	KindFileTooLarge
	KindContentStoreUnavailable
	KindLedgerUnavailable
	KindAllocationConflict
	KindMalformedPayload
	KindConsistencyFault
	KindNotFound
	KindStoreUnavailable
	KindEntropy
	KindInternal
)

var kindNames = map[Kind]string{
	KindUnknown:                 "Unknown",
	KindValidation:              "ValidationError",
	KindHashMismatch:            "HashMismatch",
	KindEmptyFile:               "EmptyFile",
	KindFileTooLarge:            "FileTooLarge",
	KindContentStoreUnavailable: "ContentStoreUnavailable",
	KindLedgerUnavailable:       "LedgerUnavailable",
	KindAllocationConflict:      "AllocationConflict",
	KindMalformedPayload:        "MalformedPayload",
	KindConsistencyFault:        "ConsistencyFault",
	KindNotFound:                "NotFound",
	KindStoreUnavailable:        "StoreUnavailable",
	KindEntropy:                 "EntropyFailure",
	KindInternal:                "Internal",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// InputError reports whether the failure was caused by the caller's input.
// Such failures need no retry.
func (k Kind) InputError() bool {
	switch k {
	case KindValidation, KindHashMismatch, KindEmptyFile, KindFileTooLarge:
		return true
	}
	return false
}

// Retryable reports whether the failure came from an unavailable collaborator.
func (k Kind) Retryable() bool {
	switch k {
	case KindContentStoreUnavailable, KindLedgerUnavailable, KindStoreUnavailable, KindAllocationConflict:
		return true
	}
	return false
}

// Error is a kinded error. Msg is the human readable part, Err the cause.
type Error struct {
	Kind  Kind
	Msg   string
	Err   error
	trace *goerrors.Error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Stack returns the formatted stack captured when the error was built.
func (e *Error) Stack() string {
	if e.trace == nil {
		return ""
	}
	return string(e.trace.Stack())
}

// E builds a kinded error. cause may be nil.
func E(kind Kind, msg string, cause error) error {
	return &Error{Kind: kind, Msg: msg, Err: cause, trace: goerrors.Wrap(kind.String(), 1)}
}

// Ef builds a kinded error with a formatted message and no cause.
func Ef(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), trace: goerrors.Wrap(kind.String(), 1)}
}

// KindOf returns the kind of the outermost kinded error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StackOf returns the stack captured by the first error in the chain that has one.
func StackOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Stack()
	}
	var ge *goerrors.Error
	if stderrors.As(err, &ge) {
		return string(ge.Stack())
	}
	return ""
}

// New returns an error with a stack trace.
func New(msg string) error {
	return goerrors.New(msg)
}

// Errorf formats like fmt.Errorf (including %w) and records a stack trace.
func Errorf(format string, args ...interface{}) error {
	return &wrapped{err: fmt.Errorf(format, args...), trace: goerrors.Wrap(format, 1)}
}

type wrapped struct {
	err   error
	trace *goerrors.Error
}

func (w *wrapped) Error() string { return w.err.Error() }

func (w *wrapped) Unwrap() error { return w.err }

// As and Unwrap mirror the standard library so callers need a single import.
func As(err error, target interface{}) bool { return stderrors.As(err, target) }

func Unwrap(err error) error { return stderrors.Unwrap(err) }

// IsErr is errors.Is from the standard library.
func IsErr(err, target error) bool { return stderrors.Is(err, target) }

// Recover is deferred at goroutine roots; it converts a panic into an error
// carrying the panic site's stack and hands it to onPanic.
func Recover(onPanic func(cause error)) {
	if r := recover(); r != nil {
		onPanic(goerrors.Wrap(r, 2))
	}
}
