// Package errkind classifies failures reported through the task ledger.
package errkind

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind names a class of failure. The string form is what ends up in a
// failed task's message.
type Kind string

const (
	FormatMismatch      Kind = "FormatMismatch"
	PayloadTooLarge     Kind = "PayloadTooLarge"
	EmptyDataset        Kind = "EmptyDataset"
	BackendUnavailable  Kind = "BackendUnavailable"
	PartialWriteAborted Kind = "PartialWriteAborted"
	InvalidTransition   Kind = "InvalidTransition"
	NotFound            Kind = "NotFound"
	DuplicateInFlight   Kind = "DuplicateInFlight"
	Timeout             Kind = "Timeout"
	Internal            Kind = "Internal"
)

// Error carries a Kind alongside the underlying cause.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of the given kind with a formatted detail.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, err error, detail string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// Wrapf is Wrap with a formatted detail.
func Wrapf(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or Internal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Message renders err the way it is stored on a failed task: the kind
// first, then the detail chain, without stack traces.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return fmt.Sprintf("%s: %v", Internal, err)
}
