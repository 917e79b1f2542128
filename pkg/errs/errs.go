// Package errs defines the fatal error kinds raised by the backend
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind int

const (
	// MalformedType is a DataType outside the mangleable set
	MalformedType Kind = iota + 1
	// UnresolvableCallTarget is a call or variable access with no static-link path
	UnresolvableCallTarget
	// InvariantViolation indicates an internal inconsistency upstream of the failing stage
	InvariantViolation
)

func (k Kind) String() string {
	switch k {
	case MalformedType: return "malformed type"
	case UnresolvableCallTarget: return "unresolvable call target"
	case InvariantViolation: return "invariant violation"
	}
	return "unknown error"
}

// Error carries the kind and the offending identifier or symbol
type Error struct {
	Kind    Kind
	Subject string
	Msg     string
}

func (e *Error) Error() string {
	if e.Subject == "" { return fmt.Sprintf("%s: %s", e.Kind, e.Msg) }
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Subject, e.Msg)
}

func newError(kind Kind, subject, format string, args ...interface{}) error {
	return errors.WithStack(&Error{Kind: kind, Subject: subject, Msg: fmt.Sprintf(format, args...)})
}

func MalformedTypef(subject, format string, args ...interface{}) error {
	return newError(MalformedType, subject, format, args...)
}

func Unresolvablef(subject, format string, args ...interface{}) error {
	return newError(UnresolvableCallTarget, subject, format, args...)
}

func Invariantf(subject, format string, args ...interface{}) error {
	return newError(InvariantViolation, subject, format, args...)
}

// KindOf unwraps err to its root cause and returns its Kind, or 0 if err is not an *Error
func KindOf(err error) Kind {
	if e, ok := errors.Cause(err).(*Error); ok { return e.Kind }
	return 0
}

// Subject returns the identifier the root cause refers to, if any
func Subject(err error) string {
	if e, ok := errors.Cause(err).(*Error); ok { return e.Subject }
	return ""
}
