package unit

import (
	"context"
	"errors"
	"fmt"
)

// Kind tags a unit for registry lookup.
type Kind string

// FailureKind tags a failure for registry lookup.
type FailureKind string

const (
	KindRetryOnce    Kind = "retry_once"
	KindRetryTwice   Kind = "retry_twice"
	KindLog          Kind = "log"
	KindEnqueueFront Kind = "enqueue_front"
)

const (
	FailureRetryEscalation FailureKind = "retry_escalation"
	FailurePanic           FailureKind = "panic"
	// FailureUnclassified is reported for errors that carry no kind of their own.
	FailureUnclassified FailureKind = "unclassified"
)

// Unit is one schedulable piece of work.
type Unit interface {
	Kind() Kind
	Run(ctx context.Context) error
}

// Kinded is implemented by errors that report their own failure kind.
type Kinded interface {
	error
	FailureKind() FailureKind
}

// FrontPusher is the queue capability units and strategies need.
type FrontPusher interface {
	PushFront(u Unit)
}

// LogFunc receives a captured failure. Its return is never consulted.
type LogFunc func(err error)

// KindOf returns the kind of the outermost kinded error in err's chain.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.FailureKind()
	}
	return FailureUnclassified
}

// Error is a domain failure tagged with a kind.
type Error struct {
	Kind FailureKind
	Err  error
}

// Fail builds a kinded error from a format string.
func Fail(kind FailureKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap tags err with kind. It returns nil when err is nil.
func Wrap(kind FailureKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) FailureKind() FailureKind { return e.Kind }

// EscalationError is raised by a retry wrapper whose inner unit failed again.
type EscalationError struct {
	// Wrapper is the kind of the retry unit that raised the error.
	Wrapper Kind
	Err     error
}

func (e *EscalationError) Error() string {
	return fmt.Sprintf("%s: retry failed: %v", e.Wrapper, e.Err)
}

func (e *EscalationError) Unwrap() error { return e.Err }

func (e *EscalationError) FailureKind() FailureKind { return FailureRetryEscalation }

// PanicError carries a value recovered from a panicking unit.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("unit panicked: %v", e.Value)
}

func (e *PanicError) FailureKind() FailureKind { return FailurePanic }
