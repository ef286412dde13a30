package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the System lifecycle the error occurred
type Phase string

const (
	PhaseBuild    Phase = "build"    // before FinishInitialization
	PhaseRun      Phase = "run"      // operational calls on a running System
	PhaseShutdown Phase = "shutdown" // teardown
)

// Kind categorizes the error
type Kind string

const (
	// KindLifecycle is a call made in the wrong lifecycle state: build-only
	// registration after FinishInitialization, a second FinishInitialization,
	// or operational calls after shutdown has begun.
	KindLifecycle Kind = "lifecycle"

	// KindDuplicate is a driver/device/queue/worker name that is already
	// registered. The existing entry is always left untouched.
	KindDuplicate Kind = "duplicate_resource"

	// KindReservedName is an attempt to claim a name the System reserves
	// for itself.
	KindReservedName Kind = "reserved_name"

	// KindNotFound is a lookup of an unregistered name.
	KindNotFound Kind = "not_found"

	// KindOrdering is a call made too late relative to another, such as
	// adding a worker initializer after a worker exists.
	KindOrdering Kind = "ordering"

	// KindEngine is a failure creating or releasing the execution engine.
	KindEngine Kind = "engine"
)

// Error is the structured error type used throughout the coordinator.
// All failures it reports are programmer or configuration errors; none are
// transient and none are retried internally.
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Convenience constructors for the coordinator's error taxonomy

// Lifecycle creates a lifecycle violation error
func Lifecycle(phase Phase, detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{
		Phase:  phase,
		Kind:   KindLifecycle,
		Detail: detail,
	}
}

// Duplicate creates a duplicate resource error
func Duplicate(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindDuplicate,
		Detail: fmt.Sprintf("%s %q already registered", what, name),
	}
}

// ReservedName creates a reserved name error
func ReservedName(what, name string) *Error {
	return &Error{
		Phase:  PhaseRun,
		Kind:   KindReservedName,
		Detail: fmt.Sprintf("cannot create %s %q (reserved name)", what, name),
	}
}

// NotFound creates a not-found error
func NotFound(what, name string) *Error {
	return &Error{
		Phase:  PhaseRun,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Ordering creates an ordering violation error
func Ordering(detail string) *Error {
	return &Error{
		Phase:  PhaseBuild,
		Kind:   KindOrdering,
		Detail: detail,
	}
}

// Engine wraps a failure from the execution engine resource
func Engine(phase Phase, detail string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindEngine,
		Detail: detail,
		Cause:  cause,
	}
}
