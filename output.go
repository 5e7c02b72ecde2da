package pipeline

import "fmt"

// ActiveReason explains why a computation is currently active rather
// than resolved.
type ActiveReason int

const (
	// Running means work is in flight (a fetch, a build, a publish).
	Running ActiveReason = iota
	// ReadyToRerun means the previous run finished but a dependency
	// changed and a fresh evaluation has not started yet.
	ReadyToRerun
)

func (r ActiveReason) String() string {
	switch r {
	case Running:
		return "running"
	case ReadyToRerun:
		return "ready-to-rerun"
	default:
		return "unknown"
	}
}

// Msg is an error message carried by an Error output. It is a
// distinct type (rather than a bare string) so that Output's Error
// case can be pattern-matched without colliding with Go's error
// interface.
type Msg string

func (m Msg) Error() string { return string(m) }

// kind distinguishes the three cases of Output without exposing a
// type switch on `any` to callers.
type kind int

const (
	kindOk kind = iota
	kindActive
	kindError
)

// Output is the tri-valued result of evaluating a Term: it is either
// a value (Ok), a pending computation (Active), or a failure (Error).
// Output carries no history — each term has a current Output only.
type Output[T any] struct {
	k      kind
	value  T
	reason ActiveReason
	msg    Msg
}

// Ok constructs a successful output.
func Ok[T any](v T) Output[T] {
	return Output[T]{k: kindOk, value: v}
}

// Active constructs an in-progress output.
func Active[T any](reason ActiveReason) Output[T] {
	return Output[T]{k: kindActive, reason: reason}
}

// Failed constructs a failed output.
func Failed[T any](msg Msg) Output[T] {
	return Output[T]{k: kindError, msg: msg}
}

// IsOk reports whether o holds a value.
func (o Output[T]) IsOk() bool { return o.k == kindOk }

// IsActive reports whether o is pending.
func (o Output[T]) IsActive() bool { return o.k == kindActive }

// IsError reports whether o holds a failure.
func (o Output[T]) IsError() bool { return o.k == kindError }

// Value returns the held value and true, or the zero value and false
// if o is not Ok.
func (o Output[T]) Value() (T, bool) {
	if o.k != kindOk {
		var zero T
		return zero, false
	}
	return o.value, true
}

// Reason returns the active reason and true, or zero and false if o
// is not Active.
func (o Output[T]) Reason() (ActiveReason, bool) {
	if o.k != kindActive {
		return 0, false
	}
	return o.reason, true
}

// Err returns the failure message and true, or "" and false if o is
// not an Error.
func (o Output[T]) Err() (Msg, bool) {
	if o.k != kindError {
		return "", false
	}
	return o.msg, true
}

// Severity is a logging aid only: Ok is debug-level, Active is
// info-level, Error is warn-level. It carries no behavioral meaning.
func (o Output[T]) Severity() string {
	switch o.k {
	case kindOk:
		return "debug"
	case kindActive:
		return "info"
	default:
		return "warn"
	}
}

// PP renders o for diagnostics/logs.
func (o Output[T]) PP() string {
	switch o.k {
	case kindOk:
		return fmt.Sprintf("Ok(%v)", o.value)
	case kindActive:
		return fmt.Sprintf("Active(%s)", o.reason)
	default:
		return fmt.Sprintf("Error(%s)", o.msg)
	}
}

// MapOutput transforms the value of an Ok output, passing Active and
// Error through unchanged.
func MapOutput[T, U any](o Output[T], f func(T) U) Output[U] {
	switch o.k {
	case kindOk:
		return Ok(f(o.value))
	case kindActive:
		return Active[U](o.reason)
	default:
		return Failed[U](o.msg)
	}
}
