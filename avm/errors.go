package avm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Script error taxonomy
// ---------------------------------------------------------------------------

var (
	ErrPropertyNotFound    = errors.New("property not found")
	ErrPropertyNotWritable = errors.New("property not writable")
	ErrTypeCoercion        = errors.New("type coercion failed")
	ErrStackOverflow       = errors.New("stack overflow")
	ErrVerify              = errors.New("verify error")
	ErrUncaught            = errors.New("uncaught exception")

	// ErrBudgetExceeded stops a script that ran past its instruction
	// budget. Scripts cannot catch it.
	ErrBudgetExceeded = errors.New("instruction budget exceeded")
)

// Error is a runtime condition raised by the object model or an
// interpreter. The interpreters turn it into a catchable script value.
type Error struct {
	Kind error
	Msg  string
}

// Errorf creates an Error of the given kind.
func Errorf(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

// Catchable reports whether err may be handled by script code: thrown
// values and the runtime conditions above, except budget exhaustion and
// verify failures.
func Catchable(err error) bool {
	var exc *Exception
	if errors.As(err, &exc) {
		return true
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind != ErrVerify && e.Kind != ErrBudgetExceeded
}

// Exception carries a thrown script value while it unwinds.
type Exception struct {
	Value Value
	// Message is a host-readable rendering of Value.
	Message string
}

func (e *Exception) Error() string {
	if e.Message == "" {
		return "script exception"
	}
	return e.Message
}

// UncaughtError reports an exception that unwound past every handler of
// a script chain.
type UncaughtError struct {
	Err error
}

func (e *UncaughtError) Error() string {
	return fmt.Sprintf("uncaught exception: %v", e.Err)
}

func (e *UncaughtError) Unwrap() []error {
	return []error{ErrUncaught, e.Err}
}

// Thrown returns the script value carried by err, if it is an Exception.
func Thrown(err error) (Value, bool) {
	var exc *Exception
	if errors.As(err, &exc) {
		return exc.Value, true
	}
	return Undefined, false
}
