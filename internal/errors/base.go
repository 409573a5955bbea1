package errors

import (
	"fmt"
	"runtime/debug"
)

var _ error = (*PanicError)(nil)

// PanicError carries a value recovered from a panic together with the goroutine stack.
type PanicError struct {
	Op    string
	Value any
	Stack []byte
}

func (err *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", err.Op, err.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (err *PanicError) Unwrap() error {
	if e, ok := err.Value.(error); ok {
		return e
	}
	return nil
}

// FromPanic converts a recover() result into an error. It returns nil for a nil value.
func FromPanic(op string, v any) error {
	if v == nil {
		return nil
	}
	return &PanicError{Op: op, Value: v, Stack: debug.Stack()}
}

// Guard runs fn and turns a panic into a *PanicError.
func Guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = FromPanic(op, r)
		}
	}()
	return fn()
}
