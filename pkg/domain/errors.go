package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	ErrTimeout       = errors.New("request timeout exceeded")
	ErrInternal      = errors.New("internal resolver error")
	ErrNoTransport   = errors.New("no transport configured")
	ErrConfigInvalid = errors.New("invalid configuration")
)

// InternalError reports an unexpected panic raised while a fetch attempt was
// in flight. Phase records how far the attempt got before the panic.
type InternalError struct {
	Phase Phase
	Cause any
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal resolver error during %s: %v", e.Phase, e.Cause)
}

func (e *InternalError) Is(target error) bool {
	return target == ErrInternal
}

// Unwrap exposes the panic value when it was itself an error.
func (e *InternalError) Unwrap() error {
	if err, ok := e.Cause.(error); ok {
		return err
	}
	return nil
}

// IsInternal checks if the error was produced by a recovered panic.
func IsInternal(err error) bool {
	return errors.Is(err, ErrInternal)
}

// IsTimeout checks if the error indicates the transport gave up waiting.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
