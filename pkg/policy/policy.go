package policy

import (
	"errors"
	"fmt"
)

// ErrDenied indicates a policy refused the URL.
var ErrDenied = errors.New("URL denied by policy")

// Mode indicates whether the guard fails open or closed when evaluation errors.
type Mode string

const (
	// ModeFailClosed rejects the fetch when the policy cannot be evaluated.
	ModeFailClosed Mode = "fail_closed"
	// ModeFailOpen lets the fetch proceed when the policy cannot be evaluated.
	ModeFailOpen Mode = "fail_open"
)

// ParseMode normalises a configured mode, defaulting to fail closed.
func ParseMode(value string) (Mode, error) {
	switch Mode(value) {
	case "", ModeFailClosed:
		return ModeFailClosed, nil
	case ModeFailOpen:
		return ModeFailOpen, nil
	default:
		return "", fmt.Errorf("unknown policy mode %q", value)
	}
}

// Decision captures the result of a policy evaluation.
type Decision struct {
	Allow    bool
	Reason   string
	Metadata map[string]string
}

// Input provides context for policy evaluation.
type Input struct {
	URL             string
	TimeoutMS       int64
	SendCredentials bool
	Entrypoint      string
}

// DeniedError carries the reason a policy gave for refusing a URL.
type DeniedError struct {
	URL    string
	Reason string
}

func (e *DeniedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("URL denied by policy: %s", e.URL)
	}
	return fmt.Sprintf("URL denied by policy: %s: %s", e.URL, e.Reason)
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}

// IsDenied checks if the error indicates a policy denial.
func IsDenied(err error) bool {
	return errors.Is(err, ErrDenied)
}
