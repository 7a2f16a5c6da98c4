package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork covers timeouts, refused connections and other transport faults.
	ErrNetwork = errors.New("backend unreachable")
	// ErrBackend covers non-2xx responses, undecodable bodies and success=false replies.
	ErrBackend = errors.New("backend rejected request")
)

// Error is the normalized failure returned by every Client call.
type Error struct {
	Op         string
	Kind       error
	StatusCode int
	Message    string
	RequestID  string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("backend %s: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status=%d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsNetwork reports whether err is a transport-level failure.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}
