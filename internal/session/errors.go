package session

import (
	"errors"
	"fmt"
)

// Kind classifies controller errors.
type Kind string

const (
	KindDeviceUnavailable Kind = "DEVICE_UNAVAILABLE"
	KindBuildFailed       Kind = "BUILD_FAILED"
	KindRuntimeAborted    Kind = "RUNTIME_ABORTED"
	KindDeviceLost        Kind = "DEVICE_LOST"
	KindBusy              Kind = "BUSY"
)

// Error is returned by every controller operation. All kinds are
// recoverable: the controller is left in a defined state.
type Error struct {
	Kind    Kind
	Message string
	Code    int // pipeline status code, RuntimeAborted and DeviceLost only
	Cause   error

	sentinel bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the kind sentinels, so errors.Is(err, ErrBuildFailed) holds for
// any BuildFailed error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.sentinel && t.Kind == e.Kind
}

var (
	ErrDeviceUnavailable = &Error{Kind: KindDeviceUnavailable, Message: "device unavailable", sentinel: true}
	ErrBuildFailed       = &Error{Kind: KindBuildFailed, Message: "pipeline build failed", sentinel: true}
	ErrRuntimeAborted    = &Error{Kind: KindRuntimeAborted, Message: "pipeline aborted", sentinel: true}
	ErrDeviceLost        = &Error{Kind: KindDeviceLost, Message: "device lost", sentinel: true}
	ErrBusy              = &Error{Kind: KindBusy, Message: "another operation is in progress", sentinel: true}
)

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of a controller error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
