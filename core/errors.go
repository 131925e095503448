package core

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/location-coordinator/model"
)

var (
	// ErrInvalidHandle indicates the module handle does not resolve to a
	// known module, or an assist module is unusable.
	ErrInvalidHandle = errors.New("invalid module handle")
	// ErrInvalidType indicates the requested location type is not
	// supported by the module class.
	ErrInvalidType = errors.New("location type not supported by module")
	// ErrMissingAuthToken indicates a cloud mechanism was requested
	// without an authentication token.
	ErrMissingAuthToken = errors.New("authentication token required")
	// ErrBusy indicates the handle already has an active request.
	ErrBusy = errors.New("module handle busy")
	// ErrStopped is the family of deliberate early stops. It is not a
	// protocol fault.
	ErrStopped = errors.New("location attempt stopped")
	// ErrClosed indicates the coordinator has been closed.
	ErrClosed = errors.New("coordinator closed")
	// ErrMissingCallback indicates an async start without a callback.
	ErrMissingCallback = errors.New("callback required")
)

var (
	// ErrUserTerminated indicates the continuation predicate declined or
	// the caller cancelled. errors.Is(err, ErrStopped) holds.
	ErrUserTerminated = fmt.Errorf("%w: terminated by caller", ErrStopped)
	// ErrTimeout indicates the default acquisition budget elapsed.
	// errors.Is(err, ErrStopped) holds.
	ErrTimeout = fmt.Errorf("%w: acquisition budget elapsed", ErrStopped)
)

// StatusError is a driver-reported terminal error status.
type StatusError struct {
	Status model.LocationStatus
	cause  error
}

// NewStatusError returns a StatusError for status s.
func NewStatusError(s model.LocationStatus) *StatusError {
	return &StatusError{Status: s}
}

func (e *StatusError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("location failed: %s: %v", e.Status, e.cause)
	}
	return fmt.Sprintf("location failed: %s", e.Status)
}

// Is matches any *StatusError carrying the same status.
func (e *StatusError) Is(target error) bool {
	var other *StatusError
	if errors.As(target, &other) {
		return other.Status == e.Status
	}
	return false
}

func (e *StatusError) Unwrap() error { return e.cause }

// StatusOf extracts the terminal status carried by err. ok is false when
// err is not a driver-reported status error.
func StatusOf(err error) (model.LocationStatus, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status, true
	}
	return model.StatusUnknown, false
}

// driverError wraps a Go error returned by a driver step.
func driverError(err error) *StatusError {
	return &StatusError{Status: model.StatusUnknownCommsError, cause: err}
}
