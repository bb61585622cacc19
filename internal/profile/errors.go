package profile

import (
	"errors"
	"fmt"
)

// RequestReason classifies why an asynchronous request failed.
type RequestReason string

const (
	ReasonInProgress RequestReason = "already_in_progress"
	ReasonTimeout    RequestReason = "timeout"
	ReasonRejected   RequestReason = "rejected"
)

// RequestError represents a failed asynchronous request (audio-preference
// negotiation, deferred activation).
type RequestError struct {
	Reason RequestReason
	Msg    string
}

// Error implements the error interface
func (e *RequestError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Msg)
}

// Is allows errors.Is to compare RequestError values by Reason
func (e *RequestError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*RequestError)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

// Predefined sentinel errors for request outcomes
var (
	ErrRequestInProgress = &RequestError{Reason: ReasonInProgress}
	ErrRequestTimeout    = &RequestError{Reason: ReasonTimeout}
	ErrRequestRejected   = &RequestError{Reason: ReasonRejected}
)

// Engine-level errors
var (
	// ErrNotConnected indicates an operation referenced a device that is not
	// in the required family's connected set.
	ErrNotConnected = errors.New("device not connected")

	// ErrNoCollaborator indicates the profile subsystem for a family is not
	// registered with the engine.
	ErrNoCollaborator = errors.New("no collaborator for family")

	// ErrNotStarted indicates the engine worker is not running.
	ErrNotStarted = errors.New("engine not started")
)

// IsRequestReason reports whether err is a RequestError with the given reason
func IsRequestReason(err error, reason RequestReason) bool {
	var rerr *RequestError
	if errors.As(err, &rerr) {
		return rerr.Reason == reason
	}
	return false
}
