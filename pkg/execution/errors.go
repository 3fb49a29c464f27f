package execution

import (
	"errors"
	"fmt"
)

// ErrDuplicateRequestID reports a request id registered twice with the
// tracker. This is an invariant violation in id generation, not a runtime
// condition callers should handle.
var ErrDuplicateRequestID = errors.New("duplicate request id")

// ErrQueueFailed is returned by Enqueue on a queue that has entered its
// terminal failed state. Such a queue must be replaced, never reused.
var ErrQueueFailed = errors.New("execution queue has failed and must be replaced")

// SessionUnavailableError marks work cancelled because no session could be
// obtained before it started.
type SessionUnavailableError struct {
	Cause error
}

func (e *SessionUnavailableError) Error() string {
	if e.Cause == nil {
		return "kernel session unavailable"
	}

	return fmt.Sprintf("kernel session unavailable: %v", e.Cause)
}

func (e *SessionUnavailableError) Unwrap() error {
	return e.Cause
}

// SessionLostError marks a request that failed because the connection
// dropped mid-execution.
type SessionLostError struct {
	SessionID string
	Cause     error
}

func (e *SessionLostError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("kernel session %s lost during execution", e.SessionID)
	}

	return fmt.Sprintf("kernel session %s lost during execution: %v", e.SessionID, e.Cause)
}

func (e *SessionLostError) Unwrap() error {
	return e.Cause
}

// RemoteExecutionError carries the error payload of a failed terminal reply.
type RemoteExecutionError struct {
	Name      string
	Value     string
	Traceback []string
}

func (e *RemoteExecutionError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("remote execution failed: %s", e.Name)
	}

	return fmt.Sprintf("remote execution failed: %s: %s", e.Name, e.Value)
}

func IsSessionUnavailable(err error) bool {
	var target *SessionUnavailableError

	return errors.As(err, &target)
}

func IsSessionLost(err error) bool {
	var target *SessionLostError

	return errors.As(err, &target)
}

func IsRemoteExecutionError(err error) bool {
	var target *RemoteExecutionError

	return errors.As(err, &target)
}
