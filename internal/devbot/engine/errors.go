package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNothingToSubmit rejects a submission with no model selected, or with
	// neither prompt text nor an attachment. It is a precondition failure with
	// no side effects, not a turn failure.
	ErrNothingToSubmit = errors.New("nothing to submit")

	// ErrRequestInFlight rejects a submission while another turn is active.
	ErrRequestInFlight = errors.New("a request is already in flight")

	// ErrNotEditable rejects an edit targeting anything other than one of the
	// user's own messages.
	ErrNotEditable = errors.New("message is not editable")

	// ErrCancelled marks a turn the user stopped. It is a distinct outcome,
	// not a failure: no synthetic reply is appended for it.
	ErrCancelled = errors.New("cancelled by user")
)

// TransportError wraps a network failure or non-2xx response encountered
// while driving a turn.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	if e == nil || e.Err == nil {
		return "transport error"
	}
	return fmt.Sprintf("transport error: %s", e.Err.Error())
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TaskError reports a backend-side failure of a polled background task.
type TaskError struct {
	Message string
}

func (e *TaskError) Error() string {
	if e == nil || e.Message == "" {
		return "background task failed"
	}
	return fmt.Sprintf("background task failed: %s", e.Message)
}

// TimeoutError reports that the poll budget was exhausted before the
// background task resolved.
type TimeoutError struct {
	TaskID   string
	Attempts int
}

func (e *TimeoutError) Error() string {
	if e == nil {
		return "task polling timed out"
	}
	return fmt.Sprintf("task %s did not resolve after %d polls", e.TaskID, e.Attempts)
}
