package tracker

import (
	"errors"
	"fmt"

	"github.com/compozy/codeassist/engine/action"
	"github.com/compozy/codeassist/engine/task"
)

var (
	ErrValidation  = errors.New("invalid input")
	ErrSubmission  = errors.New("task submission failed")
	ErrPoll        = errors.New("task status check failed")
	ErrTaskFailed  = errors.New("task failed")
	ErrPollTimeout = errors.New("task did not finish in time")
	ErrSuperseded  = errors.New("superseded by a newer submission")
)

// ValidationError is returned before any network call is made.
type ValidationError struct {
	Action  action.Name
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// SubmitError carries the generic user-facing message for a failed creation
// request together with the underlying transport error.
type SubmitError struct {
	Action  action.Name
	Message string
	Err     error
}

func (e *SubmitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

func (e *SubmitError) Is(target error) bool {
	return target == ErrSubmission
}

// PollError ends an invocation when a status check cannot be completed.
type PollError struct {
	Action  action.Name
	TaskID  task.ID
	Message string
	Err     error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("%s (task %s): %v", e.Message, e.TaskID, e.Err)
}

func (e *PollError) Unwrap() error {
	return e.Err
}

func (e *PollError) Is(target error) bool {
	return target == ErrPoll
}

// TaskFailedError reports the message the backend attached to a failed task.
type TaskFailedError struct {
	Action  action.Name
	TaskID  task.ID
	Message string
}

func (e *TaskFailedError) Error() string {
	return e.Message
}

func (e *TaskFailedError) Is(target error) bool {
	return target == ErrTaskFailed
}
