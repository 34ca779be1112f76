package helpers

import (
	"context"
	"errors"

	"github.com/compozy/codeassist/cli/api"
	"github.com/compozy/codeassist/engine/tracker"
)

// Classify maps an invocation error onto a CliError. Errors that already are
// CliErrors are returned unchanged.
func Classify(err error) *CliError {
	if err == nil {
		return nil
	}
	var cliErr *CliError
	if errors.As(err, &cliErr) {
		return cliErr
	}
	var verr *tracker.ValidationError
	if errors.As(err, &verr) {
		return NewCliError(CodeValidation, verr.Message).WithContext("field", verr.Field)
	}
	var ferr *tracker.TaskFailedError
	if errors.As(err, &ferr) {
		return NewCliError(CodeTaskFailed, ferr.Message).WithContext("task_id", ferr.TaskID.String())
	}
	var serr *tracker.SubmitError
	if errors.As(err, &serr) {
		return NewCliError(submissionCode(serr.Err), serr.Message, causeDetail(serr.Err))
	}
	var perr *tracker.PollError
	if errors.As(err, &perr) {
		code := CodePoll
		if errors.Is(perr.Err, api.ErrTaskNotFound) {
			code = CodeNotFound
		}
		return NewCliError(code, perr.Message, causeDetail(perr.Err)).WithContext("task_id", perr.TaskID.String())
	}
	switch {
	case errors.Is(err, tracker.ErrPollTimeout):
		return NewCliError(CodePollTimeout, "Timed out waiting for the task to finish", err.Error())
	case errors.Is(err, tracker.ErrSuperseded):
		return NewCliError(CodeSuperseded, "A newer submission replaced this one")
	case errors.Is(err, context.Canceled):
		return NewCliError(CodeCanceled, "Operation was canceled")
	case errors.Is(err, api.ErrTaskNotFound):
		return NewCliError(CodeNotFound, "Task not found", err.Error())
	case IsAuthError(err):
		return NewCliError(CodeAuth, "Authentication failed", err.Error())
	case IsTimeoutError(err):
		return NewCliError(CodeTimeout, "Operation timed out", err.Error())
	case IsNetworkError(err):
		return NewCliError(CodeNetwork, "Unable to reach the code assistant service", err.Error())
	}
	return NewCliError(CodeCommandFailed, err.Error())
}

func submissionCode(cause error) string {
	switch {
	case IsAuthError(cause):
		return CodeAuth
	case IsNetworkError(cause):
		return CodeNetwork
	}
	return CodeSubmission
}

func causeDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
