package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/compozy/codeassist/engine/action"
	"github.com/compozy/codeassist/engine/task"
)

type OutcomeStatus string

const (
	OutcomeCompleted  OutcomeStatus = "completed"
	OutcomeFailed     OutcomeStatus = "failed"
	OutcomeError      OutcomeStatus = "error"
	OutcomeCancelled  OutcomeStatus = "cancelled"
	OutcomeTimedOut   OutcomeStatus = "timed_out"
	OutcomeSuperseded OutcomeStatus = "superseded"
)

// Outcome is the final state of one invocation.
type Outcome struct {
	Action       action.Name   `json:"action"`
	TaskID       task.ID       `json:"task_id"`
	InvocationID string        `json:"invocation_id"`
	Generation   uint64        `json:"generation"`
	Status       OutcomeStatus `json:"status"`
	Content      string        `json:"content,omitempty"`
	Message      string        `json:"message,omitempty"`
	Attempts     int           `json:"attempts"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Handle is the caller's view of a running poll loop.
type Handle struct {
	action       action.Name
	slot         string
	taskID       task.ID
	invocationID string
	generation   uint64
	cancel       context.CancelCauseFunc
	done         chan struct{}

	mu      sync.Mutex
	outcome Outcome
	err     error
}

func (h *Handle) Action() action.Name  { return h.action }
func (h *Handle) Slot() string         { return h.slot }
func (h *Handle) TaskID() task.ID      { return h.taskID }
func (h *Handle) InvocationID() string { return h.invocationID }
func (h *Handle) Generation() uint64   { return h.generation }

// Cancel stops the loop. No output is written after Cancel returns unless the
// delivery was already in progress.
func (h *Handle) Cancel() {
	h.cancel(context.Canceled)
}

func (h *Handle) supersede() {
	h.cancel(ErrSuperseded)
}

// Done is closed once the loop has settled.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the loop settles or ctx ends. The returned error is nil
// only for a rendered completion.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.outcome, h.err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (h *Handle) settle(o Outcome, err error) {
	h.mu.Lock()
	h.outcome = o
	h.err = err
	h.mu.Unlock()
	close(h.done)
}
