package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/compozy/codeassist/engine/action"
	"github.com/compozy/codeassist/engine/output"
	"github.com/compozy/codeassist/engine/task"
	"github.com/compozy/codeassist/pkg/config"
	"github.com/compozy/codeassist/pkg/logger"
	"github.com/segmentio/ksuid"
)

const (
	SupersedeCancel    = "cancel"
	SupersedeDiscard   = "discard"
	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
)

// TaskAPI is the backend contract the tracker drives.
type TaskAPI interface {
	CreateTask(ctx context.Context, endpoint string, body any) (*task.Created, error)
	GetTask(ctx context.Context, id task.ID) (*task.State, error)
}

type Options struct {
	Poll     config.PollConfig
	Params   action.Params
	Sanitize bool
	Metrics  *Metrics
}

// OptionsFromConfig maps the loaded configuration onto tracker options.
func OptionsFromConfig(cfg *config.Config) Options {
	if cfg == nil {
		cfg = config.Default()
	}
	return Options{
		Poll:     cfg.Poll,
		Params:   action.ParamsFromConfig(&cfg.Actions),
		Sanitize: cfg.Output.Sanitize,
	}
}

// ParamOption adjusts request parameters for a single submission.
type ParamOption func(*action.Params)

// WithErrorMessages attaches error output to a debug request.
func WithErrorMessages(msgs ...string) ParamOption {
	return func(p *action.Params) {
		p.ErrorMessages = append(p.ErrorMessages, msgs...)
	}
}

// WithPublishTarget sets the repository file and commit message for publish.
func WithPublishTarget(filePath, commitMessage string) ParamOption {
	return func(p *action.Params) {
		if filePath != "" {
			p.FilePath = filePath
		}
		if commitMessage != "" {
			p.CommitMessage = commitMessage
		}
	}
}

// Tracker submits tasks and runs one poll loop per submission. It is safe for
// concurrent use.
type Tracker struct {
	api   TaskAPI
	board *output.Board
	opts  Options
	now   func() time.Time
	newID func() string

	mu     sync.Mutex
	active map[string]*Handle

	// live holds every running loop by invocation id, including superseded
	// loops that kept running under the discard policy.
	live map[string]*Handle
	wg   sync.WaitGroup
}

func New(api TaskAPI, board *output.Board, opts Options) *Tracker {
	defaults := config.Default().Poll
	if opts.Poll.Interval <= 0 {
		opts.Poll.Interval = defaults.Interval
	}
	if opts.Poll.Backoff == "" {
		opts.Poll.Backoff = BackoffConstant
	}
	if opts.Poll.Supersede == "" {
		opts.Poll.Supersede = SupersedeCancel
	}
	opts.Params = withDefaultParams(opts.Params)
	if board == nil {
		board = output.NewBoard(nil)
	}
	return &Tracker{
		api:    api,
		board:  board,
		opts:   opts,
		now:    time.Now,
		newID:  func() string { return ksuid.New().String() },
		active: make(map[string]*Handle),
		live:   make(map[string]*Handle),
	}
}

func withDefaultParams(p action.Params) action.Params {
	d := action.ParamsFromConfig(nil)
	if p.Language == "" {
		p.Language = d.Language
	}
	if p.OptimizationTarget == "" {
		p.OptimizationTarget = d.OptimizationTarget
	}
	if p.DocumentationStyle == "" {
		p.DocumentationStyle = d.DocumentationStyle
	}
	if p.Branch == "" {
		p.Branch = d.Branch
	}
	return p
}

// Board exposes the output slots the tracker writes to.
func (t *Tracker) Board() *output.Board {
	return t.board
}

// SubmitAndTrack validates input, creates the task, and starts its poll loop.
// Validation and submission failures are alerted and returned; no loop is
// started for them. The loop inherits ctx.
func (t *Tracker) SubmitAndTrack(
	ctx context.Context,
	name action.Name,
	input string,
	opts ...ParamOption,
) (*Handle, error) {
	desc, err := action.Lookup(string(name))
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With("action", desc.Name)
	if strings.TrimSpace(input) == "" {
		verr := &ValidationError{Action: desc.Name, Field: desc.InputID, Message: desc.EmptyInput}
		t.opts.Metrics.submitted(string(desc.Name), "invalid")
		t.alert(ctx, desc, verr.Message, "", "")
		return nil, verr
	}
	params := t.opts.Params
	params.ErrorMessages = append([]string(nil), params.ErrorMessages...)
	for _, opt := range opts {
		opt(&params)
	}
	body, err := desc.BuildRequest(input, params)
	if err != nil {
		verr := &ValidationError{Action: desc.Name, Field: desc.InputID, Message: err.Error(), Err: err}
		t.opts.Metrics.submitted(string(desc.Name), "invalid")
		t.alert(ctx, desc, verr.Message, "", "")
		return nil, verr
	}
	invocation := t.newID()
	created, err := t.api.CreateTask(ctx, desc.Endpoint, body)
	if err == nil && (created == nil || created.TaskID.IsZero()) {
		err = errors.New("response did not include a task id")
	}
	if err != nil {
		log.Error("Task submission failed", "invocation_id", invocation, "error", err)
		t.opts.Metrics.submitted(string(desc.Name), "error")
		t.alert(ctx, desc, desc.FailureMessage, "", invocation)
		return nil, &SubmitError{Action: desc.Name, Message: desc.FailureMessage, Err: err}
	}
	t.opts.Metrics.submitted(string(desc.Name), "ok")
	log.Info("Task submitted", "task_id", created.TaskID, "invocation_id", invocation)
	return t.start(ctx, desc, created.TaskID, invocation), nil
}

// Track attaches a poll loop to a task created elsewhere.
func (t *Tracker) Track(ctx context.Context, name action.Name, id task.ID) (*Handle, error) {
	desc, err := action.Lookup(string(name))
	if err != nil {
		return nil, err
	}
	if id.IsZero() {
		return nil, &ValidationError{Action: desc.Name, Field: "task_id", Message: "Please provide a task id."}
	}
	return t.start(ctx, desc, id, t.newID()), nil
}

// Active returns the newest handle for a slot while its loop is running.
func (t *Tracker) Active(slot string) (*Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.active[slot]
	return h, ok
}

// Shutdown cancels every running loop and waits for them to settle.
func (t *Tracker) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	for _, h := range t.live {
		h.Cancel()
	}
	t.mu.Unlock()
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) start(ctx context.Context, desc action.Descriptor, id task.ID, invocation string) *Handle {
	loopCtx, cancel := context.WithCancelCause(ctx)
	h := &Handle{
		action:       desc.Name,
		slot:         desc.OutputID,
		taskID:       id,
		invocationID: invocation,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	t.mu.Lock()
	h.generation = t.board.Claim(desc.OutputID)
	prev := t.active[desc.OutputID]
	t.active[desc.OutputID] = h
	t.live[invocation] = h
	t.mu.Unlock()
	if prev != nil && t.opts.Poll.Supersede == SupersedeCancel {
		prev.supersede()
	}
	t.opts.Metrics.loopStarted(string(desc.Name))
	t.wg.Add(1)
	go t.run(loopCtx, h, desc)
	return h
}

func (t *Tracker) run(ctx context.Context, h *Handle, desc action.Descriptor) {
	defer t.wg.Done()
	started := t.now()
	log := logger.FromContext(ctx).With(
		"action", desc.Name,
		"task_id", h.taskID,
		"invocation_id", h.invocationID,
		"generation", h.generation,
	)
	outcome := Outcome{
		Action:       desc.Name,
		TaskID:       h.taskID,
		InvocationID: h.invocationID,
		Generation:   h.generation,
	}
	state, attempts, err := t.poll(ctx, h, log)
	outcome.Attempts = attempts
	err = t.resolve(ctx, h, desc, state, err, &outcome, log)
	outcome.Elapsed = t.now().Sub(started)
	h.cancel(nil)
	t.release(h)
	t.opts.Metrics.settled(string(desc.Name), outcome.Status, outcome.Elapsed)
	h.settle(outcome, err)
}

func (t *Tracker) resolve(
	ctx context.Context,
	h *Handle,
	desc action.Descriptor,
	state *task.State,
	err error,
	o *Outcome,
	log logger.Logger,
) error {
	if err != nil {
		return t.resolveError(ctx, h, desc, err, o, log)
	}
	if state.Status == task.StatusFailed {
		o.Status = OutcomeFailed
		o.Message = state.ErrorMessage()
		log.Warn("Task failed", "message", o.Message)
		t.alertLoop(ctx, desc, h, o.Message, log)
		return &TaskFailedError{Action: desc.Name, TaskID: h.taskID, Message: o.Message}
	}
	content, ok := state.Field(desc.ResultField)
	if !ok {
		o.Status = OutcomeError
		o.Message = desc.FailureMessage
		perr := &PollError{
			Action:  desc.Name,
			TaskID:  h.taskID,
			Message: desc.FailureMessage,
			Err:     fmt.Errorf("completed task has no %q in its result", desc.ResultField),
		}
		log.Error("Completed task is missing its result", "field", desc.ResultField)
		t.alertLoop(ctx, desc, h, o.Message, log)
		return perr
	}
	if t.opts.Sanitize && desc.ResultField == "code" {
		content = action.SanitizeCode(content, t.opts.Params.Language)
	}
	if ctx.Err() != nil {
		return t.resolveError(ctx, h, desc, ctx.Err(), o, log)
	}
	err = t.board.Deliver(ctx, output.Delivery{
		Action:       desc.Name,
		Slot:         desc.OutputID,
		TaskID:       h.taskID,
		InvocationID: h.invocationID,
		Generation:   h.generation,
		Content:      content,
	})
	switch {
	case errors.Is(err, output.ErrStale):
		o.Status = OutcomeSuperseded
		o.Message = ErrSuperseded.Error()
		log.Debug("Discarded result of superseded submission")
		return ErrSuperseded
	case err != nil:
		o.Status = OutcomeError
		o.Message = err.Error()
		log.Error("Failed to render result", "error", err)
		return fmt.Errorf("failed to render %s result: %w", desc.Name, err)
	}
	o.Status = OutcomeCompleted
	o.Content = content
	log.Info("Task completed", "attempts", o.Attempts)
	return nil
}

func (t *Tracker) resolveError(
	ctx context.Context,
	h *Handle,
	desc action.Descriptor,
	err error,
	o *Outcome,
	log logger.Logger,
) error {
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		if errors.Is(cause, ErrSuperseded) {
			o.Status = OutcomeSuperseded
			o.Message = ErrSuperseded.Error()
			log.Debug("Poll loop superseded")
			return ErrSuperseded
		}
		o.Status = OutcomeCancelled
		o.Message = cause.Error()
		log.Debug("Poll loop cancelled", "cause", cause)
		return cause
	}
	if errors.Is(err, errStillRunning) {
		o.Status = OutcomeTimedOut
		o.Message = fmt.Sprintf("Timed out waiting for the %s task to finish.", desc.Name)
		log.Warn("Task polling exhausted", "attempts", o.Attempts)
		t.alertLoop(ctx, desc, h, o.Message, log)
		return fmt.Errorf("%w: task %s after %d status checks", ErrPollTimeout, h.taskID, o.Attempts)
	}
	o.Status = OutcomeError
	o.Message = desc.FailureMessage
	log.Error("Task status check failed", "error", err)
	t.alertLoop(ctx, desc, h, desc.FailureMessage, log)
	return err
}

func (t *Tracker) release(h *Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active[h.slot] == h {
		delete(t.active, h.slot)
	}
	delete(t.live, h.invocationID)
}

// alertLoop alerts on behalf of a poll loop. A loop whose generation was
// superseded stays silent; the newer submission owns the slot.
func (t *Tracker) alertLoop(ctx context.Context, desc action.Descriptor, h *Handle, msg string, log logger.Logger) {
	if !t.board.IsCurrent(h.slot, h.generation) {
		log.Debug("Suppressed alert of superseded submission", "message", msg)
		return
	}
	t.alert(ctx, desc, msg, h.taskID, h.invocationID)
}

func (t *Tracker) alert(ctx context.Context, desc action.Descriptor, msg string, id task.ID, invocation string) {
	err := t.board.Alert(context.WithoutCancel(ctx), output.Alert{
		Action:       desc.Name,
		Level:        output.AlertError,
		Message:      msg,
		TaskID:       id,
		InvocationID: invocation,
	})
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to show alert", "action", desc.Name, "error", err)
	}
}
