package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/compozy/codeassist/engine/action"
	"github.com/compozy/codeassist/engine/output"
	"github.com/compozy/codeassist/engine/task"
	"github.com/compozy/codeassist/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu        sync.Mutex
	seq       int
	createErr error
	emptyID   bool
	getErr    error
	scripts   [][]task.State
	byID      map[task.ID][]task.State
	hold      map[task.ID]chan struct{}
	creates   []string
	bodies    []any
	gets      map[task.ID][]time.Time
	createdAt map[task.ID]time.Time
}

func newFakeAPI(scripts ...[]task.State) *fakeAPI {
	return &fakeAPI{
		scripts:   scripts,
		byID:      make(map[task.ID][]task.State),
		hold:      make(map[task.ID]chan struct{}),
		gets:      make(map[task.ID][]time.Time),
		createdAt: make(map[task.ID]time.Time),
	}
}

func (f *fakeAPI) CreateTask(_ context.Context, endpoint string, body any) (*task.Created, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, endpoint)
	f.bodies = append(f.bodies, body)
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.emptyID {
		return &task.Created{Status: task.StatusPending}, nil
	}
	f.seq++
	id := task.ID(fmt.Sprintf("task_%d", f.seq))
	if len(f.scripts) > 0 {
		f.byID[id] = f.scripts[0]
		f.scripts = f.scripts[1:]
	}
	f.createdAt[id] = time.Now()
	return &task.Created{TaskID: id, Status: task.StatusPending}, nil
}

func (f *fakeAPI) GetTask(ctx context.Context, id task.ID) (*task.State, error) {
	f.mu.Lock()
	f.gets[id] = append(f.gets[id], time.Now())
	gate := f.hold[id]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	script := f.byID[id]
	if len(script) == 0 {
		return &task.State{Status: task.StatusPending}, nil
	}
	st := script[0]
	if len(script) > 1 {
		f.byID[id] = script[1:]
	}
	return &st, nil
}

func (f *fakeAPI) holdTask(id task.ID) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.hold[id] = ch
	return ch
}

func (f *fakeAPI) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates)
}

func (f *fakeAPI) getTimes(id task.ID) []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, len(f.gets[id]))
	copy(out, f.gets[id])
	return out
}

func pending() task.State {
	return task.State{Status: task.StatusPending}
}

func processing() task.State {
	return task.State{Status: task.StatusProcessing}
}

func completed(code string) task.State {
	raw, _ := json.Marshal(map[string]string{"code": code, "language": "python"})
	return task.State{Status: task.StatusCompleted, Result: raw}
}

func failed(msg string) task.State {
	raw, _ := json.Marshal(map[string]string{"error": msg})
	return task.State{Status: task.StatusFailed, Result: raw}
}

const testInterval = 10 * time.Millisecond

func testOptions(supersede string) Options {
	opts := OptionsFromConfig(config.Default())
	opts.Poll.Interval = testInterval
	opts.Poll.Backoff = BackoffConstant
	opts.Poll.MaxDuration = 0
	opts.Poll.Supersede = supersede
	return opts
}

func newTestTracker(api TaskAPI, opts Options) (*Tracker, *output.MemorySink) {
	sink := output.NewMemorySink()
	return New(api, output.NewBoard(sink), opts), sink
}

func waitOutcome(t *testing.T, h *Handle) (Outcome, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o, err := h.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "poll loop did not settle")
	return o, err
}

func TestTracker_Validation(t *testing.T) {
	t.Run("Should reject blank input without any request", func(t *testing.T) {
		api := newFakeAPI()
		tr, sink := newTestTracker(api, testOptions(SupersedeCancel))
		for _, input := range []string{"", "   ", "\n\t"} {
			h, err := tr.SubmitAndTrack(context.Background(), action.Generate, input)
			assert.Nil(t, h)
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "code-prompt", verr.Field)
		}
		assert.Equal(t, 0, api.createCount())
		alerts := sink.Alerts()
		require.Len(t, alerts, 3)
		assert.Equal(t, "Please enter a coding prompt.", alerts[0].Message)
		assert.Empty(t, sink.Renders())
	})

	t.Run("Should reject a publish without a file path", func(t *testing.T) {
		api := newFakeAPI()
		tr, _ := newTestTracker(api, testOptions(SupersedeCancel))
		_, err := tr.SubmitAndTrack(context.Background(), action.Publish, "x = 1")
		require.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, 0, api.createCount())
	})

	t.Run("Should apply per-submission parameters", func(t *testing.T) {
		api := newFakeAPI()
		tr, _ := newTestTracker(api, testOptions(SupersedeCancel))
		h, err := tr.SubmitAndTrack(context.Background(), action.Publish, "x = 1",
			WithPublishTarget("src/app.py", ""))
		require.NoError(t, err)
		h.Cancel()
		_, err = tr.SubmitAndTrack(context.Background(), action.Debug, "x = ",
			WithErrorMessages("SyntaxError: invalid syntax"))
		require.NoError(t, err)
		require.NoError(t, tr.Shutdown(context.Background()))
		api.mu.Lock()
		defer api.mu.Unlock()
		require.Len(t, api.bodies, 2)
		publish, ok := api.bodies[0].(*action.PublishRequest)
		require.True(t, ok)
		assert.Equal(t, "src/app.py", publish.FilePath)
		assert.Equal(t, "Update src/app.py", publish.CommitMessage)
		debug, ok := api.bodies[1].(*action.DebugRequest)
		require.True(t, ok)
		assert.Equal(t, []string{"SyntaxError: invalid syntax"}, debug.ErrorMessages)
	})

	t.Run("Should reject unknown actions", func(t *testing.T) {
		tr, _ := newTestTracker(newFakeAPI(), testOptions(SupersedeCancel))
		_, err := tr.SubmitAndTrack(context.Background(), "refactor", "x")
		require.ErrorIs(t, err, action.ErrUnknownAction)
	})
}

func TestTracker_Submission(t *testing.T) {
	t.Run("Should alert and skip polling when submission fails", func(t *testing.T) {
		api := newFakeAPI()
		api.createErr = errors.New("connection refused")
		tr, sink := newTestTracker(api, testOptions(SupersedeCancel))
		h, err := tr.SubmitAndTrack(context.Background(), action.Optimize, "x = 1")
		assert.Nil(t, h)
		require.ErrorIs(t, err, ErrSubmission)
		var serr *SubmitError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, "Failed to optimize code. Please try again.", serr.Message)
		assert.ErrorContains(t, err, "connection refused")
		time.Sleep(3 * testInterval)
		api.mu.Lock()
		assert.Empty(t, api.gets)
		api.mu.Unlock()
		alerts := sink.Alerts()
		require.Len(t, alerts, 1)
		assert.Equal(t, serr.Message, alerts[0].Message)
	})

	t.Run("Should treat a missing task id as a submission failure", func(t *testing.T) {
		api := newFakeAPI()
		api.emptyID = true
		tr, _ := newTestTracker(api, testOptions(SupersedeCancel))
		_, err := tr.SubmitAndTrack(context.Background(), action.Debug, "x = ")
		require.ErrorIs(t, err, ErrSubmission)
	})
}

func TestTracker_Polling(t *testing.T) {
	t.Run("Should render once after the third status check", func(t *testing.T) {
		api := newFakeAPI([]task.State{pending(), processing(), completed("```python\nprint('hi')\n```")})
		tr, sink := newTestTracker(api, testOptions(SupersedeCancel))
		h, err := tr.SubmitAndTrack(context.Background(), action.Generate, "say hi")
		require.NoError(t, err)
		assert.Equal(t, task.ID("task_1"), h.TaskID())
		assert.NotEmpty(t, h.InvocationID())
		o, err := waitOutcome(t, h)
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, o.Status)
		assert.Equal(t, 3, o.Attempts)
		assert.Equal(t, "print('hi')", o.Content)
		renders := sink.Renders()
		require.Len(t, renders, 1)
		assert.Equal(t, "generated-code", renders[0].Slot)
		assert.Equal(t, "print('hi')", renders[0].Content)
		assert.Len(t, api.getTimes("task_1"), 3)
		assert.Empty(t, sink.Alerts())
	})

	t.Run("Should alert the task error and leave the output alone", func(t *testing.T) {
		api := newFakeAPI([]task.State{pending(), failed("model overloaded")})
		tr, sink := newTestTracker(api, testOptions(SupersedeCancel))
		h, err := tr.SubmitAndTrack(context.Background(), action.Debug, "x = ")
		require.NoError(t, err)
		o, err := waitOutcome(t, h)
		require.ErrorIs(t, err, ErrTaskFailed)
		assert.Equal(t, OutcomeFailed, o.Status)
		assert.Equal(t, "model overloaded", o.Message)
		assert.Empty(t, sink.Renders())
		alerts := sink.Alerts()
		require.Len(t, alerts, 1)
		assert.Equal(t, "model overloaded", alerts[0].Message)
		assert.Equal(t, task.ID("task_1"), alerts[0].TaskID)
	})

	t.Run("Should issue one request per interval after an initial wait", func(t *testing.T) {
		api := newFakeAPI([]task.State{pending(), pending(), pending(), completed("x")})
		tr, _ := newTestTracker(api, testOptions(SupersedeCancel))
		h, err := tr.SubmitAndTrack(context.Background(), action.Optimize, "x")
		require.NoError(t, err)
		_, err = waitOutcome(t, h)
		require.NoError(t, err)
		times := api.getTimes("task_1")
		require.Len(t, times, 4)
		api.mu.Lock()
		submitted := api.createdAt["task_1"]
		api.mu.Unlock()
		assert.GreaterOrEqual(t, times[0].Sub(submitted), testInterval)
		for i := 1; i < len(times); i++ {
			assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), testInterval)
		}
	})

	t.Run("Should time out after the attempt budget", func(t *testing.T) {
		api := newFakeAPI()
		opts := testOptions(SupersedeCancel)
		opts.Poll.MaxAttempts = 3
		tr, sink := newTestTracker(api, opts)
		h, err := tr.SubmitAndTrack(context.Background(), action.Generate, "loop forever")
		require.NoError(t, err)
		o, err := waitOutcome(t, h)
		require.ErrorIs(t, err, ErrPollTimeout)
		assert.Equal(t, OutcomeTimedOut, o.Status)
		assert.Equal(t, 3, o.Attempts)
		assert.Len(t, api.getTimes("task_1"), 3)
		assert.Empty(t, sink.Renders())
		assert.Len(t, sink.Alerts(), 1)
	})

	t.Run("Should time out after the duration budget", func(t *testing.T) {
		api := newFakeAPI()
		opts := testOptions(SupersedeCancel)
		opts.Poll.MaxDuration = 5 * testInterval
		tr, _ := newTestTracker(api, opts)
		h, err := tr.SubmitAndTrack(context.Background(), action.Generate, "loop forever")
		require.NoError(t, err)
		o, err := waitOutcome(t, h)
		require.ErrorIs(t, err, ErrPollTimeout)
		assert.Equal(t, OutcomeTimedOut, o.Status)
		assert.LessOrEqual(t, o.Attempts, 6)
	})

	t.Run("Should stop on a status check transport error", func(t *testing.T) {
		api := newFakeAPI()
		api.getErr = errors.New("connection reset")
		tr, sink := newTestTracker(api, testOptions(SupersedeCancel))
		h, err := tr.SubmitAndTrack(context.Background(), action.Document, "def f(): pass")
		require.NoError(t, err)
		o, err := waitOutcome(t, h)
		require.ErrorIs(t, err, ErrPoll)
		assert.Equal(t, OutcomeError, o.Status)
		assert.Len(t, api.getTimes("task_1"), 1)
		alerts := sink.Alerts()
		require.Len(t, alerts, 1)
		assert.Equal(t, "Failed to document code. Please try again.", alerts[0].Message)
	})

	t.Run("Should report a completed task without its result field", func(t *testing.T) {
		api := newFakeAPI([]task.State{{Status: task.StatusCompleted, Result: json.RawMessage(`{}`)}})
		tr, sink := newTestTracker(api, testOptions(SupersedeCancel))
		h, err := tr.SubmitAndTrack(context.Background(), action.Generate, "x")
		require.NoError(t, err)
		_, err = waitOutcome(t, h)
		require.ErrorIs(t, err, ErrPoll)
		assert.Empty(t, sink.Renders())
	})

	t.Run("Should grow the interval with exponential backoff", func(t *testing.T) {
		tr, _ := newTestTracker(newFakeAPI(), Options{Poll: config.PollConfig{
			Interval:    testInterval,
			MaxInterval: 4 * testInterval,
			Backoff:     BackoffExponential,
		}})
		b := tr.backoff()
		var got []time.Duration
		for range 5 {
			d, stop := b.Next()
			require.False(t, stop)
			got = append(got, d)
		}
		assert.Equal(t, []time.Duration{
			testInterval, 2 * testInterval, 4 * testInterval, 4 * testInterval, 4 * testInterval,
		}, got)
	})
}

func TestTracker_Cancellation(t *testing.T) {
	t.Run("Should stop the loop without writing output", func(t *testing.T) {
		api := newFakeAPI([]task.State{completed("late")})
		tr, sink := newTestTracker(api, testOptions(SupersedeCancel))
		api.holdTask("task_1")
		h, err := tr.SubmitAndTrack(context.Background(), action.Generate, "x")
		require.NoError(t, err)
		h.Cancel()
		o, err := waitOutcome(t, h)
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, OutcomeCancelled, o.Status)
		assert.Empty(t, sink.Renders())
		assert.Empty(t, sink.Alerts())
	})

	t.Run("Should stop every loop on shutdown", func(t *testing.T) {
		api := newFakeAPI()
		tr, _ := newTestTracker(api, testOptions(SupersedeDiscard))
		h1, err := tr.SubmitAndTrack(context.Background(), action.Generate, "a")
		require.NoError(t, err)
		h2, err := tr.SubmitAndTrack(context.Background(), action.Debug, "b")
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, tr.Shutdown(ctx))
		for _, h := range []*Handle{h1, h2} {
			select {
			case <-h.Done():
			default:
				t.Fatal("handle not settled after shutdown")
			}
		}
	})

	t.Run("Should stop superseded loops on shutdown under the discard policy", func(t *testing.T) {
		api := newFakeAPI()
		tr, _ := newTestTracker(api, testOptions(SupersedeDiscard))
		older, err := tr.SubmitAndTrack(context.Background(), action.Generate, "v1")
		require.NoError(t, err)
		newer, err := tr.SubmitAndTrack(context.Background(), action.Generate, "v2")
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()
		require.NoError(t, tr.Shutdown(ctx))
		for _, h := range []*Handle{older, newer} {
			select {
			case <-h.Done():
			default:
				t.Fatalf("loop %s still running after shutdown", h.InvocationID())
			}
		}
		o, err := older.Wait(context.Background())
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, OutcomeCancelled, o.Status)
	})

	t.Run("Should attach to an existing task", func(t *testing.T) {
		api := newFakeAPI()
		api.byID["task_9"] = []task.State{completed("attached")}
		tr, sink := newTestTracker(api, testOptions(SupersedeCancel))
		h, err := tr.Track(context.Background(), action.Optimize, "task_9")
		require.NoError(t, err)
		o, err := waitOutcome(t, h)
		require.NoError(t, err)
		assert.Equal(t, "attached", o.Content)
		require.Len(t, sink.Renders(), 1)
		assert.Equal(t, "optimized-code", sink.Renders()[0].Slot)
	})
}

func TestTracker_Overlap(t *testing.T) {
	t.Run("Should write only the newest result under the discard policy", func(t *testing.T) {
		api := newFakeAPI([]task.State{completed("old")}, []task.State{completed("new")})
		tr, sink := newTestTracker(api, testOptions(SupersedeDiscard))
		gate := api.holdTask("task_1")
		first, err := tr.SubmitAndTrack(context.Background(), action.Generate, "v1")
		require.NoError(t, err)
		second, err := tr.SubmitAndTrack(context.Background(), action.Generate, "v2")
		require.NoError(t, err)
		assert.NotEqual(t, first.TaskID(), second.TaskID())
		assert.Greater(t, second.Generation(), first.Generation())

		o2, err := waitOutcome(t, second)
		require.NoError(t, err)
		assert.Equal(t, "new", o2.Content)

		close(gate)
		o1, err := waitOutcome(t, first)
		require.ErrorIs(t, err, ErrSuperseded)
		assert.Equal(t, OutcomeSuperseded, o1.Status)

		renders := sink.Renders()
		require.Len(t, renders, 1)
		assert.Equal(t, "new", renders[0].Content)
		assert.NotEmpty(t, api.getTimes("task_1"))
	})

	t.Run("Should not alert for a superseded loop that fails", func(t *testing.T) {
		api := newFakeAPI([]task.State{failed("old run broke")}, []task.State{completed("new")})
		tr, sink := newTestTracker(api, testOptions(SupersedeDiscard))
		gate := api.holdTask("task_1")
		first, err := tr.SubmitAndTrack(context.Background(), action.Generate, "v1")
		require.NoError(t, err)
		second, err := tr.SubmitAndTrack(context.Background(), action.Generate, "v2")
		require.NoError(t, err)
		_, err = waitOutcome(t, second)
		require.NoError(t, err)

		close(gate)
		o1, err := waitOutcome(t, first)
		require.ErrorIs(t, err, ErrTaskFailed)
		assert.Equal(t, OutcomeFailed, o1.Status)
		assert.Empty(t, sink.Alerts())
		require.Len(t, sink.Renders(), 1)
	})

	t.Run("Should cancel the older loop under the cancel policy", func(t *testing.T) {
		api := newFakeAPI([]task.State{completed("old")}, []task.State{completed("new")})
		tr, sink := newTestTracker(api, testOptions(SupersedeCancel))
		api.holdTask("task_1")
		first, err := tr.SubmitAndTrack(context.Background(), action.Generate, "v1")
		require.NoError(t, err)
		second, err := tr.SubmitAndTrack(context.Background(), action.Generate, "v2")
		require.NoError(t, err)

		o1, err := waitOutcome(t, first)
		require.ErrorIs(t, err, ErrSuperseded)
		assert.Equal(t, OutcomeSuperseded, o1.Status)

		_, err = waitOutcome(t, second)
		require.NoError(t, err)
		renders := sink.Renders()
		require.Len(t, renders, 1)
		assert.Equal(t, "new", renders[0].Content)
		assert.Empty(t, sink.Alerts())
	})

	t.Run("Should keep different actions independent", func(t *testing.T) {
		api := newFakeAPI([]task.State{completed("gen")}, []task.State{completed("dbg")})
		tr, sink := newTestTracker(api, testOptions(SupersedeCancel))
		h1, err := tr.SubmitAndTrack(context.Background(), action.Generate, "a")
		require.NoError(t, err)
		h2, err := tr.SubmitAndTrack(context.Background(), action.Debug, "b")
		require.NoError(t, err)
		_, err = waitOutcome(t, h1)
		require.NoError(t, err)
		_, err = waitOutcome(t, h2)
		require.NoError(t, err)
		assert.Len(t, sink.Renders(), 2)
	})
}

func TestMetrics(t *testing.T) {
	t.Run("Should count submissions and outcomes", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m, err := NewMetrics(reg)
		require.NoError(t, err)
		api := newFakeAPI([]task.State{pending(), completed("x")})
		opts := testOptions(SupersedeCancel)
		opts.Metrics = m
		tr, _ := newTestTracker(api, opts)
		_, err = tr.SubmitAndTrack(context.Background(), action.Generate, " ")
		require.Error(t, err)
		h, err := tr.SubmitAndTrack(context.Background(), action.Generate, "x")
		require.NoError(t, err)
		_, err = waitOutcome(t, h)
		require.NoError(t, err)

		assert.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("generate", "invalid")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("generate", "ok")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.polls.WithLabelValues("generate", "pending")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("generate", "completed")))
		assert.Equal(t, 0.0, testutil.ToFloat64(m.inflight.WithLabelValues("generate")))
	})

	t.Run("Should refuse double registration", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		_, err := NewMetrics(reg)
		require.NoError(t, err)
		_, err = NewMetrics(reg)
		require.Error(t, err)
	})
}
