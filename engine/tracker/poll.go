package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/compozy/codeassist/engine/task"
	"github.com/compozy/codeassist/pkg/logger"
	"github.com/sethvargo/go-retry"
)

var errStillRunning = errors.New("task still running")

// backoff builds the wait schedule for one loop. The first Next is the delay
// before the first status check.
func (t *Tracker) backoff() retry.Backoff {
	p := t.opts.Poll
	var b retry.Backoff
	if p.Backoff == BackoffExponential {
		b = retry.NewExponential(p.Interval)
		if p.MaxInterval > 0 {
			b = retry.WithCappedDuration(p.MaxInterval, b)
		}
	} else {
		b = retry.NewConstant(p.Interval)
	}
	if p.Jitter > 0 {
		b = retry.WithJitter(p.Jitter, b)
	}
	if p.MaxAttempts > 0 {
		b = retry.WithMaxRetries(p.MaxAttempts, b)
	}
	if p.MaxDuration > 0 {
		b = retry.WithMaxDuration(p.MaxDuration, b)
	}
	return b
}

// poll checks status until the task is terminal, the schedule runs out, or
// ctx ends. Exactly one request is in flight at a time.
func (t *Tracker) poll(ctx context.Context, h *Handle, log logger.Logger) (*task.State, int, error) {
	b := t.backoff()
	first, stop := b.Next()
	if stop {
		return nil, 0, errStillRunning
	}
	if err := sleep(ctx, first); err != nil {
		return nil, 0, err
	}
	name := string(h.action)
	attempts := 0
	state, err := retry.DoValue(ctx, b, func(ctx context.Context) (*task.State, error) {
		attempts++
		st, err := t.api.GetTask(ctx, h.taskID)
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		if err == nil && st == nil {
			err = errors.New("empty status response")
		}
		if err != nil {
			t.opts.Metrics.polled(name, "error")
			return nil, &PollError{Action: h.action, TaskID: h.taskID, Message: "status check failed", Err: err}
		}
		st.ID = h.taskID
		t.opts.Metrics.polled(name, st.Status.String())
		log.Debug("Task status checked", "status", st.Status, "attempt", attempts)
		if !st.Status.IsTerminal() {
			return nil, retry.RetryableError(errStillRunning)
		}
		return st, nil
	})
	return state, attempts, err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
