package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"taskgate/internal/eventbus"
	"taskgate/internal/gate"
	logx "taskgate/pkg/logx"
)

// slowTask promotes the completion log from debug to info.
const slowTask = 750 * time.Millisecond

func (s *Service) worker(ctx context.Context, stop <-chan struct{}, queue chan queuedTask, idx int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(idx)<<32))
	for {
		// Checked first so a stop is never beaten by a ready queue.
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		default:
		}
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case qt, ok := <-queue:
			if !ok {
				return
			}
			s.stats.inFlight.Add(1)
			s.execute(ctx, stop, qt, rng)
			s.stats.inFlight.Add(-1)
		}
	}
}

// execute runs one dequeued task: stale check, admission, attempts, record.
func (s *Service) execute(ctx context.Context, stop <-chan struct{}, qt queuedTask, rng *rand.Rand) {
	if qt.track {
		defer qt.state.release()
	}
	t := qt.task
	start := time.Now()
	var wait time.Duration
	if !qt.enqueuedAt.IsZero() {
		wait = max(start.Sub(qt.enqueuedAt), 0)
	}

	if limit := s.config().MaxQueueDelay; limit > 0 && wait > limit {
		s.dropStale(start, t, wait)
		s.record(HistoryItem{ID: t.ID, Name: t.Name, Started: start, QueueDelay: wait, Error: "stale_queue_delay"})
		return
	}
	if t.Admit != nil {
		if err := t.Admit(start); err != nil {
			s.refuse(start, qt, wait, err)
			return
		}
	}

	s.log.Debug("task.started", logx.String("task", t.Name), logx.Duration("queue_delay", wait))
	s.publish(eventbus.TaskStarted, start, TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: wait})

	attempts, err := s.attempt(ctx, stop, qt, rng)
	var ra refusedAttempt
	if errors.As(err, &ra) {
		s.log.Debug("task retry refused", logx.String("task", t.Name), logx.Int("attempts", attempts))
		s.refuse(ra.at, qt, wait, ra.err)
		return
	}

	dur := time.Since(start)
	ev := TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: wait, Duration: dur, Attempts: attempts}
	fields := []logx.Field{logx.String("task", t.Name), logx.Duration("dur", dur), logx.Int("attempts", attempts)}
	switch {
	case err != nil:
		ev.Error = err.Error()
		s.log.Warn("task.failed", append(fields, logx.Err(err))...)
		s.publish(eventbus.TaskFailed, time.Now(), ev)
	case dur >= slowTask:
		s.log.Info("task.completed", fields...)
		s.publish(eventbus.TaskFinished, time.Now(), ev)
	default:
		s.log.Debug("task.completed", fields...)
		s.publish(eventbus.TaskFinished, time.Now(), ev)
	}
	s.record(HistoryItem{ID: t.ID, Name: t.Name, Started: start, Duration: dur, QueueDelay: wait, Attempts: attempts, Error: ev.Error})
}

// refusedAttempt ends the retry loop when Admit says no before a retry.
type refusedAttempt struct {
	at  time.Time
	err error
}

func (r refusedAttempt) Error() string { return r.err.Error() }
func (r refusedAttempt) Unwrap() error { return r.err }

// attempt runs qt up to 1+RetryMax times. NoRetry errors, ctx and stop end
// the loop early. Admit is asked again before every retry.
func (s *Service) attempt(ctx context.Context, stop <-chan struct{}, qt queuedTask, rng *rand.Rand) (int, error) {
	limit := 1 + qt.opt.RetryMax
	for n := 1; ; n++ {
		if n > 1 && qt.task.Admit != nil {
			now := time.Now()
			if err := qt.task.Admit(now); err != nil {
				return n - 1, refusedAttempt{at: now, err: err}
			}
		}
		err := s.runOnce(ctx, qt)
		if err == nil {
			return n, nil
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			return n, nr.err
		}
		if n >= limit {
			return n, err
		}
		delay := retryDelay(qt.opt, n, err, rng)
		if delay <= 0 {
			continue
		}
		s.log.Debug("task retry scheduled", logx.String("task", qt.task.Name), logx.Int("attempt", n+1), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return n, ctx.Err()
		case <-stop:
			tmr.Stop()
			return n, ErrStopped
		case <-tmr.C:
		}
	}
}

// runOnce runs a single attempt under the task timeout. Panics become errors.
func (s *Service) runOnce(ctx context.Context, qt queuedTask) (err error) {
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task.panic", logx.String("task", qt.task.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return qt.task.Run(ctx)
}

// refuse records a task whose Admit hook said no. A closed time window is
// published as task.gated, anything else as task.skipped.
func (s *Service) refuse(now time.Time, qt queuedTask, wait time.Duration, err error) {
	t := qt.task
	ev := TaskEvent{ID: t.ID, Name: t.Name, Started: now, QueueDelay: wait}

	var ce *gate.ClosedError
	switch {
	case errors.As(err, &ce):
		s.stats.gated.Add(1)
		ev.Error = "window_closed"
		ev.LocalTime, ev.NextOpen, ev.Zone = ce.Decision.Local, ce.NextOpen, ce.Decision.Zone
		s.log.Info("task.gated",
			logx.String("task", t.Name),
			logx.String("zone", ce.Decision.Zone),
			logx.String("local", ce.Decision.Local.Format(time.RFC3339)),
			logx.String("window", ce.Decision.Window.String()),
			logx.Time("next_open", ce.NextOpen),
		)
		s.publish(eventbus.TaskGated, now, ev)
	case errors.Is(err, gate.ErrWindowClosed), errors.Is(err, ErrGateClosed):
		s.stats.gated.Add(1)
		ev.Error = "window_closed"
		s.log.Info("task.gated", logx.String("task", t.Name))
		s.publish(eventbus.TaskGated, now, ev)
	default:
		ev.Error = err.Error()
		s.log.Warn("task rejected before run", logx.String("task", t.Name), logx.Err(err))
		s.publish(eventbus.TaskSkipped, now, ev)
	}
	s.record(HistoryItem{ID: t.ID, Name: t.Name, Started: now, QueueDelay: wait, Error: ev.Error})
}
