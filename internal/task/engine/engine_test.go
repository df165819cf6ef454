package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"taskgate/internal/eventbus"
	"taskgate/internal/gate"
	logx "taskgate/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) (*Service, eventbus.Bus) {
	t.Helper()
	cfg.Enabled = true
	bus := eventbus.New()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestRunPublishesFinished(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1})
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	var ran atomic.Int32
	err := s.Enqueue(Task{Name: "ok", Run: func(context.Context) error {
		ran.Add(1)
		return nil
	}})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	e := waitEvent(t, ch, eventbus.TaskFinished)
	ev := e.Data.(TaskEvent)
	if ev.Name != "ok" || ev.Attempts != 1 || ran.Load() != 1 {
		t.Fatalf("unexpected event %+v (ran=%d)", ev, ran.Load())
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1})
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	var calls atomic.Int32
	err := s.Enqueue(Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond},
		Run: func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("boom")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ev := waitEvent(t, ch, eventbus.TaskFinished).Data.(TaskEvent)
	if ev.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", ev.Attempts)
	}
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1, RetryMax: 5})
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	var calls atomic.Int32
	_ = s.Enqueue(Task{Name: "fatal", Run: func(context.Context) error {
		calls.Add(1)
		return NoRetry(errors.New("bad input"))
	}})
	ev := waitEvent(t, ch, eventbus.TaskFailed).Data.(TaskEvent)
	if calls.Load() != 1 || ev.Error != "bad input" {
		t.Fatalf("calls=%d event=%+v", calls.Load(), ev)
	}
}

func TestPanicBecomesFailure(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1})
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	_ = s.Enqueue(Task{Name: "panics", Opt: TaskOptions{RetryMax: -1}, Run: func(context.Context) error {
		panic("kaboom")
	}})
	ev := waitEvent(t, ch, eventbus.TaskFailed).Data.(TaskEvent)
	if ev.Error != "panic: kaboom" {
		t.Fatalf("error = %q", ev.Error)
	}
}

func TestAdmitClosedWindowPublishesGated(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1})
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	closedAt := time.Date(2024, 1, 5, 3, 0, 0, 0, time.UTC)
	g, err := gate.New("UTC", gate.Window{Start: 1, End: 7}, gate.WithClock(gate.FixedClock(closedAt)))
	if err != nil {
		t.Fatalf("gate.New: %v", err)
	}

	var ran atomic.Bool
	err = s.Enqueue(Task{
		Name:  "nightly",
		Admit: func(time.Time) error { return g.Check() },
		Run: func(context.Context) error {
			ran.Store(true)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ev := waitEvent(t, ch, eventbus.TaskGated).Data.(TaskEvent)
	if ran.Load() {
		t.Fatal("task ran while window closed")
	}
	if ev.Zone != "UTC" || ev.LocalTime.Hour() != 3 {
		t.Fatalf("gated event = %+v", ev)
	}
	if want := time.Date(2024, 1, 5, 7, 0, 0, 0, time.UTC); !ev.NextOpen.Equal(want) {
		t.Fatalf("next open = %v, want %v", ev.NextOpen, want)
	}
	if got := s.Snapshot().Gated; got != 1 {
		t.Fatalf("Snapshot().Gated = %d, want 1", got)
	}
}

func TestRetryRefusedOnceWindowCloses(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1})
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	var now atomic.Pointer[time.Time]
	setNow := func(at time.Time) { now.Store(&at) }
	setNow(time.Date(2024, 1, 5, 0, 59, 59, 0, time.UTC))
	g, err := gate.New("UTC", gate.Window{Start: 1, End: 7}, gate.WithClock(gate.ClockFunc(func() time.Time { return *now.Load() })))
	if err != nil {
		t.Fatalf("gate.New: %v", err)
	}

	var runs atomic.Int32
	err = s.Enqueue(Task{
		Name:  "nightly",
		Opt:   TaskOptions{RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond},
		Admit: func(time.Time) error { return g.Check() },
		Run: func(context.Context) error {
			runs.Add(1)
			setNow(time.Date(2024, 1, 5, 1, 0, 5, 0, time.UTC))
			return errors.New("flaky")
		},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ev := waitEvent(t, ch, eventbus.TaskGated).Data.(TaskEvent)
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}
	if ev.Error != "window_closed" || ev.LocalTime.Hour() != 1 {
		t.Fatalf("gated event = %+v", ev)
	}
	if got := s.Snapshot().Gated; got != 1 {
		t.Fatalf("Snapshot().Gated = %d, want 1", got)
	}
	select {
	case e := <-ch:
		if e.Type == eventbus.TaskFailed {
			t.Fatal("refused retry reported as failure")
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAdmitOtherErrorSkips(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1})
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	_ = s.Enqueue(Task{
		Name:  "maintenance",
		Admit: func(time.Time) error { return errors.New("paused") },
		Run:   func(context.Context) error { return nil },
	})
	ev := waitEvent(t, ch, eventbus.TaskSkipped).Data.(TaskEvent)
	if ev.Error != "paused" {
		t.Fatalf("skip reason = %q", ev.Error)
	}
	if s.Snapshot().Gated != 0 {
		t.Fatal("non-window rejection counted as gated")
	}
}

func TestOverlapSkip(t *testing.T) {
	t.Parallel()
	s, _ := startEngine(t, Config{Workers: 2})

	release := make(chan struct{})
	started := make(chan struct{})
	task := Task{
		Name: "long",
		Opt:  TaskOptions{Overlap: OverlapSkipIfRunning},
		Run: func(context.Context) error {
			close(started)
			<-release
			return nil
		},
	}
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	<-started
	if err := s.Enqueue(task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second Enqueue = %v, want ErrOverlapSkip", err)
	}
	close(release)
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled engine Enqueue = %v", err)
	}
	if err := s.Enqueue(Task{Name: "x"}); err == nil {
		t.Fatal("nil Run accepted")
	}

	s2 := New(Config{Enabled: true}, logx.Nop(), nil)
	if err := s2.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("unstarted engine Enqueue = %v", err)
	}
}

func TestSubmitBlocksUntilAccepted(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1, QueueSize: 1})
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	release := make(chan struct{})
	block := func(context.Context) error { <-release; return nil }
	if err := s.Enqueue(Task{Name: "first", Opt: TaskOptions{Overlap: OverlapAllow}, Run: block}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitEvent(t, ch, eventbus.TaskStarted)
	if err := s.Enqueue(Task{Name: "second", Opt: TaskOptions{Overlap: OverlapAllow}, Run: block}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Submit(ctx, Task{Name: "third", Run: block}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Submit on full queue = %v, want deadline exceeded", err)
	}
	close(release)
	if err := s.Submit(context.Background(), Task{Name: "fourth", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("Submit after drain: %v", err)
	}
}

func TestRetryAfterHint(t *testing.T) {
	t.Parallel()
	opt := TaskOptions{RetryBase: time.Second, RetryMaxDelay: 10 * time.Second}
	err := RetryAfter(errors.New("busy"), 3*time.Second)
	if got := retryDelay(opt, 1, err, nil); got != 3*time.Second {
		t.Fatalf("hinted delay = %v, want 3s", got)
	}
	long := RetryAfter(errors.New("busy"), time.Minute)
	if got := retryDelay(opt, 1, long, nil); got != 10*time.Second {
		t.Fatalf("hinted delay = %v, want cap 10s", got)
	}
	if got := retryDelay(opt, 2, errors.New("plain"), nil); got != 2*time.Second {
		t.Fatalf("plain delay = %v, want 2s", got)
	}
	if RetryAfter(nil, time.Second) != nil || NoRetry(nil) != nil {
		t.Fatal("wrapping nil must stay nil")
	}
}

func TestBackoffDelayBounded(t *testing.T) {
	t.Parallel()
	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{8, time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(opt, tt.retry, nil); got != tt.want {
			t.Fatalf("backoffDelay(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}
