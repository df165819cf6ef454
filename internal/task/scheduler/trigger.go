package scheduler

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"taskgate/internal/eventbus"
	"taskgate/internal/gate"
	"taskgate/internal/task/engine"
	logx "taskgate/pkg/logx"
)

const enqueueWarnEvery = 5 * time.Second

// fire handles one trigger of e. A gated schedule is checked against the
// scheduler clock first; a closed window skips the trigger entirely. The
// engine re-checks the gate when the task leaves the queue.
func (s *Service) fire(e entry) {
	sc := e.sched
	t := engine.Task{Name: sc.Name, Timeout: sc.Timeout, Run: sc.Job, Opt: sc.Options, State: e.state}
	if g := sc.Gate; g != nil {
		now := s.clock.Now()
		if err := g.CheckAt(now); err != nil {
			s.skipGated(sc.Name, now, err)
			return
		}
		t.Admit = func(time.Time) error { return g.CheckAt(s.clock.Now()) }
	}
	s.enqueue(t)
}

func (s *Service) enqueue(t engine.Task) {
	if s.engine == nil {
		return
	}
	err := s.engine.Enqueue(t)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrOverlapSkip):
		// Routine: the previous run is still going.
		s.log.Debug("schedule trigger skipped", logx.String("schedule", t.Name), logx.Err(err))
	default:
		s.warner(t.Name).Do(func() {
			s.log.Warn("schedule failed to enqueue task", logx.String("schedule", t.Name), logx.Err(err))
		})
	}
}

func (s *Service) warner(name string) *rate.Sometimes {
	s.warnMu.Lock()
	defer s.warnMu.Unlock()
	w, ok := s.warns[name]
	if !ok {
		w = &rate.Sometimes{Interval: enqueueWarnEvery}
		s.warns[name] = w
	}
	return w
}

func (s *Service) skipGated(name string, now time.Time, err error) {
	s.gated.Add(1)
	ev := TaskEvent{Name: name, Started: now, Error: "window_closed"}
	if ce := (*gate.ClosedError)(nil); errors.As(err, &ce) {
		ev.LocalTime, ev.NextOpen, ev.Zone = ce.Decision.Local, ce.NextOpen, ce.Decision.Zone
	}
	s.log.Info("schedule trigger gated",
		logx.String("schedule", name),
		logx.String("zone", ev.Zone),
		logx.String("local", ev.LocalTime.Format(time.RFC3339)),
		logx.Time("next_open", ev.NextOpen),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskGated, Time: now, Data: ev})
	}
}

// Trigger fires the named schedule now, honoring its gate. It reports
// whether the schedule exists.
func (s *Service) Trigger(name string) bool {
	s.mu.Lock()
	var (
		e     entry
		found bool
	)
	for _, cur := range s.entries {
		if cur.sched.Name == name {
			e, found = cur, true
			break
		}
	}
	s.mu.Unlock()
	if found {
		s.fire(e)
	}
	return found
}
