package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"taskgate/internal/task/engine"
	logx "taskgate/pkg/logx"
)

// Add registers sc, replacing any schedule with the same name.
//
// Spec accepts cron ("*/5 * * * *", "@hourly", "@every 55m"), a Go duration
// interval ("55m") or an HH:MM interval ("02:30").
func (s *Service) Add(sc Schedule) (string, error) {
	sc.Name = strings.TrimSpace(sc.Name)
	switch {
	case sc.Name == "":
		return "", errors.New("name required")
	case sc.Job == nil:
		return "", errors.New("job required")
	}
	ps, err := ParseSchedule(sc.Spec)
	if err != nil {
		return "", err
	}
	sc.Spec = ps.Expr()
	e := entry{
		id:    fmt.Sprintf("%s:%d", ps.Source, time.Now().UnixNano()),
		sched: sc,
		state: &engine.RunState{},
	}
	if ps.Kind == SpecInterval {
		e.every = ps.Every
	}
	return sc.Name, s.register(e)
}

// AddSchedule registers an ungated schedule that skips overlapping runs.
func (s *Service) AddSchedule(name, spec string, timeout time.Duration, job Job) (string, error) {
	return s.Add(Schedule{Name: name, Spec: spec, Timeout: timeout, Options: TaskOptions{Overlap: OverlapSkipIfRunning}, Job: job})
}

// AddDaily runs job every day at HH:MM in the scheduler timezone.
func (s *Service) AddDaily(name, at string, timeout time.Duration, job Job) (string, error) {
	return s.addAt(name, at, "*", timeout, job)
}

// AddWeekly runs job once a week at HH:MM on weekday.
func (s *Service) AddWeekly(name string, weekday time.Weekday, at string, timeout time.Duration, job Job) (string, error) {
	return s.addAt(name, at, strconv.Itoa(int(weekday)), timeout, job)
}

func (s *Service) addAt(name, at, dow string, timeout time.Duration, job Job) (string, error) {
	h, m, err := parseClock(at)
	if err != nil {
		return "", err
	}
	return s.AddSchedule(name, fmt.Sprintf("cron:%d %d * * %s", m, h, dow), timeout, job)
}

func (s *Service) register(e entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(e.sched.Name)
	s.removeOnce(e.sched.Name)
	s.entries = append(s.entries, e)
	if s.c == nil {
		return nil // added to cron by Start
	}
	ep := &s.entries[len(s.entries)-1]
	if err := s.scheduleLocked(ep); err != nil {
		s.log.Error("schedule register failed", logx.String("name", e.sched.Name), logx.String("spec", e.sched.Spec), logx.Err(err))
		return err
	}
	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("schedule registered", s.describeLocked(ep)...)
	}
	return nil
}

// AddOnce runs job once at the given instant. It is ungated.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, job Job) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", errors.New("name required")
	case at.IsZero():
		return "", errors.New("at required")
	case job == nil:
		return "", errors.New("job required")
	}

	s.mu.Lock()
	s.dropLocked(name)
	running := s.c != nil
	s.mu.Unlock()

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if old := s.once[name]; old != nil && old.timer != nil {
		old.timer.Stop()
	}
	s.onceV++
	d := &onceDef{at: at, timeout: timeout, job: job, ver: s.onceV}
	s.once[name] = d
	if running {
		s.armOnceLocked(name, d)
	}
	return name, nil
}

// Remove unschedules everything registered under name.
func (s *Service) Remove(name string) bool {
	if name = strings.TrimSpace(name); name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.dropLocked(name)
	s.mu.Unlock()
	if s.removeOnce(name) {
		removed = true
	}
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// dropLocked removes the entries named name. Call with s.mu held.
func (s *Service) dropLocked(name string) bool {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.sched.Name != name {
			kept = append(kept, e)
			continue
		}
		if s.c != nil && e.cronID != 0 {
			s.c.Remove(e.cronID)
		}
	}
	removed := len(kept) != len(s.entries)
	clear(s.entries[len(kept):])
	s.entries = kept
	return removed
}

// scheduleLocked adds e to the running cron. Interval entries get a per-name
// startup spread so a restart does not fire them all at once.
func (s *Service) scheduleLocked(e *entry) error {
	snapshot := *e
	job := cron.FuncJob(func() { s.fire(snapshot) })
	if e.every > 0 {
		sched, spread := spreadInterval(e.every, time.Now().In(s.loc), e.sched.Name)
		e.spread = spread
		e.cronID = s.c.Schedule(sched, job)
		return nil
	}
	e.spread = 0
	id, err := s.c.AddJob(e.sched.Spec, job)
	if err != nil {
		return err
	}
	e.cronID = id
	return nil
}

// describeLocked builds the debug fields for a registered entry, including
// a preview of its next few fires. Call with s.mu held.
func (s *Service) describeLocked(e *entry) []logx.Field {
	fields := []logx.Field{
		logx.String("name", e.sched.Name),
		logx.String("id", e.id),
		logx.String("spec", e.sched.Spec),
		logx.Duration("timeout", e.sched.Timeout),
	}
	if g := e.sched.Gate; g != nil {
		fields = append(fields, logx.String("gate", g.Window().String()), logx.String("gate_tz", g.Zone()))
	}
	if e.spread > 0 {
		fields = append(fields, logx.Duration("spread", e.spread))
	}
	if fires, err := NextFires(e.sched.Spec, s.loc, time.Now(), 4); err == nil && len(fires) > 0 {
		next := make([]string, len(fires))
		for i, t := range fires {
			next[i] = t.Format(time.DateTime)
		}
		fields = append(fields, logx.String("next", strings.Join(next, ", ")))
	}
	return fields
}

func parseClock(v string) (hour, minute int, err error) {
	v = strings.TrimSpace(v)
	hs, ms, ok := strings.Cut(v, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", v)
	}
	if hour, err = strconv.Atoi(hs); err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", v)
	}
	if minute, err = strconv.Atoi(ms); err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", v)
	}
	return hour, minute, nil
}
