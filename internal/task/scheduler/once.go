package scheduler

import (
	"time"

	"taskgate/internal/task/engine"
)

func (s *Service) removeOnce(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	d, ok := s.once[name]
	if !ok {
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	delete(s.once, name)
	return true
}

// rearmOnce recreates timers for the stored one-time schedules.
func (s *Service) rearmOnce() {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	for name, d := range s.once {
		s.armOnceLocked(name, d)
	}
}

// disarmOnce stops the timers but keeps the definitions.
func (s *Service) disarmOnce() {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	for _, d := range s.once {
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
	}
}

// armOnceLocked starts the timer for d. Call with s.tmu held.
func (s *Service) armOnceLocked(name string, d *onceDef) {
	if d.timer != nil {
		d.timer.Stop()
	}
	ver := d.ver
	d.timer = time.AfterFunc(max(time.Until(d.at), 0), func() {
		s.tmu.Lock()
		cur, ok := s.once[name]
		if ok && cur.ver == ver {
			// Forget it before running so a restart cannot fire it twice.
			delete(s.once, name)
		}
		s.tmu.Unlock()
		if ok && cur.ver == ver {
			s.enqueue(engine.Task{Name: name, Timeout: cur.timeout, Run: cur.job, State: &engine.RunState{}})
		}
	})
}
