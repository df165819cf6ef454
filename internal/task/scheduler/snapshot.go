package scheduler

// Snapshot reports the registered schedules with their next and previous
// fires and, for gated ones, the verdict at the scheduler clock.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Timezone: s.cfg.Timezone}
	entries := append([]entry(nil), s.entries...)
	c := s.c
	s.mu.Unlock()

	if snap.Timezone == "" {
		snap.Timezone = "UTC"
	}
	now := s.clock.Now()
	snap.Schedules = make([]ScheduleInfo, 0, len(entries))
	for _, e := range entries {
		info := ScheduleInfo{ID: e.id, Name: e.sched.Name, Spec: e.sched.Spec, Timeout: e.sched.Timeout}
		if c != nil && e.cronID != 0 {
			ce := c.Entry(e.cronID)
			info.Next, info.Prev = ce.Next, ce.Prev
		}
		if g := e.sched.Gate; g != nil {
			info.Gate = &GateInfo{
				Zone:      g.Zone(),
				Window:    g.Window().String(),
				AllowedAt: g.AllowedAt(now),
				NextOpen:  g.NextOpen(now),
			}
		}
		snap.Schedules = append(snap.Schedules, info)
	}

	snap.Gated = s.gated.Load()
	if s.engine != nil {
		snap.Engine = s.engine.Snapshot()
		snap.Gated += snap.Engine.Gated
	}
	return snap
}
