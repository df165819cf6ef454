package app

import (
	"time"

	"taskgate/internal/gate"
)

// Status is the JSON document served at /status.
type Status struct {
	Time      time.Time    `json:"time"`
	Gate      GateStatus   `json:"gate"`
	Scheduler SchedStatus  `json:"scheduler"`
	Engine    EngineStatus `json:"engine"`
	Tasks     []TaskStatus `json:"tasks"`
}

type GateStatus struct {
	Zone     string    `json:"zone"`
	Window   string    `json:"window"`
	Allowed  bool      `json:"allowed"`
	Local    time.Time `json:"local"`
	NextOpen time.Time `json:"next_open,omitzero"`
}

type SchedStatus struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone"`
}

type EngineStatus struct {
	Enabled  bool   `json:"enabled"`
	Workers  int    `json:"workers"`
	InFlight int    `json:"in_flight"`
	QueueLen int    `json:"queue_len"`
	QueueCap int    `json:"queue_cap"`
	Dropped  uint64 `json:"dropped"`
	Gated    uint64 `json:"gated"`
}

type TaskStatus struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next,omitzero"`
	Prev     time.Time `json:"prev,omitzero"`
	Gated    bool      `json:"gated"`
	Allowed  bool      `json:"allowed"`
	NextOpen time.Time `json:"next_open,omitzero"`
}

func gateStatus(g *gate.Gate, now time.Time) GateStatus {
	d := g.Evaluate(now)
	gs := GateStatus{Zone: g.Zone(), Window: g.Window().String(), Allowed: d.Allowed, Local: d.Local}
	if !d.Allowed {
		gs.NextOpen = g.NextOpen(now)
	}
	return gs
}

// Status reports the default gate decision, the scheduled tasks and engine
// counters as of the app clock.
func (a *App) Status() Status {
	now := a.clock.Now()
	snap := a.sched.Snapshot()
	st := Status{
		Time:      now,
		Gate:      gateStatus(a.Gate(), now),
		Scheduler: SchedStatus{Enabled: snap.Enabled, Timezone: snap.Timezone},
		Engine: EngineStatus{
			Enabled:  a.engine.Enabled(),
			Workers:  snap.Engine.Workers,
			InFlight: snap.Engine.InFlight,
			QueueLen: snap.Engine.QueueLen,
			QueueCap: snap.Engine.QueueCap,
			Dropped:  snap.Engine.Dropped,
			Gated:    snap.Gated,
		},
		Tasks: make([]TaskStatus, 0, len(snap.Schedules)),
	}
	for _, s := range snap.Schedules {
		ts := TaskStatus{Name: s.Name, Schedule: s.Spec, Next: s.Next, Prev: s.Prev, Allowed: true}
		if s.Gate != nil {
			ts.Gated = true
			ts.Allowed = s.Gate.AllowedAt
			if !s.Gate.AllowedAt {
				ts.NextOpen = s.Gate.NextOpen
			}
		}
		st.Tasks = append(st.Tasks, ts)
	}
	return st
}
