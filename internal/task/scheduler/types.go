package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"taskgate/internal/eventbus"
	"taskgate/internal/gate"
	"taskgate/internal/task/engine"
	logx "taskgate/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Enabled  bool
	Timezone string // zone for cron fields; empty means UTC
}

type (
	TaskOptions = engine.TaskOptions
	TaskEvent   = engine.TaskEvent
)

const (
	OverlapAllow         = engine.OverlapAllow
	OverlapSkipIfRunning = engine.OverlapSkipIfRunning
)

// Job is the work run by a schedule.
type Job func(ctx context.Context) error

// Schedule describes one recurring trigger.
type Schedule struct {
	Name    string
	Spec    string // see ParseSchedule
	Timeout time.Duration
	Options TaskOptions
	Gate    *gate.Gate // nil means always allowed
	Job     Job
}

// entry is a registered Schedule plus its cron bookkeeping.
type entry struct {
	id     string
	sched  Schedule
	every  time.Duration // set for interval specs
	cronID cron.EntryID
	spread time.Duration // first-fire delay for interval specs
	state  *engine.RunState
}

type onceDef struct {
	at      time.Time
	timeout time.Duration
	job     Job
	ver     uint64
	timer   *time.Timer
}

type Option func(*Service)

// WithClock sets the clock used to evaluate gates on trigger.
func WithClock(c gate.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	loc     *time.Location
	c       *cron.Cron
	entries []entry

	log    logx.Logger
	bus    eventbus.Bus
	clock  gate.Clock
	engine *engine.Service
	parser cron.Parser

	gated atomic.Uint64

	// Per schedule, so one noisy task cannot hide another.
	warnMu sync.Mutex
	warns  map[string]*rate.Sometimes

	// One-time schedules survive Stop and are re-armed on Start.
	tmu   sync.Mutex
	once  map[string]*onceDef
	onceV uint64
}

type GateInfo struct {
	Zone      string
	Window    string
	AllowedAt bool // verdict at snapshot time
	NextOpen  time.Time
}

type ScheduleInfo struct {
	ID      string
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
	Gate    *GateInfo
}

type Snapshot struct {
	Enabled  bool
	Timezone string

	// Gated counts triggers refused here plus runs refused by the engine.
	Gated uint64

	Engine    engine.Snapshot
	Schedules []ScheduleInfo
}
