package engine

import (
	"context"
	"sync/atomic"
	"time"
)

// Engine defaults for zero config values.
const (
	defaultWorkers       = 2
	defaultQueueSize     = 256
	defaultHistorySize   = 200
	defaultRetryBase     = 500 * time.Millisecond
	defaultRetryMaxDelay = 15 * time.Second
	defaultRetryJitter   = 0.2
)

// Config controls the task execution engine.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	DefaultTimeout time.Duration // used when Task.Timeout is 0
	MaxQueueDelay  time.Duration // older queued tasks are dropped; 0 disables

	HistorySize int
	RetryMax    int
}

func (c Config) withDefaults() Config {
	c.Workers = positiveOr(c.Workers, defaultWorkers)
	c.QueueSize = positiveOr(c.QueueSize, defaultQueueSize)
	c.HistorySize = positiveOr(c.HistorySize, defaultHistorySize)
	c.RetryMax = max(c.RetryMax, 0)
	return c
}

func positiveOr[T int | time.Duration | float64](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}

// OverlapPolicy decides what a trigger does while the previous run of the
// same task is queued or running.
type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	OverlapSkipIfRunning
)

func (p OverlapPolicy) String() string {
	if p == OverlapAllow {
		return "allow"
	}
	return "skip"
}

type TaskOptions struct {
	Overlap       OverlapPolicy
	RetryMax      int // <0 disables retries; 0 uses the engine default
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // fraction, 0.2 is ±20%
}

func (o TaskOptions) withDefaults(cfg Config) TaskOptions {
	switch {
	case o.RetryMax < 0:
		o.RetryMax = 0
	case o.RetryMax == 0:
		o.RetryMax = cfg.RetryMax
	}
	o.RetryBase = positiveOr(o.RetryBase, defaultRetryBase)
	o.RetryMaxDelay = positiveOr(o.RetryMaxDelay, defaultRetryMaxDelay)
	o.RetryJitter = positiveOr(o.RetryJitter, defaultRetryJitter)
	if o.Overlap != OverlapAllow {
		o.Overlap = OverlapSkipIfRunning
	}
	return o
}

// RunState marks a task busy from enqueue until its run ends, so a fast
// trigger under OverlapSkipIfRunning cannot flood the queue. A nil RunState
// is never busy.
type RunState struct {
	busy atomic.Bool
}

func (s *RunState) tryAcquire() bool {
	return s == nil || s.busy.CompareAndSwap(false, true)
}

func (s *RunState) release() {
	if s != nil {
		s.busy.Store(false)
	}
}

type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Attempts   int
	Error      string
}

// TaskEvent is the payload of task lifecycle events on the bus.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`

	// Set on task.gated events.
	LocalTime time.Time `json:"local_time,omitempty"`
	NextOpen  time.Time `json:"next_open,omitempty"`
	Zone      string    `json:"zone,omitempty"`
}

// Task is a unit of work executed by the engine.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     TaskOptions
	State   *RunState

	// Admit is consulted right before every attempt. A non-nil error skips
	// the run or ends its retries; errors wrapping gate.ErrWindowClosed are
	// reported as task.gated rather than failures.
	Admit func(now time.Time) error
}
