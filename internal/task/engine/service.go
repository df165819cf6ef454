package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"taskgate/internal/eventbus"
	rtsup "taskgate/internal/runtime/supervisor"
	logx "taskgate/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service executes tasks on a fixed worker pool fed by a bounded queue.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	pool *pool // nil while stopped

	log logx.Logger
	bus eventbus.Bus

	stats stats

	stateMu sync.Mutex
	states  map[string]*RunState

	hmu     sync.Mutex
	history []HistoryItem

	fullWarn  rate.Sometimes
	staleWarn rate.Sometimes
}

// pool is the state of one Start..Stop cycle.
type pool struct {
	queue   chan queuedTask
	stop    chan struct{}
	sup     *rtsup.Supervisor
	stopped chan struct{} // set by Stop, closed once every worker exited
}

type queuedTask struct {
	task Task

	enqueuedAt time.Time
	timeout    time.Duration
	opt        TaskOptions

	state *RunState
	track bool
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:       cfg.withDefaults(),
		log:       log,
		bus:       bus,
		states:    make(map[string]*RunState),
		fullWarn:  rate.Sometimes{Interval: warnThrottleEvery},
		staleWarn: rate.Sometimes{Interval: warnThrottleEvery},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply swaps the config. A changed pool or queue size restarts the workers;
// queued tasks are dropped in that case.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.pool != nil && s.pool.stopped == nil
	s.mu.Unlock()

	switch {
	case !running && cfg.Enabled:
		s.Start(ctx)
	case running && !cfg.Enabled:
		s.Stop(ctx)
	case running && (prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize):
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start launches the worker pool. It is idempotent and waits for a pending
// Stop to finish first.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	for s.pool != nil {
		stopped := s.pool.stopped
		if stopped == nil {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-stopped:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	p := &pool{
		queue: make(chan queuedTask, cfg.QueueSize),
		stop:  make(chan struct{}),
		sup: rtsup.New(ctx,
			rtsup.WithLogger(s.log.With(logx.String("comp", "taskengine"))),
			rtsup.WithCancelOnError(false),
		),
	}
	s.pool = p
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		idx := i
		p.sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.worker(c, p.stop, p.queue, idx)
			select {
			case <-p.stop:
				return context.Canceled
			default:
			}
			if err := c.Err(); err != nil {
				return err
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop cancels running tasks and waits for the workers, bounded by ctx.
// Queued tasks are discarded.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	p := s.pool
	if p == nil {
		s.mu.Unlock()
		return
	}
	stopped := p.stopped
	if stopped == nil {
		stopped = make(chan struct{})
		p.stopped = stopped
		close(p.stop)
		p.sup.Cancel()
		go func() {
			_ = p.sup.Wait(context.Background())
			s.mu.Lock()
			if s.pool == p {
				s.pool = nil
			}
			s.mu.Unlock()
			s.stats.inFlight.Store(0)
			close(stopped)
		}()
	}
	s.mu.Unlock()

	select {
	case <-stopped:
		s.log.Info("task engine stopped")
	case <-ctx.Done():
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

func (s *Service) publish(typ string, at time.Time, ev TaskEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
	}
}
