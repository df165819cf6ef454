package notifier

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

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Service turns bus events into alerts and delivers them to every sink
// through a bounded queue, a rate limiter and per-sink retries.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	sinks   []Sink
	run     *pipeline // nil while stopped

	log logx.Logger
	bus eventbus.Bus

	dedup   dedupSet
	history historyRing
}

// pipeline is the state of one Start..Stop cycle.
type pipeline struct {
	queue    chan Alert
	sup      *rtsup.Supervisor
	unlisten context.CancelFunc
	senders  sync.WaitGroup // Notify calls between the accept check and the send
	stopped  chan struct{}  // set by Stop, closed once drained
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, sinks ...Sink) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, bus: bus, sinks: append([]Sink(nil), sinks...)}
	s.dedup.until = map[string]time.Time{}
	s.setConfig(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps config. Queue size and worker count take effect on next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setConfig(cfg)
}

// SetSinks replaces the delivery targets.
func (s *Service) SetSinks(sinks ...Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append([]Sink(nil), sinks...)
}

func (s *Service) setConfig(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	// A burst of one second's worth absorbs short spikes.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	c.RetryMax = max(c.RetryMax, 0)
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	c.DedupWindow = max(c.DedupWindow, 0)
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 2000
	}
	return c
}

// Start launches the workers and the bus listener. It is idempotent and
// waits for a pending Stop first.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	for s.run != nil {
		stopped := s.run.stopped
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
	p := &pipeline{
		queue: make(chan Alert, s.cfg.QueueSize),
		// Alerting is best effort and never takes the daemon down.
		sup: rtsup.New(ctx,
			rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
			rtsup.WithCancelOnError(false),
		),
	}
	s.run = p
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.work(c, p.queue)
			if c.Err() != nil || s.draining(p) {
				return context.Canceled
			}
			return errors.New("notifier worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	if s.bus != nil {
		lctx, cancel := context.WithCancel(p.sup.Context())
		p.unlisten = cancel
		// Subscribed here so nothing published after Start returns is missed.
		ch, unsub := s.bus.Subscribe(256)
		p.sup.Go("events", func(context.Context) error {
			defer unsub()
			s.listen(lctx, ch)
			return nil
		})
	}
}

func (s *Service) draining(p *pipeline) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.stopped != nil
}

// Stop closes intake and lets the workers drain the queue. If ctx ends
// first, delivery is canceled.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	p := s.run
	if p == nil {
		s.mu.Unlock()
		return
	}
	stopped := p.stopped
	if stopped == nil {
		stopped = make(chan struct{})
		p.stopped = stopped
		go s.drain(p)
	}
	s.mu.Unlock()

	select {
	case <-stopped:
	case <-ctx.Done():
		p.sup.Cancel()
	}
}

func (s *Service) drain(p *pipeline) {
	if p.unlisten != nil {
		p.unlisten()
	}
	p.senders.Wait()
	close(p.queue)
	_ = p.sup.Wait(context.Background())
	s.mu.Lock()
	if s.run == p {
		s.run = nil
	}
	s.mu.Unlock()
	close(p.stopped)
}
