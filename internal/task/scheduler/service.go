package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"taskgate/internal/eventbus"
	"taskgate/internal/gate"
	"taskgate/internal/task/engine"
	logx "taskgate/pkg/logx"
)

func New(cfg Config, eng *engine.Service, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		clock:  gate.SystemClock(),
		engine: eng,
		parser: cronParser,
		once:   map[string]*onceDef{},
		warns:  map[string]*rate.Sometimes{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. A timezone change rebuilds the running cron in the
// new location. An unknown timezone is rejected and the old config stays.
func (s *Service) Apply(cfg Config) error {
	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tzChanged := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && tzChanged {
		<-s.c.Stop().Done()
		s.c = nil
		s.startLocked(loc)
		s.log.Info("scheduler restarted", logx.String("tz", loc.String()), logx.Int("schedules", len(s.entries)))
	}
	return nil
}

// Start begins cron triggering and re-arms one-time schedules.
func (s *Service) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	loc, err := loadLocation(s.cfg.Timezone)
	if err != nil {
		return err
	}
	s.startLocked(loc)
	s.rearmOnce()
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("schedules", len(s.entries)))
	return nil
}

// startLocked builds a cron in loc and registers every entry. Call with s.mu held.
func (s *Service) startLocked(loc *time.Location) {
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.entries {
		if err := s.scheduleLocked(&s.entries[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.entries[i].sched.Name), logx.Err(err))
		}
	}
	s.c.Start()
}

// Stop halts cron triggering and one-time timers, waiting for running cron
// callbacks until ctx ends. One-time definitions resume on the next Start.
func (s *Service) Stop(ctx context.Context) {
	began := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.disarmOnce()
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(began)))
}

// loadLocation resolves the cron timezone. Empty means UTC; anything the
// gate package cannot resolve is an error.
func loadLocation(tz string) (*time.Location, error) {
	if strings.TrimSpace(tz) == "" {
		return time.UTC, nil
	}
	loc, err := gate.LoadZone(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone: %w", err)
	}
	return loc, nil
}
