// Package app wires configuration, the gate, the task engine and scheduler,
// run history, alerting and diagnostics into one supervised daemon.
package app

import (
	"context"
	"fmt"
	"sync"

	"taskgate/internal/config"
	"taskgate/internal/eventbus"
	"taskgate/internal/gate"
	"taskgate/internal/notifier"
	"taskgate/internal/observability/metrics"
	"taskgate/internal/observability/server"
	rtsup "taskgate/internal/runtime/supervisor"
	"taskgate/internal/storage"
	"taskgate/internal/task/engine"
	"taskgate/internal/task/scheduler"
	logx "taskgate/pkg/logx"
	"taskgate/pkg/systemd"
)

type Option func(*App)

// WithClock replaces the clock used by every gate and the scheduler.
func WithClock(c gate.Clock) Option {
	return func(a *App) {
		if c != nil {
			a.clock = c
		}
	}
}

type App struct {
	cfgm  *config.Manager
	sup   *rtsup.Supervisor
	clock gate.Clock

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine  *engine.Service
	sched   *scheduler.Service
	notif   *notifier.Service
	metrics *metrics.Metrics
	http    *server.Service

	gmu  sync.RWMutex
	gate *gate.Gate // default gate

	// Owned by Start and then the reload loop.
	applied     map[string]config.TaskConfig
	appliedGate config.GateConfig
	reloads     chan *config.Config
}

func NewApp(cfgPath string, opts ...Option) (_ *App, err error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	a := &App{cfgm: cfgm, clock: gate.SystemClock(), applied: map[string]config.TaskConfig{}}
	for _, o := range opts {
		o(a)
	}

	logSvc, log := logx.New(mapLogging(cfg))
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))
	a.bus = eventbus.New()
	defer func() {
		if err == nil {
			return
		}
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logSvc.Close()
	}()

	if a.store, err = OpenStore(cfg, log.With(logx.String("comp", "storage"))); err != nil {
		return nil, err
	}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.engine = engine.New(engCfg, log.With(logx.String("comp", "taskengine")), a.bus)
	a.sched = scheduler.New(scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: cfg.Scheduler.Timezone},
		a.engine, log.With(logx.String("comp", "scheduler")), a.bus, scheduler.WithClock(a.clock))

	sinks, err := buildSinks(cfg)
	if err != nil {
		return nil, err
	}
	a.notif = notifier.New(mapNotifierConfig(cfg), log.With(logx.String("comp", "notifier")), a.bus, sinks...)

	a.metrics = metrics.New()
	if err := a.setDefaultGate(cfg); err != nil {
		return nil, err
	}
	srvCfg, err := mapServerConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.http = server.New(srvCfg, log.With(logx.String("comp", "http")), a.metrics.Registry(), func() any { return a.Status() })
	return a, nil
}

func (a *App) setDefaultGate(cfg *config.Config) error {
	g, err := cfg.Gate.Build(gate.WithClock(a.clock))
	if err != nil {
		return fmt.Errorf("gate: %w", err)
	}
	a.gmu.Lock()
	a.gate = g
	a.gmu.Unlock()
	a.metrics.SetGate(g)
	return nil
}

// Gate returns the default gate.
func (a *App) Gate() *gate.Gate {
	a.gmu.RLock()
	defer a.gmu.RUnlock()
	return a.gate
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// Reject reloads whose tasks cannot be turned into runnable schedules.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapTaskEngineConfig(cfg); err != nil {
			return err
		}
		if _, err := buildSinks(cfg); err != nil {
			return err
		}
		for _, t := range cfg.Tasks {
			if _, err := taskSchedule(cfg, t, a.clock); err != nil {
				return err
			}
		}
		return nil
	})
	cfg := a.cfgm.Get()
	runCtx := a.sup.Context()

	if err := a.syncTasks(cfg); err != nil {
		return err
	}
	if a.engine.Enabled() {
		a.engine.Start(runCtx)
	}
	if a.sched.Enabled() {
		if err := a.sched.Start(runCtx); err != nil {
			return err
		}
	}
	a.notif.Start(runCtx)

	a.sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })
	if a.store != nil {
		rec := storage.NewRecorder(a.store, a.bus, a.log.With(logx.String("comp", "history")))
		a.sup.Go("history", rec.Run)
	}
	if srvCfg, err := mapServerConfig(cfg); err == nil {
		a.http.Reconfigure(runCtx, srvCfg)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.reloads = a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		if err := systemd.Watchdog(c, a.log); err != nil {
			a.log.Warn("systemd watchdog unavailable", logx.Err(err))
		}
		return nil
	})

	g := a.Gate()
	a.log.Info("taskgate started",
		logx.Int("tasks", len(cfg.Tasks)),
		logx.String("gate.zone", g.Zone()),
		logx.String("gate.window", g.Window().String()),
		logx.Bool("gate.open", g.Allowed()),
	)
	_, _ = systemd.Ready(fmt.Sprintf("%d tasks scheduled", len(cfg.Tasks)))
	return nil
}
