package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"taskgate/internal/config"
	"taskgate/internal/eventbus"
	"taskgate/internal/task/scheduler"
	logx "taskgate/pkg/logx"
	"taskgate/pkg/systemd"
)

const toggleStopTimeout = 3 * time.Second

// reloadLoop applies published configs. A burst collapses to its newest.
func (a *App) reloadLoop(ctx context.Context) error {
	defer a.cfgm.Unsubscribe(a.reloads)
	applied := a.cfgm.Get()
	for {
		var next *config.Config
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-a.reloads:
			if !ok {
				return nil
			}
			next = cfg
		}
		for pending := true; pending; {
			select {
			case cfg := <-a.reloads:
				if cfg != nil {
					next = cfg
				}
			default:
				pending = false
			}
		}
		a.applyConfig(ctx, applied, next)
		applied = next
	}
}

// applyConfig moves the running daemon from prev to next, touching only the
// sections that changed. Invalid sections keep their previous settings.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, tasks := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready("") }()
	changed := func(name string) bool { return slices.Contains(sections, name) }

	if changed("storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if changed("logging") {
		a.logs.Apply(mapLogging(next))
	}
	if changed("gate") {
		if err := a.setDefaultGate(next); err != nil {
			a.log.Warn("invalid gate; keeping previous", logx.Err(err))
		}
	}

	schedWas, engWas := a.sched.Enabled(), a.engine.Enabled()
	if engCfg, err := mapTaskEngineConfig(next); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, engCfg)
	}
	if err := a.sched.Apply(scheduler.Config{Enabled: next.Scheduler.Enabled, Timezone: next.Scheduler.Timezone}); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	}
	if err := a.syncTasks(next); err != nil {
		a.log.Warn("some tasks were not applied", logx.Err(err))
	}

	// Stops run scheduler first, starts run engine first, so triggers
	// never land on a stopped engine.
	sched := toggle{name: "scheduler", was: schedWas, now: a.sched.Enabled(),
		start: func(c context.Context) error { return a.sched.Start(c) }, stop: a.sched.Stop}
	eng := toggle{name: "task engine", was: engWas, now: a.engine.Enabled(),
		start: func(c context.Context) error { a.engine.Start(c); return nil }, stop: a.engine.Stop}
	a.flipOff(ctx, sched, eng)
	a.flipOn(ctx, eng, sched)

	if changed("notifier") {
		a.applyNotifier(ctx, next)
	}
	if changed("observability") {
		if srvCfg, err := mapServerConfig(next); err != nil {
			a.log.Warn("invalid observability config; keeping previous", logx.Err(err))
		} else {
			a.http.Reconfigure(ctx, srvCfg)
		}
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReload, Time: time.Now(), Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	if len(tasks) > 0 {
		fields = append(fields, logx.String("tasks.changed", strings.Join(tasks, ",")))
	}
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyNotifier(ctx context.Context, cfg *config.Config) {
	sinks, err := buildSinks(cfg)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		return
	}
	ncfg := mapNotifierConfig(cfg)
	was := a.notif.Enabled()
	a.notif.SetSinks(sinks...)
	a.notif.Apply(ncfg)
	t := toggle{name: "notifier", was: was, now: ncfg.Enabled,
		start: func(c context.Context) error { a.notif.Start(c); return nil }, stop: a.notif.Stop}
	a.flipOff(ctx, t)
	a.flipOn(ctx, t)
}

// toggle is a component whose enabled flag may have changed on reload.
type toggle struct {
	name     string
	was, now bool
	start    func(context.Context) error
	stop     func(context.Context)
}

func (a *App) flipOff(ctx context.Context, ts ...toggle) {
	for _, t := range ts {
		if t.was && !t.now {
			a.log.Info(t.name + " disabled via config")
			c, cancel := context.WithTimeout(ctx, toggleStopTimeout)
			t.stop(c)
			cancel()
		}
	}
}

func (a *App) flipOn(ctx context.Context, ts ...toggle) {
	for _, t := range ts {
		if !t.was && t.now {
			a.log.Info(t.name + " enabled via config")
			if err := t.start(ctx); err != nil {
				a.log.Warn(t.name+" start failed", logx.Err(err))
			}
		}
	}
}
