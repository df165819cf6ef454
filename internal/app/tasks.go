package app

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"taskgate/internal/config"
	"taskgate/internal/gate"
	"taskgate/internal/task/command"
	"taskgate/internal/task/scheduler"
	logx "taskgate/pkg/logx"
)

// taskSchedule maps one configured task onto a scheduler entry.
func taskSchedule(cfg *config.Config, t config.TaskConfig, clock gate.Clock) (scheduler.Schedule, error) {
	g, err := cfg.TaskGate(t, gate.WithClock(clock))
	if err != nil {
		return scheduler.Schedule{}, fmt.Errorf("task %s: gate: %w", t.Name, err)
	}
	timeout, err := config.ParseDurationField("tasks."+t.Name+".timeout", t.Timeout)
	if err != nil {
		return scheduler.Schedule{}, err
	}
	job, err := command.Spec{Argv: t.Command, Dir: t.Dir, Env: t.Env}.Job()
	if err != nil {
		return scheduler.Schedule{}, fmt.Errorf("task %s: %w", t.Name, err)
	}
	opt := scheduler.TaskOptions{Overlap: scheduler.OverlapSkipIfRunning, RetryMax: t.RetryMax}
	if strings.EqualFold(t.Overlap, "allow") {
		opt.Overlap = scheduler.OverlapAllow
	}
	return scheduler.Schedule{
		Name:    t.Name,
		Spec:    t.Schedule,
		Timeout: timeout,
		Options: opt,
		Gate:    g,
		Job:     job,
	}, nil
}

// syncTasks makes the scheduler match cfg.Tasks. Unchanged tasks keep their
// run state; tasks on the default gate are re-registered when it changes.
func (a *App) syncTasks(cfg *config.Config) error {
	gateChanged := a.appliedGate != cfg.Gate
	want := make(map[string]config.TaskConfig, len(cfg.Tasks))
	var errs []error
	for _, t := range cfg.Tasks {
		want[t.Name] = t
		prev, ok := a.applied[t.Name]
		usesDefault := t.Gated && t.Gate == nil
		if ok && reflect.DeepEqual(prev, t) && !(usesDefault && gateChanged) {
			continue
		}
		sc, err := taskSchedule(cfg, t, a.clock)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := a.sched.Add(sc); err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", t.Name, err))
			continue
		}
		a.applied[t.Name] = t
		a.log.Debug("task registered",
			logx.String("task", t.Name),
			logx.String("schedule", t.Schedule),
			logx.Bool("gated", sc.Gate != nil),
		)
	}
	for name := range a.applied {
		if _, ok := want[name]; !ok {
			a.sched.Remove(name)
			delete(a.applied, name)
			a.log.Info("task removed", logx.String("task", name))
		}
	}
	a.appliedGate = cfg.Gate
	return errors.Join(errs...)
}
