package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"taskgate/internal/gate"
	"taskgate/internal/task/scheduler"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json names so errors match what the operator wrote.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct constraints, then semantics the tags cannot express:
// durations, unique task names, schedule syntax and every gate (zone lookup
// included). All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if err := validate.Struct(cfg); err != nil {
		var ves validator.ValidationErrors
		if !errors.As(err, &ves) {
			return err
		}
		for _, fe := range ves {
			errs = append(errs, fmt.Errorf("%s: failed %q", fieldPath(fe.Namespace()), fe.Tag()))
		}
		// Semantic checks assume the struct shape is sane.
		return errors.Join(errs...)
	}

	if _, err := cfg.Gate.Build(); err != nil {
		errs = append(errs, fmt.Errorf("gate: %w", err))
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := gate.LoadZone(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if te := cfg.TaskEngine; te != nil {
		if _, err := ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
			errs = append(errs, err)
		}
		if _, err := ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
			errs = append(errs, err)
		}
	}

	seen := map[string]bool{}
	for i, t := range cfg.Tasks {
		p := fmt.Sprintf("tasks[%d]", i)
		name := strings.TrimSpace(t.Name)
		if seen[name] {
			errs = append(errs, fmt.Errorf("%s.name: duplicate task %q", p, name))
		}
		seen[name] = true
		if _, err := scheduler.ParseSchedule(t.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("%s.schedule: %w", p, err))
		}
		if _, err := ParseDurationField(p+".timeout", t.Timeout); err != nil {
			errs = append(errs, err)
		}
		if _, err := cfg.TaskGate(t); err != nil {
			errs = append(errs, fmt.Errorf("%s.gate: %w", p, err))
		}
	}

	if st := cfg.Storage; st != nil {
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if n := cfg.Notifier; n != nil {
		if n.Telegram != nil {
			if _, err := ParseDurationField("notifier.telegram.timeout", n.Telegram.Timeout); err != nil {
				errs = append(errs, err)
			}
		}
		if n.PagerDuty != nil {
			if _, err := ParseDurationField("notifier.pagerduty.max_elapsed", n.PagerDuty.MaxElapsed); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if o := cfg.Observability; o != nil {
		for path, raw := range map[string]string{
			"observability.read_timeout":  o.ReadTimeout,
			"observability.write_timeout": o.WriteTimeout,
			"observability.idle_timeout":  o.IdleTimeout,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// fieldPath drops the root type from a validator namespace:
// "Config.tasks[0].name" becomes "tasks[0].name".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// Build resolves the zone and validates the window.
func (g GateConfig) Build(opts ...gate.Option) (*gate.Gate, error) {
	return gate.New(g.Timezone, gate.Window{Start: g.StartHour, End: g.EndHour, Overnight: g.Overnight}, opts...)
}

// TaskGate returns the gate guarding t, or nil when t is ungated.
func (c *Config) TaskGate(t TaskConfig, opts ...gate.Option) (*gate.Gate, error) {
	switch {
	case t.Gate != nil:
		return t.Gate.Build(opts...)
	case t.Gated:
		return c.Gate.Build(opts...)
	default:
		return nil, nil
	}
}

// FindTask returns the task named name.
func (c *Config) FindTask(name string) (TaskConfig, bool) {
	for _, t := range c.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return TaskConfig{}, false
}
