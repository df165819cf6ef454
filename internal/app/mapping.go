package app

import (
	"fmt"
	"strings"
	"time"

	"taskgate/internal/config"
	"taskgate/internal/notifier"
	"taskgate/internal/observability/server"
	"taskgate/internal/storage"
	"taskgate/internal/task/engine"
	logx "taskgate/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapTaskEngineConfig resolves engine settings. Omitted task_engine follows
// scheduler.enabled with engine defaults.
func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{Enabled: cfg.Scheduler.Enabled}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	if te.Enabled != nil {
		// Triggers without an executor would silently drop every run.
		if cfg.Scheduler.Enabled && !*te.Enabled {
			return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
		}
		out.Enabled = *te.Enabled
	}
	out.Workers = te.Workers
	out.QueueSize = te.QueueSize
	out.HistorySize = te.HistorySize
	out.RetryMax = te.RetryMax

	var err error
	if out.DefaultTimeout, err = config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

// OpenStore opens the configured run history store. It returns nil, nil when
// history is disabled.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(sc, log)
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{}, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: strings.TrimSpace(sc.Driver), Path: sc.Path, BusyTimeout: busy}, nil
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{}
	}
	return notifier.Config{
		Enabled:     n.Enabled,
		QueueSize:   n.QueueSize,
		RatePerSec:  n.RatePerSec,
		RetryMax:    3,
		DedupWindow: 10 * time.Minute,
		NotifyGated: n.NotifyGated,
	}
}

// buildSinks constructs the configured alert sinks. Secrets stay inside the
// sinks and are never logged.
func buildSinks(cfg *config.Config) ([]notifier.Sink, error) {
	n := cfg.Notifier
	if n == nil || !n.Enabled {
		return nil, nil
	}
	var sinks []notifier.Sink
	if tg := n.Telegram; tg != nil {
		timeout, err := config.ParseDurationField("notifier.telegram.timeout", tg.Timeout)
		if err != nil {
			return nil, err
		}
		s, err := notifier.NewTelegram(notifier.TelegramConfig{Token: tg.Token, ChatID: tg.ChatID, ThreadID: tg.ThreadID, Timeout: timeout})
		if err != nil {
			return nil, fmt.Errorf("notifier.telegram: %w", err)
		}
		sinks = append(sinks, s)
	}
	if pd := n.PagerDuty; pd != nil {
		maxElapsed, err := config.ParseDurationField("notifier.pagerduty.max_elapsed", pd.MaxElapsed)
		if err != nil {
			return nil, err
		}
		s, err := notifier.NewPagerDuty(notifier.PagerDutyConfig{
			RoutingKey: pd.RoutingKey,
			Source:     pd.Source,
			Severity:   notifier.Severity(pd.Severity),
			MaxElapsed: maxElapsed,
		})
		if err != nil {
			return nil, fmt.Errorf("notifier.pagerduty: %w", err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func mapServerConfig(cfg *config.Config) (server.Config, error) {
	o := cfg.Observability
	if o == nil {
		return server.Config{}, nil
	}
	out := server.Config{
		Enabled:       o.Enabled,
		Addr:          strings.TrimSpace(o.Addr),
		Token:         strings.TrimSpace(o.Token),
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("observability.read_timeout", o.ReadTimeout, 5*time.Second); err != nil {
		return server.Config{}, err
	}
	// pprof profiles stream for up to 30s by default.
	if out.WriteTimeout, err = config.ParseDurationOrDefault("observability.write_timeout", o.WriteTimeout, 40*time.Second); err != nil {
		return server.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("observability.idle_timeout", o.IdleTimeout, 60*time.Second); err != nil {
		return server.Config{}, err
	}
	return out, nil
}
