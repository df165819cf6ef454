package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"taskgate/internal/gate"
)

const sampleYAML = `
logging:
  level: info
  console: true
gate:
  timezone: "Eastern Time (US & Canada)"
  start_hour: 1
  end_hour: 7
scheduler:
  enabled: true
  timezone: America/New_York
task_engine:
  workers: 2
  default_timeout: 5m
tasks:
  - name: backup
    schedule: "30 * * * *"
    command: ["/usr/local/bin/backup", "--all"]
    gated: true
  - name: digest
    schedule: 1h
    command: ["digest"]
    gate:
      timezone: UTC
      start_hour: 22
      end_hour: 4
      overnight: true
  - name: heartbeat
    schedule: 5m
    command: ["true"]
storage:
  driver: sqlite
  path: ./runs.db
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "taskgate.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Tasks) != 3 || cfg.Gate.EndHour != 7 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if m.Get() != cfg {
		t.Fatal("Load did not commit")
	}
}

func TestTaskGateSelection(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("c.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	tests := []struct {
		task      string
		wantGated bool
		zone      string
		window    gate.Window
	}{
		{task: "backup", wantGated: true, zone: "Eastern Time (US & Canada)", window: gate.Window{Start: 1, End: 7}},
		{task: "digest", wantGated: true, zone: "UTC", window: gate.Window{Start: 22, End: 4, Overnight: true}},
		{task: "heartbeat"},
	}
	for _, tt := range tests {
		tc, ok := cfg.FindTask(tt.task)
		if !ok {
			t.Fatalf("task %q not found", tt.task)
		}
		g, err := cfg.TaskGate(tc)
		if err != nil {
			t.Fatalf("TaskGate(%s): %v", tt.task, err)
		}
		if (g != nil) != tt.wantGated {
			t.Fatalf("TaskGate(%s) gated=%v, want %v", tt.task, g != nil, tt.wantGated)
		}
		if g != nil && (g.Zone() != tt.zone || g.Window() != tt.window) {
			t.Fatalf("TaskGate(%s) = %s %v", tt.task, g.Zone(), g.Window())
		}
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "start hour above range", mutate: func(c *Config) { c.Gate.StartHour = 24 }, want: "gate.start_hour"},
		{name: "negative end hour", mutate: func(c *Config) { c.Gate.EndHour = -1 }, want: "gate.end_hour"},
		{name: "missing zone", mutate: func(c *Config) { c.Gate.Timezone = "" }, want: "gate.timezone"},
		{name: "unknown zone", mutate: func(c *Config) { c.Gate.Timezone = "Atlantis/Central" }, want: "unknown time zone"},
		{name: "wrap without overnight", mutate: func(c *Config) { c.Gate.StartHour, c.Gate.EndHour = 22, 4 }, want: "gate:"},
		{name: "bad scheduler zone", mutate: func(c *Config) { c.Scheduler.Timezone = "Local" }, want: "scheduler.timezone"},
		{name: "duplicate task", mutate: func(c *Config) { c.Tasks = append(c.Tasks, c.Tasks[0]) }, want: "duplicate task"},
		{name: "empty command", mutate: func(c *Config) { c.Tasks[0].Command = nil }, want: "tasks[0].command"},
		{name: "bad schedule", mutate: func(c *Config) { c.Tasks[0].Schedule = "whenever" }, want: "tasks[0].schedule"},
		{name: "bad overlap", mutate: func(c *Config) { c.Tasks[0].Overlap = "queue" }, want: "tasks[0].overlap"},
		{name: "bad timeout", mutate: func(c *Config) { c.Tasks[0].Timeout = "soon" }, want: "tasks[0].timeout"},
		{name: "bad storage driver", mutate: func(c *Config) { c.Storage.Driver = "mongo" }, want: "storage.driver"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Decode("c.yaml", []byte(sampleYAML))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			tt.mutate(cfg)
			err = Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestValidateUnknownZoneIsTyped(t *testing.T) {
	t.Parallel()
	cfg, _ := Decode("c.yaml", []byte(sampleYAML))
	cfg.Gate.Timezone = "Nowhere/Zone"
	if err := Validate(cfg); !errors.Is(err, gate.ErrUnknownZone) {
		t.Fatalf("Validate() = %v, want ErrUnknownZone", err)
	}
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "unknown field", file: "c.json", body: `{"gate":{"timezone":"UTC"},"bogus":1}`},
		{name: "trailing data", file: "c.json", body: `{"gate":{"timezone":"UTC"}} {}`},
		{name: "empty", file: "c.yaml", body: "   \n"},
		{name: "bad yaml", file: "c.yaml", body: "gate: [unterminated"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tt.file, []byte(tt.body)); err == nil {
				t.Fatal("Decode accepted invalid input")
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg, _ := Decode("c.yaml", []byte(sampleYAML))
	newCfg, _ := Decode("c.yaml", []byte(sampleYAML))
	newCfg.Gate.EndHour = 8
	newCfg.Tasks[1].Schedule = "2h"
	newCfg.Tasks = newCfg.Tasks[:2]

	sections, _, tasks := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(sections, ",") != "gate,tasks" {
		t.Fatalf("sections = %v", sections)
	}
	if strings.Join(tasks, ",") != "digest,heartbeat" {
		t.Fatalf("tasks = %v", tasks)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if d, _ := ParseDurationOrDefault("x", "0s", time.Minute); d != time.Minute {
		t.Fatalf("default = %v", d)
	}
}

func TestWatchPublishesValidReload(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "taskgate.yaml", sampleYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// An invalid edit is rejected and never published.
	bad := strings.Replace(sampleYAML, "end_hour: 7", "end_hour: 30", 1)
	if err := os.WriteFile(path, []byte(bad), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(500 * time.Millisecond)
	select {
	case c := <-ch:
		t.Fatalf("invalid config published: %+v", c.Gate)
	default:
	}

	good := strings.Replace(sampleYAML, "end_hour: 7", "end_hour: 6", 1)
	if err := os.WriteFile(path, []byte(good), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-ch:
		if c.Gate.EndHour != 6 {
			t.Fatalf("published end_hour = %d", c.Gate.EndHour)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload not published")
	}
}
