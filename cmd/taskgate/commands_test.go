package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"taskgate/internal/storage"
	logx "taskgate/pkg/logx"
)

const cliYAML = `
gate:
  timezone: "Eastern Time (US & Canada)"
  start_hour: 1
  end_hour: 7
scheduler:
  enabled: true
  timezone: UTC
tasks:
  - name: backup
    schedule: "0 * * * *"
    command: ["true"]
    gated: true
  - name: ping
    schedule: 5m
    command: ["true"]
storage:
  driver: file
  path: runs.jsonl
`

func writeCLIConfig(t *testing.T) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	body := strings.Replace(cliYAML, "runs.jsonl", filepath.Join(dir, "runs.jsonl"), 1)
	path = filepath.Join(dir, "taskgate.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return dir, path
}

func runCLI(args ...string) (int, string, string) {
	var out, errb bytes.Buffer
	code := run(args, &out, &errb)
	return code, out.String(), errb.String()
}

func TestCheckExitCodes(t *testing.T) {
	t.Parallel()
	_, cfg := writeCLIConfig(t)
	tests := []struct {
		name string
		args []string
		code int
		out  string
	}{
		{name: "closed", args: []string{"-at", "2024-01-15T08:00:00Z"}, code: exitClosed, out: "opens 2024-01-15 07:00 EST"},
		{name: "open", args: []string{"-at", "2024-01-15T13:00:00Z"}, code: exitOK, out: "open: 2024-01-15 08:00 EST"},
		{name: "end hour is open", args: []string{"-at", "2024-07-01T11:00:00Z"}, code: exitOK},
		{name: "ungated task", args: []string{"-task", "ping", "-at", "2024-01-15T08:00:00Z"}, code: exitOK, out: "ungated"},
		{name: "gated task", args: []string{"-task", "backup", "-at", "2024-01-15T08:00:00Z"}, code: exitClosed},
		{name: "unknown task", args: []string{"-task", "nope"}, code: exitError},
		{name: "bad instant", args: []string{"-at", "tomorrow"}, code: exitUsage},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, out, errOut := runCLI(append([]string{"check", "-config", cfg}, tt.args...)...)
			if code != tt.code {
				t.Fatalf("exit = %d, want %d (stdout %q, stderr %q)", code, tt.code, out, errOut)
			}
			if !strings.Contains(out, tt.out) {
				t.Fatalf("stdout %q does not contain %q", out, tt.out)
			}
		})
	}
}

func TestCheckMissingConfig(t *testing.T) {
	t.Parallel()
	code, _, _ := runCLI("check", "-config", filepath.Join(t.TempDir(), "missing.yaml"))
	if code != exitError {
		t.Fatalf("exit = %d, want %d", code, exitError)
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()
	_, cfg := writeCLIConfig(t)
	code, out, errOut := runCLI("preview", "-config", cfg, "-task", "backup", "-date", "2024-03-10", "-n", "3")
	if code != exitOK {
		t.Fatalf("exit = %d: %s", code, errOut)
	}
	// Spring-forward day: 02:00 does not exist, so only five hours are closed.
	for _, want := range []string{"closed hours: 5", "next 3 fires of backup", "CLOSED", "2024-03-10T06:00:00Z", "03:00 EDT"} {
		if !strings.Contains(out, want) {
			t.Fatalf("preview output missing %q:\n%s", want, out)
		}
	}
}

func TestPreviewWithoutDateStartsNow(t *testing.T) {
	t.Parallel()
	_, cfg := writeCLIConfig(t)
	before := time.Now()
	code, out, errOut := runCLI("preview", "-config", cfg, "-task", "backup", "-n", "2")
	if code != exitOK {
		t.Fatalf("exit = %d: %s", code, errOut)
	}
	_, fires, ok := strings.Cut(out, "next 2 fires of backup")
	if !ok {
		t.Fatalf("no fires section:\n%s", out)
	}
	stamps := regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z`).FindAllString(fires, -1)
	if len(stamps) != 2 {
		t.Fatalf("fires = %v:\n%s", stamps, fires)
	}
	for _, s := range stamps {
		at, err := time.Parse(time.RFC3339, s)
		if err != nil {
			t.Fatal(err)
		}
		if !at.After(before) {
			t.Fatalf("fire %s is before the preview ran (%s)", s, before.UTC().Format(time.RFC3339))
		}
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()
	dir, cfg := writeCLIConfig(t)
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "runs.jsonl")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	at := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	recs := []storage.RunRecord{
		{Task: "backup", Outcome: storage.OutcomeGated, At: at, Zone: "America/New_York", NextOpen: at.Add(4 * time.Hour)},
		{Task: "ping", Outcome: storage.OutcomeFinished, At: at.Add(time.Minute), Attempts: 1, Duration: 20 * time.Millisecond},
	}
	for _, r := range recs {
		if err := st.AppendRun(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}
	_ = st.Close()

	code, out, errOut := runCLI("history", "-config", cfg, "-task", "backup")
	if code != exitOK {
		t.Fatalf("exit = %d: %s", code, errOut)
	}
	if !strings.Contains(out, "opens 07:00 EST") || strings.Contains(out, "ping") {
		t.Fatalf("history output:\n%s", out)
	}
}

func TestValidateAndUsage(t *testing.T) {
	t.Parallel()
	_, cfg := writeCLIConfig(t)
	code, out, _ := runCLI("validate", "-config", cfg)
	if code != exitOK || !strings.Contains(out, "2 tasks (1 gated)") {
		t.Fatalf("validate = %d %q", code, out)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("gate:\n  timezone: Mars/Olympus\n  start_hour: 1\n  end_hour: 7\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if code, _, errOut := runCLI("validate", "-config", bad); code != exitError || !strings.Contains(errOut, "unknown time zone") {
		t.Fatalf("validate bad = %d %q", code, errOut)
	}
	if code, _, _ := runCLI("frobnicate"); code != exitUsage {
		t.Fatalf("unknown command exit = %d", code)
	}
}
