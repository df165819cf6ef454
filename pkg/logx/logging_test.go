package logx

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriterLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn").With(String("comp", "gate"))

	log.Info("hidden")
	log.Warn("window closed", Int("hour", 3), Err(errors.New("boom")))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info written at warn level: %q", out)
	}
	// Console output may carry color codes between keys and values.
	for _, want := range []string{"window closed", "comp=", "gate", "hour=", "boom"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero Logger not IsZero")
	}
	zero.Error("dropped") // must not panic
	if Nop().IsZero() {
		t.Fatal("Nop reported IsZero")
	}
	if zero.With(String("k", "v")).IsZero() {
		t.Fatal("Logger with fields reported IsZero")
	}
}

func TestServiceApplyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskgate.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	log.Info("first")
	svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	log.Info("second")
	log.Error("third")
	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	if !strings.Contains(out, `"message":"first"`) || strings.Contains(out, "second") || !strings.Contains(out, `"message":"third"`) {
		t.Fatalf("log file = %q", out)
	}
}
