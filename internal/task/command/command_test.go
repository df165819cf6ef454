package command

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"taskgate/internal/task/engine"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestRunSuccess(t *testing.T) {
	t.Parallel()
	requireShell(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker"), nil, 0o600); err != nil {
		t.Fatal(err)
	}
	s := Spec{Argv: []string{"sh", "-c", `test -f marker && test "$GREETING" = hi`}, Dir: dir, Env: map[string]string{"GREETING": "hi"}}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunExitCodes(t *testing.T) {
	t.Parallel()
	requireShell(t)
	tests := []struct {
		name    string
		script  string
		code    int
		noRetry bool
	}{
		{name: "failure retries", script: "echo broken >&2; exit 1", code: 1},
		{name: "usage is final", script: "echo usage >&2; exit 2", code: 2, noRetry: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Spec{Argv: []string{"sh", "-c", tt.script}}.Run(context.Background())
			var xe *ExitError
			if !errors.As(err, &xe) {
				t.Fatalf("Run() = %v, want *ExitError", err)
			}
			if xe.Code != tt.code || xe.Tail == "" {
				t.Fatalf("exit = %+v", xe)
			}
			if engine.IsNoRetry(err) != tt.noRetry {
				t.Fatalf("IsNoRetry = %v, want %v", engine.IsNoRetry(err), tt.noRetry)
			}
		})
	}
}

func TestRunMissingBinaryIsFinal(t *testing.T) {
	t.Parallel()
	err := Spec{Argv: []string{"/nonexistent/taskgate-helper"}}.Run(context.Background())
	if err == nil || !engine.IsNoRetry(err) {
		t.Fatalf("Run() = %v, want NoRetry error", err)
	}
}

func TestRunHonorsContext(t *testing.T) {
	t.Parallel()
	requireShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := Spec{Argv: []string{"sh", "-c", "exec sleep 5"}}.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() = %v, want deadline exceeded", err)
	}
}

func TestJobRejectsEmptyArgv(t *testing.T) {
	t.Parallel()
	if _, err := (Spec{}).Job(); err == nil {
		t.Fatal("empty argv accepted")
	}
}

func TestTailBufferKeepsEnd(t *testing.T) {
	t.Parallel()
	b := &tailBuffer{max: 8}
	_, _ = b.Write([]byte("hello "))
	_, _ = b.Write([]byte("world!"))
	if got := b.String(); got != "o world!" {
		t.Fatalf("tail = %q", got)
	}
	_, _ = b.Write([]byte(strings.Repeat("x", 20)))
	if got := b.String(); got != strings.Repeat("x", 8) {
		t.Fatalf("tail = %q", got)
	}
}
