// Package command runs configured external commands as engine tasks.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"taskgate/internal/task/engine"
)

// ExitUsage is the "bad invocation" exit status; it is never retried.
const ExitUsage = 2

const (
	defaultTailBytes = 4 << 10
	waitDelay        = 2 * time.Second
)

// Spec describes one external command.
type Spec struct {
	Argv []string
	Dir  string
	Env  map[string]string

	// TailBytes bounds the captured output kept for error messages.
	TailBytes int
}

// ExitError carries a non-zero exit with the tail of combined output.
type ExitError struct {
	Code int
	Tail string
}

func (e *ExitError) Error() string {
	if e.Tail == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, e.Tail)
}

// Job returns a function suitable for engine.Task.Run.
func (s Spec) Job() (func(ctx context.Context) error, error) {
	if len(s.Argv) == 0 || strings.TrimSpace(s.Argv[0]) == "" {
		return nil, errors.New("command: argv is empty")
	}
	spec := s
	return func(ctx context.Context) error { return spec.Run(ctx) }, nil
}

// Run executes the command under ctx. The process is killed when ctx ends.
func (s Spec) Run(ctx context.Context) error {
	if len(s.Argv) == 0 {
		return engine.NoRetry(errors.New("command: argv is empty"))
	}
	n := s.TailBytes
	if n <= 0 {
		n = defaultTailBytes
	}
	out := &tailBuffer{max: n}

	cmd := exec.CommandContext(ctx, s.Argv[0], s.Argv[1:]...)
	cmd.Dir = s.Dir
	cmd.Env = mergeEnv(os.Environ(), s.Env)
	cmd.Stdout = out
	cmd.Stderr = out
	// Children that outlive a killed shell must not hold Run open.
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		xe := &ExitError{Code: ee.ExitCode(), Tail: strings.TrimSpace(out.String())}
		if xe.Code == ExitUsage {
			return engine.NoRetry(xe)
		}
		return xe
	}
	// Not started at all (missing binary, bad dir).
	return engine.NoRetry(fmt.Errorf("command %s: %w", s.Argv[0], err))
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := extra[k]; ok {
			continue
		}
		env = append(env, kv)
	}
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf bytes.Buffer
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	if len(p) >= b.max {
		b.buf.Reset()
		b.buf.Write(p[len(p)-b.max:])
		return n, nil
	}
	b.buf.Write(p)
	if over := b.buf.Len() - b.max; over > 0 {
		b.buf.Next(over)
	}
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
