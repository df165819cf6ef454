package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"taskgate/internal/app"
	"taskgate/internal/config"
	"taskgate/internal/gate"
	"taskgate/internal/report"
	"taskgate/internal/task/scheduler"
	logx "taskgate/pkg/logx"
)

const (
	exitOK     = 0
	exitError  = 1
	exitUsage  = 2
	exitClosed = 3

	defaultConfig = "./taskgate.yaml"
	stopTimeout   = 10 * time.Second
)

const usage = `usage: taskgate [command] [flags]

commands:
  run        start the daemon (default)
  check      evaluate the gate once; exit 0 open, 3 closed
  preview    print a day of gate verdicts and upcoming fires
  history    print recent runs
  validate   load and validate the config
`

func run(args []string, stdout, stderr io.Writer) int {
	cmd := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "run":
		return cmdRun(args, stderr)
	case "check":
		return cmdCheck(args, stdout, stderr)
	case "preview":
		return cmdPreview(args, stdout, stderr)
	case "history":
		return cmdHistory(args, stdout, stderr)
	case "validate":
		return cmdValidate(args, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return exitUsage
	}
}

func newFlags(name string, stderr io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", defaultConfig, "path to config (yaml or json)")
	return fs, cfgPath
}

func loadConfig(path string) (*config.Config, error) {
	return config.NewManager(path).Load()
}

// selectGate returns the gate for task, or the default gate when task is
// empty. A nil gate means the task is ungated.
func selectGate(cfg *config.Config, task string, opts ...gate.Option) (*gate.Gate, error) {
	if task == "" {
		return cfg.Gate.Build(opts...)
	}
	t, ok := cfg.FindTask(task)
	if !ok {
		return nil, fmt.Errorf("unknown task %q", task)
	}
	return cfg.TaskGate(t, opts...)
}

func cmdRun(args []string, stderr io.Writer) int {
	fs, cfgPath := newFlags("run", stderr)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.NewApp(*cfgPath)
	if err != nil {
		fmt.Fprintln(stderr, "fatal:", err)
		return exitError
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(stderr, "fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		return exitError
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		switch sig {
		case os.Interrupt:
			reason = app.StopSIGINT
		case syscall.SIGTERM:
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(stderr, "fatal:", err)
		return exitError
	}
	return exitOK
}

func cmdCheck(args []string, stdout, stderr io.Writer) int {
	fs, cfgPath := newFlags("check", stderr)
	task := fs.String("task", "", "task whose gate to check (default gate when empty)")
	at := fs.String("at", "", "instant to evaluate, RFC3339 (default now)")
	quiet := fs.Bool("q", false, "print nothing; report via exit code only")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitError
	}
	clock := gate.SystemClock()
	if *at != "" {
		t, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			fmt.Fprintln(stderr, "error: -at:", err)
			return exitUsage
		}
		clock = gate.FixedClock(t)
	}
	g, err := selectGate(cfg, *task, gate.WithClock(clock))
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitError
	}
	if g == nil {
		if !*quiet {
			fmt.Fprintf(stdout, "open: task %s is ungated\n", *task)
		}
		return exitOK
	}

	err = g.Check()
	var closed *gate.ClosedError
	switch {
	case err == nil:
		if !*quiet {
			d := g.Evaluate(g.Now())
			fmt.Fprintf(stdout, "open: %s %s outside %s\n", d.Local.Format("2006-01-02 15:04 MST"), g.Zone(), g.Window())
		}
		return exitOK
	case errors.As(err, &closed):
		if !*quiet {
			fmt.Fprintf(stdout, "closed: %s; opens %s\n", closed, closed.NextOpen.In(g.Location()).Format("2006-01-02 15:04 MST"))
		}
		return exitClosed
	default:
		fmt.Fprintln(stderr, "error:", err)
		return exitError
	}
}

func cmdPreview(args []string, stdout, stderr io.Writer) int {
	fs, cfgPath := newFlags("preview", stderr)
	task := fs.String("task", "", "task to preview (default gate when empty)")
	date := fs.String("date", "", "local day in the gate zone, YYYY-MM-DD (default today)")
	n := fs.Int("n", 5, "number of upcoming fires to show for -task")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitError
	}
	g, err := selectGate(cfg, *task)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitError
	}

	loc := time.UTC
	if g != nil {
		loc = g.Location()
	}
	day := time.Now().In(loc)
	if *date != "" {
		if day, err = time.ParseInLocation("2006-01-02", *date, loc); err != nil {
			fmt.Fprintln(stderr, "error: -date:", err)
			return exitUsage
		}
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)

	if g != nil {
		report.Day(stdout, g, start)
	} else {
		fmt.Fprintf(stdout, "task %s is ungated\n", *task)
	}
	if *task == "" || *n <= 0 {
		return exitOK
	}

	t, _ := cfg.FindTask(*task)
	schedLoc := time.UTC
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if schedLoc, err = gate.LoadZone(tz); err != nil {
			fmt.Fprintln(stderr, "error:", err)
			return exitError
		}
	}
	from := start
	if *date == "" {
		from = time.Now()
	}
	fires, err := scheduler.NextFires(t.Schedule, schedLoc, from, *n)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitError
	}
	fmt.Fprintf(stdout, "\nnext %d fires of %s (%s):\n", len(fires), t.Name, t.Schedule)
	report.Fires(stdout, g, fires)
	return exitOK
}

func cmdHistory(args []string, stdout, stderr io.Writer) int {
	fs, cfgPath := newFlags("history", stderr)
	task := fs.String("task", "", "only runs of this task")
	n := fs.Int("n", 20, "number of runs")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitError
	}
	st, err := app.OpenStore(cfg, logx.Nop())
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitError
	}
	if st == nil {
		fmt.Fprintln(stderr, "error: run history is disabled (storage.driver)")
		return exitError
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	runs, err := st.RecentRuns(ctx, *task, *n)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitError
	}
	report.History(stdout, runs)
	return exitOK
}

func cmdValidate(args []string, stdout, stderr io.Writer) int {
	fs, cfgPath := newFlags("validate", stderr)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintln(stderr, "invalid:", err)
		return exitError
	}
	gated := 0
	for _, t := range cfg.Tasks {
		if t.Gated || t.Gate != nil {
			gated++
		}
	}
	w := gate.Window{Start: cfg.Gate.StartHour, End: cfg.Gate.EndHour, Overnight: cfg.Gate.Overnight}
	fmt.Fprintf(stdout, "ok: %d tasks (%d gated), gate %s %s\n", len(cfg.Tasks), gated, cfg.Gate.Timezone, w)
	return exitOK
}
