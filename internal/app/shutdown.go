package app

import (
	"context"
	"fmt"
	"time"

	logx "taskgate/pkg/logx"
	"taskgate/pkg/systemd"
)

// stage is one bounded shutdown step.
type stage struct {
	name  string
	limit time.Duration
	run   func(context.Context) error
}

// Stop shuts the daemon down in dependency order. Each stage gets its own
// deadline, capped by ctx, so a stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping(string(reason))

	// Background loops start unwinding right away.
	a.sup.Cancel()

	stages := []stage{
		{"scheduler", 2 * time.Second, func(c context.Context) error { a.sched.Stop(c); return nil }},
		{"taskengine", 5 * time.Second, func(c context.Context) error { a.engine.Stop(c); return nil }},
		{"http", time.Second, func(c context.Context) error { a.http.Stop(c); return nil }},
		{"notifier", 2 * time.Second, func(c context.Context) error { a.notif.Stop(c); return nil }},
		// The history recorder must exit before the store closes.
		{"supervisor", 2 * time.Second, a.sup.Wait},
		{"storage", time.Second, func(context.Context) error {
			if a.store == nil {
				return nil
			}
			return a.store.Close()
		}},
	}
	for _, st := range stages {
		a.runStage(ctx, st)
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) runStage(ctx context.Context, st stage) {
	limit := st.limit
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", st.name))
		return
	}
	sctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	began := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", st.name, r)
			}
		}()
		done <- st.run(sctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", st.name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", st.name), logx.Duration("took", time.Since(began)))
	case <-sctx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", st.name), logx.Duration("elapsed", time.Since(began)))
	}
}
