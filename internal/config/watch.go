package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fsnotify/fsnotify"

	logx "taskgate/pkg/logx"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the file whenever it changes until ctx is done. Bursts of
// events collapse into one reload. A broken watcher is rebuilt with jittered
// exponential backoff.
func (m *Manager) Watch(ctx context.Context) error {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval, bo.MaxInterval = 250*time.Millisecond, 5*time.Second
	bo.Reset()

	kick := make(chan struct{}, 1)
	go m.debounceLoop(ctx, kick)

	for ctx.Err() == nil {
		err := m.watchOnce(ctx, dir, file, kick, bo.Reset)
		if ctx.Err() != nil {
			break
		}
		wait := bo.NextBackOff()
		m.log.Warn("config watcher failed; restarting", logx.String("dir", dir), logx.Duration("backoff", wait), logx.Err(err))
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
	return nil
}

// debounceLoop runs reload once kicks have been quiet for reloadDebounce.
func (m *Manager) debounceLoop(ctx context.Context, kick <-chan struct{}) {
	t := time.NewTimer(reloadDebounce)
	t.Stop()
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-kick:
			t.Reset(reloadDebounce)
		case <-t.C:
			m.reload(ctx)
		}
	}
}

// watchOnce runs one fsnotify watcher on dir until ctx ends or it breaks.
// Editors often replace the file, so events are matched by basename.
func (m *Manager) watchOnce(ctx context.Context, dir, file string, kick chan<- struct{}, healthy func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("add %s: %w", dir, err)
	}
	healthy()
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	poke := func() {
		select {
		case kick <- struct{}{}:
		default:
		}
	}
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event channel closed")
			}
			if ev.Op&relevant != 0 && strings.EqualFold(filepath.Base(ev.Name), file) {
				poke()
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok:
				return errors.New("error channel closed")
			case err == nil:
			case errors.Is(err, fsnotify.ErrEventOverflow):
				// The overflow may have eaten our event.
				m.log.Warn("config watch overflow; forcing reload", logx.Err(err))
				poke()
			default:
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}
