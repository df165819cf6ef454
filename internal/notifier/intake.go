package notifier

import (
	"context"
	"errors"
	"time"

	"taskgate/internal/eventbus"
	logx "taskgate/pkg/logx"
)

func (s *Service) listen(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			s.mu.Lock()
			withGated := s.cfg.NotifyGated
			s.mu.Unlock()
			a, ok := FromEvent(e, withGated)
			if !ok {
				continue
			}
			err := s.Notify(ctx, a)
			if err != nil && !errors.Is(err, ErrStopped) && !errors.Is(err, context.Canceled) {
				s.log.Warn("alert not queued", logx.String("task", a.Task), logx.String("kind", a.Kind), logx.Err(err))
			}
		}
	}
}

// Notify queues a for every sink without blocking. An alert whose DedupKey
// was seen inside the dedup window is dropped and reported as deduped.
func (s *Service) Notify(ctx context.Context, a Alert) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	cfg, p := s.cfg, s.run
	switch {
	case !cfg.Enabled:
		s.mu.Unlock()
		return ErrDisabled
	case p == nil || p.stopped != nil:
		s.mu.Unlock()
		return ErrStopped
	}
	p.senders.Add(1)
	s.mu.Unlock()
	defer p.senders.Done()

	if a.At.IsZero() {
		a.At = time.Now()
	}
	ev := NotificationEvent{Task: a.Task, Key: a.DedupKey}
	if cfg.DedupWindow > 0 && a.DedupKey != "" && !s.dedup.admit(a.DedupKey, time.Now(), cfg.DedupWindow, cfg.DedupMaxEntries) {
		s.publish(EventDeduped, ev)
		return nil
	}
	select {
	case p.queue <- a:
		s.publish(EventQueued, ev)
		return nil
	default:
		ev.Error = ErrQueueFull.Error()
		s.publish(EventDropped, ev)
		return ErrQueueFull
	}
}

func (s *Service) publish(typ string, ev NotificationEvent) {
	if s.bus == nil {
		return
	}
	ev.At = time.Now()
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
