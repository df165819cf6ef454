package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	logx "taskgate/pkg/logx"
)

const (
	sendTimeout = 10 * time.Second
	historySize = 300
)

func (s *Service) work(ctx context.Context, q <-chan Alert) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, a)
		}
	}
}

// deliver sends a to each sink in turn. One failing sink does not stop the
// others.
func (s *Service) deliver(ctx context.Context, a Alert) {
	s.mu.Lock()
	cfg, lim, sinks := s.cfg, s.limiter, s.sinks
	s.mu.Unlock()

	for _, sink := range sinks {
		ev := NotificationEvent{Sink: sink.Name(), Task: a.Task, Key: a.DedupKey}
		attempts, err := sendWithRetry(ctx, cfg, lim, sink, a)
		switch {
		case err == nil:
			s.history.add(HistoryItem{At: time.Now(), Sink: sink.Name(), Summary: a.Summary})
			s.publish(EventSent, ev)
		case ctx.Err() != nil:
			return
		default:
			s.log.Warn("alert delivery failed",
				logx.String("sink", sink.Name()),
				logx.String("task", a.Task),
				logx.Int("attempts", attempts),
				logx.Err(err),
			)
			ev.Error = err.Error()
			s.publish(EventFailed, ev)
		}
	}
}

// sendWithRetry calls sink.Send up to RetryMax+1 times with exponential
// backoff. Every attempt waits on lim and is bounded by sendTimeout.
func sendWithRetry(ctx context.Context, cfg Config, lim *rate.Limiter, sink Sink, a Alert) (int, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.RetryBase
	exp.MaxInterval = cfg.RetryMaxDelay
	exp.Reset()

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return struct{}{}, backoff.Permanent(err)
			}
		}
		cctx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()
		return struct{}{}, sink.Send(cctx, a)
	}, backoff.WithBackOff(exp), backoff.WithMaxTries(uint(cfg.RetryMax+1)))
	return attempts, err
}

// Snapshot returns recently delivered alerts, oldest first.
func (s *Service) Snapshot() []HistoryItem { return s.history.items() }

type historyRing struct {
	mu  sync.Mutex
	buf []HistoryItem
}

func (h *historyRing) add(it HistoryItem) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf = append(h.buf, it)
	if n := len(h.buf) - historySize; n > 0 {
		h.buf = append(h.buf[:0:0], h.buf[n:]...)
	}
}

func (h *historyRing) items() []HistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HistoryItem(nil), h.buf...)
}
