package storage

import (
	"context"
	"time"

	"taskgate/internal/eventbus"
	"taskgate/internal/task/engine"
	logx "taskgate/pkg/logx"
)

var outcomeByEvent = map[string]string{
	eventbus.TaskFinished: OutcomeFinished,
	eventbus.TaskFailed:   OutcomeFailed,
	eventbus.TaskGated:    OutcomeGated,
	eventbus.TaskSkipped:  OutcomeSkipped,
	eventbus.TaskDropped:  OutcomeDropped,
}

// Recorder persists terminal task events from the bus.
type Recorder struct {
	store Store
	log   logx.Logger
	ch    <-chan eventbus.Event
	unsub func()
}

// NewRecorder subscribes immediately so no event published after it returns
// is missed. Run must be called to release the subscription.
func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Recorder{store: store, log: log}
	if store != nil && bus != nil {
		r.ch, r.unsub = bus.Subscribe(256)
	}
	return r
}

// Run consumes events until ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	if r.ch == nil {
		<-ctx.Done()
		return nil
	}
	defer r.unsub()
	ch := r.ch
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			rec, ok := RecordFromEvent(e)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := r.store.AppendRun(wctx, rec); err != nil {
				r.log.Warn("run history append failed", logx.String("task", rec.Task), logx.Err(err))
			}
			cancel()
		}
	}
}

// RecordFromEvent maps a terminal task event to a record.
func RecordFromEvent(e eventbus.Event) (RunRecord, bool) {
	outcome, ok := outcomeByEvent[e.Type]
	if !ok {
		return RunRecord{}, false
	}
	ev, ok := e.Data.(engine.TaskEvent)
	if !ok {
		return RunRecord{}, false
	}
	return RunRecord{
		ID:         ev.ID,
		Task:       ev.Name,
		Outcome:    outcome,
		At:         e.Time,
		Started:    ev.Started,
		QueueDelay: ev.QueueDelay,
		Duration:   ev.Duration,
		Attempts:   ev.Attempts,
		Error:      ev.Error,
		Zone:       ev.Zone,
		LocalTime:  ev.LocalTime,
		NextOpen:   ev.NextOpen,
	}, true
}
