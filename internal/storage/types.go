package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// MaxRecords bounds retained history. 0 means 10000.
	MaxRecords int
}

func (c Config) maxRecords() int {
	if c.MaxRecords <= 0 {
		return 10000
	}
	return c.MaxRecords
}

// Outcome values stored in RunRecord.Outcome.
const (
	OutcomeFinished = "finished"
	OutcomeFailed   = "failed"
	OutcomeGated    = "gated"
	OutcomeSkipped  = "skipped"
	OutcomeDropped  = "dropped"
)

// RunRecord is one terminal task outcome. Keep it compact and schema-stable.
type RunRecord struct {
	ID         string        `json:"id,omitempty"`
	Task       string        `json:"task"`
	Outcome    string        `json:"outcome"`
	At         time.Time     `json:"at"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Attempts   int           `json:"attempts,omitempty"`
	Error      string        `json:"error,omitempty"`

	// Gate context, set for gated records.
	Zone      string    `json:"zone,omitempty"`
	LocalTime time.Time `json:"local_time,omitempty"`
	NextOpen  time.Time `json:"next_open,omitempty"`
}

// Store is the persistence API for run history.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	// RecentRuns returns up to limit records, newest first. An empty task
	// matches every task.
	RecentRuns(ctx context.Context, task string, limit int) ([]RunRecord, error)
	Close() error
}
