package notifier

import (
	"context"
	"time"
)

// Config controls the async alert pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int

	// NotifyGated also alerts on gated runs. Failures always alert.
	NotifyGated bool
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Alert is one operator-facing message.
type Alert struct {
	Kind     string // bus event type that produced it
	Task     string
	Severity Severity
	Summary  string // single line
	Details  []string
	DedupKey string
	At       time.Time
}

// Sink delivers alerts to one channel. Send may return backoff.Permanent to
// stop retries, or backoff.RetryAfter to ask for a specific delay.
type Sink interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

type HistoryItem struct {
	At      time.Time
	Sink    string
	Summary string
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
type NotificationEvent struct {
	Sink  string    `json:"sink,omitempty"`
	Task  string    `json:"task"`
	Key   string    `json:"key"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}

// Notifier lifecycle event types.
const (
	EventQueued  = "notifier.queued"
	EventDeduped = "notifier.deduped"
	EventDropped = "notifier.dropped"
	EventSent    = "notifier.sent"
	EventFailed  = "notifier.failed"
)
