package notifier

import (
	"fmt"
	"strings"
	"time"

	"taskgate/internal/eventbus"
	"taskgate/internal/task/engine"
)

// FromEvent builds the alert for a bus event. Only failures, drops and, when
// gated is set, gated runs produce alerts.
func FromEvent(e eventbus.Event, gated bool) (Alert, bool) {
	ev, ok := e.Data.(engine.TaskEvent)
	if !ok {
		return Alert{}, false
	}
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	a := Alert{Kind: e.Type, Task: ev.Name, At: at}

	switch e.Type {
	case eventbus.TaskFailed:
		a.Severity = SeverityError
		a.Summary = fmt.Sprintf("task %s failed after %d attempt(s)", ev.Name, max(ev.Attempts, 1))
		if ev.Error != "" {
			a.Details = append(a.Details, "error: "+firstLine(ev.Error))
		}
		if ev.Duration > 0 {
			a.Details = append(a.Details, "duration: "+ev.Duration.Round(time.Millisecond).String())
		}
		a.DedupKey = dedupKey(e.Type, ev.Name, ev.Error)
	case eventbus.TaskDropped:
		a.Severity = SeverityWarning
		a.Summary = fmt.Sprintf("task %s dropped", ev.Name)
		if ev.Error != "" {
			a.Details = append(a.Details, "reason: "+ev.Error)
		}
		if ev.QueueDelay > 0 {
			a.Details = append(a.Details, "queued for: "+ev.QueueDelay.Round(time.Millisecond).String())
		}
		a.DedupKey = dedupKey(e.Type, ev.Name, ev.Error)
	case eventbus.TaskGated:
		if !gated {
			return Alert{}, false
		}
		a.Severity = SeverityInfo
		a.Summary = fmt.Sprintf("task %s held by time window", ev.Name)
		if !ev.LocalTime.IsZero() {
			a.Details = append(a.Details, fmt.Sprintf("local time: %s %s", ev.LocalTime.Format("2006-01-02 15:04"), ev.Zone))
		}
		if !ev.NextOpen.IsZero() {
			in := ev.NextOpen.Sub(at).Round(time.Minute)
			a.Details = append(a.Details, fmt.Sprintf("opens: %s (in %s)", ev.NextOpen.Format("2006-01-02 15:04 MST"), in))
		}
		// One alert per closed stretch, not per trigger.
		a.DedupKey = dedupKey(e.Type, ev.Name, ev.NextOpen.UTC().Format(time.RFC3339))
	default:
		return Alert{}, false
	}
	return a, true
}

// Text renders a plain-text alert body.
func Text(a Alert) string {
	var b strings.Builder
	b.WriteString(severityPrefix(a.Severity))
	b.WriteString(a.Summary)
	for _, d := range a.Details {
		b.WriteString("\n")
		b.WriteString(d)
	}
	return b.String()
}

func severityPrefix(s Severity) string {
	switch s {
	case SeverityCritical:
		return "🚨 "
	case SeverityError:
		return "❌ "
	case SeverityWarning:
		return "⚠️ "
	case SeverityInfo:
		return "ℹ️ "
	default:
		return ""
	}
}

func dedupKey(parts ...string) string {
	return strings.Join(parts, "|")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}
