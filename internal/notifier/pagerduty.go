package notifier

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/PagerDuty/go-pagerduty"
	"github.com/cenkalti/backoff/v5"
)

type PagerDutyConfig struct {
	RoutingKey string
	Source     string
	Severity   Severity // floor; alerts below it are raised to it
	MaxElapsed time.Duration
}

type eventSender func(ctx context.Context, e pagerduty.V2Event) (*pagerduty.V2EventResponse, error)

// PagerDuty triggers Events API v2 incidents. Alerts sharing a dedup key
// collapse into one incident.
type PagerDuty struct {
	cfg  PagerDutyConfig
	send eventSender
}

func NewPagerDuty(cfg PagerDutyConfig) (*PagerDuty, error) {
	if strings.TrimSpace(cfg.RoutingKey) == "" {
		return nil, errors.New("pagerduty routing_key is empty")
	}
	if cfg.Source == "" {
		cfg.Source = "taskgate"
	}
	if cfg.Severity == "" {
		cfg.Severity = SeverityInfo
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = time.Minute
	}
	return &PagerDuty{cfg: cfg, send: pagerduty.ManageEventWithContext}, nil
}

func (p *PagerDuty) Name() string { return "pagerduty" }

// Send retries on its own for up to MaxElapsed and reports the outcome as
// permanent, so the pipeline does not retry it again.
func (p *PagerDuty) Send(ctx context.Context, a Alert) error {
	ev := p.event(a)
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 500 * time.Millisecond
	_, err := backoff.Retry(ctx, func() (*pagerduty.V2EventResponse, error) {
		return p.send(ctx, ev)
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxElapsedTime(p.cfg.MaxElapsed),
	)
	if err != nil {
		return backoff.Permanent(err)
	}
	return nil
}

func (p *PagerDuty) event(a Alert) pagerduty.V2Event {
	details := map[string]any{"task": a.Task}
	if len(a.Details) > 0 {
		details["details"] = a.Details
	}
	return pagerduty.V2Event{
		RoutingKey: p.cfg.RoutingKey,
		Action:     "trigger",
		DedupKey:   a.DedupKey,
		Payload: &pagerduty.V2Payload{
			Summary:   a.Summary,
			Source:    p.cfg.Source,
			Severity:  string(maxSeverity(a.Severity, p.cfg.Severity)),
			Timestamp: a.At.UTC().Format(time.RFC3339),
			Component: a.Task,
			Group:     "taskgate",
			Class:     a.Kind,
			Details:   details,
		},
	}
}

var severityRank = map[Severity]int{
	SeverityInfo:     1,
	SeverityWarning:  2,
	SeverityError:    3,
	SeverityCritical: 4,
}

func maxSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	if severityRank[a] == 0 {
		return SeverityInfo
	}
	return a
}
