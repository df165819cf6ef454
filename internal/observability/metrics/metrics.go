// Package metrics exports task and gate activity as Prometheus metrics.
//
// Counters are fed from the event bus; the gate state gauge is computed at
// scrape time from the current default gate.
package metrics

import (
	"context"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"taskgate/internal/eventbus"
	"taskgate/internal/gate"
	"taskgate/internal/notifier"
	"taskgate/internal/task/engine"
)

const namespace = "taskgate"

// Metrics owns a private registry so tests and embedders never collide with
// the global one.
type Metrics struct {
	reg *prometheus.Registry

	runs       *prometheus.CounterVec
	gated      *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	queueDelay *prometheus.HistogramVec
	alerts     *prometheus.CounterVec

	gate atomic.Pointer[gate.Gate]
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Terminal task outcomes by result (finished, failed, gated, skipped, dropped).",
		}, []string{"task", "result"}),
		gated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_gated_total",
			Help:      "Runs held back because the local hour was inside the disallowed window.",
		}, []string{"task"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time of completed task runs, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 9),
		}, []string{"task"}),
		queueDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_queue_delay_seconds",
			Help:      "Time between enqueue and start.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 9),
		}, []string{"task"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alert deliveries by sink and result.",
		}, []string{"sink", "result"}),
	}
	gateOpen := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "gate_open",
		Help:      "1 when the default gate currently allows execution, 0 when closed.",
	}, func() float64 {
		g := m.gate.Load()
		if g == nil || g.Allowed() {
			return 1
		}
		return 0
	})
	m.reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		m.runs, m.gated, m.duration, m.queueDelay, m.alerts, gateOpen,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// SetGate swaps the gate reported by taskgate_gate_open. nil reports open.
func (m *Metrics) SetGate(g *gate.Gate) { m.gate.Store(g) }

// Observe updates counters for one bus event. Unknown events are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	switch d := e.Data.(type) {
	case engine.TaskEvent:
		switch e.Type {
		case eventbus.TaskStarted:
			m.queueDelay.WithLabelValues(d.Name).Observe(d.QueueDelay.Seconds())
		case eventbus.TaskFinished:
			m.runs.WithLabelValues(d.Name, "finished").Inc()
			m.duration.WithLabelValues(d.Name).Observe(d.Duration.Seconds())
		case eventbus.TaskFailed:
			m.runs.WithLabelValues(d.Name, "failed").Inc()
			m.duration.WithLabelValues(d.Name).Observe(d.Duration.Seconds())
		case eventbus.TaskGated:
			m.runs.WithLabelValues(d.Name, "gated").Inc()
			m.gated.WithLabelValues(d.Name).Inc()
		case eventbus.TaskSkipped:
			m.runs.WithLabelValues(d.Name, "skipped").Inc()
		case eventbus.TaskDropped:
			m.runs.WithLabelValues(d.Name, "dropped").Inc()
		}
	case notifier.NotificationEvent:
		switch e.Type {
		case notifier.EventSent:
			m.alerts.WithLabelValues(d.Sink, "sent").Inc()
		case notifier.EventFailed:
			m.alerts.WithLabelValues(d.Sink, "failed").Inc()
		case notifier.EventDropped:
			m.alerts.WithLabelValues("", "dropped").Inc()
		}
	}
}

// Run feeds bus events into Observe until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	if bus == nil {
		<-ctx.Done()
		return nil
	}
	ch, unsub := bus.Subscribe(512)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}
