package gate

import (
	"fmt"
	"time"
)

// Allowed is the gate predicate: t is converted into loc and execution is
// allowed unless the local hour lies inside w. Minutes and seconds are
// ignored, and so is the zone t happens to be expressed in.
func Allowed(t time.Time, loc *time.Location, w Window) bool {
	return !w.Contains(t.In(loc).Hour())
}

// Decision is the outcome of one evaluation, kept for logs and events.
type Decision struct {
	At      time.Time // evaluation instant as supplied
	Local   time.Time // At in the gate's zone
	Hour    int
	Allowed bool
	Zone    string
	Window  Window
}

type Option func(*Gate)

// WithClock overrides the clock used by Allowed and Check.
func WithClock(c Clock) Option {
	return func(g *Gate) {
		if c != nil {
			g.clock = c
		}
	}
}

// Gate is an immutable time-window gate. Safe for concurrent use.
type Gate struct {
	zone   string
	loc    *time.Location
	window Window
	clock  Clock
}

// New resolves zone and validates w. Configuration errors surface here,
// never at evaluation time.
func New(zone string, w Window, opts ...Option) (*Gate, error) {
	loc, err := LoadZone(zone)
	if err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	g := &Gate{zone: zone, loc: loc, window: w, clock: SystemClock()}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

func (g *Gate) Zone() string             { return g.zone }
func (g *Gate) Location() *time.Location { return g.loc }
func (g *Gate) Window() Window           { return g.window }

// Allowed evaluates the gate at the clock's current instant.
func (g *Gate) Allowed() bool { return g.AllowedAt(g.clock.Now()) }

// AllowedAt evaluates the gate at t.
func (g *Gate) AllowedAt(t time.Time) bool { return Allowed(t, g.loc, g.window) }

// Evaluate returns the full decision for t.
func (g *Gate) Evaluate(t time.Time) Decision {
	local := t.In(g.loc)
	return Decision{
		At:      t,
		Local:   local,
		Hour:    local.Hour(),
		Allowed: !g.window.Contains(local.Hour()),
		Zone:    g.zone,
		Window:  g.window,
	}
}

// ClosedError reports a closed gate. It wraps ErrWindowClosed.
type ClosedError struct {
	Decision Decision
	NextOpen time.Time
}

func (e *ClosedError) Error() string {
	d := e.Decision
	return fmt.Sprintf("%s: %s local time in %s is inside %s",
		ErrWindowClosed, d.Local.Format("15:04:05"), d.Zone, d.Window)
}

func (e *ClosedError) Unwrap() error { return ErrWindowClosed }

// Check returns nil when execution is allowed at the clock's current
// instant, otherwise a *ClosedError.
func (g *Gate) Check() error { return g.CheckAt(g.clock.Now()) }

// CheckAt is Check for an explicit instant.
func (g *Gate) CheckAt(t time.Time) error {
	d := g.Evaluate(t)
	if d.Allowed {
		return nil
	}
	return &ClosedError{Decision: d, NextOpen: g.NextOpen(t)}
}

// Now returns the gate clock's current instant.
func (g *Gate) Now() time.Time { return g.clock.Now() }

// NextOpen returns t when the gate is open at t; otherwise the start of the
// next allowed local hour. Steps are taken in absolute time from the top of
// each local hour, so DST transitions are followed as they happen.
func (g *Gate) NextOpen(t time.Time) time.Time {
	if g.AllowedAt(t) {
		return t
	}
	cur := t.In(g.loc)
	for i := 0; i < 48; i++ {
		top := time.Date(cur.Year(), cur.Month(), cur.Day(), cur.Hour(), 0, 0, 0, g.loc)
		next := top.Add(time.Hour)
		if !next.After(cur) {
			next = cur.Add(time.Hour)
		}
		if g.AllowedAt(next) {
			return next
		}
		cur = next
	}
	return time.Time{}
}
