// Package report renders operator tables: the hour-by-hour verdict of a gate
// over one local day, upcoming trigger verdicts, and recent run history.
package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"taskgate/internal/gate"
	"taskgate/internal/storage"
)

const (
	verdictOpen   = "open"
	verdictClosed = "CLOSED"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(header)
	tw.SetAutoWrapText(false)
	tw.SetAutoFormatHeaders(false)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	return tw
}

func verdict(open bool) string {
	if open {
		return verdictOpen
	}
	return verdictClosed
}

// Day prints one row per local hour of day in the gate's zone. DST days show
// 23 or 25 rows. It returns the number of closed hours.
func Day(w io.Writer, g *gate.Gate, day time.Time) int {
	loc := g.Location()
	d := day.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	end := time.Date(d.Year(), d.Month(), d.Day()+1, 0, 0, 0, 0, loc)

	tw := newTable(w, "Local", "UTC", "Verdict")
	closed := 0
	for t := start; t.Before(end); t = t.Add(time.Hour) {
		open := g.AllowedAt(t)
		if !open {
			closed++
		}
		tw.Append([]string{t.Format("15:04 MST"), t.UTC().Format("15:04"), verdict(open)})
	}
	tw.SetFooter([]string{g.Zone(), g.Window().String(), fmt.Sprintf("closed hours: %d", closed)})
	tw.Render()
	return closed
}

// Fires prints the verdict for each trigger instant. A nil gate means the
// task is ungated and every fire runs.
func Fires(w io.Writer, g *gate.Gate, fires []time.Time) {
	tw := newTable(w, "Fire (UTC)", "Local", "Verdict", "Opens")
	for _, f := range fires {
		if g == nil {
			tw.Append([]string{f.UTC().Format(time.RFC3339), f.Format("2006-01-02 15:04 MST"), verdictOpen, ""})
			continue
		}
		dec := g.Evaluate(f)
		opens := ""
		if !dec.Allowed {
			opens = g.NextOpen(f).Format("2006-01-02 15:04 MST")
		}
		tw.Append([]string{f.UTC().Format(time.RFC3339), dec.Local.Format("2006-01-02 15:04 MST"), verdict(dec.Allowed), opens})
	}
	tw.Render()
}

// History prints run records as given (newest first from the store).
func History(w io.Writer, runs []storage.RunRecord) {
	tw := newTable(w, "At", "Task", "Outcome", "Attempts", "Duration", "Detail")
	for _, r := range runs {
		dur := ""
		if r.Duration > 0 {
			dur = r.Duration.Round(time.Millisecond).String()
		}
		attempts := ""
		if r.Attempts > 0 {
			attempts = strconv.Itoa(r.Attempts)
		}
		tw.Append([]string{
			r.At.UTC().Format("2006-01-02 15:04:05Z"),
			r.Task,
			r.Outcome,
			attempts,
			dur,
			detail(r),
		})
	}
	tw.Render()
}

func detail(r storage.RunRecord) string {
	if r.Outcome == storage.OutcomeGated && !r.NextOpen.IsZero() {
		loc := time.UTC
		if l, err := gate.LoadZone(r.Zone); err == nil {
			loc = l
		}
		return fmt.Sprintf("opens %s", r.NextOpen.In(loc).Format("15:04 MST"))
	}
	const limit = 60
	if rs := []rune(r.Error); len(rs) > limit {
		return string(rs[:limit-1]) + "…"
	}
	return r.Error
}
