package gate

import "fmt"

// Window is a disallowed range of local civil hours, half-open: [Start, End).
//
// Start == End is an empty window (always allowed). Start > End is only
// valid with Overnight set, in which case the window wraps past midnight.
type Window struct {
	Start     int
	End       int
	Overnight bool
}

// Validate reports a configuration error; bounds are never clamped.
func (w Window) Validate() error {
	if w.Start < 0 || w.Start > 23 {
		return fmt.Errorf("start_hour %d: %w", w.Start, ErrHourRange)
	}
	if w.End < 0 || w.End > 23 {
		return fmt.Errorf("end_hour %d: %w", w.End, ErrHourRange)
	}
	if w.Overnight && w.Start <= w.End {
		return fmt.Errorf("window %d-%d: %w", w.Start, w.End, ErrOvernightOrder)
	}
	if !w.Overnight && w.Start > w.End {
		return fmt.Errorf("window %d-%d: %w", w.Start, w.End, ErrWrapNotEnabled)
	}
	return nil
}

// Empty reports whether the window never disallows anything.
func (w Window) Empty() bool { return w.Start == w.End }

// Contains reports whether the local hour is disallowed.
func (w Window) Contains(hour int) bool {
	if w.Overnight {
		return hour >= w.Start || hour < w.End
	}
	return hour >= w.Start && hour < w.End
}

func (w Window) String() string {
	s := fmt.Sprintf("[%02d:00, %02d:00)", w.Start, w.End)
	if w.Overnight {
		s += " overnight"
	}
	return s
}
