package gate

import "time"

// Clock abstracts time.Now so evaluation instants can be injected.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the production clock. Instants are captured in UTC;
// the gate converts them into its own zone before testing the hour.
func SystemClock() Clock { return systemClock{} }

// FixedClock always returns t.
func FixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}
