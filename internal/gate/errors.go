package gate

import "errors"

var (
	ErrUnknownZone    = errors.New("unknown time zone")
	ErrHourRange      = errors.New("hour out of range (0-23)")
	ErrWrapNotEnabled = errors.New("start_hour after end_hour requires overnight")
	ErrOvernightOrder = errors.New("overnight requires start_hour after end_hour")
	ErrWindowClosed   = errors.New("execution window closed")
)
