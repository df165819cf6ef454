// Package gate decides whether a task may start right now.
//
// A Gate pairs a civil time zone with a disallowed window of local hours
// [Start, End). It converts the evaluation instant into the zone (with the
// offset in effect at that instant, DST included) and reports "allowed"
// unless the local hour falls inside the window.
//
// The package holds no mutable state: the time zone, the window and the
// clock are all passed in explicitly, so callers never need to swap a
// process-wide default zone around a block of code.
package gate
