// Package scheduler registers schedules and turns their triggers into task
// engine submissions.
//
// Cron expressions are evaluated in the scheduler timezone. A schedule may
// carry a time-window gate: a trigger that lands inside the gate's window is
// dropped and reported as task.gated instead of being enqueued.
package scheduler
