// Package notifier turns task failures (and, optionally, gated runs) into
// operator alerts.
//
// The service listens on the event bus, queues alerts, and delivers them to
// every configured Sink through a worker pool with a shared rate limit,
// exponential-backoff retries, and an in-memory dedup window. Sinks exist for
// Telegram and PagerDuty Events v2.
//
// A recent history of delivered alerts is kept for operator visibility.
package notifier
