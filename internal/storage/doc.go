// Package storage persists task run history.
//
// Drivers:
//   - "file": JSON Lines, compacted to a bounded number of records
//   - "sqlite": SQLite via modernc.org/sqlite (pure Go, WAL mode)
//   - "none" or empty: disabled
//
// A Recorder turns task lifecycle events from the event bus into records.
package storage
