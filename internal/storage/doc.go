// Package storage persists tickers and their alarm registrations.
//
// Drivers:
//   - sqlite (default): single file, WAL, embedded schema
//   - file: atomic JSON snapshot, no native deps beyond the stdlib
//   - memory: tests and ephemeral runs
//
// All drivers expose the same Store interface; Save writes the ticker,
// its generation record and its registrations in one atomic step.
package storage
