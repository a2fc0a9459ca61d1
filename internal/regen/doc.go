// Package regen is the regeneration coordinator: it materializes every
// enabled ticker's schedule into registrations on the external alarm
// primitive and keeps that set fresh as the forward window slides.
//
// Guarantees:
//   - per-ticker serialization: at most one regeneration per ticker at a
//     time; overlapping passes skip busy tickers, Kick waits its turn
//   - all-or-nothing refresh: registers are staged before any cancel, and a
//     failure rolls staged ids back, so a ticker never drops from "covered"
//     to "empty" because a refresh went bad
//   - idempotence: a second pass with the same clock and no external change
//     computes an empty diff and makes zero registrar calls
//
// Alarm ids are opaque, so diffs match registrations by fire instant.
package regen
