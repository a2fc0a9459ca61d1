// Package recurrence models repeat rules and turns them into concrete fire
// instants.
//
// A Schedule is one of a closed set of variants (one-time, daily, hourly,
// fixed interval, weekday sets, biweekly, monthly, yearly). Expand lists a
// schedule's instants inside an inclusive window; the result is deterministic
// for a given (schedule, window, calendar) triple, ascending, and capped at
// MaxOccurrences.
//
// Calendar edge cases never shift an occurrence to a neighboring day:
//   - monthly "on the 31st" skips short months
//   - yearly Feb 29 fires only in leap years
//   - biweekly parity is anchored to Monday-aligned weeks around the
//     schedule's anchor date
//
// All wall-clock math runs in the zone supplied by Calendar, so a 07:30 daily
// stays 07:30 across DST transitions.
package recurrence
