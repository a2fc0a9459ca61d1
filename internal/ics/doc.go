// Package ics turns iCalendar payloads into tickers.
//
// Plain VEVENTs become one-time tickers. Simple RRULEs (daily, weekly BYDAY,
// biweekly, monthly BYMONTHDAY, yearly, hourly/minutely intervals) map onto
// native schedule kinds so they regenerate forever. Anything fancier is
// expanded with rrule-go inside a bounded horizon into individual one-time
// tickers, capped and reported.
package ics
