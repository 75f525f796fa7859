// Package clock implements the simulated calendar of the sales server.
//
// Two notions of time live here:
//
//	Day:   a civil date (UTC), the key of every stored time series.
//	       The server's "today" only moves forward when a client asks for
//	       a new day, so Day is decoupled from the wall clock.
//	Epoch: a counter incremented exactly once per day rollover. Waiters
//	       remember the epoch they started in; a mismatch on wake-up means
//	       the day ended before their condition was met.
//
// Note: Epoch is not goroutine-safe. Its owner (the notification hub)
// only touches it while holding its own lock.
package clock

import (
	"fmt"
	"time"
)

// Epoch is a day-rollover counter. Not goroutine-safe; see package doc.
type Epoch struct {
	n int64
}

// Tick advances the epoch on a day rollover. Returns the new value.
func (e *Epoch) Tick() int64 {
	e.n++
	return e.n
}

// Value returns the current epoch without advancing it.
func (e *Epoch) Value() int64 { return e.n }

// Day is a civil date expressed as days since 1970-01-01 (UTC).
type Day int64

const dayLayout = "2006-01-02"

// DayOf returns the calendar day containing t, interpreted in UTC.
func DayOf(t time.Time) Day {
	y, m, d := t.UTC().Date()
	return Day(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

// Today returns the current wall-clock day.
func Today() Day { return DayOf(time.Now()) }

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return 0, fmt.Errorf("parse day %q: %w", s, err)
	}
	return DayOf(t), nil
}

// AddDays returns the day n days after d (n may be negative).
func (d Day) AddDays(n int) Day { return d + Day(n) }

// Before reports whether d is strictly earlier than other.
func (d Day) Before(other Day) bool { return d < other }

// After reports whether d is strictly later than other.
func (d Day) After(other Day) bool { return d > other }

// Sub returns the number of days from other to d.
func (d Day) Sub(other Day) int { return int(d - other) }

// Time returns midnight UTC of d.
func (d Day) Time() time.Time { return time.Unix(int64(d)*86400, 0).UTC() }

// At combines d with the time of day of t (UTC).
func (d Day) At(t time.Time) time.Time {
	u := t.UTC()
	y, m, dd := d.Time().Date()
	return time.Date(y, m, dd, u.Hour(), u.Minute(), u.Second(), u.Nanosecond(), time.UTC)
}

func (d Day) String() string { return d.Time().Format(dayLayout) }
