// Package frontier computes the history frontier of a sales session.
//
// The frontier is the oldest day still retained. Everything between it
// and yesterday is queryable history; today is live and never part of it.
// Aggregation windows are clamped to the frontier and filter requests are
// checked against it, so both operations agree on what "history" means.
package frontier

import (
	"errors"
	"fmt"

	"github.com/daviddao/salesd/pkg/clock"
)

var (
	// ErrNegativeWindow is returned by Clamp for a negative day count.
	ErrNegativeWindow = errors.New("negative day window")

	// ErrNotHistorical is returned by Validate for today or a future day.
	ErrNotHistorical = errors.New("day is not historical")

	// ErrOutOfRange is returned by Validate for a day older than the
	// retained history.
	ErrOutOfRange = errors.New("day is outside retained history")
)

// Window is a snapshot of the session's history bounds.
type Window struct {
	Today    clock.Day `json:"today"`
	Retained int       `json:"retained"` // completed days available
}

// Frontier returns the oldest day inside the window.
func (w Window) Frontier() clock.Day {
	return w.Today.AddDays(-w.Retained)
}

// Clamp limits a requested window of days to the retained history.
func (w Window) Clamp(days int) (int, error) {
	if days < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeWindow, days)
	}
	return min(days, max(w.Retained, 0)), nil
}

// Days returns the n days preceding today, newest first. n must already be
// clamped.
func (w Window) Days(n int) []clock.Day {
	out := make([]clock.Day, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, w.Today.AddDays(-i))
	}
	return out
}

// Validate reports whether day may be read as history.
func (w Window) Validate(day clock.Day) error {
	if !day.Before(w.Today) {
		return fmt.Errorf("%w: %s (today is %s)", ErrNotHistorical, day, w.Today)
	}
	if day.Before(w.Frontier()) {
		return fmt.Errorf("%w: %s (oldest is %s)", ErrOutOfRange, day, w.Frontier())
	}
	return nil
}
