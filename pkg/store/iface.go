// iface.go defines the persistence interfaces consumed by the cache, the
// session state and the server.
//
// The concrete *Store type satisfies both. Components accept the narrow
// interface instead of *Store so tests can inject failing or in-memory
// implementations.
package store

import (
	"errors"

	"github.com/daviddao/salesd/pkg/clock"
	"github.com/daviddao/salesd/pkg/model"
)

// ErrNotFound is returned by LoadSeries when no series was ever saved for
// the requested day.
var ErrNotFound = errors.New("store: series not found")

// SeriesStore persists one TimeSeries per day.
type SeriesStore interface {
	// LoadSeries returns the saved series for day, or ErrNotFound.
	LoadSeries(day clock.Day) (*model.TimeSeries, error)

	// SaveSeries writes series as the record for day, replacing any
	// previous version.
	SaveSeries(day clock.Day, series *model.TimeSeries) error

	// CountHistoricalDays returns how many completed (non-current) days
	// are stored.
	CountHistoricalDays() (int, error)

	// LastSavedDay returns the latest stored day, if any.
	LastSavedDay() (clock.Day, bool, error)
}

// UserStore holds client credentials.
type UserStore interface {
	// Register creates a user. Returns false if the name is taken.
	Register(name, password string) (bool, error)

	// Authenticate reports whether name exists with this password.
	Authenticate(name, password string) (bool, error)

	// PersistAll makes every registered user durable. Called on shutdown.
	PersistAll() error
}

// Compile-time checks that *Store implements both interfaces.
var (
	_ SeriesStore = (*Store)(nil)
	_ UserStore   = (*Store)(nil)
)
