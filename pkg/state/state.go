// Package state holds the live session of the sales server: today's
// series, the number of completed days available, and the operations that
// read and advance them.
package state

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/daviddao/salesd/pkg/cache"
	"github.com/daviddao/salesd/pkg/clock"
	"github.com/daviddao/salesd/pkg/frontier"
	"github.com/daviddao/salesd/pkg/model"
	"github.com/daviddao/salesd/pkg/notify"
	"github.com/daviddao/salesd/pkg/wire"
)

var (
	// ErrInvalidArgument marks a request with a malformed argument.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotHistorical marks a filter request for today or a future day.
	ErrNotHistorical = frontier.ErrNotHistorical

	// ErrOutOfRange marks a filter request older than the retained history.
	ErrOutOfRange = frontier.ErrOutOfRange
)

// Hub receives sale and rollover notifications.
type Hub interface {
	RegisterSale(product string)
	StartNewDay()
}

// SeriesCache is the subset of *cache.Cache the state depends on.
type SeriesCache interface {
	GetSeries(day clock.Day) (*model.TimeSeries, bool, error)
	PutSeries(day clock.Day, series *model.TimeSeries) error
	MarkModified(series *model.TimeSeries)
	GetAggregation(key cache.Key) (float64, bool)
	PutAggregation(key cache.Key, value float64)
	ClearAggregations()
}

var (
	_ Hub         = (*notify.Hub)(nil)
	_ SeriesCache = (*cache.Cache)(nil)
)

// State is safe for concurrent use.
type State struct {
	hub    Hub
	cache  SeriesCache
	logger *log.Logger
	now    func() time.Time

	mu      sync.RWMutex
	today   clock.Day
	current *model.TimeSeries
	maxDays int
}

// New restores today's series through the cache or starts a fresh one.
// maxDays is the number of completed days already stored.
func New(hub Hub, c SeriesCache, maxDays int, today clock.Day, logger *log.Logger) (*State, error) {
	if hub == nil || c == nil {
		return nil, errors.New("state: hub and cache are required")
	}
	if maxDays < 0 {
		return nil, fmt.Errorf("state: negative history %d", maxDays)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &State{hub: hub, cache: c, logger: logger, now: time.Now, today: today, maxDays: maxDays}

	series, ok, err := c.GetSeries(today)
	if err != nil {
		return nil, fmt.Errorf("state: restore %s: %w", today, err)
	}
	if ok {
		if !series.IsCurrentDay() {
			series.SetCurrentDay(true)
			c.MarkModified(series)
		}
		logger.Printf("restored %s with %d events", today, series.Len())
	} else {
		series = model.NewTimeSeries(today, true)
		if err := c.PutSeries(today, series); err != nil {
			return nil, fmt.Errorf("state: create %s: %w", today, err)
		}
		logger.Printf("started %s", today)
	}
	s.current = series
	return s, nil
}

// Today returns the current simulated day.
func (s *State) Today() clock.Day {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.today
}

// HistoryDays returns the number of completed days available.
func (s *State) HistoryDays() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxDays
}

func (s *State) window() frontier.Window {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return frontier.Window{Today: s.today, Retained: s.maxDays}
}

// AddEvent records a sale on the current day and notifies the hub.
func (s *State) AddEvent(product string, quantity int32, price float64) error {
	if strings.TrimSpace(product) == "" {
		return fmt.Errorf("%w: empty product name", ErrInvalidArgument)
	}
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidArgument, quantity)
	}
	if price < 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return fmt.Errorf("%w: invalid price %v", ErrInvalidArgument, price)
	}

	s.mu.Lock()
	s.current.Append(model.SalesEvent{
		Product:  product,
		Quantity: quantity,
		Price:    price,
		At:       s.today.At(s.now()),
	})
	s.cache.MarkModified(s.current)
	s.mu.Unlock()

	s.hub.RegisterSale(product)
	return nil
}

// Aggregate computes kind over product for the last days completed days.
// Today is never included; the window is clamped to the available history.
// A product that was never sold, including the empty name, aggregates to 0.
func (s *State) Aggregate(kind model.AggregationType, product string, days int) (float64, error) {
	w := s.window()
	n, err := w.Clamp(days)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if n == 0 {
		return 0, nil
	}

	key := cache.Key{Type: kind, Product: product, Days: days}
	if v, ok := s.cache.GetAggregation(key); ok {
		return v, nil
	}

	var quantity int64
	var value, maxPrice float64
	for _, day := range w.Days(n) {
		series, ok, err := s.cache.GetSeries(day)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		if !series.HasProduct(product) {
			continue
		}
		quantity += series.Quantity(product)
		value += series.TotalValue(product)
		maxPrice = max(maxPrice, series.MaxPrice(product))
	}

	var result float64
	switch kind {
	case model.AggQuantity:
		result = float64(quantity)
	case model.AggVolume:
		result = value
	case model.AggAverage:
		if quantity > 0 {
			result = value / float64(quantity)
		}
	case model.AggMax:
		result = maxPrice
	default:
		return 0, fmt.Errorf("%w: unknown aggregation %d", ErrInvalidArgument, kind)
	}

	// A rollover since the snapshot has already cleared the aggregation
	// cache; storing this result would resurrect yesterday's window.
	s.mu.RLock()
	if s.today == w.Today {
		s.cache.PutAggregation(key, result)
	}
	s.mu.RUnlock()
	return result, nil
}

// StartNewDay closes the current day and opens the next one. If the
// closing day cannot be persisted the rollover is aborted.
func (s *State) StartNewDay() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	closing := s.current
	closing.SetCurrentDay(false)
	if err := s.cache.PutSeries(s.today, closing); err != nil {
		closing.SetCurrentDay(true)
		return fmt.Errorf("state: close %s: %w", s.today, err)
	}

	next := s.today.AddDays(1)
	series := model.NewTimeSeries(next, true)
	if err := s.cache.PutSeries(next, series); err != nil {
		// The cache writes it back on eviction or shutdown.
		s.logger.Printf("persist new day %s: %v", next, err)
		s.cache.MarkModified(series)
	}

	s.maxDays++
	s.today = next
	s.current = series
	s.cache.ClearAggregations()
	s.hub.StartNewDay()
	s.logger.Printf("day %s started, %d days of history", next, s.maxDays)
	return nil
}

// FilterEvents writes the sales of products on day in the compact
// dictionary encoding. day must lie within the retained history.
func (s *State) FilterEvents(day clock.Day, products []string, enc *wire.Encoder) error {
	return s.filter(s.window(), day, products, enc)
}

// FilterEventsBack is FilterEvents for the day daysBack days before today,
// resolved against a single snapshot of the window.
func (s *State) FilterEventsBack(daysBack int, products []string, enc *wire.Encoder) error {
	w := s.window()
	return s.filter(w, w.Today.AddDays(-daysBack), products, enc)
}

func (s *State) filter(w frontier.Window, day clock.Day, products []string, enc *wire.Encoder) error {
	if len(products) == 0 {
		return fmt.Errorf("%w: no products requested", ErrInvalidArgument)
	}
	if err := w.Validate(day); err != nil {
		return err
	}
	set := make(map[string]struct{}, len(products))
	for _, p := range products {
		set[p] = struct{}{}
	}

	series, ok, err := s.cache.GetSeries(day)
	if err != nil {
		return err
	}
	if !ok {
		enc.Int32(0).Int32(0)
		return enc.Err()
	}
	return series.WriteFiltered(set, enc)
}
