// Package cache keeps a bounded set of day series in memory in front of the
// series store, plus a separate cache of computed aggregation results.
//
// Series are evicted least recently used first. A modified (dirty) series
// is written back before it leaves memory; if the write fails the entry
// stays resident and the next-oldest candidate is tried instead, so the
// cache may run over capacity rather than lose data.
package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/daviddao/salesd/pkg/clock"
	"github.com/daviddao/salesd/pkg/model"
	"github.com/daviddao/salesd/pkg/store"
)

// AggregationFactor is the aggregation cache capacity per series slot.
const AggregationFactor = 100

// Key identifies one cached aggregation result.
type Key struct {
	Type    model.AggregationType
	Product string
	Days    int
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Resident         int   `json:"resident"`
	Dirty            int   `json:"dirty"`
	Aggregations     int   `json:"aggregations"`
	Hits             int64 `json:"hits"`
	Misses           int64 `json:"misses"`
	Evictions        int64 `json:"evictions"`
	WriteBacks       int64 `json:"write_backs"`
	FailedWriteBacks int64 `json:"failed_write_backs"`
}

type entry struct {
	day    clock.Day
	series *model.TimeSeries
}

type aggEntry struct {
	key   Key
	value float64
}

// Cache is safe for concurrent use.
type Cache struct {
	store    store.SeriesStore
	capacity int
	logger   *log.Logger

	mu    sync.Mutex
	ll    *list.List // front is most recently used
	items map[clock.Day]*list.Element
	dirty map[clock.Day]struct{}
	stats Stats

	aggMu    sync.RWMutex
	aggCap   int
	aggLL    *list.List
	aggItems map[Key]*list.Element

	hitCounter       metric.Int64Counter
	missCounter      metric.Int64Counter
	evictionCounter  metric.Int64Counter
	writeBackCounter metric.Int64Counter
}

// New returns a cache holding at most capacity series. A nil logger
// discards output.
func New(st store.SeriesStore, capacity int, logger *log.Logger) (*Cache, error) {
	if st == nil {
		return nil, errors.New("cache: nil series store")
	}
	if capacity < 1 {
		return nil, fmt.Errorf("cache: capacity must be at least 1, got %d", capacity)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &Cache{
		store:    st,
		capacity: capacity,
		logger:   logger,
		ll:       list.New(),
		items:    make(map[clock.Day]*list.Element, capacity+1),
		dirty:    make(map[clock.Day]struct{}),
		aggCap:   AggregationFactor * capacity,
		aggLL:    list.New(),
		aggItems: make(map[Key]*list.Element),
	}
	c.initMetrics()
	return c, nil
}

func (c *Cache) initMetrics() {
	meter := otel.Meter("salesd.cache")
	c.hitCounter, _ = meter.Int64Counter("salesd.cache.hits",
		metric.WithDescription("Cache lookups served from memory"),
		metric.WithUnit("{request}"))
	c.missCounter, _ = meter.Int64Counter("salesd.cache.misses",
		metric.WithDescription("Cache lookups that went to the store"),
		metric.WithUnit("{request}"))
	c.evictionCounter, _ = meter.Int64Counter("salesd.cache.evictions",
		metric.WithDescription("Series dropped from memory"),
		metric.WithUnit("{series}"))
	c.writeBackCounter, _ = meter.Int64Counter("salesd.cache.write_backs",
		metric.WithDescription("Dirty series persisted on eviction or shutdown"),
		metric.WithUnit("{series}"))
}

func record(counter metric.Int64Counter, kind string, attrs ...attribute.KeyValue) {
	if counter == nil {
		return
	}
	attrs = append(attrs, attribute.String("cache", kind))
	counter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// Capacity returns the series capacity.
func (c *Cache) Capacity() int { return c.capacity }

// GetSeries returns the series for day, loading it from the store when it
// is not resident. A day that was never stored yields (nil, false, nil).
func (c *Cache) GetSeries(day clock.Day) (*model.TimeSeries, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[day]; ok {
		c.ll.MoveToFront(el)
		c.stats.Hits++
		record(c.hitCounter, "series")
		return el.Value.(*entry).series, true, nil
	}
	c.stats.Misses++
	record(c.missCounter, "series")

	series, err := c.store.LoadSeries(day)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: load %s: %w", day, err)
	}
	c.installLocked(day, series)
	return series, true, nil
}

// PutSeries persists series immediately and installs it as the most
// recently used entry, clean. On persist failure the cache is unchanged.
func (c *Cache) PutSeries(day clock.Day, series *model.TimeSeries) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.SaveSeries(day, series); err != nil {
		return fmt.Errorf("cache: put %s: %w", day, err)
	}
	delete(c.dirty, day)
	c.installLocked(day, series)
	return nil
}

// MarkModified flags series as changed since its last persist and makes it
// the most recently used entry. A series that was evicted is reinstalled.
func (c *Cache) MarkModified(series *model.TimeSeries) {
	c.mu.Lock()
	defer c.mu.Unlock()

	day := series.Day()
	c.dirty[day] = struct{}{}
	c.installLocked(day, series)
}

// Dirty reports whether day has unpersisted changes.
func (c *Cache) Dirty(day clock.Day) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.dirty[day]
	return ok
}

// Resident reports whether day is held in memory.
func (c *Cache) Resident(day clock.Day) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[day]
	return ok
}

// Len returns the number of resident series.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *Cache) installLocked(day clock.Day, series *model.TimeSeries) {
	if el, ok := c.items[day]; ok {
		el.Value.(*entry).series = series
		c.ll.MoveToFront(el)
	} else {
		c.items[day] = c.ll.PushFront(&entry{day: day, series: series})
	}
	c.evictLocked()
}

// evictLocked drops entries from the LRU end until the cache fits. The most
// recently used entry is never a candidate.
func (c *Cache) evictLocked() {
	for el := c.ll.Back(); el != nil && el != c.ll.Front() && c.ll.Len() > c.capacity; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if _, dirty := c.dirty[e.day]; dirty {
			if err := c.store.SaveSeries(e.day, e.series); err != nil {
				c.stats.FailedWriteBacks++
				c.logger.Printf("write-back of %s failed, keeping it resident: %v", e.day, err)
				el = prev
				continue
			}
			delete(c.dirty, e.day)
			c.stats.WriteBacks++
			record(c.writeBackCounter, "series", attribute.String("trigger", "eviction"))
		}
		c.ll.Remove(el)
		delete(c.items, e.day)
		c.stats.Evictions++
		record(c.evictionCounter, "series")
		el = prev
	}
}

// ---------------------------------------------------------------------------
// Aggregations
// ---------------------------------------------------------------------------

// GetAggregation returns a cached result. This is a pure read: it takes the
// read lock and does not refresh recency, so entries age by insertion.
func (c *Cache) GetAggregation(key Key) (float64, bool) {
	c.aggMu.RLock()
	defer c.aggMu.RUnlock()
	el, ok := c.aggItems[key]
	if !ok {
		record(c.missCounter, "aggregation")
		return 0, false
	}
	record(c.hitCounter, "aggregation")
	return el.Value.(*aggEntry).value, true
}

// PutAggregation stores a result, evicting the oldest when full.
func (c *Cache) PutAggregation(key Key, value float64) {
	c.aggMu.Lock()
	defer c.aggMu.Unlock()
	if el, ok := c.aggItems[key]; ok {
		el.Value.(*aggEntry).value = value
		c.aggLL.MoveToFront(el)
		return
	}
	c.aggItems[key] = c.aggLL.PushFront(&aggEntry{key: key, value: value})
	for c.aggLL.Len() > c.aggCap {
		oldest := c.aggLL.Back()
		c.aggLL.Remove(oldest)
		delete(c.aggItems, oldest.Value.(*aggEntry).key)
		record(c.evictionCounter, "aggregation")
	}
}

// ClearAggregations drops every cached result.
func (c *Cache) ClearAggregations() {
	c.aggMu.Lock()
	defer c.aggMu.Unlock()
	c.aggLL.Init()
	clear(c.aggItems)
}

// AggregationLen returns the number of cached results.
func (c *Cache) AggregationLen() int {
	c.aggMu.RLock()
	defer c.aggMu.RUnlock()
	return c.aggLL.Len()
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Clear persists every dirty resident series and empties the cache. All
// write-back failures are returned joined; the cache is emptied regardless.
func (c *Cache) Clear() error {
	c.mu.Lock()
	var errs []error
	for el := c.ll.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if _, dirty := c.dirty[e.day]; !dirty {
			continue
		}
		if err := c.store.SaveSeries(e.day, e.series); err != nil {
			c.stats.FailedWriteBacks++
			errs = append(errs, fmt.Errorf("cache: flush %s: %w", e.day, err))
			continue
		}
		c.stats.WriteBacks++
		record(c.writeBackCounter, "series", attribute.String("trigger", "shutdown"))
	}
	c.ll.Init()
	clear(c.items)
	clear(c.dirty)
	c.mu.Unlock()

	c.ClearAggregations()
	return errors.Join(errs...)
}

// Stats returns a snapshot of the counters and sizes.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	s := c.stats
	s.Resident = c.ll.Len()
	s.Dirty = len(c.dirty)
	c.mu.Unlock()
	s.Aggregations = c.AggregationLen()
	return s
}
