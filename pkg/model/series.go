package model

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/daviddao/salesd/pkg/clock"
	"github.com/daviddao/salesd/pkg/wire"
)

// productSales holds the sales of one product within a day together with
// running totals, so per-day queries do not rescan the events.
type productSales struct {
	events   []SalesEvent
	quantity int64
	value    decimal.Decimal
	maxPrice float64
}

func (p *productSales) add(e SalesEvent) {
	if len(p.events) == 0 || e.Price > p.maxPrice {
		p.maxPrice = e.Price
	}
	p.events = append(p.events, e)
	p.quantity += int64(e.Quantity)
	p.value = p.value.Add(decimal.NewFromFloat(e.Price).Mul(decimal.NewFromInt32(e.Quantity)))
}

// TimeSeries is the append-only record of one day of sales.
// It is safe for concurrent use.
type TimeSeries struct {
	mu       sync.RWMutex
	day      clock.Day
	current  bool
	products map[string]*productSales
	order    []string // product names in first-sale order
}

// NewTimeSeries returns an empty series for day.
func NewTimeSeries(day clock.Day, current bool) *TimeSeries {
	return &TimeSeries{
		day:      day,
		current:  current,
		products: make(map[string]*productSales),
	}
}

// Day returns the calendar day this series records.
func (s *TimeSeries) Day() clock.Day { return s.day }

// IsCurrentDay reports whether this is the live series of today.
func (s *TimeSeries) IsCurrentDay() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// SetCurrentDay flips the current-day flag.
func (s *TimeSeries) SetCurrentDay(current bool) {
	s.mu.Lock()
	s.current = current
	s.mu.Unlock()
}

// Append records a sale.
func (s *TimeSeries) Append(e SalesEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[e.Product]
	if !ok {
		p = &productSales{}
		s.products[e.Product] = p
		s.order = append(s.order, e.Product)
	}
	p.add(e)
}

// Quantity returns the number of units of product sold this day.
func (s *TimeSeries) Quantity(product string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.products[product]; ok {
		return p.quantity
	}
	return 0
}

// TotalValue returns the sum of price × quantity for product.
func (s *TimeSeries) TotalValue(product string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.products[product]; ok {
		return p.value.InexactFloat64()
	}
	return 0
}

// MaxPrice returns the highest unit price product sold at, or -1 if it
// was not sold this day.
func (s *TimeSeries) MaxPrice(product string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.products[product]; ok && len(p.events) > 0 {
		return p.maxPrice
	}
	return -1
}

// HasProduct reports whether product was sold this day.
func (s *TimeSeries) HasProduct(product string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[product]
	return ok && len(p.events) > 0
}

// Products returns the names of all products sold, in first-sale order.
func (s *TimeSeries) Products() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Events returns a copy of every sale, grouped by product in first-sale
// order.
func (s *TimeSeries) Events() []SalesEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SalesEvent
	for _, name := range s.order {
		out = append(out, s.products[name].events...)
	}
	return out
}

// Len returns the number of sales recorded.
func (s *TimeSeries) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.products {
		n += len(p.events)
	}
	return n
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

func putEvent(enc *wire.Encoder, e SalesEvent) {
	enc.Int32(e.Quantity).Float64(e.Price).Int64(e.At.Unix()).Int32(int32(e.At.Nanosecond()))
}

func readEvent(dec *wire.Decoder, product string) SalesEvent {
	qty := dec.ReadInt32()
	price := dec.ReadFloat64()
	sec := dec.ReadInt64()
	nanos := dec.ReadInt32()
	return SalesEvent{Product: product, Quantity: qty, Price: price, At: time.Unix(sec, int64(nanos)).UTC()}
}

// MarshalBinary encodes the full series: every product with its events,
// followed by the day and the current-day flag.
func (s *TimeSeries) MarshalBinary() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enc := wire.NewEncoder(64 + 32*len(s.order))
	enc.Int32(int32(len(s.order)))
	for _, name := range s.order {
		p := s.products[name]
		enc.String(name).Int32(int32(len(p.events)))
		for _, e := range p.events {
			putEvent(enc, e)
		}
	}
	enc.Int64(int64(s.day)).Bool(s.current)
	if err := enc.Err(); err != nil {
		return nil, fmt.Errorf("marshal series %s: %w", s.day, err)
	}
	return enc.Bytes(), nil
}

// UnmarshalTimeSeries decodes a series produced by MarshalBinary.
func UnmarshalTimeSeries(b []byte) (*TimeSeries, error) {
	dec := wire.NewDecoder(b)
	n := int(dec.ReadInt32())
	if n < 0 {
		return nil, fmt.Errorf("unmarshal series: negative product count %d", n)
	}
	var events []SalesEvent
	for i := 0; i < n && dec.Err() == nil; i++ {
		name := dec.ReadString()
		count := int(dec.ReadInt32())
		for j := 0; j < count && dec.Err() == nil; j++ {
			events = append(events, readEvent(dec, name))
		}
	}
	day := clock.Day(dec.ReadInt64())
	current := dec.ReadBool()
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("unmarshal series: %w", err)
	}
	s := NewTimeSeries(day, current)
	for _, e := range events {
		s.Append(e)
	}
	return s, nil
}

// WriteFiltered writes the sales of the given products in the compact
// dictionary encoding:
//
//	int32 dictSize, dictSize × utf8 name,
//	int32 eventCount, eventCount × (int16 index, int32 qty, float64 price,
//	                                int64 epochSeconds, int32 nanos)
//
// Product names are written once; each event references its name by index.
func (s *TimeSeries) WriteFiltered(products map[string]struct{}, enc *wire.Encoder) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var dict []string
	total := 0
	for _, name := range s.order {
		if _, ok := products[name]; !ok {
			continue
		}
		if n := len(s.products[name].events); n > 0 {
			dict = append(dict, name)
			total += n
		}
	}
	if len(dict) > 1<<15-1 {
		return fmt.Errorf("write filtered %s: %d products exceed index range", s.day, len(dict))
	}

	enc.Int32(int32(len(dict)))
	for _, name := range dict {
		enc.String(name)
	}
	enc.Int32(int32(total))
	for i, name := range dict {
		for _, e := range s.products[name].events {
			enc.Int16(int16(i))
			putEvent(enc, e)
		}
	}
	return enc.Err()
}

// filteredEventSize is the encoded size of one event record.
const filteredEventSize = 2 + 4 + 8 + 8 + 4

// ReadFiltered decodes the compact encoding written by WriteFiltered.
// Counts are checked against the remaining payload before anything is
// allocated for them.
func ReadFiltered(b []byte) ([]SalesEvent, error) {
	dec := wire.NewDecoder(b)
	n := int(dec.ReadInt32())
	if n < 0 {
		return nil, fmt.Errorf("read filtered: negative dictionary size %d", n)
	}
	if n > dec.Remaining()/2 {
		return nil, fmt.Errorf("read filtered: dictionary size %d exceeds payload (%d bytes left)", n, dec.Remaining())
	}
	dict := make([]string, 0, n)
	for i := 0; i < n && dec.Err() == nil; i++ {
		dict = append(dict, dec.ReadString())
	}
	count := int(dec.ReadInt32())
	if count < 0 {
		return nil, fmt.Errorf("read filtered: negative event count %d", count)
	}
	if count > dec.Remaining()/filteredEventSize {
		return nil, fmt.Errorf("read filtered: event count %d exceeds payload (%d bytes left)", count, dec.Remaining())
	}
	events := make([]SalesEvent, 0, count)
	for i := 0; i < count && dec.Err() == nil; i++ {
		idx := int(dec.ReadInt16())
		if dec.Err() != nil {
			break
		}
		if idx < 0 || idx >= len(dict) {
			return nil, fmt.Errorf("read filtered: invalid product index %d (dictionary size %d)", idx, len(dict))
		}
		events = append(events, readEvent(dec, dict[idx]))
	}
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("read filtered: %w", err)
	}
	return events, nil
}
