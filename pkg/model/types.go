// Package model defines the core domain types of the sales server.
//
// A SalesEvent is one sale: a product, a quantity and a unit price, stamped
// with the simulated day it happened on. A TimeSeries collects every sale of
// one day, grouped by product, and answers the per-day questions the
// aggregations need (units sold, total value, highest price).
//
// Exactly one TimeSeries in the system is flagged as the current day; all
// others are history and never change again once the day has rolled over.
package model

import (
	"fmt"
	"time"

	"github.com/daviddao/salesd/pkg/wire"
)

// AggregationType selects what a windowed aggregation computes.
type AggregationType int

const (
	AggQuantity AggregationType = 1
	AggVolume   AggregationType = 2
	AggAverage  AggregationType = 3
	AggMax      AggregationType = 4
)

func (a AggregationType) String() string {
	switch a {
	case AggQuantity:
		return "quantity"
	case AggVolume:
		return "volume"
	case AggAverage:
		return "average"
	case AggMax:
		return "max"
	}
	return fmt.Sprintf("aggregation(%d)", int(a))
}

// AggregationForTag maps one of the four AG_* request tags to its type.
func AggregationForTag(t wire.Tag) (AggregationType, bool) {
	switch t {
	case wire.TagAggQuantity:
		return AggQuantity, true
	case wire.TagAggVolume:
		return AggVolume, true
	case wire.TagAggAverage:
		return AggAverage, true
	case wire.TagAggMax:
		return AggMax, true
	}
	return 0, false
}

// Tag returns the request tag that carries this aggregation.
func (a AggregationType) Tag() wire.Tag {
	switch a {
	case AggQuantity:
		return wire.TagAggQuantity
	case AggVolume:
		return wire.TagAggVolume
	case AggAverage:
		return wire.TagAggAverage
	case AggMax:
		return wire.TagAggMax
	}
	return 0
}

// SalesEvent is a single sale.
type SalesEvent struct {
	Product  string    `json:"product"`
	Quantity int32     `json:"quantity"`
	Price    float64   `json:"price"`
	At       time.Time `json:"at"`
}

// Value returns price × quantity.
func (e SalesEvent) Value() float64 { return e.Price * float64(e.Quantity) }
