// Package notify lets clients block until a sales pattern occurs within the
// current day.
//
// Two patterns are supported: both products of a pair sold at least once
// today (simultaneous), and one product sold N times in a row with no other
// product in between (consecutive). A day rollover expires every wait.
//
// Each subscription owns a one-slot outcome channel. The outcome is decided
// under the hub lock at the moment the sale or rollover happens, so a waiter
// cannot miss a match because the streak moved on before it woke up.
package notify

import (
	"context"
	"sync"

	"github.com/daviddao/salesd/pkg/clock"
)

// Outcome is how a subscription ended.
type Outcome int

const (
	// Matched means the pattern occurred within the subscription's day.
	Matched Outcome = iota + 1
	// DayEnded means the day rolled over first.
	DayEnded
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case DayEnded:
		return "day_ended"
	default:
		return "unknown"
	}
}

// pairKey is an unordered product pair.
type pairKey struct{ a, b string }

func keyFor(p1, p2 string) pairKey {
	if p2 < p1 {
		p1, p2 = p2, p1
	}
	return pairKey{a: p1, b: p2}
}

type subscription struct {
	epoch     int64
	product   string
	threshold int
	done      chan Outcome
}

func newSubscription(epoch int64) *subscription {
	return &subscription{epoch: epoch, done: make(chan Outcome, 1)}
}

// Hub tracks today's sales patterns and the subscriptions waiting on them.
// It is safe for concurrent use.
type Hub struct {
	mu     sync.Mutex
	epoch  clock.Epoch
	sold   map[string]struct{}
	last   string
	streak int
	pairs  map[pairKey]map[*subscription]struct{}
	consec map[string]map[*subscription]struct{}
}

// New returns an empty hub at epoch 0.
func New() *Hub {
	h := &Hub{}
	h.reset()
	return h
}

func (h *Hub) reset() {
	h.sold = make(map[string]struct{})
	h.last = ""
	h.streak = 0
	h.pairs = make(map[pairKey]map[*subscription]struct{})
	h.consec = make(map[string]map[*subscription]struct{})
}

// settle delivers the outcome for s. Caller holds h.mu and has already
// removed s from its subscription map, so this runs at most once per s.
func (h *Hub) settle(s *subscription) {
	if s.epoch == h.epoch.Value() {
		s.done <- Matched
		return
	}
	s.done <- DayEnded
}

// RegisterSale records one sale of product and wakes every subscription it
// satisfies.
func (h *Hub) RegisterSale(product string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sold[product] = struct{}{}
	for key, subs := range h.pairs {
		if key.a != product && key.b != product {
			continue
		}
		if !h.soldLocked(key.a) || !h.soldLocked(key.b) {
			continue
		}
		for s := range subs {
			h.settle(s)
		}
		delete(h.pairs, key)
	}

	if product == h.last {
		h.streak++
	} else {
		h.last = product
		h.streak = 1
	}
	if subs := h.consec[product]; subs != nil {
		for s := range subs {
			if s.threshold <= h.streak {
				delete(subs, s)
				h.settle(s)
			}
		}
		if len(subs) == 0 {
			delete(h.consec, product)
		}
	}
}

func (h *Hub) soldLocked(product string) bool {
	_, ok := h.sold[product]
	return ok
}

// StartNewDay advances the epoch, expires every outstanding subscription
// and clears the day's patterns.
func (h *Hub) StartNewDay() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.epoch.Tick()
	for _, subs := range h.pairs {
		for s := range subs {
			h.settle(s)
		}
	}
	for _, subs := range h.consec {
		for s := range subs {
			h.settle(s)
		}
	}
	h.reset()
}

// Epoch returns the number of rollovers seen.
func (h *Hub) Epoch() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.epoch.Value()
}

// Pending returns the number of outstanding subscriptions.
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, subs := range h.pairs {
		n += len(subs)
	}
	for _, subs := range h.consec {
		n += len(subs)
	}
	return n
}

// WaitForSimultaneous blocks until both p1 and p2 have been sold today.
// Returns false if the day ends first.
func (h *Hub) WaitForSimultaneous(p1, p2 string) bool {
	ok, _ := h.WaitForSimultaneousContext(context.Background(), p1, p2)
	return ok
}

// WaitForSimultaneousContext is WaitForSimultaneous bounded by ctx. It
// returns ctx.Err() if ctx ends before the subscription is settled.
func (h *Hub) WaitForSimultaneousContext(ctx context.Context, p1, p2 string) (bool, error) {
	h.mu.Lock()
	if h.soldLocked(p1) && h.soldLocked(p2) {
		h.mu.Unlock()
		return true, nil
	}
	key := keyFor(p1, p2)
	s := newSubscription(h.epoch.Value())
	subs := h.pairs[key]
	if subs == nil {
		subs = make(map[*subscription]struct{})
		h.pairs[key] = subs
	}
	subs[s] = struct{}{}
	h.mu.Unlock()

	out, err := h.await(ctx, s, func() bool {
		subs, ok := h.pairs[key]
		if !ok {
			return false
		}
		if _, ok := subs[s]; !ok {
			return false
		}
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.pairs, key)
		}
		return true
	})
	return out == Matched, err
}

// WaitForConsecutive blocks until product has been sold n times in a row.
// Returns the product and true on a match, or "" and false if the day ends
// first.
func (h *Hub) WaitForConsecutive(product string, n int) (string, bool) {
	p, ok, _ := h.WaitForConsecutiveContext(context.Background(), product, n)
	return p, ok
}

// WaitForConsecutiveContext is WaitForConsecutive bounded by ctx.
func (h *Hub) WaitForConsecutiveContext(ctx context.Context, product string, n int) (string, bool, error) {
	h.mu.Lock()
	if h.last == product && h.streak >= n && h.streak > 0 {
		h.mu.Unlock()
		return product, true, nil
	}
	s := newSubscription(h.epoch.Value())
	s.product = product
	s.threshold = n
	subs := h.consec[product]
	if subs == nil {
		subs = make(map[*subscription]struct{})
		h.consec[product] = subs
	}
	subs[s] = struct{}{}
	h.mu.Unlock()

	out, err := h.await(ctx, s, func() bool {
		subs, ok := h.consec[product]
		if !ok {
			return false
		}
		if _, ok := subs[s]; !ok {
			return false
		}
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.consec, product)
		}
		return true
	})
	if out == Matched {
		return product, true, err
	}
	return "", false, err
}

// await blocks on s. If ctx ends first, remove is called under the hub lock
// to withdraw s; when s was already settled its outcome is returned instead.
func (h *Hub) await(ctx context.Context, s *subscription, remove func() bool) (Outcome, error) {
	select {
	case out := <-s.done:
		return out, nil
	case <-ctx.Done():
	}
	h.mu.Lock()
	removed := remove()
	h.mu.Unlock()
	if removed {
		return 0, ctx.Err()
	}
	return <-s.done, nil
}
