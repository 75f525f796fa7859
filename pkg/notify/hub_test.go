package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitPending(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Pending() == n }, time.Second, time.Millisecond)
}

func TestSimultaneousAlreadySatisfied(t *testing.T) {
	h := New()
	h.RegisterSale("a")
	h.RegisterSale("b")
	require.True(t, h.WaitForSimultaneous("b", "a"))
	require.Zero(t, h.Pending())
}

func TestSimultaneousWakesOnSecondProduct(t *testing.T) {
	h := New()
	h.RegisterSale("a")

	got := make(chan bool, 1)
	go func() { got <- h.WaitForSimultaneous("a", "b") }()
	waitPending(t, h, 1)

	h.RegisterSale("c")
	require.Equal(t, 1, h.Pending())
	h.RegisterSale("b")
	require.True(t, <-got)
	require.Zero(t, h.Pending())
}

func TestSimultaneousSharedKeyWakesAll(t *testing.T) {
	h := New()
	got := make(chan bool, 2)
	go func() { got <- h.WaitForSimultaneous("a", "b") }()
	go func() { got <- h.WaitForSimultaneous("b", "a") }()
	waitPending(t, h, 2)

	h.RegisterSale("b")
	h.RegisterSale("a")
	require.True(t, <-got)
	require.True(t, <-got)
}

func TestSimultaneousExpiresOnNewDay(t *testing.T) {
	h := New()
	h.RegisterSale("a")
	got := make(chan bool, 1)
	go func() { got <- h.WaitForSimultaneous("a", "b") }()
	waitPending(t, h, 1)

	h.StartNewDay()
	require.False(t, <-got)
	require.Equal(t, int64(1), h.Epoch())

	// Yesterday's sale of "a" no longer counts.
	h.RegisterSale("b")
	go func() { got <- h.WaitForSimultaneous("a", "b") }()
	waitPending(t, h, 1)
	h.RegisterSale("a")
	require.True(t, <-got)
}

func TestConsecutiveAlreadySatisfied(t *testing.T) {
	h := New()
	h.RegisterSale("x")
	h.RegisterSale("x")
	p, ok := h.WaitForConsecutive("x", 2)
	require.True(t, ok)
	require.Equal(t, "x", p)
}

func TestConsecutiveStreakResetByOtherProduct(t *testing.T) {
	h := New()
	got := make(chan bool, 1)
	go func() {
		_, ok := h.WaitForConsecutive("x", 3)
		got <- ok
	}()
	waitPending(t, h, 1)

	h.RegisterSale("x")
	h.RegisterSale("x")
	h.RegisterSale("y")
	h.RegisterSale("x")
	h.RegisterSale("x")
	require.Equal(t, 1, h.Pending())
	h.RegisterSale("x")
	require.True(t, <-got)
}

func TestConsecutiveMatchNotLostWhenStreakBreaks(t *testing.T) {
	h := New()
	got := make(chan bool, 1)
	go func() {
		_, ok := h.WaitForConsecutive("x", 2)
		got <- ok
	}()
	waitPending(t, h, 1)

	// The streak is broken right after reaching the threshold and a day
	// boundary follows; the waiter still reports the match.
	h.RegisterSale("x")
	h.RegisterSale("x")
	h.RegisterSale("y")
	h.StartNewDay()
	require.True(t, <-got)
}

func TestConsecutivePerCallThreshold(t *testing.T) {
	h := New()
	low := make(chan bool, 1)
	high := make(chan bool, 1)
	go func() { _, ok := h.WaitForConsecutive("x", 1); low <- ok }()
	go func() { _, ok := h.WaitForConsecutive("x", 3); high <- ok }()
	waitPending(t, h, 2)

	h.RegisterSale("x")
	require.True(t, <-low)
	require.Equal(t, 1, h.Pending())

	h.StartNewDay()
	require.False(t, <-high)
	require.Zero(t, h.Pending())
}

func TestConsecutiveExpiredReturnsEmpty(t *testing.T) {
	h := New()
	type result struct {
		p  string
		ok bool
	}
	got := make(chan result, 1)
	go func() {
		p, ok := h.WaitForConsecutive("x", 5)
		got <- result{p, ok}
	}()
	waitPending(t, h, 1)
	h.StartNewDay()
	r := <-got
	require.False(t, r.ok)
	require.Empty(t, r.p)
}

func TestWaitContextCancelRemovesSubscription(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 2)
	go func() {
		_, err := h.WaitForSimultaneousContext(ctx, "a", "b")
		errs <- err
	}()
	go func() {
		_, _, err := h.WaitForConsecutiveContext(ctx, "x", 2)
		errs <- err
	}()
	waitPending(t, h, 2)

	cancel()
	require.ErrorIs(t, <-errs, context.Canceled)
	require.ErrorIs(t, <-errs, context.Canceled)
	require.Zero(t, h.Pending())
}

func TestNewDayClearsStreak(t *testing.T) {
	h := New()
	h.RegisterSale("x")
	h.RegisterSale("x")
	h.StartNewDay()

	got := make(chan bool, 1)
	go func() { _, ok := h.WaitForConsecutive("x", 2); got <- ok }()
	waitPending(t, h, 1)
	h.RegisterSale("x")
	require.Equal(t, 1, h.Pending())
	h.RegisterSale("x")
	require.True(t, <-got)
}

func TestOutcomeString(t *testing.T) {
	require.Equal(t, "matched", Matched.String())
	require.Equal(t, "day_ended", DayEnded.String())
	require.Equal(t, "unknown", Outcome(0).String())
}
