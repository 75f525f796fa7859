package clock

import (
	"testing"
	"time"
)

func TestTickMonotonicallyIncreases(t *testing.T) {
	var e Epoch
	prev := e.Value()
	for i := 0; i < 100; i++ {
		v := e.Tick()
		if v <= prev {
			t.Fatalf("Tick %d: got %d, want > %d", i, v, prev)
		}
		prev = v
	}
}

func TestTickStartsFromZero(t *testing.T) {
	var e Epoch
	if v := e.Value(); v != 0 {
		t.Fatalf("new epoch: got %d, want 0", v)
	}
	if v := e.Tick(); v != 1 {
		t.Fatalf("first Tick: got %d, want 1", v)
	}
}

func TestParseDayRoundTrip(t *testing.T) {
	for _, s := range []string{"1970-01-01", "2024-02-29", "2026-10-14", "1999-12-31"} {
		d, err := ParseDay(s)
		if err != nil {
			t.Fatalf("ParseDay(%q): %v", s, err)
		}
		if got := d.String(); got != s {
			t.Fatalf("ParseDay(%q).String() = %q", s, got)
		}
	}
}

func TestParseDayInvalid(t *testing.T) {
	if _, err := ParseDay("2024-13-01"); err == nil {
		t.Fatal("expected error for month 13")
	}
}

func TestEpochDayZero(t *testing.T) {
	d, _ := ParseDay("1970-01-01")
	if d != 0 {
		t.Fatalf("1970-01-01 = %d, want 0", d)
	}
}

func TestAddDaysCrossesMonth(t *testing.T) {
	d, _ := ParseDay("2024-02-28")
	if got := d.AddDays(1).String(); got != "2024-02-29" {
		t.Fatalf("AddDays(1) = %s, want 2024-02-29", got)
	}
	if got := d.AddDays(2).String(); got != "2024-03-01" {
		t.Fatalf("AddDays(2) = %s, want 2024-03-01", got)
	}
	if got := d.AddDays(-28).String(); got != "2024-01-31" {
		t.Fatalf("AddDays(-28) = %s, want 2024-01-31", got)
	}
}

func TestOrdering(t *testing.T) {
	a, _ := ParseDay("2024-05-01")
	b := a.AddDays(3)
	if !a.Before(b) || a.After(b) {
		t.Fatal("a should be before b")
	}
	if !b.After(a) || b.Before(a) {
		t.Fatal("b should be after a")
	}
	if a.Before(a) || a.After(a) {
		t.Fatal("a day is neither before nor after itself")
	}
	if b.Sub(a) != 3 || a.Sub(b) != -3 {
		t.Fatalf("Sub: got %d/%d, want 3/-3", b.Sub(a), a.Sub(b))
	}
}

func TestDayOfIgnoresTimeOfDay(t *testing.T) {
	morning := time.Date(2025, 6, 1, 0, 0, 1, 0, time.UTC)
	night := time.Date(2025, 6, 1, 23, 59, 59, 999, time.UTC)
	if DayOf(morning) != DayOf(night) {
		t.Fatal("same calendar day should map to the same Day")
	}
}

func TestAtKeepsTimeOfDay(t *testing.T) {
	d, _ := ParseDay("2030-01-15")
	wall := time.Date(2025, 6, 1, 13, 45, 7, 123, time.UTC)
	got := d.At(wall)
	want := time.Date(2030, 1, 15, 13, 45, 7, 123, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("At = %v, want %v", got, want)
	}
	if DayOf(got) != d {
		t.Fatal("At result should fall on d")
	}
}
