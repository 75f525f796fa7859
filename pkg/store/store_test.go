package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/daviddao/salesd/pkg/clock"
	"github.com/daviddao/salesd/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("New(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSeries(day clock.Day, current bool, sales ...model.SalesEvent) *model.TimeSeries {
	ts := model.NewTimeSeries(day, current)
	for _, e := range sales {
		ts.Append(e)
	}
	return ts
}

func testSale(product string, qty int32, price float64) model.SalesEvent {
	return model.SalesEvent{Product: product, Quantity: qty, Price: price, At: time.Unix(1700000000, 42).UTC()}
}

// --- Series tests ---

func TestSaveAndLoadSeries(t *testing.T) {
	s := newTestStore(t)
	day := clock.Day(20000)
	in := testSeries(day, false, testSale("apple", 2, 1.5), testSale("pear", 1, 3))

	if err := s.SaveSeries(day, in); err != nil {
		t.Fatalf("SaveSeries: %v", err)
	}
	out, err := s.LoadSeries(day)
	if err != nil {
		t.Fatalf("LoadSeries: %v", err)
	}
	if out.Day() != day {
		t.Fatalf("day = %s, want %s", out.Day(), day)
	}
	if out.Quantity("apple") != 2 || out.Quantity("pear") != 1 {
		t.Fatalf("quantities = %d/%d, want 2/1", out.Quantity("apple"), out.Quantity("pear"))
	}
	if out.IsCurrentDay() {
		t.Fatal("loaded series should keep current=false")
	}
}

func TestLoadSeries_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadSeries(clock.Day(5))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveSeries_Overwrites(t *testing.T) {
	s := newTestStore(t)
	day := clock.Day(10)
	if err := s.SaveSeries(day, testSeries(day, true, testSale("apple", 1, 1))); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSeries(day, testSeries(day, false, testSale("apple", 1, 1), testSale("apple", 4, 1))); err != nil {
		t.Fatal(err)
	}
	out, err := s.LoadSeries(day)
	if err != nil {
		t.Fatal(err)
	}
	if out.Quantity("apple") != 5 {
		t.Fatalf("quantity = %d, want 5 after overwrite", out.Quantity("apple"))
	}
	if out.IsCurrentDay() {
		t.Fatal("overwrite should replace the current flag")
	}
}

func TestCountHistoricalDays_ExcludesCurrent(t *testing.T) {
	s := newTestStore(t)
	if n, err := s.CountHistoricalDays(); err != nil || n != 0 {
		t.Fatalf("empty store: n=%d err=%v, want 0", n, err)
	}
	for d := clock.Day(1); d <= 3; d++ {
		if err := s.SaveSeries(d, testSeries(d, false)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SaveSeries(4, testSeries(4, true)); err != nil {
		t.Fatal(err)
	}
	n, err := s.CountHistoricalDays()
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("CountHistoricalDays = %d, want 3", n)
	}
}

func TestLastSavedDay(t *testing.T) {
	s := newTestStore(t)
	if _, ok, err := s.LastSavedDay(); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v, want no day", ok, err)
	}
	for _, d := range []clock.Day{7, 3, 9, 5} {
		if err := s.SaveSeries(d, testSeries(d, false)); err != nil {
			t.Fatal(err)
		}
	}
	day, ok, err := s.LastSavedDay()
	if err != nil || !ok {
		t.Fatalf("LastSavedDay: ok=%v err=%v", ok, err)
	}
	if day != 9 {
		t.Fatalf("LastSavedDay = %s, want day 9", day)
	}
}

func TestSaveSeries_Concurrent(t *testing.T) {
	s := newTestStore(t)
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(d clock.Day) {
			defer wg.Done()
			if err := s.SaveSeries(d, testSeries(d, false, testSale(fmt.Sprintf("p%d", d), 1, 1))); err != nil {
				errs <- err
			}
		}(clock.Day(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent SaveSeries: %v", err)
	}
	n, err := s.CountHistoricalDays()
	if err != nil {
		t.Fatal(err)
	}
	if n != 20 {
		t.Fatalf("CountHistoricalDays = %d, want 20", n)
	}
}

// --- User tests ---

func TestRegisterUser(t *testing.T) {
	s := newTestStore(t)
	ok, err := s.Register("alice", "secret")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !ok {
		t.Fatal("first Register should succeed")
	}
	if ok, err := s.Authenticate("alice", "secret"); err != nil || !ok {
		t.Fatalf("Authenticate after Register: ok=%v err=%v", ok, err)
	}
}

func TestRegisterUser_Duplicate(t *testing.T) {
	s := newTestStore(t)
	if ok, err := s.Register("alice", "a"); err != nil || !ok {
		t.Fatalf("first Register: ok=%v err=%v", ok, err)
	}
	ok, err := s.Register("alice", "b")
	if err != nil {
		t.Fatalf("second Register: %v", err)
	}
	if ok {
		t.Fatal("duplicate Register should return false")
	}
	// The first password survives.
	if ok, _ := s.Authenticate("alice", "a"); !ok {
		t.Fatal("first password should still authenticate")
	}
}

func TestAuthenticate(t *testing.T) {
	s := newTestStore(t)
	s.Register("alice", "secret")

	tests := []struct {
		name, user, pass string
		want             bool
	}{
		{"correct", "alice", "secret", true},
		{"wrong password", "alice", "guess", false},
		{"unknown user", "bob", "secret", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Authenticate(tt.user, tt.pass)
			if err != nil {
				t.Fatalf("Authenticate: %v", err)
			}
			if got != tt.want {
				t.Errorf("Authenticate(%q, %q) = %v, want %v", tt.user, tt.pass, got, tt.want)
			}
		})
	}
}

func TestPersistAll_SurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	s.Register("alice", "secret")
	s.SaveSeries(1, testSeries(1, false, testSale("apple", 3, 2)))
	if err := s.PersistAll(); err != nil {
		t.Fatalf("PersistAll: %v", err)
	}
	s.Close()

	s2, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if ok, _ := s2.Authenticate("alice", "secret"); !ok {
		t.Fatal("user lost across reopen")
	}
	ts, err := s2.LoadSeries(1)
	if err != nil {
		t.Fatal(err)
	}
	if ts.Quantity("apple") != 3 {
		t.Fatalf("quantity = %d, want 3", ts.Quantity("apple"))
	}
}

func TestBoolToInt(t *testing.T) {
	if boolToInt(true) != 1 || boolToInt(false) != 0 {
		t.Fatal("boolToInt mismatch")
	}
}
