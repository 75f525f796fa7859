package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"

	"github.com/daviddao/salesd/pkg/client"
)

// stressReport summarises one stress run.
type stressReport struct {
	Workers     int     `json:"workers"`
	Requests    int64   `json:"requests"`
	Failed      int64   `json:"failed"`
	Days        int     `json:"days"`
	ElapsedMS   float64 `json:"elapsed_ms"`
	PerSecond   float64 `json:"per_second"`
	MeanLatency float64 `json:"mean_latency_ms"`
}

func (a *app) cmdStress(args []string) int {
	flags, cf := newFlagSet("stress")
	workers := flags.Int("workers", 8, "concurrent connections")
	requests := flags.Int("requests", 1000, "total requests in the load phase")
	perSec := flags.Float64("rate", 0, "request rate limit per second (0 = unlimited)")
	products := flags.Int("products", 10, "distinct product names")
	days := flags.Int("days", 0, "days to fill and close before the load phase")
	if _, err := parseArgs(flags, args); err != nil {
		return 1
	}
	if *workers < 1 || *requests < 0 || *products < 1 || *days < 0 || *perSec < 0 {
		fmt.Fprintln(os.Stderr, "sales: stress: workers and products must be ≥ 1, other values ≥ 0")
		return 1
	}

	clients := make(chan *client.Client, *workers)
	defer func() {
		close(clients)
		for c := range clients {
			c.Close()
		}
	}()
	for i := 0; i < *workers; i++ {
		c, err := a.connect(cf, true)
		if err != nil {
			return fail("stress", err)
		}
		clients <- c
	}

	product := func() string { return fmt.Sprintf("product-%d", rand.IntN(*products)) }

	// Persistence phase: a few sales per day, then roll over, so the
	// server's cache has to evict and reload history.
	if *days > 0 {
		c := <-clients
		for d := 0; d < *days; d++ {
			for i := 0; i < *products; i++ {
				if err := c.AddEvent(a.ctx, product(), int32(1+rand.IntN(5)), 1+rand.Float64()*9); err != nil {
					clients <- c
					return fail("stress", err)
				}
			}
			if err := c.NewDay(a.ctx); err != nil {
				clients <- c
				return fail("stress", err)
			}
		}
		clients <- c
	}

	limit := rate.Inf
	if *perSec > 0 {
		limit = rate.Limit(*perSec)
	}
	lim := rate.NewLimiter(limit, *workers)

	var done, failed, latencyNS atomic.Int64
	lookback := int32(*days)
	if lookback < 1 {
		lookback = 1
	}

	start := time.Now()
	p := pool.New().WithMaxGoroutines(*workers).WithContext(a.ctx)
	for i := 0; i < *requests; i++ {
		write := i%2 == 0
		p.Go(func(ctx context.Context) error {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
			c := <-clients
			defer func() { clients <- c }()

			t0 := time.Now()
			var err error
			if write {
				err = c.AddEvent(ctx, product(), int32(1+rand.IntN(5)), 1+rand.Float64()*9)
			} else {
				_, err = c.Quantity(ctx, product(), lookback)
			}
			latencyNS.Add(int64(time.Since(t0)))
			done.Add(1)
			if err != nil {
				failed.Add(1)
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return fail("stress", err)
	}
	elapsed := time.Since(start)

	r := stressReport{
		Workers:   *workers,
		Requests:  done.Load(),
		Failed:    failed.Load(),
		Days:      *days,
		ElapsedMS: float64(elapsed) / float64(time.Millisecond),
	}
	if elapsed > 0 {
		r.PerSecond = float64(r.Requests) / elapsed.Seconds()
	}
	if r.Requests > 0 {
		r.MeanLatency = float64(latencyNS.Load()) / float64(r.Requests) / float64(time.Millisecond)
	}

	if *cf.jsonOut {
		printJSON(r)
	} else {
		fmt.Printf("%d requests (%d failed) over %d workers in %.1fms\n", r.Requests, r.Failed, r.Workers, r.ElapsedMS)
		fmt.Printf("throughput: %.0f req/s, mean latency: %.3fms\n", r.PerSecond, r.MeanLatency)
	}
	if r.Failed > 0 {
		return 1
	}
	return 0
}
