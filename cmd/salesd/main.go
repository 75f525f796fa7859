// Command salesd runs the sales-tracking server.
//
//	salesd [-config FILE] [-addr ADDR] [-db PATH] [-cache-size S] [S [PORT]]
//
// Settings are taken from the defaults, then the YAML config file, then
// SALESD_* environment variables, then flags and positionals.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/daviddao/salesd/pkg/cache"
	"github.com/daviddao/salesd/pkg/clock"
	"github.com/daviddao/salesd/pkg/config"
	"github.com/daviddao/salesd/pkg/notify"
	"github.com/daviddao/salesd/pkg/server"
	"github.com/daviddao/salesd/pkg/state"
	"github.com/daviddao/salesd/pkg/store"
	"github.com/daviddao/salesd/pkg/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	cfg, err := parseConfig(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "salesd: %v\n", err)
		return 1
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		fmt.Fprintf(stderr, "salesd: listen: %v\n", err)
		return 1
	}
	if err := serve(ctx, cfg, ln, stderr); err != nil {
		fmt.Fprintf(stderr, "salesd: %v\n", err)
		return 1
	}
	return 0
}

// parseConfig layers flags and positionals over the file and environment.
func parseConfig(args []string, stderr io.Writer) (config.Config, error) {
	flags := flag.NewFlagSet("salesd", flag.ContinueOnError)
	flags.SetOutput(stderr)
	cfgPath := flags.String("config", os.Getenv("SALESD_CONFIG"), "YAML config file")
	addr := flags.String("addr", "", "listen address")
	db := flags.String("db", "", "SQLite database path")
	cacheSize := flags.Int("cache-size", 0, "days of history kept in memory (S)")
	flags.Usage = func() {
		fmt.Fprintln(stderr, "usage: salesd [flags] [cache_size_S [port]]")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg, loaded, err := config.Load(*cfgPath)
	if err != nil {
		return config.Config{}, err
	}
	if !loaded && *cfgPath != "" {
		fmt.Fprintf(stderr, "salesd: config %s not found, using defaults\n", *cfgPath)
	}
	if cfg, err = config.FromEnv(cfg); err != nil {
		return config.Config{}, err
	}

	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "db":
			cfg.DataPath = *db
		case "cache-size":
			cfg.CacheSize = *cacheSize
		}
	})

	pos := flags.Args()
	if len(pos) > 2 {
		return config.Config{}, fmt.Errorf("too many arguments: %v", pos)
	}
	if len(pos) >= 1 {
		n, err := strconv.Atoi(pos[0])
		if err != nil {
			return config.Config{}, fmt.Errorf("invalid cache size %q", pos[0])
		}
		cfg.CacheSize = n
	}
	if len(pos) == 2 {
		if cfg.Addr, err = config.PortAddr(pos[1]); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, cfg.Validate()
}

// resumeDay picks the day the session continues from. A saved current day
// is reopened; a saved closed day is followed by the next one. Without any
// saved day the wall-clock date is used.
func resumeDay(st store.SeriesStore, wall clock.Day) (clock.Day, error) {
	last, ok, err := st.LastSavedDay()
	if err != nil {
		return 0, err
	}
	if !ok {
		return wall, nil
	}
	series, err := st.LoadSeries(last)
	if err != nil {
		return 0, err
	}
	if series.IsCurrentDay() {
		return last, nil
	}
	return last.AddDays(1), nil
}

// serve runs the server on ln until ctx ends, then persists everything.
func serve(ctx context.Context, cfg config.Config, ln net.Listener, out io.Writer) error {
	newLogger := func(component string) *log.Logger {
		return log.New(out, cfg.LogPrefix+" "+component+": ", log.LstdFlags)
	}
	logger := newLogger("main")

	tp, err := telemetry.New(ctx, telemetry.Config{
		Endpoint: cfg.MetricsEndpoint,
		Insecure: strings.HasPrefix(cfg.MetricsEndpoint, "http://"),
		Interval: cfg.MetricsInterval,
	})
	if err != nil {
		ln.Close()
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Printf("telemetry: %v", err)
		}
	}()

	st, err := store.New(cfg.DataPath)
	if err != nil {
		ln.Close()
		return err
	}
	defer st.Close()

	maxDays, err := st.CountHistoricalDays()
	if err != nil {
		ln.Close()
		return err
	}
	wall := clock.Today()
	today, err := resumeDay(st, wall)
	if err != nil {
		ln.Close()
		return err
	}
	if lag := wall.Sub(today); lag > 0 {
		logger.Printf("resuming %s, %d day(s) behind the wall clock", today, lag)
	}
	if cfg.CacheSize >= maxDays && maxDays > 0 {
		logger.Printf("warning: cache size %d covers all %d stored days", cfg.CacheSize, maxDays)
	}

	c, err := cache.New(st, cfg.CacheSize, newLogger("cache"))
	if err != nil {
		ln.Close()
		return err
	}
	if tp.Enabled() {
		logger.Printf("exporting metrics to %s every %s", cfg.MetricsEndpoint, cfg.MetricsInterval)
	}
	hub := notify.New()
	ss, err := state.New(hub, c, maxDays, today, newLogger("state"))
	if err != nil {
		ln.Close()
		return err
	}
	srv := server.New(ss, hub, st, newLogger("server"))
	logger.Printf("today is %s, %d days of history, cache size %d", today, maxDays, cfg.CacheSize)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		logger.Printf("shutting down")
		var timeout <-chan time.Time
		if cfg.ShutdownTimeout > 0 {
			timer := time.NewTimer(cfg.ShutdownTimeout)
			defer timer.Stop()
			timeout = timer.C
		}
		select {
		case err = <-done:
		case <-timeout:
			logger.Printf("connections still open after %s, persisting anyway", cfg.ShutdownTimeout)
		}
	}
	if err != nil {
		logger.Printf("serve: %v", err)
	}

	cs := c.Stats()
	logger.Printf("cache: capacity %d, %d resident, %d dirty, %d hits, %d misses, %d evictions, %d write-backs (%d failed)",
		c.Capacity(), cs.Resident, cs.Dirty, cs.Hits, cs.Misses, cs.Evictions, cs.WriteBacks, cs.FailedWriteBacks)
	if cerr := c.Clear(); cerr != nil {
		logger.Printf("persist cache: %v", cerr)
	}
	if perr := st.PersistAll(); perr != nil {
		logger.Printf("persist store: %v", perr)
	}
	logger.Printf("stopped")
	return err
}
