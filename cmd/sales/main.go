// Command sales is the salesd client CLI: one subcommand per server
// operation, plus a stress benchmark.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Println("sales", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	a, err := newApp(ctx)
	if err != nil {
		stop()
		fatal("%v", err)
	}

	os.Exit(func() int {
		defer stop()
		return a.run(os.Args[1], os.Args[2:])
	}())
}

// run dispatches one subcommand and returns its exit code.
func (a *app) run(name string, args []string) int {
	switch name {
	// Accounts
	case "register":
		return a.cmdRegister(args)

	// Sales
	case "add":
		return a.cmdAdd(args)
	case "newday":
		return a.cmdNewDay(args)

	// Queries
	case "quantity", "qty":
		return a.cmdAggregate(aggQuantity, args)
	case "volume", "vol":
		return a.cmdAggregate(aggVolume, args)
	case "avg", "average":
		return a.cmdAggregate(aggAverage, args)
	case "max":
		return a.cmdAggregate(aggMax, args)
	case "filter":
		return a.cmdFilter(args)

	// Notifications
	case "simul":
		return a.cmdSimul(args)
	case "consec":
		return a.cmdConsec(args)

	// Benchmarks
	case "stress":
		return a.cmdStress(args)

	default:
		fmt.Fprintf(os.Stderr, "sales: unknown command %q\n", name)
		fmt.Fprintln(os.Stderr, "Run 'sales --help' for usage.")
		return 1
	}
}

func printUsage() {
	fmt.Print(`sales — client for the salesd sales-tracking server

Usage:
  sales <command> [flags]

Accounts:
  register                     Create an account (--user/--pass)

Sales:
  add <product> <qty> <price>  Record a sale on the current day
  newday                       Close the current day

Queries (completed days only, today is never included):
  quantity <product> <days>    Units sold over the last N days
  volume <product> <days>      Sales value over the last N days
  avg <product> <days>         Mean unit price over the last N days
  max <product> <days>         Highest unit price over the last N days
  filter <daysBack> <p1,p2>    Sales of the given products on one past day

Notifications (block until the pattern occurs or the day ends):
  simul <p1> <p2>              Both products sold today
  consec <product> <n>         Product sold n times in a row

Benchmarks:
  stress [--workers N]         Concurrent add/query throughput

Aliases:
  qty = quantity, vol = volume, average = avg

Environment:
  SALES_ADDR   Server address (default: localhost:12345)
  SALES_USER   Default user (avoids passing --user every time)
  SALES_PASS   Default password

All commands support --json for machine-readable output.
All commands support --user and --pass to override the environment.

Exit codes:
  0  success
  1  error
  2  negative outcome (login refused, name taken, wait expired)
`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "sales: "+format+"\n", args...)
	os.Exit(1)
}
