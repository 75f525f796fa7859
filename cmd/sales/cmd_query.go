package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/daviddao/salesd/pkg/model"
)

func (a *app) cmdAggregate(kind model.AggregationType, args []string) int {
	name := kind.String()
	flags, cf := newFlagSet(name)
	pos, err := parseArgs(flags, args)
	if err != nil {
		return 1
	}
	if len(pos) != 2 {
		fmt.Fprintf(os.Stderr, "usage: sales %s <product> <days> [--json]\n", name)
		return 1
	}
	days, err := strconv.ParseInt(pos[1], 10, 32)
	if err != nil || days < 0 {
		fmt.Fprintf(os.Stderr, "sales: %s: invalid day count %q\n", name, pos[1])
		return 1
	}

	c, err := a.connect(cf, true)
	if err != nil {
		return fail(name, err)
	}
	defer c.Close()

	v, err := c.Aggregate(a.ctx, kind, pos[0], int32(days))
	if err != nil {
		return fail(name, err)
	}
	if *cf.jsonOut {
		printJSON(map[string]interface{}{"aggregation": name, "product": pos[0], "days": days, "value": v})
	} else {
		fmt.Printf("%s of %s over %d day(s): %s\n", name, pos[0], days, strconv.FormatFloat(v, 'f', -1, 64))
	}
	return 0
}

func (a *app) cmdFilter(args []string) int {
	flags, cf := newFlagSet("filter")
	pos, err := parseArgs(flags, args)
	if err != nil {
		return 1
	}
	if len(pos) != 2 {
		fmt.Fprintln(os.Stderr, "usage: sales filter <daysBack> <p1,p2,...> [--json]")
		return 1
	}
	daysBack, err := strconv.ParseInt(pos[0], 10, 32)
	if err != nil || daysBack < 1 {
		fmt.Fprintf(os.Stderr, "sales: filter: invalid daysBack %q (must be ≥ 1)\n", pos[0])
		return 1
	}
	products := splitProducts(pos[1])
	if len(products) == 0 {
		fmt.Fprintln(os.Stderr, "sales: filter: no products given")
		return 1
	}

	c, err := a.connect(cf, true)
	if err != nil {
		return fail("filter", err)
	}
	defer c.Close()

	events, err := c.FilterEvents(a.ctx, int32(daysBack), products)
	if err != nil {
		return fail("filter", err)
	}
	if *cf.jsonOut {
		if events == nil {
			events = []model.SalesEvent{}
		}
		printJSON(events)
		return 0
	}
	if len(events) == 0 {
		fmt.Println("no matching sales")
		return 0
	}
	for _, e := range events {
		fmt.Printf("%s  %-20s %6d × %.2f\n", e.At.Format("15:04:05"), e.Product, e.Quantity, e.Price)
	}
	return 0
}
