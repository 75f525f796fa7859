package main

import (
	"fmt"
	"os"
	"strconv"
)

func (a *app) cmdAdd(args []string) int {
	flags, cf := newFlagSet("add")
	pos, err := parseArgs(flags, args)
	if err != nil {
		return 1
	}
	if len(pos) != 3 {
		fmt.Fprintln(os.Stderr, "usage: sales add <product> <qty> <price> [--json]")
		return 1
	}
	qty, err := strconv.ParseInt(pos[1], 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sales: add: invalid quantity %q\n", pos[1])
		return 1
	}
	price, err := strconv.ParseFloat(pos[2], 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sales: add: invalid price %q\n", pos[2])
		return 1
	}

	c, err := a.connect(cf, true)
	if err != nil {
		return fail("add", err)
	}
	defer c.Close()

	if err := c.AddEvent(a.ctx, pos[0], int32(qty), price); err != nil {
		return fail("add", err)
	}
	if *cf.jsonOut {
		printJSON(map[string]interface{}{"product": pos[0], "quantity": qty, "price": price})
	} else {
		fmt.Printf("recorded %d × %s at %.2f\n", qty, pos[0], price)
	}
	return 0
}

func (a *app) cmdNewDay(args []string) int {
	flags, cf := newFlagSet("newday")
	if _, err := parseArgs(flags, args); err != nil {
		return 1
	}
	c, err := a.connect(cf, true)
	if err != nil {
		return fail("newday", err)
	}
	defer c.Close()

	if err := c.NewDay(a.ctx); err != nil {
		return fail("newday", err)
	}
	if *cf.jsonOut {
		printJSON(map[string]interface{}{"new_day": true})
	} else {
		fmt.Println("new day started")
	}
	return 0
}
