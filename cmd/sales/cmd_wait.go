package main

import (
	"fmt"
	"os"
	"strconv"
)

func (a *app) cmdSimul(args []string) int {
	flags, cf := newFlagSet("simul")
	pos, err := parseArgs(flags, args)
	if err != nil {
		return 1
	}
	if len(pos) != 2 {
		fmt.Fprintln(os.Stderr, "usage: sales simul <p1> <p2> [--json]")
		return 1
	}

	c, err := a.connect(cf, true)
	if err != nil {
		return fail("simul", err)
	}
	defer c.Close()

	fmt.Fprintf(os.Stderr, "waiting until %s and %s are both sold today (ctrl-c to stop)\n", pos[0], pos[1])
	ok, err := c.WaitSimultaneous(a.ctx, pos[0], pos[1])
	if err != nil {
		return fail("simul", err)
	}
	if *cf.jsonOut {
		printJSON(map[string]interface{}{"products": pos, "matched": ok})
	} else if ok {
		fmt.Printf("%s and %s were both sold today\n", pos[0], pos[1])
	} else {
		fmt.Println("day ended before both were sold")
	}
	if !ok {
		return 2
	}
	return 0
}

func (a *app) cmdConsec(args []string) int {
	flags, cf := newFlagSet("consec")
	pos, err := parseArgs(flags, args)
	if err != nil {
		return 1
	}
	if len(pos) != 2 {
		fmt.Fprintln(os.Stderr, "usage: sales consec <product> <n> [--json]")
		return 1
	}
	n, err := strconv.ParseInt(pos[1], 10, 32)
	if err != nil || n < 1 {
		fmt.Fprintf(os.Stderr, "sales: consec: invalid count %q\n", pos[1])
		return 1
	}

	c, err := a.connect(cf, true)
	if err != nil {
		return fail("consec", err)
	}
	defer c.Close()

	fmt.Fprintf(os.Stderr, "waiting for %d consecutive sales of %s (ctrl-c to stop)\n", n, pos[0])
	product, ok, err := c.WaitConsecutive(a.ctx, pos[0], int32(n))
	if err != nil {
		return fail("consec", err)
	}
	if *cf.jsonOut {
		printJSON(map[string]interface{}{"product": product, "n": n, "matched": ok})
	} else if ok {
		fmt.Printf("%s sold %d times in a row\n", product, n)
	} else {
		fmt.Println("day ended before the streak was reached")
	}
	if !ok {
		return 2
	}
	return 0
}
