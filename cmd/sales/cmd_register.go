package main

import (
	"fmt"
	"os"
)

func (a *app) cmdRegister(args []string) int {
	flags, cf := newFlagSet("register")
	if _, err := parseArgs(flags, args); err != nil {
		return 1
	}
	user, pass, err := a.resolveCreds(cf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sales: %v\n", err)
		return 1
	}

	c, err := a.connect(cf, false)
	if err != nil {
		return fail("register", err)
	}
	defer c.Close()

	ok, err := c.Register(a.ctx, user, pass)
	if err != nil {
		return fail("register", err)
	}

	if *cf.jsonOut {
		printJSON(map[string]interface{}{"user": user, "registered": ok})
	} else if ok {
		fmt.Printf("registered user %q\n", user)
		fmt.Fprintf(os.Stderr, "hint: export SALES_USER=%s\n", user)
	} else {
		fmt.Printf("user %q already exists\n", user)
	}
	if !ok {
		return 2
	}
	return 0
}
