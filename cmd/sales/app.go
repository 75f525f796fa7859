package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/daviddao/salesd/pkg/client"
	"github.com/daviddao/salesd/pkg/model"
)

const defaultAddr = "localhost:12345"

const (
	aggQuantity = model.AggQuantity
	aggVolume   = model.AggVolume
	aggAverage  = model.AggAverage
	aggMax      = model.AggMax
)

// errLoginRefused marks a login the server answered with false.
var errLoginRefused = errors.New("login refused")

// app holds shared state for all CLI subcommands.
type app struct {
	ctx  context.Context
	addr string
	user string // default user from SALES_USER
	pass string // default password from SALES_PASS
	opts []client.Option
}

// newApp resolves the server address and default credentials.
func newApp(ctx context.Context) (*app, error) {
	addr := strings.TrimSpace(envOr("SALES_ADDR", defaultAddr))
	if addr == "" {
		return nil, fmt.Errorf("empty server address")
	}
	return &app{
		ctx:  ctx,
		addr: addr,
		user: envOr("SALES_USER", ""),
		pass: envOr("SALES_PASS", ""),
	}, nil
}

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	user    *string
	pass    *string
	jsonOut *bool
}

func newFlagSet(name string) (*flag.FlagSet, commonFlags) {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	return flags, commonFlags{
		user:    flags.String("user", "", "user name (default $SALES_USER)"),
		pass:    flags.String("pass", "", "password (default $SALES_PASS)"),
		jsonOut: flags.Bool("json", false, "JSON output"),
	}
}

// resolveCreds returns the credentials from the flags (if non-empty),
// falling back to the environment defaults.
func (a *app) resolveCreds(cf commonFlags) (string, string, error) {
	user, pass := *cf.user, *cf.pass
	if user == "" {
		user = a.user
	}
	if pass == "" {
		pass = a.pass
	}
	if user == "" {
		return "", "", fmt.Errorf("no user: pass --user or set SALES_USER")
	}
	return user, pass, nil
}

// connect dials the server and, when login is set, authenticates.
func (a *app) connect(cf commonFlags, login bool) (*client.Client, error) {
	user, pass, err := a.resolveCreds(cf)
	if err != nil {
		return nil, err
	}
	c, err := client.Dial(a.ctx, a.addr, a.opts...)
	if err != nil {
		return nil, err
	}
	if !login {
		return c, nil
	}
	ok, err := c.Login(a.ctx, user, pass)
	if err != nil {
		c.Close()
		return nil, err
	}
	if !ok {
		c.Close()
		return nil, fmt.Errorf("%w for %q", errLoginRefused, user)
	}
	return c, nil
}

// fail reports err on stderr and maps it to an exit code.
func fail(cmd string, err error) int {
	fmt.Fprintf(os.Stderr, "sales: %s: %v\n", cmd, err)
	if errors.Is(err, errLoginRefused) {
		return 2
	}
	return 1
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "sales: json: %v\n", err)
		return
	}
	os.Stdout.Write(append(b, '\n'))
}

// splitProducts parses a comma-separated product list.
func splitProducts(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseArgs parses flags that may appear before, between or after the
// positional arguments, and returns the positionals in order.
func parseArgs(flags *flag.FlagSet, args []string) ([]string, error) {
	var pos []string
	for {
		if err := flags.Parse(args); err != nil {
			return nil, err
		}
		args = flags.Args()
		if len(args) == 0 {
			return pos, nil
		}
		pos = append(pos, args[0])
		args = args[1:]
	}
}
