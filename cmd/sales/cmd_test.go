package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/daviddao/salesd/pkg/cache"
	"github.com/daviddao/salesd/pkg/client"
	"github.com/daviddao/salesd/pkg/clock"
	"github.com/daviddao/salesd/pkg/notify"
	"github.com/daviddao/salesd/pkg/server"
	"github.com/daviddao/salesd/pkg/state"
	"github.com/daviddao/salesd/pkg/store"
)

// --- envOr tests ---

func TestEnvOr_EnvSet(t *testing.T) {
	t.Setenv("TEST_SALES_ENV", "hello")
	if got := envOr("TEST_SALES_ENV", "default"); got != "hello" {
		t.Fatalf("envOr with set env: got %q, want %q", got, "hello")
	}
}

func TestEnvOr_EnvUnset(t *testing.T) {
	if got := envOr("TEST_SALES_UNSET_KEY_XYZ", "fallback"); got != "fallback" {
		t.Fatalf("envOr with unset env: got %q, want %q", got, "fallback")
	}
}

func TestEnvOr_EmptyEnv(t *testing.T) {
	t.Setenv("TEST_SALES_EMPTY", "")
	if got := envOr("TEST_SALES_EMPTY", "default"); got != "default" {
		t.Fatalf("envOr with empty env: got %q, want %q", got, "default")
	}
}

// --- resolveCreds tests ---

func TestResolveCreds_FlagValue(t *testing.T) {
	a := &app{user: "env-user", pass: "env-pass"}
	_, cf := newFlagSet("x")
	*cf.user, *cf.pass = "flag-user", "flag-pass"
	user, pass, err := a.resolveCreds(cf)
	if err != nil || user != "flag-user" || pass != "flag-pass" {
		t.Fatalf("resolveCreds with flags: got %q/%q, err=%v", user, pass, err)
	}
}

func TestResolveCreds_EnvFallback(t *testing.T) {
	a := &app{user: "env-user", pass: "env-pass"}
	_, cf := newFlagSet("x")
	user, pass, err := a.resolveCreds(cf)
	if err != nil || user != "env-user" || pass != "env-pass" {
		t.Fatalf("resolveCreds fallback: got %q/%q, err=%v", user, pass, err)
	}
}

func TestResolveCreds_NoUser(t *testing.T) {
	a := &app{}
	_, cf := newFlagSet("x")
	if _, _, err := a.resolveCreds(cf); err == nil {
		t.Fatal("resolveCreds with no user should fail")
	}
}

func TestNewApp_AddrFromEnv(t *testing.T) {
	t.Setenv("SALES_ADDR", "example:1")
	t.Setenv("SALES_USER", "bob")
	a, err := newApp(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if a.addr != "example:1" || a.user != "bob" {
		t.Fatalf("newApp: got addr=%q user=%q", a.addr, a.user)
	}
}

// --- splitProducts / parseArgs tests ---

func TestSplitProducts(t *testing.T) {
	got := splitProducts(" apple, ,pear,,plum ")
	want := []string{"apple", "pear", "plum"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("splitProducts: got %v, want %v", got, want)
	}
	if splitProducts("") != nil {
		t.Fatal("splitProducts(\"\") should be nil")
	}
}

func TestParseArgs_Interleaved(t *testing.T) {
	flags := flag.NewFlagSet("t", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "")
	user := flags.String("user", "", "")
	pos, err := parseArgs(flags, []string{"apple", "--json", "2", "--user", "bob", "1.5"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(pos, " ") != "apple 2 1.5" {
		t.Fatalf("positionals: got %v", pos)
	}
	if !*jsonOut || *user != "bob" {
		t.Fatalf("flags: json=%v user=%q", *jsonOut, *user)
	}
}

func TestParseArgs_UnknownFlag(t *testing.T) {
	flags := flag.NewFlagSet("t", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	if _, err := parseArgs(flags, []string{"--nope"}); err == nil {
		t.Fatal("unknown flag should fail")
	}
}

func TestFail_ExitCodes(t *testing.T) {
	out := captureStderr(t, func() {
		if code := fail("x", errLoginRefused); code != 2 {
			t.Errorf("login refused: got exit %d, want 2", code)
		}
		if code := fail("x", io.EOF); code != 1 {
			t.Errorf("other error: got exit %d, want 1", code)
		}
	})
	if !strings.Contains(out, "sales: x:") {
		t.Fatalf("fail should prefix stderr, got %q", out)
	}
}

// --- end-to-end commands against a loopback server ---

type testServer struct {
	addr string
	hub  *notify.Hub
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "cli.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	c, err := cache.New(st, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	hub := notify.New()
	ss, err := state.New(hub, c, 0, clock.Day(20000), nil)
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		server.New(ss, hub, st, nil).Serve(ctx, ln)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &testServer{addr: ln.Addr().String(), hub: hub}
}

func testApp(addr string) *app {
	return &app{
		ctx:  context.Background(),
		addr: addr,
		user: "alice",
		pass: "pw",
		opts: []client.Option{client.WithMaxTries(2), client.WithRetryInterval(time.Millisecond, 5*time.Millisecond)},
	}
}

// runCmd runs one subcommand and returns its exit code and stdout.
func runCmd(t *testing.T, a *app, args ...string) (int, string) {
	t.Helper()
	var code int
	out := captureStdout(t, func() {
		captureStderr(t, func() { code = a.run(args[0], args[1:]) })
	})
	return code, out
}

func TestCLI_RegisterTwice(t *testing.T) {
	srv := startServer(t)
	a := testApp(srv.addr)

	code, out := runCmd(t, a, "register")
	if code != 0 || !strings.Contains(out, `registered user "alice"`) {
		t.Fatalf("first register: exit %d, out %q", code, out)
	}
	code, out = runCmd(t, a, "register")
	if code != 2 || !strings.Contains(out, "already exists") {
		t.Fatalf("second register: exit %d, out %q", code, out)
	}
}

func TestCLI_LoginRefused(t *testing.T) {
	srv := startServer(t)
	a := testApp(srv.addr)
	if code, _ := runCmd(t, a, "add", "apple", "1", "1"); code != 2 {
		t.Fatalf("add without account: got exit %d, want 2", code)
	}
}

func TestCLI_SalesAndQueries(t *testing.T) {
	srv := startServer(t)
	a := testApp(srv.addr)
	runCmd(t, a, "register")

	steps := [][]string{
		{"add", "apple", "2", "1.5"},
		{"add", "apple", "1", "3", "--json"},
		{"add", "pear", "4", "0.5"},
		{"newday"},
	}
	for _, s := range steps {
		if code, out := runCmd(t, a, s...); code != 0 {
			t.Fatalf("%v: exit %d, out %q", s, code, out)
		}
	}

	code, out := runCmd(t, a, "qty", "apple", "5", "--json")
	if code != 0 {
		t.Fatalf("qty: exit %d", code)
	}
	var res struct {
		Aggregation string  `json:"aggregation"`
		Value       float64 `json:"value"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("qty json: %v (%q)", err, out)
	}
	if res.Aggregation != "quantity" || res.Value != 3 {
		t.Fatalf("qty: got %+v, want quantity=3", res)
	}

	if code, out := runCmd(t, a, "max", "apple", "1"); code != 0 || !strings.Contains(out, ": 3") {
		t.Fatalf("max: exit %d, out %q", code, out)
	}
	if code, out := runCmd(t, a, "volume", "pear", "1"); code != 0 || !strings.Contains(out, ": 2") {
		t.Fatalf("volume: exit %d, out %q", code, out)
	}
	if code, out := runCmd(t, a, "avg", "apple", "1"); code != 0 || !strings.Contains(out, ": 2") {
		t.Fatalf("avg: exit %d, out %q", code, out)
	}
}

func TestCLI_Filter(t *testing.T) {
	srv := startServer(t)
	a := testApp(srv.addr)
	runCmd(t, a, "register")
	runCmd(t, a, "add", "apple", "2", "1.5")
	runCmd(t, a, "add", "pear", "1", "4")
	runCmd(t, a, "newday")

	code, out := runCmd(t, a, "filter", "1", "apple,kiwi")
	if code != 0 || !strings.Contains(out, "apple") || strings.Contains(out, "pear") {
		t.Fatalf("filter: exit %d, out %q", code, out)
	}

	if code, _ := runCmd(t, a, "filter", "0", "apple"); code != 1 {
		t.Fatalf("filter of today: got exit %d, want 1", code)
	}
	if code, _ := runCmd(t, a, "filter", "5", "apple"); code != 1 {
		t.Fatalf("filter beyond history: got exit %d, want 1", code)
	}
}

func TestCLI_UsageErrors(t *testing.T) {
	a := testApp("127.0.0.1:1")
	for _, args := range [][]string{
		{"add", "apple"},
		{"add", "apple", "x", "1"},
		{"qty", "apple"},
		{"filter", "1"},
		{"consec", "apple", "0"},
		{"simul", "apple"},
		{"bogus"},
	} {
		if code, _ := runCmd(t, a, args...); code != 1 {
			t.Errorf("%v: got exit %d, want 1", args, code)
		}
	}
}

func TestCLI_SimulExpiresAtDayEnd(t *testing.T) {
	srv := startServer(t)
	a := testApp(srv.addr)
	runCmd(t, a, "register")

	type result struct {
		code int
		out  string
	}
	done := make(chan result, 1)
	go func() {
		code, out := runCmd(t, a, "simul", "apple", "pear")
		done <- result{code, out}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for srv.hub.Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("simul never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	srv.hub.StartNewDay()

	select {
	case r := <-done:
		if r.code != 2 || !strings.Contains(r.out, "day ended") {
			t.Fatalf("simul: exit %d, out %q", r.code, r.out)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("simul did not return after day end")
	}
}

func TestCLI_ConsecMatched(t *testing.T) {
	srv := startServer(t)
	a := testApp(srv.addr)
	runCmd(t, a, "register")
	runCmd(t, a, "add", "apple", "1", "1")
	runCmd(t, a, "add", "apple", "1", "1")

	code, out := runCmd(t, a, "consec", "apple", "2", "--json")
	if code != 0 || !strings.Contains(out, `"matched": true`) {
		t.Fatalf("consec: exit %d, out %q", code, out)
	}
}

func TestCLI_Stress(t *testing.T) {
	srv := startServer(t)
	a := testApp(srv.addr)
	runCmd(t, a, "register")

	code, out := runCmd(t, a, "stress", "--workers", "3", "--requests", "40", "--days", "4", "--products", "3", "--json")
	if code != 0 {
		t.Fatalf("stress: exit %d, out %q", code, out)
	}
	var r stressReport
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("stress json: %v (%q)", err, out)
	}
	if r.Requests != 40 || r.Failed != 0 || r.Days != 4 {
		t.Fatalf("stress report: %+v", r)
	}
}

// --- helpers ---

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func captureStderr(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	fn()

	w.Close()
	os.Stderr = old
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}
