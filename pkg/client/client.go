// Package client is a typed client for the sales server.
//
// All calls share one connection through a demultiplexer, so a Client may
// be used from several goroutines at once. Replies are matched by request
// tag, so concurrent calls of the same kind are only safe when their
// replies are interchangeable. A call abandoned through its context leaves
// its eventual reply queued for the next call of the same kind.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/daviddao/salesd/pkg/demux"
	"github.com/daviddao/salesd/pkg/model"
	"github.com/daviddao/salesd/pkg/wire"
)

var (
	// ErrNotAuthenticated is returned when the server refused a request
	// because the session has not logged in.
	ErrNotAuthenticated = errors.New("client: not authenticated")

	// ErrRejected is returned when the server refused a request's
	// arguments.
	ErrRejected = errors.New("client: request rejected")
)

type options struct {
	maxTries    uint
	dialTimeout time.Duration
	initial     time.Duration
	maxInterval time.Duration
}

func defaultOptions() options {
	return options{
		maxTries:    5,
		dialTimeout: 3 * time.Second,
		initial:     100 * time.Millisecond,
		maxInterval: 2 * time.Second,
	}
}

// Option configures Dial.
type Option func(*options)

// WithMaxTries bounds the number of dial attempts.
func WithMaxTries(n uint) Option { return func(o *options) { o.maxTries = n } }

// WithDialTimeout sets the timeout of each dial attempt.
func WithDialTimeout(d time.Duration) Option { return func(o *options) { o.dialTimeout = d } }

// WithRetryInterval sets the initial and maximum delay between attempts.
func WithRetryInterval(initial, maxInterval time.Duration) Option {
	return func(o *options) { o.initial, o.maxInterval = initial, maxInterval }
}

// Client is safe for concurrent use.
type Client struct {
	d *demux.Demux
}

// Dial connects to addr, retrying with exponential backoff.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.initial
	b.MaxInterval = o.maxInterval

	conn, err := backoff.Retry(ctx, func() (net.Conn, error) {
		dialer := net.Dialer{Timeout: o.dialTimeout}
		return dialer.DialContext(ctx, "tcp", addr)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(o.maxTries))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn), nil
}

// New wraps an established connection.
func New(conn net.Conn) *Client {
	d := demux.New(wire.NewConn(conn))
	d.Start()
	return &Client{d: d}
}

// Close closes the connection. Pending calls return demux.ErrClosed.
func (c *Client) Close() error { return c.d.Close() }

func (c *Client) roundTrip(ctx context.Context, tag wire.Tag, enc *wire.Encoder) ([]byte, error) {
	if err := enc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", tag, err)
	}
	if err := c.d.Send(tag, enc.Bytes()); err != nil {
		return nil, fmt.Errorf("%s: %w", tag, err)
	}
	b, err := c.d.ReceiveContext(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tag, err)
	}
	return b, nil
}

func (c *Client) call(ctx context.Context, tag wire.Tag, enc *wire.Encoder) (*wire.Decoder, error) {
	b, err := c.roundTrip(ctx, tag, enc)
	if err != nil {
		return nil, err
	}
	return wire.NewDecoder(b), nil
}

func (c *Client) boolCall(ctx context.Context, tag wire.Tag, enc *wire.Encoder) (bool, error) {
	dec, err := c.call(ctx, tag, enc)
	if err != nil {
		return false, err
	}
	v := dec.ReadBool()
	return v, dec.Err()
}

func (c *Client) ackCall(ctx context.Context, tag wire.Tag, enc *wire.Encoder, want string) error {
	dec, err := c.call(ctx, tag, enc)
	if err != nil {
		return err
	}
	ack := dec.ReadString()
	if err := dec.Err(); err != nil {
		return fmt.Errorf("%s: %w", tag, err)
	}
	switch {
	case ack == want:
		return nil
	case ack == wire.ReplyNotAuth:
		return ErrNotAuthenticated
	default:
		return fmt.Errorf("%w: %s", ErrRejected, strings.TrimPrefix(ack, wire.ReplyErrorPrefix))
	}
}

// Register creates an account. Returns false if the name is taken.
func (c *Client) Register(ctx context.Context, user, pass string) (bool, error) {
	return c.boolCall(ctx, wire.TagRegister, wire.NewEncoder(0).String(user).String(pass))
}

// Login authenticates the connection.
func (c *Client) Login(ctx context.Context, user, pass string) (bool, error) {
	return c.boolCall(ctx, wire.TagLogin, wire.NewEncoder(0).String(user).String(pass))
}

// AddEvent records a sale on the server's current day.
func (c *Client) AddEvent(ctx context.Context, product string, quantity int32, price float64) error {
	enc := wire.NewEncoder(len(product) + 14).String(product).Int32(quantity).Float64(price)
	return c.ackCall(ctx, wire.TagAddEvent, enc, wire.ReplyEventRecorded)
}

// Aggregate computes kind over product for the last days completed days.
// The server answers -1 both before login and for rejected arguments; both
// surface as ErrNotAuthenticated.
func (c *Client) Aggregate(ctx context.Context, kind model.AggregationType, product string, days int32) (float64, error) {
	dec, err := c.call(ctx, kind.Tag(), wire.NewEncoder(len(product)+6).String(product).Int32(days))
	if err != nil {
		return 0, err
	}
	v := dec.ReadFloat64()
	if err := dec.Err(); err != nil {
		return 0, fmt.Errorf("%s: %w", kind.Tag(), err)
	}
	if v == wire.ReplyAggregateFailed {
		return 0, ErrNotAuthenticated
	}
	return v, nil
}

// Quantity returns units of product sold over the last days days.
func (c *Client) Quantity(ctx context.Context, product string, days int32) (float64, error) {
	return c.Aggregate(ctx, model.AggQuantity, product, days)
}

// Volume returns the sales value of product over the last days days.
func (c *Client) Volume(ctx context.Context, product string, days int32) (float64, error) {
	return c.Aggregate(ctx, model.AggVolume, product, days)
}

// Average returns the mean unit price of product over the last days days.
func (c *Client) Average(ctx context.Context, product string, days int32) (float64, error) {
	return c.Aggregate(ctx, model.AggAverage, product, days)
}

// Max returns the highest unit price of product over the last days days.
func (c *Client) Max(ctx context.Context, product string, days int32) (float64, error) {
	return c.Aggregate(ctx, model.AggMax, product, days)
}

// WaitSimultaneous blocks until both products have been sold today. It
// returns false if the day ends first. Before login it returns false
// immediately.
func (c *Client) WaitSimultaneous(ctx context.Context, p1, p2 string) (bool, error) {
	return c.boolCall(ctx, wire.TagSimulSales, wire.NewEncoder(0).String(p1).String(p2))
}

// WaitConsecutive blocks until product has been sold n times in a row
// today. It returns ("", false, nil) if the day ends first.
func (c *Client) WaitConsecutive(ctx context.Context, product string, n int32) (string, bool, error) {
	dec, err := c.call(ctx, wire.TagConsecSales, wire.NewEncoder(len(product)+6).String(product).Int32(n))
	if err != nil {
		return "", false, err
	}
	p := dec.ReadString()
	if err := dec.Err(); err != nil {
		return "", false, fmt.Errorf("%s: %w", wire.TagConsecSales, err)
	}
	switch p {
	case wire.ReplyConsecNoMatch:
		return "", false, nil
	case wire.ReplyConsecNotAuth:
		return "", false, ErrNotAuthenticated
	}
	return p, true, nil
}

// NewDay closes the server's current day.
func (c *Client) NewDay(ctx context.Context) error {
	return c.ackCall(ctx, wire.TagNewDay, wire.NewEncoder(0), wire.ReplyNewDay)
}

// FilterEvents returns the sales of products on the day daysBack days ago.
// An empty reply (not logged in, or a day outside history) is ErrRejected.
func (c *Client) FilterEvents(ctx context.Context, daysBack int32, products []string) ([]model.SalesEvent, error) {
	enc := wire.NewEncoder(8).Int32(daysBack).Int32(int32(len(products)))
	for _, p := range products {
		enc.String(p)
	}
	b, err := c.roundTrip(ctx, wire.TagFilterEvents, enc)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, ErrRejected
	}
	return model.ReadFiltered(b)
}
