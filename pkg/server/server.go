// Package server accepts sales client connections and runs one worker per
// connection against the shared session state.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/daviddao/salesd/pkg/model"
	"github.com/daviddao/salesd/pkg/notify"
	"github.com/daviddao/salesd/pkg/state"
	"github.com/daviddao/salesd/pkg/store"
	"github.com/daviddao/salesd/pkg/wire"
)

// Server is safe for concurrent use.
type Server struct {
	state  *state.State
	hub    *notify.Hub
	users  store.UserStore
	logger *log.Logger

	sessions atomic.Int64

	requestCounter metric.Int64Counter
	sessionGauge   metric.Int64UpDownCounter
}

// New returns a server. A nil logger discards output.
func New(st *state.State, hub *notify.Hub, users store.UserStore, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Server{state: st, hub: hub, users: users, logger: logger}
	meter := otel.Meter("salesd.server")
	s.requestCounter, _ = meter.Int64Counter("salesd.server.requests",
		metric.WithDescription("Requests handled by tag"),
		metric.WithUnit("{request}"))
	s.sessionGauge, _ = meter.Int64UpDownCounter("salesd.server.sessions",
		metric.WithDescription("Open client connections"),
		metric.WithUnit("{session}"))
	return s
}

// Sessions returns the number of open connections.
func (s *Server) Sessions() int { return int(s.sessions.Load()) }

// Serve accepts connections on ln until ctx ends or ln is closed, then
// closes every live connection and waits for their workers.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var workers conc.WaitGroup
	defer workers.Wait()

	s.logger.Printf("listening on %s", ln.Addr())
	var delay time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				cancel()
				return nil
			}
			// Transient accept failure (e.g. too many open files).
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay = min(2*delay, time.Second)
			}
			s.logger.Printf("accept: %v; retrying in %v", err, delay)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		delay = 0
		workers.Go(func() { s.ServeConn(ctx, c) })
	}
}

type session struct {
	id            string
	conn          *wire.Conn
	user          string
	authenticated bool
}

// ServeConn runs the worker loop for one connection and returns when the
// client disconnects, a protocol error occurs, or ctx ends.
func (s *Server) ServeConn(ctx context.Context, c net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	sess := &session{id: uuid.NewString(), conn: wire.NewConn(c)}
	stop := context.AfterFunc(ctx, func() { sess.conn.Close() })

	s.sessions.Add(1)
	s.sessionGauge.Add(context.Background(), 1)
	s.logger.Printf("session %s: connected from %s", sess.id, c.RemoteAddr())

	var waits conc.WaitGroup
	err := s.loop(ctx, sess, &waits)

	// Release pending notification waits before closing.
	cancel()
	waits.Wait()
	stop()
	sess.conn.Close()

	s.sessions.Add(-1)
	s.sessionGauge.Add(context.Background(), -1)
	switch {
	case errors.Is(err, wire.ErrClosed):
		s.logger.Printf("session %s: client disconnected", sess.id)
	case err != nil:
		s.logger.Printf("session %s: terminated: %v", sess.id, err)
	}
}

func (s *Server) loop(ctx context.Context, sess *session, waits *conc.WaitGroup) error {
	for {
		f, err := sess.conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %w", wire.ErrClosed, ctx.Err())
			}
			return err
		}
		s.requestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("tag", f.Tag.String())))
		if err := s.handle(ctx, sess, f, waits); err != nil {
			return err
		}
	}
}

// handle serves one request. A returned error terminates the connection.
func (s *Server) handle(ctx context.Context, sess *session, f wire.Frame, waits *conc.WaitGroup) error {
	dec := wire.NewDecoder(f.Payload)
	protocolErr := func() error {
		if err := dec.Err(); err != nil {
			return fmt.Errorf("malformed %s request: %w", f.Tag, err)
		}
		return nil
	}
	reply := func(enc *wire.Encoder) error {
		if err := enc.Err(); err != nil {
			return fmt.Errorf("encode %s reply: %w", f.Tag, err)
		}
		return sess.conn.Send(f.Tag, enc.Bytes())
	}

	switch f.Tag {
	case wire.TagRegister, wire.TagLogin:
		name, pass := dec.ReadString(), dec.ReadString()
		if err := protocolErr(); err != nil {
			return err
		}
		var ok bool
		var err error
		if name != "" {
			if f.Tag == wire.TagRegister {
				ok, err = s.users.Register(name, pass)
			} else {
				ok, err = s.users.Authenticate(name, pass)
			}
		}
		if err != nil {
			s.logger.Printf("session %s: %s %q: %v", sess.id, f.Tag, name, err)
			ok = false
		}
		if ok && f.Tag == wire.TagLogin {
			sess.user, sess.authenticated = name, true
			s.logger.Printf("session %s: logged in as %q", sess.id, name)
		}
		return reply(wire.NewEncoder(1).Bool(ok))

	case wire.TagAddEvent:
		product, qty, price := dec.ReadString(), dec.ReadInt32(), dec.ReadFloat64()
		if err := protocolErr(); err != nil {
			return err
		}
		ack := wire.ReplyEventRecorded
		if !sess.authenticated {
			ack = wire.ReplyNotAuth
		} else if err := s.state.AddEvent(product, qty, price); err != nil {
			ack = wire.ReplyErrorPrefix + err.Error()
		}
		return reply(wire.NewEncoder(len(ack) + 2).String(ack))

	case wire.TagAggQuantity, wire.TagAggVolume, wire.TagAggAverage, wire.TagAggMax:
		product, days := dec.ReadString(), dec.ReadInt32()
		if err := protocolErr(); err != nil {
			return err
		}
		result := wire.ReplyAggregateFailed
		if sess.authenticated {
			kind, _ := model.AggregationForTag(f.Tag)
			v, err := s.state.Aggregate(kind, product, int(days))
			if err != nil {
				s.logger.Printf("session %s: %s %q %d: %v", sess.id, f.Tag, product, days, err)
			} else {
				result = v
			}
		}
		return reply(wire.NewEncoder(8).Float64(result))

	case wire.TagSimulSales:
		p1, p2 := dec.ReadString(), dec.ReadString()
		if err := protocolErr(); err != nil {
			return err
		}
		if !sess.authenticated {
			return reply(wire.NewEncoder(1).Bool(false))
		}
		waits.Go(func() {
			ok, err := s.hub.WaitForSimultaneousContext(ctx, p1, p2)
			if err != nil {
				return
			}
			if err := reply(wire.NewEncoder(1).Bool(ok)); err != nil {
				s.logger.Printf("session %s: reply %s: %v", sess.id, f.Tag, err)
			}
		})
		return nil

	case wire.TagConsecSales:
		product, n := dec.ReadString(), dec.ReadInt32()
		if err := protocolErr(); err != nil {
			return err
		}
		if !sess.authenticated {
			return reply(wire.NewEncoder(8).String(wire.ReplyConsecNotAuth))
		}
		waits.Go(func() {
			p, ok, err := s.hub.WaitForConsecutiveContext(ctx, product, int(n))
			if err != nil {
				return
			}
			if !ok {
				p = wire.ReplyConsecNoMatch
			}
			if err := reply(wire.NewEncoder(len(p) + 2).String(p)); err != nil {
				s.logger.Printf("session %s: reply %s: %v", sess.id, f.Tag, err)
			}
		})
		return nil

	case wire.TagNewDay:
		ack := wire.ReplyNewDay
		if !sess.authenticated {
			ack = wire.ReplyNotAuth
		} else if err := s.state.StartNewDay(); err != nil {
			s.logger.Printf("session %s: new day: %v", sess.id, err)
			ack = wire.ReplyErrorPrefix + err.Error()
		}
		return reply(wire.NewEncoder(len(ack) + 2).String(ack))

	case wire.TagFilterEvents:
		daysBack, count := dec.ReadInt32(), dec.ReadInt32()
		if err := protocolErr(); err != nil {
			return err
		}
		if count < 0 || int(count) > dec.Remaining()/2 {
			return fmt.Errorf("malformed %s request: product count %d", f.Tag, count)
		}
		products := make([]string, 0, count)
		for i := int32(0); i < count; i++ {
			products = append(products, dec.ReadString())
		}
		if err := protocolErr(); err != nil {
			return err
		}
		if !sess.authenticated {
			return sess.conn.Send(f.Tag, nil)
		}
		enc := wire.NewEncoder(256)
		if err := s.state.FilterEventsBack(int(daysBack), products, enc); err != nil {
			s.logger.Printf("session %s: filter %d days back: %v", sess.id, daysBack, err)
			return sess.conn.Send(f.Tag, nil)
		}
		return reply(enc)

	default:
		return fmt.Errorf("unknown tag %s", f.Tag)
	}
}
