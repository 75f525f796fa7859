// Package demux multiplexes request/response exchanges over one framed
// connection.
//
// Replies are matched to callers by tag only: a single reader goroutine
// files every incoming frame into the queue for its tag, and Receive(tag)
// hands them out in arrival order. There is no request id, so a caller must
// not keep two requests of the same tag in flight unless their replies are
// interchangeable.
package demux

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/daviddao/salesd/pkg/wire"
)

// ErrClosed is returned by Receive once the connection has ended and the
// tag's queue is drained.
var ErrClosed = errors.New("demux: connection closed")

type queue struct {
	frames  [][]byte
	waiters []chan struct{}
}

// Demux is safe for concurrent use.
type Demux struct {
	conn *wire.Conn

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}

	mu     sync.Mutex
	queues map[wire.Tag]*queue
	err    error // terminal reader error
}

// New wraps conn. Call Start before the first Receive.
func New(conn *wire.Conn) *Demux {
	return &Demux{
		conn:   conn,
		done:   make(chan struct{}),
		queues: make(map[wire.Tag]*queue),
	}
}

// Start launches the reader goroutine. Subsequent calls do nothing.
func (d *Demux) Start() {
	d.startOnce.Do(func() { go d.readLoop() })
}

// Done is closed when the connection has ended.
func (d *Demux) Done() <-chan struct{} { return d.done }

// Send writes one request frame.
func (d *Demux) Send(tag wire.Tag, payload []byte) error {
	return d.conn.Send(tag, payload)
}

// Receive blocks until a frame with tag arrives or the connection ends.
func (d *Demux) Receive(tag wire.Tag) ([]byte, error) {
	return d.ReceiveContext(context.Background(), tag)
}

// ReceiveContext is Receive that also returns ctx.Err() when ctx ends
// first.
func (d *Demux) ReceiveContext(ctx context.Context, tag wire.Tag) ([]byte, error) {
	for {
		d.mu.Lock()
		q := d.queueLocked(tag)
		if len(q.frames) > 0 {
			payload := q.frames[0]
			q.frames[0] = nil
			q.frames = q.frames[1:]
			d.mu.Unlock()
			return payload, nil
		}
		if d.err != nil {
			err := d.err
			d.mu.Unlock()
			return nil, fmt.Errorf("%w: %w", ErrClosed, err)
		}
		wake := make(chan struct{}, 1)
		q.waiters = append(q.waiters, wake)
		d.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			d.abandon(tag, wake)
			return nil, ctx.Err()
		}
	}
}

// abandon withdraws wake from tag's waiters. If it was already signalled
// the wakeup is handed to the next waiter so no frame is stranded.
func (d *Demux) abandon(tag wire.Tag, wake chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := d.queueLocked(tag)
	for i, w := range q.waiters {
		if w == wake {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
	d.signalLocked(q)
}

func (d *Demux) queueLocked(tag wire.Tag) *queue {
	q, ok := d.queues[tag]
	if !ok {
		q = &queue{}
		d.queues[tag] = q
	}
	return q
}

func (d *Demux) signalLocked(q *queue) {
	if len(q.waiters) == 0 {
		return
	}
	w := q.waiters[0]
	q.waiters = q.waiters[1:]
	w <- struct{}{}
}

func (d *Demux) readLoop() {
	for {
		f, err := d.conn.Receive()
		if err != nil {
			d.fail(err)
			return
		}
		d.mu.Lock()
		q := d.queueLocked(f.Tag)
		q.frames = append(q.frames, f.Payload)
		d.signalLocked(q)
		d.mu.Unlock()
	}
}

// fail records the terminal error and wakes every waiter on every tag.
func (d *Demux) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return
	}
	d.err = err
	for _, q := range d.queues {
		for _, w := range q.waiters {
			w <- struct{}{}
		}
		q.waiters = nil
	}
	close(d.done)
}

// Close closes the connection, which stops the reader and releases all
// waiters. It is idempotent.
func (d *Demux) Close() error {
	var err error
	d.closeOnce.Do(func() {
		err = d.conn.Close()
		d.fail(wire.ErrClosed)
	})
	return err
}
