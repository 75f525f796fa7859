// Package wire implements the framed binary protocol spoken between the
// sales client and server.
//
// Every message on the socket is a Frame:
//
//	tag (int32, big-endian) | length (int32, big-endian) | payload
//
// Conn reads and writes one whole frame at a time. Writers are serialized
// by a single mutex so that concurrent senders never interleave headers and
// payloads; readers are serialized the same way. Payloads themselves are
// built with Encoder and parsed with Decoder.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
)

// MaxPayload bounds the declared length of a single frame.
const MaxPayload = 16 << 20

const headerSize = 8

var (
	// ErrClosed means the peer went away (cleanly or mid-frame). Owners
	// should stop reading and release the connection rather than retry.
	ErrClosed = errors.New("wire: connection closed")

	// ErrFrameTooLarge is a protocol error: the declared payload length is
	// negative or above MaxPayload.
	ErrFrameTooLarge = errors.New("wire: frame too large")
)

// Frame is one tagged unit of the protocol. Frames are immutable once read.
type Frame struct {
	Tag     Tag
	Payload []byte
}

// Conn is a framed duplex connection.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	wmu  sync.Mutex
	rmu  sync.Mutex
}

// NewConn wraps c with buffered framing.
func NewConn(c net.Conn) *Conn {
	return &Conn{
		conn: c,
		r:    bufio.NewReaderSize(c, 64<<10),
		w:    bufio.NewWriterSize(c, 64<<10),
	}
}

// Send writes one frame and flushes it. Safe for concurrent use.
func (c *Conn) Send(tag Tag, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("send %s: %w", tag, ErrFrameTooLarge)
	}
	var hdr [headerSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(tag))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(payload)))

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(hdr[:]); err != nil {
		return classify(err)
	}
	if _, err := c.w.Write(payload); err != nil {
		return classify(err)
	}
	if err := c.w.Flush(); err != nil {
		return classify(err)
	}
	return nil
}

// Receive blocks until one complete frame has been read.
func (c *Conn) Receive() (Frame, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	var hdr [headerSize]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return Frame{}, classify(err)
	}
	tag := Tag(int32(binary.BigEndian.Uint32(hdr[0:4])))
	n := int32(binary.BigEndian.Uint32(hdr[4:8]))
	if n < 0 || n > MaxPayload {
		return Frame{}, fmt.Errorf("receive %s (len=%d): %w", tag, n, ErrFrameTooLarge)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return Frame{}, classify(err)
	}
	return Frame{Tag: tag, Payload: payload}, nil
}

// Close closes the underlying socket. Blocked readers return ErrClosed.
func (c *Conn) Close() error { return c.conn.Close() }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// classify maps end-of-stream conditions onto ErrClosed, keeping the cause.
func classify(err error) error {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return err
}
