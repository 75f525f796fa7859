package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrShortPayload means a Decoder ran past the end of its payload.
var ErrShortPayload = errors.New("wire: short payload")

// ErrStringTooLong means a string does not fit the uint16 length prefix.
var ErrStringTooLong = errors.New("wire: string too long")

// Encoder builds a big-endian payload. The zero value is ready to use.
//
// Write errors are sticky: after the first failure every later call is a
// no-op and Err reports the failure.
type Encoder struct {
	buf []byte
	err error
}

// NewEncoder returns an Encoder with capacity for n bytes.
func NewEncoder(n int) *Encoder { return &Encoder{buf: make([]byte, 0, n)} }

// String writes a uint16 length prefix followed by the UTF-8 bytes of s.
func (e *Encoder) String(s string) *Encoder {
	if e.err != nil {
		return e
	}
	if len(s) > math.MaxUint16 {
		e.err = fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s))
		return e
	}
	e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(len(s)))
	e.buf = append(e.buf, s...)
	return e
}

// Int16 appends v as two big-endian bytes.
func (e *Encoder) Int16(v int16) *Encoder {
	if e.err == nil {
		e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(v))
	}
	return e
}

// Int32 appends v as four big-endian bytes.
func (e *Encoder) Int32(v int32) *Encoder {
	if e.err == nil {
		e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(v))
	}
	return e
}

// Int64 appends v as eight big-endian bytes.
func (e *Encoder) Int64(v int64) *Encoder {
	if e.err == nil {
		e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(v))
	}
	return e
}

// Float64 appends the IEEE 754 bits of v, big-endian.
func (e *Encoder) Float64(v float64) *Encoder {
	if e.err == nil {
		e.buf = binary.BigEndian.AppendUint64(e.buf, math.Float64bits(v))
	}
	return e
}

// Bool appends one byte, 1 for true and 0 for false.
func (e *Encoder) Bool(v bool) *Encoder {
	if e.err == nil {
		var b byte
		if v {
			b = 1
		}
		e.buf = append(e.buf, b)
	}
	return e
}

// Err returns the first write error, if any.
func (e *Encoder) Err() error { return e.err }

// Bytes returns the encoded payload.
func (e *Encoder) Bytes() []byte { return e.buf }

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int { return len(e.buf) }

// Decoder reads a big-endian payload produced by Encoder.
//
// Like Encoder, the first error is sticky and later reads return zero
// values; check Err once after a sequence of reads.
type Decoder struct {
	buf []byte
	off int
	err error
}

// NewDecoder returns a Decoder over b.
func NewDecoder(b []byte) *Decoder { return &Decoder{buf: b} }

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf)-d.off < n {
		d.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortPayload, n, d.off, len(d.buf)-d.off)
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

// ReadString reads a uint16 length followed by that many UTF-8 bytes.
func (d *Decoder) ReadString() string {
	b := d.take(2)
	if b == nil {
		return ""
	}
	s := d.take(int(binary.BigEndian.Uint16(b)))
	if d.err != nil {
		return ""
	}
	return string(s)
}

// ReadInt16 reads two big-endian bytes.
func (d *Decoder) ReadInt16() int16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return int16(binary.BigEndian.Uint16(b))
}

// ReadInt32 reads four big-endian bytes.
func (d *Decoder) ReadInt32() int32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

// ReadInt64 reads eight big-endian bytes.
func (d *Decoder) ReadInt64() int64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

// ReadFloat64 reads eight big-endian bytes as IEEE 754 bits.
func (d *Decoder) ReadFloat64() float64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

// ReadBool reads one byte; any non-zero value is true.
func (d *Decoder) ReadBool() bool {
	b := d.take(1)
	if b == nil {
		return false
	}
	return b[0] != 0
}

// Err returns the first read error, if any.
func (d *Decoder) Err() error { return d.err }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.buf) - d.off }
