package scale

import (
	"bytes"
	"io"
	"time"
)

// RawFrame is one chunk of bytes between frame terminators on the serial
// link. Truncated marks a frame that hit the max-bytes cap before a
// terminator arrived.
type RawFrame struct {
	Payload   []byte
	At        time.Time
	Truncated bool
}

// Assembler accumulates bytes from the serial port and cuts them into
// frames. It assumes the underlying reader returns (0, nil) when the
// configured read timeout elapses without data, which is how serial ports
// with a read timeout behave.
type Assembler struct {
	r    io.Reader
	term []byte
	max  int

	acc []byte
	buf []byte
}

// NewAssembler creates an assembler cutting frames on term, emitting a
// truncated frame whenever max bytes accumulate without a terminator.
func NewAssembler(r io.Reader, term []byte, max int) *Assembler {
	if len(term) == 0 {
		term = []byte{'\r'}
	}
	if max <= 0 {
		max = 64
	}
	return &Assembler{
		r:    r,
		term: term,
		max:  max,
		buf:  make([]byte, 256),
	}
}

// Next returns the next frame. ok is false with a nil error when the read
// timed out without producing a frame; the caller reports that as a no-data
// event instead of blocking. A non-nil error means the port failed and the
// connection must be re-established by the owner.
func (a *Assembler) Next() (frame RawFrame, ok bool, err error) {
	for {
		if f, found := a.pop(); found {
			return f, true, nil
		}

		n, err := a.r.Read(a.buf)
		if err != nil {
			return RawFrame{}, false, err
		}
		if n == 0 {
			// Read timeout with no pending frame.
			return RawFrame{}, false, nil
		}
		a.acc = append(a.acc, a.buf[:n]...)
	}
}

// pop cuts a complete or truncated frame off the front of the accumulator.
func (a *Assembler) pop() (RawFrame, bool) {
	if idx := bytes.Index(a.acc, a.term); idx >= 0 {
		payload := make([]byte, idx)
		copy(payload, a.acc[:idx])
		a.acc = a.acc[idx+len(a.term):]
		return RawFrame{Payload: payload, At: time.Now()}, true
	}

	if len(a.acc) >= a.max {
		payload := make([]byte, a.max)
		copy(payload, a.acc[:a.max])
		a.acc = a.acc[a.max:]
		return RawFrame{Payload: payload, At: time.Now(), Truncated: true}, true
	}

	return RawFrame{}, false
}
