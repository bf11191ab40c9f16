package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrMalformedFrame marks a frame that could not be decoded. A session
// drops such frames and keeps the connection open; any other decode error
// is a transport failure and ends the session.
var ErrMalformedFrame = errors.New("malformed frame")

// Encoder writes protocol envelopes to a connection, one JSON value per
// line. It is safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewEncoder creates an encoder over w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

func (e *Encoder) encode(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(raw); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// EncodeEvent writes a server event frame.
func (e *Encoder) EncodeEvent(ev Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	return e.encode(ev)
}

// EncodeCommand writes a client command frame.
func (e *Encoder) EncodeCommand(cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}
	return e.encode(cmd)
}

// Decoder reads protocol envelopes from a connection.
type Decoder struct {
	s *bufio.Scanner
}

// maxFrameSize bounds a single wire frame. State snapshots with full disk
// lists stay far below this.
const maxFrameSize = 1 << 20

// NewDecoder creates a decoder over r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxFrameSize)
	return &Decoder{s: s}
}

// next returns the next non-empty line, or io.EOF when the stream ends.
func (d *Decoder) next() ([]byte, error) {
	for d.s.Scan() {
		line := d.s.Bytes()
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
	if err := d.s.Err(); err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return nil, io.EOF
}

// DecodeCommand reads the next command frame. Malformed frames are reported
// as ErrMalformedFrame; the decoder remains usable afterwards.
func (d *Decoder) DecodeCommand() (*Command, error) {
	line, err := d.next()
	if err != nil {
		return nil, err
	}
	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return &cmd, nil
}

// DecodeEvent reads the next event frame.
func (d *Decoder) DecodeEvent() (*Event, error) {
	line, err := d.next()
	if err != nil {
		return nil, err
	}
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return &ev, nil
}
