package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Decoder accumulates reads from a stream until the buffer parses as one
// JSON value.
type Decoder struct {
	r     io.Reader
	buf   []byte
	chunk []byte
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, chunk: make([]byte, ReadChunkSize)}
}

// Buffered returns the number of bytes received for the message in progress.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next blocks until a complete message has been received and decodes it
// into v. The whole buffer is consumed on success.
//
// Returned errors:
//   - io.EOF: the peer closed cleanly between messages
//   - ErrIncomplete: the peer closed mid-message; the partial bytes are dropped
//   - a timeout (see IsTimeout): the read deadline expired; any partial
//     message is retained so the caller can keep reading or call Finish
//   - anything else is a transport fault
func (d *Decoder) Next(v any) error {
	for {
		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.buf = append(d.buf, d.chunk[:n]...)
			if json.Valid(d.buf) {
				return d.consume(v)
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(d.buf) == 0 {
				return io.EOF
			}
			d.reset()
			return fmt.Errorf("%w: connection closed mid-message", ErrIncomplete)
		}
		return err
	}
}

// Finish makes a last parse attempt on whatever has been buffered, used
// after a read timeout. If the buffer is not a complete value it is
// discarded and ErrIncomplete is returned; a partial value is never produced.
func (d *Decoder) Finish(v any) error {
	if len(d.buf) == 0 {
		return ErrNoData
	}
	if json.Valid(d.buf) {
		return d.consume(v)
	}
	d.reset()
	return fmt.Errorf("%w: read timed out mid-message", ErrIncomplete)
}

func (d *Decoder) consume(v any) error {
	err := json.Unmarshal(d.buf, v)
	d.reset()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func (d *Decoder) reset() {
	d.buf = d.buf[:0]
}

// DecodeCommand reads the next command from the stream.
func (d *Decoder) DecodeCommand() (Command, error) {
	var cmd Command
	if err := d.Next(&cmd); err != nil {
		return Command{}, err
	}
	if cmd.Params == nil {
		cmd.Params = map[string]any{}
	}
	return cmd, nil
}

// DecodeEnvelope reads the next response envelope from the stream.
func (d *Decoder) DecodeEnvelope() (Envelope, error) {
	var env Envelope
	err := d.Next(&env)
	return env, err
}
