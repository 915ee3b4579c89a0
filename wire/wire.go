// Package wire implements the framing used on the addon socket.
//
// Messages are bare JSON objects with no length prefix and no delimiter. A
// message is complete when the bytes received so far parse as a single JSON
// value; the receive buffer is then cleared in full. Only one command is ever
// in flight per connection, so trailing bytes after a complete value cannot
// occur in a well-behaved exchange.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
)

// ReadChunkSize is the size of each read from the socket.
const ReadChunkSize = 8192

var (
	// ErrIncomplete means the peer stopped sending (close or timeout) while
	// a message was only partially received. The partial bytes are discarded.
	ErrIncomplete = errors.New("incomplete JSON message")

	// ErrNoData means the peer closed the stream before sending any bytes.
	ErrNoData = errors.New("connection closed before receiving any data")

	// ErrMalformed means a complete JSON value arrived but does not have the
	// shape of the expected message.
	ErrMalformed = errors.New("malformed message")
)

// Status is the envelope status field.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Command is a single request sent to the addon host.
type Command struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

// NewCommand builds a Command, substituting an empty params object for nil.
func NewCommand(cmdType string, params map[string]any) Command {
	if params == nil {
		params = map[string]any{}
	}
	return Command{Type: cmdType, Params: params}
}

// Envelope is the single response produced for every command.
type Envelope struct {
	Status  Status `json:"status"`
	Result  any    `json:"result,omitempty"`
	Message string `json:"message,omitempty"`
}

// Success wraps an operation result.
func Success(result any) Envelope {
	return Envelope{Status: StatusSuccess, Result: result}
}

// Failure builds an error envelope carrying msg.
func Failure(msg string) Envelope {
	return Envelope{Status: StatusError, Message: msg}
}

// Failuref builds an error envelope from a format string.
func Failuref(format string, args ...any) Envelope {
	return Failure(fmt.Sprintf(format, args...))
}

// RemoteError is an error envelope surfaced to the caller as a Go error.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "unknown error from addon"
	}
	return e.Message
}

// Err converts an error envelope into a *RemoteError. Success yields nil.
// Any other status is reported as a malformed envelope.
func (e Envelope) Err() error {
	switch e.Status {
	case StatusSuccess:
		return nil
	case StatusError:
		return &RemoteError{Message: e.Message}
	default:
		return fmt.Errorf("malformed envelope: unexpected status %q", e.Status)
	}
}

// Encode serializes v as one wire message.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Write encodes v and writes it to w in a single call.
func Write(w io.Writer, v any) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// IsTimeout reports whether err is a read deadline expiry.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
