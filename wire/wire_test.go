package wire

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	cmd := NewCommand("create_object", map[string]any{
		"type":     "CUBE",
		"name":     "Box",
		"location": []any{1.5, -2.25, 0.0},
		"nested": map[string]any{
			"color": []any{0.1, 0.2, 0.3, 1.0},
			"flags": map[string]any{"visible": true},
		},
	})

	data, err := Encode(cmd)
	require.NoError(t, err)

	var got Command
	require.NoError(t, NewDecoder(bytes.NewReader(data)).Next(&got))
	assert.Equal(t, cmd, got)
}

func TestNewCommand_NilParams(t *testing.T) {
	data, err := Encode(NewCommand("get_scene_info", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"get_scene_info","params":{}}`, string(data))
}

func TestDecoder_ByteAtATime(t *testing.T) {
	payload := `{"status":"success","result":{"name":"Scene","object_count":3}}`
	dec := NewDecoder(iotest.OneByteReader(strings.NewReader(payload)))

	var env Envelope
	require.NoError(t, dec.Next(&env))
	assert.Equal(t, StatusSuccess, env.Status)
	assert.Equal(t, 0, dec.Buffered(), "buffer must be cleared after a parse")

	result, ok := env.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Scene", result["name"])
	assert.Equal(t, 3.0, result["object_count"])
}

func TestDecoder_SequentialMessages(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = Write(client, NewCommand("get_scene_info", nil))
		_ = Write(client, NewCommand("delete_object", map[string]any{"name": "Cube"}))
	}()

	dec := NewDecoder(server)
	var first, second Command
	require.NoError(t, dec.Next(&first))
	require.NoError(t, dec.Next(&second))
	assert.Equal(t, "get_scene_info", first.Type)
	assert.Equal(t, "delete_object", second.Type)
	assert.Equal(t, "Cube", second.Params["name"])
}

func TestDecoder_CleanCloseBetweenMessages(t *testing.T) {
	dec := NewDecoder(strings.NewReader(""))
	var cmd Command
	assert.ErrorIs(t, dec.Next(&cmd), io.EOF)
}

func TestDecoder_CloseMidMessage(t *testing.T) {
	dec := NewDecoder(strings.NewReader(`{"type":"get_scene_info","par`))
	var cmd Command
	err := dec.Next(&cmd)
	require.ErrorIs(t, err, ErrIncomplete)
	assert.Empty(t, cmd.Type, "no partial value may be produced")
	assert.Equal(t, 0, dec.Buffered())
}

func TestDecoder_TimeoutRetainsPartial(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_, _ = client.Write([]byte(`{"status":"succ`))
	}()

	dec := NewDecoder(server)
	require.NoError(t, server.SetReadDeadline(time.Now().Add(100*time.Millisecond)))

	var env Envelope
	err := dec.Next(&env)
	require.True(t, IsTimeout(err), "expected timeout, got %v", err)
	assert.Greater(t, dec.Buffered(), 0)

	err = dec.Finish(&env)
	require.ErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, 0, dec.Buffered())
	assert.Empty(t, env.Status)
}

func TestDecoder_TimeoutThenResume(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	dec := NewDecoder(server)
	go func() { _, _ = client.Write([]byte(`{"type":"get_`)) }()

	require.NoError(t, server.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var cmd Command
	require.True(t, IsTimeout(dec.Next(&cmd)))

	go func() { _, _ = client.Write([]byte(`scene_info","params":{}}`)) }()
	require.NoError(t, server.SetReadDeadline(time.Time{}))
	require.NoError(t, dec.Next(&cmd))
	assert.Equal(t, "get_scene_info", cmd.Type)
}

func TestDecoder_FinishEmpty(t *testing.T) {
	dec := NewDecoder(strings.NewReader(""))
	var env Envelope
	assert.ErrorIs(t, dec.Finish(&env), ErrNoData)
}

func TestDecoder_TransportError(t *testing.T) {
	boom := errors.New("boom")
	dec := NewDecoder(iotest.ErrReader(boom))
	var env Envelope
	assert.ErrorIs(t, dec.Next(&env), boom)
}

func TestEnvelope_Err(t *testing.T) {
	assert.NoError(t, Success(map[string]any{"ok": true}).Err())

	var remote *RemoteError
	err := Failure("Object not found: Ghost").Err()
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "Object not found: Ghost", remote.Message)

	assert.Error(t, Envelope{Status: "pending"}.Err())
	assert.Equal(t, "unknown error from addon", (&RemoteError{}).Error())
}

func TestFailuref(t *testing.T) {
	env := Failuref("Unknown command type: %s", "nope")
	data, err := Encode(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","message":"Unknown command type: nope"}`, string(data))
}

func TestDecoder_TypedHelpers(t *testing.T) {
	dec := NewDecoder(strings.NewReader(`{"type":"get_scene_info"}`))
	cmd, err := dec.DecodeCommand()
	require.NoError(t, err)
	assert.Equal(t, "get_scene_info", cmd.Type)
	assert.NotNil(t, cmd.Params)

	dec = NewDecoder(strings.NewReader(`{"status":"error","message":"Object not found: X"}`))
	env, err := dec.DecodeEnvelope()
	require.NoError(t, err)
	var remote *RemoteError
	require.True(t, errors.As(env.Err(), &remote))
	assert.Equal(t, "Object not found: X", remote.Message)
}

func TestDecoder_Malformed(t *testing.T) {
	dec := NewDecoder(strings.NewReader(`["not", "a", "command"]`))
	_, err := dec.DecodeCommand()
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, 0, dec.Buffered())
}
