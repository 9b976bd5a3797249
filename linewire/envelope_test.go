package linewire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TEST110: a request envelope round-trips with version, id, method, params
func Test110_request_roundtrip(t *testing.T) {
	env, err := NewRequest(7, "tools/call", map[string]string{"name": "echo"})
	require.NoError(t, err)

	data, err := env.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, ProtocolVersion, decoded.JSONRPC)
	require.NotNil(t, decoded.Id)
	assert.Equal(t, int64(7), *decoded.Id)
	assert.Equal(t, "tools/call", decoded.Method)
	assert.True(t, decoded.IsRequest())
	assert.False(t, decoded.IsResponse())
	assert.False(t, decoded.IsNotification())
}

// TEST111: a notification carries no id
func Test111_notification_has_no_id(t *testing.T) {
	env, err := NewNotification("notifications/initialized", nil)
	require.NoError(t, err)

	data, err := env.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Nil(t, decoded.Id)
	assert.True(t, decoded.IsNotification())
}

// TEST112: a line that is not JSON is rejected
func Test112_malformed_frame_rejected(t *testing.T) {
	_, err := DecodeEnvelope([]byte("this is not json"))
	assert.Error(t, err)
}

// TEST113: a frame with the wrong protocol tag is rejected
func Test113_wrong_version_rejected(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"jsonrpc":"1.0","id":1,"result":{}}`))
	assert.Error(t, err)
}

// TEST114: a response error with no message falls back to a generic one
func Test114_error_message_fallback(t *testing.T) {
	env := &Envelope{JSONRPC: ProtocolVersion, Error: &RPCError{Code: -1}}
	assert.Equal(t, "request failed", env.ErrorMessage())

	env.Error.Message = "boom"
	assert.Equal(t, "boom", env.ErrorMessage())
}

// TEST115: embedded newlines in payloads are escaped, never sent raw
func Test115_embedded_newlines_escaped(t *testing.T) {
	env, err := NewRequest(1, "tools/call", map[string]string{"data": "line one\nline two"})
	require.NoError(t, err)

	data, err := env.Encode()
	require.NoError(t, err)
	assert.False(t, bytes.ContainsRune(data, '\n'))
}
