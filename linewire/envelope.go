package linewire

import (
	"encoding/json"
	"fmt"
)

// Protocol version tag carried on every envelope.
const ProtocolVersion = "2.0"

// Well-known methods exchanged with the worker.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodListTools   = "tools/list"
	MethodCallTool    = "tools/call"
)

// Envelope is one wire message: a request, a response, or a notification.
// Requests and their matching responses carry an Id; notifications do not.
// A response carries exactly one of Result or Error.
//
// Frames are newline-delimited JSON. The JSON encoder escapes embedded
// newlines, so the single trailing '\n' written by the host is the only
// raw newline on the wire.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Id      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error half of a response envelope. Message is the only
// field the worker is required to populate.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewRequest creates a request envelope with the given correlation id.
// params may be nil.
func NewRequest(id int64, method string, params interface{}) (*Envelope, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		JSONRPC: ProtocolVersion,
		Id:      &id,
		Method:  method,
		Params:  raw,
	}, nil
}

// NewNotification creates a one-way envelope carrying no id.
func NewNotification(method string, params interface{}) (*Envelope, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		JSONRPC: ProtocolVersion,
		Method:  method,
		Params:  raw,
	}, nil
}

// NewResponse creates a success response envelope (used by test workers and
// the example worker binary, never by the client side).
func NewResponse(id int64, result interface{}) (*Envelope, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Envelope{JSONRPC: ProtocolVersion, Id: &id, Result: raw}, nil
}

// NewErrorResponse creates an error response envelope.
func NewErrorResponse(id int64, code int, message string) *Envelope {
	return &Envelope{
		JSONRPC: ProtocolVersion,
		Id:      &id,
		Error:   &RPCError{Code: code, Message: message},
	}
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return raw, nil
}

// DecodeEnvelope parses one complete frame. A frame that is not valid JSON,
// not an object, or carries the wrong protocol tag is rejected; the caller
// logs and drops it without disturbing the stream.
func DecodeEnvelope(line []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if env.JSONRPC != ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version %q", env.JSONRPC)
	}
	return &env, nil
}

// Encode serializes the envelope to a single frame without the trailing
// newline. The writer appends the delimiter so a frame is always exactly
// one write.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// IsResponse reports whether this envelope answers an outstanding request.
func (e *Envelope) IsResponse() bool {
	return e.Id != nil && e.Method == ""
}

// IsNotification reports whether this envelope is a one-way message.
func (e *Envelope) IsNotification() bool {
	return e.Id == nil && e.Method != ""
}

// IsRequest reports whether this envelope is a worker-initiated request.
// The client half of the protocol never answers these; they are dropped.
func (e *Envelope) IsRequest() bool {
	return e.Id != nil && e.Method != ""
}

// ErrorMessage returns the response error text, or the generic fallback
// when the worker omitted it.
func (e *Envelope) ErrorMessage() string {
	if e.Error == nil || e.Error.Message == "" {
		return "request failed"
	}
	return e.Error.Message
}
