package linewire

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies client errors into the four failure families the
// protocol distinguishes. Transport failures poison the whole session;
// protocol, timeout, and tool failures are scoped to a single call.
type ErrorKind int

const (
	// ErrorKindTransport covers spawn failures, unexpected worker exit,
	// and broken pipes. Never retried automatically.
	ErrorKindTransport ErrorKind = iota
	// ErrorKindProtocol covers a response's error field: the RPC mechanism
	// rejected this specific call.
	ErrorKindProtocol
	// ErrorKindTimeout means no response arrived within the call's budget.
	// Retry, if desired, is a caller-level decision.
	ErrorKindTimeout
	// ErrorKindTool means the invoked tool ran but reported a domain
	// failure through the payload-level error flag.
	ErrorKindTool
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindTransport:
		return "transport"
	case ErrorKindProtocol:
		return "protocol"
	case ErrorKindTimeout:
		return "timeout"
	case ErrorKindTool:
		return "tool"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// ClientError is the error type surfaced by the worker host and the tool
// façade. Code is populated for protocol errors only; Method for timeout
// errors only.
type ClientError struct {
	Kind    ErrorKind
	Message string
	Code    int
	Method  string
}

func (e *ClientError) Error() string {
	switch e.Kind {
	case ErrorKindTransport:
		return fmt.Sprintf("transport error: %s", e.Message)
	case ErrorKindProtocol:
		if e.Code != 0 {
			return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
		}
		return fmt.Sprintf("rpc error: %s", e.Message)
	case ErrorKindTimeout:
		return fmt.Sprintf("request %q timed out: %s", e.Method, e.Message)
	case ErrorKindTool:
		return e.Message
	default:
		return e.Message
	}
}

// NewTransportError creates a session-level failure.
func NewTransportError(format string, args ...interface{}) *ClientError {
	return &ClientError{Kind: ErrorKindTransport, Message: fmt.Sprintf(format, args...)}
}

// NewProtocolError creates a per-call failure from a response error field.
func NewProtocolError(code int, message string) *ClientError {
	return &ClientError{Kind: ErrorKindProtocol, Code: code, Message: message}
}

// NewTimeoutError creates a per-call deadline failure.
func NewTimeoutError(method string, budget time.Duration) *ClientError {
	return &ClientError{
		Kind:    ErrorKindTimeout,
		Method:  method,
		Message: fmt.Sprintf("no response within %s", budget),
	}
}

// NewToolError creates a payload-level tool failure carrying the worker's
// own message text.
func NewToolError(message string) *ClientError {
	return &ClientError{Kind: ErrorKindTool, Message: message}
}

func hasKind(err error, kind ErrorKind) bool {
	var ce *ClientError
	return errors.As(err, &ce) && ce.Kind == kind
}

// IsTransport reports whether err is a session-level transport failure.
func IsTransport(err error) bool { return hasKind(err, ErrorKindTransport) }

// IsProtocol reports whether err is a per-call RPC error.
func IsProtocol(err error) bool { return hasKind(err, ErrorKindProtocol) }

// IsTimeout reports whether err is a per-call deadline failure.
func IsTimeout(err error) bool { return hasKind(err, ErrorKindTimeout) }

// IsToolError reports whether err is a payload-level tool failure.
func IsToolError(err error) bool { return hasKind(err, ErrorKindTool) }
