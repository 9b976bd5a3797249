// Package sandlink provides a process-backed RPC client for sandboxed
// worker processes: it owns the worker's lifecycle (spawn, handshake,
// shutdown, crash recovery), frames newline-delimited envelopes over the
// worker's stdio pipes, correlates concurrent in-flight requests with
// per-call timeouts, and exposes a named-tool invocation façade.
//
// This file flat re-exports the linewire submodule so most callers only
// import the root package.
package sandlink

import "github.com/machinefabric/sandlink-go/linewire"

// Wire types
type Envelope = linewire.Envelope
type RPCError = linewire.RPCError
type LineDecoder = linewire.LineDecoder

// Correlation types
type Correlator = linewire.Correlator
type PendingCall = linewire.PendingCall

// Lifecycle types
type WorkerHost = linewire.WorkerHost
type Option = linewire.Option
type State = linewire.State
type ToolInfo = linewire.ToolInfo

// Error types
type ClientError = linewire.ClientError
type ErrorKind = linewire.ErrorKind

var NewWorkerHost = linewire.NewWorkerHost
var NewLineDecoder = linewire.NewLineDecoder
var NewCorrelator = linewire.NewCorrelator
var NewRequest = linewire.NewRequest
var NewNotification = linewire.NewNotification
var DecodeEnvelope = linewire.DecodeEnvelope

// Host options
var WithLogger = linewire.WithLogger
var WithCommand = linewire.WithCommand
var WithWorkingDir = linewire.WithWorkingDir
var WithEnv = linewire.WithEnv
var WithRequestTimeout = linewire.WithRequestTimeout
var WithConfigFile = linewire.WithConfigFile
var WithNotificationHandler = linewire.WithNotificationHandler
var WithClientInfo = linewire.WithClientInfo

// Error predicates
var IsTransport = linewire.IsTransport
var IsProtocol = linewire.IsProtocol
var IsTimeout = linewire.IsTimeout
var IsToolError = linewire.IsToolError

// Protocol constants
const ProtocolVersion = linewire.ProtocolVersion
const ConfigEnvVar = linewire.ConfigEnvVar
const DefaultRequestTimeout = linewire.DefaultRequestTimeout

// Lifecycle states
const (
	StateIdle     = linewire.StateIdle
	StateStarting = linewire.StateStarting
	StateReady    = linewire.StateReady
	StateStopping = linewire.StateStopping
	StateStopped  = linewire.StateStopped
	StateCrashed  = linewire.StateCrashed
)

// Error kinds
const (
	ErrorKindTransport = linewire.ErrorKindTransport
	ErrorKindProtocol  = linewire.ErrorKindProtocol
	ErrorKindTimeout   = linewire.ErrorKindTimeout
	ErrorKindTool      = linewire.ErrorKindTool
)
