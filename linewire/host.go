package linewire

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Environment key carrying the serialized side-channel configuration.
// Read by the worker once at startup; ignored when --config is supplied.
const ConfigEnvVar = "SANDLINK_WORKER_CONFIG"

// Fallback invocation when no explicit command is configured.
const (
	defaultWorkerCommand = "sandlink-worker"
	defaultWorkerArg     = "--stdio"
)

// State is the lifecycle state of a WorkerHost.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateReady
	StateStopping
	StateStopped
	// StateCrashed is terminal for a session: spawn failure or a runtime
	// transport error. A new Start opens a fresh session.
	StateCrashed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateCrashed:
		return "crashed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ToolInfo describes one tool advertised by the worker during startup
// capability discovery.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Option configures a WorkerHost.
type Option func(*WorkerHost)

// WithLogger sets the structured logger. Defaults to a nop logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(h *WorkerHost) { h.log = log }
}

// WithCommand sets the worker executable and its argument vector,
// replacing the fallback invocation.
func WithCommand(path string, args ...string) Option {
	return func(h *WorkerHost) {
		h.command = path
		h.args = args
	}
}

// WithWorkingDir sets the worker's working directory.
func WithWorkingDir(dir string) Option {
	return func(h *WorkerHost) { h.dir = dir }
}

// WithEnv appends KEY=VALUE entries to the worker's inherited environment.
func WithEnv(vars ...string) Option {
	return func(h *WorkerHost) { h.extraEnv = append(h.extraEnv, vars...) }
}

// WithRequestTimeout sets the per-request budget, covering the handshake
// as well. This is the whole timeout contract: one timer per request,
// never renewed, and no automatic retry at any layer.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *WorkerHost) { h.timeout = d }
}

// WithConfigFile delivers the side-channel configuration through a
// temporary file passed as "--config <path>" instead of the environment.
// The file is deleted on every exit path.
func WithConfigFile() Option {
	return func(h *WorkerHost) { h.configViaFile = true }
}

// WithNotificationHandler sets the sink for worker notifications. No
// caller ever blocks on notifications; the default sink logs at debug.
func WithNotificationHandler(fn func(method string, params json.RawMessage)) Option {
	return func(h *WorkerHost) { h.notifyFn = fn }
}

// WithClientInfo sets the client identity sent in the handshake.
func WithClientInfo(name, version string) Option {
	return func(h *WorkerHost) {
		h.clientName = name
		h.clientVersion = version
	}
}

// WorkerHost owns one external worker process and the duplex pipe pair to
// it: spawn, handshake, steady-state call dispatch, shutdown, and crash
// recovery. At most one session is live per host; starting a new one
// first tears down the old one.
//
// All pipe handles are confined to the host's goroutines. Outbound
// traffic goes through the correlator onto a writer goroutine, one write
// per frame, so concurrent senders never interleave partial frames.
type WorkerHost struct {
	log           *zap.SugaredLogger
	command       string
	args          []string
	dir           string
	extraEnv      []string
	timeout       time.Duration
	configViaFile bool
	notifyFn      func(method string, params json.RawMessage)
	clientName    string
	clientVersion string

	mu         sync.Mutex
	state      State
	session    *workerSession
	configBlob []byte
	tools      []ToolInfo
}

// workerSession is one spawned (or attached) worker's lifetime: process
// handle, stream handles, correlator, and the temp config file if any.
type workerSession struct {
	id         string
	log        *zap.SugaredLogger
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	corr       *Correlator
	writerCh   chan []byte
	done       chan struct{}
	closeOnce  sync.Once
	configPath string
}

func (s *workerSession) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// sendFrame hands one complete frame to the writer goroutine. Blocks when
// the writer is backlogged; fails once the session has ended.
func (s *workerSession) sendFrame(frame []byte) error {
	select {
	case s.writerCh <- frame:
		return nil
	case <-s.done:
		return NewTransportError("worker session closed")
	}
}

// removeConfigFile deletes the temp side-channel file. Idempotent; every
// exit path calls it and only the first delete does work.
func (s *workerSession) removeConfigFile() {
	if s.configPath == "" {
		return
	}
	if err := os.Remove(s.configPath); err != nil && !os.IsNotExist(err) {
		s.log.Warnf("failed to remove worker config file %s: %s", s.configPath, err)
	}
}

// NewWorkerHost creates an idle host. No process is spawned until Start.
func NewWorkerHost(opts ...Option) *WorkerHost {
	h := &WorkerHost{
		log:           zap.NewNop().Sugar(),
		command:       defaultWorkerCommand,
		args:          []string{defaultWorkerArg},
		timeout:       DefaultRequestTimeout,
		clientName:    "sandlink",
		clientVersion: "0.9",
		state:         StateIdle,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetConfig sets the serialized side-channel configuration handed to the
// worker at spawn time. Write-once per session: it must be set before
// Start and cannot change while a session is live.
func (h *WorkerHost) SetConfig(blob []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session != nil {
		return fmt.Errorf("cannot change worker config while a session is live")
	}
	h.configBlob = append([]byte(nil), blob...)
	return nil
}

// State returns the current lifecycle state.
func (h *WorkerHost) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Tools returns the tool list captured by startup capability discovery,
// empty when discovery failed.
func (h *WorkerHost) Tools() []ToolInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ToolInfo(nil), h.tools...)
}

// SessionId returns the current session's id, empty when no session is live.
func (h *WorkerHost) SessionId() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		return ""
	}
	return h.session.id
}

// Start spawns the worker, wires its pipes, and performs the handshake.
// A handshake failure is the call's own failure and leaves no live
// session. Starting while a session is live implicitly stops it first.
func (h *WorkerHost) Start(ctx context.Context) error {
	h.beginSession()

	sess, err := h.spawn()
	if err != nil {
		h.mu.Lock()
		h.state = StateCrashed
		h.mu.Unlock()
		return err
	}
	h.log.Debugw("worker spawned", "session", sess.id, "command", h.command, "pid", sess.cmd.Process.Pid)

	h.mu.Lock()
	h.session = sess
	h.mu.Unlock()

	go h.waitLoop(sess)

	if err := h.handshake(ctx, sess); err != nil {
		h.teardown(sess, StateStopped, NewTransportError("handshake failed: %v", err))
		return fmt.Errorf("handshake failed: %w", err)
	}
	return h.promote(sess)
}

// Attach runs the handshake and steady-state protocol over caller-supplied
// streams instead of spawning a process, for embedders whose worker is
// already connected. The session ends when stdout reaches EOF or Stop is
// called; closing stdin is the only termination signal available here.
func (h *WorkerHost) Attach(ctx context.Context, stdout io.Reader, stdin io.WriteCloser) error {
	h.beginSession()

	sess := h.newSession()
	sess.stdin = stdin
	sess.corr = NewCorrelator(sess.sendFrame, h.timeout, sess.log)

	h.mu.Lock()
	h.session = sess
	h.mu.Unlock()

	go h.writerLoop(sess, stdin)
	go h.readerLoop(sess, stdout)

	if err := h.handshake(ctx, sess); err != nil {
		h.teardown(sess, StateStopped, NewTransportError("handshake failed: %v", err))
		return fmt.Errorf("handshake failed: %w", err)
	}
	return h.promote(sess)
}

// Stop terminates the worker. Idempotent: stopping an idle or already
// stopped host is a no-op, never an error. Temp-file cleanup runs here
// synchronously so it is guaranteed even when the exit event is delayed
// or never observed.
func (h *WorkerHost) Stop() error {
	h.mu.Lock()
	sess := h.session
	if sess == nil {
		h.mu.Unlock()
		return nil
	}
	h.state = StateStopping
	h.mu.Unlock()

	h.teardown(sess, StateStopped, NewTransportError("worker stopped"))
	return nil
}

// Send issues a request on the live session and returns its completion
// handle. Multiple requests may be outstanding at once, each with its own
// independent timer.
func (h *WorkerHost) Send(method string, params interface{}) (*PendingCall, error) {
	sess, err := h.readySession()
	if err != nil {
		return nil, err
	}
	return sess.corr.Send(method, params)
}

// Call issues a request and waits for its completion.
func (h *WorkerHost) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	call, err := h.Send(method, params)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// Notify writes a one-way message on the live session.
func (h *WorkerHost) Notify(method string, params interface{}) error {
	sess, err := h.readySession()
	if err != nil {
		return err
	}
	return sess.corr.Notify(method, params)
}

func (h *WorkerHost) readySession() (*workerSession, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil || h.state != StateReady {
		return nil, NewTransportError("worker not ready (state %s)", h.state)
	}
	return h.session, nil
}

// beginSession stops any live session and moves the host to Starting.
func (h *WorkerHost) beginSession() {
	h.mu.Lock()
	if h.session != nil {
		h.mu.Unlock()
		h.Stop()
		h.mu.Lock()
	}
	h.state = StateStarting
	h.tools = nil
	h.mu.Unlock()
}

func (h *WorkerHost) newSession() *workerSession {
	sess := &workerSession{
		id:       uuid.NewString(),
		writerCh: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
	sess.log = h.log.Named("session").With("session", sess.id)
	return sess
}

// promote moves a still-current session from Starting to Ready.
func (h *WorkerHost) promote(sess *workerSession) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session != sess {
		return NewTransportError("worker exited during startup")
	}
	h.state = StateReady
	return nil
}

// spawn resolves the worker invocation, builds its environment with the
// side channel, and starts the process with three independent pipes.
func (h *WorkerHost) spawn() (*workerSession, error) {
	sess := h.newSession()

	args := append([]string(nil), h.args...)
	env := append(os.Environ(), h.extraEnv...)

	if len(h.configBlob) > 0 {
		if h.configViaFile {
			path, err := writeConfigFile(h.configBlob)
			if err != nil {
				return nil, NewTransportError("failed to write worker config file: %v", err)
			}
			sess.configPath = path
			args = append(args, "--config", path)
		} else {
			env = append(env, ConfigEnvVar+"="+string(h.configBlob))
		}
	}

	cmd := exec.Command(h.command, args...)
	cmd.Dir = h.dir
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		sess.removeConfigFile()
		return nil, NewTransportError("failed to create stdin pipe: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		sess.removeConfigFile()
		return nil, NewTransportError("failed to create stdout pipe: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		sess.removeConfigFile()
		return nil, NewTransportError("failed to create stderr pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		sess.removeConfigFile()
		return nil, NewTransportError("failed to spawn worker %q: %v", h.command, err)
	}

	sess.cmd = cmd
	sess.stdin = stdin
	sess.corr = NewCorrelator(sess.sendFrame, h.timeout, sess.log)

	go h.writerLoop(sess, stdin)
	go h.readerLoop(sess, stdout)
	go h.stderrLoop(sess, stderr)
	return sess, nil
}

func writeConfigFile(blob []byte) (string, error) {
	f, err := os.CreateTemp("", "sandlink-config-*.json")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(blob); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// handshake sends initialize, awaits it, sends the initialized
// notification, then runs best-effort tool discovery.
func (h *WorkerHost) handshake(ctx context.Context, sess *workerSession) error {
	params := map[string]interface{}{
		"protocolVersion": ProtocolVersion,
		"clientInfo": map[string]string{
			"name":    h.clientName,
			"version": h.clientVersion,
		},
		"sessionId": sess.id,
	}
	call, err := sess.corr.Send(MethodInitialize, params)
	if err != nil {
		return err
	}
	result, err := call.Wait(ctx)
	if err != nil {
		return err
	}

	var init struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(result, &init); err == nil && init.ServerInfo.Name != "" {
		sess.log.Debugw("worker initialized",
			"server", init.ServerInfo.Name, "serverVersion", init.ServerInfo.Version)
	}

	if err := sess.corr.Notify(MethodInitialized, nil); err != nil {
		return err
	}

	h.discoverTools(ctx, sess)
	return nil
}

// discoverTools captures the worker's tool list. Failure is logged, never
// fatal: a worker without tools/list still starts.
func (h *WorkerHost) discoverTools(ctx context.Context, sess *workerSession) {
	call, err := sess.corr.Send(MethodListTools, nil)
	if err != nil {
		sess.log.Warnf("tool discovery failed: %s", err)
		return
	}
	result, err := call.Wait(ctx)
	if err != nil {
		sess.log.Warnf("tool discovery failed: %s", err)
		return
	}

	var listed struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(result, &listed); err != nil {
		sess.log.Warnf("tool discovery returned malformed result: %s", err)
		return
	}

	h.mu.Lock()
	if h.session == sess {
		h.tools = listed.Tools
	}
	h.mu.Unlock()
}

// writerLoop owns the worker's stdin: one write per frame, frames in
// submission order, so concurrent senders never interleave.
func (h *WorkerHost) writerLoop(sess *workerSession, stdin io.WriteCloser) {
	for {
		select {
		case frame := <-sess.writerCh:
			if _, err := stdin.Write(append(frame, '\n')); err != nil {
				sess.log.Debugf("stdin write failed: %s", err)
				h.teardown(sess, StateCrashed, NewTransportError("worker stdin write failed: %v", err))
				return
			}
		case <-sess.done:
			return
		}
	}
}

// readerLoop owns the worker's stdout: raw chunks through the decoder,
// decoded frames to dispatch, strictly in arrival order.
func (h *WorkerHost) readerLoop(sess *workerSession, stdout io.Reader) {
	decoder := NewLineDecoder()
	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			for _, frame := range decoder.Feed(buf[:n]) {
				h.dispatch(sess, frame)
			}
		}
		if err != nil {
			if err != io.EOF {
				sess.log.Debugf("stdout read failed: %s", err)
			}
			h.onReaderDone(sess, err)
			return
		}
	}
}

// onReaderDone ends attached sessions when their stream closes. For
// spawned sessions the process exit watcher owns teardown.
func (h *WorkerHost) onReaderDone(sess *workerSession, err error) {
	if sess.cmd != nil {
		return
	}
	if err != nil && err != io.EOF {
		h.teardown(sess, StateCrashed, NewTransportError("worker stream error: %v", err))
		return
	}
	h.teardown(sess, StateStopped, NewTransportError("worker stream closed"))
}

// stderrLoop drains the worker's stderr into diagnostic logging only.
func (h *WorkerHost) stderrLoop(sess *workerSession, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		sess.log.Debugw("worker stderr", "line", scanner.Text())
	}
}

// waitLoop observes process exit and fails everything outstanding with a
// transport-level cause, within one dispatch turn of the event.
func (h *WorkerHost) waitLoop(sess *workerSession) {
	err := sess.cmd.Wait()
	desc := describeExit(sess.cmd, err)
	sess.log.Debugf("worker process exited: %s", desc)
	h.teardown(sess, StateStopped, NewTransportError("worker process exited (%s)", desc))
}

func describeExit(cmd *exec.Cmd, err error) string {
	if state := cmd.ProcessState; state != nil {
		return state.String()
	}
	if err != nil {
		return err.Error()
	}
	return "unknown"
}

// dispatch routes one decoded frame. A malformed line is logged and
// dropped; it never terminates the stream or fails unrelated calls.
func (h *WorkerHost) dispatch(sess *workerSession, frame []byte) {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		sess.log.Warnw("dropping malformed frame", "error", err)
		return
	}
	switch {
	case env.IsResponse():
		sess.corr.Resolve(*env.Id, env.Result, env.Error)
	case env.IsNotification():
		if h.notifyFn != nil {
			h.notifyFn(env.Method, env.Params)
		} else {
			sess.log.Debugw("worker notification", "method", env.Method)
		}
	case env.IsRequest():
		// Worker-initiated requests are not part of this client's contract.
		sess.log.Warnw("dropping worker-initiated request", "method", env.Method, "id", *env.Id)
	default:
		sess.log.Warnw("dropping envelope with neither id nor method")
	}
}

// teardown ends one session exactly once: fails every outstanding call,
// releases pipes and process, deletes the temp config file, and moves the
// host to final unless the session has already been superseded.
func (h *WorkerHost) teardown(sess *workerSession, final State, cause error) {
	sess.close()
	sess.corr.FailAll(cause)
	if sess.stdin != nil {
		sess.stdin.Close()
	}
	if sess.cmd != nil && sess.cmd.Process != nil {
		sess.cmd.Process.Kill()
	}
	sess.removeConfigFile()

	h.mu.Lock()
	if h.session == sess {
		h.session = nil
		h.state = final
	}
	h.mu.Unlock()
}
