package linewire

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Default per-request budget. There is no automatic retry at any layer:
// a timed-out call fails once and retrying is the caller's decision.
const DefaultRequestTimeout = 30 * time.Second

// PendingCall is the completion handle returned by Send. It resolves when
// the matching response arrives, its deadline elapses, or the session is
// torn down — whichever happens first. Discarding the handle is safe: the
// table entry is reclaimed by the timeout or by session end.
type PendingCall struct {
	id     int64
	method string

	done   chan struct{}
	result json.RawMessage
	err    error
}

// Id returns the correlation id allocated for this call.
func (p *PendingCall) Id() int64 { return p.id }

// Method returns the request method.
func (p *PendingCall) Method() string { return p.method }

// Done is closed once the call has completed either way.
func (p *PendingCall) Done() <-chan struct{} { return p.done }

// Wait blocks until the call completes or ctx is cancelled. Cancelling ctx
// abandons the handle but does not remove the pending entry; it remains
// until its own timeout or session teardown (a bounded cost, not a leak).
func (p *PendingCall) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type pendingEntry struct {
	call  *PendingCall
	timer *time.Timer
}

// Correlator allocates correlation ids, tracks one outstanding PendingCall
// per id, and resolves or fails them as responses, timeouts, and session
// teardown arrive. Ids start at 1 and are never reused within a session.
//
// All outbound frames go through the injected send function, which must
// serialize whole frames (one write per frame); the worker host backs it
// with a writer goroutine.
type Correlator struct {
	send    func([]byte) error
	timeout time.Duration
	log     *zap.SugaredLogger

	mu      sync.Mutex
	nextId  int64
	pending map[int64]*pendingEntry
}

// NewCorrelator creates a correlator writing frames through send. A zero
// timeout selects DefaultRequestTimeout.
func NewCorrelator(send func([]byte) error, timeout time.Duration, log *zap.SugaredLogger) *Correlator {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Correlator{
		send:    send,
		timeout: timeout,
		log:     log,
		nextId:  1,
		pending: make(map[int64]*pendingEntry),
	}
}

// Send allocates the next id, registers a pending entry with its deadline
// timer, and writes the request frame. The returned handle completes when
// a matching response arrives or the timer fires. A write failure removes
// the entry and surfaces as a transport error.
func (c *Correlator) Send(method string, params interface{}) (*PendingCall, error) {
	c.mu.Lock()
	id := c.nextId
	c.nextId++

	call := &PendingCall{id: id, method: method, done: make(chan struct{})}
	entry := &pendingEntry{call: call}
	c.pending[id] = entry
	c.mu.Unlock()

	env, err := NewRequest(id, method, params)
	if err != nil {
		c.remove(id)
		return nil, err
	}
	frame, err := env.Encode()
	if err != nil {
		c.remove(id)
		return nil, err
	}
	if err := c.send(frame); err != nil {
		c.remove(id)
		return nil, NewTransportError("failed to write request %q: %v", method, err)
	}

	// Arm the deadline only after the frame is on its way. The entry may
	// already have been resolved by a fast response; expire tolerates that.
	c.mu.Lock()
	if e, ok := c.pending[id]; ok {
		e.timer = time.AfterFunc(c.timeout, func() { c.expire(id) })
	}
	c.mu.Unlock()

	return call, nil
}

// Notify writes a one-way frame. There is no completion handle and no
// entry in the pending table.
func (c *Correlator) Notify(method string, params interface{}) error {
	env, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	frame, err := env.Encode()
	if err != nil {
		return err
	}
	if err := c.send(frame); err != nil {
		return NewTransportError("failed to write notification %q: %v", method, err)
	}
	return nil
}

// Resolve completes the pending call matching id. An id with no pending
// entry is dropped silently: a response may legitimately arrive after the
// client gave up at the timeout boundary.
func (c *Correlator) Resolve(id int64, result json.RawMessage, rpcErr *RPCError) {
	entry := c.take(id)
	if entry == nil {
		c.log.Debugw("dropping response with no pending request", "id", id)
		return
	}
	if rpcErr != nil {
		msg := rpcErr.Message
		if msg == "" {
			msg = "request failed"
		}
		c.complete(entry.call, nil, NewProtocolError(rpcErr.Code, msg))
		return
	}
	c.complete(entry.call, result, nil)
}

// FailAll completes every pending call with cause and clears the table.
// Used on spawn failure and on worker exit.
func (c *Correlator) FailAll(cause error) {
	c.mu.Lock()
	entries := c.pending
	c.pending = make(map[int64]*pendingEntry)
	c.mu.Unlock()

	for _, entry := range entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		c.complete(entry.call, nil, cause)
	}
}

// PendingCount returns the number of outstanding calls.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// expire fails one call at its deadline. The timer is never renewed.
func (c *Correlator) expire(id int64) {
	entry := c.take(id)
	if entry == nil {
		return
	}
	c.log.Debugw("request timed out", "id", id, "method", entry.call.method)
	c.complete(entry.call, nil, NewTimeoutError(entry.call.method, c.timeout))
}

// take removes and returns the entry for id, stopping its timer.
func (c *Correlator) take(id int64) *pendingEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	if entry.timer != nil {
		entry.timer.Stop()
	}
	return entry
}

func (c *Correlator) remove(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// complete settles a call exactly once. Entries are removed from the table
// before completion, so no call can be completed twice.
func (c *Correlator) complete(call *PendingCall, result json.RawMessage, err error) {
	call.result = result
	call.err = err
	close(call.done)
}
