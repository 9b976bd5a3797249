package sandlink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/machinefabric/sandlink-go/linewire"
)

// Client is the process-backed RPC client owned by the surrounding
// application: one worker process, one duplex pipe pair. Construct it
// once and pass it by reference; there is no ambient global, so multiple
// clients with independent sessions can coexist.
type Client struct {
	host *linewire.WorkerHost

	mu     sync.Mutex
	config *SecurityConfig
}

// NewClient creates an idle client. Options are the worker host options.
func NewClient(opts ...Option) *Client {
	return &Client{host: linewire.NewWorkerHost(opts...)}
}

// Host exposes the underlying worker host, for embedders that attach
// pre-connected workers or issue raw requests.
func (c *Client) Host() *linewire.WorkerHost {
	return c.host
}

// SetServerConfig validates and applies the sandbox policy delivered to
// the worker at spawn time. Must be called before Start.
func (c *Client) SetServerConfig(cfg SecurityConfig) error {
	blob, err := cfg.Serialize()
	if err != nil {
		return err
	}
	if err := c.host.SetConfig(blob); err != nil {
		return err
	}
	c.mu.Lock()
	c.config = &cfg
	c.mu.Unlock()
	return nil
}

// GetConfig returns the last-applied configuration, zero-valued when none
// was set.
func (c *Client) GetConfig() SecurityConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.config == nil {
		return SecurityConfig{}
	}
	return *c.config
}

// Start spawns the worker and performs the handshake.
func (c *Client) Start(ctx context.Context) error {
	return c.host.Start(ctx)
}

// Stop terminates the worker. Idempotent.
func (c *Client) Stop() error {
	return c.host.Stop()
}

// State returns the worker lifecycle state.
func (c *Client) State() State {
	return c.host.State()
}

// Tools returns the worker's advertised tools, empty when startup
// discovery failed.
func (c *Client) Tools() []ToolInfo {
	return c.host.Tools()
}

type toolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolCallPayload struct {
	Content []toolContent `json:"content"`
	IsError bool          `json:"isError"`
}

// CallTool invokes a named tool on the worker and unwraps its nested
// result payload.
//
// The protocol carries two error layers, kept deliberately distinct: a
// transport- or RPC-level failure means the mechanism itself broke (bad
// method, malformed params, dead worker) and arrives from the host; a
// payload-level isError flag means the tool ran and reported a domain
// failure, surfaced here as a tool-kind ClientError carrying the worker's
// own message text. A tool failure leaves the session Ready.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*ToolResult, error) {
	params := map[string]interface{}{"name": name}
	if args != nil {
		params["arguments"] = args
	}

	raw, err := c.host.Call(ctx, linewire.MethodCallTool, params)
	if err != nil {
		return nil, err
	}

	var payload toolCallPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, linewire.NewProtocolError(0, fmt.Sprintf("malformed tool result: %v", err))
	}

	text := ""
	if len(payload.Content) > 0 {
		text = payload.Content[0].Text
	}

	if payload.IsError {
		if text == "" {
			text = fmt.Sprintf("tool %q failed", name)
		}
		return nil, linewire.NewToolError(text)
	}

	var value interface{}
	if text != "" && json.Unmarshal([]byte(text), &value) == nil {
		return &ToolResult{Value: value, Text: text, Structured: true}, nil
	}
	return &ToolResult{Text: text}, nil
}
