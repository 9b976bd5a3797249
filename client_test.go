package sandlink

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/sandlink-go/linewire"
)

// attachToolWorker wires a client to an in-process fake worker that
// serves the handshake plus a fixed set of tools through tools/call.
func attachToolWorker(t *testing.T, c *Client) {
	t.Helper()

	clientIn, workerOut := io.Pipe()
	workerIn, clientOut := io.Pipe()

	go runToolWorker(workerIn, workerOut)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Host().Attach(ctx, clientIn, clientOut))
	t.Cleanup(func() { c.Stop() })
}

func runToolWorker(in io.Reader, out *io.PipeWriter) {
	defer out.Close()
	scanner := bufio.NewScanner(in)
	var mu sync.Mutex
	send := func(env *linewire.Envelope) {
		data, err := env.Encode()
		if err != nil {
			return
		}
		mu.Lock()
		out.Write(append(data, '\n'))
		mu.Unlock()
	}
	sendText := func(id int64, text string, isError bool) {
		result := map[string]interface{}{
			"content": []map[string]string{{"type": "text", "text": text}},
		}
		if isError {
			result["isError"] = true
		}
		resp, _ := linewire.NewResponse(id, result)
		send(resp)
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		env, err := linewire.DecodeEnvelope(line)
		if err != nil || env.Id == nil {
			continue
		}
		id := *env.Id

		switch env.Method {
		case linewire.MethodInitialize:
			resp, _ := linewire.NewResponse(id, map[string]interface{}{
				"protocolVersion": linewire.ProtocolVersion,
				"serverInfo":      map[string]string{"name": "tool-worker", "version": "0.0"},
			})
			send(resp)
		case linewire.MethodListTools:
			resp, _ := linewire.NewResponse(id, map[string]interface{}{
				"tools": []linewire.ToolInfo{{Name: ToolStartProcess}, {Name: ToolListGroups}},
			})
			send(resp)
		case linewire.MethodCallTool:
			var call struct {
				Name      string                 `json:"name"`
				Arguments map[string]interface{} `json:"arguments"`
			}
			if err := json.Unmarshal(env.Params, &call); err != nil {
				send(linewire.NewErrorResponse(id, -32602, "invalid params"))
				continue
			}
			switch call.Name {
			case "json_tool":
				sendText(id, `{"ok":true,"count":3}`, false)
			case "text_tool":
				sendText(id, "plain output, not JSON", false)
			case "fail_tool":
				sendText(id, "disk quota exceeded", true)
			case ToolStartProcess:
				info, _ := json.Marshal(map[string]interface{}{
					"id":      "proc-1",
					"command": call.Arguments["command"],
					"pid":     4242,
					"state":   "running",
				})
				sendText(id, string(info), false)
			case ToolListGroups:
				sendText(id, `["default","web"]`, false)
			case ToolReadOutput:
				sendText(id, "hello from the sandbox\n", false)
			default:
				send(linewire.NewErrorResponse(id, -32602, "unknown tool: "+call.Name))
			}
		}
	}
}

// TEST401: a tool whose text payload is JSON comes back parsed
func Test401_call_tool_parses_json(t *testing.T) {
	c := NewClient()
	attachToolWorker(t, c)

	res, err := c.CallTool(context.Background(), "json_tool", map[string]interface{}{"x": 1})
	require.NoError(t, err)
	assert.True(t, res.Structured)

	value, ok := res.Value.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, value["ok"])
	assert.Equal(t, float64(3), value["count"])
}

// TEST402: a payload-level failure surfaces the worker's message while
// the session stays Ready for subsequent calls
func Test402_tool_error_leaves_session_ready(t *testing.T) {
	c := NewClient()
	attachToolWorker(t, c)

	_, err := c.CallTool(context.Background(), "fail_tool", nil)
	require.Error(t, err)
	assert.True(t, IsToolError(err))
	assert.Contains(t, err.Error(), "disk quota exceeded")
	assert.Equal(t, StateReady, c.State())

	res, err := c.CallTool(context.Background(), "text_tool", nil)
	require.NoError(t, err)
	assert.False(t, res.Structured)
}

// TEST403: non-JSON payload text is returned verbatim
func Test403_raw_text_verbatim(t *testing.T) {
	c := NewClient()
	attachToolWorker(t, c)

	res, err := c.CallTool(context.Background(), "text_tool", nil)
	require.NoError(t, err)
	assert.False(t, res.Structured)
	assert.Equal(t, "plain output, not JSON", res.Text)
	assert.Nil(t, res.Value)
}

// TEST404: an unknown tool is a transport-layer RPC error, distinct from
// a tool-level one
func Test404_unknown_tool_is_protocol_error(t *testing.T) {
	c := NewClient()
	attachToolWorker(t, c)

	_, err := c.CallTool(context.Background(), "no_such_tool", nil)
	require.Error(t, err)
	assert.True(t, IsProtocol(err))
	assert.False(t, IsToolError(err))
}

// TEST405: typed wrappers decode through the façade
func Test405_typed_wrappers(t *testing.T) {
	c := NewClient()
	attachToolWorker(t, c)
	ctx := context.Background()

	info, err := c.StartProcess(ctx, ProcessSpec{Command: "python3", Args: []string{"serve.py"}})
	require.NoError(t, err)
	assert.Equal(t, "proc-1", info.Id)
	assert.Equal(t, "python3", info.Command)
	assert.Equal(t, 4242, info.Pid)
	assert.Equal(t, "running", info.State)

	groups, err := c.ListGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "web"}, groups)

	output, err := c.Output(ctx, "proc-1", 10)
	require.NoError(t, err)
	assert.Equal(t, "hello from the sandbox\n", output)
}

// TEST406: tool discovery results surface through the client
func Test406_tools_listed(t *testing.T) {
	c := NewClient()
	attachToolWorker(t, c)

	tools := c.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, ToolStartProcess, tools[0].Name)
}

// TEST407: GetConfig returns the last-applied config, zero when unset
func Test407_config_roundtrip(t *testing.T) {
	c := NewClient()
	assert.Equal(t, SecurityConfig{}, c.GetConfig())

	cfg := SecurityConfig{
		AllowedExecutables: []string{"/usr/bin/python3"},
		Resources:          ResourceLimits{MaxCPUPercent: 50, MaxMemoryMB: 512},
		IO:                 IOPolicy{ReadPaths: []string{"/data"}, AllowNetwork: false},
	}
	require.NoError(t, c.SetServerConfig(cfg))
	assert.Equal(t, cfg, c.GetConfig())
}

// TEST408: an invalid config is rejected before it reaches the worker
func Test408_invalid_config_rejected(t *testing.T) {
	c := NewClient()
	err := c.SetServerConfig(SecurityConfig{
		Resources: ResourceLimits{MaxCPUPercent: 150},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid security config")
	assert.Equal(t, SecurityConfig{}, c.GetConfig())
}
