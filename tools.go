package sandlink

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool names exposed by the sandbox worker. Every wrapper below funnels
// through CallTool.
const (
	ToolStartProcess     = "start_process"
	ToolTerminateProcess = "terminate_process"
	ToolListProcesses    = "list_processes"
	ToolProcessStats     = "process_stats"
	ToolReadOutput       = "read_output"
	ToolWriteStdin       = "write_stdin"
	ToolListGroups       = "list_groups"
	ToolListServices     = "list_services"
)

// ProcessSpec describes a process to start inside the sandbox.
type ProcessSpec struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Group   string            `json:"group,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// ProcessInfo is the worker's view of one sandboxed process.
type ProcessInfo struct {
	Id      string `json:"id"`
	Command string `json:"command"`
	Pid     int    `json:"pid,omitempty"`
	State   string `json:"state,omitempty"`
	Group   string `json:"group,omitempty"`
}

// ProcessStats is a point-in-time resource snapshot of one process.
type ProcessStats struct {
	Id          string  `json:"id"`
	CPUPercent  float64 `json:"cpuPercent"`
	MemoryBytes int64   `json:"memoryBytes"`
	UptimeSec   int64   `json:"uptimeSec"`
}

// ServiceInfo describes one long-running service managed by the worker.
type ServiceInfo struct {
	Name  string `json:"name"`
	State string `json:"state"`
	Group string `json:"group,omitempty"`
}

// StartProcess starts a process in the sandbox and returns its handle.
func (c *Client) StartProcess(ctx context.Context, spec ProcessSpec) (*ProcessInfo, error) {
	args, err := structArgs(spec)
	if err != nil {
		return nil, err
	}
	res, err := c.CallTool(ctx, ToolStartProcess, args)
	if err != nil {
		return nil, err
	}
	var info ProcessInfo
	if err := res.DecodeInto(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

// TerminateProcess asks the worker to terminate a sandboxed process.
func (c *Client) TerminateProcess(ctx context.Context, id string) error {
	_, err := c.CallTool(ctx, ToolTerminateProcess, map[string]interface{}{"id": id})
	return err
}

// ListProcesses returns every process the worker is tracking.
func (c *Client) ListProcesses(ctx context.Context) ([]ProcessInfo, error) {
	res, err := c.CallTool(ctx, ToolListProcesses, nil)
	if err != nil {
		return nil, err
	}
	var infos []ProcessInfo
	if err := res.DecodeInto(&infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// Stats returns a resource snapshot for one process.
func (c *Client) Stats(ctx context.Context, id string) (*ProcessStats, error) {
	res, err := c.CallTool(ctx, ToolProcessStats, map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}
	var stats ProcessStats
	if err := res.DecodeInto(&stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Output returns captured output of one process. tailLines limits the
// result to the trailing lines when positive.
func (c *Client) Output(ctx context.Context, id string, tailLines int) (string, error) {
	args := map[string]interface{}{"id": id}
	if tailLines > 0 {
		args["tail"] = tailLines
	}
	res, err := c.CallTool(ctx, ToolReadOutput, args)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// SendStdin writes data to a sandboxed process's standard input.
func (c *Client) SendStdin(ctx context.Context, id string, data string) error {
	_, err := c.CallTool(ctx, ToolWriteStdin, map[string]interface{}{"id": id, "data": data})
	return err
}

// ListGroups returns the worker's process group names.
func (c *Client) ListGroups(ctx context.Context) ([]string, error) {
	res, err := c.CallTool(ctx, ToolListGroups, nil)
	if err != nil {
		return nil, err
	}
	var groups []string
	if err := res.DecodeInto(&groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// ListServices returns the worker's managed services.
func (c *Client) ListServices(ctx context.Context) ([]ServiceInfo, error) {
	res, err := c.CallTool(ctx, ToolListServices, nil)
	if err != nil {
		return nil, err
	}
	var services []ServiceInfo
	if err := res.DecodeInto(&services); err != nil {
		return nil, err
	}
	return services, nil
}

// structArgs flattens a typed argument struct into the map shape the
// tools/call params expect.
func structArgs(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool arguments: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to build tool arguments: %w", err)
	}
	return m, nil
}
