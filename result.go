package sandlink

import (
	"encoding/json"
	"fmt"
)

// ToolResult is the unwrapped payload of one successful tool invocation.
// When the worker's text payload parses as JSON, Value holds the parsed
// value and Structured is true; otherwise Text carries the raw text
// verbatim. Tool failures never produce a ToolResult; they surface as a
// tool-kind ClientError instead.
type ToolResult struct {
	Value      interface{}
	Text       string
	Structured bool
}

// DecodeInto re-marshals a structured result into out.
func (r *ToolResult) DecodeInto(out interface{}) error {
	if !r.Structured {
		return fmt.Errorf("tool result is not structured: %q", r.Text)
	}
	data, err := json.Marshal(r.Value)
	if err != nil {
		return fmt.Errorf("failed to re-marshal tool result: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode tool result: %w", err)
	}
	return nil
}
