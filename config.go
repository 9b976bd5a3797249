package sandlink

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// SecurityConfig is the fully-resolved sandbox policy handed to the worker
// at spawn time through the side channel. The client treats it as opaque
// policy: the worker's enforcement of these limits is reached only through
// the RPC protocol. Write-once per session: applied before Start and
// immutable for the session's lifetime.
type SecurityConfig struct {
	AllowedExecutables []string       `json:"allowedExecutables,omitempty"`
	Resources          ResourceLimits `json:"resources,omitempty"`
	Processes          ProcessLimits  `json:"processes,omitempty"`
	IO                 IOPolicy       `json:"io,omitempty"`
	Audit              AuditPolicy    `json:"audit,omitempty"`
}

// ResourceLimits caps the sandbox's resource consumption. Zero means
// unlimited for every field.
type ResourceLimits struct {
	MaxCPUPercent int `json:"maxCpuPercent,omitempty"`
	MaxMemoryMB   int `json:"maxMemoryMb,omitempty"`
	MaxDiskMB     int `json:"maxDiskMb,omitempty"`
}

// ProcessLimits caps process count and lifetime inside the sandbox.
type ProcessLimits struct {
	MaxProcesses   int `json:"maxProcesses,omitempty"`
	MaxLifetimeSec int `json:"maxLifetimeSec,omitempty"`
}

// IOPolicy declares the filesystem and network surface visible to
// sandboxed processes.
type IOPolicy struct {
	ReadPaths    []string `json:"readPaths,omitempty"`
	WritePaths   []string `json:"writePaths,omitempty"`
	AllowNetwork bool     `json:"allowNetwork,omitempty"`
}

// AuditPolicy controls the worker's audit trail.
type AuditPolicy struct {
	Enabled bool   `json:"enabled,omitempty"`
	LogPath string `json:"logPath,omitempty"`
}

// securityConfigSchema is the contract the serialized blob must satisfy
// before it is handed to a worker. Kept strict (additionalProperties
// false) so a typo in a caller-built config fails here, not silently
// inside the worker.
const securityConfigSchema = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"allowedExecutables": {
			"type": "array",
			"items": {"type": "string", "minLength": 1}
		},
		"resources": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"maxCpuPercent": {"type": "integer", "minimum": 0, "maximum": 100},
				"maxMemoryMb": {"type": "integer", "minimum": 0},
				"maxDiskMb": {"type": "integer", "minimum": 0}
			}
		},
		"processes": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"maxProcesses": {"type": "integer", "minimum": 0},
				"maxLifetimeSec": {"type": "integer", "minimum": 0}
			}
		},
		"io": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"readPaths": {"type": "array", "items": {"type": "string", "minLength": 1}},
				"writePaths": {"type": "array", "items": {"type": "string", "minLength": 1}},
				"allowNetwork": {"type": "boolean"}
			}
		},
		"audit": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"enabled": {"type": "boolean"},
				"logPath": {"type": "string"}
			}
		}
	}
}`

// Validate checks the config against the side-channel schema.
func (c *SecurityConfig) Validate() error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal security config: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(securityConfigSchema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("invalid security config: %s", strings.Join(problems, "; "))
}

// Serialize validates the config and returns the side-channel blob.
func (c *SecurityConfig) Serialize() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(c)
}
