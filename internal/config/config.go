// Package config loads and hot-reloads .chainreview.json5, the ambient
// configuration file describing the default agent roster, tool policy, MCP
// auxiliary servers, sandbox limits, and telemetry endpoints. Schema per
// SPEC_FULL.md §6.1.
package config

import (
	"encoding/json"
	"sync"
)

// Config is the root configuration for the ChainReview core.
type Config struct {
	Agents     []string            `json:"agents,omitempty"`
	Tools      ToolsConfig         `json:"tools,omitempty"`
	MCPServers map[string]MCPServer `json:"mcpServers,omitempty"`
	Sandbox    SandboxConfig       `json:"sandbox,omitempty"`
	Telemetry  TelemetryConfig     `json:"telemetry,omitempty"`

	mu sync.RWMutex
}

// ToolsConfig selects a tool profile or an explicit allow/deny list.
type ToolsConfig struct {
	Profile string   `json:"profile,omitempty"` // "full" (default) | "minimal"
	Allow   []string `json:"allow,omitempty"`
	Deny    []string `json:"deny,omitempty"`
}

// MCPServer describes one auxiliary tool server, stdio or remote.
type MCPServer struct {
	Transport  string            `json:"transport,omitempty"` // "stdio" | "sse" | "streamable-http"
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	ToolPrefix string            `json:"toolPrefix,omitempty"`
	TimeoutSec int               `json:"timeoutSec,omitempty"`
}

// SandboxConfig toggles the Docker-backed exec_command sandbox.
type SandboxConfig struct {
	Docker        bool   `json:"docker,omitempty"`
	CPULimit      string `json:"cpuLimit,omitempty"`
	MemoryLimitMB int    `json:"memoryLimitMB,omitempty"`
}

// TelemetryConfig points at an optional OTLP collector and/or dashboard
// websocket — both best-effort, neither ever gates run progress.
type TelemetryConfig struct {
	OTLPEndpoint   string `json:"otlpEndpoint,omitempty"`
	DashboardWSURL string `json:"dashboardWsURL,omitempty"`
}

// Default returns the all-defaults configuration: absent file means this.
func Default() *Config {
	return &Config{
		Agents: []string{"architecture", "security", "bugs"},
		Tools:  ToolsConfig{Profile: "full"},
		Sandbox: SandboxConfig{
			Docker:        true,
			CPULimit:      "1",
			MemoryLimitMB: 512,
		},
	}
}

// ToolAllowed reports whether name passes this config's tool profile and
// allow/deny lists. "minimal" restricts to the read-only repo.* tools;
// an explicit deny always wins over an explicit allow.
func (c *Config) ToolAllowed(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, d := range c.Tools.Deny {
		if d == name {
			return false
		}
	}
	if len(c.Tools.Allow) > 0 {
		for _, a := range c.Tools.Allow {
			if a == name {
				return true
			}
		}
		return false
	}
	if c.Tools.Profile == "minimal" {
		return minimalProfile[name]
	}
	return true
}

var minimalProfile = map[string]bool{
	"repo.open": true, "repo.tree": true, "repo.file": true, "repo.search": true, "repo.diff": true,
}

// Snapshot returns a deep-enough copy for safe concurrent reading by
// callers that want to hold a stable view across a reload.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := *c
	out.mu = sync.RWMutex{}
	return out
}

// replaceFrom swaps in src's fields under c's lock, used by the hot-reload
// watcher so holders of *Config observe the new values in place.
func (c *Config) replaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Agents = src.Agents
	c.Tools = src.Tools
	c.MCPServers = src.MCPServers
	c.Sandbox = src.Sandbox
	c.Telemetry = src.Telemetry
}

// MarshalJSON is defined explicitly so the unexported mutex never
// participates in encoding/json's reflection over Config's fields.
func (c *Config) MarshalJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	type alias Config
	return json.Marshal((*alias)(&Config{
		Agents: c.Agents, Tools: c.Tools, MCPServers: c.MCPServers, Sandbox: c.Sandbox, Telemetry: c.Telemetry,
	}))
}
