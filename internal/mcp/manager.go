// Package mcp connects to the auxiliary MCP tool servers named in
// .chainreview.json5's mcpServers block and bridges their tools into the
// Tool Runtime's registry, per SPEC_FULL.md §4.9. Generalizes the teacher's
// internal/mcp package, dropping its managed/multi-tenant mode — ChainReview
// has no per-agent-per-user grant model, so every connected server's tools
// are available to every run, subject only to the run's config.ToolAllowed
// policy.
package mcp

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"

	"github.com/chainreview/core/internal/config"
	"github.com/chainreview/core/internal/tools"
)

const (
	healthCheckInterval  = 30 * time.Second
	initialBackoff       = 2 * time.Second
	maxBackoff           = 60 * time.Second
	maxReconnectAttempts = 10
)

// ServerStatus reports the connection status of one MCP server.
type ServerStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"tool_count"`
	Error     string `json:"error,omitempty"`
}

type serverState struct {
	name       string
	transport  string
	client     *mcpclient.Client
	connected  atomic.Bool
	toolNames  []string
	timeoutSec int
	cancel     context.CancelFunc

	mu             sync.Mutex
	reconnAttempts int
	lastErr        string
}

// Manager owns every connected MCP server for one process and bridges their
// tools into a shared registry.
type Manager struct {
	mu       sync.RWMutex
	servers  map[string]*serverState
	registry *tools.Registry
}

func NewManager(registry *tools.Registry) *Manager {
	return &Manager{servers: make(map[string]*serverState), registry: registry}
}

// Start connects to every enabled server in cfg. A server that fails to
// connect is logged and skipped — one misbehaving auxiliary server never
// prevents the review from starting.
func (m *Manager) Start(ctx context.Context, servers map[string]config.MCPServer) {
	for name, srv := range servers {
		if err := m.connectServer(ctx, name, srv.Transport, srv.Command, srv.Args, srv.Env, srv.URL, srv.Headers, srv.ToolPrefix, srv.TimeoutSec); err != nil {
			slog.Warn("mcp.server.connect_failed", "server", name, "error", err)
		}
	}
}

// Stop tears down every server connection and unregisters its tools.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, ss := range m.servers {
		if ss.cancel != nil {
			ss.cancel()
		}
		if ss.client != nil {
			if err := ss.client.Close(); err != nil {
				slog.Debug("mcp.server.close_error", "server", name, "error", err)
			}
		}
		for _, toolName := range ss.toolNames {
			m.registry.Unregister(toolName)
		}
	}
	m.servers = make(map[string]*serverState)
}

func (m *Manager) ServerStatus() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServerStatus, 0, len(m.servers))
	for _, ss := range m.servers {
		out = append(out, ServerStatus{
			Name:      ss.name,
			Transport: ss.transport,
			Connected: ss.connected.Load(),
			ToolCount: len(ss.toolNames),
			Error:     ss.lastErr,
		})
	}
	return out
}

// ToolNames returns every tool name currently bridged from any connected
// server.
func (m *Manager) ToolNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for _, ss := range m.servers {
		out = append(out, ss.toolNames...)
	}
	return out
}

// Tools returns every bridged tool currently registered, across every
// connected server, for BuildRegistry to merge into a per-run registry.
func (m *Manager) Tools() []*BridgeTool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*BridgeTool
	for _, ss := range m.servers {
		for _, name := range ss.toolNames {
			if t, ok := m.registry.Get(name); ok {
				if bt, ok := t.(*BridgeTool); ok {
					out = append(out, bt)
				}
			}
		}
	}
	return out
}
