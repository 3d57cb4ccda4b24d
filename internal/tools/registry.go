// Package tools is the Tool Runtime: the sandboxed surface every agent calls
// through. Each Tool is named, schema-validated, and channel-scoped by the
// Agent Runtime's roster (internal/run.AgentName -> allowed tool subset).
package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/chainreview/core/internal/apperr"
)

// Tool is one callable surface exposed to an agent.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Registry is a name -> Tool map. The orchestrator builds one per run (and
// the router one per direct repo.* call) from the tool constructors in this
// package; the MCP manager keeps a long-lived one that gains and loses tools
// as servers connect and disconnect. A RWMutex guards the map against
// concurrent Register/Unregister and lookups.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, skipping a nil Tool. A nil *WebSearchTool (what
// NewWebSearchTool returns with no API key) is not a nil Tool once
// converted, so callers check the constructor's result before registering.
func (r *Registry) Register(t Tool) {
	if t == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool, used when an MCP server disconnects or the
// process shuts down. A no-op if name was never registered.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered tool name, sorted, for roster validation
// and for building a provider's tool-definition list.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Subset returns the Tool values for the given names, in the order given,
// erroring if any name is not registered — a misconfigured roster should
// fail startup, not silently drop a tool an agent's system prompt promises.
func (r *Registry) Subset(names []string) ([]Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			return nil, apperr.Wrap(apperr.Internal, "unregistered tool %q in roster", name)
		}
		out = append(out, t)
	}
	return out, nil
}

// Invoke validates args against the tool's schema, then executes it. This is
// the sole call path the Agent Runtime uses to run a tool_use frame, so
// schema validation can never be bypassed.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]interface{}) *Result {
	t, ok := r.Get(name)
	if !ok {
		return ErrorResult("unknown tool: " + name).WithError(apperr.Wrap(apperr.ToolArgs, "unknown tool %q", name))
	}
	if err := ValidateArgs(t.Parameters(), args); err != nil {
		return ErrorResult("invalid arguments: " + err.Error()).WithError(err)
	}
	return t.Execute(ctx, args)
}
