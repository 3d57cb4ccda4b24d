package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/chainreview/core/internal/tools"
)

// BridgeTool adapts one tool discovered on a connected MCP server to the
// tools.Tool interface, so the Tool Runtime's registry and the Agent
// Runtime's dispatch never need to know a tool's implementation lives
// outside the process.
type BridgeTool struct {
	name       string
	serverName string
	origName   string
	toolPrefix string
	desc       string
	schema     map[string]interface{}
	client     *mcpclient.Client
	timeout    time.Duration
	connected  *atomic.Bool
}

// NewBridgeTool wraps mcpTool, discovered on serverName, as a tools.Tool.
// Its registry name is toolPrefix+mcpTool.Name if a prefix is set, else
// "mcp:"+serverName+"."+mcpTool.Name — the teacher's bare mcpTool.Name
// risks collisions across servers, so every bridged tool is namespaced by
// default unless the config gives it an explicit prefix.
func NewBridgeTool(serverName string, mcpTool mcpgo.Tool, client *mcpclient.Client, toolPrefix string, timeoutSec int, connected *atomic.Bool) *BridgeTool {
	name := toolPrefix + mcpTool.Name
	if toolPrefix == "" {
		name = "mcp:" + serverName + "." + mcpTool.Name
	}
	if timeoutSec <= 0 {
		timeoutSec = 60
	}
	return &BridgeTool{
		name:       name,
		serverName: serverName,
		origName:   mcpTool.Name,
		toolPrefix: toolPrefix,
		desc:       mcpTool.Description,
		schema:     inputSchemaToMap(mcpTool.InputSchema),
		client:     client,
		timeout:    time.Duration(timeoutSec) * time.Second,
		connected:  connected,
	}
}

func (b *BridgeTool) Name() string        { return b.name }
func (b *BridgeTool) Description() string { return b.desc }
func (b *BridgeTool) Parameters() map[string]interface{} {
	if b.schema == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return b.schema
}

// OriginalName is the tool's bare name as reported by the MCP server,
// before any prefix or server namespace was applied — used by config's
// allow/deny matching, which is written against the server's own naming.
func (b *BridgeTool) OriginalName() string { return b.origName }

func (b *BridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	if b.connected != nil && !b.connected.Load() {
		return tools.ErrorResult(fmt.Sprintf("mcp server %q is disconnected", b.serverName))
	}

	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.origName
	req.Params.Arguments = args

	res, err := b.client.CallTool(cctx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("mcp %s.%s: %v", b.serverName, b.origName, err))
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	out := tools.NewResult(sb.String())
	out.IsError = res.IsError
	return out
}

func inputSchemaToMap(schema mcpgo.ToolInputSchema) map[string]interface{} {
	typ := schema.Type
	if typ == "" {
		typ = "object"
	}
	props := schema.Properties
	if props == nil {
		props = map[string]interface{}{}
	}
	m := map[string]interface{}{"type": typ, "properties": props}
	if len(schema.Required) > 0 {
		m["required"] = schema.Required
	}
	return m
}
