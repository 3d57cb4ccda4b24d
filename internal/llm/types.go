// Package llm is the LLM Client Abstraction: a single streaming interface
// yielding frame kinds text_delta, thinking_delta, tool_use, final_stop, used
// by the Agent Runtime's tool-use loop.
package llm

import (
	"context"
	"encoding/json"
)

// FrameKind is the closed set of frame kinds a Provider stream yields.
type FrameKind string

const (
	FrameTextDelta     FrameKind = "text_delta"
	FrameThinkingDelta FrameKind = "thinking_delta"
	FrameToolUse       FrameKind = "tool_use"
	FrameFinalStop     FrameKind = "final_stop"
)

// StopReason is carried on a FrameFinalStop frame.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopCancelled    StopReason = "cancelled"
)

// Frame is one event out of a Provider's streaming response.
type Frame struct {
	Kind FrameKind

	// TextDelta / ThinkingDelta
	Delta string

	// ToolUse
	CallID string
	Tool   string
	Args   map[string]interface{}

	// FinalStop
	Stop  StopReason
	Usage Usage

	Err error
}

// Usage mirrors the token accounting the teacher's Provider interface carries.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	ThinkingTokens   int
}

// Role is the closed set of message roles in a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of conversation history passed to a Provider.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string // set when Role == RoleTool
}

// ToolCall is an LLM-issued invocation of one of the agent's tools.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolDefinition is the schema exposed to the provider for one tool.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ChatRequest is the input to a single streaming turn.
type ChatRequest struct {
	Model        string
	System       string
	Messages     []Message
	Tools        []ToolDefinition
	MaxTokens    int
	ThinkingMode string // "", "low", "medium", "high"
}

// Provider is the streaming chat-completion interface every LLM backend
// implements. Given a request and a cancellable context, it returns a channel
// of Frames; the channel is closed once a FrameFinalStop (or an error frame)
// has been delivered.
type Provider interface {
	Name() string
	DefaultModel() string
	Stream(ctx context.Context, req ChatRequest) (<-chan Frame, error)
}
