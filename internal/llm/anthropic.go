package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"golang.org/x/time/rate"

	"github.com/chainreview/core/internal/tracing"
)

const (
	defaultClaudeModel = "claude-sonnet-4-5-20250929"
	defaultMaxTokens   = 4096

	// defaultRetryRPS/defaultRetryBurst bound how fast retried requests can
	// leave the process, independent of the per-attempt exponential backoff:
	// the backoff alone still lets N concurrently-running agents retry in
	// lockstep and burst the API all at once after a shared outage.
	defaultRetryRPS   = 5
	defaultRetryBurst = 10
)

// AnthropicProvider implements Provider against the official Anthropic SDK.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
	retryLimiter *rate.Limiter
}

// AnthropicConfig configures AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// NewAnthropicProvider builds a provider from config, applying defaults for
// anything left zero.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: anthropic API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultClaudeModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		retryLimiter: rate.NewLimiter(rate.Limit(defaultRetryRPS), defaultRetryBurst),
	}, nil
}

func (p *AnthropicProvider) Name() string        { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }

// Stream drives one turn against Claude and translates the SDK's SSE event
// union into the four ChainReview frame kinds. The returned channel is
// closed once a final_stop frame (success or error) has been sent.
func (p *AnthropicProvider) Stream(ctx context.Context, req ChatRequest) (<-chan Frame, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("llm: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("llm: convert tools: %w", err)
		}
		params.Tools = tools
	}
	if req.ThinkingMode != "" {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(thinkingBudget(req.ThinkingMode))
	}

	frames := make(chan Frame)
	go p.run(ctx, params, model, frames)
	return frames, nil
}

func (p *AnthropicProvider) run(ctx context.Context, params anthropic.MessageNewParams, model string, frames chan<- Frame) {
	defer close(frames)

	var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	var err error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		stream, err = p.newStream(ctx, params)
		if err == nil {
			break
		}
		if !isRetryable(err) {
			frames <- Frame{Kind: FrameFinalStop, Stop: StopCancelled, Err: err}
			return
		}
		if attempt == p.maxRetries {
			break
		}
		tracing.RecordLLMRetry(ctx, model)
		backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
		select {
		case <-ctx.Done():
			frames <- Frame{Kind: FrameFinalStop, Stop: StopCancelled, Err: ctx.Err()}
			return
		case <-time.After(backoff):
		}
		if err := p.retryLimiter.Wait(ctx); err != nil {
			frames <- Frame{Kind: FrameFinalStop, Stop: StopCancelled, Err: ctx.Err()}
			return
		}
	}
	if err != nil {
		frames <- Frame{Kind: FrameFinalStop, Stop: StopCancelled, Err: fmt.Errorf("llm: max retries exceeded: %w", err)}
		return
	}

	var toolID, toolName string
	var toolInput strings.Builder
	var usage Usage

	for stream.Next() {
		if ctx.Err() != nil {
			frames <- Frame{Kind: FrameFinalStop, Stop: StopCancelled, Err: ctx.Err()}
			return
		}
		event := stream.Current()
		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			usage.PromptTokens = int(ms.Message.Usage.InputTokens)

		case "content_block_start":
			cbs := event.AsContentBlockStart()
			if cbs.ContentBlock.Type == "tool_use" {
				tu := cbs.ContentBlock.AsToolUse()
				toolID, toolName = tu.ID, tu.Name
				toolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				frames <- Frame{Kind: FrameTextDelta, Delta: delta.Text}
			case "thinking_delta":
				frames <- Frame{Kind: FrameThinkingDelta, Delta: delta.Thinking}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if toolID != "" {
				var args map[string]interface{}
				_ = json.Unmarshal([]byte(toolInput.String()), &args)
				frames <- Frame{Kind: FrameToolUse, CallID: toolID, Tool: toolName, Args: args}
				toolID, toolName = "", ""
			}

		case "message_delta":
			md := event.AsMessageDelta()
			usage.CompletionTokens = int(md.Usage.OutputTokens)

		case "message_stop":
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			frames <- Frame{Kind: FrameFinalStop, Stop: StopEndTurn, Usage: usage}
			return

		case "error":
			frames <- Frame{Kind: FrameFinalStop, Stop: StopCancelled, Err: fmt.Errorf("llm: anthropic stream error")}
			return
		}
	}

	if err := stream.Err(); err != nil {
		frames <- Frame{Kind: FrameFinalStop, Stop: StopCancelled, Err: err}
	}
}

func (p *AnthropicProvider) newStream(ctx context.Context, params anthropic.MessageNewParams) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	stream := p.client.Messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return stream, nil
}

func convertMessages(messages []Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))
		case RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				content = append(content, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var args map[string]interface{}
				if err := json.Unmarshal(tc.Arguments, &args); err != nil {
					return nil, fmt.Errorf("tool call %s: %w", tc.Name, err)
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(content...))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out, nil
}

func convertTools(tools []ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, t := range tools {
		raw, err := json.Marshal(t.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %s: marshal schema: %w", t.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("tool %s: invalid schema: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(t.Description)
		}
		out = append(out, param)
	}
	return out, nil
}

func thinkingBudget(mode string) int64 {
	switch mode {
	case "low":
		return 4096
	case "high":
		return 32000
	default:
		return 10000
	}
}

func isRetryable(err error) bool {
	msg := err.Error()
	for _, s := range []string{"429", "500", "502", "503", "504", "rate_limit", "timeout", "connection reset"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
