package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/chainreview/core/internal/bus"
	"github.com/chainreview/core/internal/llm"
	"github.com/chainreview/core/internal/run"
	"github.com/chainreview/core/internal/tools"
	"github.com/chainreview/core/internal/tracing"
	"github.com/chainreview/core/pkg/protocol"
)

const defaultMaxIterations = 12

// Driver runs one agent's think-act-observe loop: stream the LLM, relay
// every frame to the bus tagged with the agent's identity, execute any
// tool_use frames through the Tool Runtime, and repeat until the model
// stops requesting tools.
type Driver struct {
	Provider      llm.Provider
	Registry      *tools.Registry
	Bus           *bus.Bus
	MaxIterations int
}

// RunAgent drives def against r with the given user-facing prompt (the
// review task description, or a chat query). It is safe to call Definition
// instances concurrently against the same Run from different goroutines —
// all Run mutation goes through Run's own locked methods.
func (d *Driver) RunAgent(ctx context.Context, r *run.Run, def Definition, userPrompt string) (string, error) {
	maxIter := d.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}

	ctx, span := tracing.StartAgentSpan(ctx, r.ID, string(def.Name))
	defer span.End()

	d.publishLifecycle(r, protocol.EventAgentStarted, def.Name, "")
	r.AppendEvent(run.AuditEvent{
		ID: "evt_" + uuid.NewString(), RunID: r.ID, Type: protocol.AuditAgentStarted, Agent: def.Name,
	})

	toolset, err := d.Registry.Subset(def.Tools)
	if err != nil {
		d.fail(r, def, err)
		return "", err
	}
	toolDefs := make([]llm.ToolDefinition, 0, len(toolset))
	for _, t := range toolset {
		toolDefs = append(toolDefs, llm.ToolDefinition{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()})
	}

	messages := []llm.Message{{Role: llm.RoleUser, Content: userPrompt}}
	var finalText strings.Builder

	for iteration := 0; iteration < maxIter; iteration++ {
		if r.Cancelled() || ctx.Err() != nil {
			r.AppendEvent(run.AuditEvent{ID: "evt_" + uuid.NewString(), RunID: r.ID, Type: protocol.AuditAgentCompleted, Agent: def.Name})
			d.publishLifecycle(r, protocol.EventAgentCompleted, def.Name, "")
			return finalText.String(), nil
		}

		frames, err := d.Provider.Stream(ctx, llm.ChatRequest{
			System:   def.SystemPrompt,
			Messages: messages,
			Tools:    toolDefs,
		})
		if err != nil {
			d.fail(r, def, err)
			return finalText.String(), err
		}

		turnText, toolCalls, stopErr := d.drainTurn(frames, def, &finalText)
		if stopErr != nil {
			d.fail(r, def, stopErr)
			return finalText.String(), stopErr
		}

		assistantMsg := llm.Message{Role: llm.RoleAssistant, Content: turnText}
		for _, tc := range toolCalls {
			argsJSON, _ := json.Marshal(tc.Args)
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, llm.ToolCall{ID: tc.CallID, Name: tc.Tool, Arguments: argsJSON})
		}
		messages = append(messages, assistantMsg)

		if len(toolCalls) == 0 {
			break
		}

		results := d.runToolCalls(ctx, r, def, toolCalls)
		messages = append(messages, results...)
	}

	d.harvestFindings(ctx, r, def, finalText.String())

	r.AppendEvent(run.AuditEvent{ID: "evt_" + uuid.NewString(), RunID: r.ID, Type: protocol.AuditAgentCompleted, Agent: def.Name})
	d.publishLifecycle(r, protocol.EventAgentCompleted, def.Name, "")
	return finalText.String(), nil
}

// drainTurn consumes one Stream call to completion, relaying text/thinking
// deltas to the bus and collecting any tool_use frames. It returns the
// concatenated assistant text for this turn and the tool calls requested.
func (d *Driver) drainTurn(frames <-chan llm.Frame, def Definition, finalText *strings.Builder) (string, []llm.Frame, error) {
	var turnText strings.Builder
	var toolCalls []llm.Frame

	for f := range frames {
		switch f.Kind {
		case llm.FrameTextDelta:
			turnText.WriteString(f.Delta)
			finalText.WriteString(f.Delta)
			d.Bus.Publish(protocol.EventTextDelta, protocol.TextDelta{Channel: def.Channel, Delta: f.Delta})
		case llm.FrameThinkingDelta:
			d.Bus.Publish(protocol.EventThinkingDelta, protocol.TextDelta{Channel: def.Channel, Delta: f.Delta})
		case llm.FrameToolUse:
			toolCalls = append(toolCalls, f)
		case llm.FrameFinalStop:
			if f.Stop == llm.StopCancelled && f.Err != nil {
				return turnText.String(), toolCalls, f.Err
			}
		}
	}
	return turnText.String(), toolCalls, nil
}

// runToolCalls executes every tool_use frame from one turn serially, inline
// on the agent's own task. §4.1/§5 require tool_call_start/tool_call_end
// for a given agent to be strictly paired with no other tool event for
// that same agent interleaved in between; fanning calls out onto
// concurrent goroutines would interleave start(a,t1)/start(a,t2) ahead of
// either end, so each call's start→invoke→end must complete before the
// next one begins.
func (d *Driver) runToolCalls(ctx context.Context, r *run.Run, def Definition, calls []llm.Frame) []llm.Message {
	results := make([]llm.Message, len(calls))
	for i, tc := range calls {
		d.Bus.Publish(protocol.EventToolCallStart, protocol.ToolCallStart{Agent: string(def.Name), Tool: tc.Tool, Args: tc.Args})

		toolCtx, toolSpan := tracing.StartToolSpan(ctx, tc.Tool)
		res := d.Registry.Invoke(toolCtx, tc.Tool, tc.Args)
		toolSpan.End()
		tracing.RecordToolCall(ctx, tc.Tool, res.IsError)

		d.Bus.Publish(protocol.EventToolCallEnd, protocol.NewToolCallEnd(string(def.Name), res.ForLLM))
		if tc.Tool == "patch.propose" {
			r.AppendEvent(run.AuditEvent{ID: "evt_" + uuid.NewString(), RunID: r.ID, Type: protocol.AuditPatchProposed, Agent: def.Name})
		} else if tc.Tool == "patch.validate" {
			r.AppendEvent(run.AuditEvent{ID: "evt_" + uuid.NewString(), RunID: r.ID, Type: protocol.AuditPatchValidated, Agent: def.Name})
		}

		results[i] = llm.Message{Role: llm.RoleTool, Content: res.ForLLM, ToolCallID: tc.CallID}
	}
	return results
}

func (d *Driver) harvestFindings(ctx context.Context, r *run.Run, def Definition, text string) {
	for _, f := range ParseFindings(text, def.Name) {
		f.ID = "finding_" + uuid.NewString()
		f.RunID = r.ID
		kept, evidenceRejected := r.AddFinding(f)
		if evidenceRejected {
			r.AppendEvent(run.AuditEvent{ID: "evt_" + uuid.NewString(), RunID: r.ID, Type: "evidence_rejected", Agent: def.Name})
			continue
		}
		if !kept {
			continue
		}
		r.AppendEvent(run.AuditEvent{ID: "evt_" + uuid.NewString(), RunID: r.ID, Type: protocol.AuditFindingEmitted, Agent: def.Name, Data: f})
		d.Bus.Publish(protocol.EventFinding, f)
		tracing.RecordFinding(ctx, string(f.Severity))
	}
}

func (d *Driver) fail(r *run.Run, def Definition, err error) {
	slog.Warn("agent.error", "agent", def.Name, "run", r.ID, "error", err)
	r.AppendEvent(run.AuditEvent{ID: "evt_" + uuid.NewString(), RunID: r.ID, Type: protocol.AuditAgentCompleted, Agent: def.Name, Data: map[string]string{"error": err.Error()}})
	d.publishLifecycle(r, protocol.EventAgentError, def.Name, err.Error())
}

func (d *Driver) publishLifecycle(r *run.Run, eventType string, agent run.AgentName, errMsg string) {
	d.Bus.Publish(eventType, protocol.AgentLifecycle{Agent: string(agent), Err: errMsg})
}
