package protocol

import "fmt"

// Side-stream event type tags. One tag per SideFrame.Type value.
const (
	EventAgentStarted   = "agent_started"
	EventAgentCompleted = "agent_completed"
	EventAgentError     = "agent_error"

	EventPipelineStep = "pipeline_step"

	EventToolCallStart = "tool_call_start"
	EventToolCallEnd   = "tool_call_end"

	EventTextDelta       = "text_delta"
	EventThinkingDelta   = "thinking_delta"
	EventTextComplete    = "text_complete"
	EventThinkingComplete = "thinking_complete"

	EventFinding = "finding"
)

// Channel tags for LLM streaming events.
const (
	ChannelReview   = "review"
	ChannelChat     = "chat"
	ChannelValidate = "validate"
)

// AgentLifecycle is the payload for agent_started / agent_completed / agent_error.
type AgentLifecycle struct {
	Agent string `json:"agent"`
	Err   string `json:"err,omitempty"`
}

// PipelineStep is the payload for pipeline_step.
type PipelineStep struct {
	Step    string `json:"step"`
	Message string `json:"message,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// ToolCallStart is the payload for tool_call_start.
type ToolCallStart struct {
	Agent string                 `json:"agent"`
	Tool  string                 `json:"tool"`
	Args  map[string]interface{} `json:"args"`
}

// toolCallEndSummaryCap bounds ToolCallEnd.ResultSummary per spec §5.
const toolCallEndSummaryCap = 300

// ToolCallEnd is the payload for tool_call_end.
type ToolCallEnd struct {
	Agent         string `json:"agent"`
	ResultSummary string `json:"result_summary"`
}

// NewToolCallEnd truncates summary to the wire's 300-byte cap, appending the
// "…(truncated N bytes)" suffix required by §4.1's generic truncation rule.
func NewToolCallEnd(agent, summary string) ToolCallEnd {
	if len(summary) > toolCallEndSummaryCap {
		overflow := len(summary) - toolCallEndSummaryCap
		summary = summary[:toolCallEndSummaryCap] + fmt.Sprintf("…(truncated %d bytes)", overflow)
	}
	return ToolCallEnd{Agent: agent, ResultSummary: summary}
}

// TextDelta is the payload for text_delta / thinking_delta / text_complete / thinking_complete.
type TextDelta struct {
	Channel string `json:"channel"`
	Delta   string `json:"delta,omitempty"`
	Text    string `json:"text,omitempty"`
}

// AuditEventType is the closed set of AuditEvent.type values. Append-only
// within a run; never rewritten once recorded.
const (
	AuditAgentStarted        = "agent_started"
	AuditAgentCompleted      = "agent_completed"
	AuditEvidenceCollected   = "evidence_collected"
	AuditFindingEmitted      = "finding_emitted"
	AuditFindingExplained    = "finding_explained"
	AuditPatchProposed       = "patch_proposed"
	AuditPatchValidated      = "patch_validated"
	AuditPatchGenerated      = "patch_generated"
	AuditHumanAccepted       = "human_accepted"
	AuditHumanRejected       = "human_rejected"
	AuditFalsePositiveMarked = "false_positive_marked"
	AuditIssueFixed          = "issue_fixed"
	AuditHandoffToAgent      = "handoff_to_agent"
	AuditValidationCompleted = "validation_completed"
)

var auditEventTypes = map[string]bool{
	AuditAgentStarted: true, AuditAgentCompleted: true, AuditEvidenceCollected: true,
	AuditFindingEmitted: true, AuditFindingExplained: true, AuditPatchProposed: true,
	AuditPatchValidated: true, AuditPatchGenerated: true, AuditHumanAccepted: true,
	AuditHumanRejected: true, AuditFalsePositiveMarked: true, AuditIssueFixed: true,
	AuditHandoffToAgent: true, AuditValidationCompleted: true,
}

// IsAuditEventType reports whether t belongs to the closed AuditEvent.type set.
func IsAuditEventType(t string) bool {
	return auditEventTypes[t]
}
