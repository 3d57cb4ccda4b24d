package protocol

// RPC method name constants. Closed set per spec §6.
const (
	MethodReviewRun             = "review.run"
	MethodReviewCancel          = "review.cancel"
	MethodReviewGetFindings     = "review.get_findings"
	MethodReviewGetEvents       = "review.get_events"
	MethodReviewListRuns        = "review.list_runs"
	MethodReviewDeleteRun       = "review.delete_run"
	MethodReviewRecordEvent     = "review.record_event"
	MethodReviewSaveChatMsgs    = "review.save_chat_messages"
	MethodReviewGetChatMsgs     = "review.get_chat_messages"
	MethodReviewValidateFinding = "review.validate_finding"

	MethodChatQuery = "chat.query"

	MethodPatchPropose  = "patch.propose"
	MethodPatchValidate = "patch.validate"
	MethodPatchApply    = "patch.apply"
	MethodPatchGenerate = "patch.generate"

	MethodRepoOpen = "repo.open"
	MethodRepoTree = "repo.tree"
	MethodRepoFile = "repo.file"
)

// longRunningMethods receive the long deadline (600s); everything else gets
// the short deadline (120s), per spec §4.1.
var longRunningMethods = map[string]bool{
	MethodReviewRun:             true,
	MethodReviewValidateFinding: true,
	MethodChatQuery:             true,
}

// IsLongRunning reports whether method belongs to the long-running deadline class.
func IsLongRunning(method string) bool {
	return longRunningMethods[method]
}

// SentinelEvent is the payload of the sentinel frame emitted once all
// side-stream events for a long-running request have landed, so the host
// can correlate it back to the request that owns it.
type SentinelEvent struct {
	RequestID int64  `json:"request_id"`
	RunID     string `json:"run_id,omitempty"`
}

// SentinelType maps a long-running method to the side-stream sentinel event
// type emitted once all of that request's streaming has landed.
func SentinelType(method string) string {
	switch method {
	case MethodReviewRun:
		return "reviewRunComplete"
	case MethodReviewValidateFinding:
		return "validateFindingComplete"
	case MethodChatQuery:
		return "chatStreamComplete"
	default:
		return ""
	}
}
