package tools

import "github.com/chainreview/core/internal/llm"

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM  string `json:"for_llm"`           // content sent back to the agent
	ForUser string `json:"for_user,omitempty"` // content surfaced on the event bus
	Silent  bool   `json:"silent"`             // suppress the for_user side-event
	IsError bool   `json:"is_error"`
	Async   bool   `json:"async"`
	Err     error  `json:"-"`

	// Usage is set by tools that themselves make LLM calls (none currently
	// do, but the agent loop records it on the tool span when present).
	Usage    *llm.Usage `json:"-"`
	Provider string     `json:"-"`
	Model    string     `json:"-"`
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func SilentResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM, Silent: true}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func UserResult(content string) *Result {
	return &Result{ForLLM: content, ForUser: content}
}

func AsyncResult(message string) *Result {
	return &Result{ForLLM: message, Async: true}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}
