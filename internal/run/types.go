// Package run holds the process-wide Run data model: the state record of a
// single review invocation, its findings, patches, and audit events.
package run

import (
	"sync"
	"time"

	"github.com/chainreview/core/internal/apperr"
)

// Mode selects which repository surface a review walks.
type Mode string

const (
	ModeRepo Mode = "repo"
	ModeDiff Mode = "diff"
)

// Status is monotonic up to cancelled/error: running -> {complete, error, cancelled}.
type Status string

const (
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// CredentialsMode is purely informational — it never affects orchestration.
type CredentialsMode string

const (
	CredentialsBYOK    CredentialsMode = "byok"
	CredentialsManaged CredentialsMode = "managed"
)

// Category is the closed set of Finding categories.
type Category string

const (
	CategoryArchitecture Category = "architecture"
	CategorySecurity     Category = "security"
	CategoryBugs         Category = "bugs"
)

// Severity is the closed set of Finding severities.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// AgentName is the closed set of agent identities a Finding or AuditEvent may
// be attributed to.
type AgentName string

const (
	AgentArchitecture AgentName = "architecture"
	AgentSecurity     AgentName = "security"
	AgentValidator    AgentName = "validator"
	AgentBugs         AgentName = "bugs"
	AgentExplainer    AgentName = "explainer"
	AgentSystem       AgentName = "system"
)

// Evidence is a contiguous file region cited by a Finding.
type Evidence struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Snippet   string `json:"snippet"`
}

// Finding is a single reviewer conclusion with evidence and severity.
// Immutable once stored, except for the PatchID backlink.
type Finding struct {
	ID         string     `json:"id"`
	RunID      string     `json:"run_id"`
	Category   Category   `json:"category"`
	Severity   Severity   `json:"severity"`
	Title      string     `json:"title"`
	Description string    `json:"description"`
	Agent      AgentName  `json:"agent"`
	Confidence float64    `json:"confidence"`
	Evidence   []Evidence `json:"evidence"`
	PatchID    string     `json:"patch_id,omitempty"`
	Rule       string     `json:"rule,omitempty"`
}

// Patch is a proposed textual replacement with validation and apply steps.
type Patch struct {
	ID                string `json:"id"`
	FindingID         string `json:"finding_id"`
	FilePath          string `json:"file_path"`
	Original          string `json:"original"`
	Replacement       string `json:"replacement"`
	UnifiedDiff       string `json:"unified_diff"`
	Validated         bool   `json:"validated"`
	ValidationMessage string `json:"validation_message,omitempty"`
	Applied           bool   `json:"applied"`
}

// AuditEvent is an append-only record created by any subsystem acting within
// a run. Timestamp is monotonic per run.
type AuditEvent struct {
	ID        string      `json:"id"`
	RunID     string      `json:"run_id"`
	Type      string      `json:"type"`
	Agent     AgentName   `json:"agent,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	TraceID   string      `json:"trace_id,omitempty"`
	SpanID    string      `json:"span_id,omitempty"`
}

// ChatMessage is one turn of a run's chat transcript.
type ChatMessage struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Run is the state record of one review invocation. Created by the
// orchestrator; mutated only by the orchestrator and the agent runtimes it
// dispatches. All mutating access must go through the methods below, which
// hold runMu — enforcing the single-writer-per-run discipline.
type Run struct {
	ID               string
	RepoRoot         string
	Mode             Mode
	Roster           []string
	CredentialsMode  CredentialsMode
	StartedAt        time.Time
	CompletedAt      *time.Time

	mu          sync.Mutex
	status      Status
	findings    []Finding
	events      []AuditEvent
	patches     []Patch
	chat        []ChatMessage
	errorReason string

	cancelMu sync.Mutex
	cancelled bool
	cancelFn  func()
}

// NewRun constructs a Run in the running state.
func NewRun(id, repoRoot string, mode Mode, roster []string, credsMode CredentialsMode) *Run {
	return &Run{
		ID:              id,
		RepoRoot:        repoRoot,
		Mode:            mode,
		Roster:          roster,
		CredentialsMode: credsMode,
		StartedAt:       time.Now(),
		status:          StatusRunning,
	}
}

// Status returns a consistent snapshot of the run's current status.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// ErrorReason returns the structured reason recorded when status is error.
func (r *Run) ErrorReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errorReason
}

// Findings returns a snapshot copy of the findings recorded so far, in
// emission order.
func (r *Run) Findings() []Finding {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Finding, len(r.findings))
	copy(out, r.findings)
	return out
}

// Events returns a snapshot copy of the audit event log.
func (r *Run) Events() []AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AuditEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Patches returns a snapshot copy of the patch list.
func (r *Run) Patches() []Patch {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Patch, len(r.patches))
	copy(out, r.patches)
	return out
}

// ChatTranscript returns a snapshot copy of the chat transcript.
func (r *Run) ChatTranscript() []ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChatMessage, len(r.chat))
	copy(out, r.chat)
	return out
}

// AppendChatMessages appends to the run's chat transcript.
func (r *Run) AppendChatMessages(msgs ...ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat = append(r.chat, msgs...)
}

// AppendEvent appends an audit event, stamping it with a monotonic timestamp
// relative to the previous event in this run.
func (r *Run) AppendEvent(ev AuditEvent) AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) > 0 {
		last := r.events[len(r.events)-1].Timestamp
		if !ev.Timestamp.After(last) {
			ev.Timestamp = last.Add(time.Nanosecond)
		}
	}
	r.events = append(r.events, ev)
	return ev
}

// AddPatch appends a new patch in pending state.
func (r *Run) AddPatch(p Patch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patches = append(r.patches, p)
}

// MutatePatch applies fn to the patch with the given id under the run lock,
// enforcing validated's false->true-at-most-once invariant at the call site.
func (r *Run) MutatePatch(id string, fn func(*Patch) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.patches {
		if r.patches[i].ID == id {
			return fn(&r.patches[i])
		}
	}
	return apperr.Wrap(apperr.NoSuchFinding, "patch %s", id)
}

// GetPatch returns a copy of the patch with the given id.
func (r *Run) GetPatch(id string) (Patch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.patches {
		if p.ID == id {
			return p, true
		}
	}
	return Patch{}, false
}

// Finalize transitions the run to a terminal status and records completion
// time, provided the run is not already terminal.
func (r *Run) Finalize(status Status, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isTerminalLocked() {
		return
	}
	r.status = status
	r.errorReason = reason
	now := time.Now()
	r.CompletedAt = &now
}

func (r *Run) isTerminalLocked() bool {
	return r.status == StatusComplete || r.status == StatusError || r.status == StatusCancelled
}

// SetCancelFunc installs the context.CancelFunc this run's cancellation
// signal trips. Called once, by the orchestrator, at run creation.
func (r *Run) SetCancelFunc(fn func()) {
	r.cancelMu.Lock()
	defer r.cancelMu.Unlock()
	r.cancelFn = fn
}

// Cancel trips the run's cancellation signal. Idempotent: calling it any
// number of times produces at most one effective trip.
func (r *Run) Cancel() {
	r.cancelMu.Lock()
	defer r.cancelMu.Unlock()
	if r.cancelled {
		return
	}
	r.cancelled = true
	if r.cancelFn != nil {
		r.cancelFn()
	}
}

// Cancelled reports whether Cancel has been called.
func (r *Run) Cancelled() bool {
	r.cancelMu.Lock()
	defer r.cancelMu.Unlock()
	return r.cancelled
}

// tryAddFinding appends f unless an existing finding shares its dedupe key;
// then the higher-confidence one stays in that slot (the existing one on a
// tie) and f is not appended. It returns true only when f was appended as a
// new entry. Callers (the orchestrator) hold no external lock; this method
// is the sole writer path for findings.
func (r *Run) tryAddFinding(f Finding) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.findings {
		if sameFindingKey(existing, f) {
			if f.Confidence > existing.Confidence {
				r.findings[i] = f
			}
			return false
		}
	}
	r.findings = append(r.findings, f)
	return true
}

func sameFindingKey(a, b Finding) bool {
	return a.Evidence0FilePath() == b.Evidence0FilePath() &&
		a.Evidence0StartLine() == b.Evidence0StartLine() &&
		a.Evidence0EndLine() == b.Evidence0EndLine() &&
		a.Title == b.Title
}

// Evidence0FilePath/StartLine/EndLine read the first evidence entry's
// location fields, which the dedupe key is defined over per spec §4.5.
func (f Finding) Evidence0FilePath() string {
	if len(f.Evidence) == 0 {
		return ""
	}
	return f.Evidence[0].FilePath
}

func (f Finding) Evidence0StartLine() int {
	if len(f.Evidence) == 0 {
		return 0
	}
	return f.Evidence[0].StartLine
}

func (f Finding) Evidence0EndLine() int {
	if len(f.Evidence) == 0 {
		return 0
	}
	return f.Evidence[0].EndLine
}
