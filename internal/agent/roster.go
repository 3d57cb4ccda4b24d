// Package agent is the Agent Runtime: the tool-use loop that drives one LLM
// Provider turn-by-turn against a fixed tool subset, emitting side-stream
// events as it goes. Generalized from the teacher's single monolithic Loop
// into a roster of narrowly-scoped agent definitions, one per review
// perspective.
package agent

import (
	"github.com/chainreview/core/internal/run"
)

// Definition is one agent's fixed identity: its system prompt, the tool
// names it may call, and the side-stream channel its text/thinking deltas
// are tagged with.
type Definition struct {
	Name        run.AgentName
	SystemPrompt string
	Tools       []string
	Channel     string
}

const baseReviewInstructions = `You are part of ChainReview, a multi-agent code review system. You review a
real repository through the tools you're given — you never see the whole
repository at once. Cite concrete evidence (file, line range, snippet) for
every finding. Do not invent file contents or line numbers you have not
read via a tool. When you are confident a finding is real, report it in the
structured format described below rather than only narrating it in prose.`

// Roster is the fixed set of agents SPEC_FULL.md names. Each agent's Tools
// list is resolved against a run's tools.Registry via Registry.Subset before
// the driver starts that agent's loop.
var Roster = map[run.AgentName]Definition{
	run.AgentArchitecture: {
		Name: run.AgentArchitecture,
		SystemPrompt: baseReviewInstructions + `

Your focus is architecture: layering violations, circular dependencies,
leaky abstractions, inappropriate coupling between modules, and deviations
from the patterns the rest of the codebase already establishes. Use
code.import_graph to understand module boundaries before flagging a
violation.`,
		Tools:   []string{"repo.open", "repo.tree", "repo.file", "repo.search", "code.import_graph", "code.pattern_scan"},
		Channel: "review",
	},
	run.AgentSecurity: {
		Name: run.AgentSecurity,
		SystemPrompt: baseReviewInstructions + `

Your focus is security: injection, path traversal, auth/authz gaps, secret
handling, unsafe deserialization, SSRF, and unsafe use of exec/shell
primitives. You may run read-only scanners (grep, rg, semgrep) via
exec_command. Prefer corroborating a suspicion with a concrete exec_command
or repo.search hit over speculating.`,
		Tools:   []string{"repo.open", "repo.tree", "repo.file", "repo.search", "code.pattern_scan", "exec_command"},
		Channel: "review",
	},
	run.AgentBugs: {
		Name: run.AgentBugs,
		SystemPrompt: baseReviewInstructions + `

Your focus is correctness bugs: nil/None dereferences, off-by-one errors,
race conditions, resource leaks, incorrect error handling, and logic that
contradicts its own comments or tests. Read the surrounding function in full
before concluding a bug is real.`,
		Tools:   []string{"repo.open", "repo.tree", "repo.file", "repo.search", "repo.diff", "code.pattern_scan"},
		Channel: "review",
	},
	run.AgentExplainer: {
		Name: run.AgentExplainer,
		SystemPrompt: baseReviewInstructions + `

You do not produce new findings. Given an existing finding, explain it in
plain language for the developer who will read it: what is wrong, why it
matters, and what a reasonable fix looks like. Use repo.file to re-read the
cited evidence before writing your explanation.`,
		Tools:   []string{"repo.file", "repo.search"},
		Channel: "review",
	},
	run.AgentValidator: {
		Name: run.AgentValidator,
		SystemPrompt: baseReviewInstructions + `

You validate one specific finding on request. Re-read its evidence, form an
independent judgment of whether the issue is still_present, partially_fixed,
fixed, or unable_to_determine, and whether a proposed patch resolves it
without introducing a regression. You may use patch.validate to dry-run a
proposed patch. End your turn with a line of the exact form
"verdict: <still_present|partially_fixed|fixed|unable_to_determine>"
followed by your reasoning.`,
		Tools:   []string{"repo.file", "repo.search", "patch.validate"},
		Channel: "validate",
	},
}

// PatchGenDefinition builds the ad hoc one-shot definition patch.generate
// instantiates: read-only investigation tools plus the discipline of ending
// its turn with a fenced patch block instead of a findings block.
func PatchGenDefinition() Definition {
	return Definition{
		Name: run.AgentSystem,
		SystemPrompt: `You generate a minimal textual patch that resolves one specific finding. Read
the cited evidence with repo.file before proposing a replacement. Keep the
original/replacement spans as small as possible while still fully resolving
the finding — do not rewrite unrelated code.`,
		Tools:   []string{"repo.file", "repo.search"},
		Channel: "validate",
	}
}

// ChatDefinition builds the ad hoc agent definition chat_query instantiates:
// the explainer's read-only posture plus the spawn_review meta-tool, tagged
// to the chat channel. "system" in the data model names orchestration-level
// audit events, not a driven LLM agent — chat_query runs explainer with an
// expanded tool subset instead.
func ChatDefinition() Definition {
	base := Roster[run.AgentExplainer]
	return Definition{
		Name: run.AgentSystem,
		SystemPrompt: base.SystemPrompt + `

You are answering an ad hoc chat question about a review run in progress or
completed. Answer questions about findings already emitted using the run's
context below. If the question warrants fresh investigation beyond what is
already known, spawn a focused sub-review with the spawn_review tool rather
than guessing.`,
		Tools:   append(append([]string{}, base.Tools...), "spawn_review"),
		Channel: "chat",
	}
}
