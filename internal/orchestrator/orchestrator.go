// Package orchestrator is the Orchestrator: it owns run_review, the
// validate_finding one-shot, chat_query, and cancel_run, fanning work out
// across the Agent Runtime roster and the Run Store.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chainreview/core/internal/agent"
	"github.com/chainreview/core/internal/apperr"
	"github.com/chainreview/core/internal/bus"
	"github.com/chainreview/core/internal/config"
	"github.com/chainreview/core/internal/llm"
	"github.com/chainreview/core/internal/mcp"
	"github.com/chainreview/core/internal/run"
	"github.com/chainreview/core/internal/sandbox"
	"github.com/chainreview/core/internal/tools"
	"github.com/chainreview/core/pkg/protocol"
)

// defaultRepoRoster is run_review's default agent set for mode=repo.
var defaultRepoRoster = []run.AgentName{run.AgentArchitecture, run.AgentSecurity, run.AgentBugs}

// defaultDiffRoster is the subset of defaultRepoRoster whose tool usage
// tolerates a restricted file set: security and bugs carry over;
// architecture's import-graph sweep does not.
var defaultDiffRoster = []run.AgentName{run.AgentSecurity, run.AgentBugs}

// Orchestrator wires the Run Store, Tool Runtime, and Agent Runtime
// together. One Orchestrator instance serves the whole process.
type Orchestrator struct {
	Store    *run.Store
	Provider llm.Provider
	Bus      *bus.Bus

	// Config is the live, hot-reloadable configuration; ToolAllowed gates
	// which MCP-bridged tools a run's registry carries. Builtin tools are
	// always registered, whatever the profile. Nil means every MCP tool is
	// allowed.
	Config *config.Config
	// MCP is the auxiliary tool server manager; nil when no mcpServers are
	// configured. Its bridged tools are merged into every per-run registry.
	MCP *mcp.Manager
	// DockerCfg controls exec_command's optional sandbox; a fresh
	// sandbox.ExecRunner is built per run, bound to that run's repo root.
	DockerCfg sandbox.DockerConfig

	// spawnedMu guards spawned, the sync.Map-like tracking of chat-spawned
	// child runs (spawn_review), keyed by child run_id, mirroring the
	// teacher's DelegateManager.active bookkeeping.
	spawnedMu sync.Mutex
	spawned   map[string]func()
}

func New(store *run.Store, provider llm.Provider, eventBus *bus.Bus) *Orchestrator {
	return &Orchestrator{
		Store:    store,
		Provider: provider,
		Bus:      eventBus,
		spawned:  make(map[string]func()),
	}
}

// StartReview creates a Run, verifies repo_root, resolves the agent roster,
// and launches the roster concurrently in the background, returning as soon
// as the Run exists so a caller (the Request Router) can respond to
// review.cancel without waiting for agents to converge. done closes once the
// run reaches a terminal status.
func (o *Orchestrator) StartReview(ctx context.Context, repoRoot string, mode run.Mode, agents []string, credsMode run.CredentialsMode) (r *run.Run, done <-chan struct{}, err error) {
	info, err := os.Stat(repoRoot)
	if err != nil || !info.IsDir() {
		return nil, nil, apperr.Wrap(apperr.ToolArgs, "repo_root %q is not a directory", repoRoot)
	}

	roster := resolveRoster(mode, agents)
	rosterNames := make([]string, len(roster))
	for i, a := range roster {
		rosterNames[i] = string(a)
	}

	r = run.NewRun("run_"+uuid.NewString(), repoRoot, mode, rosterNames, credsMode)
	runCtx, cancel := context.WithCancel(ctx)
	r.SetCancelFunc(cancel)
	o.Store.Put(r)

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		o.executeReview(runCtx, r, roster)
	}()

	return r, doneCh, nil
}

// executeReview runs roster concurrently against r and finalizes its status
// once every agent reaches a terminal state.
func (o *Orchestrator) executeReview(ctx context.Context, r *run.Run, roster []run.AgentName) {
	registry := o.BuildRegistry(ctx, r)
	driver := &agent.Driver{Provider: o.Provider, Registry: registry, Bus: o.Bus}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range roster {
		def := agent.Roster[name]
		g.Go(func() error {
			_, err := driver.RunAgent(gctx, r, def, reviewPrompt(r.RepoRoot, r.Mode))
			return err
		})
	}
	agentErr := g.Wait()

	switch {
	case r.Cancelled():
		r.Finalize(run.StatusCancelled, "")
	case agentErr != nil:
		r.Finalize(run.StatusError, agentErr.Error())
	default:
		r.Finalize(run.StatusComplete, "")
	}
}

// RunReview is the blocking convenience wrapper around StartReview: it waits
// for the run to reach a terminal state before returning. spawn_review and
// tests use this; the Request Router uses StartReview directly so it can
// answer review.cancel before the run converges.
func (o *Orchestrator) RunReview(ctx context.Context, repoRoot string, mode run.Mode, agents []string, credsMode run.CredentialsMode) (*run.Run, error) {
	r, done, err := o.StartReview(ctx, repoRoot, mode, agents, credsMode)
	if err != nil {
		return nil, err
	}
	<-done
	return r, nil
}

func reviewPrompt(repoRoot string, mode run.Mode) string {
	switch mode {
	case run.ModeDiff:
		return fmt.Sprintf("Review the uncommitted changes in the repository at %s. Use repo.diff to see what changed before reading further context.", repoRoot)
	default:
		return fmt.Sprintf("Review the repository at %s for issues in your area of focus.", repoRoot)
	}
}

func resolveRoster(mode run.Mode, requested []string) []run.AgentName {
	if len(requested) > 0 {
		out := make([]run.AgentName, 0, len(requested))
		for _, name := range requested {
			if _, ok := agent.Roster[run.AgentName(name)]; ok {
				out = append(out, run.AgentName(name))
			}
		}
		return out
	}
	if mode == run.ModeDiff {
		return defaultDiffRoster
	}
	return defaultRepoRoster
}

// Verdict is validate_finding's closed result set.
type Verdict struct {
	Verdict   string `json:"verdict"`
	Reasoning string `json:"reasoning"`
}

var verdictRe = regexp.MustCompile(`(?im)^verdict:\s*(still_present|partially_fixed|fixed|unable_to_determine)\s*$`)

// ValidateFinding instantiates a one-shot validator agent against an
// existing finding's owning run.
func (o *Orchestrator) ValidateFinding(ctx context.Context, r *run.Run, f run.Finding) (Verdict, error) {
	registry := o.BuildRegistry(ctx, r)
	driver := &agent.Driver{Provider: o.Provider, Registry: registry, Bus: o.Bus}
	def := agent.Roster[run.AgentValidator]

	prompt := fmt.Sprintf("Validate this finding:\n\ntitle: %s\nseverity: %s\ndescription: %s\nevidence: %+v\n\nIs it still present, partially fixed, fixed, or can you not determine?",
		f.Title, f.Severity, f.Description, f.Evidence)

	text, err := driver.RunAgent(ctx, r, def, prompt)
	r.AppendEvent(run.AuditEvent{ID: "evt_" + uuid.NewString(), RunID: r.ID, Type: protocol.AuditValidationCompleted, Agent: run.AgentValidator})
	if err != nil {
		return Verdict{}, err
	}

	verdict := "unable_to_determine"
	if m := verdictRe.FindStringSubmatch(text); m != nil {
		verdict = m[1]
	}
	return Verdict{Verdict: verdict, Reasoning: strings.TrimSpace(text)}, nil
}

// ChatQuery runs an explainer-rooted chat agent against a running or
// completed run's chat transcript, appending the user turn and the
// assistant's reply, and returns the answer text for chat.query's response.
func (o *Orchestrator) ChatQuery(ctx context.Context, r *run.Run, message string) (string, error) {
	r.AppendChatMessages(run.ChatMessage{Role: "user", Content: message})

	registry := o.BuildRegistry(ctx, r)
	o.registerSpawnReview(registry, r)
	driver := &agent.Driver{Provider: o.Provider, Registry: registry, Bus: o.Bus}
	def := agent.ChatDefinition()

	answer, err := driver.RunAgent(ctx, r, def, message)
	if err != nil {
		return "", err
	}
	r.AppendChatMessages(run.ChatMessage{Role: "assistant", Content: answer})
	return answer, nil
}

// Cancel trips a run's cancellation signal and, if it has outstanding
// chat-spawned children, cancels those too.
func (o *Orchestrator) Cancel(r *run.Run) {
	r.Cancel()
	o.spawnedMu.Lock()
	defer o.spawnedMu.Unlock()
	for id, cancel := range o.spawned {
		if parentOf(id) == r.ID {
			cancel()
		}
	}
}

// spawnReview launches a child run from within a chat turn (the
// spawn_review meta-tool), tracked the way the teacher's DelegateManager
// tracks delegations: a cancel func per child, keyed by child run id, so a
// parent's cancellation can reach its children.
func (o *Orchestrator) spawnReview(ctx context.Context, parentID, repoRoot string, agents []string) (*run.Run, error) {
	childID := parentID + "/spawn_" + uuid.NewString()
	childCtx, cancel := context.WithCancel(ctx)

	o.spawnedMu.Lock()
	o.spawned[childID] = cancel
	o.spawnedMu.Unlock()
	defer func() {
		o.spawnedMu.Lock()
		delete(o.spawned, childID)
		o.spawnedMu.Unlock()
	}()

	r, err := o.RunReview(childCtx, repoRoot, run.ModeRepo, agents, run.CredentialsBYOK)
	if err != nil {
		slog.Warn("orchestrator.spawn_review.failed", "parent", parentID, "error", err)
		return nil, err
	}
	return r, nil
}

func parentOf(childRunID string) string {
	for i := 0; i < len(childRunID); i++ {
		if childRunID[i] == '/' {
			return childRunID[:i]
		}
	}
	return childRunID
}

// BuildRegistry constructs the full tool set for one run, binding every
// filesystem/exec/patch tool to r.RepoRoot and r, then merging in any
// MCP-bridged tools the run's config allows.
func (o *Orchestrator) BuildRegistry(ctx context.Context, r *run.Run) *tools.Registry {
	reg := tools.NewRegistry()

	var runner *sandbox.ExecRunner
	if o.DockerCfg.Enabled {
		runner = sandbox.NewExecRunner(ctx, o.DockerCfg, r.RepoRoot)
	}

	reg.Register(&tools.RepoOpenTool{RepoRoot: r.RepoRoot})
	reg.Register(&tools.RepoTreeTool{RepoRoot: r.RepoRoot})
	reg.Register(&tools.RepoFileTool{RepoRoot: r.RepoRoot})
	reg.Register(&tools.RepoSearchTool{RepoRoot: r.RepoRoot})
	reg.Register(&tools.RepoDiffTool{RepoRoot: r.RepoRoot})
	reg.Register(&tools.CodeImportGraphTool{RepoRoot: r.RepoRoot})
	reg.Register(&tools.CodePatternScanTool{RepoRoot: r.RepoRoot})
	reg.Register(&tools.ExecCommandTool{RepoRoot: r.RepoRoot, Runner: runner})
	reg.Register(&tools.PatchProposeTool{Run: r})
	reg.Register(&tools.PatchValidateTool{Run: r})
	reg.Register(&tools.PatchApplyTool{Run: r})
	if ws := tools.NewWebSearchTool(tools.WebSearchConfig{BraveAPIKey: os.Getenv("BRAVE_SEARCH_API_KEY")}); ws != nil {
		reg.Register(ws)
	}

	if o.MCP != nil {
		for _, bt := range o.MCP.Tools() {
			if o.Config != nil && !o.Config.ToolAllowed(bt.OriginalName()) {
				continue
			}
			reg.Register(bt)
		}
	}
	return reg
}

// patchBlockRe extracts the fenced ```patch``` block patch.generate's
// one-shot agent is instructed to end its turn with.
var patchBlockRe = regexp.MustCompile("(?s)```patch\\s*\\n(.*?)\\n```")

// GeneratePatch drives a one-shot patch-generation agent against an
// existing finding and proposes the result through patch.propose,
// mirroring the teacher's pattern of composing a narrow agent turn with a
// plain tool call rather than hand-rolling the patch text itself.
func (o *Orchestrator) GeneratePatch(ctx context.Context, r *run.Run, findingID string) (string, string, error) {
	var target *run.Finding
	for _, f := range r.Findings() {
		if f.ID == findingID {
			found := f
			target = &found
			break
		}
	}
	if target == nil {
		return "", "", apperr.Wrap(apperr.NoSuchFinding, "%s", findingID)
	}

	registry := o.BuildRegistry(ctx, r)
	driver := &agent.Driver{Provider: o.Provider, Registry: registry, Bus: o.Bus}
	def := agent.PatchGenDefinition()

	prompt := fmt.Sprintf("Generate a patch for this finding:\n\ntitle: %s\ndescription: %s\nevidence: %+v\n\n"+
		"Read the cited file with repo.file, then end your turn with a fenced patch block of the exact form:\n\n"+
		"```patch\nfile: <path>\noriginal: <exact text to replace>\nreplacement: <replacement text>\n```",
		target.Title, target.Description, target.Evidence)

	text, err := driver.RunAgent(ctx, r, def, prompt)
	if err != nil {
		return "", "", err
	}

	m := patchBlockRe.FindStringSubmatch(text)
	if m == nil {
		return "", "", apperr.Wrap(apperr.ToolFailure, "patch.generate: no patch block produced")
	}
	file, original, replacement := parsePatchBlock(m[1])
	if file == "" {
		return "", "", apperr.Wrap(apperr.ToolFailure, "patch.generate: malformed patch block")
	}

	res := registry.Invoke(ctx, "patch.propose", map[string]interface{}{
		"finding_id":  findingID,
		"file":        file,
		"original":    original,
		"replacement": replacement,
		"description": target.Title,
	})
	if res.IsError {
		return "", "", apperr.Wrap(apperr.ToolFailure, "%s", res.ForLLM)
	}

	var parsed struct {
		PatchID string `json:"patch_id"`
		Diff    string `json:"diff"`
	}
	_ = json.Unmarshal([]byte(res.ForLLM), &parsed)

	r.AppendEvent(run.AuditEvent{
		ID: "evt_" + uuid.NewString(), RunID: r.ID, Type: protocol.AuditPatchGenerated, Agent: run.AgentSystem,
		Data: map[string]string{"patch_id": parsed.PatchID, "finding_id": findingID},
	})
	return parsed.PatchID, parsed.Diff, nil
}

// parsePatchBlock reads the line-oriented file:/original:/replacement:
// sections out of a fenced patch block body.
func parsePatchBlock(body string) (file, original, replacement string) {
	var section string
	var orig, repl []string
	for _, line := range strings.Split(body, "\n") {
		switch {
		case strings.HasPrefix(line, "file:"):
			file = strings.TrimSpace(strings.TrimPrefix(line, "file:"))
			section = ""
		case strings.HasPrefix(line, "original:"):
			section = "original"
			if rest := strings.TrimSpace(strings.TrimPrefix(line, "original:")); rest != "" {
				orig = append(orig, rest)
			}
		case strings.HasPrefix(line, "replacement:"):
			section = "replacement"
			if rest := strings.TrimSpace(strings.TrimPrefix(line, "replacement:")); rest != "" {
				repl = append(repl, rest)
			}
		default:
			switch section {
			case "original":
				orig = append(orig, line)
			case "replacement":
				repl = append(repl, line)
			}
		}
	}
	return file, strings.Join(orig, "\n"), strings.Join(repl, "\n")
}

// BuildRegistryForRepo constructs just the read-only repo tools, for
// repo.open/repo.tree/repo.file router calls made independent of any run
// (e.g. a host browsing a repository before starting a review).
func BuildRegistryForRepo(repoRoot string) *tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(&tools.RepoOpenTool{RepoRoot: repoRoot})
	reg.Register(&tools.RepoTreeTool{RepoRoot: repoRoot})
	reg.Register(&tools.RepoFileTool{RepoRoot: repoRoot})
	return reg
}

func (o *Orchestrator) registerSpawnReview(reg *tools.Registry, r *run.Run) {
	reg.Register(&spawnReviewTool{orchestrator: o, parentRun: r})
}

// spawnReviewTool wraps Orchestrator.spawnReview as a Tool so the system
// agent's chat loop can invoke it like any other tool.
type spawnReviewTool struct {
	orchestrator *Orchestrator
	parentRun    *run.Run
}

func (t *spawnReviewTool) Name() string { return "spawn_review" }
func (t *spawnReviewTool) Description() string {
	return "Spawn a focused sub-review of the current repository with a chosen subset of agents."
}
func (t *spawnReviewTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"agents": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Agent names to run, e.g. [\"security\"].",
			},
		},
	}
}

func (t *spawnReviewTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	var names []string
	if raw, ok := args["agents"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				names = append(names, s)
			}
		}
	}

	child, err := t.orchestrator.spawnReview(ctx, t.parentRun.ID, t.parentRun.RepoRoot, names)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("spawn_review failed: %v", err))
	}
	return tools.NewResult(fmt.Sprintf(`{"run_id":%q,"status":%q,"findings":%d}`, child.ID, child.Status(), len(child.Findings())))
}
