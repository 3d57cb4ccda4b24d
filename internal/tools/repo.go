package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/chainreview/core/internal/apperr"
	"github.com/chainreview/core/internal/sandbox"
)

const maxTreeFiles = 5000

// RepoOpenTool implements repo.open(path) — selects and reports the
// repository root an agent is reviewing.
type RepoOpenTool struct {
	RepoRoot string
}

func (t *RepoOpenTool) Name() string        { return "repo.open" }
func (t *RepoOpenTool) Description() string { return "Select the repository root under review." }
func (t *RepoOpenTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string", "description": "Ignored; a run is bound to one repo_root."},
		},
	}
}

func (t *RepoOpenTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	branch := currentBranch(ctx, t.RepoRoot)
	name := filepath.Base(t.RepoRoot)
	return NewResult(fmt.Sprintf(`{"path":%q,"name":%q,"branch":%q}`, t.RepoRoot, name, branch))
}

func currentBranch(ctx context.Context, repoRoot string) string {
	cmd := exec.CommandContext(ctx, "git", "-C", repoRoot, "rev-parse", "--abbrev-ref", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// RepoTreeTool implements repo.tree(pattern?) — lists tracked and untracked
// (but not ignored) files via git, which already knows the repo's ignore
// rules without ChainReview reimplementing gitignore matching.
type RepoTreeTool struct {
	RepoRoot string
}

func (t *RepoTreeTool) Name() string        { return "repo.tree" }
func (t *RepoTreeTool) Description() string { return "List tracked and untracked files in the repository." }
func (t *RepoTreeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{"type": "string", "description": "Optional glob to filter paths, e.g. '*.go'."},
		},
	}
}

func (t *RepoTreeTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	pattern, _ := args["pattern"].(string)

	cmd := exec.CommandContext(ctx, "git", "-C", t.RepoRoot, "ls-files", "--cached", "--others", "--exclude-standard")
	out, err := cmd.Output()
	if err != nil {
		return ErrorResult(fmt.Sprintf("repo.tree: %v", err)).WithError(apperr.Wrap(apperr.ToolFailure, "git ls-files: %s", err))
	}

	var files []string
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if pattern != "" {
			if ok, _ := filepath.Match(pattern, filepath.Base(line)); !ok {
				continue
			}
		}
		files = append(files, line)
		if len(files) >= maxTreeFiles {
			break
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d files\n", len(files)))
	for _, f := range files {
		sb.WriteString(f)
		sb.WriteByte('\n')
	}
	return NewResult(sb.String())
}

// RepoFileTool implements repo.file(path, start_line?, end_line?) — the one
// tool every path-containment invariant is checked against.
type RepoFileTool struct {
	RepoRoot string
}

func (t *RepoFileTool) Name() string        { return "repo.file" }
func (t *RepoFileTool) Description() string { return "Read a slice of a file inside the repository." }
func (t *RepoFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":       map[string]interface{}{"type": "string"},
			"start_line": map[string]interface{}{"type": "number"},
			"end_line":   map[string]interface{}{"type": "number"},
		},
		"required": []string{"path"},
	}
}

func (t *RepoFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}

	resolved, err := sandbox.ResolvePath(path, t.RepoRoot)
	if err != nil {
		return ErrorResult(fmt.Sprintf("path escape: %s", path)).WithError(apperr.Wrap(apperr.PathEscape, "%s", path))
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("read %s: %v", path, err)).WithError(apperr.Wrap(apperr.ToolFailure, "read %s: %s", path, err))
	}

	lines := strings.Split(string(data), "\n")
	start, end := 1, len(lines)
	if v, ok := args["start_line"].(float64); ok && int(v) >= 1 {
		start = int(v)
	}
	if v, ok := args["end_line"].(float64); ok && int(v) <= len(lines) {
		end = int(v)
	}
	if start > len(lines) {
		start = len(lines)
	}
	if end < start {
		end = start
	}
	slice := lines[start-1 : end]

	return NewResult(fmt.Sprintf("%s\n%s", strconv.Itoa(len(lines))+" lines", strings.Join(slice, "\n")))
}

// RepoSearchTool implements repo.search(pattern, glob?) — a regex grep
// scoped to the repo root, used instead of the raw exec_command grep path
// so agents get structured {file,line,text} hits without a shell.
type RepoSearchTool struct {
	RepoRoot string
}

func (t *RepoSearchTool) Name() string        { return "repo.search" }
func (t *RepoSearchTool) Description() string { return "Regex search across the repository's tracked and untracked (non-ignored) files." }
func (t *RepoSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{"type": "string"},
			"glob":    map[string]interface{}{"type": "string"},
		},
		"required": []string{"pattern"},
	}
}

func (t *RepoSearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return ErrorResult("pattern is required")
	}
	glob, _ := args["glob"].(string)

	re, err := regexp.Compile(pattern)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid pattern: %v", err)).WithError(apperr.Wrap(apperr.ToolArgs, "regex: %s", err))
	}

	lsCmd := exec.CommandContext(ctx, "git", "-C", t.RepoRoot, "ls-files", "--cached", "--others", "--exclude-standard")
	out, err := lsCmd.Output()
	if err != nil {
		return ErrorResult(fmt.Sprintf("repo.search: %v", err)).WithError(apperr.Wrap(apperr.ToolFailure, "git ls-files: %s", err))
	}

	var sb strings.Builder
	matches := 0
	for _, rel := range strings.Split(string(out), "\n") {
		if rel == "" {
			continue
		}
		if glob != "" {
			if ok, _ := filepath.Match(glob, filepath.Base(rel)); !ok {
				continue
			}
		}
		resolved, err := sandbox.ResolvePath(rel, t.RepoRoot)
		if err != nil {
			continue
		}
		f, err := os.Open(resolved)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			if re.MatchString(scanner.Text()) {
				sb.WriteString(fmt.Sprintf("%s:%d: %s\n", rel, lineNo, strings.TrimSpace(scanner.Text())))
				matches++
			}
		}
		f.Close()
		if matches >= maxTreeFiles {
			break
		}
	}

	if matches == 0 {
		return NewResult("no matches")
	}
	return NewResult(sb.String())
}

// RepoDiffTool implements repo.diff(ref_a?, ref_b?) as a unified diff via
// git diff: with both refs it diffs ref_a against ref_b, with ref_a alone the
// working tree against ref_a, and with neither the working tree against the
// index.
type RepoDiffTool struct {
	RepoRoot string
}

func (t *RepoDiffTool) Name() string        { return "repo.diff" }
func (t *RepoDiffTool) Description() string { return "Produce a unified diff between two refs (default: working tree vs index)." }
func (t *RepoDiffTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"ref_a": map[string]interface{}{"type": "string"},
			"ref_b": map[string]interface{}{"type": "string"},
		},
	}
}

func (t *RepoDiffTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	refA, _ := args["ref_a"].(string)
	refB, _ := args["ref_b"].(string)

	gitArgs := []string{"-C", t.RepoRoot, "diff"}
	if refA != "" && refB != "" {
		gitArgs = append(gitArgs, refA, refB)
	} else if refA != "" {
		gitArgs = append(gitArgs, refA)
	}

	cmd := exec.CommandContext(ctx, "git", gitArgs...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if len(out) == 0 {
			return ErrorResult(fmt.Sprintf("repo.diff: %v", err)).WithError(apperr.Wrap(apperr.ToolFailure, "git diff: %s", err))
		}
	}
	if len(out) == 0 {
		return NewResult("no differences")
	}
	return NewResult(string(out))
}
