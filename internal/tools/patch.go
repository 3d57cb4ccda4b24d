package tools

import (
	"fmt"
	"go/parser"
	"go/token"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/chainreview/core/internal/apperr"
	"github.com/chainreview/core/internal/run"
	"github.com/chainreview/core/internal/sandbox"
	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
)

// PatchProposeTool implements patch.propose per SPEC_FULL.md §4.2. Bound to
// a single Run at construction — the orchestrator builds one tool set per
// run, the same way RepoFileTool et al. are bound to that run's RepoRoot.
type PatchProposeTool struct {
	Run *run.Run
}

func (t *PatchProposeTool) Name() string        { return "patch.propose" }
func (t *PatchProposeTool) Description() string { return "Propose a textual patch against a finding." }
func (t *PatchProposeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"finding_id":  map[string]interface{}{"type": "string"},
			"file":        map[string]interface{}{"type": "string"},
			"original":    map[string]interface{}{"type": "string"},
			"replacement": map[string]interface{}{"type": "string"},
			"description": map[string]interface{}{"type": "string"},
		},
		"required": []string{"finding_id", "file", "original", "replacement"},
	}
}

func (t *PatchProposeTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	findingID, _ := args["finding_id"].(string)
	file, _ := args["file"].(string)
	original, _ := args["original"].(string)
	replacement, _ := args["replacement"].(string)

	if findingID == "" || file == "" {
		return ErrorResult("finding_id and file are required")
	}
	resolved, err := sandbox.ResolvePath(file, t.Run.RepoRoot)
	if err != nil {
		return ErrorResult("path escape: " + file).WithError(apperr.Wrap(apperr.PathEscape, "%s", file))
	}
	content, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("read %s: %v", file, err))
	}
	if count := strings.Count(string(content), original); count != 1 {
		return ErrorResult(fmt.Sprintf("original must occur exactly once in %s, found %d", file, count)).
			WithError(apperr.Wrap(apperr.ToolArgs, "original occurs %d times in %s, want exactly 1", count, file))
	}

	diff := unifiedDiff(file, original, replacement)
	p := run.Patch{
		ID:          "patch_" + uuid.NewString(),
		FindingID:   findingID,
		FilePath:    file,
		Original:    original,
		Replacement: replacement,
		UnifiedDiff: diff,
	}
	t.Run.AddPatch(p)

	return NewResult(fmt.Sprintf(`{"patch_id":%q,"diff":%q}`, p.ID, diff))
}

func unifiedDiff(file, original, replacement string) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(replacement),
		FromFile: file,
		ToFile:   file,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return text
}

// PatchValidateTool implements patch.validate(patch_id): a syntactic,
// textual dry-run — original still matches the file on disk, and for a Go
// file whose replacement begins with a package clause, the replacement
// parses. Replacements without a package clause are taken as fragments and
// are not parse-checked.
type PatchValidateTool struct {
	Run *run.Run
}

func (t *PatchValidateTool) Name() string        { return "patch.validate" }
func (t *PatchValidateTool) Description() string { return "Dry-run validate a proposed patch against the file on disk." }
func (t *PatchValidateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"patch_id": map[string]interface{}{"type": "string"}},
		"required":   []string{"patch_id"},
	}
}

func (t *PatchValidateTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	patchID, _ := args["patch_id"].(string)
	if patchID == "" {
		return ErrorResult("patch_id is required")
	}

	p, ok := t.Run.GetPatch(patchID)
	if !ok {
		return ErrorResult("no such patch: " + patchID).WithError(apperr.Wrap(apperr.NoSuchFinding, "patch %s", patchID))
	}

	resolved, err := sandbox.ResolvePath(p.FilePath, t.Run.RepoRoot)
	if err != nil {
		return ErrorResult("path escape: " + p.FilePath).WithError(apperr.Wrap(apperr.PathEscape, "%s", p.FilePath))
	}
	current, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("read %s: %v", p.FilePath, err))
	}

	message := ""
	validated := strings.Contains(string(current), p.Original)
	if !validated {
		message = "original text no longer matches file on disk"
	} else if lang := languageOf(p.FilePath); lang == "go" {
		if _, err := parser.ParseFile(token.NewFileSet(), p.FilePath, p.Replacement, parser.AllErrors); err != nil {
			if !looksLikeFragment(p.Replacement) {
				validated = false
				message = "replacement does not parse as Go: " + err.Error()
			}
		}
	}

	if err := t.Run.MutatePatch(patchID, func(mp *run.Patch) error {
		mp.Validated = validated
		mp.ValidationMessage = message
		return nil
	}); err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}

	return NewResult(fmt.Sprintf(`{"validated":%t,"message":%q}`, validated, message))
}

func languageOf(path string) string {
	switch filepath.Ext(path) {
	case ".go":
		return "go"
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx":
		return "javascript"
	case ".py":
		return "python"
	default:
		return ""
	}
}

// looksLikeFragment is a cheap heuristic: a replacement that does not begin
// with a package clause (e.g. a single function body or statement list) is
// expected to fail go/parser.ParseFile's whole-file grammar, so it counts as
// a fragment and a parse failure on it isn't treated as invalid. An empty
// replacement counts as a fragment too.
func looksLikeFragment(src string) bool {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return true
	}
	return !strings.HasPrefix(trimmed, "package ")
}

// PatchApplyTool implements patch.apply(patch_id): re-validates, then writes
// the replacement to disk.
type PatchApplyTool struct {
	Run *run.Run
}

func (t *PatchApplyTool) Name() string        { return "patch.apply" }
func (t *PatchApplyTool) Description() string { return "Apply a previously validated patch to disk." }
func (t *PatchApplyTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"patch_id": map[string]interface{}{"type": "string"}},
		"required":   []string{"patch_id"},
	}
}

func (t *PatchApplyTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	patchID, _ := args["patch_id"].(string)
	if patchID == "" {
		return ErrorResult("patch_id is required")
	}

	revalidate := &PatchValidateTool{Run: t.Run}
	if res := revalidate.Execute(ctx, args); res.IsError {
		return res
	}

	p, ok := t.Run.GetPatch(patchID)
	if !ok {
		return ErrorResult("no such patch: " + patchID).WithError(apperr.Wrap(apperr.NoSuchFinding, "patch %s", patchID))
	}
	if !p.Validated {
		return NewResult(fmt.Sprintf(`{"success":false,"message":%q}`, p.ValidationMessage))
	}

	resolved, err := sandbox.ResolvePath(p.FilePath, t.Run.RepoRoot)
	if err != nil {
		return ErrorResult("path escape: " + p.FilePath).WithError(apperr.Wrap(apperr.PathEscape, "%s", p.FilePath))
	}
	current, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("read %s: %v", p.FilePath, err))
	}
	updated := strings.Replace(string(current), p.Original, p.Replacement, 1)

	info, err := os.Stat(resolved)
	mode := os.FileMode(0o644)
	if err == nil {
		mode = info.Mode()
	}
	if err := os.WriteFile(resolved, []byte(updated), mode); err != nil {
		return ErrorResult(fmt.Sprintf("write %s: %v", p.FilePath, err)).WithError(apperr.Wrap(apperr.ToolFailure, "write %s: %s", p.FilePath, err))
	}

	if err := t.Run.MutatePatch(patchID, func(mp *run.Patch) error {
		mp.Applied = true
		return nil
	}); err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}

	return NewResult(`{"success":true,"message":"applied"}`)
}
