package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chainreview/core/internal/run"
)

func newPatchTestRun(t *testing.T, fileContent string) (*run.Run, string) {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, "a.go")
	if err := os.WriteFile(path, []byte(fileContent), 0o644); err != nil {
		t.Fatal(err)
	}
	return run.NewRun("run-1", root, run.ModeRepo, nil, run.CredentialsBYOK), root
}

func TestPatch_ProposeValidateApply_RoundTrip(t *testing.T) {
	original := "package a\n\nfunc F() int {\n\treturn 1\n}\n"
	r, root := newPatchTestRun(t, original)

	propose := &PatchProposeTool{Run: r}
	res := propose.Execute(context.Background(), map[string]interface{}{
		"finding_id":  "f1",
		"file":        "a.go",
		"original":    "return 1",
		"replacement": "return 2",
	})
	if res.IsError {
		t.Fatalf("propose: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "patch_id") {
		t.Fatalf("propose result missing patch_id: %s", res.ForLLM)
	}

	patches := r.Patches()
	if len(patches) != 1 {
		t.Fatalf("len(patches) = %d, want 1", len(patches))
	}
	patchID := patches[0].ID

	validate := &PatchValidateTool{Run: r}
	res = validate.Execute(context.Background(), map[string]interface{}{"patch_id": patchID})
	if res.IsError {
		t.Fatalf("validate: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, `"validated":true`) {
		t.Fatalf("validate result = %q, want validated:true", res.ForLLM)
	}

	apply := &PatchApplyTool{Run: r}
	res = apply.Execute(context.Background(), map[string]interface{}{"patch_id": patchID})
	if res.IsError {
		t.Fatalf("apply: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, `"success":true`) {
		t.Fatalf("apply result = %q, want success:true", res.ForLLM)
	}

	updated, err := os.ReadFile(filepath.Join(root, "a.go"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(updated), "return 2") {
		t.Errorf("file on disk = %q, expected the replacement to be applied", updated)
	}
}

func TestPatchValidate_FailsWhenOriginalDrifted(t *testing.T) {
	r, root := newPatchTestRun(t, "package a\n\nfunc F() int {\n\treturn 1\n}\n")

	propose := &PatchProposeTool{Run: r}
	propose.Execute(context.Background(), map[string]interface{}{
		"finding_id": "f1", "file": "a.go", "original": "return 1", "replacement": "return 2",
	})
	patchID := r.Patches()[0].ID

	// Simulate the file changing on disk between propose and validate.
	if err := os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n\nfunc F() int {\n\treturn 999\n}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	validate := &PatchValidateTool{Run: r}
	res := validate.Execute(context.Background(), map[string]interface{}{"patch_id": patchID})
	if res.IsError {
		t.Fatalf("validate tool itself should not error: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, `"validated":false`) {
		t.Fatalf("validate result = %q, want validated:false since original text is absent", res.ForLLM)
	}
}

func TestPatchApply_RefusesUnvalidatedPatch(t *testing.T) {
	r, root := newPatchTestRun(t, "package a\n\nfunc F() int {\n\treturn 1\n}\n")

	propose := &PatchProposeTool{Run: r}
	propose.Execute(context.Background(), map[string]interface{}{
		"finding_id": "f1", "file": "a.go", "original": "return 1", "replacement": "return 2",
	})
	patchID := r.Patches()[0].ID

	// Simulate the file changing on disk between propose and apply, so apply's
	// re-validation fails.
	if err := os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n\nfunc F() int {\n\treturn 999\n}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	apply := &PatchApplyTool{Run: r}
	res := apply.Execute(context.Background(), map[string]interface{}{"patch_id": patchID})
	if res.IsError {
		t.Fatalf("apply tool itself should not error: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, `"success":false`) {
		t.Fatalf("result = %q, want success:false for an unvalidated patch", res.ForLLM)
	}

	content, _ := os.ReadFile(filepath.Join(r.RepoRoot, "a.go"))
	if strings.Contains(string(content), "return 2") {
		t.Error("file must not be modified when the patch fails validation")
	}
}

func TestPatchPropose_RejectsPathEscape(t *testing.T) {
	r, _ := newPatchTestRun(t, "package a\n")
	propose := &PatchProposeTool{Run: r}
	res := propose.Execute(context.Background(), map[string]interface{}{
		"finding_id": "f1", "file": "../../etc/passwd", "original": "x", "replacement": "y",
	})
	if !res.IsError {
		t.Fatal("expected an error result for a file path escaping the repo root")
	}
}

func TestPatchPropose_RejectsOriginalNotFound(t *testing.T) {
	r, _ := newPatchTestRun(t, "package a\n\nfunc F() int {\n\treturn 1\n}\n")
	propose := &PatchProposeTool{Run: r}
	res := propose.Execute(context.Background(), map[string]interface{}{
		"finding_id": "f1", "file": "a.go", "original": "return 999", "replacement": "return 2",
	})
	if !res.IsError {
		t.Fatal("expected an error result when original does not occur in the file")
	}
	if len(r.Patches()) != 0 {
		t.Fatal("no patch should be recorded when original is not found")
	}
}

func TestPatchPropose_RejectsOriginalOccurringMultipleTimes(t *testing.T) {
	r, _ := newPatchTestRun(t, "package a\n\nfunc F() int {\n\treturn 1\n}\n\nfunc G() int {\n\treturn 1\n}\n")
	propose := &PatchProposeTool{Run: r}
	res := propose.Execute(context.Background(), map[string]interface{}{
		"finding_id": "f1", "file": "a.go", "original": "return 1", "replacement": "return 2",
	})
	if !res.IsError {
		t.Fatal("expected an error result when original occurs more than once in the file")
	}
	if len(r.Patches()) != 0 {
		t.Fatal("no patch should be recorded when original is ambiguous")
	}
}

func TestPatchValidate_UnknownPatch(t *testing.T) {
	r, _ := newPatchTestRun(t, "package a\n")
	validate := &PatchValidateTool{Run: r}
	res := validate.Execute(context.Background(), map[string]interface{}{"patch_id": "nope"})
	if !res.IsError {
		t.Fatal("expected an error result for an unknown patch_id")
	}
}
