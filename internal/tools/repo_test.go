package tools

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func initGitRepo(t *testing.T, root string) {
	t.Helper()
	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", root}, args...)...)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Skipf("git unavailable in test environment: %v: %s", err, out)
		}
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
}

func gitAdd(t *testing.T, root string, files ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", root, "add"}, files...)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git add: %v: %s", err, out)
	}
}

func TestRepoFileTool_ReadsWithinRoot(t *testing.T) {
	root := t.TempDir()
	content := "line1\nline2\nline3\nline4\n"
	if err := os.WriteFile(filepath.Join(root, "a.go"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	tool := &RepoFileTool{RepoRoot: root}
	res := tool.Execute(context.Background(), map[string]interface{}{"path": "a.go"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "line1") || !strings.Contains(res.ForLLM, "line4") {
		t.Errorf("result = %q, expected all lines", res.ForLLM)
	}
}

func TestRepoFileTool_LineRange(t *testing.T) {
	root := t.TempDir()
	content := "one\ntwo\nthree\nfour\nfive\n"
	if err := os.WriteFile(filepath.Join(root, "a.go"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	tool := &RepoFileTool{RepoRoot: root}
	res := tool.Execute(context.Background(), map[string]interface{}{
		"path": "a.go", "start_line": float64(2), "end_line": float64(3),
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.ForLLM)
	}
	if strings.Contains(res.ForLLM, "one") || strings.Contains(res.ForLLM, "five") {
		t.Errorf("result = %q, should be bounded to lines 2-3", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "two") || !strings.Contains(res.ForLLM, "three") {
		t.Errorf("result = %q, missing expected lines 2-3", res.ForLLM)
	}
}

func TestRepoFileTool_RejectsPathEscape(t *testing.T) {
	root := t.TempDir()
	tool := &RepoFileTool{RepoRoot: root}

	res := tool.Execute(context.Background(), map[string]interface{}{"path": "../../etc/passwd"})
	if !res.IsError {
		t.Fatal("expected an error result for a path escaping the repo root")
	}
}

func TestRepoFileTool_MissingPath(t *testing.T) {
	tool := &RepoFileTool{RepoRoot: t.TempDir()}
	res := tool.Execute(context.Background(), map[string]interface{}{})
	if !res.IsError {
		t.Fatal("expected an error result when path is omitted")
	}
}

func TestRepoTreeTool_FiltersByPattern(t *testing.T) {
	root := t.TempDir()
	initGitRepo(t, root)
	os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644)
	os.WriteFile(filepath.Join(root, "README.md"), []byte("# readme"), 0o644)
	gitAdd(t, root, "main.go", "README.md")

	tool := &RepoTreeTool{RepoRoot: root}
	res := tool.Execute(context.Background(), map[string]interface{}{"pattern": "*.go"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "main.go") {
		t.Errorf("result = %q, expected main.go", res.ForLLM)
	}
	if strings.Contains(res.ForLLM, "README.md") {
		t.Errorf("result = %q, README.md should be filtered out by *.go pattern", res.ForLLM)
	}
}

func TestRepoSearchTool_MatchesAcrossFiles(t *testing.T) {
	root := t.TempDir()
	initGitRepo(t, root)
	os.WriteFile(filepath.Join(root, "a.go"), []byte("func TODO() {}\n"), 0o644)
	os.WriteFile(filepath.Join(root, "b.go"), []byte("func Done() {}\n"), 0o644)
	gitAdd(t, root, "a.go", "b.go")

	tool := &RepoSearchTool{RepoRoot: root}
	res := tool.Execute(context.Background(), map[string]interface{}{"pattern": "TODO"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "a.go:1") {
		t.Errorf("result = %q, expected a match in a.go", res.ForLLM)
	}
	if strings.Contains(res.ForLLM, "b.go") {
		t.Errorf("result = %q, b.go should not match TODO", res.ForLLM)
	}
}

func TestRepoSearchTool_RequiresPattern(t *testing.T) {
	tool := &RepoSearchTool{RepoRoot: t.TempDir()}
	res := tool.Execute(context.Background(), map[string]interface{}{})
	if !res.IsError {
		t.Fatal("expected an error result when pattern is omitted")
	}
}
