package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExecCommandTool_RunsAllowlistedCommand(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.go"), []byte("package a"), 0o644); err != nil {
		t.Fatal(err)
	}

	tool := &ExecCommandTool{RepoRoot: root}
	res := tool.Execute(context.Background(), map[string]interface{}{"cmd": "ls"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "a.go") {
		t.Errorf("result = %q, expected a.go to be listed", res.ForLLM)
	}
}

func TestExecCommandTool_RejectsDisallowedCommand(t *testing.T) {
	tool := &ExecCommandTool{RepoRoot: t.TempDir()}
	res := tool.Execute(context.Background(), map[string]interface{}{"cmd": "curl https://example.com"})
	if !res.IsError {
		t.Fatal("expected an error result for a command outside the allowlist")
	}
}

func TestExecCommandTool_RejectsShellChain(t *testing.T) {
	tool := &ExecCommandTool{RepoRoot: t.TempDir()}
	res := tool.Execute(context.Background(), map[string]interface{}{"cmd": "ls; rm -rf /"})
	if !res.IsError {
		t.Fatal("expected an error result for a shell-metacharacter command")
	}
}

func TestExecCommandTool_MissingCmd(t *testing.T) {
	tool := &ExecCommandTool{RepoRoot: t.TempDir()}
	res := tool.Execute(context.Background(), map[string]interface{}{})
	if !res.IsError {
		t.Fatal("expected an error result when cmd is omitted")
	}
}

func TestChildEnv_NeverForwardsArbitraryParentVars(t *testing.T) {
	t.Setenv("SOME_SECRET_TOKEN", "should-not-leak")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key")
	t.Setenv("HOME", "/home/tester")

	env := childEnv()

	var sawKey, sawHome, sawPath bool
	for _, kv := range env {
		if strings.Contains(kv, "SOME_SECRET_TOKEN") {
			t.Errorf("childEnv leaked an unrelated parent variable: %q", kv)
		}
		if kv == "ANTHROPIC_API_KEY=sk-test-key" {
			sawKey = true
		}
		if kv == "HOME=/home/tester" {
			sawHome = true
		}
		if strings.HasPrefix(kv, "PATH=") {
			sawPath = true
		}
	}
	if !sawKey {
		t.Error("childEnv must pass through the allowlisted ANTHROPIC_API_KEY")
	}
	if !sawHome {
		t.Error("childEnv must pass through HOME")
	}
	if !sawPath {
		t.Error("childEnv must always set PATH")
	}
}

func TestChildEnv_OmitsUnsetCredentials(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("BRAVE_SEARCH_API_KEY", "")

	env := childEnv()
	for _, kv := range env {
		if strings.HasPrefix(kv, "ANTHROPIC_API_KEY=") || strings.HasPrefix(kv, "BRAVE_SEARCH_API_KEY=") {
			t.Errorf("childEnv should omit unset credentials entirely, got %q", kv)
		}
	}
}

func TestExecCommandTool_ReportsNonZeroExit(t *testing.T) {
	tool := &ExecCommandTool{RepoRoot: t.TempDir()}
	res := tool.Execute(context.Background(), map[string]interface{}{"cmd": "cat /nonexistent-path-xyz"})
	if res.IsError {
		t.Fatalf("a nonzero exit should still be a successful tool Result carrying exit code, got error: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, `"exit":1`) {
		t.Errorf("result = %q, expected a nonzero exit code", res.ForLLM)
	}
}
