package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/chainreview/core/internal/apperr"
	"github.com/chainreview/core/internal/sandbox"
)

const execTimeout = 30 * time.Second

// credentialEnvAllowlist names the only API-credential environment
// variables the host fallback is willing to pass to a child process, per
// SPEC_FULL.md §4.2 safety rule 4.
var credentialEnvAllowlist = []string{"ANTHROPIC_API_KEY", "BRAVE_SEARCH_API_KEY"}

// childEnv builds the explicit environment passed to a host-exec child: a
// bare Cmd.Env of nil would make Go inherit the *entire* parent environment
// (os/exec's documented behavior), forwarding every credential the core
// holds to an allowlisted-but-untrusted command like npm or node. Instead
// only PATH, HOME, and the credential allowlist above are passed through.
func childEnv() []string {
	path := os.Getenv("PATH")
	if path == "" {
		path = "/usr/local/bin:/usr/bin:/bin"
	}
	env := []string{"PATH=" + path}
	if home := os.Getenv("HOME"); home != "" {
		env = append(env, "HOME="+home)
	}
	for _, key := range credentialEnvAllowlist {
		if v := os.Getenv(key); v != "" {
			env = append(env, key+"="+v)
		}
	}
	return env
}

// ExecCommandTool implements exec_command(cmd) per SPEC_FULL.md §4.2 — the
// only tool that shells out to an arbitrary command string, gated entirely
// by internal/sandbox's allowlist and metacharacter rejection.
type ExecCommandTool struct {
	RepoRoot string
	Runner   *sandbox.ExecRunner // nil when Docker is unavailable: falls back to direct host exec
}

func (t *ExecCommandTool) Name() string        { return "exec_command" }
func (t *ExecCommandTool) Description() string { return "Run an allowlisted read-only shell command." }
func (t *ExecCommandTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"cmd": map[string]interface{}{"type": "string"},
		},
		"required": []string{"cmd"},
	}
}

func (t *ExecCommandTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	cmd, _ := args["cmd"].(string)
	if cmd == "" {
		return ErrorResult("cmd is required")
	}

	if err := sandbox.CheckCommand(cmd); err != nil {
		return ErrorResult(fmt.Sprintf("allowlist violation: %v", err)).
			WithError(apperr.Wrap(apperr.AllowlistViolation, "%s", err))
	}
	argv0, cmdArgs := sandbox.SplitCommand(cmd)

	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	if t.Runner != nil && t.Runner.Available() {
		res, err := t.Runner.Run(ctx, argv0, cmdArgs, t.RepoRoot)
		if err != nil {
			return ErrorResult(fmt.Sprintf("exec_command: %v", err)).WithError(apperr.Wrap(apperr.ToolFailure, "%s", err))
		}
		return NewResult(fmt.Sprintf(`{"stdout":%q,"stderr":%q,"exit":%d}`, res.Stdout, res.Stderr, res.ExitCode))
	}

	c := exec.CommandContext(ctx, argv0, cmdArgs...)
	c.Dir = t.RepoRoot
	c.Env = childEnv() // explicit PATH/HOME/allowlisted creds only, never the full parent env

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	err := c.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return ErrorResult(fmt.Sprintf("exec_command: %v", err)).WithError(apperr.Wrap(apperr.ToolFailure, "%s", err))
		}
	}

	return NewResult(fmt.Sprintf(`{"stdout":%q,"stderr":%q,"exit":%d}`, stdout.String(), stderr.String(), exitCode))
}
