package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
)

// AllowedLaunchers is the fixed allowlist of commands that may be spawned as
// MCP-style auxiliary tool servers.
var AllowedLaunchers = map[string]bool{
	"node": true, "npx": true, "python": true, "python3": true,
	"uvx": true, "deno": true, "bun": true, "docker": true,
}

// launcherNamePattern bounds the launcher name itself; it must never contain
// path separators or shell-significant characters.
var launcherNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// CheckLauncher validates a launcher name against the external-process
// allowlist rule. It does not check PATH existence — call ResolveOnPath for
// that.
func CheckLauncher(name string) error {
	if !launcherNamePattern.MatchString(name) {
		return fmt.Errorf("%w: launcher name %q does not match %s", ErrAllowlistViolation, name, launcherNamePattern.String())
	}
	if !AllowedLaunchers[name] {
		return fmt.Errorf("%w: launcher %q is not in the allowed set", ErrAllowlistViolation, name)
	}
	return nil
}

// ResolveOnPath reports whether name is resolvable on PATH, using the
// platform resolver invoked with an argument list — never a concatenated
// string, so the resolver itself cannot be tricked into interpreting shell
// syntax embedded in name.
func ResolveOnPath(ctx context.Context, name string) bool {
	resolver := "which"
	if runtime.GOOS == "windows" {
		resolver = "where"
	}
	cmd := exec.CommandContext(ctx, resolver, name)
	// A non-zero exit status means "not available", regardless of whether
	// stderr carries additional detail — the exit code alone is authoritative.
	err := cmd.Run()
	return err == nil
}
