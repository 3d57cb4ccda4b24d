package sandbox

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrAllowlistViolation is returned for any exec_command or launcher rejection.
var ErrAllowlistViolation = errors.New("allowlist violation")

// AllowedCommands is the fixed read-only command allowlist for exec_command.
// Matching is on the leading token's basename, so /usr/bin/git and git both
// resolve to "git".
var AllowedCommands = map[string]bool{
	"wc": true, "find": true, "ls": true, "cat": true, "head": true, "tail": true,
	"grep": true, "git": true, "npm": true, "tsc": true, "node": true, "du": true,
	"file": true, "stat": true, "sort": true, "uniq": true, "tr": true, "cut": true,
	"awk": true, "sed": true, "semgrep": true, "rg": true,
}

// shellMetacharacters that, if present anywhere in the command string,
// reject it outright — the command is never passed through a shell, so
// these would otherwise be inert, but their presence signals an attempt to
// smuggle a compound command past the allowlist.
const shellMetacharacters = ";&|`$(){}"

// CheckCommand validates a command string against the shared safety rules
// before it is ever split and exec'd. It never runs anything.
func CheckCommand(command string) error {
	if strings.ContainsAny(command, shellMetacharacters) {
		return fmt.Errorf("%w: command contains shell metacharacters", ErrAllowlistViolation)
	}
	if strings.Contains(command, ">>") || strings.Contains(command, ">") {
		return fmt.Errorf("%w: command contains redirection characters", ErrAllowlistViolation)
	}

	fields := strings.Fields(command)
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty command", ErrAllowlistViolation)
	}

	base := filepath.Base(fields[0])
	if !AllowedCommands[base] {
		return fmt.Errorf("%w: %q is not in the allowed command set", ErrAllowlistViolation, base)
	}
	return nil
}

// SplitCommand splits a pre-validated command string on whitespace for
// direct exec.Command invocation — never through a shell.
func SplitCommand(command string) (argv0 string, args []string) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
