package cmd

import (
	"os"
	"testing"

	"github.com/chainreview/core/internal/sandbox"
)

func TestParseCPULimit_EmptyUsesDefault(t *testing.T) {
	if got := parseCPULimit(""); got != sandbox.DefaultDockerConfig().CPULimit {
		t.Errorf("parseCPULimit(\"\") = %v, want default %v", got, sandbox.DefaultDockerConfig().CPULimit)
	}
}

func TestParseCPULimit_ParsesValidValue(t *testing.T) {
	if got := parseCPULimit("2.5"); got != 2.5 {
		t.Errorf("parseCPULimit(\"2.5\") = %v, want 2.5", got)
	}
}

func TestParseCPULimit_FallsBackOnGarbage(t *testing.T) {
	if got := parseCPULimit("not-a-number"); got != sandbox.DefaultDockerConfig().CPULimit {
		t.Errorf("parseCPULimit(garbage) = %v, want default", got)
	}
}

func TestParseCPULimit_FallsBackOnNonPositive(t *testing.T) {
	if got := parseCPULimit("-1"); got != sandbox.DefaultDockerConfig().CPULimit {
		t.Errorf("parseCPULimit(-1) = %v, want default", got)
	}
}

func TestSideStreamWriter_ZeroOrNegativeFallsBackToStdout(t *testing.T) {
	if w := sideStreamWriter(0); w != os.Stdout {
		t.Errorf("sideStreamWriter(0) = %v, want os.Stdout", w)
	}
	if w := sideStreamWriter(-1); w != os.Stdout {
		t.Errorf("sideStreamWriter(-1) = %v, want os.Stdout", w)
	}
}

func TestSideStreamWriter_UnopenedFDFallsBackToStdout(t *testing.T) {
	// fd 97 is not open in the test process, so Stat must fail and the
	// writer must fall back rather than silently dropping side frames.
	if w := sideStreamWriter(97); w != os.Stdout {
		t.Errorf("sideStreamWriter(97) = %v, want os.Stdout fallback", w)
	}
}

func TestServeCmd_IsRegisteredUnderServe(t *testing.T) {
	cmd := serveCmd()
	if cmd.Use != "serve" {
		t.Errorf("Use = %q, want serve", cmd.Use)
	}
}
