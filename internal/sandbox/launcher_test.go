package sandbox

import (
	"context"
	"testing"
)

func TestCheckLauncher_Allowed(t *testing.T) {
	for name := range AllowedLaunchers {
		if err := CheckLauncher(name); err != nil {
			t.Errorf("CheckLauncher(%q) = %v, want nil", name, err)
		}
	}
}

func TestCheckLauncher_RejectsPathInjection(t *testing.T) {
	tests := []string{
		"/usr/bin/node",
		"../node",
		"node; rm -rf /",
		"node && id",
		"node$(id)",
		"node`id`",
		"",
	}
	for _, name := range tests {
		if err := CheckLauncher(name); err == nil {
			t.Errorf("CheckLauncher(%q) = nil, want ErrAllowlistViolation", name)
		}
	}
}

func TestCheckLauncher_RejectsUnknownLauncher(t *testing.T) {
	if err := CheckLauncher("bash"); err == nil {
		t.Fatal("expected error for launcher not in AllowedLaunchers")
	}
}

func TestResolveOnPath_UnknownBinary(t *testing.T) {
	if ResolveOnPath(context.Background(), "definitely-not-a-real-binary-xyz") {
		t.Fatal("expected false for a nonexistent binary")
	}
}
