package mcp

import (
	"testing"

	"github.com/chainreview/core/internal/tools"
)

func TestNewManager_StartsEmpty(t *testing.T) {
	m := NewManager(tools.NewRegistry())
	if len(m.ServerStatus()) != 0 {
		t.Errorf("ServerStatus() = %v, want empty", m.ServerStatus())
	}
	if len(m.ToolNames()) != 0 {
		t.Errorf("ToolNames() = %v, want empty", m.ToolNames())
	}
	if len(m.Tools()) != 0 {
		t.Errorf("Tools() = %v, want empty", m.Tools())
	}
}

func TestManager_StopOnEmptyManagerIsSafe(t *testing.T) {
	m := NewManager(tools.NewRegistry())
	m.Stop()
}

func TestCreateClient_UnsupportedTransport(t *testing.T) {
	_, err := createClient("carrier-pigeon", "", nil, nil, "", nil)
	if err == nil {
		t.Fatal("expected an error for an unrecognized transport")
	}
}

func TestCreateClient_StdioRejectsDisallowedLauncher(t *testing.T) {
	_, err := createClient("stdio", "rm -rf /", nil, nil, "", nil)
	if err == nil {
		t.Fatal("expected createClient to refuse a launcher that fails the allowlist/shape check")
	}
}

func TestMapToEnvSlice_Empty(t *testing.T) {
	if s := mapToEnvSlice(nil); s != nil {
		t.Errorf("mapToEnvSlice(nil) = %v, want nil", s)
	}
	if s := mapToEnvSlice(map[string]string{}); s != nil {
		t.Errorf("mapToEnvSlice({}) = %v, want nil", s)
	}
}

func TestMapToEnvSlice_FormatsKeyValuePairs(t *testing.T) {
	s := mapToEnvSlice(map[string]string{"FOO": "bar"})
	if len(s) != 1 || s[0] != "FOO=bar" {
		t.Errorf("mapToEnvSlice = %v, want [FOO=bar]", s)
	}
}
