package tools

import (
	"context"
	"testing"
)

type fakeTool struct {
	name   string
	schema map[string]interface{}
	calls  int
}

func (f *fakeTool) Name() string                           { return f.name }
func (f *fakeTool) Description() string                    { return "fake tool for tests" }
func (f *fakeTool) Parameters() map[string]interface{}     { return f.schema }
func (f *fakeTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	f.calls++
	return NewResult("ok")
}

func newFakeTool(name string) *fakeTool {
	return &fakeTool{
		name: name,
		schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"path"},
		},
	}
}

func TestRegistry_RegisterGetInvoke(t *testing.T) {
	r := NewRegistry()
	ft := newFakeTool("repo.open")
	r.Register(ft)

	got, ok := r.Get("repo.open")
	if !ok || got.Name() != "repo.open" {
		t.Fatalf("Get(repo.open) = %v, %v", got, ok)
	}

	res := r.Invoke(context.Background(), "repo.open", map[string]interface{}{"path": "a.go"})
	if res.IsError {
		t.Fatalf("Invoke returned error result: %s", res.ForLLM)
	}
	if ft.calls != 1 {
		t.Errorf("tool called %d times, want 1", ft.calls)
	}
}

func TestRegistry_Register_SkipsNil(t *testing.T) {
	r := NewRegistry()
	r.Register(nil)
	if len(r.Names()) != 0 {
		t.Errorf("Names() = %v, want empty after registering nil", r.Names())
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	r.Register(newFakeTool("mcp__server__tool"))
	r.Unregister("mcp__server__tool")

	if _, ok := r.Get("mcp__server__tool"); ok {
		t.Fatal("tool should be gone after Unregister")
	}
	r.Unregister("never-registered")
}

func TestRegistry_Invoke_UnknownTool(t *testing.T) {
	r := NewRegistry()
	res := r.Invoke(context.Background(), "nope", nil)
	if !res.IsError {
		t.Fatal("expected an error Result for an unknown tool")
	}
}

func TestRegistry_Invoke_RejectsInvalidArgs(t *testing.T) {
	r := NewRegistry()
	ft := newFakeTool("repo.open")
	r.Register(ft)

	res := r.Invoke(context.Background(), "repo.open", map[string]interface{}{})
	if !res.IsError {
		t.Fatal("expected an error Result for args missing the required 'path' field")
	}
	if ft.calls != 0 {
		t.Error("Execute must not run when schema validation fails")
	}
}

func TestRegistry_Subset_PreservesOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(newFakeTool("a"))
	r.Register(newFakeTool("b"))
	r.Register(newFakeTool("c"))

	subset, err := r.Subset([]string{"c", "a"})
	if err != nil {
		t.Fatalf("Subset: %v", err)
	}
	if len(subset) != 2 || subset[0].Name() != "c" || subset[1].Name() != "a" {
		t.Fatalf("Subset order = %v, want [c, a]", subset)
	}
}

func TestRegistry_Subset_ErrorsOnUnregisteredName(t *testing.T) {
	r := NewRegistry()
	r.Register(newFakeTool("a"))
	if _, err := r.Subset([]string{"a", "missing"}); err == nil {
		t.Fatal("expected error for a roster name with no registered tool")
	}
}

func TestRegistry_Names_Sorted(t *testing.T) {
	r := NewRegistry()
	r.Register(newFakeTool("zebra"))
	r.Register(newFakeTool("alpha"))
	r.Register(newFakeTool("mid"))

	names := r.Names()
	want := []string{"alpha", "mid", "zebra"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
