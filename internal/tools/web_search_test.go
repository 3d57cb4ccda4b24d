package tools

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestNewWebSearchTool_NilWithoutAPIKey(t *testing.T) {
	if tool := NewWebSearchTool(WebSearchConfig{}); tool != nil {
		t.Error("NewWebSearchTool should return nil when no API key is configured")
	}
}

func TestNewWebSearchTool_AppliesDefaultTTL(t *testing.T) {
	tool := NewWebSearchTool(WebSearchConfig{BraveAPIKey: "key"})
	if tool == nil {
		t.Fatal("expected a non-nil tool when an API key is set")
	}
	if tool.cache.ttl != defaultCacheTTL {
		t.Errorf("cache ttl = %v, want default %v", tool.cache.ttl, defaultCacheTTL)
	}
	if tool.Name() != "web_search" {
		t.Errorf("Name() = %q", tool.Name())
	}
}

func TestWebSearchTool_Execute_RequiresQuery(t *testing.T) {
	tool := NewWebSearchTool(WebSearchConfig{BraveAPIKey: "key"})
	res := tool.Execute(context.Background(), map[string]interface{}{})
	if !res.IsError {
		t.Fatal("expected an error result when query is omitted")
	}
}

type fakeSearchProvider struct {
	calls   int
	results []searchResult
}

func (f *fakeSearchProvider) Name() string { return "fake" }
func (f *fakeSearchProvider) Search(ctx context.Context, params searchParams) ([]searchResult, error) {
	f.calls++
	return f.results, nil
}

func TestWebSearchTool_Execute_CachesRepeatedQuery(t *testing.T) {
	provider := &fakeSearchProvider{results: []searchResult{{Title: "Go docs", URL: "https://go.dev", Description: "The Go programming language"}}}
	tool := &WebSearchTool{provider: provider, cache: newWebCache(defaultCacheMaxEntries, time.Minute)}

	res1 := tool.Execute(context.Background(), map[string]interface{}{"query": "golang"})
	res2 := tool.Execute(context.Background(), map[string]interface{}{"query": "golang"})

	if provider.calls != 1 {
		t.Errorf("provider.calls = %d, want 1 (second call should hit cache)", provider.calls)
	}
	if res1.ForLLM != res2.ForLLM {
		t.Errorf("cached result differs from original: %q vs %q", res1.ForLLM, res2.ForLLM)
	}
}

func TestNormalizeFreshness(t *testing.T) {
	cases := map[string]string{
		"pd":                     "pd",
		"PW":                     "pw",
		"":                       "",
		"bogus":                  "",
		"2024-01-01to2024-02-01": "2024-01-01to2024-02-01",
		"2024-02-01to2024-01-01": "",
	}
	for in, want := range cases {
		if got := normalizeFreshness(in); got != want {
			t.Errorf("normalizeFreshness(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatSearchResults_Empty(t *testing.T) {
	out := formatSearchResults("golang", nil, "brave")
	if out != "No results found for: golang" {
		t.Errorf("out = %q", out)
	}
}

func TestFormatSearchResults_IncludesTitleAndURL(t *testing.T) {
	out := formatSearchResults("golang", []searchResult{{Title: "Go", URL: "https://go.dev", Description: "lang"}}, "brave")
	for _, want := range []string{"Go", "https://go.dev", "lang", "brave"} {
		if !strings.Contains(out, want) {
			t.Errorf("out = %q, missing %q", out, want)
		}
	}
}

func TestWebCache_ExpiresAfterTTL(t *testing.T) {
	c := newWebCache(10, time.Millisecond)
	c.set("k", "v")
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.get("k"); ok {
		t.Error("expected expired entry to be evicted")
	}
}

func TestWebCache_EvictsOldestWhenFull(t *testing.T) {
	c := newWebCache(2, time.Minute)
	c.set("a", "1")
	c.set("b", "2")
	c.set("c", "3")
	if _, ok := c.get("a"); ok {
		t.Error("expected the oldest entry to be evicted once over capacity")
	}
	if _, ok := c.get("c"); !ok {
		t.Error("expected the most recent entry to remain cached")
	}
}
