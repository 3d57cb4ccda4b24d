package tools

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	defaultSearchCount     = 5
	maxSearchCount         = 10
	searchTimeoutSeconds   = 30
	braveSearchEndpoint    = "https://api.search.brave.com/res/v1/web/search"
	defaultCacheTTL        = 10 * time.Minute
	defaultCacheMaxEntries = 256
)

// SearchProvider abstracts a web search backend, matching the teacher's
// multi-provider shape even though ChainReview only wires Brave by default.
type SearchProvider interface {
	Search(ctx context.Context, params searchParams) ([]searchResult, error)
	Name() string
}

type searchParams struct {
	Query      string
	Count      int
	Country    string
	SearchLang string
	UILang     string
	Freshness  string
}

type searchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

var (
	freshnessShortcuts = map[string]bool{"pd": true, "pw": true, "pm": true, "py": true}
	freshnessRangeRe   = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})to(\d{4}-\d{2}-\d{2})$`)
)

func normalizeFreshness(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return ""
	}
	if freshnessShortcuts[v] {
		return v
	}
	if m := freshnessRangeRe.FindStringSubmatch(v); len(m) == 3 {
		start, errS := time.Parse("2006-01-02", m[1])
		end, errE := time.Parse("2006-01-02", m[2])
		if errS == nil && errE == nil && !start.After(end) {
			return v
		}
	}
	return ""
}

// WebSearchTool implements the web_search(query) tool per SPEC_FULL.md §4.2.
type WebSearchTool struct {
	provider SearchProvider
	cache    *webCache
}

type WebSearchConfig struct {
	BraveAPIKey string
	CacheTTL    time.Duration
}

// NewWebSearchTool returns nil when no API key is configured — the caller
// must skip registering the tool rather than expose a provider-less one.
func NewWebSearchTool(cfg WebSearchConfig) *WebSearchTool {
	if cfg.BraveAPIKey == "" {
		return nil
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &WebSearchTool{
		provider: newBraveSearchProvider(cfg.BraveAPIKey),
		cache:    newWebCache(defaultCacheMaxEntries, ttl),
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web for current information. Returns titles, URLs, and snippets."
}

func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query string.",
			},
			"count": map[string]interface{}{
				"type":        "number",
				"description": "Number of results to return (1-10).",
				"minimum":     1.0,
				"maximum":     float64(maxSearchCount),
			},
			"country": map[string]interface{}{
				"type":        "string",
				"description": "2-letter country code for region-specific results, e.g. 'US'.",
			},
			"freshness": map[string]interface{}{
				"type":        "string",
				"description": "'pd' (past day), 'pw' (past week), 'pm' (past month), 'py' (past year), or 'YYYY-MM-DDtoYYYY-MM-DD'.",
			},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if query == "" {
		return ErrorResult("query is required")
	}

	count := defaultSearchCount
	if c, ok := args["count"].(float64); ok && int(c) >= 1 && int(c) <= maxSearchCount {
		count = int(c)
	}
	country, _ := args["country"].(string)
	freshness, _ := args["freshness"].(string)

	params := searchParams{Query: query, Count: count, Country: country, Freshness: freshness}

	cacheKey := buildSearchCacheKey(params)
	if cached, ok := t.cache.get(cacheKey); ok {
		slog.Debug("tools.web_search.cache_hit", "query", query)
		return NewResult(cached)
	}

	results, err := t.provider.Search(ctx, params)
	if err != nil {
		return ErrorResult(fmt.Sprintf("web search failed: %v", err))
	}

	formatted := formatSearchResults(query, results, t.provider.Name())
	t.cache.set(cacheKey, formatted)
	return NewResult(formatted)
}

func buildSearchCacheKey(p searchParams) string {
	return strings.Join([]string{
		p.Query,
		fmt.Sprintf("%d", p.Count),
		orDefault(p.Country, "default"),
		orDefault(p.Freshness, "default"),
	}, ":")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func formatSearchResults(query string, results []searchResult, provider string) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for: %s", query)
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Search results for: %s (via %s)\n\n", query, provider))
	for i, r := range results {
		sb.WriteString(fmt.Sprintf("%d. %s\n   %s\n", i+1, r.Title, r.URL))
		if r.Description != "" {
			sb.WriteString(fmt.Sprintf("   %s\n", r.Description))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// webCache is a small LRU+TTL cache for search results, grounded on the
// teacher's cache of the same shape for web_fetch/web_search results.
type webCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	ll      *list.List
	items   map[string]*list.Element
}

type webCacheEntry struct {
	key       string
	value     string
	expiresAt time.Time
}

func newWebCache(maxSize int, ttl time.Duration) *webCache {
	return &webCache{
		ttl:     ttl,
		maxSize: maxSize,
		ll:      list.New(),
		items:   make(map[string]*list.Element),
	}
}

func (c *webCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return "", false
	}
	entry := el.Value.(*webCacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.ll.Remove(el)
		delete(c.items, key)
		return "", false
	}
	c.ll.MoveToFront(el)
	return entry.value, true
}

func (c *webCache) set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*webCacheEntry).value = value
		el.Value.(*webCacheEntry).expiresAt = time.Now().Add(c.ttl)
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&webCacheEntry{key: key, value: value, expiresAt: time.Now().Add(c.ttl)})
	c.items[key] = el
	if c.ll.Len() > c.maxSize {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*webCacheEntry).key)
		}
	}
}
