package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/chainreview/core/internal/apperr"
	"github.com/chainreview/core/internal/sandbox"
)

// importPatterns recognizes import statements across the languages
// ChainReview expects to review (Go, TS/JS, Python) well enough to build an
// adjacency list; it is not a full parser.
var importPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*import\s+\(`),                       // go grouped import start, handled by scanning
	regexp.MustCompile(`^\s*"([^"]+)"\s*$`),                     // go grouped import line
	regexp.MustCompile(`^\s*import\s+"([^"]+)"`),                // go single import
	regexp.MustCompile(`^\s*import\s+.*\sfrom\s+['"]([^'"]+)['"]`), // ts/js
	regexp.MustCompile(`^\s*import\s+['"]([^'"]+)['"]`),         // ts/js bare import
	regexp.MustCompile(`^\s*(?:from\s+(\S+)\s+import|import\s+(\S+))`), // python
}

// CodeImportGraphTool implements code.import_graph(path?) — a best-effort
// static adjacency list, not a resolved module graph (no go/types, no
// tsconfig path resolution): good enough for an architecture agent to spot
// layering violations, not a replacement for a real dependency analyzer.
type CodeImportGraphTool struct {
	RepoRoot string
}

func (t *CodeImportGraphTool) Name() string { return "code.import_graph" }
func (t *CodeImportGraphTool) Description() string {
	return "Build a best-effort file-to-import adjacency list for the repository or a subtree."
}
func (t *CodeImportGraphTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string", "description": "Subtree to scan; default repo root."},
		},
	}
}

func (t *CodeImportGraphTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	sub, _ := args["path"].(string)
	root := t.RepoRoot
	if sub != "" {
		resolved, err := sandbox.ResolvePath(sub, t.RepoRoot)
		if err != nil {
			return ErrorResult("path escape: " + sub).WithError(apperr.Wrap(apperr.PathEscape, "%s", sub))
		}
		root = resolved
	}

	files, err := listSourceFiles(ctx, t.RepoRoot, root)
	if err != nil {
		return ErrorResult(fmt.Sprintf("code.import_graph: %v", err)).WithError(apperr.Wrap(apperr.ToolFailure, "%s", err))
	}

	graph := make(map[string][]string)
	for _, rel := range files {
		resolved, err := sandbox.ResolvePath(rel, t.RepoRoot)
		if err != nil {
			continue
		}
		imports := scanImports(resolved)
		if len(imports) > 0 {
			graph[rel] = imports
		}
	}

	keys := make([]string, 0, len(graph))
	for k := range graph {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(" ->\n")
		for _, imp := range graph[k] {
			sb.WriteString("  " + imp + "\n")
		}
	}
	if sb.Len() == 0 {
		return NewResult("no imports found")
	}
	return NewResult(sb.String())
}

func listSourceFiles(ctx context.Context, repoRoot, subtree string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", repoRoot, "ls-files", "--cached", "--others", "--exclude-standard")
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(repoRoot, subtree)
	if err != nil {
		rel = "."
	}
	var files []string
	for _, line := range strings.Split(string(out), "\n") {
		if line == "" {
			continue
		}
		if rel != "." && !strings.HasPrefix(line, rel+"/") {
			continue
		}
		switch filepath.Ext(line) {
		case ".go", ".ts", ".tsx", ".js", ".jsx", ".py":
			files = append(files, line)
		}
	}
	if len(files) > maxTreeFiles {
		files = files[:maxTreeFiles]
	}
	return files, nil
}

func scanImports(absPath string) []string {
	f, err := os.Open(absPath)
	if err != nil {
		return nil
	}
	defer f.Close()

	var imports []string
	inGoBlock := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "import (") {
			inGoBlock = true
			continue
		}
		if inGoBlock {
			if strings.TrimSpace(line) == ")" {
				inGoBlock = false
				continue
			}
			if m := importPatterns[1].FindStringSubmatch(line); m != nil {
				imports = append(imports, m[1])
			}
			continue
		}
		for _, re := range importPatterns[2:] {
			if m := re.FindStringSubmatch(line); m != nil {
				for _, g := range m[1:] {
					if g != "" {
						imports = append(imports, g)
						break
					}
				}
				break
			}
		}
	}
	return imports
}

// CodePatternScanTool implements code.pattern_scan(pattern) — the same
// per-line regex match repo.search performs, in the same "file:line: text"
// form, but restricted to Go/TS/JS/Python source files, for agents
// correlating a rule id to hits.
type CodePatternScanTool struct {
	RepoRoot string
}

func (t *CodePatternScanTool) Name() string        { return "code.pattern_scan" }
func (t *CodePatternScanTool) Description() string { return "Structurally scan the repo's source files for a regex pattern." }
func (t *CodePatternScanTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{"type": "string"},
		},
		"required": []string{"pattern"},
	}
}

func (t *CodePatternScanTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return ErrorResult("pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid pattern: %v", err)).WithError(apperr.Wrap(apperr.ToolArgs, "regex: %s", err))
	}

	files, err := listSourceFiles(ctx, t.RepoRoot, t.RepoRoot)
	if err != nil {
		return ErrorResult(fmt.Sprintf("code.pattern_scan: %v", err)).WithError(apperr.Wrap(apperr.ToolFailure, "%s", err))
	}

	var sb strings.Builder
	count := 0
	for _, rel := range files {
		resolved, err := sandbox.ResolvePath(rel, t.RepoRoot)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			continue
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				sb.WriteString(fmt.Sprintf("%s:%d: %s\n", rel, i+1, strings.TrimSpace(line)))
				count++
			}
		}
	}
	if count == 0 {
		return NewResult("no matches")
	}
	return NewResult(sb.String())
}
