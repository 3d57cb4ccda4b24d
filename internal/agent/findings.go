package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/chainreview/core/internal/run"
)

// findingsBlockRe extracts a fenced ```findings ... ``` or ```json ... ```
// block from an agent's final text. This is the structured-output contract
// agents are instructed to follow: end the turn with a fenced block whose
// body is a JSON array of finding objects.
var findingsBlockRe = regexp.MustCompile("(?s)```(?:findings|json)\\s*\\n(.*?)\\n```")

type rawFinding struct {
	Category    string          `json:"category"`
	Severity    string          `json:"severity"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Confidence  float64         `json:"confidence"`
	Rule        string          `json:"rule"`
	Evidence    []run.Evidence  `json:"evidence"`
}

// ParseFindings extracts findings from an agent's final text per the
// fenced-JSON structured-output contract. It never errors: malformed or
// absent blocks simply yield no findings, since a garbled block should not
// abort an otherwise-successful agent run.
func ParseFindings(text string, agent run.AgentName) []run.Finding {
	m := findingsBlockRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	var raws []rawFinding
	if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &raws); err != nil {
		return nil
	}

	out := make([]run.Finding, 0, len(raws))
	for _, r := range raws {
		if r.Title == "" || len(r.Evidence) == 0 {
			continue
		}
		out = append(out, run.Finding{
			Category:    run.Category(r.Category),
			Severity:    run.Severity(r.Severity),
			Title:       r.Title,
			Description: r.Description,
			Agent:       agent,
			Confidence:  r.Confidence,
			Evidence:    r.Evidence,
			Rule:        r.Rule,
		})
	}
	return out
}
