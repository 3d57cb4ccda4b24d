package run

import "github.com/chainreview/core/internal/sandbox"

// AddFinding validates evidence containment against repoRoot and the
// 1 <= start_line <= end_line range, then applies the tie-break rule: two
// findings with identical (file_path, start_line, end_line, title) are
// de-duplicated by keeping the higher confidence; on a tie the first-written
// one wins. It reports whether f was kept as a new entry (true) or
// rejected/superseded (false), and whether evidence was rejected for
// escaping repoRoot or carrying an invalid line range.
func (r *Run) AddFinding(f Finding) (kept bool, evidenceRejected bool) {
	if len(f.Evidence) == 0 {
		return false, false
	}
	for _, ev := range f.Evidence {
		if _, err := sandbox.ResolvePath(ev.FilePath, r.RepoRoot); err != nil {
			return false, true
		}
		if ev.StartLine < 1 || ev.EndLine < ev.StartLine {
			return false, true
		}
	}
	return r.tryAddFinding(f), false
}
