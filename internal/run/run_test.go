package run

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chainreview/core/internal/apperr"
)

func newTestRun(t *testing.T) (*Run, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.go"), []byte("package a"), 0o644); err != nil {
		t.Fatal(err)
	}
	return NewRun("run-1", root, ModeRepo, []string{"security"}, CredentialsBYOK), root
}

func findingAt(file string, start, end int, title string, confidence float64) Finding {
	return Finding{
		Title:      title,
		Confidence: confidence,
		Evidence:   []Evidence{{FilePath: file, StartLine: start, EndLine: end}},
	}
}

func TestAddFinding_DedupeKeepsHigherConfidence(t *testing.T) {
	r, _ := newTestRun(t)

	kept, rejected := r.AddFinding(findingAt("a.go", 1, 5, "sql injection", 0.6))
	if !kept || rejected {
		t.Fatalf("first insert: kept=%v rejected=%v", kept, rejected)
	}

	kept, rejected = r.AddFinding(findingAt("a.go", 1, 5, "sql injection", 0.9))
	if kept || rejected {
		t.Fatalf("higher-confidence duplicate: kept=%v rejected=%v, want kept=false", kept, rejected)
	}

	findings := r.Findings()
	if len(findings) != 1 {
		t.Fatalf("len(findings) = %d, want 1", len(findings))
	}
	if findings[0].Confidence != 0.9 {
		t.Errorf("surviving confidence = %v, want 0.9 (higher-confidence duplicate should replace)", findings[0].Confidence)
	}
}

func TestAddFinding_DedupeTieBreakKeepsFirstWritten(t *testing.T) {
	r, _ := newTestRun(t)

	r.AddFinding(findingAt("a.go", 1, 5, "sql injection", 0.7))
	r.AddFinding(findingAt("a.go", 1, 5, "sql injection", 0.7))

	findings := r.Findings()
	if len(findings) != 1 {
		t.Fatalf("len(findings) = %d, want 1", len(findings))
	}
}

func TestAddFinding_DifferentLocationNotDeduped(t *testing.T) {
	r, _ := newTestRun(t)

	r.AddFinding(findingAt("a.go", 1, 5, "sql injection", 0.7))
	r.AddFinding(findingAt("a.go", 10, 15, "sql injection", 0.7))

	if len(r.Findings()) != 2 {
		t.Fatalf("len(findings) = %d, want 2 for distinct evidence locations", len(r.Findings()))
	}
}

func TestAddFinding_RejectsEscapingEvidence(t *testing.T) {
	r, _ := newTestRun(t)

	kept, rejected := r.AddFinding(findingAt("../../etc/passwd", 1, 1, "x", 0.5))
	if kept || !rejected {
		t.Fatalf("kept=%v rejected=%v, want kept=false rejected=true for escaping evidence", kept, rejected)
	}
	if len(r.Findings()) != 0 {
		t.Fatal("escaping evidence must not be stored")
	}
}

func TestAddFinding_RejectsInvertedLineRange(t *testing.T) {
	r, _ := newTestRun(t)

	kept, rejected := r.AddFinding(findingAt("a.go", 5, 2, "x", 0.5))
	if kept || !rejected {
		t.Fatalf("kept=%v rejected=%v, want kept=false rejected=true for start_line > end_line", kept, rejected)
	}
	if len(r.Findings()) != 0 {
		t.Fatal("inverted line range must not be stored")
	}
}

func TestAddFinding_RejectsZeroStartLine(t *testing.T) {
	r, _ := newTestRun(t)

	kept, rejected := r.AddFinding(findingAt("a.go", 0, 1, "x", 0.5))
	if kept || !rejected {
		t.Fatalf("kept=%v rejected=%v, want kept=false rejected=true for start_line < 1", kept, rejected)
	}
}

func TestAddFinding_RejectsEmptyEvidence(t *testing.T) {
	r, _ := newTestRun(t)
	kept, rejected := r.AddFinding(Finding{Title: "no evidence"})
	if kept || rejected {
		t.Fatalf("kept=%v rejected=%v, want both false for a finding with no evidence", kept, rejected)
	}
}

func TestAppendEvent_MonotonicTimestamps(t *testing.T) {
	r, _ := newTestRun(t)
	now := time.Now()

	first := r.AppendEvent(AuditEvent{ID: "1", Type: "review.started", Timestamp: now})
	second := r.AppendEvent(AuditEvent{ID: "2", Type: "review.finished", Timestamp: now})

	if !second.Timestamp.After(first.Timestamp) {
		t.Fatalf("second event timestamp %v must be strictly after first %v", second.Timestamp, first.Timestamp)
	}

	events := r.Events()
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
}

func TestCancel_Idempotent(t *testing.T) {
	r, _ := newTestRun(t)
	calls := 0
	r.SetCancelFunc(func() { calls++ })

	r.Cancel()
	r.Cancel()
	r.Cancel()

	if calls != 1 {
		t.Errorf("cancelFn invoked %d times, want exactly 1", calls)
	}
	if !r.Cancelled() {
		t.Error("Cancelled() = false after Cancel()")
	}
}

func TestFinalize_TerminalOnce(t *testing.T) {
	r, _ := newTestRun(t)

	r.Finalize(StatusComplete, "")
	r.Finalize(StatusError, "should not overwrite")

	if r.Status() != StatusComplete {
		t.Errorf("status = %v, want %v (Finalize must be a no-op once terminal)", r.Status(), StatusComplete)
	}
	if r.ErrorReason() != "" {
		t.Errorf("errorReason = %q, want empty", r.ErrorReason())
	}
}

func TestMutatePatch_NoSuchPatch(t *testing.T) {
	r, _ := newTestRun(t)
	err := r.MutatePatch("missing", func(p *Patch) error { return nil })
	if !errors.Is(err, apperr.NoSuchFinding) {
		t.Errorf("MutatePatch(missing) error = %v, want NoSuchFinding", err)
	}
}

func TestStore_PutGetList(t *testing.T) {
	s := NewStore()
	r1 := NewRun("run-1", ".", ModeRepo, nil, CredentialsBYOK)
	time.Sleep(time.Millisecond)
	r2 := NewRun("run-2", ".", ModeRepo, nil, CredentialsBYOK)
	s.Put(r1)
	s.Put(r2)

	got, err := s.Get("run-1")
	if err != nil || got.ID != "run-1" {
		t.Fatalf("Get(run-1) = %v, %v", got, err)
	}

	list := s.List(0)
	if len(list) != 2 || list[0].ID != "run-2" {
		t.Fatalf("List() = %v, want [run-2, run-1] (descending StartedAt)", list)
	}

	if err := s.Delete("run-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("run-1"); !errors.Is(err, apperr.NoSuchRun) {
		t.Errorf("Get after Delete error = %v, want NoSuchRun", err)
	}
}

func TestStore_PutDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate run_id")
		}
	}()
	s := NewStore()
	s.Put(NewRun("dup", ".", ModeRepo, nil, CredentialsBYOK))
	s.Put(NewRun("dup", ".", ModeRepo, nil, CredentialsBYOK))
}

func TestStore_GetUnknown(t *testing.T) {
	s := NewStore()
	if _, err := s.Get("nope"); !errors.Is(err, apperr.NoSuchRun) {
		t.Errorf("Get(nope) error = %v, want NoSuchRun", err)
	}
}
