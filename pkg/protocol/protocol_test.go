package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewResultResponse_MarshalsResult(t *testing.T) {
	resp, err := NewResultResponse(7, map[string]string{"ok": "yes"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.ID != 7 || resp.Error != nil {
		t.Fatalf("resp = %+v", resp)
	}
	var decoded map[string]string
	if err := json.Unmarshal(resp.Result, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["ok"] != "yes" {
		t.Errorf("decoded = %v", decoded)
	}
}

func TestNewErrorResponse_CarriesCodeAndMessage(t *testing.T) {
	resp := NewErrorResponse(3, CodePathEscape, "escape detected")
	if resp.Result != nil {
		t.Error("error response must not carry a result")
	}
	if resp.Error.Code != CodePathEscape || resp.Error.Message != "escape detected" {
		t.Errorf("resp.Error = %+v", resp.Error)
	}
}

func TestNewSideFrame_SetsStreamMarker(t *testing.T) {
	f := NewSideFrame(EventFinding, map[string]int{"n": 1})
	if !f.Stream {
		t.Error("Stream marker must be true for every side frame")
	}
	if f.Type != EventFinding {
		t.Errorf("Type = %q, want %q", f.Type, EventFinding)
	}
}

func TestNewSideFrame_PassesThroughSmallPayload(t *testing.T) {
	f := NewSideFrame(EventFinding, map[string]int{"n": 1})
	m, ok := f.Data.(map[string]int)
	if !ok || m["n"] != 1 {
		t.Errorf("Data = %#v, want the original payload untouched", f.Data)
	}
}

func TestNewSideFrame_TruncatesOversizedPayload(t *testing.T) {
	long := strings.Repeat("x", sideFramePayloadCap+500)
	f := NewSideFrame(EventFinding, map[string]string{"blob": long})

	raw, err := json.Marshal(f.Data)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) > sideFramePayloadCap+200 {
		t.Errorf("truncated payload marshals to %d bytes, want roughly bounded by the %d byte cap", len(raw), sideFramePayloadCap)
	}

	m, ok := f.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Data = %#v, want a map carrying a truncation marker", f.Data)
	}
	if m["truncated"] != true {
		t.Errorf(`Data["truncated"] = %v, want true`, m["truncated"])
	}
	preview, _ := m["preview"].(string)
	if !strings.Contains(preview, "(truncated ") {
		t.Errorf("preview = %q, want a `…(truncated N bytes)` suffix", preview)
	}
}

func TestIsAuditEventType_ClosedSet(t *testing.T) {
	if !IsAuditEventType(AuditFindingEmitted) {
		t.Error("AuditFindingEmitted should belong to the closed set")
	}
	if IsAuditEventType("not_a_real_event") {
		t.Error("unrecognized event types must not validate")
	}
}

func TestIsLongRunning(t *testing.T) {
	cases := map[string]bool{
		MethodReviewRun:         true,
		MethodChatQuery:         true,
		MethodReviewGetFindings: false,
		MethodPatchPropose:      false,
	}
	for method, want := range cases {
		if got := IsLongRunning(method); got != want {
			t.Errorf("IsLongRunning(%q) = %v, want %v", method, got, want)
		}
	}
}

func TestSentinelType(t *testing.T) {
	if got := SentinelType(MethodReviewRun); got != "reviewRunComplete" {
		t.Errorf("SentinelType(review.run) = %q", got)
	}
	if got := SentinelType(MethodRepoOpen); got != "" {
		t.Errorf("SentinelType(repo.open) = %q, want empty for non-sentinel methods", got)
	}
}

func TestNewToolCallEnd_TruncatesLongSummary(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	end := NewToolCallEnd("bugs", string(long))
	if !strings.HasPrefix(end.ResultSummary, strings.Repeat("x", 300)) {
		t.Errorf("ResultSummary does not retain the first 300 bytes: %q", end.ResultSummary)
	}
	if !strings.Contains(end.ResultSummary, "(truncated 700 bytes)") {
		t.Errorf("ResultSummary = %q, want a truncation suffix naming the dropped byte count", end.ResultSummary)
	}
}

func TestNewToolCallEnd_ShortSummaryUnchanged(t *testing.T) {
	end := NewToolCallEnd("bugs", "short")
	if end.ResultSummary != "short" {
		t.Errorf("ResultSummary = %q, want unchanged", end.ResultSummary)
	}
}
