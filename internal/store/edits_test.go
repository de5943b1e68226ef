package store

import (
	"encoding/json"
	"testing"
	"time"
)

func editEvent(id string, seq float64, filePath, oldStr, newStr string, ts time.Time) Event {
	e := sampleEvent(id, seq, "")
	e.EventType = "tool_call"
	e.ToolName = EditToolName
	args, _ := json.Marshal(map[string]string{"file_path": filePath, "old_string": oldStr, "new_string": newStr})
	e.ToolArgsJSON = string(args)
	e.EventTS = ts
	return e
}

func TestGetEditsParsesArgsAndFiltersByPath(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC()

	events := []Event{
		editEvent("e1", 1, "foo.txt", "", "a\nb\n", base),
		editEvent("e2", 2, "bar.txt", "x", "y", base.Add(time.Second)),
	}
	if _, err := s.InsertBatch(events, Cursor{SourceID: "src-1", UpdatedAt: base}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	edits, page, err := s.GetEdits(EditFilter{FilePath: "foo.txt"})
	if err != nil {
		t.Fatalf("GetEdits: %v", err)
	}
	if page.Total != 1 || len(edits) != 1 {
		t.Fatalf("expected 1 edit for foo.txt, got %d (%+v)", len(edits), edits)
	}
	if edits[0].NewString != "a\nb\n" {
		t.Errorf("unexpected new_string: %q", edits[0].NewString)
	}
}

func TestIsSubstantiallyComplete(t *testing.T) {
	short := "too short"
	if isSubstantiallyComplete(short) {
		t.Errorf("expected short content to fail completeness check")
	}

	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	long[len(long)-1] = '\n'
	if !isSubstantiallyComplete(string(long)) {
		t.Errorf("expected 1000-byte newline-terminated content to pass")
	}

	truncated := make([]byte, 1000)
	for i := range truncated {
		truncated[i] = 'x'
	}
	if isSubstantiallyComplete(string(truncated)) {
		t.Errorf("expected content not ending in a closing char to fail")
	}
}
