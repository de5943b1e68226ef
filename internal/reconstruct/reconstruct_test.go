package reconstruct

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/recall-tools/recall/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "recall.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.UpsertSource(store.Source{SourceID: "src-1", Kind: "jsonl", Locator: "/test/src-1", DeviceID: "dev-1", Status: store.SourceActive}); err != nil {
		t.Fatalf("register source: %v", err)
	}
	return s
}

func editArgs(t *testing.T, path, oldString, newString string) string {
	t.Helper()
	b, err := json.Marshal(map[string]string{"file_path": path, "old_string": oldString, "new_string": newString})
	if err != nil {
		t.Fatalf("marshal edit args: %v", err)
	}
	return string(b)
}

func editEvent(t *testing.T, seq float64, ts time.Time, path, oldString, newString string) store.Event {
	return store.Event{
		EventID:      "edit-" + path + "-" + ts.Format(time.RFC3339Nano) + "-" + time.Duration(seq).String(),
		SourceID:     "src-1",
		SourceSeq:    seq,
		SessionID:    "sess-1",
		EventTS:      ts,
		IngestTS:     ts,
		SourceKind:   "jsonl",
		EventType:    "tool_call",
		ToolName:     store.EditToolName,
		ToolArgsJSON: editArgs(t, path, oldString, newString),
	}
}

func insert(t *testing.T, st *store.Store, events []store.Event) {
	t.Helper()
	if _, err := st.InsertBatch(events, store.Cursor{SourceID: "src-1"}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
}

func TestReconstructPrefersSnapshot(t *testing.T) {
	st := openTestStore(t)
	now := time.Now().UTC()
	snapshot := make([]byte, 1200)
	for i := range snapshot {
		snapshot[i] = 'x'
	}
	snapshot[len(snapshot)-1] = '\n'

	callArgs, _ := json.Marshal(map[string]string{"file_path": "foo.txt"})
	insert(t, st, []store.Event{
		{
			EventID: "call-1", SourceID: "src-1", SourceSeq: 1, EventTS: now, IngestTS: now,
			SourceKind: "jsonl", EventType: "tool_call", ToolName: "read",
			ToolArgsJSON: string(callArgs),
			MetaJSON:     `{"tool_call_id":"tc-1"}`,
		},
		{
			EventID: "result-1", SourceID: "src-1", SourceSeq: 2, EventTS: now.Add(time.Second), IngestTS: now,
			SourceKind: "jsonl", EventType: "tool_result", TextRedacted: string(snapshot),
			MetaJSON: `{"tool_call_id":"tc-1"}`,
		},
	})

	res, err := Reconstruct(st, "foo.txt", now.Add(time.Hour), "")
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if !res.FromSnapshot {
		t.Fatalf("expected snapshot strategy, got replay (applied=%d failed=%d)", res.Applied, res.Failed)
	}
	if res.Bytes != string(snapshot) {
		t.Errorf("expected bytes to equal the snapshot verbatim")
	}
}

func TestReconstructReplaysEditsInOrder(t *testing.T) {
	st := openTestStore(t)
	base := time.Now().UTC()

	insert(t, st, []store.Event{
		editEvent(t, 1, base, "foo.txt", "", "a\nb\n"),
		editEvent(t, 2, base.Add(time.Second), "foo.txt", "a\nb\n", "a\nB\nc\n"),
		editEvent(t, 3, base.Add(2*time.Second), "foo.txt", "c\n", "C\n"),
	})

	res, err := Reconstruct(st, "foo.txt", base.Add(time.Hour), "")
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if res.FromSnapshot {
		t.Fatalf("expected replay strategy, got snapshot")
	}
	if res.Bytes != "a\nB\nC\n" {
		t.Fatalf("expected %q, got %q", "a\nB\nC\n", res.Bytes)
	}
	if res.Applied != 3 || res.Failed != 0 {
		t.Errorf("expected applied=3 failed=0, got applied=%d failed=%d", res.Applied, res.Failed)
	}
}

func TestReconstructFallsBackOnStaleOldString(t *testing.T) {
	st := openTestStore(t)
	base := time.Now().UTC()

	insert(t, st, []store.Event{
		editEvent(t, 1, base, "foo.txt", "", "a\nb\n"),
		editEvent(t, 2, base.Add(time.Second), "foo.txt", "a\nb\n", "a\nB\nc\n"),
		editEvent(t, 3, base.Add(2*time.Second), "foo.txt", "nonexistent", "x"),
		editEvent(t, 4, base.Add(3*time.Second), "foo.txt", "c\n", "C\n"),
	})

	res, err := Reconstruct(st, "foo.txt", base.Add(time.Hour), "")
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if res.Bytes != "a\nB\nC\n" {
		t.Fatalf("expected %q, got %q", "a\nB\nC\n", res.Bytes)
	}
	if res.Applied != 3 || res.Failed != 1 {
		t.Errorf("expected applied=3 failed=1, got applied=%d failed=%d", res.Applied, res.Failed)
	}
}

func TestReconstructNoHistoryIsNotReconstructible(t *testing.T) {
	st := openTestStore(t)
	_, err := Reconstruct(st, "never-seen.txt", time.Now().UTC(), "")
	if err != ErrNotReconstructible {
		t.Fatalf("expected ErrNotReconstructible, got %v", err)
	}
}

func TestReconstructIgnoresEditsAfterAtTime(t *testing.T) {
	st := openTestStore(t)
	base := time.Now().UTC()

	insert(t, st, []store.Event{
		editEvent(t, 1, base, "foo.txt", "", "a\n"),
		editEvent(t, 2, base.Add(time.Hour), "foo.txt", "a\n", "a\nb\n"),
	})

	res, err := Reconstruct(st, "foo.txt", base.Add(time.Minute), "")
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if res.Bytes != "a\n" {
		t.Fatalf("expected edits after at_time to be excluded, got %q", res.Bytes)
	}
}
