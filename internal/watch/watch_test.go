package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/recall-tools/recall/internal/config"
	"github.com/recall-tools/recall/internal/ingest"
	"github.com/recall-tools/recall/internal/ingest/adapter/jsonl"
	"github.com/recall-tools/recall/internal/store"
	"github.com/recall-tools/recall/internal/store/analytics"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "recall.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestStartStopIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	orch := ingest.New(st)
	c := New(orch, st, config.DefaultConfig().Watch, "dev-1", nil)

	if err := c.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("second Start (should be a no-op): %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop (should be a no-op): %v", err)
	}
}

func TestDebouncedWriteTriggersIngest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	if err := os.WriteFile(path, []byte(`{"type":"human","sessionId":"s1","message":{"content":"hello"}}`+"\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	st := openTestStore(t)
	orch := ingest.New(st, jsonl.New(dir))

	src := store.Source{
		SourceID: "src-1", Kind: "jsonl", Locator: path, DeviceID: "dev-1",
		Status: store.SourceActive, CreatedAt: time.Now().UTC(),
	}
	if err := st.UpsertSource(src); err != nil {
		t.Fatalf("register source: %v", err)
	}
	if _, _, err := orch.IngestSource(src); err != nil {
		t.Fatalf("initial ingest: %v", err)
	}

	cfg := config.DefaultConfig().Watch
	cfg.StableWriteDebounce = 30 * time.Millisecond
	c := New(orch, st, cfg, "dev-1", nil)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.WriteString(`{"type":"human","sessionId":"s1","message":{"content":"second"}}` + "\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	waitFor(t, 3*time.Second, func() bool {
		got, err := st.GetSource("src-1")
		if err != nil || got == nil {
			return false
		}
		cur, err := st.GetCursor("src-1")
		return err == nil && cur != nil && cur.ByteOffset != nil && *cur.ByteOffset > 0 && got.LastSeenAt.After(src.CreatedAt)
	})
}

func TestMirrorSyncLoopPopulatesMirror(t *testing.T) {
	st := openTestStore(t)
	now := time.Now().UTC()

	event := store.Event{
		EventID: "e1", SourceID: "src-1", SourceSeq: 1, DeviceID: "dev-1",
		EventTS: now, IngestTS: now, SourceKind: "jsonl_transcript", EventType: "assistant_message",
		MetaJSON: `{"model":"claude-x","message_id":"msg-1","tokens":{"input":100,"output":50}}`,
	}
	if err := st.UpsertSource(store.Source{SourceID: "src-1", Kind: "jsonl_transcript", Locator: "/test/src-1", DeviceID: "dev-1", Status: store.SourceActive}); err != nil {
		t.Fatalf("register source: %v", err)
	}
	if _, err := st.InsertBatch([]store.Event{event}, store.Cursor{SourceID: "src-1", UpdatedAt: now}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	mirror, err := analytics.Open(filepath.Join(t.TempDir(), "mirror.duckdb"))
	if err != nil {
		t.Fatalf("analytics.Open: %v", err)
	}
	defer mirror.Close()

	orch := ingest.New(st)
	cfg := config.DefaultConfig().Watch
	cfg.MirrorSyncInterval = 20 * time.Millisecond
	c := New(orch, st, cfg, "dev-1", mirror)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	waitFor(t, 3*time.Second, func() bool {
		hw, err := mirror.HighWaterIngestTS()
		return err == nil && hw != ""
	})

	rollup, err := mirror.RollupByModel()
	if err != nil {
		t.Fatalf("RollupByModel: %v", err)
	}
	if len(rollup) != 1 || rollup[0].Key != "claude-x" || rollup[0].InputTokens != 100 {
		t.Errorf("unexpected rollup after mirror sync: %+v", rollup)
	}
}

func TestMirrorSyncLoopDoesNotStartWithoutMirror(t *testing.T) {
	st := openTestStore(t)
	orch := ingest.New(st)
	cfg := config.DefaultConfig().Watch
	cfg.MirrorSyncInterval = 20 * time.Millisecond
	c := New(orch, st, cfg, "dev-1", nil)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// No assertions beyond Start/Stop succeeding: a nil mirror must not
	// panic mirrorSyncLoop or leave it running against a nil pointer.
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
