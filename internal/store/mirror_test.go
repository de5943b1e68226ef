package store

import (
	"testing"
	"time"
)

func TestMirrorableEventsSkipsEventsWithoutTokens(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	events := []Event{
		tokenEvent("e1", 1, "src-1", "sess-1", "msg-1", "claude-x", 100, 50, now),
		sampleEvent("e2", 2, "no tokens here"),
	}
	if _, err := s.InsertBatch(events, Cursor{SourceID: "src-1", UpdatedAt: now}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	rows, highWater, err := s.MirrorableEvents("")
	if err != nil {
		t.Fatalf("MirrorableEvents: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 mirrorable row, got %d", len(rows))
	}
	if rows[0].EventID != "e1" || rows[0].InputTokens != 100 || rows[0].OutputTokens != 50 {
		t.Errorf("unexpected mirrored row: %+v", rows[0])
	}
	if highWater == "" {
		t.Error("expected a non-empty high-water mark")
	}
}

func TestMirrorableEventsOnlyReturnsRowsAfterWatermark(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	first := tokenEvent("e1", 1, "src-1", "sess-1", "msg-1", "claude-x", 100, 50, now)
	if _, err := s.InsertBatch([]Event{first}, Cursor{SourceID: "src-1", UpdatedAt: now}); err != nil {
		t.Fatalf("InsertBatch first: %v", err)
	}

	_, highWater, err := s.MirrorableEvents("")
	if err != nil {
		t.Fatalf("MirrorableEvents: %v", err)
	}

	later := now.Add(time.Second)
	second := tokenEvent("e2", 2, "src-1", "sess-1", "msg-2", "claude-x", 10, 5, later)
	second.IngestTS = later
	if _, err := s.InsertBatch([]Event{second}, Cursor{SourceID: "src-1", UpdatedAt: later}); err != nil {
		t.Fatalf("InsertBatch second: %v", err)
	}

	rows, newHighWater, err := s.MirrorableEvents(highWater)
	if err != nil {
		t.Fatalf("MirrorableEvents after watermark: %v", err)
	}
	if len(rows) != 1 || rows[0].EventID != "e2" {
		t.Fatalf("expected only e2 after watermark, got %+v", rows)
	}
	if newHighWater <= highWater {
		t.Errorf("expected a new high-water mark greater than %q, got %q", highWater, newHighWater)
	}
}
