package analytics

import (
	"path/filepath"
	"testing"
)

func TestRowFromMetaJSONSkipsEventsWithoutTokens(t *testing.T) {
	_, ok := RowFromMetaJSON("e1", "s1", "p1", "sess1", "2026-01-01T00:00:00Z", "assistant_message", `{"model":"x"}`)
	if ok {
		t.Errorf("expected no mirror row for an event with no token fields")
	}
}

func TestRowFromMetaJSONExtractsTokens(t *testing.T) {
	row, ok := RowFromMetaJSON("e1", "s1", "p1", "sess1", "2026-01-01T00:00:00Z", "assistant_message",
		`{"model":"claude-x","message_id":"m1","tokens":{"input":10,"output":20}}`)
	if !ok {
		t.Fatalf("expected a mirror row")
	}
	if row.InputTokens != 10 || row.OutputTokens != 20 {
		t.Errorf("unexpected token counts: %+v", row)
	}
	if row.Model != "claude-x" || row.MessageID != "m1" {
		t.Errorf("unexpected model/message id: %+v", row)
	}
}

func TestMirrorSyncAndRollup(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(filepath.Join(dir, "recall-analytics.duckdb"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	rows := []MirrorRow{
		{EventID: "e1", SourceID: "s1", EventTS: "2026-01-01T00:00:00Z", EventType: "assistant_message",
			Model: "claude-x", MessageID: "m1", InputTokens: 10, OutputTokens: 20},
		{EventID: "e2", SourceID: "s1", EventTS: "2026-01-01T00:01:00Z", EventType: "assistant_message",
			Model: "claude-x", MessageID: "m2", InputTokens: 5, OutputTokens: 5},
	}
	n, err := m.Sync(rows, "2026-01-01T00:01:00Z")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows synced, got %d", n)
	}

	hw, err := m.HighWaterIngestTS()
	if err != nil {
		t.Fatalf("HighWaterIngestTS: %v", err)
	}
	if hw != "2026-01-01T00:01:00Z" {
		t.Errorf("unexpected high-water mark: %q", hw)
	}

	rollup, err := m.RollupByModel()
	if err != nil {
		t.Fatalf("RollupByModel: %v", err)
	}
	if len(rollup) != 1 || rollup[0].Key != "claude-x" {
		t.Fatalf("expected one claude-x rollup row, got %+v", rollup)
	}
	if rollup[0].InputTokens != 15 {
		t.Errorf("expected summed input tokens 15, got %d", rollup[0].InputTokens)
	}
}
