package usage

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

func tokenEvent(t *testing.T, seq float64, ts time.Time, sessionID, messageID, model string, input, output int64) store.Event {
	meta, err := json.Marshal(map[string]interface{}{
		"model":      model,
		"message_id": messageID,
		"tokens": map[string]int64{
			"input": input, "output": output,
		},
	})
	if err != nil {
		t.Fatalf("marshal meta: %v", err)
	}
	return store.Event{
		EventID: "e-" + messageID + "-" + ts.Format(time.RFC3339Nano), SourceID: "src-1", SourceSeq: seq,
		SessionID: sessionID, EventTS: ts, IngestTS: ts,
		SourceKind: "jsonl", EventType: "assistant_message", MetaJSON: string(meta),
	}
}

func TestGetSummaryAggregatesAndDeduplicates(t *testing.T) {
	st := openTestStore(t)
	now := time.Now().UTC()

	events := []store.Event{
		tokenEvent(t, 1, now, "sess-1", "msg-1", "claude-sonnet-4-20250514", 1000, 500),
		tokenEvent(t, 2, now.Add(time.Second), "sess-1", "msg-1", "claude-sonnet-4-20250514", 1000, 500),
	}
	if _, err := st.InsertBatch(events, store.Cursor{SourceID: "src-1"}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	summary, err := GetSummary(st, nil, nil, KnownPricing())
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if summary.InputTokens != 1000 || summary.OutputTokens != 500 {
		t.Fatalf("expected dedup by message_id to count tokens once, got input=%d output=%d", summary.InputTokens, summary.OutputTokens)
	}
}

func TestGetSummaryFailsOnUnknownModel(t *testing.T) {
	st := openTestStore(t)
	now := time.Now().UTC()

	if _, err := st.InsertBatch([]store.Event{
		tokenEvent(t, 1, now, "sess-1", "msg-1", "some-future-model", 10, 10),
	}, store.Cursor{SourceID: "src-1"}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	_, err := GetSummary(st, nil, nil, KnownPricing())
	if err == nil {
		t.Fatalf("expected an unknown-model error")
	}
}

func TestWithOverridesKeepsKnownModels(t *testing.T) {
	pricing := WithOverrides(map[string]store.ModelPricing{
		"self-hosted-model": {InputPerMille: 1, OutputPerMille: 2},
	})
	if _, ok := pricing["claude-sonnet-4-20250514"]; !ok {
		t.Errorf("expected built-in pricing to survive WithOverrides")
	}
	if _, ok := pricing["self-hosted-model"]; !ok {
		t.Errorf("expected override to be present")
	}
}
