package store

import (
	"errors"
	"testing"
	"time"
)

func tokenEvent(id string, seq float64, sourceID, sessionID, messageID, model string, input, output int64, ts time.Time) Event {
	e := sampleEvent(id, seq, "assistant reply")
	e.SourceID = sourceID
	e.SessionID = sessionID
	e.EventType = "assistant_message"
	e.EventTS = ts
	e.MetaJSON = `{"model":"` + model + `","message_id":"` + messageID + `","tokens":{"input":` +
		itoa(input) + `,"output":` + itoa(output) + `}}`
	return e
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	if neg {
		buf = append([]byte{'-'}, buf...)
	}
	return string(buf)
}

func TestGetTokenStatsDedupesByMessageID(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	events := []Event{
		tokenEvent("e1", 1, "src-1", "sess-1", "msg-1", "claude-x", 100, 50, now),
		tokenEvent("e2", 1.5, "src-1", "sess-1", "msg-1", "claude-x", 100, 50, now),
	}
	if _, err := s.InsertBatch(events, Cursor{SourceID: "src-1", UpdatedAt: now}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	pricing := map[string]ModelPricing{
		"claude-x": {InputPerMille: 3, OutputPerMille: 15},
	}
	stats, err := s.GetTokenStats(Filter{}, GroupByModel, pricing)
	if err != nil {
		t.Fatalf("GetTokenStats: %v", err)
	}
	if stats.TotalTokens.Input != 100 {
		t.Errorf("expected deduped input of 100, got %d", stats.TotalTokens.Input)
	}
}

func TestGetTokenStatsSurfacesUnknownModel(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	events := []Event{tokenEvent("e1", 1, "src-1", "sess-1", "msg-1", "mystery-model", 10, 10, now)}
	if _, err := s.InsertBatch(events, Cursor{SourceID: "src-1", UpdatedAt: now}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	_, err := s.GetTokenStats(Filter{}, GroupByModel, map[string]ModelPricing{})
	if !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
}
