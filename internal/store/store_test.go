package store

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "recall.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.UpsertSource(Source{SourceID: "src-1", Kind: "jsonl_transcript", Locator: "/test/src-1", DeviceID: "dev-1", Status: SourceActive}); err != nil {
		t.Fatalf("register source: %v", err)
	}
	return s
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := openTestStore(t)

	version, err := s.GetVersion()
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if version != schemaVersion {
		t.Errorf("expected schema version %d, got %d", schemaVersion, version)
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recall.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close()

	version, err := s2.GetVersion()
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if version != schemaVersion {
		t.Errorf("expected schema version %d after reopen, got %d", schemaVersion, version)
	}
}

func sampleEvent(id string, seq float64, text string) Event {
	now := time.Now().UTC()
	return Event{
		EventID:       id,
		SourceID:      "src-1",
		SourceSeq:     seq,
		DeviceID:      "dev-1",
		EventTS:       now,
		IngestTS:      now,
		SourceKind:    "jsonl_transcript",
		EventType:     "user_message",
		TextRedacted:  text,
	}
}

func TestInsertBatchIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	events := []Event{
		sampleEvent("e1", 1, "hello world"),
		sampleEvent("e2", 2, "second message"),
	}
	cursor := Cursor{SourceID: "src-1", UpdatedAt: time.Now().UTC()}

	n, err := s.InsertBatch(events, cursor)
	if err != nil {
		t.Fatalf("first InsertBatch: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 inserted, got %d", n)
	}

	n, err = s.InsertBatch(events, cursor)
	if err != nil {
		t.Fatalf("second InsertBatch: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 inserted on re-ingest, got %d", n)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 rows after duplicate ingest, got %d", count)
	}
}

func TestFTSStaysInSyncWithEvents(t *testing.T) {
	s := openTestStore(t)

	events := []Event{sampleEvent("e1", 1, "a message about authentication tokens")}
	cursor := Cursor{SourceID: "src-1", UpdatedAt: time.Now().UTC()}
	if _, err := s.InsertBatch(events, cursor); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	var ftsCount int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events_fts WHERE events_fts MATCH 'authentication'`).Scan(&ftsCount); err != nil {
		t.Fatalf("query fts: %v", err)
	}
	if ftsCount != 1 {
		t.Errorf("expected 1 fts match, got %d", ftsCount)
	}

	if _, err := s.db.Exec(`DELETE FROM events WHERE event_id = 'e1'`); err != nil {
		t.Fatalf("delete event: %v", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events_fts WHERE events_fts MATCH 'authentication'`).Scan(&ftsCount); err != nil {
		t.Fatalf("query fts after delete: %v", err)
	}
	if ftsCount != 0 {
		t.Errorf("expected 0 fts matches after delete, got %d", ftsCount)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	s := openTestStore(t)

	offset := int64(128)
	inode := int64(99)
	events := []Event{sampleEvent("e1", 1, "x")}
	cursor := Cursor{SourceID: "src-1", ByteOffset: &offset, FileInode: &inode, UpdatedAt: time.Now().UTC()}

	if _, err := s.InsertBatch(events, cursor); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	got, err := s.GetCursor("src-1")
	if err != nil {
		t.Fatalf("GetCursor: %v", err)
	}
	if got == nil {
		t.Fatal("expected a cursor, got nil")
	}
	if got.ByteOffset == nil || *got.ByteOffset != offset {
		t.Errorf("expected byte offset %d, got %v", offset, got.ByteOffset)
	}
	if got.FileInode == nil || *got.FileInode != inode {
		t.Errorf("expected inode %d, got %v", inode, got.FileInode)
	}
}
