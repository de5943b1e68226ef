package ingest

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/recall-tools/recall/internal/store"
)

// fakeAdapter is a scripted Adapter used to exercise the orchestrator
// without any real filesystem adapter.
type fakeAdapter struct {
	kind      string
	discovery []SourceCandidate
	ingestFn  func(NormalizationContext, string, store.Cursor) (IngestResult, error)
}

func (f *fakeAdapter) Kind() string { return f.kind }
func (f *fakeAdapter) Discover(deviceID string) ([]SourceCandidate, error) {
	return f.discovery, nil
}
func (f *fakeAdapter) WorkingDirs() ([]string, error) { return nil, nil }
func (f *fakeAdapter) Ingest(ctx NormalizationContext, locator string, cur store.Cursor) (IngestResult, error) {
	return f.ingestFn(ctx, locator, cur)
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "recall.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestIngestSourceCommitsEventsAndCursorAtomically(t *testing.T) {
	st := openTestStore(t)
	adapter := &fakeAdapter{
		kind: "fake",
		ingestFn: func(ctx NormalizationContext, locator string, cur store.Cursor) (IngestResult, error) {
			return IngestResult{
				Events: []store.Event{
					{EventID: "e1", SourceID: ctx.SourceID, SourceSeq: 1, DeviceID: ctx.DeviceID, EventType: "user_message", TextRedacted: "hi"},
				},
				NewCursor: store.Cursor{SourceID: ctx.SourceID, LastEventID: "e1"},
				Report:    Report{EventsEmitted: 1},
			}, nil
		},
	}
	o := New(st, adapter)

	src := store.Source{SourceID: "src-1", Kind: "fake", Locator: "/tmp/whatever", DeviceID: "dev-1", Status: store.SourceActive}
	if err := st.UpsertSource(src); err != nil {
		t.Fatalf("register source: %v", err)
	}

	inserted, report, err := o.IngestSource(src)
	if err != nil {
		t.Fatalf("IngestSource: %v", err)
	}
	if inserted != 1 || report.EventsEmitted != 1 {
		t.Fatalf("expected 1 inserted event, got %d (report=%+v)", inserted, report)
	}

	got, err := st.GetSource("src-1")
	if err != nil {
		t.Fatalf("GetSource: %v", err)
	}
	if got.Status != store.SourceActive {
		t.Errorf("expected source to remain active, got %s", got.Status)
	}

	// Re-ingesting the same event is idempotent: zero newly inserted rows.
	inserted, _, err = o.IngestSource(src)
	if err != nil {
		t.Fatalf("second IngestSource: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("expected re-ingestion to insert 0 new rows, got %d", inserted)
	}
}

func TestIngestSourceMarksMissingOnErrSourceMissing(t *testing.T) {
	st := openTestStore(t)
	adapter := &fakeAdapter{
		kind: "fake",
		ingestFn: func(ctx NormalizationContext, locator string, cur store.Cursor) (IngestResult, error) {
			return IngestResult{}, fmt.Errorf("%s: %w", locator, ErrSourceMissing)
		},
	}
	o := New(st, adapter)
	src := store.Source{SourceID: "src-1", Kind: "fake", Locator: "/gone", DeviceID: "dev-1", Status: store.SourceActive}
	st.UpsertSource(src)

	if _, _, err := o.IngestSource(src); err == nil {
		t.Fatalf("expected an error from IngestSource")
	}

	got, err := st.GetSource("src-1")
	if err != nil {
		t.Fatalf("GetSource: %v", err)
	}
	if got.Status != store.SourceMissing {
		t.Fatalf("expected status missing, got %s", got.Status)
	}
}

func TestIngestSourceMarksErrorOnAdapterFailure(t *testing.T) {
	st := openTestStore(t)
	adapter := &fakeAdapter{
		kind: "fake",
		ingestFn: func(ctx NormalizationContext, locator string, cur store.Cursor) (IngestResult, error) {
			return IngestResult{}, fmt.Errorf("git exited 128")
		},
	}
	o := New(st, adapter)
	src := store.Source{SourceID: "src-1", Kind: "fake", Locator: "/repo", DeviceID: "dev-1", Status: store.SourceActive}
	st.UpsertSource(src)

	if _, _, err := o.IngestSource(src); err == nil {
		t.Fatalf("expected an error from IngestSource")
	}

	got, err := st.GetSource("src-1")
	if err != nil {
		t.Fatalf("GetSource: %v", err)
	}
	if got.Status != store.SourceError {
		t.Fatalf("expected status error, got %s", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Errorf("expected a captured error message")
	}
}

func TestIngestAllSkipsPausedAndMissingSources(t *testing.T) {
	st := openTestStore(t)
	calls := 0
	adapter := &fakeAdapter{
		kind: "fake",
		ingestFn: func(ctx NormalizationContext, locator string, cur store.Cursor) (IngestResult, error) {
			calls++
			return IngestResult{NewCursor: store.Cursor{SourceID: ctx.SourceID}}, nil
		},
	}
	o := New(st, adapter)

	st.UpsertSource(store.Source{SourceID: "active", Kind: "fake", Locator: "/a", DeviceID: "dev-1", Status: store.SourceActive})
	st.UpsertSource(store.Source{SourceID: "paused", Kind: "fake", Locator: "/b", DeviceID: "dev-1", Status: store.SourcePaused})
	st.UpsertSource(store.Source{SourceID: "missing", Kind: "fake", Locator: "/c", DeviceID: "dev-1", Status: store.SourceMissing})

	results, err := o.IngestAll()
	if err != nil {
		t.Fatalf("IngestAll: %v", err)
	}
	if len(results) != 1 || calls != 1 {
		t.Fatalf("expected exactly 1 source to be ingested, got %d results / %d calls", len(results), calls)
	}
}

func TestDiscoverAndRegisterAddsNewSourcesOnly(t *testing.T) {
	st := openTestStore(t)
	adapter := &fakeAdapter{
		kind: "fake",
		discovery: []SourceCandidate{
			{Kind: "fake", Locator: "/repo-a"},
			{Kind: "fake", Locator: "/repo-b"},
		},
	}
	o := New(st, adapter)

	n, err := o.DiscoverAndRegister("dev-1")
	if err != nil {
		t.Fatalf("DiscoverAndRegister: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 newly registered sources, got %d", n)
	}

	n, err = o.DiscoverAndRegister("dev-1")
	if err != nil {
		t.Fatalf("second DiscoverAndRegister: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 newly registered sources on the second pass, got %d", n)
	}
}
