package store

import (
	"testing"
	"time"
)

func TestNormalizeSearchQueryFlattensPipesAndGroups(t *testing.T) {
	got := normalizeSearchQuery("(auth|login)")
	want := "auth OR login"
	if got != want {
		t.Errorf("normalizeSearchQuery = %q, want %q", got, want)
	}
}

func TestNormalizeSearchQueryUnescapesPipe(t *testing.T) {
	got := normalizeSearchQuery(`a\|b`)
	if got != `"a|b"` {
		t.Errorf("normalizeSearchQuery = %q, want %q", got, `"a|b"`)
	}
}

func TestNormalizeSearchQueryQuotesNonAlnumTerms(t *testing.T) {
	got := normalizeSearchQuery("foo-bar baz")
	want := `"foo-bar" OR baz`
	if got != want {
		t.Errorf("normalizeSearchQuery = %q, want %q", got, want)
	}
}

func TestNormalizeSearchQueryStripsRegexMeta(t *testing.T) {
	got := normalizeSearchQuery("foo.*bar")
	if got != "foobar" {
		t.Errorf("normalizeSearchQuery = %q, want %q", got, "foobar")
	}
}

func insertSearchFixture(t *testing.T, s *Store, n int, word string) {
	t.Helper()
	now := time.Now().UTC()
	var events []Event
	for i := 0; i < n; i++ {
		e := sampleEvent(eventIDFor(i), float64(i+1), "a message about "+word)
		e.EventTS = now.Add(time.Duration(i) * time.Second)
		events = append(events, e)
	}
	if _, err := s.InsertBatch(events, Cursor{SourceID: "src-1", UpdatedAt: now}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
}

func eventIDFor(i int) string {
	const letters = "0123456789abcdefghijklmnopqrstuvwxyz"
	return "evt-" + string(letters[i%len(letters)]) + string(letters[(i/len(letters))%len(letters)])
}

func TestSearchPagination(t *testing.T) {
	s := openTestStore(t)
	insertSearchFixture(t, s, 42, "auth")

	hits, page, err := s.Search(SearchRequest{
		Query:  "auth",
		Filter: Filter{Limit: 10, Offset: 30},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if page.Total != 42 {
		t.Errorf("expected total=42, got %d", page.Total)
	}
	// LIMIT 10 OFFSET 30 of 42 total rows returns exactly 10 rows; the
	// remaining 12 (total - offset) is a count, not a row count.
	if len(hits) != 10 {
		t.Errorf("expected 10 rows at offset 30 of 42, got %d", len(hits))
	}
	if remaining := page.Total - page.Offset; remaining != 12 {
		t.Errorf("expected 12 rows remaining after offset 30, got %d", remaining)
	}
}

func TestTimelineOrdersAscendingAndFiltersByTime(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)

	events := []Event{
		withTS(sampleEvent("e1", 1, "one"), base),
		withTS(sampleEvent("e2", 2, "two"), base.Add(time.Hour)),
		withTS(sampleEvent("e3", 3, "three"), base.Add(2*time.Hour)),
	}
	if _, err := s.InsertBatch(events, Cursor{SourceID: "src-1", UpdatedAt: base}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	since := base.Add(30 * time.Minute)
	until := base.Add(90 * time.Minute)
	got, _, _, err := s.Timeline(Filter{Since: &since, Until: &until})
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	if len(got) != 1 || got[0].EventID != "e2" {
		t.Fatalf("expected only e2 in window, got %+v", got)
	}
}

func withTS(e Event, ts time.Time) Event {
	e.EventTS = ts
	return e
}
