package plaintext

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/recall-tools/recall/internal/ingest"
	"github.com/recall-tools/recall/internal/store"
)

func TestIngestTokenizesHeaderDelimitedBlocks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session1.txt")
	content := "## USER\nwhat's in main.go?\n\n## TOOL_CALL: read\n{\"file_path\":\"main.go\"}\n\n## TOOL_RESULT\npackage main\n\n## ASSISTANT\nIt's a small program.\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	a := New(dir)
	ctx := ingest.NormalizationContext{SourceID: "src-1", DeviceID: "dev-1"}
	result, err := a.Ingest(ctx, path, store.Cursor{SourceID: "src-1"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(result.Events) != 4 {
		t.Fatalf("expected 4 blocks, got %d: %+v", len(result.Events), result.Events)
	}
	if result.Events[1].EventType != "tool_call" || result.Events[1].ToolName != "read" {
		t.Errorf("expected second block to be a tool_call named read, got %+v", result.Events[1])
	}
}

func TestIngestSkipsUnchangedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session1.txt")
	if err := os.WriteFile(path, []byte("## USER\nhi\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	a := New(dir)
	ctx := ingest.NormalizationContext{SourceID: "src-1", DeviceID: "dev-1"}
	first, err := a.Ingest(ctx, path, store.Cursor{SourceID: "src-1"})
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	second, err := a.Ingest(ctx, path, first.NewCursor)
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if len(second.Events) != 0 {
		t.Fatalf("expected zero events on an unchanged file, got %d", len(second.Events))
	}
}
