package jsonl

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/recall-tools/recall/internal/ingest"
	"github.com/recall-tools/recall/internal/store"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestIngestAcrossAppends(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "session.jsonl",
		`{"type":"human","sessionId":"s1","message":{"content":"hello"}}`+"\n"+
			`{"type":"assistant","sessionId":"s1","message":{"model":"claude-x","content":"hi there","usage":{"input_tokens":10,"output_tokens":5}}}`+"\n")

	a := New(dir)
	ctx := ingest.NormalizationContext{SourceID: "src-1", DeviceID: "dev-1"}

	result, err := a.Ingest(ctx, path, store.Cursor{SourceID: "src-1"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(result.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(result.Events))
	}
	if *result.NewCursor.ByteOffset == 0 {
		t.Errorf("expected non-zero byte offset after first ingest")
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.WriteString(`{"type":"human","sessionId":"s1","message":{"content":"third line"}}` + "\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	result2, err := a.Ingest(ctx, path, result.NewCursor)
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if len(result2.Events) != 1 {
		t.Fatalf("expected exactly 1 new event from the appended line, got %d", len(result2.Events))
	}

	result3, err := a.Ingest(ctx, path, result2.NewCursor)
	if err != nil {
		t.Fatalf("third Ingest: %v", err)
	}
	if len(result3.Events) != 0 {
		t.Fatalf("expected zero events when nothing changed, got %d", len(result3.Events))
	}
}

func TestIngestPairsToolCallAndResult(t *testing.T) {
	dir := t.TempDir()
	line := `{"type":"assistant","sessionId":"s1","message":{"content":[` +
		`{"type":"tool_use","id":"call-1","name":"read","input":{"file_path":"/a.go"}},` +
		`{"type":"tool_result","tool_use_id":"call-1","content":"file contents"}]}}`
	path := writeFile(t, dir, "session.jsonl", line+"\n")

	a := New(dir)
	ctx := ingest.NormalizationContext{SourceID: "src-1", DeviceID: "dev-1"}
	result, err := a.Ingest(ctx, path, store.Cursor{SourceID: "src-1"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(result.Events) != 2 {
		t.Fatalf("expected a tool_call/tool_result pair, got %d events", len(result.Events))
	}
	call, res := result.Events[0], result.Events[1]
	if call.EventType != "tool_call" || res.EventType != "tool_result" {
		t.Fatalf("unexpected event types: %s, %s", call.EventType, res.EventType)
	}
	if res.SourceSeq != call.SourceSeq+0.5 {
		t.Errorf("expected result seq = call seq + 0.5, got call=%v result=%v", call.SourceSeq, res.SourceSeq)
	}
	if !strings.Contains(res.MetaJSON, "call-1") {
		t.Errorf("expected tool_call_id in result meta_json, got %q", res.MetaJSON)
	}
}

func TestLegacyInvocationParsing(t *testing.T) {
	dir := t.TempDir()
	text := `Let me check that file.
<function_calls>
<invoke name="read_file">
<parameter name="path">/tmp/x.go</parameter>
</invoke>
</function_calls>
<result>package main</result>`
	escaped := strings.NewReplacer(`"`, `\"`, "\n", `\n`).Replace(text)
	line := `{"type":"assistant","sessionId":"s1","message":{"content":"` + escaped + `"}}`
	path := writeFile(t, dir, "session.jsonl", line+"\n")

	a := New(dir)
	ctx := ingest.NormalizationContext{SourceID: "src-1", DeviceID: "dev-1"}
	result, err := a.Ingest(ctx, path, store.Cursor{SourceID: "src-1"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	var sawCall, sawResult bool
	for _, e := range result.Events {
		if e.EventType == "tool_call" && e.ToolName == "read_file" {
			sawCall = true
		}
		if e.EventType == "tool_result" {
			sawResult = true
		}
	}
	if !sawCall || !sawResult {
		t.Fatalf("expected a legacy tool_call/tool_result pair, got %+v", result.Events)
	}
}
