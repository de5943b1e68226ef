// Package jsonl ingests line-delimited JSON transcripts: one JSON
// object per line, tailed incrementally with rotation detection, the
// way the teacher's internal/transcript package scans usage out of
// Claude Code's own JSONL session files, generalized here to emit
// full store.Event rows instead of an aggregated usage total.
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/recall-tools/recall/internal/ingest"
	"github.com/recall-tools/recall/internal/redact"
	"github.com/recall-tools/recall/internal/store"
)

const kind = "jsonl"

// Adapter ingests one JSONL transcript file per source.
type Adapter struct {
	// Roots is where Discover looks for *.jsonl transcripts.
	Roots []string
}

func New(roots ...string) *Adapter {
	return &Adapter{Roots: roots}
}

func (a *Adapter) Kind() string { return kind }

// Discover walks Roots for *.jsonl files, each becoming a candidate
// source whose project hint is the file's parent directory name.
func (a *Adapter) Discover(deviceID string) ([]ingest.SourceCandidate, error) {
	var out []ingest.SourceCandidate
	for _, root := range a.Roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
				continue
			}
			out = append(out, ingest.SourceCandidate{
				Kind:        kind,
				Locator:     filepath.Join(root, e.Name()),
				ProjectHint: root,
			})
		}
	}
	return out, nil
}

func (a *Adapter) WorkingDirs() ([]string, error) {
	return a.Roots, nil
}

// rawEntry is one line of a JSONL transcript.
type rawEntry struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId"`
	Timestamp string      `json:"timestamp"`
	Message   *rawMessage `json:"message,omitempty"`
}

type rawMessage struct {
	Role    string          `json:"role,omitempty"`
	Model   string          `json:"model,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
	Usage   *rawUsage       `json:"usage,omitempty"`
}

type rawUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// Ingest tails locator from cur, parsing newly appended lines into events.
func (a *Adapter) Ingest(nctx ingest.NormalizationContext, locator string, cur store.Cursor) (ingest.IngestResult, error) {
	info, err := os.Stat(locator)
	if os.IsNotExist(err) {
		return ingest.IngestResult{}, fmt.Errorf("%s: %w", locator, ingest.ErrSourceMissing)
	}
	if err != nil {
		return ingest.IngestResult{}, fmt.Errorf("stat %s: %w", locator, err)
	}

	inode := inodeOf(info)
	size := info.Size()
	mtime := info.ModTime().UTC()

	offset := int64(0)
	if cur.ByteOffset != nil && cur.FileInode != nil && *cur.FileInode == inode && *cur.ByteOffset <= size {
		offset = *cur.ByteOffset
	}

	f, err := os.Open(locator)
	if err != nil {
		return ingest.IngestResult{}, fmt.Errorf("open %s: %w", locator, err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, 0); err != nil {
		return ingest.IngestResult{}, fmt.Errorf("seek %s: %w", locator, err)
	}

	seq := 0.0
	if cur.LastRowID != nil {
		seq = float64(*cur.LastRowID)
	}

	sessionMeta := loadSidecarMeta(locator)
	sessionID := nctx.SessionID

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	var events []store.Event
	var bytesRead int64
	emittedSessionMeta := false

	for scanner.Scan() {
		line := scanner.Bytes()
		bytesRead += int64(len(line)) + 1
		if len(line) == 0 {
			continue
		}

		var entry rawEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue // malformed lines are skipped, not fatal
		}
		if entry.SessionID != "" {
			sessionID = entry.SessionID
		}

		evCtx := eventContext{
			nctx: nctx, sessionID: sessionID, ts: parseTimestamp(entry.Timestamp),
		}

		var emitted []store.Event
		seq, emitted = emitEntry(evCtx, entry, seq)
		if !emittedSessionMeta && sessionMeta != "" && len(emitted) > 0 {
			emitted[0].MetaJSON = mergeSessionMeta(emitted[0].MetaJSON, sessionMeta)
			emittedSessionMeta = true
		}
		events = append(events, emitted...)
	}
	if err := scanner.Err(); err != nil {
		return ingest.IngestResult{}, fmt.Errorf("read %s: %w", locator, err)
	}

	newOffset := offset + bytesRead
	lastRowID := int64(seq)
	newCursor := store.Cursor{
		SourceID:   nctx.SourceID,
		FileInode:  &inode,
		FileSize:   &size,
		FileMtime:  &mtime,
		ByteOffset: &newOffset,
		LastRowID:  &lastRowID,
	}
	if len(events) > 0 {
		newCursor.LastEventID = events[len(events)-1].EventID
	} else {
		newCursor.LastEventID = cur.LastEventID
	}

	return ingest.IngestResult{
		Events:    events,
		NewCursor: newCursor,
		Report:    ingest.Report{EventsEmitted: len(events), BytesRead: bytesRead},
	}, nil
}

type eventContext struct {
	nctx      ingest.NormalizationContext
	sessionID string
	ts        time.Time
}

// emitEntry converts one transcript line into zero or more events,
// returning the updated running sequence counter.
func emitEntry(ctx eventContext, entry rawEntry, seq float64) (float64, []store.Event) {
	now := time.Now().UTC()
	var out []store.Event

	switch entry.Type {
	case "human", "user":
		text := extractText(entry.Message)
		if text == "" {
			return seq, nil
		}
		seq++
		redacted, manifest := maybeRedact(ctx.nctx, text)
		out = append(out, newEvent(ctx, seq, now, "user_message", redacted, manifestJSON(manifest), "", "", ""))
		out = append(out, legacyInvocations(ctx, &seq, now, text)...)

	case "assistant":
		blocks := extractBlocks(entry.Message)
		if len(blocks) == 0 {
			text := extractText(entry.Message)
			if text != "" {
				seq++
				meta := usageMeta(entry.Message)
				out = append(out, newEvent(ctx, seq, now, "assistant_message", text, meta, "", "", ""))
				out = append(out, legacyInvocations(ctx, &seq, now, text)...)
			}
			return seq, out
		}

		usedUsage := false
		for _, b := range blocks {
			switch b.Type {
			case "text":
				if b.Text == "" {
					continue
				}
				seq++
				meta := ""
				if !usedUsage {
					meta = usageMeta(entry.Message)
					usedUsage = true
				}
				out = append(out, newEvent(ctx, seq, now, "assistant_message", b.Text, meta, "", "", ""))
				out = append(out, legacyInvocations(ctx, &seq, now, b.Text)...)

			case "tool_use":
				seq++
				callSeq := seq
				args := string(b.Input)
				redactedArgs, argManifest := maybeRedactJSONString(ctx.nctx, args)
				paths := filePathsFromArgs(b.Name, args)
				callEvent := newEvent(ctx, callSeq, now, "tool_call", "", "", b.Name, redactedArgs, paths)
				callEvent.MetaJSON = mergeToolCallID(callEvent.MetaJSON, b.ID)
				callEvent.RedactionManifestJSON = manifestJSON(argManifest)
				out = append(out, callEvent)

				if isWriteTool(b.Name) {
					content := contentArg(args)
					if content != "" {
						resultSeq := callSeq + 0.5
						redactedContent, contentManifest := maybeRedact(ctx.nctx, ingest.Truncate(content, ingest.TruncateReadWriteBytes))
						writeEvent := newEvent(ctx, resultSeq, now, "tool_result", redactedContent, `{"is_write_content":true}`, b.Name, "", paths)
						writeEvent.MetaJSON = mergeToolCallID(writeEvent.MetaJSON, b.ID)
						writeEvent.RedactionManifestJSON = manifestJSON(contentManifest)
						out = append(out, writeEvent)
					}
				}

			case "tool_result":
				resultSeq := toolCallSeq(out, b.ToolUseID) + 0.5
				if resultSeq <= seq {
					resultSeq = seq + 0.5
				}
				text := toolResultText(b)
				redactedText, manifest := maybeRedact(ctx.nctx, ingest.Truncate(text, ingest.TruncateOtherBytes))
				resEvent := newEvent(ctx, resultSeq, now, "tool_result", redactedText, "", "", "", "")
				resEvent.MetaJSON = mergeToolCallID(resEvent.MetaJSON, b.ToolUseID)
				resEvent.RedactionManifestJSON = manifestJSON(manifest)
				out = append(out, resEvent)
			}
		}
	}

	return seq, out
}

func newEvent(ctx eventContext, seq float64, ingestTS time.Time, eventType, text, meta, toolName, toolArgs, filePaths string) store.Event {
	return store.Event{
		EventID:      ingest.EventID(ctx.nctx.SourceID, seq, text+toolArgs+toolName),
		SourceID:     ctx.nctx.SourceID,
		SourceSeq:    seq,
		DeviceID:     ctx.nctx.DeviceID,
		ProjectID:    ctx.nctx.ProjectID,
		SessionID:    ctx.sessionID,
		EventTS:      eventTime(ctx.ts, ingestTS),
		IngestTS:     ingestTS,
		SourceKind:   kind,
		EventType:    eventType,
		TextRedacted: text,
		ToolName:     toolName,
		ToolArgsJSON: toolArgs,
		FilePathsJSON: filePaths,
		MetaJSON:     meta,
	}
}

func eventTime(ts, fallback time.Time) time.Time {
	if ts.IsZero() {
		return fallback
	}
	return ts
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}

func extractText(m *rawMessage) string {
	if m == nil {
		return ""
	}
	var s string
	if json.Unmarshal(m.Content, &s) == nil && s != "" {
		return s
	}
	for _, b := range extractBlocks(m) {
		if b.Type == "text" && b.Text != "" {
			return b.Text
		}
	}
	return ""
}

func extractBlocks(m *rawMessage) []contentBlock {
	if m == nil || len(m.Content) == 0 {
		return nil
	}
	var blocks []contentBlock
	if json.Unmarshal(m.Content, &blocks) == nil {
		return blocks
	}
	return nil
}

func usageMeta(m *rawMessage) string {
	if m == nil || m.Usage == nil {
		return ""
	}
	u := m.Usage
	return fmt.Sprintf(`{"model":%q,"tokens":{"input":%d,"output":%d,"cache_read":%d,"cache_write":%d}}`,
		m.Model, u.InputTokens, u.OutputTokens, u.CacheReadInputTokens, u.CacheCreationInputTokens)
}

// maybeRedact applies Redact only when the owning source has opted
// into scrubbing; an unredacted source returns text untouched with an
// empty manifest rather than a coincidentally-unchanged one.
func maybeRedact(nctx ingest.NormalizationContext, text string) (string, redact.Manifest) {
	if !nctx.RedactSecrets {
		return text, redact.Manifest{}
	}
	redacted, manifest, _ := redact.Redact(text)
	return redacted, manifest
}

func maybeRedactJSONString(nctx ingest.NormalizationContext, s string) (string, redact.Manifest) {
	if !nctx.RedactSecrets {
		return s, redact.Manifest{}
	}
	redacted, manifest, _ := redact.RedactJSONString(s)
	return redacted, manifest
}

func manifestJSON(m redact.Manifest) string {
	if len(m.Redactions) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

func mergeToolCallID(metaJSON, toolCallID string) string {
	if toolCallID == "" {
		return metaJSON
	}
	var m map[string]interface{}
	if metaJSON != "" {
		json.Unmarshal([]byte(metaJSON), &m)
	}
	if m == nil {
		m = map[string]interface{}{}
	}
	m["tool_call_id"] = toolCallID
	b, err := json.Marshal(m)
	if err != nil {
		return metaJSON
	}
	return string(b)
}

func mergeSessionMeta(metaJSON, sessionMeta string) string {
	var m map[string]interface{}
	if metaJSON != "" {
		json.Unmarshal([]byte(metaJSON), &m)
	}
	if m == nil {
		m = map[string]interface{}{}
	}
	var raw map[string]interface{}
	if json.Unmarshal([]byte(sessionMeta), &raw) == nil {
		m["session_meta"] = raw
	}
	b, err := json.Marshal(m)
	if err != nil {
		return metaJSON
	}
	return string(b)
}

func loadSidecarMeta(locator string) string {
	data, err := os.ReadFile(locator + ".meta.json")
	if err != nil {
		return ""
	}
	return string(data)
}

var writeToolNames = map[string]bool{"write": true, "Write": true, "create_file": true}

func isWriteTool(name string) bool {
	return writeToolNames[name]
}

func contentArg(argsJSON string) string {
	var m map[string]interface{}
	if json.Unmarshal([]byte(argsJSON), &m) != nil {
		return ""
	}
	if c, ok := m["content"].(string); ok {
		return c
	}
	return ""
}

var filePathKeys = []string{"file_path", "path", "filePath"}

func filePathsFromArgs(toolName, argsJSON string) string {
	var m map[string]interface{}
	if json.Unmarshal([]byte(argsJSON), &m) != nil {
		return ""
	}
	for _, k := range filePathKeys {
		if v, ok := m[k].(string); ok && v != "" {
			b, _ := json.Marshal([]string{v})
			return string(b)
		}
	}
	return ""
}

func toolResultText(b contentBlock) string {
	var s string
	if json.Unmarshal(b.Content, &s) == nil && s != "" {
		return s
	}
	var blocks []contentBlock
	if json.Unmarshal(b.Content, &blocks) == nil {
		var parts []string
		for _, cb := range blocks {
			if cb.Text != "" {
				parts = append(parts, cb.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

// toolCallSeq looks back through already-emitted events in this tick
// for the tool_call carrying toolUseID, so its result can be placed at
// call_seq + 0.5 even when the result arrives as a separate content
// block rather than inline with the call.
func toolCallSeq(emitted []store.Event, toolUseID string) float64 {
	if toolUseID == "" {
		return 0
	}
	for i := len(emitted) - 1; i >= 0; i-- {
		e := emitted[i]
		if e.EventType == "tool_call" && strings.Contains(e.MetaJSON, toolUseID) {
			return e.SourceSeq
		}
	}
	return 0
}

var (
	functionCallsRe = regexp.MustCompile(`(?s)<function_calls>(.*?)</function_calls>(?:\s*<result>(.*?)</result>)?`)
	invokeRe        = regexp.MustCompile(`(?s)<invoke name="([^"]+)">(.*?)</invoke>`)
	parameterRe     = regexp.MustCompile(`(?s)<parameter name="([^"]+)">(.*?)</parameter>`)
)

// legacyInvocations parses the XML-like <function_calls><invoke> block
// some older assistant turns embed directly in text, converting each
// invocation into a paired tool_call/tool_result event.
func legacyInvocations(ctx eventContext, seq *float64, ingestTS time.Time, text string) []store.Event {
	var out []store.Event
	for _, fc := range functionCallsRe.FindAllStringSubmatch(text, -1) {
		invokesBlock, result := fc[1], fc[2]
		for _, inv := range invokeRe.FindAllStringSubmatch(invokesBlock, -1) {
			name, paramsBlock := inv[1], inv[2]
			params := map[string]string{}
			for _, p := range parameterRe.FindAllStringSubmatch(paramsBlock, -1) {
				params[p[1]] = strings.TrimSpace(p[2])
			}
			argsJSON, _ := json.Marshal(params)

			*seq++
			callSeq := *seq
			redactedArgs, argManifest := maybeRedactJSONString(ctx.nctx, string(argsJSON))
			callEvent := newEvent(ctx, callSeq, ingestTS, "tool_call", "", "", name, redactedArgs, "")
			callEvent.RedactionManifestJSON = manifestJSON(argManifest)
			out = append(out, callEvent)

			if result != "" {
				redactedResult, resManifest := maybeRedact(ctx.nctx, ingest.Truncate(result, ingest.TruncateOtherBytes))
				resEvent := newEvent(ctx, callSeq+0.5, ingestTS, "tool_result", redactedResult, "", name, "", "")
				resEvent.RedactionManifestJSON = manifestJSON(resManifest)
				out = append(out, resEvent)
			}
		}
	}
	return out
}

func inodeOf(info os.FileInfo) int64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return int64(st.Ino)
	}
	return 0
}
