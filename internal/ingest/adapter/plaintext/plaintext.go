// Package plaintext ingests agent sessions recorded as single
// plain-text files whose structure is marked by literal section
// headers rather than any structured encoding. Grounded on the
// teacher's internal/transcript line-scanning idiom (bufio.Scanner
// with an enlarged buffer, skip-what-doesn't-parse), adapted from
// line-oriented JSON to header-delimited plain text.
package plaintext

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/recall-tools/recall/internal/ingest"
	"github.com/recall-tools/recall/internal/redact"
	"github.com/recall-tools/recall/internal/store"
)

const kind = "plaintext"

// headers this adapter recognizes. A line matching one of these
// prefixes (case-insensitive, optionally followed by ": <name>")
// starts a new block; everything until the next header belongs to it.
var headers = []string{
	"## USER", "## ASSISTANT", "## THINKING", "## TOOL_CALL", "## TOOL_RESULT",
}

// Adapter ingests one plain-text session file per source. Each root
// holds per-working-directory subdirectories, each of which holds one
// session per file.
type Adapter struct {
	Roots []string
}

func New(roots ...string) *Adapter {
	return &Adapter{Roots: roots}
}

func (a *Adapter) Kind() string { return kind }

func (a *Adapter) Discover(deviceID string) ([]ingest.SourceCandidate, error) {
	var out []ingest.SourceCandidate
	for _, root := range a.Roots {
		dirs, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, d := range dirs {
			if !d.IsDir() {
				continue
			}
			workDir := filepath.Join(root, d.Name())
			files, err := os.ReadDir(workDir)
			if err != nil {
				continue
			}
			for _, f := range files {
				if f.IsDir() {
					continue
				}
				out = append(out, ingest.SourceCandidate{
					Kind:        kind,
					Locator:     filepath.Join(workDir, f.Name()),
					ProjectHint: workDir,
				})
			}
		}
	}
	return out, nil
}

func (a *Adapter) WorkingDirs() ([]string, error) {
	var dirs []string
	for _, root := range a.Roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, filepath.Join(root, e.Name()))
			}
		}
	}
	return dirs, nil
}

type block struct {
	header string
	name   string // e.g. a tool name following "## TOOL_CALL: read"
	body   strings.Builder
}

// Ingest re-reads the whole file whenever its mtime changed since cur
// (whole-file cursor granularity per spec.md §4.4.3); events are
// deduplicated by event_id downstream in store.InsertBatch, so
// re-ingesting unchanged blocks is safe.
func (a *Adapter) Ingest(nctx ingest.NormalizationContext, locator string, cur store.Cursor) (ingest.IngestResult, error) {
	info, err := os.Stat(locator)
	if os.IsNotExist(err) {
		return ingest.IngestResult{}, fmt.Errorf("%s: %w", locator, ingest.ErrSourceMissing)
	}
	if err != nil {
		return ingest.IngestResult{}, fmt.Errorf("stat %s: %w", locator, err)
	}
	mtime := info.ModTime().UTC()

	if cur.FileMtime != nil && cur.FileMtime.Equal(mtime) {
		return ingest.IngestResult{NewCursor: cur}, nil
	}

	f, err := os.Open(locator)
	if err != nil {
		return ingest.IngestResult{}, fmt.Errorf("open %s: %w", locator, err)
	}
	defer f.Close()

	blocks := tokenize(f)

	sessionID := strings.TrimSuffix(filepath.Base(locator), filepath.Ext(locator))
	now := time.Now().UTC()
	size := info.Size()

	var events []store.Event
	for i, b := range blocks {
		seq := float64(i + 1)
		eventType, role := classify(b.header)
		text := strings.TrimSpace(b.body.String())

		redactedText := text
		var manifest string
		if role != "assistant" && nctx.RedactSecrets {
			r, m, _ := redact.Redact(text)
			redactedText = r
			manifest = manifestJSON(m)
		}

		events = append(events, store.Event{
			EventID:      ingest.EventID(nctx.SourceID, seq, text),
			SourceID:     nctx.SourceID,
			SourceSeq:    seq,
			DeviceID:     nctx.DeviceID,
			ProjectID:    nctx.ProjectID,
			SessionID:    sessionID,
			EventTS:      mtime,
			IngestTS:     now,
			SourceKind:   kind,
			EventType:    eventType,
			TextRedacted: redactedText,
			ToolName:     b.name,
			RedactionManifestJSON: manifest,
		})
	}

	newCursor := store.Cursor{
		SourceID:  nctx.SourceID,
		FileMtime: &mtime,
		FileSize:  &size,
	}
	if len(events) > 0 {
		newCursor.LastEventID = events[len(events)-1].EventID
	}

	return ingest.IngestResult{
		Events:    events,
		NewCursor: newCursor,
		Report:    ingest.Report{EventsEmitted: len(events), BytesRead: size},
	}, nil
}

func tokenize(f *os.File) []block {
	var blocks []block
	var current *block

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if h, name := matchHeader(line); h != "" {
			if current != nil {
				blocks = append(blocks, *current)
			}
			current = &block{header: h, name: name}
			continue
		}
		if current != nil {
			current.body.WriteString(line)
			current.body.WriteString("\n")
		}
	}
	if current != nil {
		blocks = append(blocks, *current)
	}
	return blocks
}

func matchHeader(line string) (header, name string) {
	trimmed := strings.TrimSpace(line)
	upper := strings.ToUpper(trimmed)
	for _, h := range headers {
		if upper == h {
			return h, ""
		}
		prefix := h + ":"
		if strings.HasPrefix(upper, prefix) {
			return h, strings.TrimSpace(trimmed[len(prefix):])
		}
	}
	return "", ""
}

func classify(header string) (eventType, role string) {
	switch header {
	case "## USER":
		return "user_message", "user"
	case "## ASSISTANT":
		return "assistant_message", "assistant"
	case "## THINKING":
		return "assistant_thinking", "assistant"
	case "## TOOL_CALL":
		return "tool_call", "tool"
	case "## TOOL_RESULT":
		return "tool_result", "tool"
	default:
		return "unknown", "tool"
	}
}

func manifestJSON(m redact.Manifest) string {
	if len(m.Redactions) == 0 {
		return ""
	}
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}
