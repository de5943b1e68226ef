// Package split ingests session transcripts stored as directory trees
// rather than single JSONL files: one file per session's metadata, one
// file per message (grouped under its session), and one file per
// message part (grouped under its message), plus a per-session diff
// file recording file edits. Structurally grounded on the teacher's
// internal/session package's session/port/worker directory layout
// conventions, generalized from DB rows to on-disk files.
package split

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/recall-tools/recall/internal/ingest"
	"github.com/recall-tools/recall/internal/redact"
	"github.com/recall-tools/recall/internal/store"
)

const kind = "split"

// Adapter ingests one session directory tree per source. Root is the
// directory containing sessions/, messages/, parts/, and diffs/.
type Adapter struct {
	Roots []string
}

func New(roots ...string) *Adapter {
	return &Adapter{Roots: roots}
}

func (a *Adapter) Kind() string { return kind }

// Discover treats each sessions/*.json file under a root as one source.
func (a *Adapter) Discover(deviceID string) ([]ingest.SourceCandidate, error) {
	var out []ingest.SourceCandidate
	for _, root := range a.Roots {
		entries, err := os.ReadDir(filepath.Join(root, "sessions"))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			out = append(out, ingest.SourceCandidate{
				Kind:        kind,
				Locator:     filepath.Join(root, "sessions", e.Name()),
				ProjectHint: root,
			})
		}
	}
	return out, nil
}

func (a *Adapter) WorkingDirs() ([]string, error) {
	return a.Roots, nil
}

type sessionFile struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	Cwd       string `json:"cwd,omitempty"`
}

type messageFile struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"`
	Model       string    `json:"model,omitempty"`
	CreatedAt   string    `json:"created_at"`
	CompletedAt string    `json:"completed_at,omitempty"`
	Usage       *rawUsage `json:"usage,omitempty"`
}

type rawUsage struct {
	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	CacheReadTokens  int64 `json:"cache_read_tokens"`
	CacheWriteTokens int64 `json:"cache_write_tokens"`
}

type partFile struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // text, tool_call, tool_result, thinking
	Text      string `json:"text,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	ToolArgs  string `json:"tool_args,omitempty"`
	StartTime string `json:"start_time"`
}

// diffEntry covers both the on-disk {file, before, after, additions,
// deletions} format and the legacy old_string/new_string keys, so a
// diff file written in either shape ingests the same way.
type diffEntry struct {
	File      string `json:"file"`
	Before    string `json:"before"`
	After     string `json:"after"`
	OldString string `json:"old_string"`
	NewString string `json:"new_string"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

func (d diffEntry) oldString() string {
	if d.Before != "" {
		return d.Before
	}
	return d.OldString
}

func (d diffEntry) newString() string {
	if d.After != "" {
		return d.After
	}
	return d.NewString
}

// Ingest reads a session directory at locator (a sessions/<id>.json
// file); cur carries the last-observed session-file and diff-file
// mtimes for the dual-mtime change-detection rule in spec.md §4.4.2.
func (a *Adapter) Ingest(nctx ingest.NormalizationContext, locator string, cur store.Cursor) (ingest.IngestResult, error) {
	info, err := os.Stat(locator)
	if os.IsNotExist(err) {
		return ingest.IngestResult{}, fmt.Errorf("%s: %w", locator, ingest.ErrSourceMissing)
	}
	if err != nil {
		return ingest.IngestResult{}, fmt.Errorf("stat %s: %w", locator, err)
	}
	sessionMtime := info.ModTime().UTC()

	root := filepath.Dir(filepath.Dir(locator)) // sessions/<id>.json -> root
	data, err := os.ReadFile(locator)
	if err != nil {
		return ingest.IngestResult{}, fmt.Errorf("read %s: %w", locator, err)
	}
	var sess sessionFile
	if err := json.Unmarshal(data, &sess); err != nil {
		return ingest.IngestResult{}, fmt.Errorf("parse %s: %w", locator, err)
	}
	sessionID := sess.ID
	if sessionID == "" {
		sessionID = filepath.Base(locator)
	}

	diffPath := filepath.Join(root, "diffs", sessionID+".json")
	diffInfo, diffErr := os.Stat(diffPath)
	var diffMtime time.Time
	if diffErr == nil {
		diffMtime = diffInfo.ModTime().UTC()
	}

	sessionUnchanged := cur.FileMtime != nil && cur.FileMtime.Equal(sessionMtime)
	var diffUnchanged bool
	if diffErr == nil {
		diffUnchanged = cur.DiffMtime != nil && cur.DiffMtime.Equal(diffMtime)
	} else {
		diffUnchanged = cur.DiffMtime == nil
	}
	if sessionUnchanged && diffUnchanged {
		return ingest.IngestResult{NewCursor: cur, Report: ingest.Report{}}, nil
	}

	messagesDir := filepath.Join(root, "messages", sessionID)
	messageFiles, _ := os.ReadDir(messagesDir)

	type loadedMessage struct {
		file messageFile
		path string
	}
	var messages []loadedMessage
	for _, mf := range messageFiles {
		if mf.IsDir() {
			continue
		}
		mdata, err := os.ReadFile(filepath.Join(messagesDir, mf.Name()))
		if err != nil {
			continue
		}
		var m messageFile
		if json.Unmarshal(mdata, &m) != nil {
			continue
		}
		if m.Role == "assistant" && m.CompletedAt == "" {
			continue // completion gating: re-evaluated on a later tick
		}
		messages = append(messages, loadedMessage{file: m, path: mf.Name()})
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].file.CreatedAt < messages[j].file.CreatedAt })

	now := time.Now().UTC()
	var events []store.Event
	seq := 0.0
	var firstCompletedTS time.Time

	for _, lm := range messages {
		m := lm.file
		msgID := m.ID
		if msgID == "" {
			msgID = lm.path
		}
		ts := parseTime(m.CreatedAt)
		if ts.IsZero() {
			ts = now
		}
		if firstCompletedTS.IsZero() && m.CompletedAt != "" {
			if t := parseTime(m.CompletedAt); !t.IsZero() {
				firstCompletedTS = t
			}
		}

		partsDir := filepath.Join(root, "parts", sessionID, msgID)
		partFiles, _ := os.ReadDir(partsDir)
		var parts []partFile
		for _, pf := range partFiles {
			if pf.IsDir() {
				continue
			}
			pdata, err := os.ReadFile(filepath.Join(partsDir, pf.Name()))
			if err != nil {
				continue
			}
			var p partFile
			if json.Unmarshal(pdata, &p) != nil {
				continue
			}
			parts = append(parts, p)
		}
		sort.Slice(parts, func(i, j int) bool { return parts[i].StartTime < parts[j].StartTime })

		tokenAttached := false
		for _, p := range parts {
			seq++
			partTS := parseTime(p.StartTime)
			if partTS.IsZero() {
				partTS = ts
			}

			var meta string
			if !tokenAttached && m.Usage != nil {
				meta = fmt.Sprintf(`{"model":%q,"message_id":%q,"tokens":{"input":%d,"output":%d,"cache_read":%d,"cache_write":%d}}`,
					m.Model, msgID, m.Usage.InputTokens, m.Usage.OutputTokens, m.Usage.CacheReadTokens, m.Usage.CacheWriteTokens)
				tokenAttached = true
			}

			role := m.Role
			eventType, text, toolName, toolArgs := classifyPart(role, p)
			redactedText := text
			var manifest string
			if role != "assistant" && nctx.RedactSecrets {
				r, mf, _ := redact.Redact(text)
				redactedText = r
				manifest = manifestJSON(mf)
			}

			events = append(events, store.Event{
				EventID:      ingest.EventID(nctx.SourceID, seq, msgID+p.ID+text),
				SourceID:     nctx.SourceID,
				SourceSeq:    seq,
				DeviceID:     nctx.DeviceID,
				ProjectID:    nctx.ProjectID,
				SessionID:    sessionID,
				EventTS:      partTS,
				IngestTS:     now,
				SourceKind:   kind,
				EventType:    eventType,
				TextRedacted: redactedText,
				ToolName:     toolName,
				ToolArgsJSON: toolArgs,
				MetaJSON:     meta,
				RedactionManifestJSON: manifest,
			})
		}
	}

	if diffErr == nil {
		if diffs, err := loadDiffs(diffPath); err == nil {
			diffTS := firstCompletedTS
			if diffTS.IsZero() {
				diffTS = now
			}
			for _, d := range diffs {
				seq++
				oldStr, newStr := d.oldString(), d.newString()
				argsJSON, _ := json.Marshal(map[string]string{
					"file_path": d.File,
					"oldString": oldStr,
					"newString": newStr,
				})
				filePathsJSON, _ := json.Marshal([]string{d.File})
				events = append(events, store.Event{
					EventID:       ingest.EventID(nctx.SourceID, seq, d.File+oldStr+newStr),
					SourceID:      nctx.SourceID,
					SourceSeq:     seq,
					DeviceID:      nctx.DeviceID,
					ProjectID:     nctx.ProjectID,
					SessionID:     sessionID,
					EventTS:       diffTS,
					IngestTS:      now,
					SourceKind:    kind,
					EventType:     "tool_call",
					ToolName:      "edit",
					ToolArgsJSON:  string(argsJSON),
					FilePathsJSON: string(filePathsJSON),
					MetaJSON:      fmt.Sprintf(`{"additions":%d,"deletions":%d}`, d.Additions, d.Deletions),
				})
			}
		}
	}

	newCursor := store.Cursor{
		SourceID:  nctx.SourceID,
		FileMtime: &sessionMtime,
	}
	if diffErr == nil {
		newCursor.DiffMtime = &diffMtime
	}
	if len(events) > 0 {
		newCursor.LastEventID = events[len(events)-1].EventID
	} else {
		newCursor.LastEventID = cur.LastEventID
	}

	return ingest.IngestResult{
		Events:    events,
		NewCursor: newCursor,
		Report:    ingest.Report{EventsEmitted: len(events)},
	}, nil
}

func classifyPart(role string, p partFile) (eventType, text, toolName, toolArgs string) {
	switch p.Type {
	case "tool_call":
		return "tool_call", "", p.ToolName, p.ToolArgs
	case "tool_result":
		return "tool_result", p.Text, p.ToolName, ""
	default:
		if role == "assistant" {
			return "assistant_message", p.Text, "", ""
		}
		return "user_message", p.Text, "", ""
	}
}

func loadDiffs(path string) ([]diffEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var diffs []diffEntry
	if err := json.Unmarshal(data, &diffs); err != nil {
		return nil, err
	}
	return diffs, nil
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

func parseTime(s string) time.Time {
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
