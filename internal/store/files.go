package store

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// readToolNames and writeToolNames identify the adapter-normalized
// tool names that read or write file content, used to resolve which
// tool_result rows actually "refer to" a file.
var (
	readToolNames  = []string{"read"}
	writeToolNames = []string{"write"}
)

func readOrWriteToolNames() []string {
	return append(append([]string{}, readToolNames...), writeToolNames...)
}

// callFilePathSQL extracts a tool_call's target file path across the
// three common argument key spellings the adapters may have used.
const callFilePathSQL = `COALESCE(
	json_extract(c.tool_args_json, '$.file_path'),
	json_extract(c.tool_args_json, '$.path'),
	json_extract(c.tool_args_json, '$.filePath')
)`

// resultFilePathMatchSQL tests whether a tool_result's own captured
// file_paths array contains the target path, matched as a quoted
// JSON string substring rather than a single array index so the path
// can appear anywhere in the array.
const resultFilePathMatchSQL = `e.file_paths_json LIKE '%"' || ? || '"%'`

// GetLatestFileContent returns the most recent tool_result for a
// read-or-write tool against filePath, optionally bounded by before.
func (s *Store) GetLatestFileContent(filePath string, before *time.Time) (*Event, error) {
	names := readOrWriteToolNames()
	placeholders := make([]string, len(names))
	args := []interface{}{filePath, filePath}
	for i, n := range names {
		placeholders[i] = "?"
		args = append(args, n)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM events e
		WHERE e.event_type = 'tool_result'
		AND (
			%s
			OR json_extract(e.meta_json, '$.tool_call_id') IN (
				SELECT json_extract(c.meta_json, '$.tool_call_id') FROM events c
				WHERE c.event_type = 'tool_call' AND c.source_id = e.source_id
				AND %s = ?
				AND c.tool_name IN (%s)
			)
		)
	`, eventColumns("e"), resultFilePathMatchSQL, callFilePathSQL, strings.Join(placeholders, ","))

	if before != nil {
		query += " AND e.event_ts <= ?"
		args = append(args, formatTime(*before))
	}
	query += " ORDER BY e.event_ts DESC, e.source_seq DESC LIMIT 1"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get latest file content: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	e, err := scanEvent(rows)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// FileHistoryFilter narrows GetFileHistory's time window and page size.
type FileHistoryFilter struct {
	Since *time.Time
	Until *time.Time
	Limit int
}

// GetFileHistory returns the time-ordered sequence of read/write
// snapshots recorded for filePath.
func (s *Store) GetFileHistory(filePath string, f FileHistoryFilter) ([]Event, error) {
	names := readOrWriteToolNames()
	placeholders := make([]string, len(names))
	args := []interface{}{filePath, filePath}
	for i, n := range names {
		placeholders[i] = "?"
		args = append(args, n)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM events e
		WHERE e.event_type = 'tool_result'
		AND (
			%s
			OR json_extract(e.meta_json, '$.tool_call_id') IN (
				SELECT json_extract(c.meta_json, '$.tool_call_id') FROM events c
				WHERE c.event_type = 'tool_call' AND c.source_id = e.source_id
				AND %s = ?
				AND c.tool_name IN (%s)
			)
		)
	`, eventColumns("e"), resultFilePathMatchSQL, callFilePathSQL, strings.Join(placeholders, ","))

	if f.Since != nil {
		query += " AND e.event_ts >= ?"
		args = append(args, formatTime(*f.Since))
	}
	if f.Until != nil {
		query += " AND e.event_ts <= ?"
		args = append(args, formatTime(*f.Until))
	}
	query += " ORDER BY e.event_ts ASC, e.source_seq ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get file history: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// isSubstantiallyComplete guards reconstruction from starting on a
// mid-line truncation: the snapshot must be at least 1000 bytes and
// end with a character that plausibly closes a document.
func isSubstantiallyComplete(content string) bool {
	if len(content) < 1000 {
		return false
	}
	last := content[len(content)-1]
	switch last {
	case '}', ')', '`', '\n':
		return true
	default:
		return false
	}
}

// FindReadResult returns the most recent full read of filePath whose
// content is substantially complete, optionally bounded by before.
func (s *Store) FindReadResult(filePath string, before *time.Time) (*Event, error) {
	args := []interface{}{filePath, filePath, readToolNames[0]}
	query := fmt.Sprintf(`
		SELECT %s FROM events e
		WHERE e.event_type = 'tool_result'
		AND (
			%s
			OR json_extract(e.meta_json, '$.tool_call_id') IN (
				SELECT json_extract(c.meta_json, '$.tool_call_id') FROM events c
				WHERE c.event_type = 'tool_call' AND c.source_id = e.source_id
				AND %s = ?
				AND c.tool_name = ?
			)
		)
	`, eventColumns("e"), resultFilePathMatchSQL, callFilePathSQL)

	if before != nil {
		query += " AND e.event_ts <= ?"
		args = append(args, formatTime(*before))
	}
	query += " ORDER BY e.event_ts DESC, e.source_seq DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("find read result: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		if isSubstantiallyComplete(e.TextRedacted) {
			return &e, nil
		}
	}
	return nil, rows.Err()
}

// AccessedFile is one row of the list_accessed_files rollup.
type AccessedFile struct {
	FilePath     string
	LastAccessed time.Time
	AccessCount  int
	ToolsUsed    []string
}

// ListAccessedFiles groups tool_call events by extracted file path.
func (s *Store) ListAccessedFiles(f Filter) ([]AccessedFile, error) {
	filter := f
	filter.EventTypes = append(filter.EventTypes, "tool_call")

	w := &whereClause{}
	if err := s.applyCommonFilters(w, filter); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM events e WHERE %s`, eventColumns("e"), w.sql())

	rows, err := s.db.Query(query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list accessed files: %w", err)
	}
	defer rows.Close()

	byPath := map[string]*AccessedFile{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		path, _, _ := parseEditArgs(e.ToolArgsJSON)
		if path == "" {
			continue
		}
		entry, ok := byPath[path]
		if !ok {
			entry = &AccessedFile{FilePath: path}
			byPath[path] = entry
		}
		entry.AccessCount++
		if e.EventTS.After(entry.LastAccessed) {
			entry.LastAccessed = e.EventTS
		}
		if !containsString(entry.ToolsUsed, e.ToolName) {
			entry.ToolsUsed = append(entry.ToolsUsed, e.ToolName)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]AccessedFile, 0, len(byPath))
	for _, v := range byPath {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAccessed.After(out[j].LastAccessed) })
	return out, nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
