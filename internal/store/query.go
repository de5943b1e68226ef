package store

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

// SearchRequest carries a free-text query alongside the shared filter language.
type SearchRequest struct {
	Query string
	Filter
}

// SearchHit is one matched event plus its higher-is-better relevance score.
type SearchHit struct {
	Event
	Score float64
}

// whereClause accumulates SQL fragments and their positional arguments
// so every query primitive can share the same filter-building code.
type whereClause struct {
	conds []string
	args  []interface{}
}

func (w *whereClause) add(cond string, args ...interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *whereClause) sql() string {
	if len(w.conds) == 0 {
		return "1=1"
	}
	return strings.Join(w.conds, " AND ")
}

// applyCommonFilters turns the shared filter language (since/until,
// project_id, session_id, event types, tool names, role) into SQL
// conditions against the events table aliased "e".
func (s *Store) applyCommonFilters(w *whereClause, f Filter) error {
	if f.Since != nil {
		w.add("e.event_ts >= ?", formatTime(*f.Since))
	}
	if f.Until != nil {
		w.add("e.event_ts <= ?", formatTime(*f.Until))
	}

	if f.ProjectID != "" {
		cond, args, err := s.resolveProjectFilter(f.ProjectID)
		if err != nil {
			return err
		}
		w.add(cond, args...)
	}

	if f.SessionID != "" {
		if strings.ContainsAny(f.SessionID, "*%") {
			w.add("e.session_id LIKE ?", toLikePattern(f.SessionID))
		} else {
			w.add("e.session_id = ?", f.SessionID)
		}
	}

	eventTypes := append([]string{}, f.EventTypes...)
	switch f.Role {
	case "user":
		eventTypes = append(eventTypes, "user_message")
	case "assistant":
		eventTypes = append(eventTypes, "assistant_message")
	}
	if len(eventTypes) > 0 {
		placeholders := make([]string, len(eventTypes))
		args := make([]interface{}, len(eventTypes))
		for i, t := range eventTypes {
			placeholders[i] = "?"
			args[i] = t
		}
		w.add("e.event_type IN ("+strings.Join(placeholders, ",")+")", args...)
	}

	if len(f.ToolNames) > 0 {
		var sub []string
		var args []interface{}
		for _, name := range f.ToolNames {
			if strings.ContainsAny(name, "*%") {
				sub = append(sub, "e.tool_name LIKE ?")
				args = append(args, toLikePattern(name))
			} else {
				sub = append(sub, "e.tool_name = ?")
				args = append(args, name)
			}
		}
		w.add("("+strings.Join(sub, " OR ")+")", args...)
	}

	return nil
}

func toLikePattern(s string) string {
	return strings.ReplaceAll(s, "*", "%")
}

// resolveProjectFilter implements the project_id filter semantics: a
// wildcard input becomes a LIKE pattern directly against
// events.project_id; otherwise the resolver chain below is tried in
// order and the first step that matches anything wins.
func (s *Store) resolveProjectFilter(input string) (string, []interface{}, error) {
	if strings.ContainsAny(input, "*%") {
		return "e.project_id LIKE ?", []interface{}{toLikePattern(input)}, nil
	}

	steps := []struct {
		query string
		arg   interface{}
	}{
		{"SELECT project_id FROM projects WHERE project_id = ?", input},
		{"SELECT project_id FROM projects WHERE display_name = ?", input},
		{"SELECT project_id FROM projects WHERE root_path = ?", input},
		{"SELECT project_id FROM projects WHERE project_id LIKE ? || '%'", input},
		{"SELECT project_id FROM projects WHERE display_name LIKE '%' || ? || '%'", input},
		{"SELECT project_id FROM projects WHERE ? LIKE root_path || '%' ORDER BY length(root_path) DESC LIMIT 1", input},
	}

	for _, step := range steps {
		ids, err := s.queryProjectIDs(step.query, step.arg)
		if err != nil {
			return "", nil, err
		}
		if len(ids) > 0 {
			placeholders := make([]string, len(ids))
			args := make([]interface{}, len(ids))
			for i, id := range ids {
				placeholders[i] = "?"
				args[i] = id
			}
			return "e.project_id IN (" + strings.Join(placeholders, ",") + ")", args, nil
		}
	}

	// No registered project matched at all: fall back to treating the
	// input as a literal project_id, since events can carry a
	// project_id that was never backed by a projects row.
	return "e.project_id = ?", []interface{}{input}, nil
}

func (s *Store) queryProjectIDs(query string, arg interface{}) ([]string, error) {
	rows, err := s.db.Query(query, arg)
	if err != nil {
		return nil, fmt.Errorf("resolve project filter: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var (
	escapedPipeSentinel = "\x00ESCAPED_PIPE\x00"
	andWordRe            = regexp.MustCompile(`\bAND\b`)
	regexMetaRe          = regexp.MustCompile(`[\\/^$.*+?{}\[\]]`)
	alnumUnderscoreRe    = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// normalizeSearchQuery turns a raw user query into an FTS5 MATCH
// expression: unescape `\|`, flatten `(a|b)` groups, turn `|` into OR,
// drop the word AND, strip regex metacharacters, and quote each term
// that is not plain alphanumeric.
func normalizeSearchQuery(raw string) string {
	q := strings.ReplaceAll(raw, `\|`, escapedPipeSentinel)
	q = strings.ReplaceAll(q, "(", "")
	q = strings.ReplaceAll(q, ")", "")
	q = strings.ReplaceAll(q, "|", " OR ")
	q = andWordRe.ReplaceAllString(q, " ")
	q = strings.ReplaceAll(q, escapedPipeSentinel, "|")
	q = regexMetaRe.ReplaceAllString(q, "")

	var terms []string
	for _, term := range strings.Fields(q) {
		if term == "OR" {
			continue
		}
		terms = append(terms, quoteSearchTerm(term))
	}
	return strings.Join(terms, " OR ")
}

func quoteSearchTerm(term string) string {
	if strings.HasPrefix(term, `"`) && strings.HasSuffix(term, `"`) && len(term) >= 2 {
		return term
	}
	if alnumUnderscoreRe.MatchString(term) {
		return term
	}
	return `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
}

// Search runs a full-text query over events_fts with BM25 scoring.
// sqlite's bm25() is lower-is-better; Search negates it so the
// returned Score is higher-is-better.
func (s *Store) Search(req SearchRequest) ([]SearchHit, Page, error) {
	w := &whereClause{}
	if err := s.applyCommonFilters(w, req.Filter); err != nil {
		return nil, Page{}, err
	}

	matchQuery := normalizeSearchQuery(req.Query)
	if matchQuery == "" {
		return nil, Page{}, fmt.Errorf("empty search query after normalization")
	}

	countSQL := fmt.Sprintf(`
		SELECT COUNT(*) FROM events_fts
		JOIN events e ON e.rowid = events_fts.rowid
		WHERE events_fts MATCH ? AND %s
	`, w.sql())
	countArgs := append([]interface{}{matchQuery}, w.args...)

	var total int
	if err := s.db.QueryRow(countSQL, countArgs...).Scan(&total); err != nil {
		return nil, Page{}, fmt.Errorf("count search results: %w", err)
	}

	limit, offset := pageBounds(req.Limit, req.Offset)
	querySQL := fmt.Sprintf(`
		SELECT %s, bm25(events_fts) AS rank FROM events_fts
		JOIN events e ON e.rowid = events_fts.rowid
		WHERE events_fts MATCH ? AND %s
		ORDER BY rank ASC
		LIMIT ? OFFSET ?
	`, eventColumns("e"), w.sql())
	queryArgs := append([]interface{}{matchQuery}, append(w.args, limit, offset)...)

	rows, err := s.db.Query(querySQL, queryArgs...)
	if err != nil {
		return nil, Page{}, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		e, rank, err := scanEventWithRank(rows)
		if err != nil {
			return nil, Page{}, err
		}
		hits = append(hits, SearchHit{Event: e, Score: -rank})
	}
	if err := rows.Err(); err != nil {
		return nil, Page{}, err
	}

	return hits, Page{Total: total, Limit: limit, Offset: offset}, nil
}

// TimelineSummary carries the aggregates timeline() returns alongside
// its page of events.
type TimelineSummary struct {
	CountByType   map[string]int
	CommitCount   int
	Insertions    int
	Deletions     int
}

// Timeline returns events ordered ascending by event_ts with the same
// filter language as Search but no FTS query, plus summary aggregates.
func (s *Store) Timeline(f Filter) ([]Event, Page, TimelineSummary, error) {
	w := &whereClause{}
	if err := s.applyCommonFilters(w, f); err != nil {
		return nil, Page{}, TimelineSummary{}, err
	}

	var total int
	countSQL := fmt.Sprintf(`SELECT COUNT(*) FROM events e WHERE %s`, w.sql())
	if err := s.db.QueryRow(countSQL, w.args...).Scan(&total); err != nil {
		return nil, Page{}, TimelineSummary{}, fmt.Errorf("count timeline: %w", err)
	}

	limit, offset := pageBounds(f.Limit, f.Offset)
	querySQL := fmt.Sprintf(`
		SELECT %s FROM events e WHERE %s
		ORDER BY e.event_ts ASC
		LIMIT ? OFFSET ?
	`, eventColumns("e"), w.sql())
	args := append(append([]interface{}{}, w.args...), limit, offset)

	rows, err := s.db.Query(querySQL, args...)
	if err != nil {
		return nil, Page{}, TimelineSummary{}, fmt.Errorf("timeline: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, Page{}, TimelineSummary{}, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, Page{}, TimelineSummary{}, err
	}

	summary, err := s.timelineSummary(w)
	if err != nil {
		return nil, Page{}, TimelineSummary{}, err
	}

	return events, Page{Total: total, Limit: limit, Offset: offset}, summary, nil
}

func (s *Store) timelineSummary(w *whereClause) (TimelineSummary, error) {
	summary := TimelineSummary{CountByType: map[string]int{}}

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT e.event_type, COUNT(*) FROM events e WHERE %s GROUP BY e.event_type
	`, w.sql()), w.args...)
	if err != nil {
		return summary, fmt.Errorf("summarize timeline counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return summary, err
		}
		summary.CountByType[t] = n
		if t == "git_commit" {
			summary.CommitCount += n
		}
	}
	if err := rows.Err(); err != nil {
		return summary, err
	}

	commitRows, err := s.db.Query(fmt.Sprintf(`
		SELECT e.meta_json FROM events e WHERE %s AND e.event_type = 'git_commit'
	`, w.sql()), w.args...)
	if err != nil {
		return summary, fmt.Errorf("scan commit stats: %w", err)
	}
	defer commitRows.Close()
	for commitRows.Next() {
		var metaJSON sql.NullString
		if err := commitRows.Scan(&metaJSON); err != nil {
			return summary, err
		}
		ins, del := extractCommitStats(metaJSON.String)
		summary.Insertions += ins
		summary.Deletions += del
	}
	return summary, commitRows.Err()
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func eventColumns(alias string) string {
	cols := []string{
		"event_id", "source_id", "source_seq", "device_id", "project_id", "session_id",
		"event_ts", "ingest_ts", "source_kind", "event_type", "text_redacted",
		"tool_name", "tool_args_json", "file_paths_json", "meta_json", "redaction_manifest_json",
	}
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + c
	}
	return strings.Join(out, ", ")
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var e Event
	var projectID, sessionID, textRedacted, toolName, toolArgs, filePaths, meta, manifest sql.NullString
	var eventTS, ingestTS string

	err := rows.Scan(&e.EventID, &e.SourceID, &e.SourceSeq, &e.DeviceID, &projectID, &sessionID,
		&eventTS, &ingestTS, &e.SourceKind, &e.EventType, &textRedacted,
		&toolName, &toolArgs, &filePaths, &meta, &manifest)
	if err != nil {
		return e, fmt.Errorf("scan event: %w", err)
	}
	fillEventNullables(&e, projectID, sessionID, textRedacted, toolName, toolArgs, filePaths, meta, manifest)
	e.EventTS, _ = parseStoredTime(eventTS)
	e.IngestTS, _ = parseStoredTime(ingestTS)
	return e, nil
}

func scanEventWithRank(rows *sql.Rows) (Event, float64, error) {
	var e Event
	var projectID, sessionID, textRedacted, toolName, toolArgs, filePaths, meta, manifest sql.NullString
	var eventTS, ingestTS string
	var rank float64

	err := rows.Scan(&e.EventID, &e.SourceID, &e.SourceSeq, &e.DeviceID, &projectID, &sessionID,
		&eventTS, &ingestTS, &e.SourceKind, &e.EventType, &textRedacted,
		&toolName, &toolArgs, &filePaths, &meta, &manifest, &rank)
	if err != nil {
		return e, 0, fmt.Errorf("scan event: %w", err)
	}
	fillEventNullables(&e, projectID, sessionID, textRedacted, toolName, toolArgs, filePaths, meta, manifest)
	e.EventTS, _ = parseStoredTime(eventTS)
	e.IngestTS, _ = parseStoredTime(ingestTS)
	return e, rank, nil
}

func fillEventNullables(e *Event, projectID, sessionID, textRedacted, toolName, toolArgs, filePaths, meta, manifest sql.NullString) {
	e.ProjectID = projectID.String
	e.SessionID = sessionID.String
	e.TextRedacted = textRedacted.String
	e.ToolName = toolName.String
	e.ToolArgsJSON = toolArgs.String
	e.FilePathsJSON = filePaths.String
	e.MetaJSON = meta.String
	e.RedactionManifestJSON = manifest.String
}
