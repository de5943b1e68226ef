// Package analytics mirrors events into a DuckDB file so token/cost
// rollups run as columnar aggregations instead of repeated SQLite
// table scans, generalizing the teacher's dual-backend db.Database
// split between *db.DB (SQLite) and *db.DuckDB.
package analytics

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb/v2"
)

const mirrorSchema = `
CREATE TABLE IF NOT EXISTS events_mirror (
    event_id    VARCHAR PRIMARY KEY,
    source_id   VARCHAR NOT NULL,
    project_id  VARCHAR,
    session_id  VARCHAR,
    event_ts    TIMESTAMP NOT NULL,
    event_type  VARCHAR NOT NULL,
    model       VARCHAR,
    message_id  VARCHAR,
    input_tokens BIGINT DEFAULT 0,
    output_tokens BIGINT DEFAULT 0,
    cache_read_tokens BIGINT DEFAULT 0,
    cache_write_tokens BIGINT DEFAULT 0
);

CREATE TABLE IF NOT EXISTS mirror_state (
    key   VARCHAR PRIMARY KEY,
    value VARCHAR
);
`

// Mirror is a read-only, periodically refreshed DuckDB copy of the
// token-bearing columns of events. It is never the system of record —
// get_token_stats falls back to the SQLite aggregation path whenever
// a mirror is absent or stale.
type Mirror struct {
	db   *sql.DB
	path string
}

// Open creates or opens the mirror database at path.
func Open(path string) (*Mirror, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create analytics mirror directory: %w", err)
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open analytics mirror: %w", err)
	}
	if _, err := db.Exec(mirrorSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init analytics mirror schema: %w", err)
	}
	return &Mirror{db: db, path: path}, nil
}

// Close releases the underlying DuckDB connection.
func (m *Mirror) Close() error {
	return m.db.Close()
}

// MirrorRow is one event's worth of token-bearing columns to copy in.
type MirrorRow struct {
	EventID          string
	SourceID         string
	ProjectID        string
	SessionID        string
	EventTS          string
	EventType        string
	Model            string
	MessageID        string
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
}

// MetaTokens is the subset of an event's meta_json this package reads
// to build a MirrorRow; callers already have meta_json decoded
// through internal/store's own types and pass the fields through.
type MetaTokens struct {
	Model     string `json:"model"`
	MessageID string `json:"message_id"`
	Tokens    struct {
		Input      int64 `json:"input"`
		Output     int64 `json:"output"`
		CacheRead  int64 `json:"cache_read"`
		CacheWrite int64 `json:"cache_write"`
	} `json:"tokens"`
}

// RowFromMetaJSON builds a MirrorRow from an event's raw columns plus
// its meta_json blob, returning ok=false when the event carries no
// token metadata and so has nothing worth mirroring.
func RowFromMetaJSON(eventID, sourceID, projectID, sessionID, eventTS, eventType, metaJSON string) (MirrorRow, bool) {
	if metaJSON == "" {
		return MirrorRow{}, false
	}
	var meta MetaTokens
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return MirrorRow{}, false
	}
	if meta.Tokens.Input == 0 && meta.Tokens.Output == 0 && meta.Tokens.CacheRead == 0 && meta.Tokens.CacheWrite == 0 {
		return MirrorRow{}, false
	}
	return MirrorRow{
		EventID: eventID, SourceID: sourceID, ProjectID: projectID, SessionID: sessionID,
		EventTS: eventTS, EventType: eventType, Model: meta.Model, MessageID: meta.MessageID,
		InputTokens: meta.Tokens.Input, OutputTokens: meta.Tokens.Output,
		CacheReadTokens: meta.Tokens.CacheRead, CacheWriteTokens: meta.Tokens.CacheWrite,
	}, true
}

// Sync upserts a batch of rows and records the high-water ingest
// timestamp the caller observed, so a later GetTokenStats fallback
// decision can tell how stale the mirror is.
func (m *Mirror) Sync(rows []MirrorRow, highWaterIngestTS string) (int, error) {
	tx, err := m.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin mirror sync: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO events_mirror (event_id, source_id, project_id, session_id, event_ts, event_type,
			model, message_id, input_tokens, output_tokens, cache_read_tokens, cache_write_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO UPDATE SET
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			cache_read_tokens = excluded.cache_read_tokens,
			cache_write_tokens = excluded.cache_write_tokens
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare mirror sync: %w", err)
	}
	defer stmt.Close()

	n := 0
	for _, r := range rows {
		if _, err := stmt.Exec(r.EventID, r.SourceID, r.ProjectID, r.SessionID, r.EventTS, r.EventType,
			r.Model, r.MessageID, r.InputTokens, r.OutputTokens, r.CacheReadTokens, r.CacheWriteTokens); err != nil {
			return n, fmt.Errorf("sync row %s: %w", r.EventID, err)
		}
		n++
	}

	if _, err := tx.Exec(`
		INSERT INTO mirror_state (key, value) VALUES ('high_water_ingest_ts', ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, highWaterIngestTS); err != nil {
		return n, fmt.Errorf("record mirror high-water mark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return n, fmt.Errorf("commit mirror sync: %w", err)
	}
	return n, nil
}

// HighWaterIngestTS reports the ingest timestamp of the most recent
// batch this mirror has absorbed, or "" if it has never synced.
func (m *Mirror) HighWaterIngestTS() (string, error) {
	var v string
	err := m.db.QueryRow(`SELECT value FROM mirror_state WHERE key = 'high_water_ingest_ts'`).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read mirror high-water mark: %w", err)
	}
	return v, nil
}

// RollupRow is one grouped result of a DuckDB-side token rollup.
type RollupRow struct {
	Key               string
	InputTokens       int64
	OutputTokens      int64
	CacheReadTokens   int64
	CacheWriteTokens  int64
}

// RollupByModel aggregates mirrored token counts grouped by model,
// deduplicating by message_id exactly like the SQLite fallback path.
func (m *Mirror) RollupByModel() ([]RollupRow, error) {
	return m.rollup("model")
}

// RollupBySession aggregates mirrored token counts grouped by session_id.
func (m *Mirror) RollupBySession() ([]RollupRow, error) {
	return m.rollup("session_id")
}

// RollupByDay aggregates mirrored token counts grouped by the UTC
// calendar day of event_ts.
func (m *Mirror) RollupByDay() ([]RollupRow, error) {
	rows, err := m.db.Query(`
		WITH deduped AS (
			SELECT DISTINCT ON (source_id, message_id) *
			FROM events_mirror
			WHERE message_id IS NOT NULL AND message_id != ''
			UNION ALL
			SELECT * FROM events_mirror
			WHERE message_id IS NULL OR message_id = ''
		)
		SELECT strftime(event_ts, '%Y-%m-%d') AS key,
			SUM(input_tokens), SUM(output_tokens), SUM(cache_read_tokens), SUM(cache_write_tokens)
		FROM deduped
		GROUP BY key
		ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("rollup by day: %w", err)
	}
	defer rows.Close()
	return scanRollup(rows)
}

func (m *Mirror) rollup(column string) ([]RollupRow, error) {
	query := fmt.Sprintf(`
		WITH deduped AS (
			SELECT DISTINCT ON (source_id, message_id) *
			FROM events_mirror
			WHERE message_id IS NOT NULL AND message_id != ''
			UNION ALL
			SELECT * FROM events_mirror
			WHERE message_id IS NULL OR message_id = ''
		)
		SELECT %s AS key,
			SUM(input_tokens), SUM(output_tokens), SUM(cache_read_tokens), SUM(cache_write_tokens)
		FROM deduped
		GROUP BY key
		ORDER BY key
	`, column)

	rows, err := m.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("rollup by %s: %w", column, err)
	}
	defer rows.Close()
	return scanRollup(rows)
}

func scanRollup(rows *sql.Rows) ([]RollupRow, error) {
	var out []RollupRow
	for rows.Next() {
		var r RollupRow
		var key sql.NullString
		if err := rows.Scan(&key, &r.InputTokens, &r.OutputTokens, &r.CacheReadTokens, &r.CacheWriteTokens); err != nil {
			return nil, fmt.Errorf("scan rollup row: %w", err)
		}
		r.Key = key.String
		out = append(out, r)
	}
	return out, rows.Err()
}
