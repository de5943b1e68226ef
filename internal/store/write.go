package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertDevice records (or refreshes the last-seen time of) a device row.
func (s *Store) UpsertDevice(d Device) error {
	_, err := s.db.Exec(`
		INSERT INTO devices (device_id, nickname, created_at, last_seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			nickname = excluded.nickname,
			last_seen_at = excluded.last_seen_at
	`, d.DeviceID, d.Nickname, formatTime(d.CreatedAt), formatTime(d.LastSeenAt))
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

// UpsertProject records a project, leaving display_name/git_remote
// unchanged across re-detection if the row already exists for the
// same project_id so that a user-edited display name survives.
func (s *Store) UpsertProject(p Project) error {
	_, err := s.db.Exec(`
		INSERT INTO projects (project_id, display_name, git_remote, root_path, share_policy, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			root_path = excluded.root_path
	`, p.ProjectID, p.DisplayName, nullString(p.GitRemote), p.RootPath, p.SharePolicy, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}
	return nil
}

// ListProjects returns every registered project row, ordered by display
// name. A project_id referenced only by a source or event, with no
// projects row, is not included.
func (s *Store) ListProjects() ([]Project, error) {
	rows, err := s.db.Query(`SELECT project_id, display_name, git_remote, root_path, share_policy, created_at FROM projects ORDER BY display_name`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		var remote sql.NullString
		var createdAt string
		if err := rows.Scan(&p.ProjectID, &p.DisplayName, &remote, &p.RootPath, &p.SharePolicy, &createdAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		p.GitRemote = remote.String
		p.CreatedAt, _ = parseStoredTime(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertSource registers a new source or updates an existing one's
// mutable fields (status, error_message, last_seen_at).
func (s *Store) UpsertSource(src Source) error {
	_, err := s.db.Exec(`
		INSERT INTO sources (source_id, kind, locator, device_id, project_id, status, error_message,
			redact_secrets, retain_on_delete, encrypt_originals, last_seen_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			status = excluded.status,
			error_message = excluded.error_message,
			last_seen_at = excluded.last_seen_at
	`, src.SourceID, src.Kind, src.Locator, src.DeviceID, nullString(src.ProjectID),
		string(src.Status), nullString(src.ErrorMessage),
		boolToInt(src.RedactSecrets), boolToInt(src.RetainOnDelete), boolToInt(src.EncryptOriginals),
		formatTime(src.LastSeenAt), formatTime(src.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert source: %w", err)
	}
	return nil
}

// GetSource looks up a single source by id.
func (s *Store) GetSource(sourceID string) (*Source, error) {
	row := s.db.QueryRow(`
		SELECT source_id, kind, locator, device_id, project_id, status, error_message,
			redact_secrets, retain_on_delete, encrypt_originals, last_seen_at, created_at
		FROM sources WHERE source_id = ?
	`, sourceID)
	return scanSource(row)
}

// ListSources returns every registered source, optionally narrowed to one device.
func (s *Store) ListSources(deviceID string) ([]Source, error) {
	query := `SELECT source_id, kind, locator, device_id, project_id, status, error_message,
		redact_secrets, retain_on_delete, encrypt_originals, last_seen_at, created_at FROM sources`
	args := []interface{}{}
	if deviceID != "" {
		query += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		src, err := scanSourceRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *src)
	}
	return out, rows.Err()
}

// DeleteSource removes a source's registration, its cursor, and
// optionally its events when purge is true (otherwise events are kept
// as an append-only record per the store's retention invariant).
func (s *Store) DeleteSource(sourceID string, purge bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete source: %w", err)
	}
	defer tx.Rollback()

	if purge {
		if _, err := tx.Exec(`DELETE FROM events WHERE source_id = ?`, sourceID); err != nil {
			return fmt.Errorf("purge events: %w", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM cursors WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("delete cursor: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sources WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	return tx.Commit()
}

// GetCursor returns the persisted resume point for a source, or nil
// if the source has never been ingested.
func (s *Store) GetCursor(sourceID string) (*Cursor, error) {
	row := s.db.QueryRow(`
		SELECT source_id, file_inode, file_size, file_mtime, byte_offset, diff_mtime, last_event_id, last_rowid, updated_at
		FROM cursors WHERE source_id = ?
	`, sourceID)

	var c Cursor
	var inode, size, offset, rowid sql.NullInt64
	var fileMtime, diffMtime, updatedAt sql.NullString
	var lastEventID sql.NullString

	err := row.Scan(&c.SourceID, &inode, &size, &fileMtime, &offset, &diffMtime, &lastEventID, &rowid, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor: %w", err)
	}

	if inode.Valid {
		c.FileInode = &inode.Int64
	}
	if size.Valid {
		c.FileSize = &size.Int64
	}
	if offset.Valid {
		c.ByteOffset = &offset.Int64
	}
	if rowid.Valid {
		c.LastRowID = &rowid.Int64
	}
	if fileMtime.Valid {
		t, _ := parseStoredTime(fileMtime.String)
		c.FileMtime = &t
	}
	if diffMtime.Valid {
		t, _ := parseStoredTime(diffMtime.String)
		c.DiffMtime = &t
	}
	c.LastEventID = lastEventID.String
	c.UpdatedAt, _ = parseStoredTime(updatedAt.String)
	return &c, nil
}

// upsertCursorTx writes a cursor inside a caller-supplied transaction
// so it commits atomically with the batch of events it resumes from.
func upsertCursorTx(tx *sql.Tx, c Cursor) error {
	_, err := tx.Exec(`
		INSERT INTO cursors (source_id, file_inode, file_size, file_mtime, byte_offset, diff_mtime, last_event_id, last_rowid, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			file_inode = excluded.file_inode,
			file_size = excluded.file_size,
			file_mtime = excluded.file_mtime,
			byte_offset = excluded.byte_offset,
			diff_mtime = excluded.diff_mtime,
			last_event_id = excluded.last_event_id,
			last_rowid = excluded.last_rowid,
			updated_at = excluded.updated_at
	`, c.SourceID, nullInt64(c.FileInode), nullInt64(c.FileSize), nullTime(c.FileMtime),
		nullInt64(c.ByteOffset), nullTime(c.DiffMtime), nullString(c.LastEventID),
		nullInt64(c.LastRowID), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

// InsertBatch inserts a batch of events and upserts the resulting
// cursor inside one transaction: either both commit or neither does,
// so a crash mid-batch never leaves a cursor pointing past events
// that were never actually stored. Duplicate event_ids (re-ingestion
// of already-seen bytes) are silently ignored.
func (s *Store) InsertBatch(events []Event, cursor Cursor) (inserted int, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin batch insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO events (
			event_id, source_id, source_seq, device_id, project_id, session_id,
			event_ts, ingest_ts, source_kind, event_type, text_redacted,
			tool_name, tool_args_json, file_paths_json, meta_json, redaction_manifest_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		res, err := stmt.Exec(
			e.EventID, e.SourceID, e.SourceSeq, e.DeviceID, nullString(e.ProjectID), nullString(e.SessionID),
			formatTime(e.EventTS), formatTime(e.IngestTS), e.SourceKind, e.EventType, nullString(e.TextRedacted),
			nullString(e.ToolName), nullString(e.ToolArgsJSON), nullString(e.FilePathsJSON),
			nullString(e.MetaJSON), nullString(e.RedactionManifestJSON),
		)
		if err != nil {
			return inserted, fmt.Errorf("insert event %s: %w", e.EventID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	cursor.UpdatedAt = time.Now().UTC()
	if err := upsertCursorTx(tx, cursor); err != nil {
		return inserted, err
	}

	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("commit batch insert: %w", err)
	}
	return inserted, nil
}

// PutCiphertext stores one encrypted original blob for a source whose
// encrypt_originals flag is set. Key management is out of scope; the
// caller supplies nonce and ciphertext already sealed.
func (s *Store) PutCiphertext(c Ciphertext) error {
	_, err := s.db.Exec(`
		INSERT INTO ciphertexts (ciphertext_id, source_id, plaintext_sha256, nonce, ciphertext, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.CiphertextID, c.SourceID, c.PlaintextSHA256, c.Nonce, c.Ciphertext, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("put ciphertext: %w", err)
	}
	return nil
}

// GetCiphertext looks up a stored ciphertext by id.
func (s *Store) GetCiphertext(ciphertextID string) (*Ciphertext, error) {
	var c Ciphertext
	var createdAt string
	err := s.db.QueryRow(`
		SELECT ciphertext_id, source_id, plaintext_sha256, nonce, ciphertext, created_at
		FROM ciphertexts WHERE ciphertext_id = ?
	`, ciphertextID).Scan(&c.CiphertextID, &c.SourceID, &c.PlaintextSHA256, &c.Nonce, &c.Ciphertext, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ciphertext: %w", err)
	}
	c.CreatedAt, _ = parseStoredTime(createdAt)
	return &c, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSource(row rowScanner) (*Source, error) {
	var src Source
	var projectID, errMsg, lastSeenAt, createdAt sql.NullString
	var status string
	var redact, retain, encrypt int

	err := row.Scan(&src.SourceID, &src.Kind, &src.Locator, &src.DeviceID, &projectID, &status, &errMsg,
		&redact, &retain, &encrypt, &lastSeenAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan source: %w", err)
	}
	src.ProjectID = projectID.String
	src.Status = SourceStatus(status)
	src.ErrorMessage = errMsg.String
	src.RedactSecrets = redact != 0
	src.RetainOnDelete = retain != 0
	src.EncryptOriginals = encrypt != 0
	if lastSeenAt.Valid {
		src.LastSeenAt, _ = parseStoredTime(lastSeenAt.String)
	}
	if createdAt.Valid {
		src.CreatedAt, _ = parseStoredTime(createdAt.String)
	}
	return &src, nil
}

func scanSourceRows(rows *sql.Rows) (*Source, error) {
	var src Source
	var projectID, errMsg, lastSeenAt, createdAt sql.NullString
	var status string
	var redact, retain, encrypt int

	err := rows.Scan(&src.SourceID, &src.Kind, &src.Locator, &src.DeviceID, &projectID, &status, &errMsg,
		&redact, &retain, &encrypt, &lastSeenAt, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("scan source: %w", err)
	}
	src.ProjectID = projectID.String
	src.Status = SourceStatus(status)
	src.ErrorMessage = errMsg.String
	src.RedactSecrets = redact != 0
	src.RetainOnDelete = retain != 0
	src.EncryptOriginals = encrypt != 0
	if lastSeenAt.Valid {
		src.LastSeenAt, _ = parseStoredTime(lastSeenAt.String)
	}
	if createdAt.Valid {
		src.CreatedAt, _ = parseStoredTime(createdAt.String)
	}
	return &src, nil
}
