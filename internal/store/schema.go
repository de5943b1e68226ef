package store

// schemaVersion is the highest migration this binary knows how to apply.
const schemaVersion = 2

// schemaV1 creates the core tables plus the FTS5 mirror of events and
// its sync triggers. content= / content_rowid= makes events_fts a
// contentless index: it stores no text of its own, only postings
// keyed to the owning row's implicit rowid.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version     INTEGER PRIMARY KEY,
    applied_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE TABLE IF NOT EXISTS devices (
    device_id     TEXT PRIMARY KEY,
    nickname      TEXT,
    created_at    TEXT NOT NULL,
    last_seen_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
    project_id    TEXT PRIMARY KEY,
    display_name  TEXT NOT NULL,
    git_remote    TEXT,
    root_path     TEXT NOT NULL,
    share_policy  TEXT NOT NULL DEFAULT 'private',
    created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sources (
    source_id          TEXT PRIMARY KEY,
    kind                TEXT NOT NULL,
    locator             TEXT NOT NULL,
    device_id           TEXT NOT NULL,
    project_id          TEXT,
    status              TEXT NOT NULL DEFAULT 'active',
    error_message       TEXT,
    redact_secrets      INTEGER NOT NULL DEFAULT 1,
    retain_on_delete    INTEGER NOT NULL DEFAULT 1,
    encrypt_originals   INTEGER NOT NULL DEFAULT 0,
    last_seen_at        TEXT,
    created_at          TEXT NOT NULL,
    UNIQUE(device_id, locator)
);

CREATE TABLE IF NOT EXISTS cursors (
    source_id     TEXT PRIMARY KEY REFERENCES sources(source_id),
    file_inode    INTEGER,
    file_size     INTEGER,
    file_mtime    TEXT,
    byte_offset   INTEGER,
    diff_mtime    TEXT,
    last_event_id TEXT,
    last_rowid    INTEGER,
    updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    event_id                TEXT PRIMARY KEY,
    source_id                TEXT NOT NULL REFERENCES sources(source_id),
    source_seq               REAL NOT NULL,
    device_id                TEXT NOT NULL,
    project_id               TEXT,
    session_id               TEXT,
    event_ts                 TEXT NOT NULL,
    ingest_ts                TEXT NOT NULL,
    source_kind              TEXT NOT NULL,
    event_type               TEXT NOT NULL,
    text_redacted            TEXT,
    tool_name                TEXT,
    tool_args_json           TEXT,
    file_paths_json          TEXT,
    meta_json                TEXT,
    redaction_manifest_json  TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_project ON events(project_id);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(event_ts);
CREATE INDEX IF NOT EXISTS idx_events_source_seq ON events(source_id, source_seq);
CREATE INDEX IF NOT EXISTS idx_events_ingest_ts ON events(ingest_ts);

CREATE VIRTUAL TABLE IF NOT EXISTS events_fts USING fts5(
    text_redacted,
    tool_name,
    content='events',
    content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS events_ai AFTER INSERT ON events BEGIN
    INSERT INTO events_fts(rowid, text_redacted, tool_name)
    VALUES (new.rowid, new.text_redacted, new.tool_name);
END;

CREATE TRIGGER IF NOT EXISTS events_ad AFTER DELETE ON events BEGIN
    INSERT INTO events_fts(events_fts, rowid, text_redacted, tool_name)
    VALUES ('delete', old.rowid, old.text_redacted, old.tool_name);
END;

CREATE TRIGGER IF NOT EXISTS events_au AFTER UPDATE ON events BEGIN
    INSERT INTO events_fts(events_fts, rowid, text_redacted, tool_name)
    VALUES ('delete', old.rowid, old.text_redacted, old.tool_name);
    INSERT INTO events_fts(rowid, text_redacted, tool_name)
    VALUES (new.rowid, new.text_redacted, new.tool_name);
END;
`

// schemaV2 adds the encrypted-original side table (§4.1 of the
// supplemented data model); kept as its own migration rather than
// folded into v1 so a v1-only database upgrades cleanly in place.
const schemaV2 = `
CREATE TABLE IF NOT EXISTS ciphertexts (
    ciphertext_id     TEXT PRIMARY KEY,
    source_id         TEXT NOT NULL REFERENCES sources(source_id),
    plaintext_sha256  TEXT NOT NULL,
    nonce             BLOB NOT NULL,
    ciphertext        BLOB NOT NULL,
    created_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ciphertexts_source ON ciphertexts(source_id);
`

// migrations lists every schema step above version 0, in order. Each
// runs inside its own transaction; GetVersion reports the highest
// version whose migration has committed.
var migrations = []struct {
	version int
	sql     string
}{
	{1, schemaV1},
	{2, schemaV2},
}
