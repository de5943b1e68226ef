package store

import "time"

// Device mirrors the identity persisted by internal/identity; the
// store only needs enough of it to record provenance on sources.
type Device struct {
	DeviceID   string
	Nickname   string
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// Project is the stable codebase identity events are grouped under.
type Project struct {
	ProjectID   string
	DisplayName string
	GitRemote   string
	RootPath    string
	SharePolicy string
	CreatedAt   time.Time
}

// SourceStatus is one of the lifecycle states an ingestion source moves through.
type SourceStatus string

const (
	SourceActive  SourceStatus = "active"
	SourcePaused  SourceStatus = "paused"
	SourceMissing SourceStatus = "missing"
	SourceError   SourceStatus = "error"
)

// Source is one unit of ingestion: a transcript file, a directory of
// split-file transcripts, or a git repository.
type Source struct {
	SourceID         string
	Kind             string
	Locator          string
	DeviceID         string
	ProjectID        string
	Status           SourceStatus
	ErrorMessage     string
	RedactSecrets    bool
	RetainOnDelete   bool
	EncryptOriginals bool
	LastSeenAt       time.Time
	CreatedAt        time.Time
}

// Cursor records where the next ingestion tick for a source must resume.
type Cursor struct {
	SourceID    string
	FileInode   *int64
	FileSize    *int64
	FileMtime   *time.Time
	ByteOffset  *int64
	DiffMtime   *time.Time
	LastEventID string
	LastRowID   *int64
	UpdatedAt   time.Time
}

// Event is the canonical retrieval unit: one user/assistant turn, tool
// call or result, git commit, or git branch switch.
type Event struct {
	EventID                string
	SourceID                string
	SourceSeq               float64
	DeviceID                string
	ProjectID               string
	SessionID               string
	EventTS                 time.Time
	IngestTS                time.Time
	SourceKind              string
	EventType               string
	TextRedacted            string
	ToolName                string
	ToolArgsJSON            string
	FilePathsJSON           string
	MetaJSON                string
	RedactionManifestJSON   string
}

// Ciphertext is one encrypted original blob kept alongside a redacted
// event when its owning source has EncryptOriginals set.
type Ciphertext struct {
	CiphertextID   string
	SourceID       string
	PlaintextSHA256 string
	Nonce          []byte
	Ciphertext     []byte
	CreatedAt      time.Time
}

// Filter is the shared filter language accepted by every query primitive.
type Filter struct {
	Since      *time.Time
	Until      *time.Time
	ProjectID  string
	SessionID  string
	EventTypes []string
	ToolNames  []string
	Role       string
	Limit      int
	Offset     int
}

// Page wraps a filtered result set with the pagination metadata every
// query primitive returns alongside its rows.
type Page struct {
	Total  int
	Limit  int
	Offset int
}
