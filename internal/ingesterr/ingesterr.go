// Package ingesterr names the error kinds the ingestion loop branches
// on, mirroring the teacher's habit of small typed failure structs
// (internal/orchestrator's FeedbackLoopStatus-style enums) rather than
// reaching for an errors library.
package ingesterr

import "errors"

// Kind is one of the five error categories the coordinator branches on.
type Kind string

const (
	// TransientIo: the input vanished (file appeared then disappeared,
	// filesystem event glitch). The source moves to "missing" and
	// resumes automatically on the next successful rediscovery.
	TransientIo Kind = "transient_io"
	// ParseSkip: one malformed line or JSON document. Skip it, keep
	// going, count it as a non-fatal error in the ingest report.
	ParseSkip Kind = "parse_skip"
	// AdapterFailure: a git command failed, or a directory could not
	// be read. The source moves to "error" with the captured message.
	AdapterFailure Kind = "adapter_failure"
	// StoreConstraintViolation: should not occur in steady state;
	// duplicate event_id is the only real case, and INSERT OR IGNORE
	// already absorbs it silently.
	StoreConstraintViolation Kind = "store_constraint_violation"
	// Fatal: the store file is corrupt or a migration failed. The
	// coordinator aborts visibly; no partial schema is ever left
	// applied since each migration runs in its own transaction.
	Fatal Kind = "fatal"
)

// Error pairs a Kind with the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err (or anything it wraps) is an *Error of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, returning ok=false if err is not
// (or does not wrap) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
