// Package cursor is a thin repository over internal/store's cursors
// table. Earlier prototypes of this system kept one sidecar .cursor
// file per transcript; that approach is superseded here so a cursor
// commits inside the same transaction as the event batch it resumes
// from (see internal/store.InsertBatch).
package cursor

import "github.com/recall-tools/recall/internal/store"

// Repository reads cursors for adapters deciding where to resume.
// Writing a cursor only ever happens as part of store.InsertBatch, so
// this repository exposes no Put method.
type Repository struct {
	st *store.Store
}

// New wraps a store handle.
func New(st *store.Store) *Repository {
	return &Repository{st: st}
}

// Get returns the persisted cursor for a source, or a zero-value
// cursor (with SourceID set) if the source has never been ingested.
func (r *Repository) Get(sourceID string) (store.Cursor, error) {
	c, err := r.st.GetCursor(sourceID)
	if err != nil {
		return store.Cursor{}, err
	}
	if c == nil {
		return store.Cursor{SourceID: sourceID}, nil
	}
	return *c, nil
}
