// Package reconstruct rebuilds a file's contents as of an arbitrary
// point in time from captured read snapshots and edit diffs. Grounded
// on the pack's checkpoint.Monitor: a plain function taking a store
// handle and returning a single result struct, no intervening service
// type.
package reconstruct

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/recall-tools/recall/internal/store"
)

// ErrNotReconstructible is returned when neither a snapshot nor any
// edit history exists for the requested file.
var ErrNotReconstructible = errors.New("reconstruct: no snapshot or edit history for file")

// Result reports how the returned bytes were produced: whether a
// snapshot answered it directly, or how faithfully the edit replay
// chain reproduced the requested point in time.
type Result struct {
	Bytes        string
	FromSnapshot bool
	Applied      int
	Failed       int
	Total        int
}

// Reconstruct returns the best-effort contents of filePath as of
// atTime. It first tries a substantially complete read snapshot at or
// before atTime; if none exists, it replays the edit chain for the
// file (optionally scoped to sessionID) up to atTime starting from
// empty content, applying each edit's old_string -> new_string
// substitution (first occurrence only) in order and counting edits
// whose old_string no longer matches as failed rather than aborting.
// Returns ErrNotReconstructible if both strategies yield nothing.
func Reconstruct(st *store.Store, filePath string, atTime time.Time, sessionID string) (Result, error) {
	snap, err := st.FindReadResult(filePath, &atTime)
	if err != nil {
		return Result{}, fmt.Errorf("reconstruct %s: find read result: %w", filePath, err)
	}
	if snap != nil {
		return Result{Bytes: snap.TextRedacted, FromSnapshot: true, Total: 0}, nil
	}

	edits, _, err := st.GetEdits(store.EditFilter{
		Filter: store.Filter{
			Until:     &atTime,
			SessionID: sessionID,
			Limit:     1 << 30,
		},
		FilePath: filePath,
	})
	if err != nil {
		return Result{}, fmt.Errorf("reconstruct %s: get edits: %w", filePath, err)
	}
	edits = forPath(edits, filePath)
	if len(edits) == 0 {
		return Result{}, ErrNotReconstructible
	}

	sort.SliceStable(edits, func(i, j int) bool { return edits[i].EventTS.Before(edits[j].EventTS) })

	var content string
	applied, failed := 0, 0
	for _, e := range edits {
		idx := strings.Index(content, e.OldString)
		if idx < 0 {
			failed++
			continue
		}
		content = content[:idx] + e.NewString + content[idx+len(e.OldString):]
		applied++
	}

	return Result{
		Bytes:   content,
		Applied: applied,
		Failed:  failed,
		Total:   applied + failed,
	}, nil
}

// forPath drops edits whose parsed file path doesn't exactly match,
// since GetEdits' FilePath filter is a substring match.
func forPath(edits []store.Edit, filePath string) []store.Edit {
	out := make([]store.Edit, 0, len(edits))
	for _, e := range edits {
		if e.FilePath == filePath {
			out = append(out, e)
		}
	}
	return out
}
