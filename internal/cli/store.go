package cli

import (
	"fmt"
	"time"

	"github.com/recall-tools/recall/internal/config"
	"github.com/recall-tools/recall/internal/store"
)

// openStore opens the resolved --db path, creating the global
// ~/.recall directory on first run the way the teacher's db.Open
// callers do.
func openStore() (*store.Store, func(), error) {
	if err := config.EnsureGlobalDirs(); err != nil {
		return nil, nil, fmt.Errorf("create store directory: %w", err)
	}
	st, err := store.Open(GetDBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return st, func() { st.Close() }, nil
}

// parseTimePtr parses a --since/--until-style flag value through
// store.ParseTimeString, returning nil for an empty flag so filters
// default to unbounded.
func parseTimePtr(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := store.ParseTimeString(value)
	if err != nil {
		return nil, fmt.Errorf("parse time %q: %w", value, err)
	}
	return &t, nil
}

