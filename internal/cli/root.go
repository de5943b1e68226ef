// Package cli is the cobra command tree for the recall binary: thin
// wrappers over internal/store, internal/ingest, internal/watch, and
// internal/reconstruct, grounded on the teacher's internal/cli/root.go
// persistent-flag and DB-path-resolution pattern.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/recall-tools/recall/internal/config"
)

var (
	dbPath  string
	verbose bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:     "recall",
	Short:   "Local memory layer for AI coding agent activity",
	Version: Version,
	Long: `recall ingests coding-agent transcripts, tool calls, file edits, and
git activity into a local queryable store, and exposes search, timeline,
file-history, and reconstruction primitives over it.`,
}

// Execute runs the command tree; cmd/recall's main is a thin wrapper
// around this.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "store path (default: ~/.recall/recall.db)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "JSON output")
}

// GetDBPath returns the resolved store path: the --db flag if given,
// else the global default under ~/.recall.
func GetDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	return config.GlobalDBPath()
}

// IsVerbose reports whether -v/--verbose was passed.
func IsVerbose() bool {
	return verbose
}

// IsJSON reports whether --json was passed.
func IsJSON() bool {
	return jsonOut
}
