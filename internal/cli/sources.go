package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/recall-tools/recall/internal/identity"
	"github.com/recall-tools/recall/internal/ingest"
	"github.com/recall-tools/recall/internal/store"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Inspect and manage registered ingestion sources",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered sources",
	RunE:  runSourcesList,
}

var (
	sourceAddKind          string
	sourceAddRedactSecrets bool
)

var sourcesAddCmd = &cobra.Command{
	Use:   "add <locator>",
	Short: "Register a source directly, bypassing adapter discovery",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourcesAdd,
}

var sourcesPauseCmd = &cobra.Command{
	Use:   "pause <source-id>",
	Short: "Pause a source so watch/ingest skip it",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourcesSetStatus(store.SourcePaused),
}

var sourcesResumeCmd = &cobra.Command{
	Use:   "resume <source-id>",
	Short: "Resume a paused source",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourcesSetStatus(store.SourceActive),
}

var sourceRemovePurge bool

var sourcesRemoveCmd = &cobra.Command{
	Use:   "remove <source-id>",
	Short: "Remove a source",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourcesRemove,
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
	sourcesCmd.AddCommand(sourcesListCmd, sourcesAddCmd, sourcesPauseCmd, sourcesResumeCmd, sourcesRemoveCmd)

	sourcesAddCmd.Flags().StringVar(&sourceAddKind, "kind", "", "source kind: jsonl, split, plaintext, or git (required)")
	sourcesAddCmd.Flags().BoolVar(&sourceAddRedactSecrets, "redact", true, "apply secret redaction to this source's events")

	sourcesRemoveCmd.Flags().BoolVar(&sourceRemovePurge, "purge", false, "also delete this source's already-ingested events")
}

func runSourcesList(cmd *cobra.Command, args []string) error {
	st, cleanup, err := openStore()
	if err != nil {
		return err
	}
	defer cleanup()

	sources, err := st.ListSources("")
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(sources)
	}

	for _, s := range sources {
		fmt.Printf("%-36s %-10s %-8s %s\n", s.SourceID, s.Kind, s.Status, s.Locator)
		if s.ErrorMessage != "" {
			fmt.Printf("  error: %s\n", s.ErrorMessage)
		}
	}
	fmt.Printf("\n%d source(s)\n", len(sources))
	return nil
}

func runSourcesAdd(cmd *cobra.Command, args []string) error {
	if sourceAddKind == "" {
		return fmt.Errorf("--kind is required")
	}

	st, cleanup, err := openStore()
	if err != nil {
		return err
	}
	defer cleanup()

	device, err := identity.GetOrCreateDevice()
	if err != nil {
		return fmt.Errorf("resolve device identity: %w", err)
	}

	locator := args[0]
	now := time.Now().UTC()
	src := store.Source{
		SourceID:      ingest.EventID(sourceAddKind, 0, locator),
		Kind:          sourceAddKind,
		Locator:       locator,
		DeviceID:      device.DeviceID,
		Status:        store.SourceActive,
		RedactSecrets: sourceAddRedactSecrets,
		LastSeenAt:    now,
		CreatedAt:     now,
	}
	if err := st.UpsertSource(src); err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(src)
	}
	fmt.Printf("registered %s (%s)\n", src.SourceID, src.Locator)
	return nil
}

func runSourcesSetStatus(status store.SourceStatus) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		st, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		src, err := st.GetSource(args[0])
		if err != nil {
			return err
		}
		if src == nil {
			return fmt.Errorf("no such source: %s", args[0])
		}
		src.Status = status
		if err := st.UpsertSource(*src); err != nil {
			return err
		}
		fmt.Printf("%s is now %s\n", src.SourceID, status)
		return nil
	}
}

func runSourcesRemove(cmd *cobra.Command, args []string) error {
	st, cleanup, err := openStore()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := st.DeleteSource(args[0], sourceRemovePurge); err != nil {
		return err
	}
	fmt.Printf("removed %s\n", args[0])
	return nil
}
