package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/recall-tools/recall/internal/reconstruct"
	"github.com/recall-tools/recall/internal/store"
)

var (
	reconstructAt        string
	reconstructSessionID string
)

var reconstructCmd = &cobra.Command{
	Use:   "reconstruct <path>",
	Short: "Rebuild a file's best-effort contents at a point in time",
	Args:  cobra.ExactArgs(1),
	RunE:  runReconstruct,
}

func init() {
	rootCmd.AddCommand(reconstructCmd)
	reconstructCmd.Flags().StringVar(&reconstructAt, "at", "", "point in time to reconstruct at (default: now)")
	reconstructCmd.Flags().StringVar(&reconstructSessionID, "session", "", "restrict edit replay to this session id")
}

func runReconstruct(cmd *cobra.Command, args []string) error {
	at := time.Now().UTC()
	if reconstructAt != "" {
		parsed, err := store.ParseTimeString(reconstructAt)
		if err != nil {
			return fmt.Errorf("parse --at: %w", err)
		}
		at = parsed
	}

	st, cleanup, err := openStore()
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := reconstruct.Reconstruct(st, args[0], at, reconstructSessionID)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(res)
	}

	if res.FromSnapshot {
		fmt.Fprintln(os.Stderr, "reconstructed from a snapshot")
	} else {
		fmt.Fprintf(os.Stderr, "reconstructed by replay: applied=%d failed=%d total=%d\n", res.Applied, res.Failed, res.Total)
	}
	fmt.Print(res.Bytes)
	return nil
}
