package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/recall-tools/recall/internal/store"
)

var (
	fileHistorySince string
	fileHistoryUntil string
	fileHistoryLimit int
)

var fileHistoryCmd = &cobra.Command{
	Use:   "file-history <path>",
	Short: "Time-ordered read/write snapshots captured for a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runFileHistory,
}

func init() {
	rootCmd.AddCommand(fileHistoryCmd)
	fileHistoryCmd.Flags().StringVar(&fileHistorySince, "since", "", "lower time bound")
	fileHistoryCmd.Flags().StringVar(&fileHistoryUntil, "until", "", "upper time bound")
	fileHistoryCmd.Flags().IntVar(&fileHistoryLimit, "limit", 0, "max rows (0 = unbounded)")
}

func runFileHistory(cmd *cobra.Command, args []string) error {
	sincePtr, err := parseTimePtr(fileHistorySince)
	if err != nil {
		return err
	}
	untilPtr, err := parseTimePtr(fileHistoryUntil)
	if err != nil {
		return err
	}

	st, cleanup, err := openStore()
	if err != nil {
		return err
	}
	defer cleanup()

	events, err := st.GetFileHistory(args[0], store.FileHistoryFilter{
		Since: sincePtr, Until: untilPtr, Limit: fileHistoryLimit,
	})
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(events)
	}

	for _, e := range events {
		fmt.Printf("%s %s (%d bytes)\n", e.EventTS.Format("2006-01-02T15:04:05Z"), e.ToolName, len(e.TextRedacted))
	}
	fmt.Printf("\n%d snapshot(s)\n", len(events))
	return nil
}
