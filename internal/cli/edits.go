package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/recall-tools/recall/internal/store"
)

var (
	editsFilePath  string
	editsSince     string
	editsUntil     string
	editsSessionID string
	editsLimit     int
	editsOffset    int
)

var editsCmd = &cobra.Command{
	Use:   "edits",
	Short: "List captured file-edit operations",
	RunE:  runEdits,
}

func init() {
	rootCmd.AddCommand(editsCmd)
	editsCmd.Flags().StringVar(&editsFilePath, "file", "", "restrict to edits whose path contains this substring")
	editsCmd.Flags().StringVar(&editsSince, "since", "", "lower time bound")
	editsCmd.Flags().StringVar(&editsUntil, "until", "", "upper time bound")
	editsCmd.Flags().StringVar(&editsSessionID, "session", "", "restrict to a session id")
	editsCmd.Flags().IntVar(&editsLimit, "limit", 20, "page size")
	editsCmd.Flags().IntVar(&editsOffset, "offset", 0, "page offset")
}

func runEdits(cmd *cobra.Command, args []string) error {
	sincePtr, err := parseTimePtr(editsSince)
	if err != nil {
		return err
	}
	untilPtr, err := parseTimePtr(editsUntil)
	if err != nil {
		return err
	}

	st, cleanup, err := openStore()
	if err != nil {
		return err
	}
	defer cleanup()

	edits, page, err := st.GetEdits(store.EditFilter{
		Filter: store.Filter{
			Since: sincePtr, Until: untilPtr, SessionID: editsSessionID,
			Limit: editsLimit, Offset: editsOffset,
		},
		FilePath: editsFilePath,
	})
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{"edits": edits, "page": page})
	}

	for _, e := range edits {
		fmt.Printf("%s %s\n", e.EventTS.Format("2006-01-02T15:04:05Z"), e.FilePath)
		fmt.Printf("  - %s\n  + %s\n", truncateForDisplay(e.OldString, 80), truncateForDisplay(e.NewString, 80))
	}
	fmt.Printf("\n%d of %d total (offset %d, limit %d)\n", len(edits), page.Total, page.Offset, page.Limit)
	return nil
}
