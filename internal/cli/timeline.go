package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	timelineSince      string
	timelineUntil      string
	timelineProjectID  string
	timelineSessionID  string
	timelineEventTypes []string
	timelineToolNames  []string
	timelineRole       string
	timelineLimit      int
	timelineOffset     int
)

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Time-ordered events matching a filter, with summary aggregates",
	RunE:  runTimeline,
}

func init() {
	rootCmd.AddCommand(timelineCmd)
	addFilterFlags(timelineCmd, &timelineSince, &timelineUntil, &timelineProjectID, &timelineSessionID, &timelineEventTypes, &timelineToolNames, &timelineRole, &timelineLimit, &timelineOffset)
}

func runTimeline(cmd *cobra.Command, args []string) error {
	filter, err := buildFilter(timelineSince, timelineUntil, timelineProjectID, timelineSessionID, timelineEventTypes, timelineToolNames, timelineRole, timelineLimit, timelineOffset)
	if err != nil {
		return err
	}

	st, cleanup, err := openStore()
	if err != nil {
		return err
	}
	defer cleanup()

	events, page, summary, err := st.Timeline(filter)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"events": events, "page": page, "summary": summary,
		})
	}

	for _, e := range events {
		fmt.Printf("%s %-14s %-10s %s\n", e.EventTS.Format("2006-01-02T15:04:05Z"), e.EventType, e.ToolName, truncateForDisplay(e.TextRedacted, 160))
	}
	fmt.Printf("\n%d of %d total (offset %d, limit %d)\n", len(events), page.Total, page.Offset, page.Limit)
	fmt.Printf("commits=%d insertions=%d deletions=%d by_type=%v\n", summary.CommitCount, summary.Insertions, summary.Deletions, summary.CountByType)
	return nil
}
