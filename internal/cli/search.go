package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/recall-tools/recall/internal/store"
)

var (
	searchSince      string
	searchUntil      string
	searchProjectID  string
	searchSessionID  string
	searchEventTypes []string
	searchToolNames  []string
	searchRole       string
	searchLimit      int
	searchOffset     int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over ingested events",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	addFilterFlags(searchCmd, &searchSince, &searchUntil, &searchProjectID, &searchSessionID, &searchEventTypes, &searchToolNames, &searchRole, &searchLimit, &searchOffset)
}

// addFilterFlags wires up the shared filter-language flags used by
// search and timeline.
func addFilterFlags(cmd *cobra.Command, since, until, projectID, sessionID *string, eventTypes, toolNames *[]string, role *string, limit, offset *int) {
	cmd.Flags().StringVar(since, "since", "", "lower time bound (unix seconds, shorthand like 7d, or ISO-8601)")
	cmd.Flags().StringVar(until, "until", "", "upper time bound")
	cmd.Flags().StringVar(projectID, "project", "", "restrict to a project id")
	cmd.Flags().StringVar(sessionID, "session", "", "restrict to a session id")
	cmd.Flags().StringArrayVar(eventTypes, "type", nil, "restrict to these event types (repeatable)")
	cmd.Flags().StringArrayVar(toolNames, "tool", nil, "restrict to these tool names (repeatable)")
	cmd.Flags().StringVar(role, "role", "", "restrict to this message role")
	cmd.Flags().IntVar(limit, "limit", 20, "page size")
	cmd.Flags().IntVar(offset, "offset", 0, "page offset")
}

func buildFilter(since, until, projectID, sessionID string, eventTypes, toolNames []string, role string, limit, offset int) (store.Filter, error) {
	sincePtr, err := parseTimePtr(since)
	if err != nil {
		return store.Filter{}, err
	}
	untilPtr, err := parseTimePtr(until)
	if err != nil {
		return store.Filter{}, err
	}
	return store.Filter{
		Since:      sincePtr,
		Until:      untilPtr,
		ProjectID:  projectID,
		SessionID:  sessionID,
		EventTypes: eventTypes,
		ToolNames:  toolNames,
		Role:       role,
		Limit:      limit,
		Offset:     offset,
	}, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	filter, err := buildFilter(searchSince, searchUntil, searchProjectID, searchSessionID, searchEventTypes, searchToolNames, searchRole, searchLimit, searchOffset)
	if err != nil {
		return err
	}

	st, cleanup, err := openStore()
	if err != nil {
		return err
	}
	defer cleanup()

	hits, page, err := st.Search(store.SearchRequest{Query: args[0], Filter: filter})
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{"hits": hits, "page": page})
	}

	for _, h := range hits {
		fmt.Printf("[%.3f] %s %s %s: %s\n", h.Score, h.EventTS.Format("2006-01-02T15:04:05Z"), h.EventType, h.ToolName, truncateForDisplay(h.TextRedacted, 160))
	}
	fmt.Printf("\n%d of %d total (offset %d, limit %d)\n", len(hits), page.Total, page.Offset, page.Limit)
	return nil
}

func truncateForDisplay(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
