package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/recall-tools/recall/internal/config"
	"github.com/recall-tools/recall/internal/store"
	"github.com/recall-tools/recall/internal/store/analytics"
	"github.com/recall-tools/recall/internal/usage"
)

var (
	statsSince     string
	statsUntil     string
	statsGroup     string
	statsProjectID string
	statsFast      bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Token usage and cost aggregated from ingested events",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVar(&statsSince, "since", "", "lower time bound")
	statsCmd.Flags().StringVar(&statsUntil, "until", "", "upper time bound")
	statsCmd.Flags().StringVar(&statsGroup, "group", "by_day", "rollup grouping: by_day, by_session, or by_model")
	statsCmd.Flags().StringVar(&statsProjectID, "project", "", "restrict to a project id")
	statsCmd.Flags().BoolVar(&statsFast, "fast", false, "consult the DuckDB analytics mirror instead of scanning SQLite directly, when the mirror is fresh")
}

func runStats(cmd *cobra.Command, args []string) error {
	sincePtr, err := parseTimePtr(statsSince)
	if err != nil {
		return err
	}
	untilPtr, err := parseTimePtr(statsUntil)
	if err != nil {
		return err
	}

	st, cleanup, err := openStore()
	if err != nil {
		return err
	}
	defer cleanup()

	filter := store.Filter{Since: sincePtr, Until: untilPtr, ProjectID: statsProjectID}

	var stats *store.TokenStats
	if statsFast {
		mirror, err := analytics.Open(config.GlobalAnalyticsDBPath())
		if err != nil {
			return fmt.Errorf("open analytics mirror: %w", err)
		}
		defer mirror.Close()
		stats, err = usage.GetStatsFast(st, filter, store.GroupBy(statsGroup), usage.KnownPricing(), mirror)
		if err != nil {
			return err
		}
	} else {
		stats, err = usage.GetStats(st, filter, store.GroupBy(statsGroup), usage.KnownPricing())
		if err != nil {
			return err
		}
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(stats)
	}

	fmt.Printf("input=%d output=%d cache_read=%d cache_write=%d cost=$%.4f\n",
		stats.TotalTokens.Input, stats.TotalTokens.Output, stats.TotalTokens.CacheRead, stats.TotalTokens.CacheWrite, stats.TotalCostUSD)
	for _, g := range stats.Groups {
		fmt.Printf("  %-24s input=%-8d output=%-8d cost=$%.4f\n", g.Key, g.Tokens.Input, g.Tokens.Output, g.CostUSD)
	}
	return nil
}
