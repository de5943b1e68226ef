package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/recall-tools/recall/internal/identity"
	"github.com/recall-tools/recall/internal/ingest"
)

var ingestRoots sourceRoots

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Discover and ingest every configured source once",
	Long: `Runs one discovery pass over the given roots to register any new
sources, then ticks every active or errored source's adapter exactly once.`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestRoots.addFlags(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	st, cleanup, err := openStore()
	if err != nil {
		return err
	}
	defer cleanup()

	device, err := identity.GetOrCreateDevice()
	if err != nil {
		return fmt.Errorf("resolve device identity: %w", err)
	}

	orch := ingest.New(st, ingestRoots.buildAdapters()...)

	registered, err := orch.DiscoverAndRegister(device.DeviceID)
	if err != nil {
		return fmt.Errorf("discover sources: %w", err)
	}

	results, err := orch.IngestAll()
	if err != nil {
		return fmt.Errorf("ingest all: %w", err)
	}

	totalInserted := 0
	failures := 0
	for _, r := range results {
		totalInserted += r.Inserted
		if r.Err != nil {
			failures++
		}
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"registered":     registered,
			"sources_ticked": len(results),
			"events_inserted": totalInserted,
			"failures":        failures,
			"results":         results,
		})
	}

	fmt.Printf("discovered %d new source(s)\n", registered)
	fmt.Printf("ticked %d source(s), inserted %d event(s)\n", len(results), totalInserted)
	if failures > 0 {
		fmt.Printf("%d source(s) failed this tick:\n", failures)
		for _, r := range results {
			if r.Err != nil {
				fmt.Printf("  %s: %v\n", r.SourceID, r.Err)
			}
		}
	}
	return nil
}
