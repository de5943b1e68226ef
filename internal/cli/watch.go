package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/recall-tools/recall/internal/config"
	"github.com/recall-tools/recall/internal/identity"
	"github.com/recall-tools/recall/internal/ingest"
	"github.com/recall-tools/recall/internal/store/analytics"
	"github.com/recall-tools/recall/internal/tui"
	"github.com/recall-tools/recall/internal/watch"
)

var (
	watchRoots  sourceRoots
	watchTUI    bool
	watchMirror bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the long-lived ingestion coordinator until interrupted",
	Long: `Runs an initial discovery pass, then watches every registered source
for changes, re-ingesting on debounced writes, a polling loop for
split-file transcripts, and a periodic rediscovery timer. Stops
gracefully on SIGINT/SIGTERM.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchRoots.addFlags(watchCmd)
	watchCmd.Flags().BoolVar(&watchTUI, "tui", false, "show a live dashboard instead of blocking silently")
	watchCmd.Flags().BoolVar(&watchMirror, "mirror", true, "periodically sync token-bearing events into the DuckDB analytics mirror")
}

func runWatch(cmd *cobra.Command, args []string) error {
	st, cleanup, err := openStore()
	if err != nil {
		return err
	}
	defer cleanup()

	device, err := identity.GetOrCreateDevice()
	if err != nil {
		return fmt.Errorf("resolve device identity: %w", err)
	}

	orch := ingest.New(st, watchRoots.buildAdapters()...)
	if _, err := orch.DiscoverAndRegister(device.DeviceID); err != nil {
		return fmt.Errorf("initial discovery: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var mirror *analytics.Mirror
	if watchMirror {
		mirror, err = analytics.Open(config.GlobalAnalyticsDBPath())
		if err != nil {
			return fmt.Errorf("open analytics mirror: %w", err)
		}
		defer mirror.Close()
	}

	coordinator := watch.New(orch, st, cfg.Watch, device.DeviceID, mirror)
	if err := coordinator.Start(); err != nil {
		return fmt.Errorf("start watch coordinator: %w", err)
	}

	if err := writePIDFile(); err != nil {
		coordinator.Stop()
		return err
	}
	defer os.Remove(config.GlobalWatchPIDPath())

	if watchTUI {
		tuiErr := tui.Run(GetDBPath())
		fmt.Println("stopping...")
		if stopErr := coordinator.Stop(); stopErr != nil {
			return stopErr
		}
		return tuiErr
	}

	fmt.Printf("watching (pid %d); press Ctrl-C to stop\n", os.Getpid())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("stopping...")
	return coordinator.Stop()
}

func writePIDFile() error {
	return os.WriteFile(config.GlobalWatchPIDPath(), []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}
