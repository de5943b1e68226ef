package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/recall-tools/recall/internal/config"
)

// Version, Commit, and Date are set at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Run:   runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) {
	info := map[string]interface{}{
		"version": Version,
		"commit":  Commit,
		"date":    Date,
		"go":      runtime.Version(),
		"os":      runtime.GOOS,
		"arch":    runtime.GOARCH,
	}

	if config.IsInstalled() {
		info["installed"] = true
		info["global_db"] = config.GlobalDBPath()
	} else {
		info["installed"] = false
	}

	if jsonOut {
		json.NewEncoder(os.Stdout).Encode(info)
		return
	}

	fmt.Printf("recall %s\n", Version)
	fmt.Println()
	fmt.Printf("  Commit:    %s\n", Commit)
	fmt.Printf("  Built:     %s\n", Date)
	fmt.Printf("  Go:        %s\n", runtime.Version())
	fmt.Printf("  OS/Arch:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Println()

	if config.IsInstalled() {
		fmt.Printf("  Installed: yes\n")
		fmt.Printf("  Global DB: %s\n", config.GlobalDBPath())
	} else {
		fmt.Printf("  Installed: no (run 'recall ingest' to initialize)\n")
	}
}
