package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/recall-tools/recall/internal/config"
	"github.com/recall-tools/recall/internal/identity"
	"github.com/recall-tools/recall/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check install state, store health, and source registration",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// CheckResult is one line of doctor output.
type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // ok, warning, error
	Message string `json:"message"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	var checks []CheckResult

	checks = append(checks, CheckResult{
		Name:    "System",
		Status:  "ok",
		Message: fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	})

	if config.IsInstalled() {
		checks = append(checks, CheckResult{
			Name:    "Global Install",
			Status:  "ok",
			Message: config.GlobalConfigPath(),
		})
	} else {
		checks = append(checks, CheckResult{
			Name:    "Global Install",
			Status:  "warning",
			Message: "no global config yet, defaults will be created on first use",
		})
	}

	if d, err := identity.GetOrCreateDevice(); err == nil {
		checks = append(checks, CheckResult{
			Name:    "Device Identity",
			Status:  "ok",
			Message: fmt.Sprintf("%s (%s)", d.DeviceID, d.Nickname),
		})
	} else {
		checks = append(checks, CheckResult{
			Name:    "Device Identity",
			Status:  "error",
			Message: err.Error(),
		})
	}

	dbPath := config.GlobalDBPath()
	if _, err := os.Stat(dbPath); err == nil {
		st, err := store.Open(dbPath)
		if err == nil {
			version, _ := st.GetVersion()
			sources, listErr := st.ListSources("")
			st.Close()
			checks = append(checks, CheckResult{
				Name:    "Store",
				Status:  "ok",
				Message: fmt.Sprintf("schema v%d (%s)", version, dbPath),
			})
			if listErr == nil {
				active := 0
				for _, s := range sources {
					if s.Status == store.SourceActive {
						active++
					}
				}
				status := "ok"
				msg := fmt.Sprintf("%d registered, %d active", len(sources), active)
				if len(sources) == 0 {
					status = "warning"
					msg = "no sources registered - run 'recall ingest' or 'recall sources add'"
				}
				checks = append(checks, CheckResult{Name: "Sources", Status: status, Message: msg})
			}
		} else {
			checks = append(checks, CheckResult{
				Name:    "Store",
				Status:  "error",
				Message: fmt.Sprintf("failed to open: %v", err),
			})
		}
	} else {
		checks = append(checks, CheckResult{
			Name:    "Store",
			Status:  "warning",
			Message: "no store file yet, run 'recall ingest' to create one",
		})
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(checks)
	}

	fmt.Println("Recall Doctor")
	fmt.Println()

	hasError := false
	for _, c := range checks {
		var icon string
		switch c.Status {
		case "ok":
			icon = "[ok]"
		case "warning":
			icon = "[warn]"
		case "error":
			icon = "[err]"
			hasError = true
		}
		fmt.Printf("%s %s: %s\n", icon, c.Name, c.Message)
	}

	fmt.Println()
	if hasError {
		fmt.Println("problems found, see above")
		return fmt.Errorf("check failed")
	}
	fmt.Println("all checks passed")

	return nil
}
