package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/recall-tools/recall/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or edit the global recall configuration",
	Long: `Manages ~/.recall/config.yaml.

Examples:
  recall config show
  recall config init
  recall config set watch.stable_write_debounce 200ms
  recall config set redact.default_enabled false
`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	RunE:  runConfigInit,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a configuration value and save it",
	Long: `Available keys:
  watch.stable_write_debounce          duration (e.g. 100ms)
  watch.split_transcript_poll_interval duration (e.g. 5s)
  watch.rediscovery_interval           duration (e.g. 30s)
  redact.default_enabled               bool
`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configForce bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configInitCmd, configSetCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing config file")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(cfg)
	}

	fmt.Printf("config file: %s\n\n", config.GlobalConfigPath())
	fmt.Printf("version: %s\n\n", cfg.Version)
	fmt.Println("watch:")
	fmt.Printf("  stable_write_debounce:          %s\n", cfg.Watch.StableWriteDebounce)
	fmt.Printf("  split_transcript_poll_interval: %s\n", cfg.Watch.SplitTranscriptPollInterval)
	fmt.Printf("  rediscovery_interval:           %s\n", cfg.Watch.RediscoveryInterval)
	fmt.Println()
	fmt.Println("redact:")
	fmt.Printf("  default_enabled: %v\n", cfg.Redact.DefaultEnabled)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.GlobalConfigPath()
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig()
	if err := config.Save(cfg); err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"status": "created",
			"path":   path,
			"config": cfg,
		})
	}
	fmt.Printf("wrote default config to %s\n", path)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	switch key {
	case "watch.stable_write_debounce":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("parse duration: %w", err)
		}
		cfg.Watch.StableWriteDebounce = d

	case "watch.split_transcript_poll_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("parse duration: %w", err)
		}
		cfg.Watch.SplitTranscriptPollInterval = d

	case "watch.rediscovery_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("parse duration: %w", err)
		}
		cfg.Watch.RediscoveryInterval = d

	case "redact.default_enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parse bool: %w", err)
		}
		cfg.Redact.DefaultEnabled = b

	default:
		return fmt.Errorf("unknown config key: %s", key)
	}

	if err := config.Save(cfg); err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]string{"status": "updated", "key": key, "value": value})
	}
	fmt.Printf("%s = %s\n", key, value)
	return nil
}
