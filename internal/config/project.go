package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the user-level Recall configuration (~/.recall/config.yaml).
type Config struct {
	Version string       `yaml:"version"`
	Watch   WatchConfig  `yaml:"watch"`
	Redact  RedactConfig `yaml:"redact"`
}

// WatchConfig controls the watch coordinator's timing.
type WatchConfig struct {
	// StableWriteDebounce bounds how long a tailed file must be quiet
	// before a change is re-ingested.
	StableWriteDebounce time.Duration `yaml:"stable_write_debounce"`
	// SplitTranscriptPollInterval is the polling period for split-file
	// transcript directories, which hold too many small files to watch
	// individually.
	SplitTranscriptPollInterval time.Duration `yaml:"split_transcript_poll_interval"`
	// RediscoveryInterval is how often adapters re-run discover().
	RediscoveryInterval time.Duration `yaml:"rediscovery_interval"`
	// MirrorSyncInterval is how often the coordinator copies newly
	// ingested token-bearing events into the DuckDB analytics mirror,
	// when one is configured. Zero disables periodic syncing even if a
	// mirror path is set.
	MirrorSyncInterval time.Duration `yaml:"mirror_sync_interval"`
}

// RedactConfig controls default redaction behavior for newly registered sources.
type RedactConfig struct {
	DefaultEnabled bool `yaml:"default_enabled"`
}

// DefaultConfig returns the configuration used when no config file exists yet.
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Watch: WatchConfig{
			StableWriteDebounce:         100 * time.Millisecond,
			SplitTranscriptPollInterval: 5 * time.Second,
			RediscoveryInterval:         30 * time.Second,
			MirrorSyncInterval:          60 * time.Second,
		},
		Redact: RedactConfig{
			DefaultEnabled: true,
		},
	}
}

// Load reads the user config file, falling back to defaults if it does not exist.
func Load() (*Config, error) {
	data, err := os.ReadFile(GlobalConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to ~/.recall/config.yaml.
func Save(cfg *Config) error {
	path := GlobalConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
