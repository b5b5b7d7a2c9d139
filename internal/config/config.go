// Package config loads the realm configuration file and supplies defaults
// for every tunable the engine exposes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConflictPolicy selects how the sync engine resolves a stale commit.
type ConflictPolicy string

const (
	LastWriteWins  ConflictPolicy = "last-write-wins"
	FirstWriteWins ConflictPolicy = "first-write-wins"
	ManualResolve  ConflictPolicy = "manual"
)

// Config is the root configuration.
type Config struct {
	Project ProjectConfig `yaml:"project"`
	Server  ServerConfig  `yaml:"server"`
	Watch   WatchConfig   `yaml:"watch"`
	Sync    SyncConfig    `yaml:"sync"`
	Match   MatchConfig   `yaml:"match"`
	Journal JournalConfig `yaml:"journal"`
	Log     LogConfig     `yaml:"log"`
}

// ProjectConfig locates the source tree being edited.
type ProjectConfig struct {
	Root string `yaml:"root"`
}

// ServerConfig configures the websocket transport.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// WatchConfig configures the file watcher.
type WatchConfig struct {
	Enabled        bool     `yaml:"enabled"`
	PollIntervalMs int      `yaml:"poll_interval_ms"`
	DebounceMs     int      `yaml:"debounce_ms"`
	IgnorePatterns []string `yaml:"ignore_patterns"`
}

// SyncConfig configures the protocol state machine.
type SyncConfig struct {
	DebounceMs     int            `yaml:"debounce_ms"`
	StalenessMs    int            `yaml:"staleness_ms"`
	ConflictPolicy ConflictPolicy `yaml:"conflict_policy"`
	HistorySize    int            `yaml:"history_size"`
}

// MatchConfig carries the class-match heuristic thresholds. These encode
// observed product behavior, not hard truth; they are configuration so a
// product decision can move them without a code change.
type MatchConfig struct {
	MinForwardMatches int     `yaml:"min_forward_matches"`
	ForwardRatio      float64 `yaml:"forward_ratio"`
	ReverseRatio      float64 `yaml:"reverse_ratio"`
}

// JournalConfig locates the commit journal database. Empty disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Project: ProjectConfig{Root: "."},
		Server:  ServerConfig{Addr: "127.0.0.1:7415"},
		Watch: WatchConfig{
			Enabled:        true,
			PollIntervalMs: 2000,
			DebounceMs:     400,
			IgnorePatterns: []string{
				"node_modules", ".git", "dist", "build", ".next", "coverage",
			},
		},
		Sync: SyncConfig{
			DebounceMs:     300,
			StalenessMs:    30000,
			ConflictPolicy: LastWriteWins,
			HistorySize:    500,
		},
		Match: MatchConfig{
			MinForwardMatches: 2,
			ForwardRatio:      0.5,
			ReverseRatio:      0.5,
		},
		Journal: JournalConfig{Path: ""},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML config file layered over Default. A missing file is not
// an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	d := Default()
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Project.Root == "" {
		c.Project.Root = d.Project.Root
	}
	if c.Watch.PollIntervalMs <= 0 {
		c.Watch.PollIntervalMs = d.Watch.PollIntervalMs
	}
	if c.Watch.DebounceMs <= 0 {
		c.Watch.DebounceMs = d.Watch.DebounceMs
	}
	if c.Sync.DebounceMs <= 0 {
		c.Sync.DebounceMs = d.Sync.DebounceMs
	}
	if c.Sync.StalenessMs <= 0 {
		c.Sync.StalenessMs = d.Sync.StalenessMs
	}
	if c.Sync.HistorySize <= 0 {
		c.Sync.HistorySize = d.Sync.HistorySize
	}
	switch c.Sync.ConflictPolicy {
	case LastWriteWins, FirstWriteWins, ManualResolve:
	default:
		c.Sync.ConflictPolicy = d.Sync.ConflictPolicy
	}
	if c.Match.MinForwardMatches <= 0 {
		c.Match.MinForwardMatches = d.Match.MinForwardMatches
	}
	if c.Match.ForwardRatio <= 0 {
		c.Match.ForwardRatio = d.Match.ForwardRatio
	}
	if c.Match.ReverseRatio <= 0 {
		c.Match.ReverseRatio = d.Match.ReverseRatio
	}
}

// SyncDebounce returns the sync debounce window as a Duration.
func (c SyncConfig) SyncDebounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// Staleness returns the stale-event rejection threshold as a Duration.
func (c SyncConfig) Staleness() time.Duration {
	return time.Duration(c.StalenessMs) * time.Millisecond
}

// PollInterval returns the watcher poll cadence as a Duration.
func (c WatchConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// Debounce returns the watcher quiet period as a Duration.
func (c WatchConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}
