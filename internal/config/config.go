// Package config loads logscan configuration from .logscan/config.yaml and
// merges command-line overrides on top of it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ScannerConfig controls folder scans.
type ScannerConfig struct {
	// MaxWorkers is the ceiling on concurrently scanned files
	MaxWorkers int `yaml:"max_workers"`

	// WorkerMultiplier scales available parallelism into a pool size
	WorkerMultiplier int `yaml:"worker_multiplier"`

	// Extensions are the recognized log file extensions, case-insensitive
	Extensions []string `yaml:"extensions"`

	// ExcludeDirs are directory names skipped while discovering files
	ExcludeDirs []string `yaml:"exclude_dirs"`

	// CancelCheckLines is the number of lines between cancellation checks
	CancelCheckLines int `yaml:"cancel_check_lines"`

	// WaitTimeout bounds the coordinator's wait for the next completed file
	WaitTimeout time.Duration `yaml:"wait_timeout"`

	// StallLimit is the number of consecutive empty waits that fail a scan
	StallLimit int `yaml:"stall_limit"`

	// SlowFileThreshold triggers a performance note for slow files
	SlowFileThreshold time.Duration `yaml:"slow_file_threshold"`

	// MaxLineBytes caps a single line during streaming
	MaxLineBytes int `yaml:"max_line_bytes"`
}

// PatternsConfig controls the pattern set.
type PatternsConfig struct {
	// File is the persisted custom pattern file (yaml, toml or json)
	File string `yaml:"file"`

	// ExtendedSyntax retries RE2-rejected expressions with a backtracking engine
	ExtendedSyntax bool `yaml:"extended_syntax"`

	// MatchTimeout limits a backtracking match against one line
	MatchTimeout time.Duration `yaml:"match_timeout"`
}

// SnapshotConfig controls the terminal JSON snapshot.
type SnapshotConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// HistoryConfig controls the scan history database.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	// Textfile is the output path; empty disables the export
	Textfile string `yaml:"textfile"`
}

// Config represents logscan configuration options
type Config struct {
	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where run logs will be written
	LogDir string `yaml:"log_dir"`

	Scanner  ScannerConfig  `yaml:"scanner"`
	Patterns PatternsConfig `yaml:"patterns"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	History  HistoryConfig  `yaml:"history"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		LogDir:   ".logscan/logs",
		Scanner: ScannerConfig{
			MaxWorkers:        16,
			WorkerMultiplier:  3,
			Extensions:        []string{".log", ".txt", ".out"},
			CancelCheckLines:  4096,
			WaitTimeout:       60 * time.Second,
			StallLimit:        5,
			SlowFileThreshold: 5 * time.Second,
			MaxLineBytes:      8 * 1024 * 1024,
		},
		Patterns: PatternsConfig{
			File:           ".logscan/patterns.yaml",
			ExtendedSyntax: true,
			MatchTimeout:   time.Second,
		},
		Snapshot: SnapshotConfig{
			Enabled: true,
			Dir:     "logs",
		},
		History: HistoryConfig{
			Enabled: true,
			DBPath:  ".logscan/history.db",
		},
	}
}

// section is a raw YAML mapping used to detect explicitly set keys.
type section map[string]interface{}

func (s section) has(key string) bool {
	_, ok := s[key]
	return ok
}

func (s section) child(key string) section {
	m, _ := s[key].(map[string]interface{})
	return section(m)
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Durations are parsed by hand so errors name the offending key
	type yamlScanner struct {
		MaxWorkers        int      `yaml:"max_workers"`
		WorkerMultiplier  int      `yaml:"worker_multiplier"`
		Extensions        []string `yaml:"extensions"`
		ExcludeDirs       []string `yaml:"exclude_dirs"`
		CancelCheckLines  int      `yaml:"cancel_check_lines"`
		WaitTimeout       string   `yaml:"wait_timeout"`
		StallLimit        int      `yaml:"stall_limit"`
		SlowFileThreshold string   `yaml:"slow_file_threshold"`
		MaxLineBytes      int      `yaml:"max_line_bytes"`
	}
	type yamlPatterns struct {
		File           string `yaml:"file"`
		ExtendedSyntax bool   `yaml:"extended_syntax"`
		MatchTimeout   string `yaml:"match_timeout"`
	}
	type yamlConfig struct {
		LogLevel string         `yaml:"log_level"`
		LogDir   string         `yaml:"log_dir"`
		Scanner  yamlScanner    `yaml:"scanner"`
		Patterns yamlPatterns   `yaml:"patterns"`
		Snapshot SnapshotConfig `yaml:"snapshot"`
		History  HistoryConfig  `yaml:"history"`
		Metrics  MetricsConfig  `yaml:"metrics"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	var raw section
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if raw.has("log_level") {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if raw.has("log_dir") {
		cfg.LogDir = yamlCfg.LogDir
	}

	if sc := raw.child("scanner"); sc != nil {
		s := yamlCfg.Scanner
		if sc.has("max_workers") {
			cfg.Scanner.MaxWorkers = s.MaxWorkers
		}
		if sc.has("worker_multiplier") {
			cfg.Scanner.WorkerMultiplier = s.WorkerMultiplier
		}
		if sc.has("extensions") {
			cfg.Scanner.Extensions = s.Extensions
		}
		if sc.has("exclude_dirs") {
			cfg.Scanner.ExcludeDirs = s.ExcludeDirs
		}
		if sc.has("cancel_check_lines") {
			cfg.Scanner.CancelCheckLines = s.CancelCheckLines
		}
		if sc.has("wait_timeout") {
			if cfg.Scanner.WaitTimeout, err = parseDuration("scanner.wait_timeout", s.WaitTimeout); err != nil {
				return nil, err
			}
		}
		if sc.has("stall_limit") {
			cfg.Scanner.StallLimit = s.StallLimit
		}
		if sc.has("slow_file_threshold") {
			if cfg.Scanner.SlowFileThreshold, err = parseDuration("scanner.slow_file_threshold", s.SlowFileThreshold); err != nil {
				return nil, err
			}
		}
		if sc.has("max_line_bytes") {
			cfg.Scanner.MaxLineBytes = s.MaxLineBytes
		}
	}

	if pc := raw.child("patterns"); pc != nil {
		p := yamlCfg.Patterns
		if pc.has("file") {
			cfg.Patterns.File = p.File
		}
		if pc.has("extended_syntax") {
			cfg.Patterns.ExtendedSyntax = p.ExtendedSyntax
		}
		if pc.has("match_timeout") {
			if cfg.Patterns.MatchTimeout, err = parseDuration("patterns.match_timeout", p.MatchTimeout); err != nil {
				return nil, err
			}
		}
	}

	if sn := raw.child("snapshot"); sn != nil {
		if sn.has("enabled") {
			cfg.Snapshot.Enabled = yamlCfg.Snapshot.Enabled
		}
		if sn.has("dir") {
			cfg.Snapshot.Dir = yamlCfg.Snapshot.Dir
		}
	}

	if hc := raw.child("history"); hc != nil {
		if hc.has("enabled") {
			cfg.History.Enabled = yamlCfg.History.Enabled
		}
		if hc.has("db_path") {
			// Explicitly set db_path, even if empty string
			cfg.History.DBPath = yamlCfg.History.DBPath
		}
	}

	if mc := raw.child("metrics"); mc != nil && mc.has("textfile") {
		cfg.Metrics.Textfile = yamlCfg.Metrics.Textfile
	}

	return cfg, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format %q: %w", key, value, err)
	}
	return d, nil
}

// LoadConfigFromDir loads configuration from .logscan/config.yaml in the specified directory
// If the directory or file doesn't exist, returns default configuration without error
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, ".logscan", "config.yaml"))
}

// Overrides carries command-line values; nil fields leave the config untouched.
type Overrides struct {
	LogLevel     *string
	LogDir       *string
	MaxWorkers   *int
	PatternsFile *string
	Snapshot     *bool
	History      *bool
	Textfile     *string
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
func (c *Config) MergeWithFlags(o Overrides) {
	if o.LogLevel != nil {
		c.LogLevel = *o.LogLevel
	}
	if o.LogDir != nil {
		c.LogDir = *o.LogDir
	}
	if o.MaxWorkers != nil {
		c.Scanner.MaxWorkers = *o.MaxWorkers
	}
	if o.PatternsFile != nil {
		c.Patterns.File = *o.PatternsFile
	}
	if o.Snapshot != nil {
		c.Snapshot.Enabled = *o.Snapshot
	}
	if o.History != nil {
		c.History.Enabled = *o.History
	}
	if o.Textfile != nil {
		c.Metrics.Textfile = *o.Textfile
	}
}

// NormalizedExtensions returns the configured extensions lowercased with a
// leading dot.
func (c *Config) NormalizedExtensions() []string {
	out := make([]string, 0, len(c.Scanner.Extensions))
	for _, ext := range c.Scanner.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	s := c.Scanner
	if s.MaxWorkers < 1 {
		return fmt.Errorf("scanner.max_workers must be > 0, got %d", s.MaxWorkers)
	}
	if s.WorkerMultiplier < 1 {
		return fmt.Errorf("scanner.worker_multiplier must be > 0, got %d", s.WorkerMultiplier)
	}
	if len(c.NormalizedExtensions()) == 0 {
		return fmt.Errorf("scanner.extensions cannot be empty")
	}
	if s.CancelCheckLines < 1 {
		return fmt.Errorf("scanner.cancel_check_lines must be > 0, got %d", s.CancelCheckLines)
	}
	if s.WaitTimeout <= 0 {
		return fmt.Errorf("scanner.wait_timeout must be > 0, got %v", s.WaitTimeout)
	}
	if s.StallLimit < 1 {
		return fmt.Errorf("scanner.stall_limit must be > 0, got %d", s.StallLimit)
	}
	if s.SlowFileThreshold < 0 {
		return fmt.Errorf("scanner.slow_file_threshold must be >= 0, got %v", s.SlowFileThreshold)
	}
	if s.MaxLineBytes < 1024 {
		return fmt.Errorf("scanner.max_line_bytes must be >= 1024, got %d", s.MaxLineBytes)
	}

	if c.Patterns.MatchTimeout < 0 {
		return fmt.Errorf("patterns.match_timeout must be >= 0, got %v", c.Patterns.MatchTimeout)
	}
	if c.Snapshot.Enabled && c.Snapshot.Dir == "" {
		return fmt.Errorf("snapshot.dir cannot be empty when snapshots are enabled")
	}
	if c.History.Enabled && c.History.DBPath == "" {
		return fmt.Errorf("history.db_path cannot be empty when history is enabled")
	}

	return nil
}
