package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// TestDefaultConfig verifies default configuration values
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ".logscan/logs", cfg.LogDir)
	assert.Equal(t, 16, cfg.Scanner.MaxWorkers)
	assert.Equal(t, 3, cfg.Scanner.WorkerMultiplier)
	assert.Equal(t, []string{".log", ".txt", ".out"}, cfg.Scanner.Extensions)
	assert.Equal(t, 4096, cfg.Scanner.CancelCheckLines)
	assert.Equal(t, 60*time.Second, cfg.Scanner.WaitTimeout)
	assert.Equal(t, 5*time.Second, cfg.Scanner.SlowFileThreshold)
	assert.True(t, cfg.Patterns.ExtendedSyntax)
	assert.True(t, cfg.Snapshot.Enabled)
	assert.Equal(t, "logs", cfg.Snapshot.Dir)
	assert.True(t, cfg.History.Enabled)
	assert.Empty(t, cfg.Metrics.Textfile)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigValidFile(t *testing.T) {
	path := writeConfig(t, `log_level: debug
log_dir: /tmp/logs
scanner:
  max_workers: 4
  extensions: [".LOG", "txt"]
  exclude_dirs: [archive]
  wait_timeout: 5s
  stall_limit: 2
  slow_file_threshold: 250ms
patterns:
  file: custom.toml
  extended_syntax: false
  match_timeout: 100ms
snapshot:
  enabled: false
history:
  db_path: ""
metrics:
  textfile: /var/lib/node_exporter/logscan.prom
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/tmp/logs", cfg.LogDir)
	assert.Equal(t, 4, cfg.Scanner.MaxWorkers)
	assert.Equal(t, 3, cfg.Scanner.WorkerMultiplier, "unset keys keep defaults")
	assert.Equal(t, []string{".log", ".txt"}, cfg.NormalizedExtensions())
	assert.Equal(t, 5*time.Second, cfg.Scanner.WaitTimeout)
	assert.Equal(t, []string{"archive"}, cfg.Scanner.ExcludeDirs)
	assert.Equal(t, 2, cfg.Scanner.StallLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.Scanner.SlowFileThreshold)
	assert.Equal(t, "custom.toml", cfg.Patterns.File)
	assert.False(t, cfg.Patterns.ExtendedSyntax)
	assert.Equal(t, 100*time.Millisecond, cfg.Patterns.MatchTimeout)
	assert.False(t, cfg.Snapshot.Enabled)
	assert.Equal(t, "logs", cfg.Snapshot.Dir)
	assert.True(t, cfg.History.Enabled)
	assert.Empty(t, cfg.History.DBPath, "explicit empty db_path is honored")
	assert.Equal(t, "/var/lib/node_exporter/logscan.prom", cfg.Metrics.Textfile)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history.db_path")
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"malformed yaml", "scanner: [unclosed", "failed to parse config file"},
		{"bad wait timeout", "scanner:\n  wait_timeout: soon\n", "scanner.wait_timeout"},
		{"bad match timeout", "patterns:\n  match_timeout: 1 sec\n", "patterns.match_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfigFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".logscan"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".logscan", "config.yaml"), []byte("log_level: warn\n"), 0644))

	cfg, err := LoadConfigFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestMergeWithFlags(t *testing.T) {
	cfg := DefaultConfig()
	workers := 2
	snapshot := false
	level := "error"

	cfg.MergeWithFlags(Overrides{MaxWorkers: &workers, Snapshot: &snapshot, LogLevel: &level})

	assert.Equal(t, 2, cfg.Scanner.MaxWorkers)
	assert.False(t, cfg.Snapshot.Enabled)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.True(t, cfg.History.Enabled, "nil overrides leave values untouched")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown level", func(c *Config) { c.LogLevel = "loud" }, "invalid log_level"},
		{"negative workers", func(c *Config) { c.Scanner.MaxWorkers = -1 }, "scanner.max_workers"},
		{"zero multiplier", func(c *Config) { c.Scanner.WorkerMultiplier = 0 }, "scanner.worker_multiplier"},
		{"empty extensions", func(c *Config) { c.Scanner.Extensions = []string{" "} }, "scanner.extensions"},
		{"zero wait", func(c *Config) { c.Scanner.WaitTimeout = 0 }, "scanner.wait_timeout"},
		{"zero stall limit", func(c *Config) { c.Scanner.StallLimit = 0 }, "scanner.stall_limit"},
		{"tiny lines", func(c *Config) { c.Scanner.MaxLineBytes = 10 }, "scanner.max_line_bytes"},
		{"snapshot without dir", func(c *Config) { c.Snapshot.Dir = "" }, "snapshot.dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGetLogscanHome(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "home")
	t.Setenv("LOGSCAN_HOME", dir)

	home, err := GetLogscanHome()
	require.NoError(t, err)
	assert.Equal(t, dir, home)
	assert.DirExists(t, dir)
}
