package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanTextReport(t *testing.T) {
	env := newTestEnv(t)
	root := env.logDir(t)

	stdout, stderr, err := env.run(t, "scan", root)
	require.NoError(t, err, stderr)

	assert.Contains(t, stdout, "Analysis complete. Found 3 anomalies in 3/3 files.")
	assert.Contains(t, stdout, "INTERFACE_DOWN")
	assert.Contains(t, stdout, "KERNEL_PANIC")
	assert.Contains(t, stderr, "Using 45 patterns (45 default + 0 custom)")

	snapshots, err := filepath.Glob(filepath.Join(env.snapshots, "offline_anomalies_*.json"))
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)
	_, err = os.Stat(env.history)
	require.NoError(t, err)

	runLogs, err := filepath.Glob(filepath.Join(env.dir, "logs", "run-*.log"))
	require.NoError(t, err)
	assert.NotEmpty(t, runLogs)
}

func TestScanJSONToFileWithMetrics(t *testing.T) {
	env := newTestEnv(t)
	root := env.logDir(t)
	out := filepath.Join(env.dir, "report.json")
	prom := filepath.Join(env.dir, "logscan.prom")

	stdout, stderr, err := env.run(t, "scan", "--no-history", "--no-snapshot", "--format", "json",
		"--output", out, "--metrics-textfile", prom, "--workers", "2", root)
	require.NoError(t, err, stderr)
	assert.Contains(t, stdout, "Report written to "+out)
	assert.Contains(t, stdout, "Saved: not saved")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var decoded struct {
		Summary struct {
			Anomalies int            `json:"anomalies"`
			Counts    map[string]int `json:"category_counts"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 3, decoded.Summary.Anomalies)
	assert.Equal(t, 2, decoded.Summary.Counts["INTERFACE_DOWN"])

	_, err = os.Stat(env.history)
	assert.True(t, os.IsNotExist(err))

	metrics, err := os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `logscan_matches_total{category="KERNEL_PANIC"} 1`)
}

func TestScanUsesCustomPatterns(t *testing.T) {
	env := newTestEnv(t)
	root := env.logDir(t)

	_, _, err := env.run(t, "patterns", "add", "all quiet", "SUSPICIOUS_SILENCE")
	require.NoError(t, err)

	stdout, stderr, err := env.run(t, "scan", "--no-history", "--no-snapshot", root)
	require.NoError(t, err)
	assert.Contains(t, stdout, "SUSPICIOUS_SILENCE")
	assert.Contains(t, stderr, "(45 default + 1 custom)")
}

func TestScanErrors(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.run(t, "scan", filepath.Join(env.dir, "missing"))
	require.Error(t, err)

	empty := filepath.Join(env.dir, "empty")
	require.NoError(t, os.MkdirAll(empty, 0755))
	_, _, err = env.run(t, "scan", empty)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no log files")

	_, _, err = env.run(t, "scan", "--format", "pdf", empty)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown format"))
}
