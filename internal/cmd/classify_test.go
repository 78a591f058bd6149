package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/logscan/internal/models"
)

func TestClassifyFile(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(env.dir, "switch-9.log")
	require.NoError(t, os.WriteFile(path, []byte("fine\nNo route to host 10.0.0.1\n"), 0644))

	stdout, _, err := env.run(t, "classify", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "switch-9")
	assert.Contains(t, stdout, "NO_ROUTE")
	assert.Contains(t, stdout, "1 anomalies")
}

func TestClassifyStdinJSON(t *testing.T) {
	env := newTestEnv(t)
	var stdout bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader("ok\r\nCPU:3 WARNING at foo\n\nHardware error\n"))
	cmd.SetArgs([]string{"--config", env.configPath, "classify", "--format", "json", "-"})
	require.NoError(t, cmd.Execute())

	var matches []models.Match
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &matches))
	require.Len(t, matches, 2)
	assert.Equal(t, 2, matches[0].LineNumber)
	assert.Equal(t, "CPU_WARNING", matches[0].Category)
	assert.Equal(t, 4, matches[1].LineNumber)
}

func TestClassifyNoMatchesAndErrors(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(env.dir, "quiet.log")
	require.NoError(t, os.WriteFile(path, []byte("nothing here\n"), 0644))

	stdout, _, err := env.run(t, "classify", path)
	require.NoError(t, err)
	assert.Equal(t, "No anomalies found.\n", stdout)

	_, _, err = env.run(t, "classify", filepath.Join(env.dir, "absent.log"))
	require.Error(t, err)

	_, _, err = env.run(t, "classify", "--format", "html", path)
	require.Error(t, err)
}

func TestFormatFollowMatch(t *testing.T) {
	m := models.Match{
		LineNumber: 7,
		Line:       "Link is down",
		Category:   "INTERFACE_DOWN",
		Device:     "ap-01",
		DetectedAt: time.Date(2026, 1, 1, 9, 8, 7, 0, time.Local),
	}
	assert.Equal(t, "[09:08:07] INTERFACE_DOWN ap-01:7 Link is down", formatFollowMatch(m))
}
