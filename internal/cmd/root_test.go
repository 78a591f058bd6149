package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv is an isolated workspace with a config that keeps every artifact
// inside a temp dir.
type testEnv struct {
	dir        string
	configPath string
	patterns   string
	history    string
	snapshots  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "config.yaml"),
		patterns:   filepath.Join(dir, "patterns.yaml"),
		history:    filepath.Join(dir, "history.db"),
		snapshots:  filepath.Join(dir, "snapshots"),
	}
	cfg := fmt.Sprintf(`log_level: info
log_dir: %q
patterns:
  file: %q
snapshot:
  enabled: true
  dir: %q
history:
  enabled: true
  db_path: %q
`, filepath.Join(dir, "logs"), env.patterns, env.snapshots, env.history)
	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0644))
	return env
}

// run executes the root command with --config prepended.
func (e *testEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// logDir writes a small folder of device logs and returns its path.
func (e *testEnv) logDir(t *testing.T) string {
	t.Helper()
	root := filepath.Join(e.dir, "devices")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "nested"), 0755))
	files := map[string]string{
		"ap-01.log":        "boot ok\nKernel panic - not syncing\n",
		"ap-02.LOG":        "Link is down\nnormal\nLink is down\n",
		"nested/ap-03.txt": "all quiet\n",
		"notes.md":         "Kernel panic in docs does not count\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0644))
	}
	return root
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, buf.String(), "logscan")
	assert.Contains(t, buf.String(), "pattern")
}

func TestRootCommandHasSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "logscan", cmd.Use)

	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"scan", "classify", "patterns", "history", "follow", "schedule"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestVersionFlag(t *testing.T) {
	cmd := NewRootCommand()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), Version)
}

func TestConfigFromLogscanHome(t *testing.T) {
	home := t.TempDir()
	patterns := filepath.Join(home, "custom.json")
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte(fmt.Sprintf("patterns:\n  file: %q\n", patterns)), 0644))
	t.Setenv("LOGSCAN_HOME", home)

	var stdout bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"patterns", "add", "disk full", "DISK"})
	require.NoError(t, cmd.Execute())

	_, err := os.Stat(patterns)
	require.NoError(t, err)
}
