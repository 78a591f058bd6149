package fileutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTree(t *testing.T, files ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range files {
		path := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte("x\n"), 0644))
	}
	return root
}

func rel(t *testing.T, root string, files []string) []string {
	t.Helper()
	absRoot, err := filepath.Abs(root)
	require.NoError(t, err)
	out := make([]string, 0, len(files))
	for _, f := range files {
		r, err := filepath.Rel(absRoot, f)
		require.NoError(t, err)
		out = append(out, filepath.ToSlash(r))
	}
	return out
}

func TestScanDirectory(t *testing.T) {
	root := makeTree(t,
		"a.log",
		"B.TXT",
		"c.Out",
		"notes.md",
		"sub/d.log",
		"sub/deeper/e.txt",
		".hidden/f.log",
		"skip/g.log",
	)

	tests := []struct {
		name string
		opts ScanOptions
		want []string
	}{
		{
			name: "whole tree including hidden dirs",
			opts: ScanOptions{Extensions: []string{".log", ".txt", ".out"}},
			want: []string{".hidden/f.log", "B.TXT", "a.log", "c.Out", "skip/g.log", "sub/d.log", "sub/deeper/e.txt"},
		},
		{
			name: "extension without dot",
			opts: ScanOptions{Extensions: []string{"log", " "}},
			want: []string{".hidden/f.log", "a.log", "skip/g.log", "sub/d.log"},
		},
		{
			name: "excluded dirs",
			opts: ScanOptions{Extensions: []string{".log", ".txt"}, ExcludeDirs: []string{"skip", "deeper"}},
			want: []string{".hidden/f.log", "B.TXT", "a.log", "sub/d.log"},
		},
		{
			name: "no extension filter",
			opts: ScanOptions{ExcludeDirs: []string{".hidden", "skip", "sub"}},
			want: []string{"B.TXT", "a.log", "c.Out", "notes.md"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ScanDirectory(root, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rel(t, root, result.Files))
			assert.Empty(t, result.Errors)
		})
	}
}

func TestScanDirectoryRelativeRootGivesAbsolutePaths(t *testing.T) {
	root := makeTree(t, "x.log")
	t.Chdir(root)

	result, err := ScanDirectory(".", ScanOptions{Extensions: []string{".log"}})
	require.NoError(t, err)
	require.Len(t, result.Files, 1)
	assert.True(t, filepath.IsAbs(result.Files[0]))
	assert.Equal(t, "x.log", filepath.Base(result.Files[0]))
}

func TestScanDirectoryExcludedRootIsStillScanned(t *testing.T) {
	root := makeTree(t, "logs/a.log")
	result, err := ScanDirectory(filepath.Join(root, "logs"), ScanOptions{ExcludeDirs: []string{"logs"}})
	require.NoError(t, err)
	assert.Len(t, result.Files, 1)
}

func TestScanDirectoryRootErrors(t *testing.T) {
	_, err := ScanDirectory(filepath.Join(t.TempDir(), "missing"), ScanOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	root := makeTree(t, "a.log")
	_, err = ScanDirectory(filepath.Join(root, "a.log"), ScanOptions{})
	require.ErrorIs(t, err, ErrNotDirectory)
}

func TestIsNetworkPath(t *testing.T) {
	assert.True(t, IsNetworkPath(`\\server\share\a.log`))
	assert.True(t, IsNetworkPath("//server/share/a.log"))
	assert.False(t, IsNetworkPath("/var/log/a.log"))
	assert.False(t, IsNetworkPath(`C:\logs\a.log`))
}
