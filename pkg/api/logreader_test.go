package api

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLogTailMissingFile(t *testing.T) {
	assert.Empty(t, readLogTail("/nonexistent/path/out.log", ""))
	assert.Empty(t, readLogTail("", "/tmp"))
}

func TestReadLogTailResolvesRelativePath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out.log"), []byte("hello\n"), 0o644))

	assert.Equal(t, "hello\n", readLogTail("out.log", dir))
	assert.Empty(t, readLogTail("out.log", ""), "relative path without a work dir cannot resolve")
}

func TestReadLogTailSmallFileWhole(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "small.log")
	content := "line one\nline two\nline three\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	assert.Equal(t, content, readLogTail(path, ""))
}

func TestReadLogTailLargeFileTruncates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "large.log")

	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < 40000; i++ {
		// ~44 bytes per line, ~1.7 MB total
		fmt.Fprintf(f, "line %05d %s\n", i, strings.Repeat("x", 32))
	}
	require.NoError(t, f.Close())

	got := readLogTail(path, "")
	assert.True(t, strings.HasPrefix(got, "... (truncated, showing last 1000 lines)\n"))
	assert.Contains(t, got, "line 39999")
	assert.Contains(t, got, "line 39000")
	assert.NotContains(t, got, "line 38999")
	assert.NotContains(t, got, "line 00000")
}
