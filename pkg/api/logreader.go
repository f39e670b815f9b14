package api

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// logWholeReadLimit is the file size up to which a log is returned
	// whole. Larger files are tailed.
	logWholeReadLimit = 1 << 20

	// logTailLines is how many trailing lines a tailed log keeps.
	logTailLines = 1000
)

// readLogTail returns the contents of a job output file for display.
// Relative paths resolve against the job's work directory, the same
// resolution the supervisor applies when it opens the file for writing.
// A missing file reads as empty rather than an error: output paths are
// declared at submit time and may never be created when the job fails
// before launch.
func readLogTail(path, workDir string) string {
	if path == "" {
		return ""
	}
	if !filepath.IsAbs(path) && workDir != "" {
		path = filepath.Join(workDir, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return ""
	}

	if info.Size() <= logWholeReadLimit {
		data, err := os.ReadFile(path)
		if err != nil {
			return ""
		}
		return string(data)
	}

	return tailLines(path, logTailLines)
}

// tailLines scans a large file once and keeps the final n lines in a
// ring, prefixed with a truncation marker.
func tailLines(path string, n int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	ring := make([]string, n)
	count := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		ring[count%n] = scanner.Text()
		count++
	}
	if err := scanner.Err(); err != nil {
		return ""
	}

	kept := count
	if kept > n {
		kept = n
	}
	start := 0
	if count > n {
		start = count % n
	}

	var b strings.Builder
	fmt.Fprintf(&b, "... (truncated, showing last %d lines)\n", kept)
	for i := 0; i < kept; i++ {
		b.WriteString(ring[(start+i)%n])
		b.WriteByte('\n')
	}
	return b.String()
}
