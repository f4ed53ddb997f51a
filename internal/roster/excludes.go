package roster

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadExcludeFile returns the ordered list of non-blank lines in path; lines
// starting with "#" are returned like any other. A missing file yields an empty list (read-only to the core,
// mutated only via the API — spec.md §4.1).
func ReadExcludeFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("roster: failed to open excludes %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}

// WriteExcludeFile overwrites path with content, write-temp-then-rename.
func WriteExcludeFile(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("roster: failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".excludes-*")
	if err != nil {
		return fmt.Errorf("roster: failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("roster: failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// GlobalExcludePath and HostExcludePath compute the conventional exclude
// file locations under a run directory's "excludes" subdirectory.
func GlobalExcludePath(runDir string) string {
	return filepath.Join(runDir, "excludes", "global")
}

func HostExcludePath(runDir, hostname string) string {
	return filepath.Join(runDir, "excludes", hostname)
}

// CombinedExcludes concatenates the global list followed by the host-specific
// list, in that order, per spec.md §4.1/§4.3.
func CombinedExcludes(runDir, hostname string) ([]string, error) {
	global, err := ReadExcludeFile(GlobalExcludePath(runDir))
	if err != nil {
		return nil, err
	}
	host, err := ReadExcludeFile(HostExcludePath(runDir, hostname))
	if err != nil {
		return nil, err
	}
	return append(global, host...), nil
}
