// Package logtail reads bounded tails of log files for the HTTP API
// (spec.md §4.8's /api/logs/<host> and /api/restore-log/<name>) and for
// supervisor/scheduler log-tail reconciliation. It is a small, stdlib-only
// helper — no example repo imports a dedicated log-tailing library for this
// (hashicorp/go-tail-style following is a different, long-lived-watch
// problem; this is a one-shot bounded read), so a plain buffered forward
// scan that keeps only the last n lines is the appropriate choice here.
package logtail

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Tail returns the last n lines of the file at path. A missing file yields
// an empty string, not an error, since callers treat "no log yet" as a
// normal state.
func Tail(path string, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("logtail: failed to open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		lines = append(lines, sc.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("logtail: failed to read %s: %w", path, err)
	}
	return strings.Join(lines, "\n"), nil
}

// Entry describes one log file available under a log directory.
type Entry struct {
	Name    string
	ModTime int64 // unix seconds
	Size    int64
}

// ListForHost returns every log file under logDir whose name matches one of
// the hostname-scoped prefixes (job-<host>-, rsync-<host>-, restore-<host>-),
// newest first.
func ListForHost(logDir, hostname string) ([]Entry, error) {
	prefixes := []string{"job-" + hostname + "-", "rsync-" + hostname + "-", "restore-" + hostname + "-"}
	return listMatching(logDir, func(name string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(name, p) {
				return true
			}
		}
		return false
	})
}

// Newest returns the most recently modified entry in entries, or the zero
// Entry and false if entries is empty.
func Newest(entries []Entry) (Entry, bool) {
	if len(entries) == 0 {
		return Entry{}, false
	}
	newest := entries[0]
	for _, e := range entries[1:] {
		if e.ModTime > newest.ModTime {
			newest = e
		}
	}
	return newest, true
}

func listMatching(logDir string, match func(name string) bool) ([]Entry, error) {
	dirEntries, err := os.ReadDir(logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("logtail: failed to read log dir %s: %w", logDir, err)
	}

	var out []Entry
	for _, de := range dirEntries {
		if de.IsDir() || !match(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{Name: de.Name(), ModTime: info.ModTime().Unix(), Size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime > out[j].ModTime })
	return out, nil
}

// Path joins logDir and name, guarding against a name that would escape the
// directory (e.g. "../../etc/passwd") since the HTTP API exposes this to
// untrusted query input.
func Path(logDir, name string) (string, error) {
	clean := filepath.Clean(name)
	if clean != name || strings.Contains(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("logtail: invalid log name %q", name)
	}
	return filepath.Join(logDir, clean), nil
}
