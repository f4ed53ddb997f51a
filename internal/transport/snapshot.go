package transport

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// dailyIDPattern and timestampedIDPattern recognize the two snapshot id
// naming forms documented in spec.md §6.
var (
	dailyIDPattern       = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timestampedIDPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}_\d{6}$`)
	legacyIDPattern      = regexp.MustCompile(`^daily\.\d{4}-\d{2}-\d{2}$`)
)

// IsSnapshotDir reports whether name is a valid snapshot directory name in
// either naming form, including the legacy "daily.YYYY-MM-DD" form
// (spec.md §4.3: "Also handles a legacy daily.YYYY-MM-DD naming").
func IsSnapshotDir(name string) bool {
	return dailyIDPattern.MatchString(name) || timestampedIDPattern.MatchString(name) || legacyIDPattern.MatchString(name)
}

// snapshotDateKey returns the canonical date key for a snapshot directory
// name: its first ten characters once any "daily." legacy prefix is
// stripped. Both rotation (deletion cutoff) and history/version counting
// call this single function, so the conflation documented in spec.md §9
// ("current behavior counts them as one version but rotates them together")
// applies uniformly in both places by construction — this is a deliberate,
// preserved behavior, not an oversight; see DESIGN.md.
func snapshotDateKey(name string) string {
	name = strings.TrimPrefix(name, "daily.")
	if len(name) < 10 {
		return name
	}
	return name[:10]
}

// TodaySnapshotID returns "YYYY-MM-DD" for now.
func TodaySnapshotID(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// TimestampedSnapshotID returns "YYYY-MM-DD_HHMMSS" for now, used when a
// second snapshot is needed on the same day (disambiguation, spec.md §6).
func TimestampedSnapshotID(now time.Time) string {
	return now.UTC().Format("2006-01-02_150405")
}

// ListSnapshotDirs returns the snapshot directory names directly under
// hostRoot, in any order.
func ListSnapshotDirs(hostRoot string) ([]string, error) {
	entries, err := os.ReadDir(hostRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("transport: failed to list %s: %w", hostRoot, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && IsSnapshotDir(e.Name()) {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// TodaysMostRecentSnapshot returns the snapshot directory name for today
// with the latest disambiguating timestamp, or "" if none exists yet.
// Used by SQL-only syncs that run after the daily full to avoid inflating
// the version count (spec.md §4.3).
func TodaysMostRecentSnapshot(hostRoot string, now time.Time) (string, error) {
	dirs, err := ListSnapshotDirs(hostRoot)
	if err != nil {
		return "", err
	}
	today := TodaySnapshotID(now)
	var best string
	for _, d := range dirs {
		if snapshotDateKey(d) != today {
			continue
		}
		if best == "" || d > best {
			best = d
		}
	}
	return best, nil
}

// UniqueDateCount returns the number of distinct canonical date keys among
// hostRoot's snapshot directories — "snapshot count (unique dates, not
// directories)" per spec.md §4.5's summary phase.
func UniqueDateCount(hostRoot string) (int, error) {
	dirs, err := ListSnapshotDirs(hostRoot)
	if err != nil {
		return 0, err
	}
	dates := map[string]bool{}
	for _, d := range dirs {
		dates[snapshotDateKey(d)] = true
	}
	return len(dates), nil
}

// SQLSyncTarget decides which snapshot id and sql/ subpath an SQL-only sync
// should write into, per spec.md §4.3's placement rules:
//  1. reuse runSnapshotID if this call follows a file sync in the same run
//  2. otherwise reuse today's most recent snapshot, if any
//  3. otherwise allocate a fresh snapshot id
//
// If the chosen snapshot already has a populated sql/, the returned
// subdirectory is "sql/<HHMMSS>/" instead of "sql/".
type SQLSyncTarget struct {
	SnapshotID string
	SQLSubdir  string // "sql" or "sql/150405"
}

func ResolveSQLSyncTarget(hostRoot, runSnapshotID string, now time.Time) (SQLSyncTarget, error) {
	snapshotID := runSnapshotID
	if snapshotID == "" {
		existing, err := TodaysMostRecentSnapshot(hostRoot, now)
		if err != nil {
			return SQLSyncTarget{}, err
		}
		if existing != "" {
			snapshotID = existing
		} else {
			snapshotID = TodaySnapshotID(now)
		}
	}

	sqlDir := filepath.Join(hostRoot, snapshotID, "sql")
	populated, err := dirHasEntries(sqlDir)
	if err != nil {
		return SQLSyncTarget{}, err
	}

	if !populated {
		return SQLSyncTarget{SnapshotID: snapshotID, SQLSubdir: "sql"}, nil
	}
	return SQLSyncTarget{
		SnapshotID: snapshotID,
		SQLSubdir:  filepath.Join("sql", now.UTC().Format("150405")),
	}, nil
}

func dirHasEntries(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("transport: failed to stat %s: %w", dir, err)
	}
	return len(entries) > 0, nil
}

// Rotate deletes every snapshot directory under hostRoot whose canonical
// date key is strictly less than today-retentionDays, and cleans any stale
// legacy "daily.YYYY-MM-DD" symbolic reference pointing at a now-deleted
// directory (spec.md §4.3).
func Rotate(hostRoot string, retentionDays int, now time.Time) ([]string, error) {
	cutoff := now.UTC().AddDate(0, 0, -retentionDays).Format("2006-01-02")

	dirs, err := ListSnapshotDirs(hostRoot)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, d := range dirs {
		if snapshotDateKey(d) < cutoff {
			full := filepath.Join(hostRoot, d)
			if err := os.RemoveAll(full); err != nil {
				return removed, fmt.Errorf("transport: failed to remove %s: %w", full, err)
			}
			removed = append(removed, d)
		}
	}

	if err := cleanStaleLegacyLinks(hostRoot); err != nil {
		return removed, err
	}

	sort.Strings(removed)
	return removed, nil
}

// cleanStaleLegacyLinks removes any symlink directly under hostRoot whose
// target no longer exists (e.g. a legacy "daily.current" pointer left
// dangling by rotation).
func cleanStaleLegacyLinks(hostRoot string) error {
	entries, err := os.ReadDir(hostRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("transport: failed to list %s: %w", hostRoot, err)
	}
	for _, e := range entries {
		if e.Type()&os.ModeSymlink == 0 {
			continue
		}
		full := filepath.Join(hostRoot, e.Name())
		if _, err := os.Stat(full); err != nil && os.IsNotExist(err) {
			os.Remove(full)
		}
	}
	return nil
}

// DirSize walks dir and sums file sizes, used by the HTTP API's snapshot
// listing and history.
func DirSize(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("transport: failed to size %s: %w", dir, err)
	}
	return total, nil
}
