package transport

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMkdirAll(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0o755))
}

func TestIsSnapshotDir(t *testing.T) {
	assert.True(t, IsSnapshotDir("2026-02-08"))
	assert.True(t, IsSnapshotDir("2026-02-08_140000"))
	assert.True(t, IsSnapshotDir("daily.2026-02-08"))
	assert.False(t, IsSnapshotDir("latest"))
	assert.False(t, IsSnapshotDir("files"))
}

func TestSnapshotDateKeyConflatesDailyAndTimestamped(t *testing.T) {
	assert.Equal(t, "2026-02-08", snapshotDateKey("2026-02-08"))
	assert.Equal(t, "2026-02-08", snapshotDateKey("2026-02-08_140000"))
	assert.Equal(t, "2026-02-08", snapshotDateKey("daily.2026-02-08"))
}

func TestTodaysMostRecentSnapshotPicksLatestTimestamp(t *testing.T) {
	root := t.TempDir()
	mustMkdirAll(t, filepath.Join(root, "2026-02-08"))
	mustMkdirAll(t, filepath.Join(root, "2026-02-08_090000"))
	mustMkdirAll(t, filepath.Join(root, "2026-02-08_153000"))
	mustMkdirAll(t, filepath.Join(root, "2026-02-07"))

	now := time.Date(2026, 2, 8, 20, 0, 0, 0, time.UTC)
	got, err := TodaysMostRecentSnapshot(root, now)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-08_153000", got)
}

func TestTodaysMostRecentSnapshotNoneYet(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 2, 8, 20, 0, 0, 0, time.UTC)
	got, err := TodaysMostRecentSnapshot(root, now)
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestUniqueDateCountTreatsSameDayAsOneVersion(t *testing.T) {
	root := t.TempDir()
	mustMkdirAll(t, filepath.Join(root, "2026-02-08"))
	mustMkdirAll(t, filepath.Join(root, "2026-02-08_090000"))
	mustMkdirAll(t, filepath.Join(root, "2026-02-07"))

	n, err := UniqueDateCount(root)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestResolveSQLSyncTargetReusesRunSnapshotID(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 2, 8, 20, 0, 0, 0, time.UTC)

	target, err := ResolveSQLSyncTarget(root, "2026-02-08_090000", now)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-08_090000", target.SnapshotID)
	assert.Equal(t, "sql", target.SQLSubdir)
}

func TestResolveSQLSyncTargetReusesTodaysMostRecentWhenNoRunID(t *testing.T) {
	root := t.TempDir()
	mustMkdirAll(t, filepath.Join(root, "2026-02-08"))
	now := time.Date(2026, 2, 8, 20, 0, 0, 0, time.UTC)

	target, err := ResolveSQLSyncTarget(root, "", now)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-08", target.SnapshotID)
	assert.Equal(t, "sql", target.SQLSubdir)
}

func TestResolveSQLSyncTargetAllocatesFreshWhenNoneExists(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 2, 8, 20, 0, 0, 0, time.UTC)

	target, err := ResolveSQLSyncTarget(root, "", now)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-08", target.SnapshotID)
}

func TestResolveSQLSyncTargetUsesTimestampedSubdirWhenSQLPopulated(t *testing.T) {
	root := t.TempDir()
	sqlDir := filepath.Join(root, "2026-02-08", "sql")
	mustMkdirAll(t, sqlDir)
	require.NoError(t, os.WriteFile(filepath.Join(sqlDir, "db1.sql.gz"), []byte("x"), 0o644))

	now := time.Date(2026, 2, 8, 15, 30, 45, 0, time.UTC)
	target, err := ResolveSQLSyncTarget(root, "2026-02-08", now)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-08", target.SnapshotID)
	assert.Equal(t, filepath.Join("sql", "153045"), target.SQLSubdir)
}

func TestRotateDeletesOnlyBeforeCutoff(t *testing.T) {
	root := t.TempDir()
	mustMkdirAll(t, filepath.Join(root, "2026-01-01"))
	mustMkdirAll(t, filepath.Join(root, "2026-01-05"))
	mustMkdirAll(t, filepath.Join(root, "2026-01-20"))
	mustMkdirAll(t, filepath.Join(root, "2026-01-20_090000"))

	now := time.Date(2026, 1, 25, 0, 0, 0, 0, time.UTC)
	removed, err := Rotate(root, 10, now) // cutoff = 2026-01-15
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"2026-01-01", "2026-01-05"}, removed)

	remaining, err := ListSnapshotDirs(root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"2026-01-20", "2026-01-20_090000"}, remaining)
}

func TestRotateHandlesLegacyDailyPrefixedNames(t *testing.T) {
	root := t.TempDir()
	mustMkdirAll(t, filepath.Join(root, "daily.2026-01-01"))
	mustMkdirAll(t, filepath.Join(root, "daily.2026-01-20"))

	now := time.Date(2026, 1, 25, 0, 0, 0, 0, time.UTC)
	removed, err := Rotate(root, 10, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"daily.2026-01-01"}, removed)
}

func TestRotateCleansStaleLegacySymlink(t *testing.T) {
	root := t.TempDir()
	mustMkdirAll(t, filepath.Join(root, "2026-01-20"))
	stale := filepath.Join(root, "daily.current")
	require.NoError(t, os.Symlink(filepath.Join(root, "2026-01-01"), stale))

	now := time.Date(2026, 1, 25, 0, 0, 0, 0, time.UTC)
	_, err := Rotate(root, 10, now)
	require.NoError(t, err)

	_, err = os.Lstat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestNoSnapshotBeforeCutoffSurvivesRotation(t *testing.T) {
	root := t.TempDir()
	dates := []string{"2026-01-01", "2026-01-10", "2026-01-14", "2026-01-15", "2026-01-16", "2026-01-25"}
	for _, d := range dates {
		mustMkdirAll(t, filepath.Join(root, d))
	}

	now := time.Date(2026, 1, 25, 0, 0, 0, 0, time.UTC)
	retention := 10
	cutoff := now.AddDate(0, 0, -retention).Format("2006-01-02")

	_, err := Rotate(root, retention, now)
	require.NoError(t, err)

	remaining, err := ListSnapshotDirs(root)
	require.NoError(t, err)
	for _, d := range remaining {
		assert.GreaterOrEqual(t, snapshotDateKey(d), cutoff)
	}
}

func TestDirSizeSumsFileBytes(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "a", "b")
	mustMkdirAll(t, sub)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f1"), make([]byte, 100), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "f2"), make([]byte, 250), 0o644))

	size, err := DirSize(root)
	require.NoError(t, err)
	assert.Equal(t, int64(350), size)
}
