package roster

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSerializeRoundTrip(t *testing.T) {
	cases := []string{
		"db1.example.com --priority 1 --db-interval 4h",
		"web1.example.com --priority 5 --files-only",
		"dev1.example.com --priority 20 --no-rotate --notify ops@example.com --notify-ok",
		"plain.example.com",
		"legacy.example.com --weird-flag value",
	}
	for _, line := range cases {
		e, err := Parse(line)
		require.NoError(t, err)
		assert.Equal(t, line, e.Serialize())

		e2, err := Parse(e.Serialize())
		require.NoError(t, err)
		assert.Equal(t, e, e2)
	}
}

func TestParseDefaults(t *testing.T) {
	e, err := Parse("host.example.com")
	require.NoError(t, err)
	assert.Equal(t, 10, e.Priority)
	assert.Equal(t, ModeFull, e.Mode)
	assert.True(t, e.Rotate)
	assert.Equal(t, 0, e.DBIntervalHours)
}

func TestParseInvalidPriority(t *testing.T) {
	_, err := Parse("host.example.com --priority 0")
	assert.Error(t, err)
	_, err = Parse("host.example.com --priority 1000")
	assert.Error(t, err)
	_, err = Parse("host.example.com --priority notanumber")
	assert.Error(t, err)
}

func TestAppendConflict(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roster")

	e1, _ := Parse("db1.example.com --priority 1")
	require.NoError(t, Append(path, e1))

	e2, _ := Parse("db1.example.com --priority 2")
	err := Append(path, e2)
	assert.ErrorIs(t, err, ErrConflict)

	r, err := Read(path)
	require.NoError(t, err)
	require.Len(t, r.Entries, 1)
	assert.Equal(t, 1, r.Entries[0].Priority)
}

func TestUpdateNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roster")
	e, _ := Parse("ghost.example.com")
	err := Update(path, e)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roster")
	err := Remove(path, "ghost.example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNoDuplicateHostnamesAcrossMutations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roster")

	hosts := []string{"a.example.com", "b.example.com", "c.example.com"}
	for _, h := range hosts {
		e, _ := Parse(h)
		require.NoError(t, Append(path, e))
	}

	// Attempting to re-add any existing host must fail and not duplicate.
	for _, h := range hosts {
		e, _ := Parse(h)
		err := Append(path, e)
		assert.ErrorIs(t, err, ErrConflict)
	}

	r, err := Read(path)
	require.NoError(t, err)
	seen := map[string]int{}
	for _, e := range r.Entries {
		seen[e.Hostname]++
	}
	for _, h := range hosts {
		assert.Equal(t, 1, seen[h])
	}
}

func TestArchiveUnarchive(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, "roster")
	archived := filepath.Join(dir, "roster.archive")

	e, _ := Parse("old.example.com --priority 50")
	require.NoError(t, Append(active, e))

	require.NoError(t, Archive(active, archived, "old.example.com"))
	_, err := Get(active, "old.example.com")
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := Get(archived, "old.example.com")
	require.NoError(t, err)
	assert.Equal(t, 50, got.Priority)

	require.NoError(t, Unarchive(active, archived, "old.example.com"))
	_, err = Get(archived, "old.example.com")
	assert.ErrorIs(t, err, ErrNotFound)
	got, err = Get(active, "old.example.com")
	require.NoError(t, err)
	assert.Equal(t, 50, got.Priority)
}

func TestUnarchiveNotFoundNoSideEffects(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, "roster")
	archived := filepath.Join(dir, "roster.archive")

	err := Unarchive(active, archived, "ghost.example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	r, err := Read(active)
	require.NoError(t, err)
	assert.Empty(t, r.Entries)
}

func TestSortedByPriority(t *testing.T) {
	db1, _ := Parse("db1 --priority 1")
	web1, _ := Parse("web1 --priority 5")
	dev1, _ := Parse("dev1 --priority 20")

	sorted := SortedByPriority([]Entry{dev1, db1, web1})
	require.Len(t, sorted, 3)
	assert.Equal(t, "db1", sorted[0].Hostname)
	assert.Equal(t, "web1", sorted[1].Hostname)
	assert.Equal(t, "dev1", sorted[2].Hostname)
}

func TestCombinedExcludesOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteExcludeFile(GlobalExcludePath(dir), "*.tmp\n*.log\n"))
	require.NoError(t, WriteExcludeFile(HostExcludePath(dir, "web1"), "/var/cache/**\n"))

	combined, err := CombinedExcludes(dir, "web1")
	require.NoError(t, err)
	assert.Equal(t, []string{"*.tmp", "*.log", "/var/cache/**"}, combined)
}
