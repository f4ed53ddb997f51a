package logtail

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailReturnsLastNLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.log")
	content := strings.Join([]string{"a", "b", "c", "d", "e"}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, err := Tail(path, 2)
	require.NoError(t, err)
	assert.Equal(t, "d\ne", got)
}

func TestTailMissingFileReturnsEmpty(t *testing.T) {
	got, err := Tail(filepath.Join(t.TempDir(), "nope.log"), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListForHostFiltersByPrefix(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"job-web1-20260101.log", "job-web2-20260101.log", "rsync-web1-20260101.log", "other.log"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	entries, err := ListForHost(dir, "web1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	names := []string{entries[0].Name, entries[1].Name}
	assert.Contains(t, names, "job-web1-20260101.log")
	assert.Contains(t, names, "rsync-web1-20260101.log")
}

func TestNewestPicksHighestModTime(t *testing.T) {
	entries := []Entry{
		{Name: "old", ModTime: 100},
		{Name: "new", ModTime: 200},
	}
	newest, ok := Newest(entries)
	require.True(t, ok)
	assert.Equal(t, "new", newest.Name)
}

func TestNewestEmptyReturnsFalse(t *testing.T) {
	_, ok := Newest(nil)
	assert.False(t, ok)
}

func TestPathRejectsTraversal(t *testing.T) {
	_, err := Path("/var/log/tmserviced", "../../etc/passwd")
	assert.Error(t, err)

	_, err = Path("/var/log/tmserviced", "/etc/passwd")
	assert.Error(t, err)

	got, err := Path("/var/log/tmserviced", "job-web1-20260101.log")
	require.NoError(t, err)
	assert.Equal(t, "/var/log/tmserviced/job-web1-20260101.log", got)
}

func TestListForHostMissingDirReturnsEmpty(t *testing.T) {
	entries, err := ListForHost(filepath.Join(t.TempDir(), "missing"), "web1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
