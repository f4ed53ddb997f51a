package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmbackup/tmserviced/internal/dbdump"
)

type recordingNotifier struct {
	events []Event
}

func (n *recordingNotifier) Notify(ctx context.Context, ev Event) error {
	n.events = append(n.events, ev)
	return nil
}

func TestAcquireLockConflict(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(lockPath(dir, "web1"), []byte(osGetpidString()), 0o644))

	err := acquireLock(dir, "web1")
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestAcquireLockCleansUpStalePID(t *testing.T) {
	dir := t.TempDir()
	// PID 999999 is extremely unlikely to be alive in any test environment.
	require.NoError(t, os.WriteFile(lockPath(dir, "web1"), []byte("999999"), 0o644))

	err := acquireLock(dir, "web1")
	require.NoError(t, err)

	_, err = os.Stat(lockPath(dir, "web1"))
	assert.NoError(t, err)
	releaseLock(dir, "web1")
}

func TestReleaseLockRemovesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, acquireLock(dir, "web1"))
	releaseLock(dir, "web1")

	_, err := os.Stat(lockPath(dir, "web1"))
	assert.True(t, os.IsNotExist(err))
}

func TestPickSnapshotIDFreshHost(t *testing.T) {
	dir := t.TempDir()
	id := pickSnapshotID(dir, fixedNow())
	assert.Equal(t, "2026-02-08", id)
}

func TestPickSnapshotIDDisambiguatesSecondRunSameDay(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "2026-02-08"), 0o755))
	id := pickSnapshotID(dir, fixedNow())
	assert.NotEqual(t, "2026-02-08", id)
	assert.Contains(t, id, "2026-02-08_")
}

func TestTailJobLogLimitsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.log")
	content := ""
	for i := 0; i < 10; i++ {
		content += "line\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tail := tailJobLog(path, 3)
	assert.Equal(t, "line\nline\nline", tail)
}

func TestTailJobLogMissingFileReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", tailJobLog(filepath.Join(t.TempDir(), "missing.log"), 10))
}

func TestBuildFailureDetailIncludesRsyncLogAndDBOutput(t *testing.T) {
	dir := t.TempDir()
	rsyncLogPath := filepath.Join(dir, "rsync.log")
	require.NoError(t, os.WriteFile(rsyncLogPath, []byte("rsync: some files vanished"), 0o644))
	jobLogPath := filepath.Join(dir, "job.log")
	require.NoError(t, os.WriteFile(jobLogPath, []byte("[ERROR] files: boom"), 0o644))

	detail := buildFailureDetail(rsyncLogPath, &dbdump.DumpResult{RawOutput: "mysqldump: access denied"}, jobLogPath)

	assert.Contains(t, detail, "rsync: some files vanished")
	assert.Contains(t, detail, "mysqldump: access denied")
	assert.Contains(t, detail, "[ERROR] files: boom")
}

func TestBuildFailureDetailOmitsEmptySections(t *testing.T) {
	jobLogPath := filepath.Join(t.TempDir(), "job.log")
	require.NoError(t, os.WriteFile(jobLogPath, []byte("[ERROR] db-dump: boom"), 0o644))

	detail := buildFailureDetail("", nil, jobLogPath)

	assert.NotContains(t, detail, "rsync log")
	assert.NotContains(t, detail, "db dump output")
	assert.Contains(t, detail, "[ERROR] db-dump: boom")
}

func TestEncryptSnapshotSealsFilesAndWritesMarker(t *testing.T) {
	root := t.TempDir()
	snap := filepath.Join(root, "2026-02-08")
	require.NoError(t, os.MkdirAll(filepath.Join(snap, "files"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(snap, "files", "a.txt"), []byte("hello"), 0o644))

	opts := Options{EncryptMode: "symmetric", EncryptPassphrase: "s3cret"}
	require.NoError(t, encryptSnapshot(snap, opts))

	_, err := os.Stat(filepath.Join(snap, "files", "a.txt"))
	assert.True(t, os.IsNotExist(err))

	sealed, err := os.Stat(filepath.Join(snap, "files", "a.txt.enc"))
	require.NoError(t, err)
	assert.Greater(t, sealed.Size(), int64(0))

	_, err = os.Stat(filepath.Join(snap, EncryptedMarker))
	assert.NoError(t, err)
}

func TestEncryptSnapshotBadAsymmetricKeyPathFails(t *testing.T) {
	root := t.TempDir()
	snap := filepath.Join(root, "2026-02-08")
	require.NoError(t, os.MkdirAll(filepath.Join(snap, "files"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(snap, "files", "a.txt"), []byte("hello"), 0o644))

	opts := Options{EncryptMode: "asymmetric", EncryptKeyPath: filepath.Join(root, "missing.pem")}
	assert.Error(t, encryptSnapshot(snap, opts))
}
