package reporter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmbackup/tmserviced/internal/pipeline"
)

type fakeSender struct {
	title, body, level, to string
	called                 bool
}

func (f *fakeSender) SendReport(ctx context.Context, title, body, level, to string) {
	f.called = true
	f.title, f.body, f.level, f.to = title, body, level, to
}

func TestFromResultsAndCounts(t *testing.T) {
	results := []pipeline.Result{
		{Hostname: "web1", Success: true, Phase: pipeline.PhaseSummary, Duration: 3 * time.Second},
		{Hostname: "db1", Success: false, Phase: pipeline.PhaseSummary, Err: errors.New("boom")},
	}
	r := FromResults("2026-02-08", results)
	r.AddSkipped("dev1", "pre-flight refused")

	ok, failed, skipped := r.counts()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, skipped)
}

func TestRenderIncludesHostLinesSortedAndCounts(t *testing.T) {
	results := []pipeline.Result{
		{Hostname: "web1", Success: true, Phase: pipeline.PhaseSummary, Duration: 3 * time.Second},
		{Hostname: "aardvark", Success: false, Phase: pipeline.PhaseSummary, Err: errors.New("db-dump: auth failed")},
	}
	r := FromResults("2026-02-08", results)
	body := r.Render(false, 100)

	assert.Contains(t, body, "Daily backup report — 2026-02-08")
	assert.Contains(t, body, "succeeded=1 failed=1 skipped=0")

	aardvarkIdx := indexOf(body, "aardvark")
	web1Idx := indexOf(body, "web1")
	require.GreaterOrEqual(t, aardvarkIdx, 0)
	require.GreaterOrEqual(t, web1Idx, 0)
	assert.Less(t, aardvarkIdx, web1Idx, "entries should be sorted by hostname")
	assert.Contains(t, body, "db-dump: auth failed")
}

func TestRenderAppendsJobLogTailForFailuresOnly(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "job-db1.log")
	require.NoError(t, os.WriteFile(logPath, []byte("line1\nline2\n[ERROR] boom\n"), 0o644))

	results := []pipeline.Result{
		{Hostname: "db1", Success: false, Phase: pipeline.PhaseSummary, Err: errors.New("db-dump failed"), JobLogPath: logPath},
		{Hostname: "web1", Success: true, Phase: pipeline.PhaseSummary, JobLogPath: logPath},
	}
	r := FromResults("2026-02-08", results)
	body := r.Render(true, 100)

	assert.Contains(t, body, "job log tail")
	assert.Contains(t, body, "[ERROR] boom")
}

func TestLevelReflectsFailures(t *testing.T) {
	ok := FromResults("2026-02-08", []pipeline.Result{{Hostname: "web1", Success: true}})
	assert.Equal(t, "info", ok.Level())

	bad := FromResults("2026-02-08", []pipeline.Result{{Hostname: "web1", Success: false, Err: errors.New("x")}})
	assert.Equal(t, "error", bad.Level())
}

func TestSubmitWritesDatedLogFileAndCallsSender(t *testing.T) {
	dir := t.TempDir()
	r := FromResults("2026-02-08", []pipeline.Result{{Hostname: "web1", Success: true}})
	sender := &fakeSender{}

	require.NoError(t, r.Submit(context.Background(), sender, dir, "ops@example.com"))

	assert.True(t, sender.called)
	assert.Equal(t, "info", sender.level)
	assert.Equal(t, "ops@example.com", sender.to)

	data, err := os.ReadFile(filepath.Join(dir, "report-daily-2026-02-08.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "succeeded=1")
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
