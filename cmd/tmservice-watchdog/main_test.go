package main

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAliveCurrentProcess(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "tmserviced.pid")
	require.NoError(t, os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644))

	pid, alive := checkAlive(pidPath)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, alive)
}

func TestCheckAliveMissingFile(t *testing.T) {
	pid, alive := checkAlive(filepath.Join(t.TempDir(), "missing.pid"))
	assert.Equal(t, 0, pid)
	assert.False(t, alive)
}

func TestCheckAliveStalePID(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "tmserviced.pid")
	// PID 0 and negative values never name a real process; large unlikely
	// PIDs are the closest stand-in for "recorded but now-dead" here.
	require.NoError(t, os.WriteFile(pidPath, []byte("999999"), 0o644))

	_, alive := checkAlive(pidPath)
	assert.False(t, alive)
}

func TestCheckAliveMalformedContents(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "tmserviced.pid")
	require.NoError(t, os.WriteFile(pidPath, []byte("not-a-pid"), 0o644))

	pid, alive := checkAlive(pidPath)
	assert.Equal(t, 0, pid)
	assert.False(t, alive)
}
