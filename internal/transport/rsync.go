// Package transport wraps outbound SSH and rsync invocations: building
// exclude, link-dest, bandwidth, and log-file arguments, running the backup
// file sync with hardlink rotation, syncing SQL dump trees, and rotating
// old snapshots (spec.md §4.3). Every operation shells out to the real
// `ssh`/`rsync` binaries via os/exec, the same subprocess-per-operation idiom
// the teacher's restic.Wrapper uses.
package transport

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Options configures how a Client builds its SSH/rsync command lines.
// One Options is built per job from the loaded config and roster entry.
type Options struct {
	SSHPort        int
	SSHKeyPath     string
	SSHTimeoutSecs int
	BWLimitKBps    int // 0 = unlimited
	ExtraRsyncOpts string
	FlagsOverride  string // when non-empty, replaces the default ownership flag set entirely
	RsyncPathSudo  bool   // use --rsync-path='sudo rsync' for privileged reads on the sender
	Excludes       []string
}

// Client drives rsync/ssh subprocesses against a single remote host. Every
// operation writes its own combined stdout/stderr to a timestamped file
// under the log directory passed to it, rather than through a shared
// writer — one log per exec.Cmd, the same granularity restic.Wrapper uses.
type Client struct {
	Hostname string
	Opts     Options
}

// New returns a Client for hostname.
func New(hostname string, opts Options) *Client {
	return &Client{Hostname: hostname, Opts: opts}
}

// sshCommand builds the -e argument embedding port, identity file, connect
// timeout, and disabled strict host key checking, per spec.md §4.3.
func (c *Client) sshCommand() string {
	var b strings.Builder
	b.WriteString("ssh")
	fmt.Fprintf(&b, " -p %d", c.Opts.SSHPort)
	if c.Opts.SSHKeyPath != "" {
		fmt.Fprintf(&b, " -i %s", shellQuote(c.Opts.SSHKeyPath))
	}
	timeout := c.Opts.SSHTimeoutSecs
	if timeout <= 0 {
		timeout = 10
	}
	fmt.Fprintf(&b, " -o ConnectTimeout=%d", timeout)
	b.WriteString(" -o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null")
	return b.String()
}

// ownershipFlags returns the flag set appropriate for the host OS, matching
// spec.md §4.3's "ownership-preserving flags appropriate for the host OS".
// Linux uses "-avz" (archive, verbose, compress); Darwin uses the expanded
// archive set "-rlptgoD" without -v or -z. Neither set adds -H (hardlinks)
// or -X (xattrs).
func ownershipFlags() []string {
	if runtime.GOOS == "darwin" {
		return []string{"-rlptgoD"}
	}
	return []string{"-avz"}
}

// buildExcludeArgs turns the combined exclude pattern list into --exclude
// flags, one per pattern (spec.md §4.3: "referencing the global exclude
// file followed by the host-specific one").
func buildExcludeArgs(patterns []string) []string {
	args := make([]string, 0, len(patterns))
	for _, p := range patterns {
		args = append(args, "--exclude="+p)
	}
	return args
}

// BuildArgs assembles the full rsync argument list for a backup-file run.
// source is the remote path (trailing slash semantics are the caller's
// responsibility, per rsync convention); dest is the local destination
// directory; linkDest, if non-empty, becomes --link-dest=<linkDest>.
func (c *Client) BuildArgs(source, dest, linkDest string) []string {
	var args []string

	if c.Opts.FlagsOverride != "" {
		args = append(args, strings.Fields(c.Opts.FlagsOverride)...)
	} else {
		args = append(args, ownershipFlags()...)
	}

	args = append(args, "--delete")

	if c.Opts.BWLimitKBps > 0 {
		args = append(args, "--bwlimit="+strconv.Itoa(c.Opts.BWLimitKBps))
	}

	args = append(args, "-e", c.sshCommand())

	if c.Opts.RsyncPathSudo {
		args = append(args, "--rsync-path=sudo rsync")
	}

	if linkDest != "" {
		args = append(args, "--link-dest="+linkDest)
	}

	args = append(args, buildExcludeArgs(c.Opts.Excludes)...)

	if c.Opts.ExtraRsyncOpts != "" {
		args = append(args, strings.Fields(c.Opts.ExtraRsyncOpts)...)
	}

	args = append(args, source, dest)
	return args
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ExitVanished is rsync's exit code 24 ("some files vanished before they
// could be transferred"), downgraded to a warning rather than a hard
// failure per spec.md §4.3/§7.4.
const ExitVanished = 24

// SyncResult describes the outcome of a BackupFiles run.
type SyncResult struct {
	SnapshotID string
	Warning    bool // true if rsync exited 24 ("some files vanished")
	LogPath    string
}

// BackupFiles resolves `latest`, allocates a new snapshot's files/
// directory, and runs rsync from the remote sourceRoot into it using
// --link-dest against the previous snapshot, writing combined output to a
// timestamped transfer log under logDir. On success, `latest` is atomically
// swung to the new snapshot (spec.md §4.3).
//
// hostRoot is "<backup_root>/<hostname>". snapshotID is the snapshot
// directory name to create (caller decides YYYY-MM-DD vs
// YYYY-MM-DD_HHMMSS per the disambiguation rule in spec.md §6).
func (c *Client) BackupFiles(ctx context.Context, hostRoot, snapshotID, sourceRoot, logDir string) (*SyncResult, error) {
	prevFiles, _ := ResolveLatest(hostRoot) // absolute path to previous files/, or "" if none

	destFiles := filepath.Join(hostRoot, snapshotID, "files")
	if err := os.MkdirAll(destFiles, 0o755); err != nil {
		return nil, fmt.Errorf("transport: failed to create %s: %w", destFiles, err)
	}

	linkDest := ""
	if prevFiles != "" {
		linkDest = prevFiles
	}

	source := fmt.Sprintf("%s:%s/", c.Hostname, strings.TrimSuffix(sourceRoot, "/"))
	args := c.BuildArgs(source, destFiles+"/", linkDest)

	logPath := filepath.Join(logDir, fmt.Sprintf("rsync-%s-%s.log", c.Hostname, time.Now().UTC().Format("20060102-150405")))
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to create rsync log %s: %w", logPath, err)
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, "rsync", args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	runErr := cmd.Run()

	result := &SyncResult{SnapshotID: snapshotID, LogPath: logPath}

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok && exitErr.ExitCode() == ExitVanished {
			result.Warning = true
		} else {
			return result, fmt.Errorf("transport: rsync failed for %s: %w", c.Hostname, runErr)
		}
	}

	if err := setLatest(hostRoot, snapshotID); err != nil {
		return result, fmt.Errorf("transport: failed to update latest: %w", err)
	}

	return result, nil
}

// SyncSQL pulls the remote SQL dump scratch directory (typically
// ~/sql on the remote host, written by internal/dbdump) into the local
// destDir determined by ResolveSQLSyncTarget, without --link-dest — each
// sql/ directory is self-contained, not incrementally hardlinked against a
// previous snapshot's dump (spec.md §4.3).
func (c *Client) SyncSQL(ctx context.Context, remoteSQLDir, destDir, logDir string) (*SyncResult, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("transport: failed to create %s: %w", destDir, err)
	}

	source := fmt.Sprintf("%s:%s/", c.Hostname, strings.TrimSuffix(remoteSQLDir, "/"))
	args := c.BuildArgs(source, destDir+"/", "")

	logPath := filepath.Join(logDir, fmt.Sprintf("sql-sync-%s-%s.log", c.Hostname, time.Now().UTC().Format("20060102-150405")))
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to create sql-sync log %s: %w", logPath, err)
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, "rsync", args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	result := &SyncResult{LogPath: logPath}
	if runErr := cmd.Run(); runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok && exitErr.ExitCode() == ExitVanished {
			result.Warning = true
		} else {
			return result, fmt.Errorf("transport: sql sync failed for %s: %w", c.Hostname, runErr)
		}
	}
	return result, nil
}

// ResolveLatest returns the absolute path to the files/ subtree of the
// snapshot `latest` currently points at, or "" if no latest reference
// exists yet (fresh host).
func ResolveLatest(hostRoot string) (string, error) {
	link := filepath.Join(hostRoot, "latest")
	target, err := os.Readlink(link)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("transport: failed to read latest link: %w", err)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(hostRoot, target)
	}
	filesDir := filepath.Join(target, "files")
	if _, err := os.Stat(filesDir); err != nil {
		return "", nil
	}
	return filesDir, nil
}

// setLatest atomically swings hostRoot/latest to point at snapshotID, via a
// temp-symlink-then-rename (symlink() + rename() is atomic the same way
// write-temp-then-rename is for regular files).
func setLatest(hostRoot, snapshotID string) error {
	link := filepath.Join(hostRoot, "latest")
	tmp := link + ".tmp"
	os.Remove(tmp)
	if err := os.Symlink(snapshotID, tmp); err != nil {
		return fmt.Errorf("transport: failed to create temp symlink: %w", err)
	}
	if err := os.Rename(tmp, link); err != nil {
		return fmt.Errorf("transport: failed to rename symlink into place: %w", err)
	}
	return nil
}
