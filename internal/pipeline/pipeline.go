// Package pipeline implements the per-host backup state machine (spec.md
// §4.5): locking, file sync, remote DB dump, SQL placement, rotation, and
// summary notification. It runs as a plain Go function taking a
// context.Context rather than a re-exec'd subprocess — see DESIGN.md's
// REDESIGN FLAGS entry on goroutine-based execution — so each phase's exit
// status is captured directly as an error return instead of being inferred
// from log-tail text after the fact.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tmbackup/tmserviced/internal/crypter"
	"github.com/tmbackup/tmserviced/internal/dbdump"
	"github.com/tmbackup/tmserviced/internal/roster"
	"github.com/tmbackup/tmserviced/internal/transport"
)

// Phase names the state machine position, mirroring spec.md §4.5's diagram.
type Phase string

const (
	PhaseLocking Phase = "locking"
	PhaseFiles   Phase = "files"
	PhaseDBDump  Phase = "db-dump"
	PhaseSQLSync Phase = "sql-sync"
	PhaseRotate  Phase = "rotate"
	PhaseEncrypt Phase = "encrypt"
	PhaseSummary Phase = "summary"
)

// EncryptedMarker is written at a snapshot's root once every regular file
// beneath it has been sealed, so the restore operation can tell an
// encrypted snapshot from a plain one without trying to read it first.
const EncryptedMarker = ".encrypted"

// Event is emitted to a Notifier at the end of a run, or immediately for a
// classified credential failure mid-run.
type Event struct {
	Hostname  string
	Kind      string // "backup-ok", "backup-fail", "credential-fail"
	Message   string
	Detail    string // rsync log tail / db output / last job log lines, for backup-fail
	Recipient string // roster entry's --notify email override, if any
	Force     bool   // true if the host roster entry set --notify-ok
	Timestamp time.Time
}

// Notifier is the capability the pipeline emits events through. Concrete
// senders (email/webhook/slack) live in internal/notifier; the pipeline
// only depends on this narrow interface to stay decoupled from transport
// selection, the same separation the teacher draws between executor and
// its LogSink/StatusReporter collaborators.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Options configures one pipeline run.
type Options struct {
	Hostname      string
	Entry         roster.Entry
	Trigger       string
	BackupRoot    string
	SourceRoot    string
	RemoteSQLDir  string // e.g. "~/sql", expanded remotely
	RunDir        string
	LogDir        string
	RetentionDays int
	TransportOpts transport.Options
	DBConfig      dbdump.Config
	SSHPort       int
	SSHKeyPath    string

	EncryptEnabled    bool
	EncryptMode       crypter.Mode
	EncryptKeyPath    string // PEM public key, asymmetric mode only
	EncryptPassphrase string // symmetric mode only
}

// Result is the outcome of a full pipeline run.
type Result struct {
	Hostname     string
	Phase        Phase // last phase attempted
	Success      bool
	SnapshotID   string
	FilesWarning bool
	DumpResult   *dbdump.DumpResult
	RemovedOld   []string
	Duration     time.Duration
	Err          error
	JobLogPath   string
}

// Run executes the full state machine for one host. It always releases the
// host lock on exit, and the returned Result's Err is non-nil iff some
// executed phase other than rotate failed (spec.md §4.5: "Exit code of the
// pipeline is 0 iff every executed phase succeeded"); rotate errors are only
// logged.
func Run(ctx context.Context, opts Options, notifier Notifier) Result {
	started := time.Now()
	result := Result{Hostname: opts.Hostname}

	jobLog, jobLogPath, err := createJobLog(opts.LogDir, opts.Hostname)
	if err != nil {
		result.Phase = PhaseLocking
		result.Err = err
		return result
	}
	defer jobLog.Close()
	result.JobLogPath = jobLogPath
	logLine := func(format string, args ...any) {
		fmt.Fprintf(jobLog, "[%s] %s\n", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	}

	result.Phase = PhaseLocking
	if err := acquireLock(opts.RunDir, opts.Hostname); err != nil {
		result.Err = err
		logLine("[ERROR] locking: %v", err)
		return result
	}
	defer releaseLock(opts.RunDir, opts.Hostname)
	logLine("locking acquired")

	hostRoot := filepath.Join(opts.BackupRoot, opts.Hostname)
	client := transport.New(opts.Hostname, opts.TransportOpts)

	now := time.Now()
	snapshotID := ""
	var filesErr error
	var rsyncLogPath string

	if opts.Entry.Mode != roster.ModeDBOnly {
		result.Phase = PhaseFiles
		snapshotID = pickSnapshotID(hostRoot, now)
		sync, err := client.BackupFiles(ctx, hostRoot, snapshotID, opts.SourceRoot, opts.LogDir)
		if sync != nil {
			rsyncLogPath = sync.LogPath
		}
		if err != nil {
			filesErr = err
			logLine("[ERROR] files: %v", err)
		} else {
			result.SnapshotID = snapshotID
			result.FilesWarning = sync.Warning
			logLine("files completed snapshot=%s warning=%v", snapshotID, sync.Warning)
		}
	}

	var dumpResult *dbdump.DumpResult
	var dbErr error
	if opts.Entry.Mode != roster.ModeFilesOnly {
		result.Phase = PhaseDBDump
		driver := dbdump.New(opts.Hostname, opts.SSHPort, opts.SSHKeyPath)
		dumpResult, dbErr = driver.Run(ctx, opts.DBConfig)
		if dbErr != nil {
			logLine("[ERROR] db-dump: %v", dbErr)
		} else {
			result.DumpResult = dumpResult
			logLine("db-dump completed engines=%d", len(dumpResult.Results))
			if dumpResult.HasCredentialFailure() {
				notifier.Notify(ctx, Event{
					Hostname:  opts.Hostname,
					Kind:      "credential-fail",
					Message:   "database credential error during dump",
					Recipient: opts.Entry.NotifyEmail,
					Timestamp: time.Now(),
				})
			}
		}
	}

	var sqlErr error
	if dbErr == nil && dumpResult != nil && len(dumpResult.Results) > 0 && len(dumpResult.Failures()) < len(dumpResult.Results) {
		result.Phase = PhaseSQLSync
		target, err := transport.ResolveSQLSyncTarget(hostRoot, snapshotID, now)
		if err != nil {
			sqlErr = err
			logLine("[ERROR] sql-sync: %v", err)
		} else {
			destDir := filepath.Join(hostRoot, target.SnapshotID, target.SQLSubdir)
			if _, err := client.SyncSQL(ctx, opts.RemoteSQLDir, destDir, opts.LogDir); err != nil {
				sqlErr = err
				logLine("[ERROR] sql-sync: %v", err)
			} else {
				logLine("sql-sync completed snapshot=%s subdir=%s", target.SnapshotID, target.SQLSubdir)
			}
		}
	}

	noPriorFailure := filesErr == nil && dbErr == nil && sqlErr == nil
	if noPriorFailure && opts.Entry.Rotate {
		result.Phase = PhaseRotate
		removed, err := transport.Rotate(hostRoot, opts.RetentionDays, time.Now())
		if err != nil {
			logLine("[ERROR] rotate: %v", err)
		} else {
			result.RemovedOld = removed
			logLine("rotate removed=%v", removed)
		}
	}

	var encryptErr error
	if noPriorFailure && opts.EncryptEnabled && snapshotID != "" {
		result.Phase = PhaseEncrypt
		if err := encryptSnapshot(filepath.Join(hostRoot, snapshotID), opts); err != nil {
			encryptErr = err
			logLine("[ERROR] encrypt: %v", err)
		} else {
			logLine("encrypt completed snapshot=%s mode=%s", snapshotID, opts.EncryptMode)
		}
	}

	result.Phase = PhaseSummary
	result.Duration = time.Since(started)
	result.Success = filesErr == nil && dbErr == nil && sqlErr == nil && encryptErr == nil

	if !result.Success {
		var msgs []string
		if filesErr != nil {
			msgs = append(msgs, filesErr.Error())
		}
		if dbErr != nil {
			msgs = append(msgs, dbErr.Error())
		}
		if sqlErr != nil {
			msgs = append(msgs, sqlErr.Error())
		}
		if encryptErr != nil {
			msgs = append(msgs, encryptErr.Error())
		}
		result.Err = fmt.Errorf("pipeline: %s", strings.Join(msgs, "; "))
		notifier.Notify(ctx, Event{
			Hostname:  opts.Hostname,
			Kind:      "backup-fail",
			Message:   result.Err.Error(),
			Detail:    buildFailureDetail(rsyncLogPath, dumpResult, jobLogPath),
			Recipient: opts.Entry.NotifyEmail,
			Timestamp: time.Now(),
		})
	} else {
		notifier.Notify(ctx, Event{
			Hostname:  opts.Hostname,
			Kind:      "backup-ok",
			Message:   fmt.Sprintf("backup completed in %s", result.Duration.Round(time.Second)),
			Recipient: opts.Entry.NotifyEmail,
			Force:     opts.Entry.NotifyOK,
			Timestamp: time.Now(),
		})
	}

	return result
}

// pickSnapshotID allocates today's daily id, or a disambiguating
// timestamped id if a snapshot for today already exists (spec.md §6).
func pickSnapshotID(hostRoot string, now time.Time) string {
	existing, err := transport.TodaysMostRecentSnapshot(hostRoot, now)
	if err != nil || existing == "" {
		return transport.TodaySnapshotID(now)
	}
	return transport.TimestampedSnapshotID(now)
}

func createJobLog(logDir, hostname string) (*os.File, string, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("pipeline: failed to create log dir %s: %w", logDir, err)
	}
	path := filepath.Join(logDir, fmt.Sprintf("job-%s-%s.log", hostname, time.Now().UTC().Format("20060102-150405")))
	f, err := os.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("pipeline: failed to create job log %s: %w", path, err)
	}
	return f, path, nil
}

// encryptSnapshot seals every regular file under snapshotRoot in place with
// crypter, replacing <name> with <name>.enc, then drops EncryptedMarker at
// the snapshot root so the restore operation can recognize it without
// attempting to read a file first (spec.md §4.8.1).
func encryptSnapshot(snapshotRoot string, opts Options) error {
	var walkErr error
	err := filepath.Walk(snapshotRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		in, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("pipeline: failed to open %s for encryption: %w", path, err)
		}
		defer in.Close()

		sealedPath := path + ".enc"
		out, err := os.Create(sealedPath)
		if err != nil {
			return fmt.Errorf("pipeline: failed to create %s: %w", sealedPath, err)
		}

		if opts.EncryptMode == "asymmetric" {
			keyPEM, readErr := os.ReadFile(opts.EncryptKeyPath)
			if readErr != nil {
				err = fmt.Errorf("pipeline: failed to read encryption key %s: %w", opts.EncryptKeyPath, readErr)
			} else {
				err = crypter.EncryptAsymmetric(out, in, keyPEM)
			}
		} else {
			err = crypter.EncryptSymmetric(out, in, opts.EncryptPassphrase)
		}
		closeErr := out.Close()
		if err != nil {
			os.Remove(sealedPath)
			walkErr = err
			return err
		}
		if closeErr != nil {
			walkErr = closeErr
			return closeErr
		}
		if err := os.Remove(path); err != nil {
			walkErr = err
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if walkErr != nil {
		return walkErr
	}
	return os.WriteFile(filepath.Join(snapshotRoot, EncryptedMarker), []byte(time.Now().UTC().Format(time.RFC3339)), 0o644)
}

// buildFailureDetail assembles a failed job's notification body: the rsync
// transfer log, the DB dump's raw output, and the last 500 lines of the job
// log (spec.md §4.5/§7 — a failure notification carries all three, not just
// the job log tail). Sections with nothing to show are omitted.
func buildFailureDetail(rsyncLogPath string, dumpResult *dbdump.DumpResult, jobLogPath string) string {
	var b strings.Builder
	if rsyncLogPath != "" {
		if rsyncLog := tailJobLog(rsyncLogPath, 500); rsyncLog != "" {
			fmt.Fprintf(&b, "--- rsync log ---\n%s\n\n", rsyncLog)
		}
	}
	if dumpResult != nil && dumpResult.RawOutput != "" {
		fmt.Fprintf(&b, "--- db dump output ---\n%s\n\n", dumpResult.RawOutput)
	}
	fmt.Fprintf(&b, "--- job log (last 500 lines) ---\n%s", tailJobLog(jobLogPath, 500))
	return b.String()
}

// tailJobLog returns the last n lines of the job log at path, best-effort.
func tailJobLog(path string, n int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
