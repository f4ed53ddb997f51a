// Package restore implements the restore operation launched by POST
// /api/restore/<host> (spec.md §4.8.1): copying a snapshot's files or SQL
// dumps to a target directory, or producing a tar.gz/zip archive of a
// subtree, with a decrypt-before-restore step for snapshots the pipeline
// sealed with internal/crypter. It mirrors internal/pipeline's shape
// (Options/Result, a per-run log file, phase-scoped error messages) but
// runs as a single-pass copy rather than a multi-phase remote pipeline,
// since a restore only ever reads from the local backup root.
package restore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tmbackup/tmserviced/internal/archive"
	"github.com/tmbackup/tmserviced/internal/crypter"
	"github.com/tmbackup/tmserviced/internal/pipeline"
)

// Mode selects which restore variant spec.md §4.8.1 names.
type Mode string

const (
	ModeFull    Mode = "full"    // full-file restore to a target directory
	ModePath    Mode = "path"    // path-scoped restore
	ModeDBOnly  Mode = "db-only" // database-dump-only copy to a target
	ModeArchive Mode = "archive" // tar.gz/zip of a file or SQL subtree
)

// Options configures one restore run.
type Options struct {
	Hostname   string
	Snapshot   string
	Path       string // optional subtree, relative to files/ or sql/
	Target     string // destination directory (full/path/db-only) or destination file (archive)
	Mode       Mode
	Format     archive.Format // archive mode only
	BackupRoot string
	LogDir     string
	// LogPath, when set, is used verbatim instead of deriving a fresh
	// timestamped path — lets a caller (internal/api) report the log file
	// name in its synchronous HTTP response before Run, launched on its own
	// goroutine, actually starts.
	LogPath string

	// Decrypt must be true to restore from a snapshot internal/pipeline
	// sealed (spec.md: "the request must opt in"). Requesting decrypt
	// against an unsealed snapshot is also rejected, per the same
	// sentence's "unencrypted path returns an error with a clear reason".
	Decrypt           bool
	EncryptMode       crypter.Mode
	EncryptKeyPath    string
	EncryptPassphrase string
}

// Result is the outcome of a restore run.
type Result struct {
	ID         string
	Hostname   string
	Success    bool
	Err        error
	LogPath    string
	OutputPath string
	Duration   time.Duration
}

// NewID returns a fresh restore task id, the same way internal/notifier and
// the teacher mint request-scoped identifiers.
func NewID() string {
	return uuid.NewString()
}

// Run executes one restore task synchronously; the caller (internal/api via
// internal/supervisor) is responsible for running it on its own goroutine
// and persisting the resulting statestore.RestoreRecord.
func Run(ctx context.Context, id string, opts Options) Result {
	started := time.Now()
	result := Result{ID: id, Hostname: opts.Hostname}

	path := opts.LogPath
	if path == "" {
		path = NewLogPath(opts.LogDir, opts.Hostname)
	}
	logFile, logPath, err := createRestoreLog(path)
	if err != nil {
		result.Err = err
		return result
	}
	defer logFile.Close()
	result.LogPath = logPath
	logLine := func(format string, args ...any) {
		fmt.Fprintf(logFile, "[%s] %s\n", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	}
	logLine("restore starting mode=%s snapshot=%s path=%q target=%s", opts.Mode, opts.Snapshot, opts.Path, opts.Target)

	if err := run(ctx, opts, logLine); err != nil {
		result.Err = err
		result.Duration = time.Since(started)
		logLine("[ERROR] restore failed: %v", err)
		return result
	}

	result.Success = true
	result.OutputPath = opts.Target
	result.Duration = time.Since(started)
	logLine("restore completed in %s", result.Duration.Round(time.Millisecond))
	return result
}

func run(ctx context.Context, opts Options, logLine func(string, ...any)) error {
	snapshotRoot := filepath.Join(opts.BackupRoot, opts.Hostname, opts.Snapshot)
	encrypted := isEncrypted(snapshotRoot)
	if encrypted && !opts.Decrypt {
		return fmt.Errorf("restore: snapshot %s is encrypted, retry with decrypt=true", opts.Snapshot)
	}
	if !encrypted && opts.Decrypt {
		return fmt.Errorf("restore: decrypt requested but snapshot %s is not encrypted", opts.Snapshot)
	}

	subtree := "files"
	if opts.Mode == ModeDBOnly {
		subtree = "sql"
	}
	sourceRoot := filepath.Join(snapshotRoot, subtree)
	if opts.Path != "" {
		sourceRoot = filepath.Join(sourceRoot, filepath.Clean(string(os.PathSeparator)+opts.Path))
	}
	if _, err := os.Stat(sourceRoot); err != nil {
		return fmt.Errorf("restore: source path not found: %w", err)
	}

	if opts.Mode == ModeArchive {
		return runArchive(ctx, sourceRoot, opts, logLine)
	}
	return copyTree(sourceRoot, opts.Target, opts, logLine)
}

// isEncrypted reports whether internal/pipeline sealed this snapshot.
func isEncrypted(snapshotRoot string) bool {
	_, err := os.Stat(filepath.Join(snapshotRoot, pipeline.EncryptedMarker))
	return err == nil
}

// copyTree copies every file under sourceRoot into destRoot, decrypting
// ".enc" entries along the way when opts.Decrypt is set and stripping the
// suffix from their restored names.
func copyTree(sourceRoot, destRoot string, opts Options, logLine func(string, ...any)) error {
	return filepath.Walk(sourceRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("restore: walk error at %s: %w", path, err)
		}
		rel, err := filepath.Rel(sourceRoot, path)
		if err != nil {
			return fmt.Errorf("restore: failed to relativize %s: %w", path, err)
		}
		if rel == "." {
			return os.MkdirAll(destRoot, 0o755)
		}

		destName := rel
		sealed := opts.Decrypt && strings.HasSuffix(rel, ".enc")
		if sealed {
			destName = strings.TrimSuffix(rel, ".enc")
		}
		dest := filepath.Join(destRoot, destName)

		if info.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("restore: failed to create %s: %w", filepath.Dir(dest), err)
		}

		in, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("restore: failed to open %s: %w", path, err)
		}
		defer in.Close()

		out, err := os.Create(dest)
		if err != nil {
			return fmt.Errorf("restore: failed to create %s: %w", dest, err)
		}
		defer out.Close()

		if sealed {
			return decryptInto(out, in, opts)
		}
		if _, err := io.Copy(out, in); err != nil {
			return fmt.Errorf("restore: failed to copy %s: %w", path, err)
		}
		logLine("restored %s", destName)
		return nil
	})
}

func decryptInto(w io.Writer, r io.Reader, opts Options) error {
	if opts.EncryptMode == "asymmetric" {
		keyPEM, err := os.ReadFile(opts.EncryptKeyPath)
		if err != nil {
			return fmt.Errorf("restore: failed to read decryption key %s: %w", opts.EncryptKeyPath, err)
		}
		return crypter.DecryptAsymmetric(w, r, keyPEM)
	}
	return crypter.DecryptSymmetric(w, r, opts.EncryptPassphrase)
}

// runArchive streams sourceRoot to opts.Target as a tar.gz/zip. Encrypted
// snapshots are first decrypted into a scratch directory, since the
// archive package streams plain bytes straight off disk.
func runArchive(ctx context.Context, sourceRoot string, opts Options, logLine func(string, ...any)) error {
	root := sourceRoot
	if opts.Decrypt {
		staging, err := os.MkdirTemp("", "tmserviced-restore-*")
		if err != nil {
			return fmt.Errorf("restore: failed to create staging dir: %w", err)
		}
		defer os.RemoveAll(staging)
		if err := copyTree(sourceRoot, staging, opts, logLine); err != nil {
			return err
		}
		root = staging
	}

	if err := os.MkdirAll(filepath.Dir(opts.Target), 0o755); err != nil {
		return fmt.Errorf("restore: failed to create target dir: %w", err)
	}
	out, err := os.Create(opts.Target)
	if err != nil {
		return fmt.Errorf("restore: failed to create archive %s: %w", opts.Target, err)
	}
	defer out.Close()

	if err := archive.Stream(ctx, out, root, opts.Format); err != nil {
		return fmt.Errorf("restore: failed to stream archive: %w", err)
	}
	logLine("archive written format=%s", opts.Format)
	return nil
}

// NewLogPath computes the restore log path for hostname under logDir,
// timestamped to the current moment. Exported so a caller that needs to
// report the log file name before Run executes (internal/api's synchronous
// launch response) can compute the same path Run itself would otherwise
// derive internally.
func NewLogPath(logDir, hostname string) string {
	return filepath.Join(logDir, fmt.Sprintf("restore-%s-%s.log", hostname, time.Now().UTC().Format("20060102-150405")))
}

func createRestoreLog(path string) (*os.File, string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", fmt.Errorf("restore: failed to create log dir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("restore: failed to create restore log %s: %w", path, err)
	}
	return f, path, nil
}
