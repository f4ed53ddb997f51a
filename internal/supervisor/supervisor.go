// Package supervisor tracks in-flight backup jobs: launching the per-host
// pipeline as a goroutine, persisting its lifecycle to the state store,
// cancelling it on request, and reconciling records left "running" by a
// daemon restart. It mirrors the shape of the teacher's
// server/internal/agentmanager.Manager — an in-memory registry guarded by
// a mutex — except the registry here holds cancel functions for goroutines
// this process owns, not remote connections.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tmbackup/tmserviced/internal/pipeline"
	"github.com/tmbackup/tmserviced/internal/statestore"
)

// ErrConflict is returned by Launch when hostname already has a running job
// (spec.md §4.6/invariant (a)).
var ErrConflict = errors.New("supervisor: host already running")

// ErrNotRunning is returned by Cancel when hostname has no in-memory job
// handle (it may still have a stale state record, which Cancel does not
// touch — List's reconciliation owns that path).
var ErrNotRunning = errors.New("supervisor: host not running")

// PipelineFunc runs one pipeline job to completion. Production code passes
// pipeline.Run; tests substitute a fake to avoid shelling out to ssh/rsync.
type PipelineFunc func(ctx context.Context, opts pipeline.Options, notifier pipeline.Notifier) pipeline.Result

// Recorder observes completed job outcomes. internal/metrics implements it;
// a Supervisor with no recorder set silently drops observations.
type Recorder interface {
	ObserveJobOutcome(hostname, mode, status string, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) ObserveJobOutcome(string, string, string, time.Duration) {}

type jobHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor is safe for concurrent use.
type Supervisor struct {
	mu     sync.Mutex
	jobs   map[string]*jobHandle
	store  *statestore.Store
	run     PipelineFunc
	notify  pipeline.Notifier
	metrics Recorder
	logger  *zap.Logger
}

// New returns a Supervisor backed by store, running jobs with runFn and
// notifying events through notify.
func New(store *statestore.Store, runFn PipelineFunc, notify pipeline.Notifier, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		jobs:    make(map[string]*jobHandle),
		store:   store,
		run:     runFn,
		notify:  notify,
		metrics: noopRecorder{},
		logger:  logger.Named("supervisor"),
	}
}

// SetMetrics attaches r as the destination for job outcome observations.
// Called once during daemon wiring; nil restores the no-op recorder.
func (s *Supervisor) SetMetrics(r Recorder) {
	if r == nil {
		r = noopRecorder{}
	}
	s.metrics = r
}

// Launch starts the pipeline for hostname in a new goroutine, persists a
// running state record, and returns immediately (spec.md §4.6: "forks the
// pipeline into an independent process tree" — realized here as an
// independently cancellable goroutine, see DESIGN.md).
func (s *Supervisor) Launch(ctx context.Context, opts pipeline.Options, trigger statestore.Trigger) error {
	s.mu.Lock()
	if _, running := s.jobs[opts.Hostname]; running {
		s.mu.Unlock()
		return ErrConflict
	}

	jobCtx, cancel := context.WithCancel(ctx)
	handle := &jobHandle{cancel: cancel, done: make(chan struct{})}
	s.jobs[opts.Hostname] = handle
	s.mu.Unlock()

	rec := statestore.ProcRecord{
		PID:       os.Getpid(),
		Hostname:  opts.Hostname,
		Mode:      string(opts.Entry.Mode),
		StartedAt: time.Now().UTC(),
		Status:    statestore.StatusRunning,
		Trigger:   trigger,
	}
	if err := s.store.PutProc(rec); err != nil {
		s.mu.Lock()
		delete(s.jobs, opts.Hostname)
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("supervisor: failed to persist running record for %s: %w", opts.Hostname, err)
	}

	opts.Trigger = string(trigger)

	go func() {
		defer close(handle.done)
		started := time.Now()
		result := s.run(jobCtx, opts, s.notify)

		rec.LogFile = result.JobLogPath
		if result.Success {
			rec.Status = statestore.StatusCompleted
		} else if errors.Is(jobCtx.Err(), context.Canceled) {
			rec.Status = statestore.StatusKilled
		} else {
			rec.Status = statestore.StatusFailed
		}

		if err := s.store.PutProc(rec); err != nil {
			s.logger.Error("failed to persist final state", zap.String("hostname", opts.Hostname), zap.Error(err))
		}

		s.metrics.ObserveJobOutcome(opts.Hostname, rec.Mode, string(rec.Status), time.Since(started))

		s.mu.Lock()
		delete(s.jobs, opts.Hostname)
		s.mu.Unlock()
	}()

	return nil
}

// Cancel sends a polite cancellation to hostname's job, waits up to 2
// seconds for it to exit, then force-cancels and marks the record killed
// regardless (spec.md §4.6).
func (s *Supervisor) Cancel(hostname string) error {
	s.mu.Lock()
	handle, ok := s.jobs[hostname]
	s.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}

	handle.cancel()

	select {
	case <-handle.done:
		return nil
	case <-time.After(2 * time.Second):
	}

	// Already cancelled above; context.CancelFunc has no "more forceful"
	// tier in Go, so the second signal is marking the record directly
	// rather than re-cancelling an already-cancelled context.
	rec, err := s.store.GetProc(hostname)
	if err == nil {
		rec.Status = statestore.StatusKilled
		s.store.PutProc(rec)
	}
	return nil
}

// List returns every process record, reconciling any "running" record
// whose job is not tracked in memory (daemon restarted) by inspecting its
// log tail for error markers (spec.md §4.6).
func (s *Supervisor) List() ([]statestore.ProcRecord, error) {
	records, err := s.store.ListProcs()
	if err != nil {
		return nil, err
	}

	for i := range records {
		if records[i].Status != statestore.StatusRunning {
			continue
		}
		s.mu.Lock()
		_, tracked := s.jobs[records[i].Hostname]
		s.mu.Unlock()
		if tracked {
			continue
		}
		records[i] = s.reconcile(records[i])
	}
	return records, nil
}

// Observe returns the current record for hostname, reconciling it first if
// it claims to be running but isn't tracked in memory.
func (s *Supervisor) Observe(hostname string) (statestore.ProcRecord, error) {
	rec, err := s.store.GetProc(hostname)
	if err != nil {
		return rec, err
	}
	if rec.Status != statestore.StatusRunning {
		return rec, nil
	}
	s.mu.Lock()
	_, tracked := s.jobs[hostname]
	s.mu.Unlock()
	if tracked {
		return rec, nil
	}
	return s.reconcile(rec), nil
}

// failureMarkers are the log-tail substrings that classify an orphaned
// "running" record as failed rather than completed (spec.md §4.6).
var failureMarkers = []string{"[ERROR]", "FAIL", "fatal", "Permission denied", "cannot create"}

// reconcile transitions a "running" record with a dead PID to completed or
// failed based on its log tail, persists the transition, and returns the
// updated record. If the PID is still alive, the record is left alone —
// it genuinely belongs to a process outside this daemon's lifetime (e.g.
// survived a daemon restart while its pipeline goroutine did not, which
// cannot happen for goroutine-based jobs but is kept as a defensive
// consistency check for PID-file-based external tooling).
func (s *Supervisor) reconcile(rec statestore.ProcRecord) statestore.ProcRecord {
	if processAlive(rec.PID) {
		return rec
	}

	if rec.LogFile != "" {
		tail := readTail(rec.LogFile, 500)
		if containsAny(tail, failureMarkers) {
			rec.Status = statestore.StatusFailed
		} else {
			rec.Status = statestore.StatusCompleted
		}
	} else {
		rec.Status = statestore.StatusCompleted
	}

	if err := s.store.PutProc(rec); err != nil {
		s.logger.Error("failed to persist reconciled record", zap.String("hostname", rec.Hostname), zap.Error(err))
	}
	return rec
}

func containsAny(haystack string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(haystack, m) {
			return true
		}
	}
	return false
}

func readTail(path string, n int) string {
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

// RunningCount returns the number of in-memory tracked jobs, used by the
// scheduler's parallelism cap (spec.md §4.7: "measured as the count of
// running records (live PIDs) at the moment of launch").
func (s *Supervisor) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
