package statestore

import (
	"fmt"
	"time"
)

// Status is a job/task lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusKilled    Status = "killed"
)

// Trigger is the origin of a job, used by pre-flight to decide whether a
// running record blocks a new daily run (spec.md §4.7.1).
type Trigger string

const (
	TriggerManual     Trigger = "manual"
	TriggerAPI        Trigger = "api"
	TriggerDaily      Trigger = "daily"
	TriggerInterval   Trigger = "interval"
	TriggerIntervalDB Trigger = "interval-db"
	TriggerScheduler  Trigger = "scheduler"
)

// ProcRecord is a process state record (spec.md §3), one per active
// hostname. The PID field names the daemon's own PID (see DESIGN.md
// "goroutine, not re-exec'd subprocess"), kept so the on-disk record shape
// matches spec.md §3 exactly for external tooling.
type ProcRecord struct {
	PID       int       `yaml:"pid"`
	Hostname  string    `yaml:"hostname"`
	Mode      string    `yaml:"mode"`
	StartedAt time.Time `yaml:"started_at"`
	Status    Status    `yaml:"status"`
	LogFile   string    `yaml:"logfile"`
	Trigger   Trigger   `yaml:"trigger"`
}

func procKey(hostname string) string {
	return fmt.Sprintf("proc-%s.state", hostname)
}

// PutProc persists a process state record.
func (s *Store) PutProc(r ProcRecord) error {
	return s.Put(procKey(r.Hostname), r)
}

// GetProc reads the process state record for hostname.
func (s *Store) GetProc(hostname string) (ProcRecord, error) {
	var r ProcRecord
	err := s.Get(procKey(hostname), &r)
	return r, err
}

// ListProcs returns every process state record, newest first.
func (s *Store) ListProcs() ([]ProcRecord, error) {
	entries, err := s.List("proc-")
	if err != nil {
		return nil, err
	}
	out := make([]ProcRecord, 0, len(entries))
	for _, e := range entries {
		var r ProcRecord
		if err := s.Get(e.Key, &r); err == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// RestoreRecord is a restore task record (spec.md §3), keyed by a unique id.
type RestoreRecord struct {
	ID        string    `yaml:"id"`
	Hostname  string    `yaml:"hostname"`
	Snapshot  string    `yaml:"snapshot"`
	Path      string    `yaml:"path,omitempty"`
	Target    string    `yaml:"target,omitempty"`
	Mode      string    `yaml:"mode"`
	Format    string    `yaml:"format,omitempty"`
	PID       int       `yaml:"pid"`
	StartedAt time.Time `yaml:"started_at"`
	EndedAt   time.Time `yaml:"ended_at,omitempty"`
	Status    Status    `yaml:"status"`
	LogFile   string    `yaml:"logfile"`
	Error     string    `yaml:"error,omitempty"`
}

func restoreKey(hostname, id string) string {
	return fmt.Sprintf("restore-%s-%s.state", hostname, id)
}

// PutRestore persists a restore task record.
func (s *Store) PutRestore(r RestoreRecord) error {
	return s.Put(restoreKey(r.Hostname, r.ID), r)
}

// ListRestores returns restore records newer than 30 days, newest first,
// per spec.md §3 ("Restore tasks older than 30 days are omitted from
// listings").
func (s *Store) ListRestores() ([]RestoreRecord, error) {
	entries, err := s.List("restore-")
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	out := make([]RestoreRecord, 0, len(entries))
	for _, e := range entries {
		var r RestoreRecord
		if err := s.Get(e.Key, &r); err != nil {
			continue
		}
		if r.StartedAt.Before(cutoff) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// GetRestoreByID scans restore records for one matching id, regardless of
// the 30-day listing cutoff (used by DELETE /api/restore/<id>).
func (s *Store) GetRestoreByID(id string) (RestoreRecord, error) {
	entries, err := s.List("restore-")
	if err != nil {
		return RestoreRecord{}, err
	}
	for _, e := range entries {
		var r RestoreRecord
		if err := s.Get(e.Key, &r); err != nil {
			continue
		}
		if r.ID == id {
			return r, nil
		}
	}
	return RestoreRecord{}, ErrNotFound
}

// DeleteRestore removes a restore record by its file key.
func (s *Store) DeleteRestore(hostname, id string) error {
	return s.Delete(restoreKey(hostname, id))
}

// DeleteTerminalRestores removes every restore record whose status is not
// running. Used by DELETE /api/restores.
func (s *Store) DeleteTerminalRestores() error {
	entries, err := s.List("restore-")
	if err != nil {
		return err
	}
	for _, e := range entries {
		var r RestoreRecord
		if err := s.Get(e.Key, &r); err != nil {
			continue
		}
		if r.Status != StatusRunning {
			if err := s.Delete(e.Key); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteRecord tracks a background snapshot-directory deletion task
// (spec.md §3: "short-lived background deletions of snapshot directories").
type DeleteRecord struct {
	Hostname  string    `yaml:"hostname"`
	StartedAt time.Time `yaml:"started_at"`
	EndedAt   time.Time `yaml:"ended_at,omitempty"`
	Status    Status    `yaml:"status"`
	Error     string    `yaml:"error,omitempty"`
}

func deleteKey(hostname string) string {
	return fmt.Sprintf("delete-%s.state", hostname)
}

// PutDelete persists a delete task record.
func (s *Store) PutDelete(r DeleteRecord) error {
	return s.Put(deleteKey(r.Hostname), r)
}

// GetDelete reads the delete task record for hostname.
func (s *Store) GetDelete(hostname string) (DeleteRecord, error) {
	var r DeleteRecord
	err := s.Get(deleteKey(hostname), &r)
	return r, err
}

// ListDeletes returns every delete task record, newest first.
func (s *Store) ListDeletes() ([]DeleteRecord, error) {
	entries, err := s.List("delete-")
	if err != nil {
		return nil, err
	}
	out := make([]DeleteRecord, 0, len(entries))
	for _, e := range entries {
		var r DeleteRecord
		if err := s.Get(e.Key, &r); err == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// --- Schedule cursors (spec.md §3) ---

const lastDailyRunKey = "last-daily-run"

// LastDailyRun returns the date string ("2006-01-02") of the last
// successfully completed daily run, or "" if none has run yet.
func (s *Store) LastDailyRun() (string, error) {
	var v struct {
		Date string `yaml:"date"`
	}
	err := s.Get(lastDailyRunKey, &v)
	if err == ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v.Date, nil
}

// SetLastDailyRun advances the last_daily_run cursor to date.
func (s *Store) SetLastDailyRun(date string) error {
	return s.Put(lastDailyRunKey, struct {
		Date string `yaml:"date"`
	}{Date: date})
}

func lastDBRunKey(hostname string) string {
	return fmt.Sprintf("last-db-%s", hostname)
}

// LastDBRun returns the unix-seconds timestamp of the last successful
// DB-interval backup for hostname, or zero if none has run.
func (s *Store) LastDBRun(hostname string) (int64, error) {
	var v struct {
		Unix int64 `yaml:"unix"`
	}
	err := s.Get(lastDBRunKey(hostname), &v)
	if err == ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v.Unix, nil
}

// SetLastDBRun advances last_db_run[hostname]. Callers must ensure
// monotonicity (spec.md invariant (d)) — SetLastDBRun does not itself
// enforce it, since the scheduler is the sole writer and always calls this
// with time.Now().
func (s *Store) SetLastDBRun(hostname string, unixSeconds int64) error {
	return s.Put(lastDBRunKey(hostname), struct {
		Unix int64 `yaml:"unix"`
	}{Unix: unixSeconds})
}
