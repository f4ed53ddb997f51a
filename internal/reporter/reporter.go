// Package reporter aggregates a daily run's per-host outcomes into a single
// plain-text report and submits it to the notifier (spec.md §4.9). It is
// grounded on server/internal/notification/service.go's submit-and-log
// shape: render, hand to the notifier, then persist a copy under the log
// directory regardless of delivery outcome.
package reporter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tmbackup/tmserviced/internal/pipeline"
)

// Sender is the narrow notifier surface the reporter depends on, matching
// notifier.Service.SendReport without importing the notifier package
// directly (keeps reporter testable with a fake).
type Sender interface {
	SendReport(ctx context.Context, title, body, level, to string)
}

// Entry is one host's outcome within a daily run.
type Entry struct {
	Hostname string
	Mode     string
	Success  bool
	Skipped  bool
	Phase    pipeline.Phase
	Duration time.Duration
	Detail   string // failure message, empty on success
	JobLog   string // path to the per-host job log, appended when requested
}

// Report aggregates one daily run.
type Report struct {
	Date    string // YYYY-MM-DD, local calendar day the run was for
	Entries []Entry
}

// FromResults builds a Report from the pipeline.Result values a daily run
// collected, in launch order; entries for hosts skipped by pre-flight or
// priority ordering are added separately via AddSkipped.
func FromResults(date string, results []pipeline.Result) *Report {
	r := &Report{Date: date}
	for _, res := range results {
		r.Entries = append(r.Entries, Entry{
			Hostname: res.Hostname,
			Success:  res.Success,
			Phase:    res.Phase,
			Duration: res.Duration,
			Detail:   errString(res.Err),
			JobLog:   res.JobLogPath,
		})
	}
	return r
}

// AddSkipped records a host that the daily run never launched.
func (r *Report) AddSkipped(hostname, reason string) {
	r.Entries = append(r.Entries, Entry{Hostname: hostname, Skipped: true, Detail: reason})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// counts returns succeeded, failed, skipped.
func (r *Report) counts() (ok, failed, skipped int) {
	for _, e := range r.Entries {
		switch {
		case e.Skipped:
			skipped++
		case e.Success:
			ok++
		default:
			failed++
		}
	}
	return
}

// Render produces the plain-text report body (spec.md §4.9): counts,
// per-host lines, and — when includeLogs is true — each failed host's
// tailed job log appended underneath its line.
func (r *Report) Render(includeLogs bool, logTailLines int) string {
	ok, failed, skipped := r.counts()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Daily backup report — %s\n", r.Date)
	fmt.Fprintf(&sb, "succeeded=%d failed=%d skipped=%d\n\n", ok, failed, skipped)

	sorted := make([]Entry, len(r.Entries))
	copy(sorted, r.Entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Hostname < sorted[j].Hostname
	})

	for _, e := range sorted {
		status := "completed"
		switch {
		case e.Skipped:
			status = "skipped"
		case !e.Success:
			status = "failed"
		}
		line := fmt.Sprintf("  %-20s %-9s", e.Hostname, status)
		if !e.Skipped {
			line += fmt.Sprintf(" phase=%-10s duration=%s", e.Phase, e.Duration.Round(time.Second))
		}
		if e.Detail != "" {
			line += fmt.Sprintf(" — %s", e.Detail)
		}
		sb.WriteString(line)
		sb.WriteString("\n")

		if includeLogs && !e.Success && !e.Skipped && e.JobLog != "" {
			tail := tailFile(e.JobLog, logTailLines)
			if tail != "" {
				sb.WriteString("    --- job log tail ---\n")
				for _, l := range strings.Split(tail, "\n") {
					sb.WriteString("    " + l + "\n")
				}
			}
		}
	}

	return sb.String()
}

// Level reports "error" when any host failed, "info" otherwise.
func (r *Report) Level() string {
	_, failed, _ := r.counts()
	if failed > 0 {
		return "error"
	}
	return "info"
}

// Submit renders the report, hands it to sender, and writes a copy under
// logDir as report-daily-<date>.log (spec.md line 192's naming), regardless
// of whether the notifier delivery itself succeeds.
func (r *Report) Submit(ctx context.Context, sender Sender, logDir, to string) error {
	body := r.Render(true, 200)
	title := fmt.Sprintf("daily backup report — %s", r.Date)

	sender.SendReport(ctx, title, body, r.Level(), to)

	return r.writeLog(logDir, body)
}

func (r *Report) writeLog(logDir, body string) error {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("reporter: failed to create log dir %s: %w", logDir, err)
	}
	path := filepath.Join(logDir, fmt.Sprintf("report-daily-%s.log", r.Date))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("reporter: failed to write report log %s: %w", path, err)
	}
	return nil
}

func tailFile(path string, n int) string {
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
