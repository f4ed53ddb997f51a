// Command tmservice-watchdog is a short-lived liveness check: if tmserviced's
// PID file is absent or names a dead process, it restarts the daemon — via
// systemd when available, otherwise by launching the binary directly
// (spec.md §4.10). Intended to run from cron or a systemd timer, not as a
// long-running process itself; it takes no subcommands, so it skips cobra.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tmbackup/tmserviced/internal/config"
)

func main() {
	envPath := envOrDefault("TMSERVICED_ENV_FILE", "/etc/tmserviced/tmserviced.env")
	daemonPath := envOrDefault("TMSERVICED_BIN", "/usr/local/bin/tmserviced")

	cfg, err := config.Load(envPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tmservice-watchdog: load config:", err)
		os.Exit(1)
	}

	if err := run(cfg, envPath, daemonPath); err != nil {
		fmt.Fprintln(os.Stderr, "tmservice-watchdog:", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, envPath, daemonPath string) error {
	logf, logErr := openLog(filepath.Join(cfg.LogDir, "watchdog.log"))
	if logErr == nil {
		defer logf.Close()
	}
	logLine := func(format string, args ...any) {
		msg := fmt.Sprintf("%s "+format+"\n", append([]any{time.Now().UTC().Format(time.RFC3339)}, args...)...)
		if logf != nil {
			logf.WriteString(msg)
		}
	}

	pidPath := filepath.Join(cfg.RunDir, "tmserviced.pid")
	pid, alive := checkAlive(pidPath)
	if alive {
		logLine("tmserviced alive (pid %d), nothing to do", pid)
		return nil
	}
	logLine("tmserviced not alive (last pid %d), attempting restart", pid)

	if err := exec.Command("systemctl", "restart", "tmserviced").Run(); err == nil {
		logLine("restarted via systemctl")
		return nil
	} else {
		logLine("systemctl restart failed (%v), falling back to direct launch", err)
	}

	cmd := exec.Command(daemonPath, "--env-file", envPath)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch %s directly: %w", daemonPath, err)
	}
	logLine("launched %s directly (pid %d)", daemonPath, cmd.Process.Pid)
	// The daemon writes its own pid file on startup; Release so this
	// short-lived watchdog process doesn't hold the child as a zombie.
	return cmd.Process.Release()
}

// checkAlive returns the PID recorded at pidPath (0 if unreadable/absent)
// and whether that process is currently alive.
func checkAlive(pidPath string) (int, bool) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, syscall.Kill(pid, 0) == nil
}

func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
