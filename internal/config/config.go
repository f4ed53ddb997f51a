// Package config loads tmserviced's process-wide settings from OS
// environment variables layered over an environment file (the process
// environment wins), then documented defaults for every recognized key
// (spec.md §6).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds every recognized setting. Field names track the
// Configuration Keys table in spec.md §6.
type Config struct {
	// Backup
	BackupRoot        string
	BackupSource      string
	RetentionDays     int
	ParallelJobs      int
	RsyncBWLimit      int // KB/s, 0 = unlimited
	RsyncExtraOpts    string
	RsyncFlagsOverride string

	// Roster
	RosterPath  string
	ArchivePath string

	// SSH
	SSHPort    int
	SSHKeyPath string
	SSHTimeout int // seconds

	// DB
	DBTypes        string // "auto" or comma-list
	CredentialsDir string
	MySQLPwFile    string
	MySQLHost      string
	PGUser         string
	PGHost         string
	MongoHost      string
	MongoAuthDB    string
	RedisHost      string
	RedisPort      int
	SQLitePaths    string
	DBDumpRetries  int

	// API
	APIPort int
	APIBind string

	// Scheduler
	ScheduleHour   int
	ScheduleMinute int

	// Notifications
	AlertEnabled  bool
	AlertEmail    string
	NotifyMethods string // subset of {email,webhook,slack}, comma-separated
	WebhookURL    string
	WebhookSecret string
	SlackWebhook  string
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	SMTPFrom      string
	SMTPTLS       bool

	// Encryption
	EncryptEnabled bool
	EncryptMode    string // "symmetric" or "asymmetric"
	EncryptKeyPath string
	EncryptPassphrase string

	// Runtime paths, not part of the env file grammar but needed everywhere.
	RunDir string
	LogDir string
}

// defaults returns a Config populated with every documented default.
func defaults() *Config {
	return &Config{
		BackupRoot:     "/backups",
		BackupSource:   "/",
		RetentionDays:  30,
		ParallelJobs:   2,
		RsyncBWLimit:   0,
		RosterPath:     "/etc/tmserviced/servers",
		ArchivePath:    "/etc/tmserviced/servers.archived",
		SSHPort:        22,
		SSHKeyPath:     "/etc/tmserviced/id_ed25519",
		SSHTimeout:     10,
		DBTypes:        "auto",
		CredentialsDir: "/etc/tmserviced/credentials",
		DBDumpRetries:  3,
		APIPort:        7600,
		APIBind:        "0.0.0.0",
		ScheduleHour:   1,
		ScheduleMinute: 0,
		AlertEnabled:   true,
		NotifyMethods:  "email",
		SMTPPort:       587,
		EncryptEnabled: false,
		EncryptMode:    "symmetric",
		RunDir:         "/var/run/tmserviced",
		LogDir:         "/var/log/tmserviced",
	}
}

// Load reads key/value pairs from path (an env-file, parsed with godotenv)
// layered under the process environment, and returns a fully defaulted,
// validated Config. A missing file is not an error — defaults and the OS
// environment still apply. Validation failure is a config error: callers
// must refuse to start the daemon (spec.md §7.1).
func Load(path string) (*Config, error) {
	fileVals := map[string]string{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			vals, err := godotenv.Read(path)
			if err != nil {
				return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
			}
			fileVals = vals
		}
	}

	get := func(key string) (string, bool) {
		if v := os.Getenv(key); v != "" {
			return v, true
		}
		if v, ok := fileVals[key]; ok && v != "" {
			return v, true
		}
		return "", false
	}

	cfg := defaults()

	strField := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	intField := func(key string, dst *int) error {
		v, ok := get(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s must be an integer, got %q: %w", key, v, err)
		}
		*dst = n
		return nil
	}
	boolField := func(key string, dst *bool) error {
		v, ok := get(key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s must be a boolean, got %q: %w", key, v, err)
		}
		*dst = b
		return nil
	}

	strField("backup_root", &cfg.BackupRoot)
	strField("backup_source", &cfg.BackupSource)
	if err := intField("retention_days", &cfg.RetentionDays); err != nil {
		return nil, err
	}
	if err := intField("parallel_jobs", &cfg.ParallelJobs); err != nil {
		return nil, err
	}
	if err := intField("rsync_bw_limit", &cfg.RsyncBWLimit); err != nil {
		return nil, err
	}
	strField("rsync_extra_opts", &cfg.RsyncExtraOpts)
	strField("rsync_flags_override", &cfg.RsyncFlagsOverride)

	strField("roster_path", &cfg.RosterPath)
	strField("archive_path", &cfg.ArchivePath)

	if err := intField("ssh_port", &cfg.SSHPort); err != nil {
		return nil, err
	}
	strField("ssh_key_path", &cfg.SSHKeyPath)
	if err := intField("ssh_timeout", &cfg.SSHTimeout); err != nil {
		return nil, err
	}

	strField("db_types", &cfg.DBTypes)
	strField("credentials_dir", &cfg.CredentialsDir)
	strField("mysql_pw_file", &cfg.MySQLPwFile)
	strField("mysql_host", &cfg.MySQLHost)
	strField("pg_user", &cfg.PGUser)
	strField("pg_host", &cfg.PGHost)
	strField("mongo_host", &cfg.MongoHost)
	strField("mongo_auth_db", &cfg.MongoAuthDB)
	strField("redis_host", &cfg.RedisHost)
	if err := intField("redis_port", &cfg.RedisPort); err != nil {
		return nil, err
	}
	strField("sqlite_paths", &cfg.SQLitePaths)
	if err := intField("db_dump_retries", &cfg.DBDumpRetries); err != nil {
		return nil, err
	}

	if err := intField("api_port", &cfg.APIPort); err != nil {
		return nil, err
	}
	strField("api_bind", &cfg.APIBind)

	if err := intField("schedule_hour", &cfg.ScheduleHour); err != nil {
		return nil, err
	}
	if err := intField("schedule_minute", &cfg.ScheduleMinute); err != nil {
		return nil, err
	}

	if err := boolField("alert_enabled", &cfg.AlertEnabled); err != nil {
		return nil, err
	}
	strField("alert_email", &cfg.AlertEmail)
	strField("notify_methods", &cfg.NotifyMethods)
	strField("webhook_url", &cfg.WebhookURL)
	strField("webhook_secret", &cfg.WebhookSecret)
	strField("slack_webhook", &cfg.SlackWebhook)
	strField("smtp_host", &cfg.SMTPHost)
	if err := intField("smtp_port", &cfg.SMTPPort); err != nil {
		return nil, err
	}
	strField("smtp_username", &cfg.SMTPUsername)
	strField("smtp_password", &cfg.SMTPPassword)
	strField("smtp_from", &cfg.SMTPFrom)
	if err := boolField("smtp_tls", &cfg.SMTPTLS); err != nil {
		return nil, err
	}

	if err := boolField("encrypt_enabled", &cfg.EncryptEnabled); err != nil {
		return nil, err
	}
	strField("encrypt_mode", &cfg.EncryptMode)
	strField("encrypt_key_path", &cfg.EncryptKeyPath)
	strField("encrypt_passphrase", &cfg.EncryptPassphrase)

	strField("run_dir", &cfg.RunDir)
	strField("log_dir", &cfg.LogDir)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ParallelJobs < 1 {
		return fmt.Errorf("config: parallel_jobs must be >= 1, got %d", c.ParallelJobs)
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("config: retention_days must be >= 1, got %d", c.RetentionDays)
	}
	if c.ScheduleHour < 0 || c.ScheduleHour > 23 {
		return fmt.Errorf("config: schedule_hour must be in [0,23], got %d", c.ScheduleHour)
	}
	if c.ScheduleMinute < 0 || c.ScheduleMinute > 59 {
		return fmt.Errorf("config: schedule_minute must be in [0,59], got %d", c.ScheduleMinute)
	}
	if c.EncryptMode != "symmetric" && c.EncryptMode != "asymmetric" {
		return fmt.Errorf("config: encrypt_mode must be \"symmetric\" or \"asymmetric\", got %q", c.EncryptMode)
	}
	for _, m := range strings.Split(c.NotifyMethods, ",") {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		switch m {
		case "email", "webhook", "slack":
		default:
			return fmt.Errorf("config: notify_methods contains unknown channel %q", m)
		}
	}
	return nil
}

// AsMap returns the recognized settings as a string map, keyed by the same
// names used in the environment file. The webhook secret, SMTP password,
// encryption key path and encryption passphrase are not included. Used by
// the HTTP API's GET/PUT /api/settings.
func (c *Config) AsMap() map[string]string {
	return map[string]string{
		"backup_root":           c.BackupRoot,
		"backup_source":         c.BackupSource,
		"retention_days":        strconv.Itoa(c.RetentionDays),
		"parallel_jobs":         strconv.Itoa(c.ParallelJobs),
		"rsync_bw_limit":        strconv.Itoa(c.RsyncBWLimit),
		"rsync_extra_opts":      c.RsyncExtraOpts,
		"rsync_flags_override":  c.RsyncFlagsOverride,
		"roster_path":           c.RosterPath,
		"archive_path":          c.ArchivePath,
		"ssh_port":              strconv.Itoa(c.SSHPort),
		"ssh_key_path":          c.SSHKeyPath,
		"ssh_timeout":           strconv.Itoa(c.SSHTimeout),
		"db_types":              c.DBTypes,
		"credentials_dir":       c.CredentialsDir,
		"mysql_pw_file":         c.MySQLPwFile,
		"mysql_host":            c.MySQLHost,
		"pg_user":               c.PGUser,
		"pg_host":               c.PGHost,
		"mongo_host":            c.MongoHost,
		"mongo_auth_db":         c.MongoAuthDB,
		"redis_host":            c.RedisHost,
		"redis_port":            strconv.Itoa(c.RedisPort),
		"sqlite_paths":          c.SQLitePaths,
		"db_dump_retries":       strconv.Itoa(c.DBDumpRetries),
		"api_port":              strconv.Itoa(c.APIPort),
		"api_bind":              c.APIBind,
		"schedule_hour":         strconv.Itoa(c.ScheduleHour),
		"schedule_minute":       strconv.Itoa(c.ScheduleMinute),
		"alert_enabled":         strconv.FormatBool(c.AlertEnabled),
		"alert_email":           c.AlertEmail,
		"notify_methods":        c.NotifyMethods,
		"webhook_url":           c.WebhookURL,
		"slack_webhook":         c.SlackWebhook,
		"smtp_host":             c.SMTPHost,
		"smtp_port":             strconv.Itoa(c.SMTPPort),
		"smtp_username":         c.SMTPUsername,
		"smtp_from":             c.SMTPFrom,
		"smtp_tls":              strconv.FormatBool(c.SMTPTLS),
		"encrypt_enabled":       strconv.FormatBool(c.EncryptEnabled),
		"encrypt_mode":          c.EncryptMode,
	}
}

// WriteEnvFile persists vals into the env file at path using
// write-temp-then-rename, preserving single-writer-discipline with every
// other mutator in this codebase (roster, excludes, state records).
// Unrecognized keys present in the existing file are preserved verbatim.
func WriteEnvFile(path string, vals map[string]string) error {
	existing := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		if v, err := godotenv.Read(path); err == nil {
			existing = v
		}
	}
	for k, v := range vals {
		existing[k] = v
	}

	tmp, err := os.CreateTemp(dirOf(path), ".tmserviced-env-*")
	if err != nil {
		return fmt.Errorf("config: failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	var b strings.Builder
	for k, v := range existing {
		fmt.Fprintf(&b, "%s=%q\n", k, v)
	}
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("config: failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("config: failed to rename temp file into place: %w", err)
	}
	return nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
