// Command tmserviced is the backup daemon: it loads configuration and the
// server roster, runs the scheduler tick loop, and serves the HTTP control
// API, all as one long-running process (spec.md §3).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tmbackup/tmserviced/internal/api"
	"github.com/tmbackup/tmserviced/internal/config"
	"github.com/tmbackup/tmserviced/internal/crypter"
	"github.com/tmbackup/tmserviced/internal/dbdump"
	"github.com/tmbackup/tmserviced/internal/metrics"
	"github.com/tmbackup/tmserviced/internal/notifier"
	"github.com/tmbackup/tmserviced/internal/pipeline"
	"github.com/tmbackup/tmserviced/internal/scheduler"
	"github.com/tmbackup/tmserviced/internal/sshkey"
	"github.com/tmbackup/tmserviced/internal/statestore"
	"github.com/tmbackup/tmserviced/internal/supervisor"
	"github.com/tmbackup/tmserviced/internal/transport"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type appConfig struct {
	envPath   string
	logLevel  string
	staticDir string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &appConfig{}

	root := &cobra.Command{
		Use:   "tmserviced",
		Short: "tmserviced — fleet backup orchestrator daemon",
		Long: `tmserviced schedules and supervises nightly and interval backups across
a fleet of remote hosts over ssh/rsync, dumps remote databases, and
exposes an HTTP API for status, manual runs, restores, and roster
administration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.envPath, "env-file", envOrDefault("TMSERVICED_ENV_FILE", "/etc/tmserviced/tmserviced.env"), "Environment file with tmserviced settings")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("TMSERVICED_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.staticDir, "static-dir", envOrDefault("TMSERVICED_STATIC_DIR", ""), "Directory of dashboard assets to serve at / (empty disables)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tmserviced %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, appCfg *appConfig) error {
	logger, err := buildLogger(appCfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load(appCfg.envPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("starting tmserviced",
		zap.String("version", version),
		zap.String("env_file", appCfg.envPath),
		zap.Int("api_port", cfg.APIPort),
		zap.String("backup_root", cfg.BackupRoot),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- Singleton lock ---
	pidPath := filepath.Join(cfg.RunDir, "tmserviced.pid")
	if err := acquireDaemonLock(pidPath); err != nil {
		return fmt.Errorf("failed to acquire daemon lock: %w", err)
	}
	defer releaseDaemonLock(pidPath)

	// --- SSH identity ---
	if err := sshkey.EnsureKeypair(cfg.SSHKeyPath); err != nil {
		return fmt.Errorf("failed to provision ssh keypair: %w", err)
	}

	// --- State store ---
	store, err := statestore.New(filepath.Join(cfg.RunDir, "state"))
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}

	// --- Notifier ---
	notify := notifier.New(notifierConfig(cfg), logger)

	// --- Supervisor ---
	sup := supervisor.New(store, pipeline.Run, notify, logger)

	// --- Metrics ---
	collector := metrics.New(sup)
	sup.SetMetrics(collector)

	// --- Scheduler ---
	schedCfg := schedulerConfig(cfg)
	sched, err := scheduler.New(schedCfg, store, sup, notify, reloadFunc(appCfg.envPath, logger), logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			logger.Warn("scheduler shutdown error", zap.Error(err))
		}
	}()

	// --- HTTP server ---
	router := api.NewRouter(api.RouterConfig{
		Supervisor:  sup,
		Store:       store,
		Config:      cfg,
		ConfigPath:  appCfg.envPath,
		Template:    schedCfg.Template,
		RosterPath:  cfg.RosterPath,
		ArchivePath: cfg.ArchivePath,
		BackupRoot:  cfg.BackupRoot,
		RunDir:      cfg.RunDir,
		LogDir:      cfg.LogDir,
		SSHKeyPath:  cfg.SSHKeyPath,
		StaticDir:   appCfg.staticDir,
		Version:     version,
		StartedAt:   time.Now(),
		Metrics:     collector,
		Logger:      logger,
	})

	httpSrv := &http.Server{
		Addr:              cfg.APIBind + ":" + strconv.Itoa(cfg.APIPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // archive downloads stream large snapshots
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down tmserviced")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("tmserviced stopped")
	return nil
}

// notifierConfig translates config.Config's flat env-file fields into
// notifier.Config's typed channel list.
func notifierConfig(cfg *config.Config) notifier.Config {
	var methods []notifier.Channel
	for _, m := range strings.Split(cfg.NotifyMethods, ",") {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		methods = append(methods, notifier.Channel(m))
	}
	return notifier.Config{
		AlertEnabled:    cfg.AlertEnabled,
		AlertEmail:      cfg.AlertEmail,
		Methods:         methods,
		SMTPHost:        cfg.SMTPHost,
		SMTPPort:        cfg.SMTPPort,
		SMTPUsername:    cfg.SMTPUsername,
		SMTPPassword:    cfg.SMTPPassword,
		SMTPFrom:        cfg.SMTPFrom,
		SMTPTLS:         cfg.SMTPTLS,
		WebhookURL:      cfg.WebhookURL,
		WebhookSecret:   cfg.WebhookSecret,
		SlackWebhookURL: cfg.SlackWebhook,
	}
}

// schedulerConfig builds the scheduler.Config (and its embedded pipeline
// Template) that every run derives from, translating the comma-separated
// sqlite_paths env value into dbdump.Config's slice form.
func schedulerConfig(cfg *config.Config) scheduler.Config {
	var sqlitePaths []string
	for _, p := range strings.Split(cfg.SQLitePaths, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			sqlitePaths = append(sqlitePaths, p)
		}
	}

	return scheduler.Config{
		RosterPath:     cfg.RosterPath,
		ArchivePath:    cfg.ArchivePath,
		ScheduleHour:   cfg.ScheduleHour,
		ScheduleMinute: cfg.ScheduleMinute,
		ParallelJobs:   cfg.ParallelJobs,
		Template: scheduler.Template{
			BackupRoot:    cfg.BackupRoot,
			SourceRoot:    cfg.BackupSource,
			RemoteSQLDir:  "~/sql",
			RunDir:        cfg.RunDir,
			LogDir:        cfg.LogDir,
			RetentionDays: cfg.RetentionDays,
			TransportOpts: transport.Options{
				SSHPort:        cfg.SSHPort,
				SSHKeyPath:     cfg.SSHKeyPath,
				SSHTimeoutSecs: cfg.SSHTimeout,
				BWLimitKBps:    cfg.RsyncBWLimit,
				ExtraRsyncOpts: cfg.RsyncExtraOpts,
				FlagsOverride:  cfg.RsyncFlagsOverride,
			},
			DBConfig: dbdump.Config{
				DBTypes:        cfg.DBTypes,
				CredentialsDir: cfg.CredentialsDir,
				Retries:        cfg.DBDumpRetries,
				MySQLPwFile:    cfg.MySQLPwFile,
				MySQLHost:      cfg.MySQLHost,
				PGUser:         cfg.PGUser,
				PGHost:         cfg.PGHost,
				MongoHost:      cfg.MongoHost,
				MongoAuthDB:    cfg.MongoAuthDB,
				RedisHost:      cfg.RedisHost,
				RedisPort:      cfg.RedisPort,
				SQLitePaths:    sqlitePaths,
			},
			SSHPort:           cfg.SSHPort,
			SSHKeyPath:        cfg.SSHKeyPath,
			EncryptEnabled:    cfg.EncryptEnabled,
			EncryptMode:       crypter.Mode(cfg.EncryptMode),
			EncryptKeyPath:    cfg.EncryptKeyPath,
			EncryptPassphrase: cfg.EncryptPassphrase,
		},
	}
}

// reloadFunc re-reads the env file and builds a fresh scheduler.Config,
// called by the scheduler's reload gate after the API's PUT /api/settings
// marks a reload pending (spec.md §4.7 gate 4).
func reloadFunc(envPath string, logger *zap.Logger) scheduler.ReloadFunc {
	return func() (scheduler.Config, error) {
		cfg, err := config.Load(envPath)
		if err != nil {
			return scheduler.Config{}, fmt.Errorf("reload: failed to reload config: %w", err)
		}
		logger.Info("scheduler config reloaded", zap.String("env_file", envPath))
		return schedulerConfig(cfg), nil
	}
}

func acquireDaemonLock(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid > 0 {
			if proc, err := os.FindProcess(pid); err == nil && proc.Signal(syscall.Signal(0)) == nil {
				return fmt.Errorf("tmserviced already running with pid %d (lock %s)", pid, path)
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create run dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmserviced-pid-*")
	if err != nil {
		return fmt.Errorf("failed to create pid lock temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write pid lock: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func releaseDaemonLock(path string) {
	os.Remove(path)
}

func buildLogger(level string) (*zap.Logger, error) {
	var zcfg zap.Config

	switch level {
	case "debug":
		zcfg = zap.NewDevelopmentConfig()
	default:
		zcfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zcfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zcfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return zcfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
