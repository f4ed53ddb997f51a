package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/tmbackup/tmserviced/internal/config"
	"github.com/tmbackup/tmserviced/internal/metrics"
	"github.com/tmbackup/tmserviced/internal/scheduler"
	"github.com/tmbackup/tmserviced/internal/statestore"
	"github.com/tmbackup/tmserviced/internal/supervisor"
)

// RouterConfig holds every dependency a handler needs. It is built once in
// cmd/tmserviced's main and passed to NewRouter, the same "one struct,
// populated after every component is initialized" shape the teacher's
// RouterConfig uses.
type RouterConfig struct {
	Supervisor *supervisor.Supervisor
	Store      *statestore.Store
	Config     *config.Config
	ConfigPath string
	Template   scheduler.Template

	RosterPath  string
	ArchivePath string
	BackupRoot  string
	RunDir      string
	LogDir      string
	SSHKeyPath  string
	StaticDir   string

	Version   string
	StartedAt time.Time

	// Metrics is optional; when nil, /metrics is not registered and no
	// per-request metrics middleware runs. cmd/tmserviced always sets it.
	Metrics *metrics.Collector

	Logger *zap.Logger
}

// NewRouter builds the chi router for spec.md §4.8's HTTP API: unversioned
// routes (no "/api/v1" prefix — this spec defines the wire contract
// directly), the same RequestID/RealIP/RequestLogger/Recoverer middleware
// chain the teacher's router uses, and go-chi/cors for the permissive CORS
// headers every response needs.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	statusHandler := NewStatusHandler(cfg.Supervisor, cfg.Version, cfg.StartedAt, cfg.Logger)
	backupHandler := NewBackupHandler(cfg.Supervisor, cfg.Store, cfg.RosterPath, cfg.Template, cfg.Logger)
	snapshotHandler := NewSnapshotHandler(cfg.BackupRoot, cfg.Logger)
	restoreHandler := NewRestoreHandler(cfg.Store, cfg.BackupRoot, cfg.LogDir, cfg.Logger)
	serverHandler := NewServerHandler(cfg.Store, cfg.RosterPath, cfg.ArchivePath, cfg.BackupRoot, cfg.Logger)
	excludeHandler := NewExcludeHandler(cfg.RunDir, cfg.Logger)
	settingsHandler := NewSettingsHandler(cfg.Config, cfg.ConfigPath, cfg.Store, cfg.Logger)
	sshKeyHandler := NewSSHKeyHandler(cfg.SSHKeyPath, cfg.Logger)
	logsHandler := NewLogsHandler(cfg.LogDir, cfg.Supervisor, cfg.Logger)
	systemHandler := NewSystemHandler(cfg.Logger)
	failuresHandler := NewFailuresHandler(cfg.LogDir, cfg.RosterPath, cfg.Logger)
	historyHandler := NewHistoryHandler(cfg.BackupRoot, cfg.LogDir, cfg.RosterPath, cfg.Logger)
	diskHandler := NewDiskHandler(cfg.BackupRoot, cfg.Logger)

	r.Get("/api/status", statusHandler.Status)
	r.Get("/api/processes", statusHandler.Processes)

	r.Post("/api/backup/{host}", backupHandler.Launch)
	r.Delete("/api/backup/{host}", backupHandler.Cancel)

	r.Get("/api/snapshots/{host}", snapshotHandler.List)
	r.Get("/api/browse/{host}/{date}/*", snapshotHandler.Browse)
	r.Get("/api/download/{host}/{date}/*", snapshotHandler.Download)

	r.Post("/api/restore/{host}", restoreHandler.Launch)
	r.Get("/api/restores", restoreHandler.List)
	r.Get("/api/restore-log/{name}", restoreHandler.Log)
	r.Delete("/api/restore/{id}", restoreHandler.Delete)
	r.Delete("/api/restores", restoreHandler.DeleteAll)

	r.Get("/api/servers", serverHandler.List)
	r.Post("/api/servers", serverHandler.Create)
	r.Put("/api/servers/{host}", serverHandler.Update)
	r.Delete("/api/servers/{host}", serverHandler.Delete)
	r.Get("/api/archived", serverHandler.ListArchived)
	r.Post("/api/archived/{host}/unarchive", serverHandler.Unarchive)
	r.Delete("/api/archived/{host}", serverHandler.DeleteArchived)

	r.Get("/api/excludes", excludeHandler.GetGlobal)
	r.Put("/api/excludes", excludeHandler.PutGlobal)
	r.Get("/api/excludes/{host}", excludeHandler.GetHost)
	r.Put("/api/excludes/{host}", excludeHandler.PutHost)

	r.Get("/api/settings", settingsHandler.Get)
	r.Put("/api/settings", settingsHandler.Put)

	r.Get("/api/ssh-key", sshKeyHandler.JSON)
	r.Get("/api/ssh-key/raw", sshKeyHandler.Raw)

	r.Get("/api/logs/{host}", logsHandler.ForHost)
	r.Get("/api/system", systemHandler.Get)
	r.Get("/api/failures", failuresHandler.List)
	r.Get("/api/history", historyHandler.List)
	r.Get("/api/disk", diskHandler.Get)

	// /metrics is ambient observability for the daemon process, not a
	// spec.md route — deliberately outside /api so a scraper's own
	// access policy doesn't have to reason about the rest of the surface.
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	// Static dashboard assets (spec.md §4.8) live outside this module's
	// scope (spec.md §1 Non-goals) — served straight off disk from
	// cfg.StaticDir rather than embedded, so the API still answers the
	// routes a reverse proxy or operator expects to find.
	if cfg.StaticDir != "" {
		fileServer := http.FileServer(http.Dir(cfg.StaticDir))
		r.Get("/", fileServer.ServeHTTP)
		r.Get("/style.css", fileServer.ServeHTTP)
		r.Get("/app.js", fileServer.ServeHTTP)
		r.Get("/favicon.ico", fileServer.ServeHTTP)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		ErrNotFound(w, "no such route")
	})

	return r
}
