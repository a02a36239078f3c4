// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slackapi "github.com/slack-go/slack"

	"github.com/bissquit/incident-responder/internal/config"
	"github.com/bissquit/incident-responder/internal/incident"
	incidentpostgres "github.com/bissquit/incident-responder/internal/incident/postgres"
	"github.com/bissquit/incident-responder/internal/pkg/ctxlog"
	"github.com/bissquit/incident-responder/internal/pkg/httputil"
	"github.com/bissquit/incident-responder/internal/pkg/metrics"
	"github.com/bissquit/incident-responder/internal/pkg/postgres"
	"github.com/bissquit/incident-responder/internal/reconciler"
	"github.com/bissquit/incident-responder/internal/reminder"
	reminderpostgres "github.com/bissquit/incident-responder/internal/reminder/postgres"
	"github.com/bissquit/incident-responder/internal/slack"
	"github.com/bissquit/incident-responder/internal/version"
	"github.com/bissquit/incident-responder/internal/webhook"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server

	scheduler *reminder.Scheduler
	userCache *slack.UserCache

	bgCancel context.CancelFunc
	bgDone   sync.WaitGroup
}

// New creates a new application instance: it migrates the database,
// builds the Slack dispatch pipeline and prepares both HTTP servers.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := postgres.Migrate(cfg.Database.MigrationsURL, cfg.Database.URL); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MinIdleConns:    cfg.Database.MinIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	bgCtx, bgCancel := context.WithCancel(ctxlog.WithLogger(context.Background(), logger))

	app := &App{
		config:   cfg,
		logger:   logger,
		db:       db,
		bgCancel: bgCancel,
	}

	router, err := app.setup()
	if err != nil {
		db.Close()
		bgCancel()
		return nil, fmt.Errorf("setup: %w", err)
	}

	app.bgDone.Add(1)
	go func() {
		defer app.bgDone.Done()
		app.collectDBMetrics(bgCtx)
	}()

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	app.startBackground(bgCtx)

	return app, nil
}

// setup wires repositories, the Slack client, the dispatch registries and
// the reconciler, and returns the main router.
func (a *App) setup() (*chi.Mux, error) {
	repo := incidentpostgres.NewRepository(a.db)
	incidents := incident.NewService(repo, nil)

	client := slack.NewClient(
		slackapi.New(a.config.Slack.APIToken),
		slack.ClientConfig{
			MaxRetryAttempts: a.config.Slack.MaxRetryAttempts,
			RetryBaseBackoff: a.config.Slack.RetryBaseBackoff,
			PostRateLimit:    a.config.Slack.PostRateLimit,
		},
	)

	channels := slack.NewChannelManager(client, repo, a.config.Slack.SiteURL)
	headline := slack.NewHeadlineManager(client, repo, a.config.Slack.IncidentChannelID)

	// The reconciler listens to service mutations and the service is a
	// reconciler dependency via the handlers, so the listener is installed
	// after construction.
	incidents.SetListener(reconciler.New(repo, client, channels, headline))

	handlers := slack.NewHandlers(incidents, client, channels, headline)

	commands := slack.NewCommandRegistry()
	actions := slack.NewActionRegistry()
	modals := slack.NewModalRegistry()
	events := slack.NewEventRegistry()

	if err := handlers.RegisterCommands(commands); err != nil {
		return nil, err
	}
	if err := handlers.RegisterActions(actions); err != nil {
		return nil, err
	}
	if err := handlers.RegisterModals(modals); err != nil {
		return nil, err
	}
	if err := handlers.RegisterEvents(events, commands, repo); err != nil {
		return nil, err
	}

	a.scheduler = reminder.NewScheduler(
		incidents,
		channels,
		reminderpostgres.NewStore(a.db),
		reminder.Definitions(incidents, a.config.Reminders.CloseHourStart, a.config.Reminders.CloseHourEnd),
	)
	a.userCache = slack.NewUserCache(client, repo)

	webhookHandler := webhook.NewHandler(
		a.config.Slack.SigningSecret,
		commands, actions, modals, events,
		incidents, repo,
	)

	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Mount("/slack", webhookHandler.Routes())

	return r, nil
}

// startBackground launches the reminder scheduler and the periodic user
// cache refresh.
func (a *App) startBackground(ctx context.Context) {
	a.bgDone.Add(2)

	go func() {
		defer a.bgDone.Done()
		a.scheduler.Run(ctx, a.config.Reminders.TickInterval)
	}()

	go func() {
		defer a.bgDone.Done()
		a.refreshUserCache(ctx)
	}()
}

func (a *App) refreshUserCache(ctx context.Context) {
	if _, err := a.userCache.Refresh(ctx); err != nil {
		a.logger.Error("initial user cache refresh failed", "error", err)
	}

	ticker := time.NewTicker(a.config.Reminders.UserCacheRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := a.userCache.Refresh(ctx); err != nil {
				a.logger.Error("user cache refresh failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.bgCancel()
	a.bgDone.Wait()

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.db.Close()

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
