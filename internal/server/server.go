// Package server is the composition root: it builds the store, clients,
// services and handlers from the configuration, mounts the routes, and owns
// the lifecycle of the HTTP listener and the background workers.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/repo-analyser/internal/auth"
	"github.com/sakif/repo-analyser/internal/config"
	"github.com/sakif/repo-analyser/internal/handler"
	"github.com/sakif/repo-analyser/internal/llm"
	"github.com/sakif/repo-analyser/internal/metrics"
	"github.com/sakif/repo-analyser/internal/middleware"
	"github.com/sakif/repo-analyser/internal/queue"
	"github.com/sakif/repo-analyser/internal/repository/sqlstore"
	"github.com/sakif/repo-analyser/internal/scheduler"
	"github.com/sakif/repo-analyser/internal/service"
	"github.com/sakif/repo-analyser/internal/sourcehost"
)

const shutdownTimeout = 30 * time.Second

// Options overrides pieces of the wiring. The zero value is production.
type Options struct {
	// HTTPClient is used for the source host and the LLM provider.
	HTTPClient *http.Client
}

// Server owns every long-lived dependency. Close releases them in reverse
// order of construction.
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	db      *sqlstore.DB
	metrics *metrics.Metrics
	queue   queue.Runner
	sched   *scheduler.Scheduler
	limiter *middleware.RateLimiter
	closers []io.Closer

	repos *service.RepositoryService
}

// New connects to the database (applying migrations) and wires the service
// graph. Nothing runs in the background until Start.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Server, error) {
	db, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		db:      db,
		metrics: metrics.New(),
		limiter: middleware.NewRateLimiter(cfg.RateLimit.AnalysePerMinute, logger),
	}

	if err := s.setupRoutes(opts); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) setupRoutes(opts Options) error {
	cfg := s.config

	sealer, err := auth.NewSealer(cfg.Auth.SessionSecret)
	if err != nil {
		return fmt.Errorf("creating token sealer: %w", err)
	}
	tokens, err := auth.NewTokenService(cfg.Auth.SessionSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	reviewer, err := llm.New(llm.Config{
		Provider:   cfg.LLM.Provider,
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.Model,
		BaseURL:    cfg.LLM.BaseURL,
		HTTPClient: opts.HTTPClient,
	})
	if err != nil {
		return fmt.Errorf("creating llm client: %w", err)
	}
	host := sourcehost.New(sourcehost.Options{
		BaseURL:      cfg.GitHub.BaseURL,
		MaxBlobBytes: cfg.GitHub.MaxBlobBytes,
		HTTPClient:   opts.HTTPClient,
	}, s.logger)
	github := auth.NewGitHubProvider(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.GitHub.CallbackURL, cfg.GitHub.BaseURL)

	// Services. The analysis service comes first: the worker drives it, the
	// queue drives the worker, and the webhook receiver feeds the queue.
	analyses := service.NewAnalysisService(s.db, s.db, host, reviewer, service.AnalysisOptions{
		MaxFiles:        cfg.Analysis.MaxFiles,
		Extensions:      cfg.Analysis.Extensions,
		FileCharLimit:   cfg.Analysis.FileCharLimit,
		ReadmeLimit:     cfg.Analysis.ReadmeLimit,
		BlobConcurrency: cfg.Analysis.BlobConcurrency,
		BlobTimeout:     cfg.Analysis.BlobTimeout,
		LLMTimeout:      cfg.Analysis.LLMTimeout,
		RunTimeout:      cfg.Analysis.RunTimeout,
	}, s.metrics, s.logger)
	worker := service.NewAnalysisWorker(s.db, sealer, analyses, s.logger)

	switch cfg.Queue.Driver {
	case "redis":
		client, err := queue.NewRedisClient(cfg.Queue.RedisURL)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, client)
		s.queue = queue.NewRedis(client, "", cfg.Queue.Workers, worker.Handle, s.metrics, s.logger)
	default:
		s.queue = queue.NewMemory(0, cfg.Queue.Workers, worker.Handle, s.metrics, s.logger)
	}

	s.repos = service.NewRepositoryService(s.db, s.db, s.db, host, sealer, cfg.Server.PublicBaseURL, s.metrics, s.logger)
	webhooks := service.NewWebhookService(s.db, s.db, s.queue, cfg.Webhook.Secret, s.metrics, s.logger)
	snippets := service.NewSnippetService(reviewer, s.logger)
	logins := service.NewAuthService(s.db, tokens, sealer, s.logger)

	if cfg.Sync.Schedule != "" {
		s.sched, err = scheduler.New(cfg.Sync.Schedule, s.repos, 0, s.logger)
		if err != nil {
			return err
		}
	}

	repoHandler := handler.NewRepositoryHandler(s.repos, s.logger)
	analysisHandler := handler.NewAnalysisHandler(analyses, s.logger)
	badgeHandler := handler.NewBadgeHandler(analyses, s.logger)
	webhookHandler := handler.NewWebhookHandler(webhooks, s.logger)
	snippetHandler := handler.NewSnippetHandler(snippets, s.logger)
	secure := strings.HasPrefix(cfg.Server.PublicBaseURL, "https://")
	authHandler := handler.NewAuthHandler(github, logins, tokens.TTL(), secure, s.logger)

	// === Global middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(s.metrics.Instrument)

	// === Public routes ===
	s.router.Get("/healthz", handler.HandleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())
	s.router.Get("/auth/github/login", authHandler.HandleGitHubLogin)
	s.router.Get("/auth/github/callback", authHandler.HandleGitHubCallback)
	s.router.Post("/auth/logout", authHandler.HandleLogout)
	s.router.Get("/repositories/{id}/badge", badgeHandler.HandleBadge)
	s.router.Post(service.WebhookPath, webhookHandler.HandleReceive)

	// === Signed-in routes ===
	s.router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens, s.db, sealer, s.logger))

		r.Get("/me", authHandler.HandleMe)

		r.Get("/repositories", repoHandler.HandleList)
		r.Post("/repositories/sync", repoHandler.HandleSync)
		r.Get("/repositories/{id}", repoHandler.HandleGet)
		r.With(s.limiter.Handler).Post("/repositories/{id}/analyse", analysisHandler.HandleAnalyse)
		r.Get("/repositories/{id}/analyse", analysisHandler.HandleHistory)
		r.Get("/repositories/{id}/compare", analysisHandler.HandleCompare)
		r.Get("/repositories/{id}/webhook", repoHandler.HandleWebhookConfig)
		r.Post("/repositories/{id}/webhook", repoHandler.HandleUpdateWebhook)
		r.Get("/repositories/{id}/webhook/logs", repoHandler.HandleWebhookLogs)

		r.Get("/analyses", analysisHandler.HandleList)
		r.Get("/analytics", analysisHandler.HandleAnalytics)
		r.With(s.limiter.Handler).Post("/snippets/analyse", snippetHandler.HandleAnalyse)
	})

	return nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Resync refreshes every stored user's repositories once.
func (s *Server) Resync(ctx context.Context) (int, error) {
	return s.repos.SyncAll(ctx)
}

// Start runs the HTTP server, the analysis queue and the resync schedule until
// SIGINT or SIGTERM, then drains them in order.
func (s *Server) Start() error {
	// Analysis requests block on the model, so writes may take up to a full run.
	writeTimeout := s.config.Analysis.RunTimeout + 15*time.Second
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.queue.Start()
	if s.sched != nil {
		s.sched.Start()
	}

	sweepDone := make(chan struct{})
	go s.sweepLimiters(sweepDone)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("url", s.config.Server.PublicBaseURL),
			slog.String("database", s.db.Driver()),
			slog.String("queue", s.config.Queue.Driver),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}
	close(sweepDone)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("graceful shutdown failed: %w", err))
	}
	if err := s.Close(ctx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if runErr == nil {
		s.logger.Info("server stopped gracefully")
	}
	return runErr
}

// Close stops the background workers and closes the database. It is safe to
// call on a server that was never started.
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	if s.sched != nil {
		if err := s.sched.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping scheduler: %w", err))
		}
	}
	if err := s.queue.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping queue: %w", err))
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Server) sweepLimiters(done <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.limiter.Sweep()
		}
	}
}
