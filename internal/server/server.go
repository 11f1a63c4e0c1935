// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects storage, services,
// handlers, middleware and routes, and owns the lifecycle of everything it
// opened:
//
//	sqlite.DB ─┬─ UserDB    ─→ AuthService       ─→ AuthHandler
//	           └─ ProjectDB ─→ ProjectService    ─→ ProjectHandler
//	kvstore (memory | redis) ─→ otp.Manager, GenerationService ─→ GenerationHandler
//	janitor ─→ sweeps sessions, challenges and throttle buckets
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/promptforge/internal/auth"
	"github.com/sakif/promptforge/internal/config"
	"github.com/sakif/promptforge/internal/handler"
	"github.com/sakif/promptforge/internal/janitor"
	"github.com/sakif/promptforge/internal/kvstore"
	"github.com/sakif/promptforge/internal/llm"
	"github.com/sakif/promptforge/internal/mailer"
	"github.com/sakif/promptforge/internal/middleware"
	"github.com/sakif/promptforge/internal/model"
	"github.com/sakif/promptforge/internal/otp"
	sqliteRepo "github.com/sakif/promptforge/internal/repository/sqlite"
	"github.com/sakif/promptforge/internal/service"
)

const (
	shutdownTimeout = 30 * time.Second
	// writeMargin is added to the generation timeout so the server can still
	// write a 504 after the model call gives up.
	writeMargin = 15 * time.Second
)

// Deps are the collaborators built outside the server. Redis may be nil, in
// which case sessions and challenges live in process memory.
type Deps struct {
	Generator llm.Generator
	Mailer    mailer.Sender
	Redis     *redis.Client
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and the janitor goroutine. Run
// stops the janitor and closes the database (and the Redis client, if any)
// on its way out; Close does the same for servers that never ran.
type Server struct {
	router  *chi.Mux
	config  config.Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	redis   *redis.Client
	janitor *janitor.Janitor
}

// New opens the database and wires every layer.
//
// IMPORT ALIAS:
// repository/sqlite is imported as `sqliteRepo` so it is not confused with
// the modernc.org/sqlite driver package.
func New(cfg config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Generator == nil {
		return nil, errors.New("server: a text generator is required")
	}
	if deps.Mailer == nil {
		return nil, errors.New("server: a mail sender is required")
	}

	if dir := filepath.Dir(cfg.DBPath); cfg.DBPath != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		redis:  deps.Redis,
	}
	if err := s.setupRoutes(deps); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// stores picks the keyed store backend. Redis entries also get a TTL one
// sweep interval past the logical TTL, as a backstop for the janitor.
func (s *Server) stores() (kvstore.Store[model.Session], kvstore.Store[otp.Challenge]) {
	if s.redis == nil {
		return kvstore.NewMemory[model.Session](), kvstore.NewMemory[otp.Challenge]()
	}
	prefix := s.config.Redis.Prefix
	sweep := s.config.Session.SweepInterval.D()
	return kvstore.NewRedis[model.Session](s.redis, prefix+":session", s.config.Session.TTL.D()+sweep),
		kvstore.NewRedis[otp.Challenge](s.redis, prefix+":otp", s.config.OTP.TTL.D()+sweep)
}

// sizeOf returns the entry count of stores that can report it cheaply. The
// in-process store can; Redis would need a SCAN, so it reports nothing.
func sizeOf(store any) func() int {
	if sized, ok := store.(interface{ Len() int }); ok {
		return sized.Len
	}
	return nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE (everything under /api):
//
//	GET    /health                          → liveness
//	POST   /send-otp, /verify-otp-register  → registration
//	POST   /send-otp-login, /verify-otp-login → login
//	POST   /register, /login                → legacy, always 400
//	POST   /optimize-prompt, /generate-code → generation pipeline
//	GET    /download-zip/{session_id}       → all files as zip
//	GET    /download-file/{session_id}/{index}
//	-- bearer token required --
//	GET    /verify-token
//	POST   /save-project
//	GET    /projects
//	GET    /project/{id}, DELETE /project/{id}
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID gives each request an id (also read by our Logger)
// 2. RealIP extracts the client IP from proxy headers
// 3. Logger logs each request with timing info
// 4. Recoverer catches panics and returns 500 instead of crashing
// 5. CORS answers browser preflights before routing
func (s *Server) setupRoutes(deps Deps) error {
	cfg := s.config

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.CORS(cfg.AllowedOrigins))

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL.D())
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	sessions, challenges := s.stores()
	otps := otp.NewManager(challenges, cfg.OTP.TTL.D())
	throttle := otp.NewThrottle(cfg.OTP.ResendInterval.D())

	authService := service.NewAuthService(s.db.Users(), otps, throttle, deps.Mailer,
		tokens, auth.NewPasswordService(), s.logger)
	generationService := service.NewGenerationService(deps.Generator, sessions, service.GenerationConfig{
		OptimizeTimeout: cfg.LLM.OptimizeTimeout.D(),
		GenerateTimeout: cfg.LLM.GenerateTimeout.D(),
		SessionTTL:      cfg.Session.TTL.D(),
	}, s.logger)
	projectService := service.NewProjectService(s.db.Projects(), cfg.History.Keep, s.logger)

	s.janitor = janitor.New(cfg.Session.SweepInterval.D(), s.logger,
		janitor.Task{Name: "sessions", Run: generationService.Sweep, Size: sizeOf(sessions)},
		janitor.Task{Name: "otp-challenges", Run: otps.Sweep, Size: sizeOf(challenges)},
		janitor.Task{Name: "otp-throttle", Run: func(context.Context) (int, error) {
			return throttle.Prune(), nil
		}},
	)

	authHandler := handler.NewAuthHandler(authService, s.logger)
	generationHandler := handler.NewGenerationHandler(generationService, s.logger)
	projectHandler := handler.NewProjectHandler(projectService, s.logger)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", handler.HandleHealth)

		r.Post("/send-otp", authHandler.HandleSendOTP)
		r.Post("/verify-otp-register", authHandler.HandleVerifyRegister)
		r.Post("/send-otp-login", authHandler.HandleSendLoginOTP)
		r.Post("/verify-otp-login", authHandler.HandleVerifyLogin)
		r.Post("/register", authHandler.HandleLegacyRegister)
		r.Post("/login", authHandler.HandleLegacyLogin)

		r.Post("/optimize-prompt", generationHandler.HandleOptimize)
		r.Post("/generate-code", generationHandler.HandleGenerate)
		r.Get("/download-zip/{session_id}", generationHandler.HandleDownloadZip)
		r.Get("/download-file/{session_id}/{index}", generationHandler.HandleDownloadFile)

		// Protected routes: RequireAuth puts the caller's identity in the context.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Get("/verify-token", authHandler.HandleVerifyToken)
			r.Post("/save-project", projectHandler.HandleSave)
			r.Get("/projects", projectHandler.HandleList)
			r.Get("/project/{id}", projectHandler.HandleGet)
			r.Delete("/project/{id}", projectHandler.HandleDelete)
		})
	})

	return nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sweep runs every janitor task once and returns the number of entries removed.
func (s *Server) Sweep(ctx context.Context) int {
	return s.janitor.RunOnce(ctx)
}

// Start runs the server until SIGINT or SIGTERM.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves HTTP until ctx is cancelled or the listener fails.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new connections and let in-flight requests finish (30s)
//  2. Stop the janitor so no sweep runs against closed stores
//  3. Close the database and the Redis client
//
// The errgroup ties the two goroutines together: whichever finishes first
// with an error cancels the other's context.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(s.config.Port)),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.config.LLM.GenerateTimeout.D() + writeMargin,
		IdleTimeout:       60 * time.Second,
	}

	s.janitor.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d/api/health", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.Bool("redis", s.redis != nil),
		)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}

// Close stops the janitor and releases the database and Redis connections.
// It is safe to call more than once.
func (s *Server) Close() error {
	s.janitor.Stop()
	var errs []error
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
		s.db = nil
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing redis: %w", err))
		}
		s.redis = nil
	}
	return errors.Join(errs...)
}
