// Package server wires the store, services, handlers and routes together and
// runs the HTTP server with graceful shutdown.
//
//	config → store (sqlite | mongo) → services → handlers → chi routes
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/quizapp/internal/auth"
	"github.com/sakif/quizapp/internal/config"
	"github.com/sakif/quizapp/internal/handler"
	"github.com/sakif/quizapp/internal/middleware"
	"github.com/sakif/quizapp/internal/repository"
	mongoRepo "github.com/sakif/quizapp/internal/repository/mongo"
	sqliteRepo "github.com/sakif/quizapp/internal/repository/sqlite"
	"github.com/sakif/quizapp/internal/service"
)

// shutdownTimeout is how long in-flight requests get to finish.
const shutdownTimeout = 30 * time.Second

// Server owns the router and the store. The store is closed when Start
// returns.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	store  repository.UserRepository
}

// New opens the store selected by cfg.Store and builds the server on it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s, err := NewWithStore(cfg, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return s, nil
}

// NewWithStore builds the server on an already opened store. The server
// takes ownership of store.
func NewWithStore(cfg *config.Config, store repository.UserRepository, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		store:  store,
	}

	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// OpenStore opens the configured backend. For sqlite the parent directory of
// DBPath is created when missing.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.UserRepository, error) {
	switch cfg.Store {
	case config.StoreMongo:
		store, err := mongoRepo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("opening mongo store: %w", err)
		}
		return store, nil

	case config.StoreSQLite, "":
		if cfg.DBPath != ":memory:" {
			dir := filepath.Dir(cfg.DBPath)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
			}
		}
		store, err := sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures middleware and routes.
//
//	GET    /                        status
//	GET    /api/test                status
//	POST   /api/auth/signup
//	POST   /api/auth/login
//	GET    /api/auth/me             bearer
//	GET    /api/scores              bearer
//	POST   /api/scores              bearer
//	GET    /api/scores/diamonds     bearer
//	GET    /api/favourites          bearer
//	POST   /api/favourites          bearer
//	DELETE /api/favourites          bearer
//	DELETE /api/favourites/{id}     bearer
func (s *Server) setupRoutes() error {
	tokens, err := auth.NewTokenService(s.config.JWTSecret, s.config.TokenTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	passwords, err := auth.NewPasswordService(auth.Algorithm(s.config.PasswordAlgorithm), s.config.BcryptCost)
	if err != nil {
		return fmt.Errorf("creating password service: %w", err)
	}

	accounts := service.NewAccountService(s.store, tokens, passwords, s.logger)
	scores := service.NewScoreService(s.store, s.logger)
	favourites := service.NewFavouriteService(s.store, s.logger)

	authHandler := handler.NewAuthHandler(accounts, s.logger)
	scoreHandler := handler.NewScoreHandler(scores, s.logger)
	favouriteHandler := handler.NewFavouriteHandler(favourites, s.logger)
	healthHandler := handler.NewHealthHandler(s.store, s.logger)

	// order matters: the request ID must exist before the logger reads it,
	// and CORS must answer preflights before routing can 405 them
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.CORS(s.config.CORSAllowedOrigins))

	s.router.NotFound(healthHandler.HandleNotFound)
	s.router.MethodNotAllowed(healthHandler.HandleMethodNotAllowed)

	s.router.Get("/", healthHandler.HandleRoot)

	requireAuth := auth.RequireAuth(tokens)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/test", healthHandler.HandleTest)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", authHandler.HandleSignup)
			r.Post("/login", authHandler.HandleLogin)
			r.With(requireAuth).Get("/me", authHandler.HandleMe)
		})

		r.Route("/scores", func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/", scoreHandler.HandleList)
			r.Post("/", scoreHandler.HandleSubmit)
			r.Get("/diamonds", scoreHandler.HandleDiamonds)
		})

		r.Route("/favourites", func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/", favouriteHandler.HandleList)
			r.Post("/", favouriteHandler.HandleAdd)
			r.Delete("/", favouriteHandler.HandleClear)
			r.Delete("/{id}", favouriteHandler.HandleRemove)
		})
	})

	s.logger.Debug("routes configured",
		slog.String("store", s.config.Store),
		slog.String("passwordAlgorithm", string(passwords.Algorithm())),
	)
	return nil
}

// Start serves until SIGINT or SIGTERM, then drains in-flight requests and
// closes the store.
func (s *Server) Start() error {
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Error("closing store", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("store", s.config.Store),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
