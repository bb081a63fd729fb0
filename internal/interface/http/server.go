// Package http exposes the academy's caller-facing operations over REST.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/application/lifecycle"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/application/query"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/infrastructure/export"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/interface/http/handlers"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// AllowedOrigins for CORS. A single "*" allows every origin.
	AllowedOrigins []string

	// RateLimitPerMinute per client IP. Zero disables limiting.
	RateLimitPerMinute int

	Identity handlers.IdentityConfig

	Version string
	Debug   bool
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        60 * time.Second,
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 120,
		Version:            "dev",
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// FlagChecker reports whether a feature is enabled.
type FlagChecker interface {
	IsEnabled(feature, userID string) bool
}

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	// Write side
	Lifecycle *lifecycle.Manager

	// Read side
	Leaderboard    *query.GetLeaderboardHandler
	Progress       *query.GetProgressHandler
	Certifications *query.GetCertificationsHandler
	Modules        *query.ListModulesHandler
	Guidance       *query.GetGuidanceHandler

	// Exporter serves the XLSX leaderboard; nil disables the route.
	Exporter *export.LeaderboardExporter

	// Flags and ExportFeature gate the export route when both are set.
	Flags         FlagChecker
	ExportFeature string

	HealthChecker handlers.HealthChecker
	Logger        *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	engine     *gin.Engine
	httpServer *http.Server
	logger     *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.HealthChecker == nil {
		deps.HealthChecker = handlers.NewCompositeHealthChecker(config.Version)
	}
	if config.Debug {
		gin.SetMode(gin.DebugMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config: config,
		deps:   deps,
		engine: gin.New(),
		logger: deps.Logger.With(logger.Component("http")),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         config.Address(),
		Handler:      s.engine,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	r := s.engine

	r.Use(handlers.RequestID(s.logger))
	r.Use(handlers.Recovery(s.logger))
	r.Use(handlers.AccessLog(s.logger))
	r.Use(cors.New(s.corsConfig()))
	if s.config.RateLimitPerMinute > 0 {
		r.Use(handlers.NewRateLimiter(s.config.RateLimitPerMinute).Middleware())
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	r.GET("/health", handlers.Health(s.deps.HealthChecker))
	r.GET("/health/live", handlers.Live())
	r.GET("/health/ready", handlers.Ready(s.deps.HealthChecker))

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 - Public Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	public := r.Group("/v1")
	public.GET("/modules", s.handleListModules)
	public.GET("/modules/:moduleId", s.handleGetModule)
	public.GET("/leaderboard", s.handleGetLeaderboard)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 - Caller Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	v1 := r.Group("/v1", handlers.Identity(s.config.Identity))

	v1.POST("/sessions", s.handleStartSession)
	v1.GET("/sessions", s.handleListSessions)
	v1.GET("/sessions/:sessionId", s.handleGetSession)
	v1.POST("/sessions/:sessionId/begin", s.handleBeginSession)
	v1.POST("/sessions/:sessionId/metrics", s.handleRecordMetrics)
	v1.POST("/sessions/:sessionId/complete", s.handleCompleteSession)
	v1.POST("/sessions/:sessionId/abandon", s.handleAbandonSession)

	v1.GET("/users/:userId/progress", s.handleGetProgress)
	v1.GET("/users/:userId/certifications", s.handleGetCertifications)
	v1.GET("/modules/:moduleId/guidance", s.handleGetGuidance)

	if s.deps.Exporter != nil {
		v1.GET("/leaderboard/export", s.handleExportLeaderboard)
	}

	r.NoRoute(func(c *gin.Context) {
		handlers.AbortWithError(c, http.StatusNotFound, "not_found", "Route not found")
	})
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", handlers.HeaderRequestID, handlers.HeaderUserID},
		ExposeHeaders: []string{handlers.HeaderRequestID, "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	if len(s.config.AllowedOrigins) == 0 || (len(s.config.AllowedOrigins) == 1 && s.config.AllowedOrigins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.config.AllowedOrigins
	}
	return cfg
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Address()
}
