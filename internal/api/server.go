package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dili-feedback-server/internal/auth"
	"github.com/dili-feedback-server/internal/domain"
	"github.com/dili-feedback-server/internal/feedback"
	"github.com/dili-feedback-server/internal/metrics"
	"github.com/dili-feedback-server/internal/middleware"
	"github.com/dili-feedback-server/internal/mlclient"
	"github.com/dili-feedback-server/internal/progress"
	"github.com/dili-feedback-server/internal/training"
	"github.com/dili-feedback-server/internal/version"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Predictor is the inference service as seen by the API
type Predictor interface {
	Predict(ctx context.Context, in domain.ClinicalInputs) (*domain.ModelOutput, error)
	Extract(ctx context.Context, filename string, r io.Reader) (*mlclient.LabValues, error)
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// Dependencies are the services the routes are wired to
type Dependencies struct {
	Auth      *auth.Service
	Limiter   *auth.LoginLimiter
	Feedback  *feedback.Recorder
	Versions  *version.Ledger
	Training  *training.Orchestrator
	ML        Predictor
	Hub       *progress.Hub
	Metrics   *metrics.Metrics
	BatchSize int

	// Critical checks fail /health; Optional checks only degrade it.
	Critical map[string]HealthCheck
	Optional map[string]HealthCheck
}

// Server represents the HTTP server
type Server struct {
	config *domain.Config
	deps   Dependencies
	guard  *auth.Middleware
	router *gin.Engine
	server *http.Server
	log    *logrus.Logger
}

// NewServer creates a new HTTP server instance
func NewServer(config *domain.Config, deps Dependencies, logger *logrus.Logger) *Server {
	if strings.EqualFold(config.Environment, "production") {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID(logger))
	router.Use(middleware.AuditLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(config.Server.AllowedOrigins))
	if deps.Metrics != nil {
		router.Use(middleware.Metrics(deps.Metrics.HTTP))
	}

	server := &Server{
		config: config,
		deps:   deps,
		guard:  auth.NewMiddleware(deps.Auth, logger),
		router: router,
		log:    logger,
	}
	server.setupRoutes()
	return server
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then drains in-flight requests
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start over an existing listener. Open progress streams are
// closed as soon as shutdown begins so they do not hold it up.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	cfg := s.config.Server
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	if s.deps.Hub != nil {
		s.server.RegisterOnShutdown(s.deps.Hub.Close)
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", ln.Addr().String()).Info("HTTP server listening")
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.log.Info("HTTP server shutting down")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	api := s.router.Group("/api")

	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/signup", s.handleSignup)
		if s.deps.Limiter != nil {
			authRoutes.POST("/login", s.deps.Limiter.Handler(), s.handleLogin)
		} else {
			authRoutes.POST("/login", s.handleLogin)
		}
		authRoutes.GET("/me", s.guard.RequireAuth(), s.handleMe)
	}

	reviewers := s.guard.RequireRole(domain.RolePharmacist, domain.RoleAdmin)
	admins := s.guard.RequireRole(domain.RoleAdmin)

	protected := api.Group("", s.guard.RequireAuth())
	{
		protected.POST("/feedback", s.handleRecordFeedback)
		protected.GET("/feedback", reviewers, s.handleListFeedback)
		protected.GET("/feedback/stats", reviewers, s.handleFeedbackStats)
		protected.GET("/feedback/negative", reviewers, s.handleListDisagreements)
		protected.GET("/feedback/negative/batches", reviewers, s.handleBatches)

		protected.POST("/versions", admins, s.handleCreateVersion)
		protected.GET("/versions", s.handleListVersions)
		protected.GET("/versions/active", s.handleActiveVersion)

		protected.POST("/training/runs", admins, s.handleStartTraining)
		protected.GET("/training/runs/:id", reviewers, s.handleGetRun)
		protected.GET("/training/runs/:id/events", reviewers, s.handleRunEvents)
		protected.GET("/training/runs/:id/ws", reviewers, s.handleRunSocket)
		protected.GET("/training/readiness", reviewers, s.handleReadiness)
		protected.GET("/training/events", reviewers, s.handleTrainingEvents)

		protected.POST("/predict", s.handlePredict)
		protected.POST("/ocr/extract", s.handleExtract)
	}
}

// handleHealth reports dependency health
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	checks := gin.H{}

	for name, check := range s.deps.Critical {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	for name, check := range s.deps.Optional {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			if code == http.StatusOK {
				status = "degraded"
			}
			continue
		}
		checks[name] = "ok"
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}
