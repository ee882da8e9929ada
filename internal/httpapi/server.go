// Package httpapi exposes the Context Provisioning Interface over
// authenticated HTTP: session lifecycle, context disclosure, revocation,
// and signed audit export.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/ky13/synm/internal/audit"
	"github.com/ky13/synm/internal/config"
	"github.com/ky13/synm/internal/logging"
	"github.com/ky13/synm/internal/mediator"
	"github.com/ky13/synm/internal/session"
)

// Service is the mediation facade the HTTP layer fronts.
type Service interface {
	CreateSession(ctx context.Context, profileID string, ttl time.Duration) (*session.Session, error)
	GetContext(ctx context.Context, req mediator.ContextRequest) (*mediator.ContextResponse, error)
	Revoke(ctx context.Context, sessionID string) error
	ExportAudit(ctx context.Context, since, until time.Time) (*audit.ExportBundle, error)
}

// Server is the CPI HTTP server.
type Server struct {
	config  *config.Config
	echo    *echo.Echo
	service Service
	log     *logging.Logger
	metrics *apiMetrics
}

// HealthResponse is the JSON response for the /health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// NewServer wires routes, middleware, and metrics onto an Echo router.
func NewServer(cfg *config.Config, service Service, log *logging.Logger, meter metric.Meter) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	if cfg.Server.RateLimit > 0 {
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.Server.RateLimit),
				Burst:     cfg.Server.RateBurst,
				ExpiresIn: 3 * time.Minute,
			}),
		}))
	}

	m, err := newAPIMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("creating api metrics: %w", err)
	}

	s := &Server{
		config:  cfg,
		echo:    e,
		service: service,
		log:     log,
		metrics: m,
	}

	e.Use(s.requestLogger())
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1", s.bearerAuth(s.config.Auth.Token))
	v1.POST("/session", s.handleCreateSession)
	v1.POST("/context", s.handleGetContext)
	v1.POST("/revoke", s.handleRevoke)

	// Export lives outside the client group: it answers to the admin
	// token only.
	s.echo.POST("/v1/audit/export", s.handleAuditExport, s.bearerAuth(s.config.Auth.AdminToken))
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: s.config.Observability.ServiceName,
	})
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully within the configured timeout.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			time.Duration(s.config.Server.ShutdownTimeout),
		)
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo returns the underlying router, used by tests to drive handlers
// without a listening socket.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
