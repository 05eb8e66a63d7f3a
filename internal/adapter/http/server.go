// Package http serves health probes, Prometheus metrics, and the nowcast
// query and administration API.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"github.com/couchcryptid/storm-nowcast-service/internal/registry"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TrainingJobs starts and reports asynchronous training jobs.
type TrainingJobs interface {
	Start(ctx context.Context, req domain.TrainingRequest) (domain.TrainingJob, error)
	Get(ctx context.Context, id string) (domain.TrainingJob, error)
	Latest(ctx context.Context) (domain.TrainingJob, error)
}

// Records reads stored predictions and warnings.
type Records interface {
	ActiveWarnings(ctx context.Context, since time.Time) ([]domain.WarningRecord, error)
	LatestPredictions(ctx context.Context, h domain.Horizon) ([]domain.PredictionRecord, error)
}

// CycleReporter exposes the most recent cycle run.
type CycleReporter interface {
	LastRun() (domain.CycleRun, bool)
}

// API groups the collaborators behind the HTTP routes.
type API struct {
	Ready    sharedobs.ReadinessChecker
	Models   func() []registry.EntryInfo
	Training TrainingJobs
	Records  Records
	Cycles   CycleReporter

	Horizons            []domain.Horizon
	ActiveWarningWindow time.Duration
}

// Server exposes the health, metrics, and API routes.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server. Routes:
//
//	GET  /healthz, /readyz, /metrics
//	GET  /api/v1/models
//	POST /api/v1/training
//	GET  /api/v1/training/latest, /api/v1/training/:id
//	GET  /api/v1/warnings/active
//	GET  /api/v1/nowcasts/:horizon
//	GET  /api/v1/cycles/last
func NewServer(addr string, api API, logger *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))

	s := &Server{
		echo: e,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      e,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	e.GET("/healthz", echo.WrapHandler(sharedobs.LivenessHandler()))
	e.GET("/readyz", echo.WrapHandler(sharedobs.ReadinessHandler(api.Ready)))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	h := &handlers{api: api, logger: logger}
	v1 := e.Group("/api/v1")
	v1.GET("/models", h.listModels)
	v1.POST("/training", h.startTraining)
	v1.GET("/training/latest", h.latestTraining)
	v1.GET("/training/:id", h.getTraining)
	v1.GET("/warnings/active", h.activeWarnings)
	v1.GET("/nowcasts/:horizon", h.nowcasts)
	v1.GET("/cycles/last", h.lastCycle)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the router, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			logger.Debug("http request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"duration", time.Since(start),
			)
			return nil
		}
	}
}
