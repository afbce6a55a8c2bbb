// Package server exposes the HTTP API: run submission, run history, live
// event streaming and artifact retrieval.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Samrat2803/cognitive-core/config"
	"github.com/Samrat2803/cognitive-core/internal/agent"
	"github.com/Samrat2803/cognitive-core/internal/agent/graph"
	"github.com/Samrat2803/cognitive-core/internal/stream"
	"github.com/Samrat2803/cognitive-core/internal/store"
	"github.com/Samrat2803/cognitive-core/internal/telemetry"
)

// RunHistory is the slice of the history store the API reads from.
type RunHistory interface {
	GetRun(ctx context.Context, runID string) (*agent.RunState, error)
	ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error)
	GetArtifact(ctx context.Context, artifactID string) (agent.Artifact, error)
}

// BlobFetcher resolves artifact storage references to their payloads.
type BlobFetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Server holds the API dependencies and the echo instance.
type Server struct {
	cfg        *config.Config
	e          *echo.Echo
	engine     *graph.Engine
	dispatcher *stream.Dispatcher
	history    RunHistory
	blobs      BlobFetcher
	logger     *log.Logger
}

// New wires the routes. history and blobs may be nil; the corresponding
// endpoints then answer 503.
func New(cfg *config.Config, engine *graph.Engine, dispatcher *stream.Dispatcher, history RunHistory, blobs BlobFetcher, tel *telemetry.Telemetry) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	httpLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		httpLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Last-Event-ID"},
	}))

	s := &Server{
		cfg:        cfg,
		e:          e,
		engine:     engine,
		dispatcher: dispatcher,
		history:    history,
		blobs:      blobs,
		logger:     httpLogger,
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if tel != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(tel.Registry(), promhttp.HandlerOpts{})))
	}

	api := e.Group("/api")
	api.POST("/runs", s.submitRun)
	api.GET("/runs", s.listRuns)
	api.GET("/runs/:run_id", s.getRun)
	api.GET("/runs/:run_id/events", s.streamEvents)
	api.DELETE("/runs/:run_id", s.cancelRun)
	api.GET("/artifacts/:artifact_id", s.getArtifact)

	return s
}

// Echo exposes the underlying instance for tests.
func (s *Server) Echo() *echo.Echo { return s.e }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := s.cfg.Server.Address
	if addr == "" {
		addr = ":10080"
	}
	s.logger.Printf("listening on %s", addr)
	return s.e.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}
