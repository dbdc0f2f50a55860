package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/evolab/gactl/internal/history"
	"github.com/evolab/gactl/internal/metrics"
	"github.com/evolab/gactl/internal/model"
	"github.com/evolab/gactl/internal/store"
)

// Supervisor is the part of service.Supervisor the handlers use.
type Supervisor interface {
	Start(ctx context.Context, o model.Overrides) (model.RunConfig, error)
	Stop(ctx context.Context) error
	Status() model.Status
	Config() model.RunConfig
	UpdateConfig(ctx context.Context, o model.Overrides) (model.RunConfig, error)
	Reset(ctx context.Context) error
}

type Progress interface {
	Rows(since int) ([]model.ProgressRow, error)
	Watch() (*store.Watcher, error)
}

type RunLister interface {
	List(ctx context.Context, limit int) ([]history.Run, error)
}

// Server is the HTTP façade in front of the Supervisor.
type Server struct {
	sup      Supervisor
	progress Progress
	runs     RunLister
	metrics  *metrics.Metrics

	stopTimeout  time.Duration
	pollInterval time.Duration
	origins      []string
}

func New(sup Supervisor, progress Progress) *Server {
	return &Server{
		sup:          sup,
		progress:     progress,
		stopTimeout:  10 * time.Second,
		pollInterval: 300 * time.Millisecond,
		origins:      []string{"*"},
	}
}

// WithRuns enables GET /runs.
func (s *Server) WithRuns(runs RunLister) *Server {
	s.runs = runs
	return s
}

// WithMetrics enables GET /metrics and request instrumentation.
func (s *Server) WithMetrics(m *metrics.Metrics) *Server {
	s.metrics = m
	return s
}

// WithStopTimeout bounds how long POST /stop waits for the optimizer.
func (s *Server) WithStopTimeout(d time.Duration) *Server {
	s.stopTimeout = d
	return s
}

func (s *Server) WithPollInterval(d time.Duration) *Server {
	s.pollInterval = d
	return s
}

func (s *Server) WithOrigins(origins ...string) *Server {
	s.origins = origins
	return s
}

// Handler returns the gin engine with all routes registered.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors(s.origins))
	r.Use(requestLogger())
	if s.metrics != nil {
		r.Use(instrument(s.metrics))
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/functions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"functions": model.Functions()})
	})
	r.POST("/start", s.handleStart)
	r.POST("/stop", s.handleStop)
	r.POST("/reset", s.handleReset)
	r.GET("/status", s.handleStatus)
	r.GET("/config", s.handleGetConfig)
	r.PUT("/config", s.handlePutConfig)
	r.GET("/data", s.handleData)
	r.GET("/data/ws", s.handleStream)
	if s.runs != nil {
		r.GET("/runs", s.handleRuns)
	}
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != http.ErrServerClosed {
		return err
	}
	return nil
}
