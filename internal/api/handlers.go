package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/evolab/gactl/internal/model"
)

type errorResponse struct {
	Error          string `json:"error"`
	Kind           string `json:"kind,omitempty"`
	Hint           string `json:"hint,omitempty"`
	CompileCommand string `json:"compile_command,omitempty"`
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrAlreadyRunning),
		errors.Is(err, model.ErrNotRunning),
		errors.Is(err, model.ErrConfigLocked):
		return http.StatusConflict
	case errors.Is(err, model.ErrExecutableNotFound),
		errors.Is(err, model.ErrInvalidConfig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	resp := errorResponse{
		Error: err.Error(),
		Kind:  model.Kind(err),
	}
	var merr *model.Error
	if errors.As(err, &merr) {
		resp.Hint = merr.Hint
		resp.CompileCommand = merr.Command
	}
	if s.metrics != nil {
		s.metrics.Rejected(resp.Kind)
	}
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, resp)
}

// bindOverrides reads optional Overrides from the body. An empty body means
// no overrides.
func bindOverrides(c *gin.Context) (model.Overrides, error) {
	var o model.Overrides
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return o, nil
	}
	err := c.ShouldBindJSON(&o)
	if err != nil && !errors.Is(err, io.EOF) {
		return o, &model.Error{Kind: model.ErrInvalidConfig, Detail: "malformed request body", Err: err}
	}
	return o, nil
}

func (s *Server) handleStart(c *gin.Context) {
	o, err := bindOverrides(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	cfg, err := s.sup.Start(c.Request.Context(), o)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started", "config": cfg})
}

func (s *Server) handleStop(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.stopTimeout)
	defer cancel()
	err := s.sup.Stop(ctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		// termination continues in background
		c.JSON(http.StatusAccepted, gin.H{"status": "stopping"})
	case err != nil:
		s.fail(c, err)
	default:
		c.JSON(http.StatusOK, gin.H{"status": "stopped"})
	}
}

func (s *Server) handleReset(c *gin.Context) {
	if err := s.sup.Reset(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.sup.Status())
}

func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.sup.Config())
}

func (s *Server) handlePutConfig(c *gin.Context) {
	o, err := bindOverrides(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	cfg, err := s.sup.UpdateConfig(c.Request.Context(), o)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non negative integer")
	}
	return n, nil
}

func (s *Server) handleData(c *gin.Context) {
	since, err := queryInt(c, "since", 0)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	rows, err := s.progress.Rows(since)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) handleRuns(c *gin.Context) {
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	runs, err := s.runs.List(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}
